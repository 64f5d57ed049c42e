package ctrfs

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
)

// Each metadata page occupies exactly one block: an 8-byte header (the
// next-page block index, then the chunk's true byte length so zero-padding
// at the tail of a page is never mistaken for payload) followed by a chunk
// of the encoded Metadata record, zero-padded to the block size.
const metadataPageHeaderSize = 8

// splitMetadataPayload compresses meta and slices it into page-sized chunks.
// Always returns at least one chunk, even for an empty record, so a
// container always has a real metadata chain once created.
func splitMetadataPayload(meta *Metadata, blockSize uint32, comp Compression) ([][]byte, error) {
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fErr(KindInternal, "ctrfs: marshal metadata: %w", err)
	}
	payload, err := compressPage(comp, raw)
	if err != nil {
		return nil, fErr(KindInternal, "ctrfs: compress metadata: %w", err)
	}
	chunkSize := int(blockSize) - metadataPageHeaderSize
	if chunkSize <= 0 {
		return nil, fErr(KindInvalid, "ctrfs: block size %d too small for a metadata page", blockSize)
	}
	var chunks [][]byte
	for off := 0; off < len(payload); off += chunkSize {
		end := off + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, payload[off:end])
	}
	if len(chunks) == 0 {
		chunks = [][]byte{{}}
	}
	return chunks, nil
}

// encodeMetadataPage packs one chunk plus the next-page pointer into a full,
// zero-padded block.
func encodeMetadataPage(chunk []byte, next uint32, blockSize uint32) ([]byte, error) {
	if metadataPageHeaderSize+len(chunk) > int(blockSize) {
		return nil, fErr(KindInvalid, "ctrfs: metadata chunk (%d bytes) overflows block (%d bytes)", len(chunk), blockSize)
	}
	b := make([]byte, blockSize)
	binary.LittleEndian.PutUint32(b[0:4], next)
	binary.LittleEndian.PutUint32(b[4:8], uint32(len(chunk)))
	copy(b[metadataPageHeaderSize:], chunk)
	return b, nil
}

func decodeMetadataPage(b []byte) (next uint32, chunk []byte, err error) {
	if len(b) < metadataPageHeaderSize {
		return 0, nil, fErr(KindCorrupt, "%w: truncated metadata page", ErrCorruptMetadata)
	}
	next = binary.LittleEndian.Uint32(b[0:4])
	n := binary.LittleEndian.Uint32(b[4:8])
	if int(n) > len(b)-metadataPageHeaderSize {
		return 0, nil, fErr(KindCorrupt, "%w: page length overflow", ErrCorruptMetadata)
	}
	chunk = b[metadataPageHeaderSize : metadataPageHeaderSize+int(n)]
	return next, chunk, nil
}

// collectChainBlocks walks a metadata chain from head, returning the block
// indices it occupies. Used to find the previous chain's pages so they can
// be freed after a rewrite swaps the Superblock's head pointer.
func collectChainBlocks(device BlockReaderWriter, head uint32) ([]uint32, error) {
	var blocks []uint32
	cur := head
	seen := map[uint32]bool{}
	for cur != sentinelBlock {
		if seen[cur] {
			return blocks, fErr(KindCorrupt, "%w: cyclic metadata chain at block %d", ErrCorruptMetadata, cur)
		}
		seen[cur] = true
		blocks = append(blocks, cur)
		b, err := device.ReadBlock(cur)
		if err != nil {
			return blocks, err
		}
		next, _, err := decodeMetadataPage(b)
		if err != nil {
			return blocks, err
		}
		cur = next
	}
	return blocks, nil
}

// decodeMetadataChain walks the chain from head, concatenates chunks in
// linked order, decompresses and parses the result.
func decodeMetadataChain(device BlockReaderWriter, head uint32, comp Compression) (*Metadata, error) {
	if head == sentinelBlock {
		return &Metadata{
			Files:       map[string]*FileEntry{},
			Directories: map[string]*DirectoryEntry{},
		}, nil
	}
	var payload bytes.Buffer
	cur := head
	seen := map[uint32]bool{}
	for cur != sentinelBlock {
		if seen[cur] {
			return nil, fErr(KindCorrupt, "%w: cyclic metadata chain at block %d", ErrCorruptMetadata, cur)
		}
		seen[cur] = true
		b, err := device.ReadBlock(cur)
		if err != nil {
			return nil, fErr(KindCorrupt, "%w: read page %d: %v", ErrCorruptMetadata, cur, err)
		}
		next, chunk, err := decodeMetadataPage(b)
		if err != nil {
			return nil, err
		}
		payload.Write(chunk)
		cur = next
	}
	raw, err := decompressPage(comp, payload.Bytes())
	if err != nil {
		return nil, fErr(KindCorrupt, "%w: decompress: %v", ErrCorruptMetadata, err)
	}
	meta := &Metadata{}
	if err := json.Unmarshal(raw, meta); err != nil {
		return nil, fErr(KindCorrupt, "%w: parse: %v", ErrCorruptMetadata, err)
	}
	if meta.Files == nil {
		meta.Files = map[string]*FileEntry{}
	}
	if meta.Directories == nil {
		meta.Directories = map[string]*DirectoryEntry{}
	}
	return meta, nil
}

// writeMetadataChain serializes meta and writes it over exactly as many
// pages as the (compressed) payload needs, returning the new head plus the
// full list of block indices the new chain occupies.
//
// reuse names the block indices the previous chain occupied. They are not
// part of alloc's free set (the caller hasn't freed them yet) and are reused
// in place as a starting point: when the new payload needs the same number
// of pages as before, which is the overwhelmingly common case, no block is
// allocated or freed at all. Growing the chain allocates the shortfall from
// alloc; shrinking it returns the surplus. This means a metadata rewrite
// that happens to keep the same page count survives a crash with the old
// content intact only up to the point each reused page is overwritten,
// trading strict copy-on-write atomicity for not needing a spare block on
// top of the one permanently reserved for metadata.
//
// meta.FreeBlocks is itself part of the encoded payload, and allocating or
// freeing chain pages changes the free set, which can change the payload
// size enough to need one more or fewer page. The loop below re-snapshots
// the allocator after each attempt and converges once the page count stops
// moving.
func writeMetadataChain(device BlockReaderWriter, alloc *FreeBlockAllocator, comp Compression, meta *Metadata, reuse []uint32) (uint32, []uint32, error) {
	blockSize := device.BlockSize()
	pageBlocks := append([]uint32(nil), reuse...)
	const maxAttempts = 8
	for attempt := 0; attempt < maxAttempts; attempt++ {
		meta.FreeBlocks = alloc.Snapshot()
		chunks, err := splitMetadataPayload(meta, blockSize, comp)
		if err != nil {
			rollbackMetadataPages(alloc, pageBlocks, reuse)
			return 0, nil, err
		}
		switch {
		case len(chunks) == len(pageBlocks):
			head, pages, err := finishMetadataChain(device, pageBlocks, chunks, blockSize)
			if err != nil {
				rollbackMetadataPages(alloc, pageBlocks, reuse)
				return 0, nil, err
			}
			return head, pages, nil
		case len(chunks) < len(pageBlocks):
			for _, b := range pageBlocks[len(chunks):] {
				alloc.Free(b)
			}
			pageBlocks = pageBlocks[:len(chunks)]
		default:
			for len(pageBlocks) < len(chunks) {
				b, err := alloc.Allocate()
				if err != nil {
					rollbackMetadataPages(alloc, pageBlocks, reuse)
					return 0, nil, err
				}
				pageBlocks = append(pageBlocks, b)
			}
		}
	}
	rollbackMetadataPages(alloc, pageBlocks, reuse)
	return 0, nil, fErr(KindInternal, "ctrfs: metadata chain page count did not converge")
}

// rollbackMetadataPages frees any page this attempt allocated beyond what it
// started from, on the failure path. Pages that came from reuse are left
// alone: they still belong to the chain the caller has not freed yet.
func rollbackMetadataPages(alloc *FreeBlockAllocator, pageBlocks, reuse []uint32) {
	reused := make(map[uint32]bool, len(reuse))
	for _, b := range reuse {
		reused[b] = true
	}
	for _, b := range pageBlocks {
		if !reused[b] {
			alloc.Free(b)
		}
	}
}

func finishMetadataChain(device BlockReaderWriter, pageBlocks []uint32, chunks [][]byte, blockSize uint32) (uint32, []uint32, error) {
	if len(pageBlocks) == 0 {
		return sentinelBlock, nil, nil
	}
	for i, b := range pageBlocks {
		next := sentinelBlock
		if i < len(pageBlocks)-1 {
			next = pageBlocks[i+1]
		}
		page, err := encodeMetadataPage(chunks[i], next, blockSize)
		if err != nil {
			return 0, nil, err
		}
		if err := device.WriteBlock(b, page); err != nil {
			return 0, nil, err
		}
	}
	return pageBlocks[0], pageBlocks, nil
}

func writeSuperblockToDevice(device BlockReaderWriter, sb *Superblock) error {
	buf, err := encodeSuperblock(sb, device.BlockSize())
	if err != nil {
		return err
	}
	return device.WriteBlock(0, buf)
}
