package ctrfs

import (
	"encoding/hex"
	"log"
)

type dedupBlockInfo struct {
	hash     string
	refcount int
}

// DedupIndex keeps byHash and byBlock consistent: content hash -> block
// index, and block index -> (hash, refcount). Put/Release are the only
// mutators; a block's refcount never goes negative, and it is removed from
// both maps (and returned to the allocator) the instant it reaches zero.
type DedupIndex struct {
	byHash  map[string]uint32
	byBlock map[uint32]*dedupBlockInfo
	hasher  Hasher
	alloc   *FreeBlockAllocator
	device  BlockReaderWriter
}

func newDedupIndex(hasher Hasher, alloc *FreeBlockAllocator, device BlockReaderWriter) *DedupIndex {
	return &DedupIndex{
		byHash:  map[string]uint32{},
		byBlock: map[uint32]*dedupBlockInfo{},
		hasher:  hasher,
		alloc:   alloc,
		device:  device,
	}
}

// Put hashes data; if a block with that hash already exists its refcount is
// incremented and its index returned. Otherwise a fresh block is allocated,
// data is written to it, and the index is returned with wasNew=true.
func (d *DedupIndex) Put(data []byte) (index uint32, wasNew bool, err error) {
	h := d.hasher.Sum(data)
	if idx, ok := d.byHash[h]; ok {
		d.byBlock[idx].refcount++
		return idx, false, nil
	}
	idx, err := d.alloc.Allocate()
	if err != nil {
		return 0, false, err
	}
	if err := d.device.WriteBlock(idx, data); err != nil {
		d.alloc.Free(idx)
		return 0, false, err
	}
	d.byHash[h] = idx
	d.byBlock[idx] = &dedupBlockInfo{hash: h, refcount: 1}
	return idx, true, nil
}

// Release decrements index's refcount, freeing the block once it reaches
// zero. Releasing an index the index never allocated is a programming error.
func (d *DedupIndex) Release(index uint32) error {
	info, ok := d.byBlock[index]
	if !ok {
		return fErr(KindInternal, "%w: block %d", ErrUnknownBlock, index)
	}
	info.refcount--
	if info.refcount <= 0 {
		delete(d.byHash, info.hash)
		delete(d.byBlock, index)
		d.alloc.Free(index)
	}
	return nil
}

func (d *DedupIndex) Refcount(index uint32) int {
	if info, ok := d.byBlock[index]; ok {
		return info.refcount
	}
	return 0
}

// Snapshot renders the index into its persisted form, hex-encoding the
// digest so it survives a JSON round trip.
func (d *DedupIndex) Snapshot() []dedupEntry {
	out := make([]dedupEntry, 0, len(d.byBlock))
	for idx, info := range d.byBlock {
		out = append(out, dedupEntry{
			Hash:     hex.EncodeToString([]byte(info.hash)),
			Block:    idx,
			Refcount: info.refcount,
		})
	}
	return out
}

func loadDedupIndex(entries []dedupEntry, hasher Hasher, alloc *FreeBlockAllocator, device BlockReaderWriter) (*DedupIndex, error) {
	d := newDedupIndex(hasher, alloc, device)
	for _, e := range entries {
		raw, err := hex.DecodeString(e.Hash)
		if err != nil {
			return nil, fErr(KindCorrupt, "%w: bad dedup hash %q", ErrCorruptMetadata, e.Hash)
		}
		d.byHash[string(raw)] = e.Block
		d.byBlock[e.Block] = &dedupBlockInfo{hash: string(raw), refcount: e.Refcount}
	}
	return d, nil
}

// dedupConsistent checks the invariant byBlock[i].refcount ==
// |{F : i in F.BlockIndices}| for every block any FileEntry references.
func dedupConsistent(d *DedupIndex, files map[string]*FileEntry) bool {
	want := map[uint32]int{}
	for _, f := range files {
		for _, idx := range f.BlockIndices {
			want[idx]++
		}
	}
	if len(want) != len(d.byBlock) {
		return false
	}
	for idx, cnt := range want {
		info, ok := d.byBlock[idx]
		if !ok || info.refcount != cnt {
			return false
		}
	}
	return true
}

// RebuildFrom reconstructs byHash/byBlock from persisted FileEntries by
// reading and rehashing every referenced block. This is the authoritative
// recovery procedure when persisted dedup state is missing or inconsistent,
// tolerating metadata rollback after a crash.
func (d *DedupIndex) RebuildFrom(files map[string]*FileEntry, device BlockReaderWriter) error {
	d.byHash = map[string]uint32{}
	d.byBlock = map[uint32]*dedupBlockInfo{}
	for _, f := range files {
		for _, idx := range f.BlockIndices {
			if info, ok := d.byBlock[idx]; ok {
				info.refcount++
				continue
			}
			buf, err := device.ReadBlock(idx)
			if err != nil {
				return fErr(KindCorrupt, "%w: rebuild read block %d: %v", ErrCorruptMetadata, idx, err)
			}
			h := d.hasher.Sum(buf)
			d.byHash[h] = idx
			d.byBlock[idx] = &dedupBlockInfo{hash: h, refcount: 1}
		}
	}
	log.Printf("ctrfs: dedup index rebuilt from %d files", len(files))
	return nil
}
