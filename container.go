// Package ctrfs implements a single-file block-addressable storage
// container: one host file carves into fixed-size blocks, presents a
// hierarchical file/directory namespace, and deduplicates identical block
// content across that namespace. A ContainerRegistry multiplexes several
// named containers in one process.
package ctrfs

import (
	"io"
	"log"
	"os"
	gopath "path"
	"sync"
)

type containerState uint8

const (
	stateUninitialized containerState = iota
	stateOpen
	stateClosed
)

// Container glues BlockDevice, Codec, FreeBlockAllocator, DedupIndex and
// Namespace together and exposes the file/directory operations. It
// exclusively owns all five for its lifetime; nothing is shared between
// Containers. Uninitialized -> Open -> Closed, one-way, Open is the only
// state accepting operations.
type Container struct {
	mu sync.RWMutex

	name   string
	device *BlockDevice
	sb     *Superblock
	ns     *Namespace
	alloc  *FreeBlockAllocator
	dedup  *DedupIndex

	compression Compression
	state       containerState
}

// createContainer initializes a brand new host file: zero-fills it, reserves
// block 0, and writes an empty metadata chain rooted at "/".
func createContainer(path string, totalBlocks, blockSize uint32, opts ...Option) (*Container, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	if blockSize < minBlockSize {
		return nil, fErr(KindInvalid, "ctrfs: block size %d below minimum %d", blockSize, minBlockSize)
	}
	if totalBlocks == 0 {
		return nil, fErr(KindInvalid, "ctrfs: total blocks must be positive")
	}

	device, err := initBlockDevice(path, blockSize, totalBlocks)
	if err != nil {
		return nil, err
	}

	alloc := newFreeBlockAllocator(rangeUint32(0, totalBlocks))
	alloc.Reserve(0)
	hasher := newHasher(cfg.hashAlgorithm)
	dedup := newDedupIndex(hasher, alloc, device)
	ns := newNamespace()

	sb := &Superblock{
		Magic:             superblockMagic,
		TotalBlocks:       totalBlocks,
		BlockSize:         blockSize,
		MetadataHeadBlock: sentinelBlock,
		Compression:       cfg.compression,
		HashAlgorithm:     cfg.hashAlgorithm,
	}

	c := &Container{
		device:      device,
		sb:          sb,
		ns:          ns,
		alloc:       alloc,
		dedup:       dedup,
		compression: cfg.compression,
		state:       stateOpen,
	}
	if err := c.persistMetadata(); err != nil {
		device.Close()
		return nil, err
	}
	log.Printf("ctrfs: created container at %s (%d blocks x %d bytes, hash=%s, compression=%s)",
		path, totalBlocks, blockSize, cfg.hashAlgorithm, cfg.compression)
	return c, nil
}

// openContainer re-opens an existing host file: validates the superblock
// magic, walks the metadata chain, and rebuilds the dedup index only if the
// persisted refcounts turn out to be inconsistent with the FileEntries.
func openContainer(path string, opts ...Option) (*Container, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fErr(KindNotFound, "%w: %s", ErrHostFileNotFound, path)
		}
		return nil, fErr(KindHostIO, "ctrfs: open %s: %w", path, err)
	}

	head := make([]byte, minBlockSize)
	if _, err := f.ReadAt(head, 0); err != nil {
		f.Close()
		return nil, fErr(KindHostIO, "ctrfs: read superblock: %w", err)
	}
	sb, err := decodeSuperblock(head)
	if err != nil {
		f.Close()
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fErr(KindHostIO, "ctrfs: stat %s: %w", path, err)
	}
	if fi.Size() != int64(sb.BlockSize)*int64(sb.TotalBlocks) {
		f.Close()
		return nil, fErr(KindCorrupt, "%w: file size does not match superblock", ErrCorruptSuperblock)
	}

	device := &BlockDevice{path: path, blockSize: sb.BlockSize, totalBlocks: sb.TotalBlocks, f: f}

	meta, err := decodeMetadataChain(device, sb.MetadataHeadBlock, sb.Compression)
	if err != nil {
		device.Close()
		return nil, err
	}

	alloc := newFreeBlockAllocator(meta.FreeBlocks)
	hasher := newHasher(sb.HashAlgorithm)
	dedup, err := loadDedupIndex(meta.Dedup, hasher, alloc, device)
	if err != nil {
		device.Close()
		return nil, err
	}
	if !dedupConsistent(dedup, meta.Files) {
		log.Printf("ctrfs: dedup index inconsistent on open of %s, rebuilding", path)
		if err := dedup.RebuildFrom(meta.Files, device); err != nil {
			device.Close()
			return nil, err
		}
	}

	ns := &Namespace{
		files:            meta.Files,
		directories:      meta.Directories,
		currentDirectory: meta.CurrentDirectory,
	}
	if ns.currentDirectory == "" {
		ns.currentDirectory = "/"
	}
	if _, ok := ns.directories[normKey("/")]; !ok {
		device.Close()
		return nil, fErr(KindCorrupt, "%w: missing root directory", ErrCorruptMetadata)
	}

	c := &Container{
		device:      device,
		sb:          sb,
		ns:          ns,
		alloc:       alloc,
		dedup:       dedup,
		compression: sb.Compression,
		state:       stateOpen,
	}
	log.Printf("ctrfs: opened container at %s (%d blocks x %d bytes)", path, sb.TotalBlocks, sb.BlockSize)
	return c, nil
}

func containsBlock(blocks []uint32, target uint32) bool {
	for _, b := range blocks {
		if b == target {
			return true
		}
	}
	return false
}

func rangeUint32(from, to uint32) []uint32 {
	out := make([]uint32, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}

func (c *Container) requireOpen() error {
	switch c.state {
	case stateOpen:
		return nil
	case stateClosed:
		return fErr(KindInvalid, "%w", ErrClosed)
	default:
		return fErr(KindInvalid, "%w", ErrNotInitialized)
	}
}

// buildMetadataSnapshot assembles the Metadata document that will be
// persisted; FreeBlocks is filled in by writeMetadataChain itself, since it
// changes as chain pages are (de)allocated.
func (c *Container) buildMetadataSnapshot() *Metadata {
	return &Metadata{
		Files:            c.ns.files,
		Directories:      c.ns.directories,
		CurrentDirectory: c.ns.currentDirectory,
		Dedup:            c.dedup.Snapshot(),
	}
}

// persistMetadata rewrites the metadata chain (reusing its existing pages
// where the page count allows), swaps the Superblock's head pointer, then
// frees whatever old pages the rewrite didn't reuse. The swap is the
// linearization point; a crash before it leaves the previous chain intact
// except for pages it shared with the new one, a crash after it at worst
// leaks pages.
func (c *Container) persistMetadata() error {
	oldHead := c.sb.MetadataHeadBlock
	oldPages, _ := collectChainBlocks(c.device, oldHead)

	meta := c.buildMetadataSnapshot()
	newHead, newPages, err := writeMetadataChain(c.device, c.alloc, c.compression, meta, oldPages)
	if err != nil {
		return err
	}

	newSet := make(map[uint32]bool, len(newPages))
	for _, p := range newPages {
		newSet[p] = true
	}

	c.sb.MetadataHeadBlock = newHead
	if err := writeSuperblockToDevice(c.device, c.sb); err != nil {
		// the new pages are already durable; free whichever of them weren't
		// reused from the old chain, then report the previous head as still
		// current.
		for _, p := range newPages {
			if !containsBlock(oldPages, p) {
				c.alloc.Free(p)
			}
		}
		c.sb.MetadataHeadBlock = oldHead
		return err
	}

	for _, p := range oldPages {
		if !newSet[p] {
			c.alloc.Free(p)
		}
	}
	return nil
}

func (c *Container) releaseBlocks(indices []uint32) {
	for _, idx := range indices {
		if err := c.dedup.Release(idx); err != nil {
			log.Printf("ctrfs: release block %d: %s", idx, err)
		}
	}
}

func (c *Container) writeChunks(data []byte, blockSize int) ([]uint32, error) {
	var indices []uint32
	for off := 0; off < len(data); off += blockSize {
		end := off + blockSize
		chunk := make([]byte, blockSize)
		if end > len(data) {
			copy(chunk, data[off:])
		} else {
			copy(chunk, data[off:end])
		}
		idx, _, err := c.dedup.Put(chunk)
		if err != nil {
			c.releaseBlocks(indices)
			return nil, err
		}
		indices = append(indices, idx)
	}
	return indices, nil
}

// CreateFile slices data into block-sized, zero-padded chunks, dedups each
// through DedupIndex, builds a FileEntry with the block order preserved, and
// persists the namespace change before returning.
func (c *Container) CreateFile(path string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireOpen(); err != nil {
		return err
	}
	full, err := c.ns.resolve(path)
	if err != nil {
		return err
	}
	key := normKey(full)
	if _, ok := c.ns.files[key]; ok {
		return fErr(KindAlreadyExists, "%w: %s", ErrFileExists, full)
	}
	if _, ok := c.ns.directories[key]; ok {
		return fErr(KindAlreadyExists, "%w: %s", ErrFileExists, full)
	}

	indices, err := c.writeChunks(data, int(c.device.BlockSize()))
	if err != nil {
		return err
	}
	entry := &FileEntry{Name: gopath.Base(full), Path: full, Size: int64(len(data)), BlockIndices: indices}
	if err := c.ns.AddFile(entry); err != nil {
		c.releaseBlocks(indices)
		return err
	}
	if err := c.persistMetadata(); err != nil {
		c.ns.RemoveFile(full)
		c.releaseBlocks(indices)
		return err
	}
	return nil
}

// ReadFile concatenates a file's blocks and truncates to its true size,
// undoing the zero-padding of the last chunk.
func (c *Container) ReadFile(path string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.requireOpen(); err != nil {
		return nil, err
	}
	entry, err := c.ns.GetFile(path)
	if err != nil {
		return nil, err
	}
	blockSize := int(c.device.BlockSize())
	buf := make([]byte, 0, len(entry.BlockIndices)*blockSize)
	for _, idx := range entry.BlockIndices {
		b, err := c.device.ReadBlock(idx)
		if err != nil {
			return nil, err
		}
		buf = append(buf, b...)
	}
	if int64(len(buf)) < entry.Size {
		return nil, fErr(KindCorrupt, "ctrfs: file %s truncated on disk", entry.Path)
	}
	return buf[:entry.Size], nil
}

// DeleteFile removes the namespace entry, persists that removal, and only
// then releases its blocks: a HostIO failure on persist leaves both disk and
// dedup state representing the pre-delete container. After the release the
// metadata is persisted once more, so the on-disk free set and refcounts
// include the released blocks.
func (c *Container) DeleteFile(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireOpen(); err != nil {
		return err
	}
	full, err := c.ns.resolve(path)
	if err != nil {
		return err
	}
	entry, err := c.ns.RemoveFile(full)
	if err != nil {
		return err
	}
	if err := c.persistMetadata(); err != nil {
		c.ns.AddFile(entry)
		return err
	}
	c.releaseBlocks(entry.BlockIndices)
	return c.persistMetadata()
}

// CopyIn streams a host file into the container in block-sized chunks,
// deduplicating each one as it's read, and builds a single FileEntry
// carrying the complete block list.
func (c *Container) CopyIn(hostPath, name string) error {
	f, err := os.Open(hostPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fErr(KindNotFound, "%w: %s", ErrHostFileNotFound, hostPath)
		}
		return fErr(KindHostIO, "ctrfs: open host file %s: %w", hostPath, err)
	}
	defer f.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireOpen(); err != nil {
		return err
	}
	full, err := c.ns.resolve(name)
	if err != nil {
		return err
	}
	key := normKey(full)
	if _, ok := c.ns.files[key]; ok {
		return fErr(KindAlreadyExists, "%w: %s", ErrFileExists, full)
	}
	if _, ok := c.ns.directories[key]; ok {
		return fErr(KindAlreadyExists, "%w: %s", ErrFileExists, full)
	}

	blockSize := int(c.device.BlockSize())
	chunk := make([]byte, blockSize)
	var indices []uint32
	var size int64
	for {
		n, rerr := io.ReadFull(f, chunk)
		if n > 0 {
			buf := chunk
			if n < blockSize {
				buf = make([]byte, blockSize)
				copy(buf, chunk[:n])
			}
			idx, _, err := c.dedup.Put(buf)
			if err != nil {
				c.releaseBlocks(indices)
				return err
			}
			indices = append(indices, idx)
			size += int64(n)
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			c.releaseBlocks(indices)
			return fErr(KindHostIO, "ctrfs: read host file %s: %w", hostPath, rerr)
		}
	}

	entry := &FileEntry{Name: gopath.Base(full), Path: full, Size: size, BlockIndices: indices}
	if err := c.ns.AddFile(entry); err != nil {
		c.releaseBlocks(indices)
		return err
	}
	if err := c.persistMetadata(); err != nil {
		c.ns.RemoveFile(full)
		c.releaseBlocks(indices)
		return err
	}
	return nil
}

// CopyOut writes a container file's bytes to a host path.
func (c *Container) CopyOut(name, hostPath string) error {
	data, err := c.ReadFile(name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(hostPath, data, 0o644); err != nil {
		return fErr(KindHostIO, "ctrfs: write host file %s: %w", hostPath, err)
	}
	return nil
}

// MakeDirectory creates name under parentPath (resolved against cwd).
func (c *Container) MakeDirectory(name, parentPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireOpen(); err != nil {
		return err
	}
	full, err := c.ns.resolve(parentPath)
	if err != nil {
		return err
	}
	if _, err := c.ns.MakeDirectory(name, full); err != nil {
		return err
	}
	if err := c.persistMetadata(); err != nil {
		c.ns.RemoveDirectory(name, full)
		return err
	}
	return nil
}

// RemoveDirectory removes name under parentPath; it must be empty.
func (c *Container) RemoveDirectory(name, parentPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireOpen(); err != nil {
		return err
	}
	full, err := c.ns.resolve(parentPath)
	if err != nil {
		return err
	}
	if err := c.ns.RemoveDirectory(name, full); err != nil {
		return err
	}
	if err := c.persistMetadata(); err != nil {
		c.ns.MakeDirectory(name, full)
		return err
	}
	return nil
}

// ChangeDirectory sets the container's current directory.
func (c *Container) ChangeDirectory(target string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireOpen(); err != nil {
		return err
	}
	prev := c.ns.currentDirectory
	if err := c.ns.ChangeDirectory(target); err != nil {
		return err
	}
	if err := c.persistMetadata(); err != nil {
		c.ns.currentDirectory = prev
		return err
	}
	return nil
}

// ListDirectories returns the immediate child directory names of path.
func (c *Container) ListDirectories(path string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.requireOpen(); err != nil {
		return nil, err
	}
	dirs, _, err := c.ns.ListDirectoryChildren(path)
	return dirs, err
}

// ListFiles returns the immediate child file names of path.
func (c *Container) ListFiles(path string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.requireOpen(); err != nil {
		return nil, err
	}
	_, files, err := c.ns.ListDirectoryChildren(path)
	return files, err
}

// GetCurrentDirectory returns the container's current directory.
func (c *Container) GetCurrentDirectory() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ns.currentDirectory
}

// BasicHealthCheck reports whether the metadata and device are accessible.
// Richer checks belong to the transport layer that embeds this core.
func (c *Container) BasicHealthCheck() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != stateOpen {
		return false
	}
	if _, err := c.device.ReadBlock(0); err != nil {
		return false
	}
	if c.sb.MetadataHeadBlock != sentinelBlock {
		if _, err := c.device.ReadBlock(c.sb.MetadataHeadBlock); err != nil {
			return false
		}
	}
	return true
}

// Name returns the name this container was registered under, if any.
func (c *Container) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// Close transitions Open -> Closed, releasing the underlying file handle.
// It is one-way; a closed Container accepts no further operations.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateOpen {
		return nil
	}
	c.state = stateClosed
	return c.device.Close()
}
