package ctrfs

import (
	"log"
	"os"
	"sync"
)

// BlockReaderWriter is the capability DedupIndex and the metadata codec need
// from a block store. BlockDevice is the only production implementation;
// tests substitute an in-memory double instead of touching the filesystem.
type BlockReaderWriter interface {
	ReadBlock(index uint32) ([]byte, error)
	WriteBlock(index uint32, data []byte) error
	BlockSize() uint32
	TotalBlocks() uint32
}

// BlockDevice provides fixed-size block read/write over one host file.
// All operations are serialized by a device-level mutex: single-writer,
// single-reader at the device level, matching the Container-wide exclusion
// built on top of it.
type BlockDevice struct {
	mu          sync.Mutex
	path        string
	blockSize   uint32
	totalBlocks uint32
	f           *os.File
}

// initBlockDevice creates a new host file of totalBlocks*blockSize bytes,
// zero-filled. It fails if the file already exists and is non-empty.
func initBlockDevice(path string, blockSize, totalBlocks uint32) (*BlockDevice, error) {
	if fi, err := os.Stat(path); err == nil && fi.Size() != 0 {
		return nil, fErr(KindAlreadyExists, "ctrfs: %s already exists and is not empty", path)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fErr(KindHostIO, "ctrfs: create block device %s: %w", path, err)
	}
	size := int64(blockSize) * int64(totalBlocks)
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fErr(KindHostIO, "ctrfs: truncate block device %s: %w", path, err)
	}
	if err := syncFile(f); err != nil {
		f.Close()
		return nil, fErr(KindHostIO, "ctrfs: flush block device %s: %w", path, err)
	}
	log.Printf("ctrfs: initialized block device %s (%d blocks x %d bytes)", path, totalBlocks, blockSize)
	return &BlockDevice{path: path, blockSize: blockSize, totalBlocks: totalBlocks, f: f}, nil
}

func (d *BlockDevice) BlockSize() uint32   { return d.blockSize }
func (d *BlockDevice) TotalBlocks() uint32 { return d.totalBlocks }
func (d *BlockDevice) Path() string        { return d.path }

// ReadBlock returns exactly BlockSize() bytes at offset index*BlockSize().
func (d *BlockDevice) ReadBlock(index uint32) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index >= d.totalBlocks {
		return nil, fErr(KindInvalid, "ctrfs: %w: block %d (total %d)", ErrOutOfRange, index, d.totalBlocks)
	}
	buf := make([]byte, d.blockSize)
	if _, err := d.f.ReadAt(buf, int64(index)*int64(d.blockSize)); err != nil {
		return nil, fErr(KindHostIO, "ctrfs: read block %d: %w", index, err)
	}
	return buf, nil
}

// WriteBlock requires len(data) == BlockSize() and flushes before returning.
func (d *BlockDevice) WriteBlock(index uint32, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index >= d.totalBlocks {
		return fErr(KindInvalid, "ctrfs: %w: block %d (total %d)", ErrOutOfRange, index, d.totalBlocks)
	}
	if uint32(len(data)) != d.blockSize {
		return fErr(KindInvalid, "ctrfs: %w: got %d want %d", ErrSizeMismatch, len(data), d.blockSize)
	}
	if _, err := d.f.WriteAt(data, int64(index)*int64(d.blockSize)); err != nil {
		return fErr(KindHostIO, "ctrfs: write block %d: %w", index, err)
	}
	if err := syncFile(d.f); err != nil {
		return fErr(KindHostIO, "ctrfs: flush block %d: %w", index, err)
	}
	return nil
}

func (d *BlockDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}
