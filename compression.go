package ctrfs

import "fmt"

// Compression selects how the metadata chain's pages are encoded on disk.
// Data blocks are never compressed: DedupIndex hashes raw block content, and
// compressing before hashing would let two different payloads collide or,
// worse, let the same payload hash differently across containers.
type Compression uint8

const (
	NoCompression Compression = iota
	ZstdCompression
	XZCompression
)

func (c Compression) String() string {
	switch c {
	case NoCompression:
		return "None"
	case ZstdCompression:
		return "Zstd"
	case XZCompression:
		return "XZ"
	default:
		return fmt.Sprintf("Compression(%d)", c)
	}
}

type compHandler struct {
	compress   func([]byte) ([]byte, error)
	decompress func([]byte) ([]byte, error)
}

var compHandlers = map[Compression]*compHandler{}

func registerCompression(c Compression, h *compHandler) {
	compHandlers[c] = h
}

func compressPage(c Compression, buf []byte) ([]byte, error) {
	if c == NoCompression {
		return buf, nil
	}
	h, ok := compHandlers[c]
	if !ok {
		return nil, fmt.Errorf("ctrfs: unknown compression %s", c)
	}
	return h.compress(buf)
}

func decompressPage(c Compression, buf []byte) ([]byte, error) {
	if c == NoCompression {
		return buf, nil
	}
	h, ok := compHandlers[c]
	if !ok {
		return nil, fmt.Errorf("ctrfs: unknown compression %s", c)
	}
	return h.decompress(buf)
}
