package ctrfs

import (
	"bytes"
	"encoding/binary"
	"reflect"
)

const superblockMagic uint32 = 0x43545246 // "CTRF"

// sentinelBlock marks "no block" both for an empty metadata chain's head
// and for the last page's next-pointer in the chain.
const sentinelBlock uint32 = 0xffffffff

const minBlockSize = 512
const defaultBlockSize = 4096

// Superblock carries the invariant parameters of a container, written to
// block 0. Magic, TotalBlocks and BlockSize are immutable once created;
// MetadataHeadBlock is the only field a running container rewrites.
type Superblock struct {
	Magic             uint32
	TotalBlocks       uint32
	BlockSize         uint32
	MetadataHeadBlock uint32
	Compression       Compression
	HashAlgorithm     HashAlgorithm
}

func (s *Superblock) binarySize() int {
	v := reflect.ValueOf(s).Elem()
	var sz uintptr
	for i := 0; i < v.NumField(); i++ {
		sz += v.Field(i).Type().Size()
	}
	return int(sz)
}

// MarshalBinary packs fields in declaration order, little-endian.
func (s *Superblock) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	v := reflect.ValueOf(s).Elem()
	for i := 0; i < v.NumField(); i++ {
		if err := binary.Write(buf, binary.LittleEndian, v.Field(i).Interface()); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary is the inverse of MarshalBinary and validates Magic.
func (s *Superblock) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	v := reflect.ValueOf(s).Elem()
	for i := 0; i < v.NumField(); i++ {
		if err := binary.Read(r, binary.LittleEndian, v.Field(i).Addr().Interface()); err != nil {
			return fErr(KindCorrupt, "%w: %v", ErrCorruptSuperblock, err)
		}
	}
	if s.Magic != superblockMagic {
		return fErr(KindCorrupt, "%w: magic mismatch: got 0x%x want 0x%x", ErrCorruptSuperblock, s.Magic, superblockMagic)
	}
	return nil
}

// encodeSuperblock renders sb into exactly blockSize bytes, zero-padded.
func encodeSuperblock(sb *Superblock, blockSize uint32) ([]byte, error) {
	raw, err := sb.MarshalBinary()
	if err != nil {
		return nil, fErr(KindInternal, "ctrfs: marshal superblock: %w", err)
	}
	if uint32(len(raw)) > blockSize {
		return nil, fErr(KindInvalid, "ctrfs: superblock (%d bytes) larger than block size (%d)", len(raw), blockSize)
	}
	buf := make([]byte, blockSize)
	copy(buf, raw)
	return buf, nil
}

// decodeSuperblock strips zero-padding implicitly by only reading the fixed
// binary prefix, and validates the magic sentinel.
func decodeSuperblock(buf []byte) (*Superblock, error) {
	sb := &Superblock{}
	sz := sb.binarySize()
	if len(buf) < sz {
		return nil, fErr(KindCorrupt, "%w: truncated superblock", ErrCorruptSuperblock)
	}
	if err := sb.UnmarshalBinary(buf[:sz]); err != nil {
		return nil, err
	}
	return sb, nil
}
