package ctrfs

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// HashAlgorithm selects the digest used by the DedupIndex to key blocks by
// content. Recorded in the Superblock so a reopen keeps using the same
// function a container was created with.
type HashAlgorithm uint8

const (
	SHA256Hash HashAlgorithm = iota
	XXHash
)

func (h HashAlgorithm) String() string {
	switch h {
	case SHA256Hash:
		return "SHA256"
	case XXHash:
		return "XXHash"
	default:
		return fmt.Sprintf("HashAlgorithm(%d)", h)
	}
}

// Hasher is the one-method capability the DedupIndex needs: a strong digest
// by default, swappable for a faster non-cryptographic one when block
// content is already externally authenticated.
type Hasher interface {
	Sum(data []byte) string
}

type sha256Hasher struct{}

func (sha256Hasher) Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return string(sum[:])
}

type xxHasher struct{}

func (xxHasher) Sum(data []byte) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], xxhash.Sum64(data))
	return string(buf[:])
}

func newHasher(alg HashAlgorithm) Hasher {
	if alg == XXHash {
		return xxHasher{}
	}
	return sha256Hasher{}
}
