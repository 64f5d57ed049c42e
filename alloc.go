package ctrfs

import (
	"log"
	"sort"
)

// FreeBlockAllocator maintains the set of free block indices as an ordered
// sequence. Not thread-safe on its own; serialized by the owning Container.
type FreeBlockAllocator struct {
	free []uint32 // kept sorted ascending
}

func newFreeBlockAllocator(free []uint32) *FreeBlockAllocator {
	out := append([]uint32(nil), free...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return &FreeBlockAllocator{free: out}
}

// Allocate removes and returns the numerically smallest free index, a
// deterministic tie-break useful for tests.
func (a *FreeBlockAllocator) Allocate() (uint32, error) {
	if len(a.free) == 0 {
		return 0, fErr(KindOutOfSpace, "%w", ErrOutOfSpace)
	}
	idx := a.free[0]
	a.free = a.free[1:]
	return idx, nil
}

// Free adds index back to the free set. A double-free is a no-op, logged,
// not an error.
func (a *FreeBlockAllocator) Free(index uint32) {
	pos := sort.Search(len(a.free), func(i int) bool { return a.free[i] >= index })
	if pos < len(a.free) && a.free[pos] == index {
		log.Printf("ctrfs: double free of block %d ignored", index)
		return
	}
	a.free = append(a.free, 0)
	copy(a.free[pos+1:], a.free[pos:])
	a.free[pos] = index
}

// Reserve marks indices as not free, used at container creation to carve out
// block 0 before any metadata pages are allocated.
func (a *FreeBlockAllocator) Reserve(indices ...uint32) {
	for _, idx := range indices {
		pos := sort.Search(len(a.free), func(i int) bool { return a.free[i] >= idx })
		if pos < len(a.free) && a.free[pos] == idx {
			a.free = append(a.free[:pos], a.free[pos+1:]...)
		}
	}
}

func (a *FreeBlockAllocator) Len() int { return len(a.free) }

func (a *FreeBlockAllocator) Snapshot() []uint32 {
	return append([]uint32(nil), a.free...)
}
