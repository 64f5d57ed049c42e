package ctrfs

import "testing"

func TestFreeBlockAllocatorSmallestFirst(t *testing.T) {
	a := newFreeBlockAllocator([]uint32{5, 1, 3})
	got, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if got != 1 {
		t.Fatalf("Allocate() = %d, want 1 (smallest first)", got)
	}
	got, err = a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if got != 3 {
		t.Fatalf("Allocate() = %d, want 3", got)
	}
}

func TestFreeBlockAllocatorOutOfSpace(t *testing.T) {
	a := newFreeBlockAllocator(nil)
	if _, err := a.Allocate(); ErrorKind(err) != KindOutOfSpace {
		t.Fatalf("Allocate() on empty allocator: got kind %v, want OutOfSpace", ErrorKind(err))
	}
}

func TestFreeBlockAllocatorFreeRestoresOrder(t *testing.T) {
	a := newFreeBlockAllocator([]uint32{0, 2})
	a.Free(1)
	snap := a.Snapshot()
	want := []uint32{0, 1, 2}
	if len(snap) != len(want) {
		t.Fatalf("Snapshot() = %v, want %v", snap, want)
	}
	for i := range want {
		if snap[i] != want[i] {
			t.Fatalf("Snapshot() = %v, want %v", snap, want)
		}
	}
}

func TestFreeBlockAllocatorDoubleFreeIsNoop(t *testing.T) {
	a := newFreeBlockAllocator([]uint32{0})
	a.Free(0) // already free
	if a.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after double free", a.Len())
	}
}

func TestFreeBlockAllocatorReserve(t *testing.T) {
	a := newFreeBlockAllocator([]uint32{0, 1, 2})
	a.Reserve(1)
	if a.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 after reserving one block", a.Len())
	}
	for _, idx := range a.Snapshot() {
		if idx == 1 {
			t.Fatalf("Snapshot() still contains reserved block 1")
		}
	}
}
