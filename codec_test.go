package ctrfs

import (
	"path/filepath"
	"testing"
)

func TestSuperblockMarshalRoundtrip(t *testing.T) {
	sb := &Superblock{
		Magic:             superblockMagic,
		TotalBlocks:       1024,
		BlockSize:         4096,
		MetadataHeadBlock: 7,
		Compression:       ZstdCompression,
		HashAlgorithm:     XXHash,
	}
	buf, err := encodeSuperblock(sb, 4096)
	if err != nil {
		t.Fatalf("encodeSuperblock: %v", err)
	}
	if len(buf) != 4096 {
		t.Fatalf("encodeSuperblock() len = %d, want 4096", len(buf))
	}
	got, err := decodeSuperblock(buf)
	if err != nil {
		t.Fatalf("decodeSuperblock: %v", err)
	}
	if *got != *sb {
		t.Fatalf("decodeSuperblock() = %+v, want %+v", got, sb)
	}
}

func TestDecodeSuperblockBadMagic(t *testing.T) {
	buf := make([]byte, 4096)
	if _, err := decodeSuperblock(buf); ErrorKind(err) != KindCorrupt {
		t.Fatalf("decodeSuperblock(zeroes): got kind %v, want Corrupt", ErrorKind(err))
	}
}

func TestMetadataChainWriteAndDecodeRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dev.bin")
	device, err := initBlockDevice(path, 256, 64)
	if err != nil {
		t.Fatalf("initBlockDevice: %v", err)
	}
	defer device.Close()

	alloc := newFreeBlockAllocator(rangeUint32(1, 64))
	meta := &Metadata{
		Files: map[string]*FileEntry{
			normKey("/a"): {Name: "a", Path: "/a", Size: 3, BlockIndices: []uint32{1}},
		},
		Directories:      map[string]*DirectoryEntry{normKey("/"): {Name: "/", Path: "/", ChildDirs: map[string]bool{}, ChildFiles: map[string]bool{"/a": true}}},
		CurrentDirectory: "/",
	}

	head, pages, err := writeMetadataChain(device, alloc, NoCompression, meta, nil)
	if err != nil {
		t.Fatalf("writeMetadataChain: %v", err)
	}
	if len(pages) == 0 {
		t.Fatalf("writeMetadataChain() produced no pages")
	}

	got, err := decodeMetadataChain(device, head, NoCompression)
	if err != nil {
		t.Fatalf("decodeMetadataChain: %v", err)
	}
	entry, ok := got.Files[normKey("/a")]
	if !ok || entry.Size != 3 {
		t.Fatalf("decoded metadata missing /a, got %+v", got.Files)
	}
}

func TestMetadataChainLargePayloadSpansPages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dev.bin")
	device, err := initBlockDevice(path, 128, 512)
	if err != nil {
		t.Fatalf("initBlockDevice: %v", err)
	}
	defer device.Close()

	alloc := newFreeBlockAllocator(rangeUint32(1, 512))
	files := map[string]*FileEntry{}
	for i := 0; i < 50; i++ {
		name := "/file" + string(rune('a'+i%26)) + string(rune('0'+i/26))
		files[normKey(name)] = &FileEntry{Name: name, Path: name, Size: 1, BlockIndices: []uint32{uint32(i + 1)}}
	}
	meta := &Metadata{Files: files, Directories: map[string]*DirectoryEntry{normKey("/"): {Name: "/", Path: "/", ChildDirs: map[string]bool{}, ChildFiles: map[string]bool{}}}, CurrentDirectory: "/"}

	head, pages, err := writeMetadataChain(device, alloc, NoCompression, meta, nil)
	if err != nil {
		t.Fatalf("writeMetadataChain: %v", err)
	}
	if len(pages) < 2 {
		t.Fatalf("expected metadata to span multiple pages, got %d", len(pages))
	}

	got, err := decodeMetadataChain(device, head, NoCompression)
	if err != nil {
		t.Fatalf("decodeMetadataChain: %v", err)
	}
	if len(got.Files) != 50 {
		t.Fatalf("decoded %d files, want 50", len(got.Files))
	}
}

func TestWriteMetadataChainReusesPagesInPlace(t *testing.T) {
	device := newMockDevice(4096, 16)
	alloc := newFreeBlockAllocator(rangeUint32(1, 16))

	meta := &Metadata{
		Files:            map[string]*FileEntry{normKey("/a"): {Name: "a", Path: "/a", Size: 1, BlockIndices: []uint32{5}}},
		Directories:      map[string]*DirectoryEntry{normKey("/"): {Name: "/", Path: "/", ChildDirs: map[string]bool{}, ChildFiles: map[string]bool{"/a": true}}},
		CurrentDirectory: "/",
	}
	head1, pages1, err := writeMetadataChain(device, alloc, NoCompression, meta, nil)
	if err != nil {
		t.Fatalf("writeMetadataChain (initial): %v", err)
	}
	freeAfterFirst := alloc.Len()

	// A second file entry, still small enough to fit in the same one page.
	meta.Files[normKey("/b")] = &FileEntry{Name: "b", Path: "/b", Size: 1, BlockIndices: []uint32{6}}
	head2, pages2, err := writeMetadataChain(device, alloc, NoCompression, meta, pages1)
	if err != nil {
		t.Fatalf("writeMetadataChain (reuse): %v", err)
	}
	if head2 != head1 {
		t.Fatalf("head changed from %d to %d despite unchanged page count", head1, head2)
	}
	if len(pages2) != len(pages1) {
		t.Fatalf("page count changed: %d -> %d", len(pages1), len(pages2))
	}
	if alloc.Len() != freeAfterFirst {
		t.Fatalf("alloc.Len() = %d, want unchanged %d: reuse should not consume a spare block", alloc.Len(), freeAfterFirst)
	}

	got, err := decodeMetadataChain(device, head2, NoCompression)
	if err != nil {
		t.Fatalf("decodeMetadataChain: %v", err)
	}
	if len(got.Files) != 2 {
		t.Fatalf("decoded %d files, want 2", len(got.Files))
	}
}

func TestWriteMetadataChainRollsBackOnWriteFailure(t *testing.T) {
	device := newMockDevice(4096, 16)
	device.failWrite[1] = true
	alloc := newFreeBlockAllocator(rangeUint32(1, 16))
	meta := &Metadata{Files: map[string]*FileEntry{}, Directories: map[string]*DirectoryEntry{normKey("/"): {Name: "/", Path: "/", ChildDirs: map[string]bool{}, ChildFiles: map[string]bool{}}}}

	before := alloc.Len()
	if _, _, err := writeMetadataChain(device, alloc, NoCompression, meta, nil); ErrorKind(err) != KindHostIO {
		t.Fatalf("writeMetadataChain with failing write: got kind %v, want HostIO", ErrorKind(err))
	}
	if alloc.Len() != before {
		t.Fatalf("alloc.Len() = %d, want %d: failed write should not leak the allocated page", alloc.Len(), before)
	}
}

func TestCollectChainBlocksDetectsCycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dev.bin")
	device, err := initBlockDevice(path, 64, 8)
	if err != nil {
		t.Fatalf("initBlockDevice: %v", err)
	}
	defer device.Close()

	page, err := encodeMetadataPage([]byte("x"), 1, 64)
	if err != nil {
		t.Fatalf("encodeMetadataPage: %v", err)
	}
	if err := device.WriteBlock(1, page); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	if _, err := collectChainBlocks(device, 1); ErrorKind(err) != KindCorrupt {
		t.Fatalf("collectChainBlocks on self-cycle: got kind %v, want Corrupt", ErrorKind(err))
	}
}
