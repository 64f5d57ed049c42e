package ctrfs

import "time"

// FileEntry is created on write, mutated only by replacement, destroyed on
// delete. BlockIndices may be shared with other FileEntries: that sharing is
// the deduplication.
type FileEntry struct {
	Name         string   `json:"name"`
	Path         string   `json:"path"`
	Size         int64    `json:"size"`
	BlockIndices []uint32 `json:"blockIndices"`
}

// DirectoryEntry's child sets hold full canonical paths, not pointers, so
// parent/child relationships never form reference cycles; a child lookup
// always goes back through Namespace's directory/file tables.
type DirectoryEntry struct {
	Name       string          `json:"name"`
	Path       string          `json:"path"`
	ChildDirs  map[string]bool `json:"childDirs"`
	ChildFiles map[string]bool `json:"childFiles"`
	CreatedAt  time.Time       `json:"createdAt"`
	ModifiedAt time.Time       `json:"modifiedAt"`
}

// dedupEntry is the persisted form of one DedupIndex.byBlock record. Hash is
// hex-encoded: JSON strings must be valid UTF-8 and a raw digest generally
// isn't, so the wire form goes through hex while the in-memory index keys
// byHash directly on the raw digest bytes.
type dedupEntry struct {
	Hash     string `json:"hash"`
	Block    uint32 `json:"block"`
	Refcount int    `json:"refcount"`
}

// Metadata is the logical document persisted through the metadata chain:
// files, directories, the current directory, the free-block set and the
// dedup index, all as of the last successful mutating operation.
type Metadata struct {
	Files            map[string]*FileEntry      `json:"files"`
	Directories      map[string]*DirectoryEntry `json:"directories"`
	CurrentDirectory string                     `json:"currentDirectory"`
	FreeBlocks       []uint32                   `json:"freeBlocks"`
	Dedup            []dedupEntry               `json:"dedup"`
}
