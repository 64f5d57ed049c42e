package ctrfs

import "sync"

// mockDevice is an in-memory BlockReaderWriter double, so codec/dedup logic
// can be exercised without touching the filesystem.
type mockDevice struct {
	mu          sync.Mutex
	blockSize   uint32
	totalBlocks uint32
	blocks      map[uint32][]byte
	failWrite   map[uint32]bool
}

func newMockDevice(blockSize, totalBlocks uint32) *mockDevice {
	return &mockDevice{blockSize: blockSize, totalBlocks: totalBlocks, blocks: map[uint32][]byte{}, failWrite: map[uint32]bool{}}
}

func (m *mockDevice) BlockSize() uint32   { return m.blockSize }
func (m *mockDevice) TotalBlocks() uint32 { return m.totalBlocks }

func (m *mockDevice) ReadBlock(index uint32) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index >= m.totalBlocks {
		return nil, fErr(KindInvalid, "%w: block %d", ErrOutOfRange, index)
	}
	b, ok := m.blocks[index]
	if !ok {
		return make([]byte, m.blockSize), nil
	}
	out := make([]byte, m.blockSize)
	copy(out, b)
	return out, nil
}

func (m *mockDevice) WriteBlock(index uint32, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index >= m.totalBlocks {
		return fErr(KindInvalid, "%w: block %d", ErrOutOfRange, index)
	}
	if uint32(len(data)) != m.blockSize {
		return fErr(KindInvalid, "%w", ErrSizeMismatch)
	}
	if m.failWrite[index] {
		return fErr(KindHostIO, "ctrfs: simulated write failure at block %d", index)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.blocks[index] = cp
	return nil
}

var _ BlockReaderWriter = (*mockDevice)(nil)
