package storage

import (
	"context"
	"sync"

	"github.com/leozw/presence-guardian/internal/core"
)

// MemoryBackend keeps the snapshot in process memory. It backs the "memory"
// storage driver and the package tests of the store consumers.
type MemoryBackend struct {
	mu   sync.Mutex
	snap *core.Snapshot
}

func NewMemoryBackend(initial *core.Snapshot) *MemoryBackend {
	b := &MemoryBackend{}
	if initial != nil {
		b.snap = initial.Clone()
	}
	return b
}

func (b *MemoryBackend) Load(_ context.Context) (*core.Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.snap == nil {
		return core.NewSnapshot(), nil
	}
	return b.snap.Clone(), nil
}

func (b *MemoryBackend) Save(_ context.Context, snap *core.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.snap = snap.Clone()
	return nil
}

func (b *MemoryBackend) Close() error {
	return nil
}
