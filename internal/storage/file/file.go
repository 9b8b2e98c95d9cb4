// Package file stores the snapshot as a single JSON document on local disk.
package file

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/leozw/presence-guardian/internal/core"
	"github.com/leozw/presence-guardian/internal/storage"
	"github.com/leozw/presence-guardian/internal/storage/lockfile"
	"github.com/natefinch/atomic"
)

type Backend struct {
	path string
	lock *lockfile.Lock
}

// New returns a backend for the document at path. A sibling "<path>.lock"
// file serializes writers across processes.
func New(path string, lockTimeout time.Duration) (*Backend, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	return &Backend{
		path: path,
		lock: lockfile.New(path, lockTimeout),
	}, nil
}

func (b *Backend) Path() string {
	return b.path
}

// Lock takes the cross-process file lock, waiting at most the configured
// lock timeout.
func (b *Backend) Lock(ctx context.Context) (func(), error) {
	return b.lock.Lock(ctx)
}

func (b *Backend) Load(_ context.Context) (*core.Snapshot, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return core.NewSnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", b.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return core.NewSnapshot(), nil
	}

	snap := core.NewSnapshot()
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", storage.ErrStoreCorrupt, b.path, err)
	}
	return snap, nil
}

// Save writes to a temporary file in the same directory and renames it over
// the document.
func (b *Backend) Save(_ context.Context, snap *core.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := atomic.WriteFile(b.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", b.path, err)
	}
	return nil
}

func (b *Backend) Close() error {
	return b.lock.Close()
}
