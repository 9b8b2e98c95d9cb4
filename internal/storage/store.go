package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leozw/presence-guardian/internal/core"
	"github.com/leozw/presence-guardian/internal/metrics"
	"go.uber.org/zap"
)

// ErrStoreCorrupt is returned (wrapped) when the persisted document cannot be parsed.
var ErrStoreCorrupt = errors.New("store corrupt")

// Backend persists whole snapshots. Save must replace the persisted state
// atomically: a concurrent Load sees either the old or the new document.
type Backend interface {
	Load(ctx context.Context) (*core.Snapshot, error)
	Save(ctx context.Context, snap *core.Snapshot) error
	Close() error
}

// Locker is implemented by backends whose exclusive region must also cover
// other processes (e.g. an OS file lock).
type Locker interface {
	Lock(ctx context.Context) (unlock func(), err error)
}

// Store serializes every load/save made by the sampler and the admin surface
// through a single exclusive region.
type Store struct {
	backend Backend
	sem     chan struct{}
	logger  *zap.Logger
	metrics *metrics.Collector
}

type Option func(*Store)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(s *Store) { s.metrics = c }
}

func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		sem:     make(chan struct{}, 1),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the persisted snapshot, or an empty one when nothing has been saved yet.
func (s *Store) Load(ctx context.Context) (*core.Snapshot, error) {
	var snap *core.Snapshot
	err := s.View(ctx, func(loaded *core.Snapshot) error {
		snap = loaded
		return nil
	})
	return snap, err
}

// Save replaces the persisted snapshot.
func (s *Store) Save(ctx context.Context, snap *core.Snapshot) error {
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	return s.save(ctx, snap)
}

// View loads the snapshot inside the exclusive region. Changes made by fn are not persisted.
func (s *Store) View(ctx context.Context, fn func(*core.Snapshot) error) error {
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	snap, err := s.load(ctx)
	if err != nil {
		return err
	}
	return fn(snap)
}

// Update runs load, fn and save as one exclusive region. If fn or the save
// fails, the persisted state is left untouched.
func (s *Store) Update(ctx context.Context, fn func(*core.Snapshot) error) error {
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	snap, err := s.load(ctx)
	if err != nil {
		return err
	}
	if err := fn(snap); err != nil {
		return err
	}
	return s.save(ctx, snap)
}

func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) acquire(ctx context.Context) (func(), error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to acquire store lock: %w", ctx.Err())
	}

	locker, ok := s.backend.(Locker)
	if !ok {
		return func() { <-s.sem }, nil
	}

	unlock, err := locker.Lock(ctx)
	if err != nil {
		<-s.sem
		return nil, fmt.Errorf("failed to acquire store lock: %w", err)
	}
	return func() {
		unlock()
		<-s.sem
	}, nil
}

func (s *Store) load(ctx context.Context) (*core.Snapshot, error) {
	start := time.Now()
	snap, err := s.backend.Load(ctx)
	s.record("load", start, err)
	if err != nil {
		s.logger.Error("Failed to load store", zap.Error(err))
		return nil, fmt.Errorf("failed to load store: %w", err)
	}
	if err := snap.Normalize(); err != nil {
		s.logger.Error("Persisted store is invalid", zap.Error(err))
		return nil, fmt.Errorf("failed to load store: %w: %v", ErrStoreCorrupt, err)
	}
	return snap, nil
}

func (s *Store) save(ctx context.Context, snap *core.Snapshot) error {
	if err := snap.Normalize(); err != nil {
		return fmt.Errorf("refusing to save invalid snapshot: %w", err)
	}

	start := time.Now()
	err := s.backend.Save(ctx, snap)
	s.record("save", start, err)
	if err != nil {
		s.logger.Error("Failed to save store", zap.Error(err))
		return fmt.Errorf("failed to save store: %w", err)
	}
	return nil
}

func (s *Store) record(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordStoreOperation(op, err == nil, time.Since(start).Seconds())
}
