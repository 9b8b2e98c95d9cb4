package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leozw/presence-guardian/internal/config"
	"github.com/leozw/presence-guardian/internal/core"
	"github.com/leozw/presence-guardian/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingBackend struct {
	*MemoryBackend
	saveErr error
	loadErr error
	saves   int
}

func (b *failingBackend) Load(ctx context.Context) (*core.Snapshot, error) {
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	return b.MemoryBackend.Load(ctx)
}

func (b *failingBackend) Save(ctx context.Context, snap *core.Snapshot) error {
	b.saves++
	if b.saveErr != nil {
		return b.saveErr
	}
	return b.MemoryBackend.Save(ctx, snap)
}

func TestLoadEmptyDefault(t *testing.T) {
	s := NewStore(NewMemoryBackend(nil))

	snap, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.MonitoredTenants())
	assert.NotNil(t, snap.Channels)
}

func TestUpdatePersists(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewMemoryBackend(nil))

	require.NoError(t, s.Update(ctx, func(snap *core.Snapshot) error {
		snap.AddAccount("100", "7")
		snap.SetChannel("100", "55")
		return nil
	}))

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, snap.Accounts("100"))
	ch, ok := snap.Channel("100")
	assert.True(t, ok)
	assert.Equal(t, "55", ch)
}

func TestUpdateCallbackErrorSkipsSave(t *testing.T) {
	ctx := context.Background()
	backend := &failingBackend{MemoryBackend: NewMemoryBackend(nil)}
	s := NewStore(backend)

	boom := errors.New("boom")
	err := s.Update(ctx, func(snap *core.Snapshot) error {
		snap.AddAccount("100", "7")
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, backend.saves)

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Accounts("100"))
}

func TestSaveFailureLeavesPreviousState(t *testing.T) {
	ctx := context.Background()
	initial := core.NewSnapshot()
	initial.AddAccount("100", "7")
	backend := &failingBackend{MemoryBackend: NewMemoryBackend(initial), saveErr: errors.New("disk full")}

	reg := prometheus.NewRegistry()
	s := NewStore(backend, WithMetrics(metrics.NewCollector(reg, config.MimirConfig{})))

	err := s.Update(ctx, func(snap *core.Snapshot) error {
		snap.AddAccount("100", "8")
		return nil
	})
	assert.ErrorContains(t, err, "disk full")

	backend.saveErr = nil
	snap, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, snap.Accounts("100"))
}

func TestLoadRejectsInvalidRecords(t *testing.T) {
	initial := core.NewSnapshot()
	initial.PutRecord("100", "7", &core.StatsRecord{OfflineTime: -3})
	s := NewStore(NewMemoryBackend(initial))

	_, err := s.Load(context.Background())
	assert.ErrorIs(t, err, ErrStoreCorrupt)
}

func TestUpdateIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewMemoryBackend(nil))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Update(ctx, func(snap *core.Snapshot) error {
				rec, ok := snap.Record("100", "7")
				if !ok {
					snap.PutRecord("100", "7", core.NewStatsRecord(core.StatusOnline, time.Now()))
					return nil
				}
				rec.Observe(core.StatusOnline, time.Now())
				return nil
			}))
		}()
	}
	wg.Wait()

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	rec, ok := snap.Record("100", "7")
	require.True(t, ok)
	assert.Equal(t, int64(20), rec.OnlineTime)
}

func TestAcquireHonoursContext(t *testing.T) {
	s := NewStore(NewMemoryBackend(nil))

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.View(context.Background(), func(*core.Snapshot) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Update(ctx, func(*core.Snapshot) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
