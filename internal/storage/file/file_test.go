package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leozw/presence-guardian/internal/core"
	"github.com/leozw/presence-guardian/internal/storage"
	"github.com/leozw/presence-guardian/internal/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const legacyDocument = `{
    "channels": {"100": "55"},
    "monitored_bots": {"100": ["7", "8"]},
    "uptime_stats": {
        "100": {
            "7": {"online_time": 40, "offline_time": 2, "last_status": "idle", "last_check": "2024-05-01T10:11:12.345678"},
            "8": {"online_time": 0, "offline_time": 9, "last_status": "offline", "last_check": "2024-05-01T10:11:12.345678"}
        }
    }
}`

func newBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(filepath.Join(t.TempDir(), "data", "bot_data.json"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestLoadMissingFile(t *testing.T) {
	b := newBackend(t)

	snap, err := b.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.MonitoredTenants())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)

	snap := core.NewSnapshot()
	snap.SetChannel("100", "55")
	snap.AddAccount("100", "7")
	snap.PutRecord("100", "7", core.NewStatsRecord(core.StatusOffline, time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)))
	require.NoError(t, b.Save(ctx, snap))

	loaded, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap, loaded)

	entries, err := os.ReadDir(filepath.Dir(b.Path()))
	require.NoError(t, err)
	for _, e := range entries {
		assert.Contains(t, []string{"bot_data.json", "bot_data.json.lock"}, e.Name(), "no temp files left behind")
	}
}

func TestLoadLegacyDocument(t *testing.T) {
	b := newBackend(t)
	require.NoError(t, os.WriteFile(b.Path(), []byte(legacyDocument), 0o600))

	snap, err := b.Load(context.Background())
	require.NoError(t, err)

	rec, ok := snap.Record("100", "7")
	require.True(t, ok)
	assert.Equal(t, core.StatusOnline, rec.LastStatus)
	assert.Equal(t, int64(42), rec.Total())
	assert.Equal(t, []string{"7", "8"}, snap.Accounts("100"))
}

func TestSaveKeepsUntouchedLegacyTimestamps(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	require.NoError(t, os.WriteFile(b.Path(), []byte(legacyDocument), 0o600))

	snap, err := b.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, b.Save(ctx, snap))

	data, err := os.ReadFile(b.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"last_check": "2024-05-01T10:11:12.345678"`)
}

func TestLoadCorruptDocument(t *testing.T) {
	b := newBackend(t)
	require.NoError(t, os.WriteFile(b.Path(), []byte(`{"channels": [`), 0o600))

	_, err := b.Load(context.Background())
	assert.ErrorIs(t, err, storage.ErrStoreCorrupt)
}

func TestLockExcludesSecondHandle(t *testing.T) {
	ctx := context.Background()
	first := newBackend(t)

	second, err := New(first.Path(), 100*time.Millisecond)
	require.NoError(t, err)
	defer second.Close()

	unlock, err := first.Lock(ctx)
	require.NoError(t, err)

	_, err = second.Lock(ctx)
	assert.Error(t, err)

	unlock()
	unlock2, err := second.Lock(ctx)
	require.NoError(t, err)
	unlock2()
}

func TestStoreOverFileBackend(t *testing.T) {
	ctx := context.Background()
	s := storage.NewStore(newBackend(t))

	require.NoError(t, s.Update(ctx, func(snap *core.Snapshot) error {
		snap.AddAccount("100", "7")
		return nil
	}))

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, snap.IsMonitored("100", "7"))
}

func TestUpdatesSerializedAcrossHandles(t *testing.T) {
	service := newBackend(t)
	cli, err := New(service.Path(), 0)
	require.NoError(t, err)
	defer cli.Close()

	storagetest.AssertUpdatesSerialized(t, storage.NewStore(service), storage.NewStore(cli))
}
