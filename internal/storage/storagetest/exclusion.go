// Package storagetest holds checks shared by the storage backend tests.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leozw/presence-guardian/internal/core"
	"github.com/leozw/presence-guardian/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertUpdatesSerialized runs a statistics update on service and, while it
// is still inside its callback, an account removal on admin. The two stores
// must be independent handles over the same persisted state, as a running
// service and the offline CLI would be. The removal must wait for the update
// and must survive it.
func AssertUpdatesSerialized(t *testing.T, service, admin *storage.Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	require.NoError(t, service.Update(ctx, func(snap *core.Snapshot) error {
		snap.AddAccount("100", "7")
		snap.PutRecord("100", "7", core.NewStatsRecord(core.StatusOnline, now))
		return nil
	}))

	inside := make(chan struct{})
	release := make(chan struct{})
	serviceDone := make(chan error, 1)
	go func() {
		serviceDone <- service.Update(ctx, func(snap *core.Snapshot) error {
			close(inside)
			<-release
			if rec, ok := snap.Record("100", "7"); ok {
				rec.Observe(core.StatusOffline, now.Add(time.Minute))
			}
			return nil
		})
	}()
	<-inside

	adminDone := make(chan error, 1)
	go func() {
		adminDone <- admin.Update(ctx, func(snap *core.Snapshot) error {
			if !snap.RemoveAccount("100", "7") {
				return errors.New("account 7 not monitored")
			}
			return nil
		})
	}()

	select {
	case err := <-adminDone:
		close(release)
		<-serviceDone
		t.Fatalf("admin update ran while the service update held the store: err=%v", err)
	case <-time.After(200 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-serviceDone)
	require.NoError(t, <-adminDone)

	snap, err := admin.Load(ctx)
	require.NoError(t, err)
	assert.False(t, snap.IsMonitored("100", "7"))
	_, ok := snap.Record("100", "7")
	assert.False(t, ok, "statistics of the removed account must stay deleted")

	snap, err = service.Load(ctx)
	require.NoError(t, err)
	assert.False(t, snap.IsMonitored("100", "7"))
}
