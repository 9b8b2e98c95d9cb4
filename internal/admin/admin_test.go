package admin

import (
	"context"
	"testing"
	"time"

	"github.com/leozw/presence-guardian/internal/core"
	"github.com/leozw/presence-guardian/internal/presence"
	"github.com/leozw/presence-guardian/internal/presence/presencetest"
	"github.com/leozw/presence-guardian/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newService(t *testing.T, initial *core.Snapshot) (*Service, *storage.Store, *presencetest.Source) {
	t.Helper()
	src := presencetest.New()
	src.AddTenant("100")
	src.AddChannel("100", "55")
	src.SetMember("100", "7", core.StatusOnline)
	src.SetMember("100", "8", core.StatusOffline)
	src.PutMember("100", &presence.Member{ID: "10", Name: "alice"})

	store := storage.NewStore(storage.NewMemoryBackend(initial))
	return NewService(store, src, nil, zap.NewNop()), store, src
}

func TestChannelLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newService(t, nil)

	assert.ErrorIs(t, svc.RemoveChannel(ctx, "100"), ErrNoChannel)
	assert.ErrorIs(t, svc.SetChannel(ctx, "100", "77"), ErrChannelNotFound)
	assert.ErrorIs(t, svc.SetChannel(ctx, "999", "55"), ErrTenantNotFound)
	require.NoError(t, svc.SetChannel(ctx, "100", "55"))

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	ch, ok := snap.Channel("100")
	assert.True(t, ok)
	assert.Equal(t, "55", ch)

	require.NoError(t, svc.RemoveChannel(ctx, "100"))
	assert.ErrorIs(t, svc.RemoveChannel(ctx, "100"), ErrNoChannel)
}

func TestAddAccountChecks(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t, nil)

	assert.ErrorIs(t, svc.AddAccount(ctx, "100", "abc"), ErrInvalidID)
	assert.ErrorIs(t, svc.AddAccount(ctx, "100", "404"), ErrMemberNotFound)
	assert.ErrorIs(t, svc.AddAccount(ctx, "100", "10"), ErrNotBot)

	require.NoError(t, svc.AddAccount(ctx, "100", "7"))
	assert.ErrorIs(t, svc.AddAccount(ctx, "100", "7"), ErrAlreadyMonitored)
}

func TestAddAccountWithoutSource(t *testing.T) {
	ctx := context.Background()
	store := storage.NewStore(storage.NewMemoryBackend(nil))
	svc := NewService(store, nil, nil, zap.NewNop())

	require.NoError(t, svc.AddAccount(ctx, "100", "404"))
	list, err := svc.ListAccounts(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, []AccountStatus{{AccountID: "404", Status: StatusUnknown}}, list.Accounts)
}

func TestRemoveAccountDropsStatistics(t *testing.T) {
	ctx := context.Background()
	initial := core.NewSnapshot()
	initial.AddAccount("100", "7")
	initial.PutRecord("100", "7", &core.StatsRecord{OnlineTime: 10, LastStatus: core.StatusOnline})
	svc, store, _ := newService(t, initial)

	require.NoError(t, svc.RemoveAccount(ctx, "100", "7"))
	assert.ErrorIs(t, svc.RemoveAccount(ctx, "100", "7"), ErrNotMonitored)

	require.NoError(t, svc.AddAccount(ctx, "100", "7"))
	snap, err := store.Load(ctx)
	require.NoError(t, err)
	_, ok := snap.Record("100", "7")
	assert.False(t, ok, "a re-added account starts from zero")
}

func TestListAccounts(t *testing.T) {
	ctx := context.Background()
	initial := core.NewSnapshot()
	initial.AddAccount("100", "7")
	initial.AddAccount("100", "8")
	initial.AddAccount("100", "9")
	initial.SetChannel("100", "55")
	svc, _, _ := newService(t, initial)

	list, err := svc.ListAccounts(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "55", list.ChannelID)
	assert.Equal(t, []AccountStatus{
		{AccountID: "7", Name: "bot-7", Status: "online"},
		{AccountID: "8", Name: "bot-8", Status: "offline"},
		{AccountID: "9", Status: StatusUnknown},
	}, list.Accounts)
}

func TestAccountUptime(t *testing.T) {
	ctx := context.Background()
	checked := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	initial := core.NewSnapshot()
	initial.AddAccount("100", "7")
	initial.AddAccount("100", "8")
	initial.PutRecord("100", "7", &core.StatsRecord{
		OnlineTime:  3,
		OfflineTime: 1,
		LastStatus:  core.StatusOffline,
		LastCheck:   core.NewTimestamp(checked),
	})
	svc, _, _ := newService(t, initial)

	u, err := svc.AccountUptime(ctx, "100", "7")
	require.NoError(t, err)
	assert.Equal(t, 75.0, u.UptimePercentage)
	assert.Equal(t, int64(4), u.TotalChecks)
	assert.Equal(t, "offline", u.LastStatus)
	assert.Equal(t, "online", u.CurrentStatus)
	require.NotNil(t, u.LastCheck)
	assert.True(t, u.LastCheck.Equal(checked))

	u, err = svc.AccountUptime(ctx, "100", "8")
	require.NoError(t, err)
	assert.Equal(t, 0.0, u.UptimePercentage)
	assert.Nil(t, u.LastCheck)

	_, err = svc.AccountUptime(ctx, "100", "9")
	assert.ErrorIs(t, err, ErrNotMonitored)
}

func TestTenantUptime(t *testing.T) {
	ctx := context.Background()
	initial := core.NewSnapshot()
	initial.AddAccount("100", "8")
	initial.AddAccount("100", "7")
	initial.PutRecord("100", "7", &core.StatsRecord{OnlineTime: 1, OfflineTime: 1, LastStatus: core.StatusOnline})
	svc, _, src := newService(t, initial)
	src.RemoveTenant("100")

	uptimes, err := svc.TenantUptime(ctx, "100")
	require.NoError(t, err)
	require.Len(t, uptimes, 2)
	assert.Equal(t, "8", uptimes[0].AccountID)
	assert.Equal(t, 50.0, uptimes[1].UptimePercentage)
	assert.Equal(t, StatusUnknown, uptimes[1].CurrentStatus)

	empty, err := svc.TenantUptime(ctx, "300")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
