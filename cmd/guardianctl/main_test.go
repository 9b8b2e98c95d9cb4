package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/leozw/presence-guardian/internal/admin"
	"github.com/leozw/presence-guardian/internal/config"
	"github.com/leozw/presence-guardian/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCLI() (*cli, *admin.Service, *bytes.Buffer) {
	out := &bytes.Buffer{}
	c := &cli{out: out, cfg: &config.Config{}}
	store := storage.NewStore(storage.NewMemoryBackend(nil))
	return c, admin.NewService(store, nil, nil, zap.NewNop()), out
}

func TestDispatchLifecycle(t *testing.T) {
	ctx := context.Background()
	c, svc, out := newTestCLI()

	require.NoError(t, c.dispatch(ctx, svc, []string{"add", "100", "7"}))
	assert.Contains(t, out.String(), "Now monitoring 7 in 100")

	err := c.dispatch(ctx, svc, []string{"add", "100", "7"})
	assert.ErrorIs(t, err, admin.ErrAlreadyMonitored)

	out.Reset()
	require.NoError(t, c.dispatch(ctx, svc, []string{"list", "100"}))
	assert.Equal(t, "7\n", out.String())

	out.Reset()
	require.NoError(t, c.dispatch(ctx, svc, []string{"uptime", "100", "7"}))
	assert.Contains(t, out.String(), "0.00%")
	assert.Contains(t, out.String(), "last check never")

	require.NoError(t, c.dispatch(ctx, svc, []string{"remove", "100", "7"}))

	out.Reset()
	require.NoError(t, c.dispatch(ctx, svc, []string{"list", "100"}))
	assert.Contains(t, out.String(), "No accounts monitored")
}

func TestDispatchJSON(t *testing.T) {
	ctx := context.Background()
	c, svc, out := newTestCLI()
	c.asJSON = true

	require.NoError(t, c.dispatch(ctx, svc, []string{"set-channel", "100", "55"}))
	out.Reset()
	require.NoError(t, c.dispatch(ctx, svc, []string{"list", "100"}))

	var list admin.AccountList
	require.NoError(t, json.Unmarshal(out.Bytes(), &list))
	assert.Equal(t, "55", list.ChannelID)
	assert.Empty(t, list.Accounts)
}

func TestDispatchRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	c, svc, _ := newTestCLI()

	assert.ErrorIs(t, c.dispatch(ctx, svc, []string{"add", "abc", "7"}), admin.ErrInvalidID)
	assert.ErrorIs(t, c.dispatch(ctx, svc, []string{"remove-channel", "100"}), admin.ErrNoChannel)
	assert.Error(t, c.dispatch(ctx, svc, []string{"add", "100"}))
	assert.Error(t, c.dispatch(ctx, svc, []string{"frobnicate"}))
}

func TestTokenRequiresSecret(t *testing.T) {
	c, _, out := newTestCLI()
	assert.Error(t, c.token())

	c.cfg.Auth.JWTSecret = "secret"
	c.subject = "ops"
	c.ttl = 0
	require.NoError(t, c.token())
	assert.NotEmpty(t, out.String())
}
