package discord

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/leozw/presence-guardian/internal/core"
	"github.com/leozw/presence-guardian/internal/presence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	state := discordgo.NewState()
	require.NoError(t, state.GuildAdd(&discordgo.Guild{ID: "100", Name: "Bots Inc"}))
	require.NoError(t, state.ChannelAdd(&discordgo.Channel{ID: "55", GuildID: "100", Name: "status", Type: discordgo.ChannelTypeGuildText}))
	require.NoError(t, state.ChannelAdd(&discordgo.Channel{ID: "66", GuildID: "100", Name: "general", Type: discordgo.ChannelTypeGuildText}))

	for _, u := range []*discordgo.User{
		{ID: "7", Username: "uptime-bot", Bot: true},
		{ID: "8", Username: "idle-bot", Bot: true},
		{ID: "9", Username: "quiet-bot", Bot: true},
		{ID: "10", Username: "alice"},
	} {
		require.NoError(t, state.MemberAdd(&discordgo.Member{GuildID: "100", User: u}))
	}
	require.NoError(t, state.PresenceAdd("100", &discordgo.Presence{User: &discordgo.User{ID: "7"}, Status: discordgo.StatusOnline}))
	require.NoError(t, state.PresenceAdd("100", &discordgo.Presence{User: &discordgo.User{ID: "8"}, Status: discordgo.StatusIdle}))

	return newSession(&discordgo.Session{State: state}, zap.NewNop(), false)
}

func TestReadyWithoutGuilds(t *testing.T) {
	s := newTestSession(t)
	assert.False(t, s.Ready())

	s.onReady(nil, &discordgo.Ready{User: &discordgo.User{Username: "guardian"}})
	assert.True(t, s.Ready())
}

func TestReadyWaitsForGuildCreate(t *testing.T) {
	s := newTestSession(t)
	s.guildWait = time.Hour

	s.onReady(nil, &discordgo.Ready{
		User: &discordgo.User{Username: "guardian"},
		Guilds: []*discordgo.Guild{
			{ID: "100", Unavailable: true},
			{ID: "200", Unavailable: true},
		},
	})
	assert.False(t, s.Ready(), "guilds are stubs until GUILD_CREATE")

	s.onGuildCreate(nil, &discordgo.GuildCreate{Guild: &discordgo.Guild{ID: "100", Name: "Bots Inc"}})
	assert.False(t, s.Ready())

	s.onGuildCreate(nil, &discordgo.GuildCreate{Guild: &discordgo.Guild{ID: "999"}})
	assert.False(t, s.Ready(), "guilds joined later do not count")

	s.onGuildCreate(nil, &discordgo.GuildCreate{Guild: &discordgo.Guild{ID: "200"}})
	assert.True(t, s.Ready())
}

func TestReadyAfterGuildWait(t *testing.T) {
	s := newTestSession(t)
	s.guildWait = 10 * time.Millisecond

	s.onReady(nil, &discordgo.Ready{
		User:   &discordgo.User{Username: "guardian"},
		Guilds: []*discordgo.Guild{{ID: "300", Unavailable: true}},
	})
	assert.False(t, s.Ready())
	assert.Eventually(t, s.Ready, time.Second, 5*time.Millisecond)
}

func TestTenant(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t)

	tenant, err := s.Tenant(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "Bots Inc", tenant.Name)

	_, err = s.Tenant(ctx, "999")
	assert.ErrorIs(t, err, presence.ErrNotFound)
}

func TestChannelMustBelongToTenant(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t)
	tenant := &presence.Tenant{ID: "100"}

	ch, err := s.Channel(ctx, tenant, "55")
	require.NoError(t, err)
	assert.Equal(t, "status", ch.Name)

	_, err = s.Channel(ctx, &presence.Tenant{ID: "200"}, "55")
	assert.ErrorIs(t, err, presence.ErrNotFound)

	_, err = s.Channel(ctx, tenant, "77")
	assert.ErrorIs(t, err, presence.ErrNotFound)
}

func TestMemberStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t)
	tenant := &presence.Tenant{ID: "100"}

	m, err := s.Member(ctx, tenant, "7")
	require.NoError(t, err)
	assert.Equal(t, "uptime-bot", m.Name)
	assert.True(t, m.Bot)
	assert.Equal(t, core.StatusOnline, m.Status)

	m, err = s.Member(ctx, tenant, "8")
	require.NoError(t, err)
	assert.Equal(t, core.StatusOnline, m.Status, "idle counts as online")

	m, err = s.Member(ctx, tenant, "9")
	require.NoError(t, err)
	assert.Equal(t, core.StatusOffline, m.Status, "no presence means offline")

	m, err = s.Member(ctx, tenant, "10")
	require.NoError(t, err)
	assert.False(t, m.Bot)

	_, err = s.Member(ctx, tenant, "404")
	assert.ErrorIs(t, err, presence.ErrNotFound)
}
