// Package discord adapts a discordgo session to the presence source and
// notifier contracts.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/leozw/presence-guardian/internal/core"
	"github.com/leozw/presence-guardian/internal/presence"
	"go.uber.org/zap"
)

const Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers | discordgo.IntentsGuildPresences

// guildWait bounds how long readiness waits for unavailable guilds after READY.
const guildWait = 10 * time.Second

type Session struct {
	session *discordgo.Session
	logger  *zap.Logger
	ready   atomic.Bool

	mu        sync.Mutex
	pending   map[string]struct{}
	guildWait time.Duration
	waitTimer *time.Timer

	// rest enables REST lookups for members missing from the state cache.
	rest bool
}

func New(token string, logger *zap.Logger) (*Session, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	dg.Identify.Intents = Intents
	dg.StateEnabled = true
	dg.State.TrackPresences = true
	dg.State.TrackMembers = true

	return newSession(dg, logger, true), nil
}

func newSession(dg *discordgo.Session, logger *zap.Logger, rest bool) *Session {
	s := &Session{
		session:   dg,
		logger:    logger.With(zap.String("component", "discord")),
		rest:      rest,
		guildWait: guildWait,
	}
	dg.AddHandler(s.onReady)
	dg.AddHandler(s.onGuildCreate)
	dg.AddHandler(s.onDisconnect)
	return s
}

// onReady arrives with every guild as an unavailable stub. The session
// becomes ready once each of them has been delivered by GUILD_CREATE, or when
// guildWait expires.
func (s *Session) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = make(map[string]struct{}, len(r.Guilds))
	for _, g := range r.Guilds {
		if g.Unavailable {
			s.pending[g.ID] = struct{}{}
		}
	}
	if s.waitTimer != nil {
		s.waitTimer.Stop()
		s.waitTimer = nil
	}

	s.logger.Info("Discord session connected",
		zap.String("user", r.User.Username),
		zap.Int("guilds", len(r.Guilds)),
		zap.Int("pending_guilds", len(s.pending)),
	)

	if len(s.pending) == 0 {
		s.markReadyLocked()
		return
	}
	s.ready.Store(false)
	s.waitTimer = time.AfterFunc(s.guildWait, s.onGuildWaitExpired)
}

func (s *Session) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[g.ID]; !ok {
		return
	}
	delete(s.pending, g.ID)
	if len(s.pending) == 0 && !s.ready.Load() {
		s.markReadyLocked()
	}
}

func (s *Session) onGuildWaitExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready.Load() {
		return
	}
	s.logger.Warn("Guilds still unavailable, starting without them",
		zap.Int("pending_guilds", len(s.pending)),
	)
	s.markReadyLocked()
}

func (s *Session) markReadyLocked() {
	if s.waitTimer != nil {
		s.waitTimer.Stop()
		s.waitTimer = nil
	}
	s.ready.Store(true)
	s.logger.Info("Discord session ready")
}

func (s *Session) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	s.logger.Warn("Discord gateway disconnected, waiting for reconnect")
}

func (s *Session) Open() error {
	if err := s.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	if s.waitTimer != nil {
		s.waitTimer.Stop()
		s.waitTimer = nil
	}
	s.mu.Unlock()
	return s.session.Close()
}

// Ready reports whether the guild cache has been populated after READY.
func (s *Session) Ready() bool {
	return s.ready.Load()
}

func (s *Session) Tenant(_ context.Context, tenantID string) (*presence.Tenant, error) {
	guild, err := s.session.State.Guild(tenantID)
	if err != nil || guild.Unavailable {
		return nil, fmt.Errorf("guild %s: %w", tenantID, presence.ErrNotFound)
	}
	return &presence.Tenant{ID: guild.ID, Name: guild.Name}, nil
}

// Channel resolves a cached channel that belongs to tenant.
func (s *Session) Channel(_ context.Context, tenant *presence.Tenant, channelID string) (*presence.Channel, error) {
	ch, err := s.session.State.Channel(channelID)
	if err != nil || ch.GuildID != tenant.ID {
		return nil, fmt.Errorf("channel %s in guild %s: %w", channelID, tenant.ID, presence.ErrNotFound)
	}
	return &presence.Channel{ID: ch.ID, Name: ch.Name}, nil
}

// Member returns the member with its live status. A member without a cached
// presence is offline, since the gateway does not send presences for offline users.
func (s *Session) Member(ctx context.Context, tenant *presence.Tenant, accountID string) (*presence.Member, error) {
	m, err := s.session.State.Member(tenant.ID, accountID)
	if err != nil {
		if !s.rest {
			return nil, fmt.Errorf("member %s in guild %s: %w", accountID, tenant.ID, presence.ErrNotFound)
		}
		m, err = s.fetchMember(ctx, tenant.ID, accountID)
		if err != nil {
			return nil, err
		}
	}
	if m.User == nil {
		return nil, fmt.Errorf("member %s in guild %s: %w", accountID, tenant.ID, presence.ErrNotFound)
	}

	status := core.StatusOffline
	if p, err := s.session.State.Presence(tenant.ID, accountID); err == nil {
		status = core.ClassifyPresence(string(p.Status))
	}

	return &presence.Member{
		ID:     m.User.ID,
		Name:   m.User.Username,
		Bot:    m.User.Bot,
		Status: status,
	}, nil
}

func (s *Session) fetchMember(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	m, err := s.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		var restErr *discordgo.RESTError
		if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("member %s in guild %s: %w", userID, guildID, presence.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch member %s in guild %s: %w", userID, guildID, err)
	}
	m.GuildID = guildID
	if err := s.session.State.MemberAdd(m); err != nil {
		s.logger.Debug("Failed to cache member", zap.String("account_id", userID), zap.Error(err))
	}
	return m, nil
}

// Send posts text to a channel.
func (s *Session) Send(ctx context.Context, channelID, text string) error {
	if _, err := s.session.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to send message to channel %s: %w", channelID, err)
	}
	return nil
}
