// Package presencetest provides an in-memory presence.Source for tests.
package presencetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/leozw/presence-guardian/internal/core"
	"github.com/leozw/presence-guardian/internal/presence"
)

type Source struct {
	mu       sync.Mutex
	ready    bool
	tenants  map[string]string
	channels map[string]map[string]string
	members  map[string]map[string]*presence.Member
	lookups  int
}

func New() *Source {
	return &Source{
		ready:    true,
		tenants:  make(map[string]string),
		channels: make(map[string]map[string]string),
		members:  make(map[string]map[string]*presence.Member),
	}
}

func (s *Source) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

func (s *Source) AddTenant(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[id] = "guild-" + id
	if s.channels[id] == nil {
		s.channels[id] = make(map[string]string)
	}
	if s.members[id] == nil {
		s.members[id] = make(map[string]*presence.Member)
	}
}

func (s *Source) RemoveTenant(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tenants, id)
}

func (s *Source) AddChannel(tenantID, channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channels[tenantID] == nil {
		s.channels[tenantID] = make(map[string]string)
	}
	s.channels[tenantID][channelID] = "channel-" + channelID
}

func (s *Source) RemoveChannel(tenantID, channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels[tenantID], channelID)
}

// SetMember adds or updates a bot member with the given status.
func (s *Source) SetMember(tenantID, accountID string, status core.Status) {
	s.PutMember(tenantID, &presence.Member{
		ID:     accountID,
		Name:   "bot-" + accountID,
		Bot:    true,
		Status: status,
	})
}

func (s *Source) PutMember(tenantID string, m *presence.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[tenantID] == nil {
		s.members[tenantID] = make(map[string]*presence.Member)
	}
	cp := *m
	s.members[tenantID][m.ID] = &cp
}

func (s *Source) RemoveMember(tenantID, accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members[tenantID], accountID)
}

// Lookups returns how many tenant lookups were made.
func (s *Source) Lookups() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups
}

func (s *Source) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *Source) Tenant(_ context.Context, tenantID string) (*presence.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	name, ok := s.tenants[tenantID]
	if !ok {
		return nil, fmt.Errorf("guild %s: %w", tenantID, presence.ErrNotFound)
	}
	return &presence.Tenant{ID: tenantID, Name: name}, nil
}

func (s *Source) Channel(_ context.Context, tenant *presence.Tenant, channelID string) (*presence.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.channels[tenant.ID][channelID]
	if !ok {
		return nil, fmt.Errorf("channel %s: %w", channelID, presence.ErrNotFound)
	}
	return &presence.Channel{ID: channelID, Name: name}, nil
}

func (s *Source) Member(_ context.Context, tenant *presence.Tenant, accountID string) (*presence.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[tenant.ID][accountID]
	if !ok {
		return nil, fmt.Errorf("member %s: %w", accountID, presence.ErrNotFound)
	}
	cp := *m
	return &cp, nil
}
