package core

import (
	"fmt"
	"sort"
)

// Snapshot is the whole persisted document: per-tenant notification channels,
// monitored accounts and uptime statistics, all keyed by tenant id.
type Snapshot struct {
	Channels      map[string]string                  `json:"channels"`
	MonitoredBots map[string][]string                `json:"monitored_bots"`
	UptimeStats   map[string]map[string]*StatsRecord `json:"uptime_stats"`
}

func NewSnapshot() *Snapshot {
	return &Snapshot{
		Channels:      make(map[string]string),
		MonitoredBots: make(map[string][]string),
		UptimeStats:   make(map[string]map[string]*StatsRecord),
	}
}

// Normalize fills missing top-level maps, drops duplicate account ids (first
// occurrence wins) and rejects records with negative counters.
func (s *Snapshot) Normalize() error {
	if s.Channels == nil {
		s.Channels = make(map[string]string)
	}
	if s.MonitoredBots == nil {
		s.MonitoredBots = make(map[string][]string)
	}
	if s.UptimeStats == nil {
		s.UptimeStats = make(map[string]map[string]*StatsRecord)
	}

	for tenant, accounts := range s.MonitoredBots {
		seen := make(map[string]struct{}, len(accounts))
		unique := accounts[:0]
		for _, id := range accounts {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			unique = append(unique, id)
		}
		s.MonitoredBots[tenant] = unique
	}

	for tenant, records := range s.UptimeStats {
		for account, rec := range records {
			if rec == nil {
				delete(records, account)
				continue
			}
			if err := rec.validate(); err != nil {
				return fmt.Errorf("tenant %s account %s: %w", tenant, account, err)
			}
		}
	}
	return nil
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	c := NewSnapshot()
	for tenant, channel := range s.Channels {
		c.Channels[tenant] = channel
	}
	for tenant, accounts := range s.MonitoredBots {
		c.MonitoredBots[tenant] = append([]string{}, accounts...)
	}
	for tenant, records := range s.UptimeStats {
		m := make(map[string]*StatsRecord, len(records))
		for account, rec := range records {
			if rec == nil {
				continue
			}
			cp := *rec
			m[account] = &cp
		}
		c.UptimeStats[tenant] = m
	}
	return c
}

// MonitoredTenants returns, sorted, the tenants with at least one monitored account.
func (s *Snapshot) MonitoredTenants() []string {
	tenants := make([]string, 0, len(s.MonitoredBots))
	for tenant, accounts := range s.MonitoredBots {
		if len(accounts) > 0 {
			tenants = append(tenants, tenant)
		}
	}
	sort.Strings(tenants)
	return tenants
}

func (s *Snapshot) Accounts(tenant string) []string {
	return s.MonitoredBots[tenant]
}

func (s *Snapshot) Channel(tenant string) (string, bool) {
	ch, ok := s.Channels[tenant]
	return ch, ok && ch != ""
}

func (s *Snapshot) SetChannel(tenant, channel string) {
	s.Channels[tenant] = channel
}

// RemoveChannel reports whether a channel was configured.
func (s *Snapshot) RemoveChannel(tenant string) bool {
	if _, ok := s.Channel(tenant); !ok {
		return false
	}
	delete(s.Channels, tenant)
	return true
}

func (s *Snapshot) IsMonitored(tenant, account string) bool {
	for _, id := range s.MonitoredBots[tenant] {
		if id == account {
			return true
		}
	}
	return false
}

// AddAccount appends account to the tenant's monitored set. It returns false
// when the account is already monitored.
func (s *Snapshot) AddAccount(tenant, account string) bool {
	if s.IsMonitored(tenant, account) {
		return false
	}
	s.MonitoredBots[tenant] = append(s.MonitoredBots[tenant], account)
	return true
}

// RemoveAccount drops the account from the monitored set together with its
// statistics, so adding it back starts from zero.
func (s *Snapshot) RemoveAccount(tenant, account string) bool {
	accounts := s.MonitoredBots[tenant]
	idx := -1
	for i, id := range accounts {
		if id == account {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	s.MonitoredBots[tenant] = append(accounts[:idx:idx], accounts[idx+1:]...)

	if records, ok := s.UptimeStats[tenant]; ok {
		delete(records, account)
	}
	return true
}

func (s *Snapshot) Record(tenant, account string) (*StatsRecord, bool) {
	rec, ok := s.UptimeStats[tenant][account]
	return rec, ok && rec != nil
}

func (s *Snapshot) PutRecord(tenant, account string, rec *StatsRecord) {
	records, ok := s.UptimeStats[tenant]
	if !ok {
		records = make(map[string]*StatsRecord)
		s.UptimeStats[tenant] = records
	}
	records[account] = rec
}
