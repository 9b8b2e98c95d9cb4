// Package admin implements the configuration and reporting operations
// exposed by the HTTP API and the offline CLI.
package admin

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/leozw/presence-guardian/internal/core"
	"github.com/leozw/presence-guardian/internal/metrics"
	"github.com/leozw/presence-guardian/internal/presence"
	"github.com/leozw/presence-guardian/internal/storage"
	"go.uber.org/zap"
)

var (
	ErrInvalidID        = errors.New("ids must be numeric")
	ErrAlreadyMonitored = errors.New("account is already monitored")
	ErrNotMonitored     = errors.New("account is not monitored")
	ErrNoChannel        = errors.New("no notification channel configured")
	ErrNotBot           = errors.New("member is not a bot")
	ErrMemberNotFound   = errors.New("member not found")
	ErrTenantNotFound   = errors.New("tenant not found")
	ErrChannelNotFound  = errors.New("channel not found")
)

var snowflake = regexp.MustCompile(`^[0-9]{1,20}$`)

// StatusUnknown is reported for accounts the presence source cannot resolve.
const StatusUnknown = "unknown"

type AccountStatus struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name,omitempty"`
	Status    string `json:"status"`
}

type AccountList struct {
	TenantID  string          `json:"tenant_id"`
	ChannelID string          `json:"channel_id,omitempty"`
	Accounts  []AccountStatus `json:"accounts"`
}

type Uptime struct {
	AccountID        string     `json:"account_id"`
	Name             string     `json:"name,omitempty"`
	OnlineTime       int64      `json:"online_time"`
	OfflineTime      int64      `json:"offline_time"`
	TotalChecks      int64      `json:"total_checks"`
	UptimePercentage float64    `json:"uptime_percentage"`
	LastStatus       string     `json:"last_status"`
	CurrentStatus    string     `json:"current_status"`
	LastCheck        *time.Time `json:"last_check"`
}

type Service struct {
	store   *storage.Store
	source  presence.Source
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewService builds the admin service. source may be nil, in which case ids
// are not checked against the platform and live statuses are "unknown".
// collector may be nil.
func NewService(store *storage.Store, source presence.Source, collector *metrics.Collector, logger *zap.Logger) *Service {
	return &Service{
		store:   store,
		source:  source,
		metrics: collector,
		logger:  logger.With(zap.String("component", "admin")),
	}
}

func validateIDs(ids ...string) error {
	for _, id := range ids {
		if !snowflake.MatchString(id) {
			return fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
	}
	return nil
}

func (s *Service) resolveTenant(ctx context.Context, tenantID string) (*presence.Tenant, error) {
	tenant, err := s.source.Tenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, presence.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
		}
		return nil, fmt.Errorf("failed to resolve tenant %s: %w", tenantID, err)
	}
	return tenant, nil
}

func (s *Service) SetChannel(ctx context.Context, tenantID, channelID string) error {
	if err := validateIDs(tenantID, channelID); err != nil {
		return err
	}

	if s.source != nil {
		tenant, err := s.resolveTenant(ctx, tenantID)
		if err != nil {
			return err
		}
		if _, err := s.source.Channel(ctx, tenant, channelID); err != nil {
			if errors.Is(err, presence.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
			}
			return fmt.Errorf("failed to resolve channel %s: %w", channelID, err)
		}
	}

	err := s.store.Update(ctx, func(snap *core.Snapshot) error {
		snap.SetChannel(tenantID, channelID)
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Notification channel set",
		zap.String("tenant_id", tenantID),
		zap.String("channel_id", channelID),
	)
	return nil
}

func (s *Service) RemoveChannel(ctx context.Context, tenantID string) error {
	if err := validateIDs(tenantID); err != nil {
		return err
	}

	err := s.store.Update(ctx, func(snap *core.Snapshot) error {
		if !snap.RemoveChannel(tenantID) {
			return ErrNoChannel
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Notification channel removed", zap.String("tenant_id", tenantID))
	return nil
}

// AddAccount starts monitoring accountID. With a presence source the account
// must resolve to a bot member of the tenant.
func (s *Service) AddAccount(ctx context.Context, tenantID, accountID string) error {
	if err := validateIDs(tenantID, accountID); err != nil {
		return err
	}

	if s.source != nil {
		tenant, err := s.resolveTenant(ctx, tenantID)
		if err != nil {
			return err
		}
		member, err := s.source.Member(ctx, tenant, accountID)
		if err != nil {
			if errors.Is(err, presence.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrMemberNotFound, accountID)
			}
			return fmt.Errorf("failed to resolve member %s: %w", accountID, err)
		}
		if !member.Bot {
			return fmt.Errorf("%w: %s", ErrNotBot, accountID)
		}
	}

	var monitored int
	err := s.store.Update(ctx, func(snap *core.Snapshot) error {
		if !snap.AddAccount(tenantID, accountID) {
			return ErrAlreadyMonitored
		}
		monitored = len(snap.Accounts(tenantID))
		return nil
	})
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.SetMonitoredAccounts(tenantID, monitored)
	}
	s.logger.Info("Account monitored",
		zap.String("tenant_id", tenantID),
		zap.String("account_id", accountID),
	)
	return nil
}

// RemoveAccount stops monitoring accountID and deletes its statistics.
func (s *Service) RemoveAccount(ctx context.Context, tenantID, accountID string) error {
	if err := validateIDs(tenantID, accountID); err != nil {
		return err
	}

	var monitored int
	err := s.store.Update(ctx, func(snap *core.Snapshot) error {
		if !snap.RemoveAccount(tenantID, accountID) {
			return ErrNotMonitored
		}
		monitored = len(snap.Accounts(tenantID))
		return nil
	})
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.SetMonitoredAccounts(tenantID, monitored)
		s.metrics.ForgetAccount(tenantID, accountID)
	}
	s.logger.Info("Account no longer monitored",
		zap.String("tenant_id", tenantID),
		zap.String("account_id", accountID),
	)
	return nil
}

func (s *Service) ListAccounts(ctx context.Context, tenantID string) (*AccountList, error) {
	if err := validateIDs(tenantID); err != nil {
		return nil, err
	}

	list := &AccountList{TenantID: tenantID, Accounts: []AccountStatus{}}
	var accounts []string
	err := s.store.View(ctx, func(snap *core.Snapshot) error {
		accounts = append(accounts, snap.Accounts(tenantID)...)
		list.ChannelID, _ = snap.Channel(tenantID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	live := s.liveMembers(ctx, tenantID, accounts)
	for _, id := range accounts {
		entry := AccountStatus{AccountID: id, Status: StatusUnknown}
		if m, ok := live[id]; ok {
			entry.Name = m.Name
			entry.Status = m.Status.String()
		}
		list.Accounts = append(list.Accounts, entry)
	}
	return list, nil
}

func (s *Service) AccountUptime(ctx context.Context, tenantID, accountID string) (*Uptime, error) {
	if err := validateIDs(tenantID, accountID); err != nil {
		return nil, err
	}

	var rec *core.StatsRecord
	err := s.store.View(ctx, func(snap *core.Snapshot) error {
		if !snap.IsMonitored(tenantID, accountID) {
			return ErrNotMonitored
		}
		rec, _ = snap.Record(tenantID, accountID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	live := s.liveMembers(ctx, tenantID, []string{accountID})
	return buildUptime(accountID, rec, live[accountID]), nil
}

// TenantUptime returns the statistics of every monitored account, in
// monitoring order.
func (s *Service) TenantUptime(ctx context.Context, tenantID string) ([]Uptime, error) {
	if err := validateIDs(tenantID); err != nil {
		return nil, err
	}

	var (
		accounts []string
		records  = make(map[string]*core.StatsRecord)
	)
	err := s.store.View(ctx, func(snap *core.Snapshot) error {
		accounts = append(accounts, snap.Accounts(tenantID)...)
		for _, id := range accounts {
			if rec, ok := snap.Record(tenantID, id); ok {
				records[id] = rec
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	live := s.liveMembers(ctx, tenantID, accounts)
	uptimes := make([]Uptime, 0, len(accounts))
	for _, id := range accounts {
		uptimes = append(uptimes, *buildUptime(id, records[id], live[id]))
	}
	return uptimes, nil
}

// liveMembers resolves what it can; unresolvable accounts are simply absent.
func (s *Service) liveMembers(ctx context.Context, tenantID string, accounts []string) map[string]*presence.Member {
	live := make(map[string]*presence.Member, len(accounts))
	if s.source == nil || len(accounts) == 0 {
		return live
	}
	tenant, err := s.source.Tenant(ctx, tenantID)
	if err != nil {
		return live
	}
	for _, id := range accounts {
		if m, err := s.source.Member(ctx, tenant, id); err == nil {
			live[id] = m
		}
	}
	return live
}

func buildUptime(accountID string, rec *core.StatsRecord, member *presence.Member) *Uptime {
	u := &Uptime{
		AccountID:     accountID,
		LastStatus:    core.StatusUnknown.String(),
		CurrentStatus: StatusUnknown,
	}
	if rec != nil {
		u.OnlineTime = rec.OnlineTime
		u.OfflineTime = rec.OfflineTime
		u.TotalChecks = rec.Total()
		u.UptimePercentage = rec.UptimePercentage()
		u.LastStatus = rec.LastStatus.String()
		if !rec.LastCheck.IsZero() {
			t := rec.LastCheck.Time
			u.LastCheck = &t
		}
	}
	if member != nil {
		u.Name = member.Name
		u.CurrentStatus = member.Status.String()
	}
	return u
}
