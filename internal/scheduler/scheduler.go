package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/leozw/presence-guardian/internal/config"
	"github.com/leozw/presence-guardian/internal/core"
	"github.com/leozw/presence-guardian/internal/metrics"
	"github.com/leozw/presence-guardian/internal/notify"
	"github.com/leozw/presence-guardian/internal/presence"
	"github.com/leozw/presence-guardian/internal/storage"
	"go.uber.org/zap"
)

const tickerTag = "sampler"

var errNotReady = errors.New("presence source not ready")

// Sampler periodically records the presence of every monitored account and
// queues change notifications.
type Sampler struct {
	store      *storage.Store
	source     presence.Source
	dispatcher *notify.Dispatcher
	metrics    *metrics.Collector
	logger     *zap.Logger
	config     config.SamplerConfig
	clock      quartz.Clock
}

type Option func(*Sampler)

func WithClock(clock quartz.Clock) Option {
	return func(s *Sampler) { s.clock = clock }
}

func NewSampler(
	store *storage.Store,
	source presence.Source,
	dispatcher *notify.Dispatcher,
	metrics *metrics.Collector,
	logger *zap.Logger,
	cfg config.SamplerConfig,
	opts ...Option,
) *Sampler {
	s := &Sampler{
		store:      store,
		source:     source,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger.With(zap.String("component", "sampler")),
		config:     cfg,
		clock:      quartz.NewReal(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start waits for the presence source, runs a first tick and then one tick
// per interval until ctx is cancelled. Ticks never overlap, and a tick that
// is running when ctx is cancelled still persists its results.
func (s *Sampler) Start(ctx context.Context) error {
	if err := s.waitReady(ctx); err != nil {
		return err
	}

	s.logger.Info("Starting sampler", zap.Duration("interval", s.config.Interval))
	_ = s.Tick(ctx)

	w := s.clock.TickerFunc(ctx, s.config.Interval, func() error {
		_ = s.Tick(ctx)
		return nil
	}, tickerTag)

	err := w.Wait()
	s.logger.Info("Stopping sampler")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Sampler) waitReady(ctx context.Context) error {
	if s.config.ReadyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ReadyTimeout)
		defer cancel()
	}

	poll := s.config.ReadyPollInterval
	if poll <= 0 {
		poll = time.Second
	}

	logged := false
	err := backoff.Retry(func() error {
		if s.source.Ready() {
			return nil
		}
		if !logged {
			s.logger.Info("Waiting for presence source to become ready")
			logged = true
		}
		return errNotReady
	}, backoff.WithContext(backoff.NewConstantBackOff(poll), ctx))
	if err != nil {
		return fmt.Errorf("failed waiting for presence source: %w", err)
	}
	return nil
}

// Tick runs one sampling pass: every tenant is sampled and the snapshot is
// saved once, then queued notifications are delivered. Cancelling ctx does
// not interrupt the store write; it only drops undelivered notifications.
func (s *Sampler) Tick(ctx context.Context) error {
	logger := s.logger.With(zap.String("tick_id", uuid.New().String()))
	start := s.clock.Now()

	updateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.tickTimeout())
	defer cancel()

	var result *tickResult
	err := s.store.Update(updateCtx, func(snap *core.Snapshot) error {
		result = s.sample(updateCtx, logger, snap)
		return nil
	})
	s.metrics.RecordTick(err == nil, s.clock.Since(start).Seconds())
	if err != nil {
		logger.Error("Tick failed, statistics not persisted", zap.Error(err))
		return err
	}

	for _, sm := range result.samples {
		s.metrics.RecordSample(sm.tenantID, sm.accountID, &sm.record)
	}
	for _, tr := range result.transitions {
		s.metrics.RecordTransition(tr.tenantID, tr.status)
	}

	if len(result.outbox) > 0 {
		delivered := s.dispatcher.Deliver(ctx, result.outbox)
		logger.Debug("Delivered notifications",
			zap.Int("queued", len(result.outbox)),
			zap.Int("delivered", delivered),
		)
	}
	return nil
}

// tickResult holds what a tick reports once its snapshot is saved.
type tickResult struct {
	outbox      []notify.Message
	samples     []sampled
	transitions []transition
}

type sampled struct {
	tenantID  string
	accountID string
	record    core.StatsRecord
}

type transition struct {
	tenantID string
	status   core.Status
}

func (s *Sampler) tickTimeout() time.Duration {
	if s.config.TickTimeout > 0 {
		return s.config.TickTimeout
	}
	return s.config.Interval
}

func (s *Sampler) sample(ctx context.Context, logger *zap.Logger, snap *core.Snapshot) *tickResult {
	result := &tickResult{}

	for _, tenantID := range snap.MonitoredTenants() {
		tlog := logger.With(zap.String("tenant_id", tenantID))
		accounts := snap.Accounts(tenantID)
		s.metrics.SetMonitoredAccounts(tenantID, len(accounts))

		tenant, err := s.source.Tenant(ctx, tenantID)
		if err != nil {
			tlog.Debug("Tenant unavailable, skipping", zap.Error(err))
			s.metrics.RecordUnresolved(tenantID, "tenant")
			continue
		}

		destination := s.destination(ctx, tlog, snap, tenant)

		for _, accountID := range accounts {
			member, err := s.source.Member(ctx, tenant, accountID)
			if err != nil {
				tlog.Debug("Member unavailable, skipping",
					zap.String("account_id", accountID),
					zap.Error(err),
				)
				s.metrics.RecordUnresolved(tenantID, "member")
				continue
			}

			now := s.clock.Now()
			rec, ok := snap.Record(tenantID, accountID)
			if !ok {
				rec = core.NewStatsRecord(member.Status, now)
				snap.PutRecord(tenantID, accountID, rec)
			} else if rec.Observe(member.Status, now) {
				result.transitions = append(result.transitions, transition{tenantID: tenantID, status: member.Status})
				tlog.Info("Presence changed",
					zap.String("account_id", accountID),
					zap.String("status", member.Status.String()),
				)
				if destination != "" {
					result.outbox = append(result.outbox, notify.Message{
						TenantID:    tenantID,
						Destination: destination,
						Text:        notify.TransitionText(member.Name, member.Status),
					})
				}
			}
			result.samples = append(result.samples, sampled{tenantID: tenantID, accountID: accountID, record: *rec})
		}
	}
	return result
}

// destination returns the resolved notification channel of tenant, or "" when
// it is unset or no longer resolvable.
func (s *Sampler) destination(ctx context.Context, logger *zap.Logger, snap *core.Snapshot, tenant *presence.Tenant) string {
	channelID, ok := snap.Channel(tenant.ID)
	if !ok {
		return ""
	}
	ch, err := s.source.Channel(ctx, tenant, channelID)
	if err != nil {
		logger.Debug("Notification channel unavailable, notifications suppressed",
			zap.String("channel_id", channelID),
			zap.Error(err),
		)
		s.metrics.RecordUnresolved(tenant.ID, "channel")
		return ""
	}
	return ch.ID
}
