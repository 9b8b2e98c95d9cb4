// Package report posts a periodic uptime digest to every tenant that has a
// notification channel.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/leozw/presence-guardian/internal/admin"
	"github.com/leozw/presence-guardian/internal/config"
	"github.com/leozw/presence-guardian/internal/core"
	"github.com/leozw/presence-guardian/internal/notify"
	"github.com/leozw/presence-guardian/internal/storage"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Reporter struct {
	schedule   cron.Schedule
	store      *storage.Store
	admin      *admin.Service
	dispatcher *notify.Dispatcher
	logger     *zap.Logger
	cron       *cron.Cron
}

func New(spec string, store *storage.Store, adminSvc *admin.Service, dispatcher *notify.Dispatcher, logger *zap.Logger) (*Reporter, error) {
	schedule, err := config.ScheduleParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid digest schedule %q: %w", spec, err)
	}

	return &Reporter{
		schedule:   schedule,
		store:      store,
		admin:      adminSvc,
		dispatcher: dispatcher,
		logger:     logger.With(zap.String("component", "report")),
		cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}, nil
}

// Start schedules the digest. Runs use ctx, so cancelling it drops any
// digest still being delivered.
func (r *Reporter) Start(ctx context.Context) {
	r.cron.Schedule(r.schedule, cron.FuncJob(func() {
		sent := r.Run(ctx)
		r.logger.Info("Uptime digest delivered", zap.Int("tenants", sent))
	}))
	r.cron.Start()
	r.logger.Info("Uptime digest scheduled", zap.Time("next", r.schedule.Next(time.Now())))
}

// Stop waits for a running digest to finish.
func (r *Reporter) Stop() {
	<-r.cron.Stop().Done()
}

// Run builds and delivers one digest per tenant with a channel and at least
// one monitored account. It returns how many were delivered.
func (r *Reporter) Run(ctx context.Context) int {
	type target struct {
		tenantID string
		channel  string
	}
	var targets []target

	err := r.store.View(ctx, func(snap *core.Snapshot) error {
		for _, tenantID := range snap.MonitoredTenants() {
			if ch, ok := snap.Channel(tenantID); ok {
				targets = append(targets, target{tenantID: tenantID, channel: ch})
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to load store for digest", zap.Error(err))
		return 0
	}

	var msgs []notify.Message
	for _, t := range targets {
		uptimes, err := r.admin.TenantUptime(ctx, t.tenantID)
		if err != nil {
			r.logger.Warn("Failed to build digest",
				zap.String("tenant_id", t.tenantID),
				zap.Error(err),
			)
			continue
		}
		msgs = append(msgs, notify.Message{
			TenantID:    t.tenantID,
			Destination: t.channel,
			Text:        Digest(uptimes),
		})
	}
	if len(msgs) == 0 {
		return 0
	}
	return r.dispatcher.Deliver(ctx, msgs)
}

// Digest renders one line per account.
func Digest(uptimes []admin.Uptime) string {
	var b strings.Builder
	b.WriteString("📊 **Uptime summary**")
	for _, u := range uptimes {
		name := u.Name
		if name == "" {
			name = u.AccountID
		}
		fmt.Fprintf(&b, "\n%s **%s**: %.2f%% (%d checks)", statusEmoji(u.CurrentStatus), name, u.UptimePercentage, u.TotalChecks)
	}
	return b.String()
}

func statusEmoji(status string) string {
	switch status {
	case core.StatusOnline.String():
		return "🟢"
	case core.StatusOffline.String():
		return "🔴"
	default:
		return "❓"
	}
}
