package metrics

import (
	"net/http"
	"time"

	"github.com/leozw/presence-guardian/internal/config"
	"github.com/leozw/presence-guardian/internal/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Collector struct {
	config   *config.MimirConfig
	gatherer prometheus.Gatherer
	client   *http.Client

	// Sampler
	ticksTotal        *prometheus.CounterVec
	tickDuration      prometheus.Histogram
	lastTickTimestamp prometheus.Gauge
	samplesTotal      *prometheus.CounterVec
	transitionsTotal  *prometheus.CounterVec
	unresolvedTotal   *prometheus.CounterVec

	// Per account
	accountUp               *prometheus.GaugeVec
	accountUptimePercentage *prometheus.GaugeVec
	monitoredAccounts       *prometheus.GaugeVec

	// Store
	storeOperationsTotal   *prometheus.CounterVec
	storeOperationDuration *prometheus.HistogramVec

	// Notifications
	notificationsSent   *prometheus.CounterVec
	notificationsFailed *prometheus.CounterVec
	notificationLatency *prometheus.HistogramVec
}

// NewCollector registers every metric on reg. reg is also the gatherer used
// by remote write, so pass a dedicated registry rather than the default one
// when running more than one collector (tests).
func NewCollector(reg *prometheus.Registry, cfg config.MimirConfig) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		config:   &cfg,
		gatherer: reg,
		client:   &http.Client{Timeout: 30 * time.Second},

		ticksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presence_sampler_ticks_total",
				Help: "Total number of sampler ticks by result",
			},
			[]string{"result"},
		),

		tickDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "presence_sampler_tick_duration_seconds",
				Help:    "Duration of a sampler tick in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),

		lastTickTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "presence_sampler_last_tick_timestamp_seconds",
				Help: "Unix time of the last completed sampler tick",
			},
		),

		samplesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presence_samples_total",
				Help: "Total number of successful presence samples",
			},
			[]string{"tenant_id", "status"},
		),

		transitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presence_transitions_total",
				Help: "Total number of online/offline transitions",
			},
			[]string{"tenant_id", "status"},
		),

		unresolvedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presence_unresolved_total",
				Help: "References the presence source could not resolve",
			},
			[]string{"tenant_id", "kind"},
		),

		accountUp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "presence_account_up",
				Help: "Whether the account was online (1) or offline (0) at the last sample",
			},
			[]string{"tenant_id", "account_id"},
		),

		accountUptimePercentage: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "presence_account_uptime_percentage",
				Help: "Cumulative uptime percentage of the account",
			},
			[]string{"tenant_id", "account_id"},
		),

		monitoredAccounts: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "presence_monitored_accounts",
				Help: "Number of monitored accounts per tenant",
			},
			[]string{"tenant_id"},
		),

		storeOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presence_store_operations_total",
				Help: "Total number of store loads and saves by result",
			},
			[]string{"operation", "result"},
		),

		storeOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "presence_store_operation_duration_seconds",
				Help:    "Duration of store operations in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),

		notificationsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presence_notifications_sent_total",
				Help: "Total number of notifications delivered",
			},
			[]string{"tenant_id", "sink"},
		),

		notificationsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presence_notifications_failed_total",
				Help: "Total number of notifications that could not be delivered",
			},
			[]string{"tenant_id", "sink"},
		),

		notificationLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "presence_notification_latency_seconds",
				Help:    "Time spent delivering a notification",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"sink"},
		),
	}
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (c *Collector) RecordTick(ok bool, seconds float64) {
	c.ticksTotal.WithLabelValues(resultLabel(ok)).Inc()
	c.tickDuration.Observe(seconds)
	if ok {
		c.lastTickTimestamp.SetToCurrentTime()
	}
}

// RecordSample updates the per-account gauges after a successful sample.
func (c *Collector) RecordSample(tenantID, accountID string, rec *core.StatsRecord) {
	c.samplesTotal.WithLabelValues(tenantID, rec.LastStatus.String()).Inc()

	upValue := 0.0
	if rec.LastStatus.IsOnline() {
		upValue = 1.0
	}
	c.accountUp.WithLabelValues(tenantID, accountID).Set(upValue)
	c.accountUptimePercentage.WithLabelValues(tenantID, accountID).Set(rec.UptimePercentage())
}

func (c *Collector) RecordTransition(tenantID string, status core.Status) {
	c.transitionsTotal.WithLabelValues(tenantID, status.String()).Inc()
}

// RecordUnresolved counts a skipped tenant, channel or member.
func (c *Collector) RecordUnresolved(tenantID, kind string) {
	c.unresolvedTotal.WithLabelValues(tenantID, kind).Inc()
}

func (c *Collector) SetMonitoredAccounts(tenantID string, n int) {
	c.monitoredAccounts.WithLabelValues(tenantID).Set(float64(n))
}

// ForgetAccount drops the gauges of an account that is no longer monitored.
func (c *Collector) ForgetAccount(tenantID, accountID string) {
	c.accountUp.DeleteLabelValues(tenantID, accountID)
	c.accountUptimePercentage.DeleteLabelValues(tenantID, accountID)
}

func (c *Collector) RecordStoreOperation(operation string, ok bool, seconds float64) {
	c.storeOperationsTotal.WithLabelValues(operation, resultLabel(ok)).Inc()
	c.storeOperationDuration.WithLabelValues(operation).Observe(seconds)
}

func (c *Collector) RecordNotification(tenantID, sink string, err error, seconds float64) {
	if err != nil {
		c.notificationsFailed.WithLabelValues(tenantID, sink).Inc()
	} else {
		c.notificationsSent.WithLabelValues(tenantID, sink).Inc()
	}
	c.notificationLatency.WithLabelValues(sink).Observe(seconds)
}
