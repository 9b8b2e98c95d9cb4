package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/leozw/presence-guardian/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const SinkDiscord = "discord"

type mirror struct {
	sink        string
	notifier    Notifier
	destination string
}

// Dispatcher delivers queued messages through the primary notifier, throttled
// by a token bucket, and copies them to any configured mirrors.
type Dispatcher struct {
	primary     Notifier
	primarySink string
	mirrors     []mirror
	limiter     *rate.Limiter
	sendTimeout time.Duration
	logger      *zap.Logger
	metrics     *metrics.Collector
}

type DispatcherOption func(*Dispatcher)

// WithRateLimit caps deliveries per second. A non-positive rate disables the limit.
func WithRateLimit(perSecond float64, burst int) DispatcherOption {
	return func(d *Dispatcher) {
		if perSecond <= 0 {
			d.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithSendTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.sendTimeout = timeout }
}

// WithMirror copies every message to destination through n, prefixed with the tenant id.
func WithMirror(sink string, n Notifier, destination string) DispatcherOption {
	return func(d *Dispatcher) {
		d.mirrors = append(d.mirrors, mirror{sink: sink, notifier: n, destination: destination})
	}
}

func WithMetrics(c *metrics.Collector) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = c }
}

func NewDispatcher(primary Notifier, sink string, logger *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		primary:     primary,
		primarySink: sink,
		limiter:     rate.NewLimiter(rate.Inf, 0),
		sendTimeout: 10 * time.Second,
		logger:      logger.With(zap.String("component", "notify")),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deliver sends msgs in order and returns how many reached the primary
// notifier. Failures are logged and counted; once ctx is done the remaining
// messages are dropped.
func (d *Dispatcher) Deliver(ctx context.Context, msgs []Message) int {
	delivered := 0
	for i, msg := range msgs {
		if err := d.limiter.Wait(ctx); err != nil {
			d.logger.Warn("Dropping notifications",
				zap.Int("dropped", len(msgs)-i),
				zap.Error(err),
			)
			return delivered
		}

		if d.send(ctx, d.primarySink, d.primary, msg.TenantID, msg.Destination, msg.Text) {
			delivered++
		}
		for _, m := range d.mirrors {
			text := fmt.Sprintf("[%s] %s", msg.TenantID, msg.Text)
			d.send(ctx, m.sink, m.notifier, msg.TenantID, m.destination, text)
		}
	}
	return delivered
}

func (d *Dispatcher) send(ctx context.Context, sink string, n Notifier, tenantID, destination, text string) bool {
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	start := time.Now()
	err := n.Send(sendCtx, destination, text)
	if d.metrics != nil {
		d.metrics.RecordNotification(tenantID, sink, err, time.Since(start).Seconds())
	}
	if err != nil {
		d.logger.Warn("Failed to deliver notification",
			zap.String("sink", sink),
			zap.String("tenant_id", tenantID),
			zap.String("destination", destination),
			zap.Error(err),
		)
		return false
	}
	return true
}
