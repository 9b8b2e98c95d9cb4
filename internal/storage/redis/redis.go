// Package redis keeps the snapshot as one JSON value under a single key.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/leozw/presence-guardian/internal/core"
	"github.com/leozw/presence-guardian/internal/storage"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultKey = "presence-guardian:snapshot"

	// DefaultLockTTL must outlast the longest exclusive region (a sampler
	// tick is bounded by sampler.tick_timeout). It only matters when a
	// holder dies without unlocking.
	DefaultLockTTL = 2 * time.Minute

	lockRetryDelay = 50 * time.Millisecond
)

var errLockHeld = errors.New("held by another process")

// unlockScript deletes the lock only while it still carries our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Backend struct {
	client      *redis.Client
	key         string
	lockTTL     time.Duration
	lockTimeout time.Duration
}

type Option func(*Backend)

// WithLockTimeout bounds how long Lock waits for another holder.
func WithLockTimeout(timeout time.Duration) Option {
	return func(b *Backend) { b.lockTimeout = timeout }
}

func WithLockTTL(ttl time.Duration) Option {
	return func(b *Backend) { b.lockTTL = ttl }
}

// NewClient accepts a redis:// URL or a bare host:port address.
func NewClient(redisURL string) *redis.Client {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{
			Addr: redisURL,
		}
	}
	return redis.NewClient(opt)
}

func New(client *redis.Client, key string, opts ...Option) *Backend {
	if key == "" {
		key = DefaultKey
	}
	b := &Backend{client: client, key: key, lockTTL: DefaultLockTTL}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) lockKey() string {
	return b.key + ":lock"
}

// Lock takes "<key>:lock" with SET NX PX and a random token, retrying until
// it is free, ctx is done or the lock timeout expires.
func (b *Backend) Lock(ctx context.Context) (func(), error) {
	if b.lockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.lockTimeout)
		defer cancel()
	}

	lockKey := b.lockKey()
	token := uuid.New().String()

	err := backoff.Retry(func() error {
		ok, err := b.client.SetNX(ctx, lockKey, token, b.lockTTL).Result()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errLockHeld
		}
		return nil
	}, backoff.WithContext(backoff.NewConstantBackOff(lockRetryDelay), ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", lockKey, err)
	}

	return func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = unlockScript.Run(unlockCtx, b.client, []string{lockKey}, token).Err()
	}, nil
}

func (b *Backend) Load(ctx context.Context) (*core.Snapshot, error) {
	data, err := b.client.Get(ctx, b.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.NewSnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", b.key, err)
	}

	snap := core.NewSnapshot()
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("%w: key %s: %v", storage.ErrStoreCorrupt, b.key, err)
	}
	return snap, nil
}

// Save replaces the value with a single SET, which Redis applies atomically.
func (b *Backend) Save(ctx context.Context, snap *core.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := b.client.Set(ctx, b.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", b.key, err)
	}
	return nil
}

func (b *Backend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *Backend) Close() error {
	return b.client.Close()
}
