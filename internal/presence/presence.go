// Package presence defines what the sampler and the admin surface need from
// the chat platform.
package presence

import (
	"context"
	"errors"

	"github.com/leozw/presence-guardian/internal/core"
)

// ErrNotFound is returned when a tenant, channel or member cannot be resolved.
var ErrNotFound = errors.New("not found")

type Tenant struct {
	ID   string
	Name string
}

type Channel struct {
	ID   string
	Name string
}

type Member struct {
	ID     string
	Name   string
	Bot    bool
	Status core.Status
}

// Source resolves tenants, channels and members and reports live presence.
// Any lookup may fail with ErrNotFound; callers treat that as a skip.
type Source interface {
	// Ready reports whether the session has received its initial state.
	Ready() bool
	Tenant(ctx context.Context, tenantID string) (*Tenant, error)
	Channel(ctx context.Context, tenant *Tenant, channelID string) (*Channel, error)
	Member(ctx context.Context, tenant *Tenant, accountID string) (*Member, error)
}
