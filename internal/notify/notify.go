package notify

import (
	"context"
	"fmt"

	"github.com/leozw/presence-guardian/internal/core"
)

// Notifier posts text to a destination (a channel or chat id). Delivery is
// best-effort: callers log failures and never retry.
type Notifier interface {
	Send(ctx context.Context, destination, text string) error
}

// Message is a notification queued for delivery to one tenant's destination.
type Message struct {
	TenantID    string
	Destination string
	Text        string
}

// TransitionText formats the change notification for a status flip.
func TransitionText(name string, status core.Status) string {
	if status == core.StatusOffline {
		return fmt.Sprintf("⚠️ **%s** is now **offline**!", name)
	}
	return fmt.Sprintf("✅ **%s** is now **online**!", name)
}
