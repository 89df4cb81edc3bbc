// Package events defines how removal notifications reach a controller, and provides an
// in-process bus for them.
package events

import (
	"context"

	"timeline_sync/internal/domain"
)

// Handler receives removal events. It may be called from any goroutine.
type Handler func(domain.RemovalEvent)

// Subscription ends delivery to its handler when closed.
type Subscription interface {
	Close() error
}

// Source is anything a controller can subscribe to for removal events.
type Source interface {
	Subscribe(ctx context.Context, h Handler) (Subscription, error)
}
