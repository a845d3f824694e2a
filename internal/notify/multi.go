package notify

import (
	"context"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
)

// Multi delivers each event to every sink in order.
type Multi []domain.EventSink

var _ domain.EventSink = Multi(nil)

// Publish implements domain.EventSink.
func (m Multi) Publish(ctx context.Context, ev domain.PositionEvent) {
	for _, s := range m {
		s.Publish(ctx, ev)
	}
}

// Discard drops every event.
type Discard struct{}

// Publish implements domain.EventSink.
func (Discard) Publish(context.Context, domain.PositionEvent) {}
