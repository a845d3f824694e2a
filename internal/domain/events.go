package domain

import (
	"context"
	"time"
)

// PositionEventType names a position lifecycle notification.
type PositionEventType string

const (
	PositionCreated PositionEventType = "position_created"
	PositionUpdated PositionEventType = "position_updated"
	PositionClosed  PositionEventType = "position_closed"
)

// PositionEvent is a best-effort lifecycle notification. Position carries the
// snapshot for created/updated events and the last known state for closed.
type PositionEvent struct {
	Type          PositionEventType `json:"type"`
	AgentID       string            `json:"agent_id"`
	WalletAddress string            `json:"wallet_address"`
	TokenAddress  string            `json:"token_address"`
	PositionID    string            `json:"position_id"`
	Position      *Position         `json:"position,omitempty"`
	At            time.Time         `json:"at"`
}

// EventSink receives position events. Delivery is at-most-once; Publish never
// fails the caller.
type EventSink interface {
	Publish(ctx context.Context, ev PositionEvent)
}
