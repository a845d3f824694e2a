// Package notify fans position events out to operators and downstream
// consumers: chat alerts (Telegram, Discord), the Redis signal bus and Kafka.
// Every sink is best-effort; a failed delivery is logged and never reaches
// the code that changed the position.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
)

// Sender is the interface that each chat channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier renders position events as chat messages and dispatches them to
// one or more Senders. Only event types in the allowed set are forwarded;
// an empty set allows all.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *zap.Logger
}

var _ domain.EventSink = (*Notifier)(nil)

// NewNotifier creates a Notifier delivering to senders.
func NewNotifier(senders []Sender, events []string, logger *zap.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(zap.String("component", "notifier")),
	}
}

// Publish implements domain.EventSink.
func (n *Notifier) Publish(ctx context.Context, ev domain.PositionEvent) {
	if len(n.events) > 0 && !n.events[string(ev.Type)] {
		n.logger.Debug("event filtered out", zap.String("event", string(ev.Type)))
		return
	}
	title, message := Render(ev)
	if err := n.dispatch(ctx, title, message); err != nil {
		n.logger.Warn("notification failed", zap.String("event", string(ev.Type)), zap.Error(err))
	}
}

// NotifyAll sends a free-form notification to all senders regardless of
// the event filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch sends to every sender; one failure does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.Debug("notification sent", zap.String("sender", s.Name()), zap.String("title", title))
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// Render formats ev as a chat title and body.
func Render(ev domain.PositionEvent) (title, message string) {
	symbol := ev.TokenAddress
	if ev.Position != nil && ev.Position.TokenSymbol != "" {
		symbol = ev.Position.TokenSymbol
	}

	switch ev.Type {
	case domain.PositionCreated:
		title = "Position opened: " + symbol
	case domain.PositionClosed:
		title = "Position closed: " + symbol
	default:
		title = "Position updated: " + symbol
	}

	var b strings.Builder
	fmt.Fprintf(&b, "agent %s\nposition %s", ev.AgentID, ev.PositionID)
	if p := ev.Position; p != nil {
		fmt.Fprintf(&b, "\nentry %s x %s", p.PurchasePrice, p.EffectiveRemaining())
		if p.CurrentStopLossPct != nil {
			fmt.Fprintf(&b, "\nstop %s%%", p.CurrentStopLossPct.StringFixed(2))
		}
		if p.DCACount > 0 {
			fmt.Fprintf(&b, "\ndca %d", p.DCACount)
		}
		if p.TakeProfitLevelsHit > 0 {
			fmt.Fprintf(&b, "\ntake-profit levels %d", p.TakeProfitLevelsHit)
		}
		if !p.RealizedProfit.IsZero() {
			fmt.Fprintf(&b, "\nrealized %s %s", p.RealizedProfit.StringFixed(4), domain.BaseSymbol)
		}
	}
	return title, b.String()
}
