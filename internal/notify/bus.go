package notify

import (
	"context"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
)

// BusSink publishes position events on a signal bus channel for live
// subscribers and appends them to a stream for consumers that replay.
type BusSink struct {
	bus     domain.SignalBus
	channel string
	stream  string
	logger  *zap.Logger
}

var _ domain.EventSink = (*BusSink)(nil)

// NewBusSink creates a BusSink. An empty stream disables the stream append.
func NewBusSink(bus domain.SignalBus, channel, stream string, logger *zap.Logger) *BusSink {
	return &BusSink{
		bus:     bus,
		channel: channel,
		stream:  stream,
		logger:  logger.With(zap.String("component", "bus_sink")),
	}
}

// Publish implements domain.EventSink.
func (s *BusSink) Publish(ctx context.Context, ev domain.PositionEvent) {
	payload, err := sonic.Marshal(ev)
	if err != nil {
		s.logger.Warn("marshal position event failed", zap.String("position_id", ev.PositionID), zap.Error(err))
		return
	}
	if err := s.bus.Publish(ctx, s.channel, payload); err != nil {
		s.logger.Warn("publish position event failed",
			zap.String("channel", s.channel), zap.String("position_id", ev.PositionID), zap.Error(err))
	}
	if s.stream == "" {
		return
	}
	if err := s.bus.StreamAppend(ctx, s.stream, payload); err != nil {
		s.logger.Warn("stream position event failed",
			zap.String("stream", s.stream), zap.String("position_id", ev.PositionID), zap.Error(err))
	}
}
