package events

import (
	"context"

	"github.com/Harshitk-cp/veracity/internal/domain"
	"go.uber.org/zap"
)

// LogPublisher stands in when no broker is configured. It only logs.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) PublishSettlement(ctx context.Context, e domain.SettlementEvent) error {
	p.logger.Info("settlement event",
		zap.String("content_id", e.ContentID),
		zap.Uint64("epoch", e.EpochNumber),
		zap.Int("contributors", e.Contributors),
		zap.Any("values", e.Values))
	return nil
}

func (p *LogPublisher) Close() error { return nil }
