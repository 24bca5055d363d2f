package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/modelobserver/observer"
)

type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, scopeID string, reports []observer.Report) error {
	for _, r := range reports {
		p.logger.Info("ledger report",
			zap.String("scope_id", scopeID),
			zap.String("entity", r.Entity),
			zap.Int("created", r.Created),
			zap.Int("updated", r.Updated),
			zap.Int("deleted", r.Deleted),
			zap.Bool("untouched", r.Untouched),
		)
	}
	return nil
}
