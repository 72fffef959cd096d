package outbox

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/0xRazumovsky/e-commerce-fullstack/internal/broker"
	"github.com/0xRazumovsky/e-commerce-fullstack/internal/repository/outbox_repo"
)

// Processor relays pending outbox rows to the broker. A publish failure
// (including a not-yet-connected broker) leaves the row pending for the
// next tick, which is what makes the store write and the event emission
// eventually consistent.
type Processor struct {
	outboxRepo   outbox_repo.OutboxRepository
	broker       broker.Broker
	pollInterval time.Duration
	pollTimeout  time.Duration
	logger       *zap.Logger
}

func NewProcessor(
	outboxRepo outbox_repo.OutboxRepository,
	b broker.Broker,
	pollInterval time.Duration,
	pollTimeout time.Duration,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		outboxRepo:   outboxRepo,
		broker:       b,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
		logger:       logger,
	}
}

func (p *Processor) Run(ctx context.Context) {
	p.logger.Info("Outbox processor started", zap.Duration("poll_interval", p.pollInterval))
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.ProcessOnce(ctx)
		case <-ctx.Done():
			p.logger.Info("Outbox processor stopped")
			return
		}
	}
}

func (p *Processor) ProcessOnce(ctx context.Context) {
	queryCtx, cancel := context.WithTimeout(ctx, p.pollTimeout)
	defer cancel()

	messages, err := p.outboxRepo.GetUnsentMessages(queryCtx)
	if err != nil {
		p.logger.Error("Failed to get unsent outbox messages", zap.Error(err))
		return
	}
	if len(messages) == 0 {
		return
	}

	p.logger.Info("Processing unsent outbox messages", zap.Int("count", len(messages)))

	for _, msg := range messages {
		if err := p.broker.Publish(queryCtx, msg.Exchange, msg.RoutingKey, msg.Payload); err != nil {
			if errors.Is(err, broker.ErrNotConnected) {
				p.logger.Warn("Broker not ready, leaving outbox messages pending")
				return
			}
			p.logger.Error("Failed to publish outbox message",
				zap.String("message_id", msg.ID),
				zap.String("routing_key", msg.RoutingKey),
				zap.Error(err))
			continue
		}
		if err := p.outboxRepo.MarkMessageSent(queryCtx, msg.ID); err != nil {
			p.logger.Error("Failed to mark outbox message as sent",
				zap.String("message_id", msg.ID),
				zap.Error(err))
			continue
		}
		p.logger.Debug("Outbox message sent",
			zap.String("message_id", msg.ID),
			zap.String("routing_key", msg.RoutingKey))
	}
}
