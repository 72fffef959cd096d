package outbox_repo

import (
	"context"

	"github.com/0xRazumovsky/e-commerce-fullstack/internal/domain"
)

type OutboxRepository interface {
	GetUnsentMessages(ctx context.Context) ([]*domain.OutboxMessage, error)
	MarkMessageSent(ctx context.Context, id string) error
}
