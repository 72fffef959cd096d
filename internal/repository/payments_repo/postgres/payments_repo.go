package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/0xRazumovsky/e-commerce-fullstack/internal/domain"
	"github.com/0xRazumovsky/e-commerce-fullstack/internal/repository/payments_repo"
)

const uniqueViolation = "23505"

type pgPaymentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPaymentRepository(db *sql.DB, l *zap.Logger) payments_repo.PaymentRepository {
	return &pgPaymentRepository{db: db, logger: l}
}

func (r *pgPaymentRepository) CreatePayment(ctx context.Context, p *domain.Payment) error {
	query := `INSERT INTO payments (id, order_id, user_id, amount, currency, status, gateway_intent_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.OrderID, p.UserID, p.Amount, p.Currency, p.Status, p.GatewayIntentID, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			r.logger.Warn("Duplicate payment for order rejected", zap.String("order_id", p.OrderID))
			return domain.ErrPaymentExists
		}
		r.logger.Error("Failed to create payment", zap.String("order_id", p.OrderID), zap.Error(err))
		return fmt.Errorf("failed to create payment: %w", err)
	}
	r.logger.Debug("Payment created", zap.String("payment_id", p.ID), zap.String("order_id", p.OrderID))
	return nil
}

const paymentColumns = `id, order_id, user_id, amount, currency, status, gateway_intent_id, created_at, updated_at`

func (r *pgPaymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
}

func (r *pgPaymentRepository) GetByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = $1`, orderID)
}

func (r *pgPaymentRepository) GetByIntentID(ctx context.Context, intentID string) (*domain.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE gateway_intent_id = $1`, intentID)
}

func (r *pgPaymentRepository) getOne(ctx context.Context, query, arg string) (*domain.Payment, error) {
	p := &domain.Payment{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&p.ID, &p.OrderID, &p.UserID, &p.Amount, &p.Currency, &p.Status, &p.GatewayIntentID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		r.logger.Error("Failed to get payment", zap.Error(err))
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

func (r *pgPaymentRepository) ResolvePendingWithMessage(ctx context.Context, intentID string, status domain.PaymentStatus, msg *domain.OutboxMessage) (resolved bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		r.logger.Error("Failed to begin transaction for payment resolution", zap.String("intent_id", intentID), zap.Error(err))
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
			if err != nil {
				r.logger.Error("Failed to commit payment resolution transaction", zap.String("intent_id", intentID), zap.Error(err))
			}
		}
	}()

	// Guarded transition: only a pending row moves. Zero rows means the
	// callback was a duplicate or references an unknown intent.
	updateQuery := `UPDATE payments SET status = $2, updated_at = NOW()
		WHERE gateway_intent_id = $1 AND status = $3`
	res, err := tx.ExecContext(ctx, updateQuery, intentID, status, domain.PaymentStatusPending)
	if err != nil {
		return false, fmt.Errorf("tx failed to update payment status: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check update result: %w", err)
	}
	if rowsAffected == 0 {
		return false, nil
	}

	outboxQuery := `INSERT INTO outbox_messages (id, exchange, routing_key, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = tx.ExecContext(ctx, outboxQuery, msg.ID, msg.Exchange, msg.RoutingKey, msg.Payload, msg.Status, msg.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("tx failed to create outbox message: %w", err)
	}

	r.logger.Debug("Payment resolved in transaction",
		zap.String("intent_id", intentID),
		zap.String("status", string(status)))
	return true, err
}
