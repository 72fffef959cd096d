package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/0xRazumovsky/e-commerce-fullstack/internal/domain"
	"github.com/0xRazumovsky/e-commerce-fullstack/internal/repository/refunds_repo"
)

type pgRefundRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewRefundRepository(db *sql.DB, l *zap.Logger) refunds_repo.RefundRepository {
	return &pgRefundRepository{db: db, logger: l}
}

func (r *pgRefundRepository) CreateRefundWithMessage(ctx context.Context, refund *domain.Refund, markPaymentRefunded bool, msg *domain.OutboxMessage) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		r.logger.Error("Failed to begin transaction for refund creation", zap.String("payment_id", refund.PaymentID), zap.Error(err))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			r.logger.Warn("Rolling back refund creation transaction", zap.String("payment_id", refund.PaymentID), zap.Error(err))
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
			if err != nil {
				r.logger.Error("Failed to commit refund creation transaction", zap.String("payment_id", refund.PaymentID), zap.Error(err))
			}
		}
	}()

	refundQuery := `INSERT INTO refunds (id, payment_id, amount, reason, status, gateway_refund_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = tx.ExecContext(ctx, refundQuery,
		refund.ID, refund.PaymentID, refund.Amount, refund.Reason, refund.Status, refund.GatewayRefundID, refund.CreatedAt)
	if err != nil {
		return fmt.Errorf("tx failed to create refund: %w", err)
	}

	if markPaymentRefunded {
		paymentQuery := `UPDATE payments SET status = $2, updated_at = NOW() WHERE id = $1 AND status = $3`
		if _, err = tx.ExecContext(ctx, paymentQuery, refund.PaymentID, domain.PaymentStatusRefunded, domain.PaymentStatusCompleted); err != nil {
			return fmt.Errorf("tx failed to mark payment refunded: %w", err)
		}
	}

	outboxQuery := `INSERT INTO outbox_messages (id, exchange, routing_key, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = tx.ExecContext(ctx, outboxQuery, msg.ID, msg.Exchange, msg.RoutingKey, msg.Payload, msg.Status, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("tx failed to create outbox message: %w", err)
	}

	r.logger.Debug("Refund and outbox message inserted in transaction",
		zap.String("refund_id", refund.ID),
		zap.String("payment_id", refund.PaymentID))
	return err
}

func (r *pgRefundRepository) SumRefunded(ctx context.Context, paymentID string) (float64, error) {
	var sum float64
	query := `SELECT COALESCE(SUM(amount), 0) FROM refunds WHERE payment_id = $1`
	if err := r.db.QueryRowContext(ctx, query, paymentID).Scan(&sum); err != nil {
		r.logger.Error("Failed to sum refunds for payment", zap.String("payment_id", paymentID), zap.Error(err))
		return 0, fmt.Errorf("failed to sum refunds for payment %s: %w", paymentID, err)
	}
	return sum, nil
}

func (r *pgRefundRepository) GetByPaymentID(ctx context.Context, paymentID string) ([]*domain.Refund, error) {
	query := `SELECT id, payment_id, amount, reason, status, gateway_refund_id, created_at
		FROM refunds WHERE payment_id = $1 ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query, paymentID)
	if err != nil {
		r.logger.Error("Failed to query refunds for payment", zap.String("payment_id", paymentID), zap.Error(err))
		return nil, fmt.Errorf("failed to get refunds for payment %s: %w", paymentID, err)
	}
	defer rows.Close()

	var refunds []*domain.Refund
	for rows.Next() {
		refund := &domain.Refund{}
		if err := rows.Scan(&refund.ID, &refund.PaymentID, &refund.Amount, &refund.Reason, &refund.Status, &refund.GatewayRefundID, &refund.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan refund row: %w", err)
		}
		refunds = append(refunds, refund)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return refunds, nil
}
