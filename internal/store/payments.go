package store

import (
	"context"
	"time"

	"commerce-service/internal/models"
)

// CreatePayment creates a new payment record
func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (order_id, method, amount, status, transaction_key, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	return s.q.QueryRowxContext(ctx, query,
		payment.OrderID, payment.Method, payment.Amount, payment.Status,
		payment.TransactionKey, payment.ProcessedAt,
	).Scan(&payment.ID, &payment.CreatedAt, &payment.UpdatedAt)
}

// GetPaymentByOrderID retrieves the payment of an order
func (s *Store) GetPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error) {
	var payment models.Payment
	err := s.q.GetContext(ctx, &payment, "SELECT * FROM payments WHERE order_id = $1", orderID)
	if err != nil {
		return nil, notFound(err, "payment not found for order: %d", orderID)
	}
	return &payment, nil
}

// GetPaymentByOrderIDForUpdate locks the payment of an order
func (s *Store) GetPaymentByOrderIDForUpdate(ctx context.Context, orderID int64) (*models.Payment, error) {
	var payment models.Payment
	err := s.q.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE order_id = $1 FOR UPDATE", orderID)
	if err != nil {
		return nil, notFound(err, "payment not found for order: %d", orderID)
	}
	return &payment, nil
}

// GetPaymentByTransactionKeyForUpdate locks a payment by its gateway key
func (s *Store) GetPaymentByTransactionKeyForUpdate(ctx context.Context, key string) (*models.Payment, error) {
	var payment models.Payment
	err := s.q.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE transaction_key = $1 FOR UPDATE", key)
	if err != nil {
		return nil, notFound(err, "payment not found for transaction key: %s", key)
	}
	return &payment, nil
}

// UpdatePaymentStatus writes a status transition of a locked payment
func (s *Store) UpdatePaymentStatus(ctx context.Context, p *models.Payment) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE payments
		SET status = $1, failure_reason = $2, processed_at = $3, updated_at = NOW()
		WHERE id = $4`,
		p.Status, p.FailureReason, p.ProcessedAt, p.ID)
	return err
}

// FindProcessingPaymentsBefore lists PROCESSING payments last touched before t
func (s *Store) FindProcessingPaymentsBefore(ctx context.Context, t time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.q.SelectContext(ctx, &payments, `
		SELECT * FROM payments
		WHERE status = $1 AND processed_at < $2
		ORDER BY processed_at
		LIMIT $3`,
		models.PaymentStatusProcessing, t, limit)
	return payments, err
}
