package store

import (
	"context"

	"commerce-service/internal/models"
)

// GetPoint reads a user's balance without locking
func (s *Store) GetPoint(ctx context.Context, userID int64) (*models.Point, error) {
	var p models.Point
	err := s.q.GetContext(ctx, &p, "SELECT * FROM points WHERE user_id = $1", userID)
	if err != nil {
		return nil, notFound(err, "point account not found for user: %d", userID)
	}
	return &p, nil
}

// GetPointForUpdate locks a user's point row
func (s *Store) GetPointForUpdate(ctx context.Context, userID int64) (*models.Point, error) {
	var p models.Point
	err := s.q.GetContext(ctx, &p, "SELECT * FROM points WHERE user_id = $1 FOR UPDATE", userID)
	if err != nil {
		return nil, notFound(err, "point account not found for user: %d", userID)
	}
	return &p, nil
}

// CreatePoint opens a zero-balance account; an existing one is kept.
func (s *Store) CreatePoint(ctx context.Context, userID int64) error {
	_, err := s.q.ExecContext(ctx,
		"INSERT INTO points (user_id, balance) VALUES ($1, 0) ON CONFLICT (user_id) DO NOTHING", userID)
	return err
}

// UpdatePointBalance writes the new balance of a locked row
func (s *Store) UpdatePointBalance(ctx context.Context, userID, balance int64) error {
	_, err := s.q.ExecContext(ctx,
		"UPDATE points SET balance = $1, updated_at = NOW() WHERE user_id = $2", balance, userID)
	return err
}

// HasPointHistory reports whether a movement for the reference was recorded
// on the user's ledger. References are scoped per user.
func (s *Store) HasPointHistory(ctx context.Context, userID int64, ref models.PointReference, txType string) (bool, error) {
	var exists bool
	err := s.q.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM point_histories
			WHERE user_id = $1 AND reference_type = $2 AND reference_id = $3 AND transaction_type = $4)`,
		userID, ref.Type, ref.ID, txType)
	return exists, err
}

// InsertPointHistory appends a ledger entry and reports whether it was new
func (s *Store) InsertPointHistory(ctx context.Context, h *models.PointHistory) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO point_histories (user_id, amount, balance_after, transaction_type, reference_type, reference_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, reference_type, reference_id, transaction_type) DO NOTHING`,
		h.UserID, h.Amount, h.BalanceAfter, h.TransactionType, h.ReferenceType, h.ReferenceID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// GetPointHistories lists a user's ledger, newest first
func (s *Store) GetPointHistories(ctx context.Context, userID int64, limit int) ([]models.PointHistory, error) {
	var hs []models.PointHistory
	err := s.q.SelectContext(ctx, &hs, `
		SELECT * FROM point_histories WHERE user_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2`,
		userID, limit)
	return hs, err
}
