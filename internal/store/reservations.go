package store

import (
	"context"
	"time"

	"commerce-service/internal/apperr"
	"commerce-service/internal/models"
)

// LockInventory locks the inventory row of a product
func (s *Store) LockInventory(ctx context.Context, productID int64) (*models.Inventory, error) {
	var inv models.Inventory
	err := s.q.GetContext(ctx, &inv,
		"SELECT * FROM inventory WHERE product_id = $1 FOR UPDATE", productID)
	if err != nil {
		return nil, notFound(err, "inventory not found for product: %d", productID)
	}
	return &inv, nil
}

// ReserveInventory moves quantity from available to reserved. The caller
// holds the row lock and has checked availability.
func (s *Store) ReserveInventory(ctx context.Context, productID int64, quantity int) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE inventory
		SET available = available - $1, reserved = reserved + $1, updated_at = NOW()
		WHERE product_id = $2`,
		quantity, productID)
	return err
}

// RestoreInventory returns reserved quantity to available
func (s *Store) RestoreInventory(ctx context.Context, productID int64, quantity int) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE inventory
		SET available = available + $1, reserved = reserved - $1, updated_at = NOW()
		WHERE product_id = $2`,
		quantity, productID)
	return err
}

// DeductReserved drops quantity from reserved once the sale is final
func (s *Store) DeductReserved(ctx context.Context, productID int64, quantity int) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE inventory
		SET reserved = reserved - $1, updated_at = NOW()
		WHERE product_id = $2`,
		quantity, productID)
	return err
}

// AdjustInventory changes available stock by delta and returns the new value.
// A delta that would make stock negative is rejected.
func (s *Store) AdjustInventory(ctx context.Context, productID int64, delta int) (int, error) {
	var available int
	err := s.q.GetContext(ctx, &available, `
		UPDATE inventory
		SET available = available + $1, updated_at = NOW()
		WHERE product_id = $2 AND available + $1 >= 0
		RETURNING available`,
		delta, productID)
	if err != nil {
		return 0, notFound(err, "inventory not found or would go negative for product: %d", productID)
	}
	return available, nil
}

// CreateReservation inserts a reservation row
func (s *Store) CreateReservation(ctx context.Context, r *models.StockReservation) error {
	query := `
		INSERT INTO stock_reservations (order_id, product_id, quantity, status, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	return s.q.QueryRowxContext(ctx, query,
		r.OrderID, r.ProductID, r.Quantity, r.Status, r.ExpiresAt,
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
}

// GetReservationsForUpdate locks the reservations of an order in the given
// status, ordered by product id.
func (s *Store) GetReservationsForUpdate(ctx context.Context, orderID int64, status string) ([]models.StockReservation, error) {
	var rs []models.StockReservation
	err := s.q.SelectContext(ctx, &rs, `
		SELECT * FROM stock_reservations
		WHERE order_id = $1 AND status = $2
		ORDER BY product_id
		FOR UPDATE`,
		orderID, status)
	return rs, err
}

// GetReservationsByOrderID lists every reservation of an order
func (s *Store) GetReservationsByOrderID(ctx context.Context, orderID int64) ([]models.StockReservation, error) {
	var rs []models.StockReservation
	err := s.q.SelectContext(ctx, &rs,
		"SELECT * FROM stock_reservations WHERE order_id = $1 ORDER BY product_id", orderID)
	return rs, err
}

// UpdateReservationStatus transitions a reservation out of RESERVED
func (s *Store) UpdateReservationStatus(ctx context.Context, id int64, status string) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE stock_reservations SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`,
		status, id, models.ReservationStatusReserved)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.Conflict("reservation %d is no longer reserved", id)
	}
	return nil
}

// FindExpiredReservationOrders returns ids of orders holding RESERVED
// reservations that expired before now.
func (s *Store) FindExpiredReservationOrders(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	var ids []int64
	err := s.q.SelectContext(ctx, &ids, `
		SELECT DISTINCT order_id FROM stock_reservations
		WHERE status = $1 AND expires_at < $2
		ORDER BY order_id
		LIMIT $3`,
		models.ReservationStatusReserved, now, limit)
	return ids, err
}
