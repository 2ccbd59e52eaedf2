package service

import (
	"context"
	"sort"
	"time"

	"commerce-service/internal/apperr"
	"commerce-service/internal/models"
	"commerce-service/internal/store"
	"commerce-service/internal/util"

	"go.uber.org/zap"
)

// StockItem is a quantity of one product to hold for an order
type StockItem struct {
	ProductID int64
	Quantity  int
}

// StockService reserves, commits and releases inventory for orders
type StockService struct {
	store     *store.Store
	points    *PointService
	publisher Publisher
	ttl       time.Duration
	batchSize int
	now       Clock
	logger    *zap.Logger
}

// NewStockService creates a new stock service
func NewStockService(s *store.Store, points *PointService, publisher Publisher, ttl time.Duration, batchSize int) *StockService {
	return &StockService{
		store:     s,
		points:    points,
		publisher: publisher,
		ttl:       ttl,
		batchSize: batchSize,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

// mergeItems sums duplicate products and sorts by product id so locks are
// always taken in ascending order.
func mergeItems(items []StockItem) []StockItem {
	qty := make(map[int64]int, len(items))
	for _, item := range items {
		qty[item.ProductID] += item.Quantity
	}

	merged := make([]StockItem, 0, len(qty))
	for id, q := range qty {
		merged = append(merged, StockItem{ProductID: id, Quantity: q})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ProductID < merged[j].ProductID })
	return merged
}

// Reserve holds stock for every item of an order inside tx. Any failure
// leaves the transaction to be rolled back by the caller, so no partial
// reservation survives.
func (s *StockService) Reserve(ctx context.Context, tx *store.Store, orderID int64, items []StockItem) error {
	ctx, span := util.StartSpan(ctx, "StockService.Reserve")
	defer span.End()

	expiresAt := s.now().Add(s.ttl)
	for _, item := range mergeItems(items) {
		if item.Quantity <= 0 {
			return apperr.Validation("quantity must be positive for product %d", item.ProductID)
		}

		inv, err := tx.LockInventory(ctx, item.ProductID)
		if err != nil {
			util.InventoryReservationsFailed.WithLabelValues("error").Inc()
			return err
		}
		if inv.Available < item.Quantity {
			util.InventoryReservationsFailed.WithLabelValues("insufficient_stock").Inc()
			return apperr.InsufficientStock(item.ProductID, inv.Available, item.Quantity)
		}

		if err := tx.ReserveInventory(ctx, item.ProductID, item.Quantity); err != nil {
			return err
		}
		if err := tx.CreateReservation(ctx, &models.StockReservation{
			OrderID:   orderID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Status:    models.ReservationStatusReserved,
			ExpiresAt: expiresAt,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Commit finalizes the reservations of a paid order. Stock was already
// taken from available at reserve time.
func (s *StockService) Commit(ctx context.Context, tx *store.Store, orderID int64) error {
	reservations, err := tx.GetReservationsForUpdate(ctx, orderID, models.ReservationStatusReserved)
	if err != nil {
		return err
	}
	if len(reservations) == 0 {
		return apperr.NotFound("no reserved stock for order: %d", orderID)
	}

	for _, r := range reservations {
		if err := tx.UpdateReservationStatus(ctx, r.ID, models.ReservationStatusCommitted); err != nil {
			return err
		}
		if err := tx.DeductReserved(ctx, r.ProductID, r.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// Release returns the reserved stock of an order. Only RESERVED rows are
// touched so repeated calls are harmless.
func (s *StockService) Release(ctx context.Context, tx *store.Store, orderID int64) error {
	_, err := s.returnStock(ctx, tx, orderID, models.ReservationStatusReleased)
	return err
}

func (s *StockService) returnStock(ctx context.Context, tx *store.Store, orderID int64, status string) (int, error) {
	reservations, err := tx.GetReservationsForUpdate(ctx, orderID, models.ReservationStatusReserved)
	if err != nil {
		return 0, err
	}

	for _, r := range reservations {
		if err := tx.UpdateReservationStatus(ctx, r.ID, status); err != nil {
			return 0, err
		}
		if err := tx.RestoreInventory(ctx, r.ProductID, r.Quantity); err != nil {
			return 0, err
		}
	}
	return len(reservations), nil
}

// SweepExpired expires reservations past their deadline, one order per
// transaction. The order is cancelled and a pending payment failed.
// Returns the number of orders swept.
func (s *StockService) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	orderIDs, err := s.store.FindExpiredReservationOrders(ctx, now, s.batchSize)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, orderID := range orderIDs {
		expired, err := s.expireOrder(ctx, orderID)
		if err != nil {
			s.logger.Error("Failed to expire reservations",
				zap.Int64("order_id", orderID),
				zap.Error(err))
			continue
		}
		if expired {
			swept++
		}
	}

	if swept > 0 {
		util.ReservationsSweptTotal.Add(float64(swept))
		s.logger.Info("Expired reservations swept", zap.Int("orders", swept))
	}
	return swept, nil
}

func (s *StockService) expireOrder(ctx context.Context, orderID int64) (bool, error) {
	expired := false
	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		payment, err := tx.GetPaymentByOrderIDForUpdate(ctx, orderID)
		if err != nil && !apperr.Is(err, apperr.KindNotFound) {
			return err
		}
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}

		n, err := s.returnStock(ctx, tx, orderID, models.ReservationStatusExpired)
		if err != nil || n == 0 {
			return err
		}
		expired = true

		if order.Status == models.OrderStatusCreated {
			if err := cancelOrder(ctx, tx, s.points, order, "reservation_expired"); err != nil {
				return err
			}
		}
		if payment != nil && !payment.IsTerminal() {
			payment.Status = models.PaymentStatusFailed
			payment.FailureReason = "reservation expired"
			payment.ProcessedAt = s.now()
			if err := tx.UpdatePaymentStatus(ctx, payment); err != nil {
				return err
			}
			util.PaymentTransitionsTotal.WithLabelValues(payment.Method, payment.Status).Inc()
		}
		return nil
	})
	return expired, err
}

// Adjust changes available stock by delta and publishes StockAdjusted
func (s *StockService) Adjust(ctx context.Context, productID int64, delta int) (int, error) {
	if delta == 0 {
		return 0, apperr.Validation("stock delta must not be zero")
	}

	var current int
	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		inv, err := tx.LockInventory(ctx, productID)
		if err != nil {
			return err
		}
		if inv.Available+delta < 0 {
			return apperr.Validation("stock of product %d cannot go below zero: available=%d, delta=%d",
				productID, inv.Available, delta)
		}
		current, err = tx.AdjustInventory(ctx, productID, delta)
		if err != nil {
			return err
		}
		tx.AfterCommit(publishAfterCommit(ctx, s.publisher,
			models.NewStockAdjustedEvent(productID, delta, current)))
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("Stock adjusted",
		zap.Int64("product_id", productID),
		zap.Int("delta", delta),
		zap.Int("current", current))
	return current, nil
}

// cancelOrder moves a CREATED order to CANCELLED and refunds the point
// discount it consumed.
func cancelOrder(ctx context.Context, tx *store.Store, points *PointService, order *models.Order, reason string) error {
	ok, err := tx.UpdateOrderStatus(ctx, order.ID, models.OrderStatusCreated, models.OrderStatusCancelled)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Conflict("order %d is no longer %s", order.ID, models.OrderStatusCreated)
	}
	order.Status = models.OrderStatusCancelled

	if order.DiscountAmount > 0 {
		ref := models.PointReference{Type: models.PointReferenceOrder, ID: order.ID}
		if err := points.Credit(ctx, tx, order.UserID, order.DiscountAmount, ref); err != nil {
			return err
		}
	}
	util.OrdersCancelledTotal.WithLabelValues(reason).Inc()
	return nil
}
