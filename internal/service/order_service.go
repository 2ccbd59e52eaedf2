package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"commerce-service/internal/apperr"
	"commerce-service/internal/models"
	"commerce-service/internal/store"
	"commerce-service/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const idempotencyClaimTTL = 30 * time.Second

// KeyClaimer guards an idempotency key while its request is in flight.
// Implemented by redisclient.Client.
type KeyClaimer interface {
	ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseIdempotencyKey(ctx context.Context, key string) error
}

// CouponDiscounter computes a coupon discount for an order total
type CouponDiscounter interface {
	Discount(ctx context.Context, userID, couponID, total int64) (int64, error)
}

// NoCoupons grants no discount
type NoCoupons struct{}

func (NoCoupons) Discount(context.Context, int64, int64, int64) (int64, error) {
	return 0, nil
}

// OrderService composes stock, points and payment into one order
// transaction.
type OrderService struct {
	store    *store.Store
	stock    *StockService
	points   *PointService
	payments *PaymentService
	coupons  CouponDiscounter
	claimer  KeyClaimer
	logger   *zap.Logger
}

// NewOrderService creates a new order service. claimer may be nil.
func NewOrderService(
	s *store.Store,
	stock *StockService,
	points *PointService,
	payments *PaymentService,
	coupons CouponDiscounter,
	claimer KeyClaimer,
) *OrderService {
	if coupons == nil {
		coupons = NoCoupons{}
	}
	return &OrderService{
		store:    s,
		stock:    stock,
		points:   points,
		payments: payments,
		coupons:  coupons,
		claimer:  claimer,
		logger:   util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	UserID         int64
	Items          []OrderItemRequest
	PointToUse     int64
	CouponID       int64
	PaymentMethod  PaymentMethod
	IdempotencyKey string
}

// OrderItemRequest represents an item in an order
type OrderItemRequest struct {
	ProductID int64 `json:"productId" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
}

// CreateOrderResponse represents the response after creating an order
type CreateOrderResponse struct {
	OrderID       int64  `json:"orderId"`
	FinalAmount   int64  `json:"finalAmount"`
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
}

// OrderDetail is an order with its items and payment
type OrderDetail struct {
	Order   *models.Order      `json:"order"`
	Items   []models.OrderItem `json:"items"`
	Payment *models.Payment    `json:"payment,omitempty"`
}

func (r *CreateOrderRequest) validate() error {
	if r.UserID <= 0 {
		return apperr.Validation("userId is required")
	}
	if len(r.Items) == 0 {
		return apperr.Validation("order must contain at least one item")
	}
	for _, item := range r.Items {
		if item.ProductID <= 0 {
			return apperr.Validation("invalid product id: %d", item.ProductID)
		}
		if item.Quantity <= 0 {
			return apperr.Validation("quantity must be positive for product %d", item.ProductID)
		}
	}
	if r.PointToUse < 0 {
		return apperr.Validation("pointToUse must not be negative")
	}
	if r.PaymentMethod == nil {
		return apperr.Validation("payment method is required")
	}
	return nil
}

// CreateOrder places an order. Product lookup, stock reservation, point
// debit, order rows and payment initiation commit together or not at all.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder",
		attribute.Int64("user_id", req.UserID))
	defer span.End()

	if err := req.validate(); err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_request").Inc()
		return nil, err
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	} else {
		if resp, err := s.existingOrder(ctx, req.IdempotencyKey); resp != nil || err != nil {
			return resp, err
		}
		release, err := s.claim(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	products, err := s.resolveProducts(ctx, req.Items)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	start := time.Now()
	var order *models.Order
	var payment *models.Payment
	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		var err error
		order, err = s.placeOrder(ctx, tx, req, products)
		if err != nil {
			return err
		}
		payment, err = s.payments.Initiate(ctx, tx, order, req.PaymentMethod)
		return err
	})
	util.OrderTxLatency.Observe(time.Since(start).Seconds())

	if errors.Is(err, store.ErrDuplicateIdempotencyKey) {
		// a request with the same key committed after our check
		if resp, rerr := s.existingOrder(ctx, req.IdempotencyKey); rerr != nil || resp != nil {
			return resp, rerr
		}
	}
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues(failureReason(err)).Inc()
		util.RecordError(span, err)
		s.logger.Warn("Order creation failed",
			zap.Int64("user_id", req.UserID),
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Error(err))
		return nil, err
	}

	util.OrdersCreatedTotal.WithLabelValues(payment.Method).Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("final_amount", order.FinalAmount),
		zap.String("status", order.Status),
		zap.String("payment_status", payment.Status))

	return &CreateOrderResponse{
		OrderID:       order.ID,
		FinalAmount:   order.FinalAmount,
		Status:        order.Status,
		PaymentStatus: payment.Status,
	}, nil
}

func (s *OrderService) existingOrder(ctx context.Context, key string) (*CreateOrderResponse, error) {
	existing, err := s.store.GetOrderByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existing == nil {
		return nil, nil
	}

	s.logger.Info("Duplicate order request detected",
		zap.String("idempotency_key", key),
		zap.Int64("order_id", existing.ID))

	resp := &CreateOrderResponse{
		OrderID:     existing.ID,
		FinalAmount: existing.FinalAmount,
		Status:      existing.Status,
	}
	if payment, err := s.store.GetPaymentByOrderID(ctx, existing.ID); err == nil {
		resp.PaymentStatus = payment.Status
	}
	return resp, nil
}

// claim rejects a second request with the same key while the first is
// running. A cache outage only loses the fast path; the unique key on
// orders still holds.
func (s *OrderService) claim(ctx context.Context, key string) (func(), error) {
	noop := func() {}
	if s.claimer == nil {
		return noop, nil
	}

	ok, err := s.claimer.ClaimIdempotencyKey(ctx, "order:"+key, idempotencyClaimTTL)
	if err != nil {
		s.logger.Warn("Idempotency claim unavailable", zap.Error(err))
		return noop, nil
	}
	if !ok {
		return nil, apperr.Conflict("order request %s is already in progress", key)
	}
	return func() {
		if err := s.claimer.ReleaseIdempotencyKey(context.WithoutCancel(ctx), "order:"+key); err != nil {
			s.logger.Warn("Failed to release idempotency claim", zap.Error(err))
		}
	}, nil
}

// resolveProducts loads every ordered product; a missing one fails the order
func (s *OrderService) resolveProducts(ctx context.Context, items []OrderItemRequest) (map[int64]*models.Product, error) {
	ids := make([]int64, 0, len(items))
	seen := make(map[int64]bool, len(items))
	for _, item := range items {
		if !seen[item.ProductID] {
			seen[item.ProductID] = true
			ids = append(ids, item.ProductID)
		}
	}

	products, err := s.store.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	productMap := make(map[int64]*models.Product, len(products))
	for i := range products {
		productMap[products[i].ID] = &products[i]
	}
	for _, id := range ids {
		if _, ok := productMap[id]; !ok {
			return nil, apperr.NotFound("product not found: %d", id)
		}
	}
	return productMap, nil
}

// calculateTotal calculates the total amount for an order
func calculateTotal(items []OrderItemRequest, products map[int64]*models.Product) int64 {
	var total int64
	for _, item := range items {
		total += products[item.ProductID].Price * int64(item.Quantity)
	}
	return total
}

func (s *OrderService) placeOrder(ctx context.Context, tx *store.Store, req *CreateOrderRequest, products map[int64]*models.Product) (*models.Order, error) {
	total := calculateTotal(req.Items, products)

	coupon, err := s.coupons.Discount(ctx, req.UserID, req.CouponID, total)
	if err != nil {
		return nil, err
	}
	discount := min(req.PointToUse, total)
	couponDiscount := min(coupon, total-discount)

	order := &models.Order{
		UserID:         req.UserID,
		TotalAmount:    total,
		DiscountAmount: discount,
		FinalAmount:    total - discount - couponDiscount,
		Status:         models.OrderStatusCreated,
		PaymentMethod:  req.PaymentMethod.Name(),
		IdempotencyKey: req.IdempotencyKey,
	}
	if err := tx.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	stockItems := make([]StockItem, 0, len(req.Items))
	for _, item := range req.Items {
		if err := tx.CreateOrderItem(ctx, &models.OrderItem{
			OrderID:   order.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: products[item.ProductID].Price,
		}); err != nil {
			return nil, fmt.Errorf("failed to create order item: %w", err)
		}
		stockItems = append(stockItems, StockItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	if err := s.stock.Reserve(ctx, tx, order.ID, stockItems); err != nil {
		return nil, err
	}

	if discount > 0 {
		ref := models.PointReference{Type: models.PointReferenceOrder, ID: order.ID}
		if err := s.points.Debit(ctx, tx, req.UserID, discount, ref); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func failureReason(err error) string {
	switch apperr.CodeOf(err) {
	case apperr.CodeInsufficientStock:
		return "insufficient_stock"
	case apperr.CodeNotEnoughPoints:
		return "not_enough_points"
	}
	return string(apperr.KindOf(err))
}

// GetOrder retrieves an order with its items and payment
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*OrderDetail, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	items, err := s.store.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	detail := &OrderDetail{Order: order, Items: items}
	payment, err := s.payments.GetPayment(ctx, orderID)
	switch {
	case err == nil:
		detail.Payment = payment
	case !apperr.Is(err, apperr.KindNotFound):
		return nil, err
	}
	return detail, nil
}
