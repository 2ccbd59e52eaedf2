package service

import (
	"context"
	"regexp"
	"strings"
	"time"

	"commerce-service/internal/apperr"
	"commerce-service/internal/gateway"
	"commerce-service/internal/models"
	"commerce-service/internal/store"
	"commerce-service/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var cardNoPattern = regexp.MustCompile(`^\d{4}-\d{4}-\d{4}-\d{4}$`)

var cardTypes = map[string]bool{"SAMSUNG": true, "KB": true, "HYUNDAI": true}

// PaymentMethod is PointPayment or CardPayment
type PaymentMethod interface {
	Name() string
	paymentMethod()
}

// PointPayment pays from the user's point balance
type PointPayment struct{}

func (PointPayment) Name() string   { return models.PaymentMethodPoint }
func (PointPayment) paymentMethod() {}

// CardPayment pays through the card gateway
type CardPayment struct {
	CardType string
	CardNo   string
}

func (CardPayment) Name() string   { return models.PaymentMethodCard }
func (CardPayment) paymentMethod() {}

// NewCardPayment validates card details
func NewCardPayment(cardType, cardNo string) (CardPayment, error) {
	cardType = strings.ToUpper(strings.TrimSpace(cardType))
	if !cardTypes[cardType] {
		return CardPayment{}, apperr.Validation("unsupported card type: %q", cardType)
	}
	if !cardNoPattern.MatchString(cardNo) {
		return CardPayment{}, apperr.Validation("card number must match xxxx-xxxx-xxxx-xxxx")
	}
	return CardPayment{CardType: cardType, CardNo: cardNo}, nil
}

// ParsePaymentMethod builds a PaymentMethod from request fields
func ParsePaymentMethod(method, cardType, cardNo string) (PaymentMethod, error) {
	switch strings.ToUpper(method) {
	case models.PaymentMethodPoint:
		return PointPayment{}, nil
	case models.PaymentMethodCard:
		return NewCardPayment(cardType, cardNo)
	default:
		return nil, apperr.Validation("unsupported payment method: %q", method)
	}
}

// Callback is a payment result reported by the gateway
type Callback struct {
	TransactionKey string
	OrderID        int64
	Status         string
	Reason         string
}

// PaymentService drives payments through PENDING, PROCESSING and a
// terminal COMPLETED or FAILED state.
type PaymentService struct {
	store          *store.Store
	stock          *StockService
	points         *PointService
	publisher      Publisher
	gateway        PaymentGateway
	callbackURL    string
	reconcileAfter time.Duration
	failAfter      time.Duration
	batchSize      int
	now            Clock
	async          func(func())
	logger         *zap.Logger
}

// PaymentOptions configures timing of the payment service
type PaymentOptions struct {
	CallbackURL    string
	ReconcileAfter time.Duration
	FailAfter      time.Duration
	BatchSize      int
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	s *store.Store,
	stock *StockService,
	points *PointService,
	publisher Publisher,
	gw PaymentGateway,
	opts PaymentOptions,
) *PaymentService {
	return &PaymentService{
		store:          s,
		stock:          stock,
		points:         points,
		publisher:      publisher,
		gateway:        gw,
		callbackURL:    opts.CallbackURL,
		reconcileAfter: opts.ReconcileAfter,
		failAfter:      opts.FailAfter,
		batchSize:      opts.BatchSize,
		now:            time.Now,
		async:          func(fn func()) { go fn() },
		logger:         util.GetLogger(),
	}
}

// Initiate creates the payment of order inside tx. Point payments and
// zero amounts complete in the same transaction; card payments move to
// PROCESSING and are sent to the gateway after commit.
func (s *PaymentService) Initiate(ctx context.Context, tx *store.Store, order *models.Order, method PaymentMethod) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Initiate",
		attribute.Int64("order_id", order.ID),
		attribute.String("method", method.Name()))
	defer span.End()

	key := uuid.New().String()
	if _, ok := method.(PointPayment); ok {
		key = "PT-" + key
	}

	payment := &models.Payment{
		OrderID:        order.ID,
		Method:         method.Name(),
		Amount:         order.FinalAmount,
		Status:         models.PaymentStatusPending,
		TransactionKey: key,
		ProcessedAt:    s.now(),
	}
	if err := tx.CreatePayment(ctx, payment); err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	card, isCard := method.(CardPayment)
	if !isCard || payment.Amount == 0 {
		if payment.Amount > 0 {
			ref := models.PointReference{Type: models.PointReferencePayment, ID: order.ID}
			if err := s.points.Debit(ctx, tx, order.UserID, payment.Amount, ref); err != nil {
				util.RecordError(span, err)
				return nil, err
			}
		}
		if err := s.complete(ctx, tx, payment, order); err != nil {
			util.RecordError(span, err)
			return nil, err
		}
		return payment, nil
	}

	if err := s.transition(ctx, tx, payment, models.PaymentStatusProcessing, ""); err != nil {
		return nil, err
	}

	req := gateway.PaymentRequest{
		OrderID:        order.ID,
		CardType:       card.CardType,
		CardNo:         card.CardNo,
		Amount:         payment.Amount,
		CallbackURL:    s.callbackURL,
		TransactionKey: payment.TransactionKey,
	}
	detached := context.WithoutCancel(ctx)
	tx.AfterCommit(func() {
		s.async(func() { s.dispatch(detached, req) })
	})
	return payment, nil
}

// dispatch sends a card request. A rejected request fails the payment; a
// transient failure leaves it PROCESSING for reconciliation.
func (s *PaymentService) dispatch(ctx context.Context, req gateway.PaymentRequest) {
	err := s.gateway.RequestPayment(ctx, req)
	if err == nil {
		s.logger.Info("Card payment requested",
			zap.Int64("order_id", req.OrderID),
			zap.String("transaction_key", req.TransactionKey))
		return
	}

	if !apperr.Is(err, apperr.KindValidation) {
		s.logger.Warn("Card payment request failed, leaving for reconciliation",
			zap.Int64("order_id", req.OrderID),
			zap.String("transaction_key", req.TransactionKey),
			zap.Error(err))
		return
	}

	s.logger.Warn("Card payment rejected by gateway",
		zap.Int64("order_id", req.OrderID),
		zap.Error(err))
	if err := s.HandleCallback(ctx, Callback{
		TransactionKey: req.TransactionKey,
		OrderID:        req.OrderID,
		Status:         gateway.StatusFailed,
		Reason:         err.Error(),
	}); err != nil {
		s.logger.Error("Failed to fail rejected payment",
			zap.String("transaction_key", req.TransactionKey),
			zap.Error(err))
	}
}

// HandleCallback applies a gateway result in its own transaction. Results
// for a payment that is already terminal are ignored.
func (s *PaymentService) HandleCallback(ctx context.Context, cb Callback) error {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandleCallback",
		attribute.String("transaction_key", cb.TransactionKey))
	defer span.End()

	if cb.TransactionKey == "" {
		return apperr.Validation("transactionKey is required")
	}

	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		payment, err := tx.GetPaymentByTransactionKeyForUpdate(ctx, cb.TransactionKey)
		if err != nil {
			return err
		}
		if cb.OrderID != 0 && cb.OrderID != payment.OrderID {
			return apperr.Validation("transaction %s does not belong to order %d", cb.TransactionKey, cb.OrderID)
		}

		if payment.IsTerminal() {
			util.PaymentCallbacksTotal.WithLabelValues("duplicate").Inc()
			s.logger.Info("Callback for terminal payment ignored",
				zap.String("transaction_key", cb.TransactionKey),
				zap.String("status", payment.Status))
			return nil
		}

		switch strings.ToUpper(cb.Status) {
		case gateway.StatusSuccess, models.PaymentStatusCompleted:
			order, err := tx.GetOrderForUpdate(ctx, payment.OrderID)
			if err != nil {
				return err
			}
			return s.complete(ctx, tx, payment, order)
		case gateway.StatusFailed:
			order, err := tx.GetOrderForUpdate(ctx, payment.OrderID)
			if err != nil {
				return err
			}
			return s.fail(ctx, tx, payment, order, cb.Reason)
		case gateway.StatusPending, models.PaymentStatusProcessing:
			util.PaymentCallbacksTotal.WithLabelValues("pending").Inc()
			return nil
		default:
			return apperr.Validation("unknown payment status: %q", cb.Status)
		}
	})
	if err != nil {
		util.PaymentCallbacksTotal.WithLabelValues("error").Inc()
		util.RecordError(span, err)
		s.logger.Error("Payment callback failed",
			zap.String("transaction_key", cb.TransactionKey),
			zap.String("status", cb.Status),
			zap.Error(err))
		return err
	}
	return nil
}

func (s *PaymentService) transition(ctx context.Context, tx *store.Store, payment *models.Payment, status, reason string) error {
	payment.Status = status
	payment.FailureReason = reason
	payment.ProcessedAt = s.now()
	if err := tx.UpdatePaymentStatus(ctx, payment); err != nil {
		return err
	}
	util.PaymentTransitionsTotal.WithLabelValues(payment.Method, status).Inc()
	return nil
}

// complete marks the payment COMPLETED, commits the reservations, pays the
// order and publishes OrderCompleted once tx commits.
func (s *PaymentService) complete(ctx context.Context, tx *store.Store, payment *models.Payment, order *models.Order) error {
	if err := s.transition(ctx, tx, payment, models.PaymentStatusCompleted, ""); err != nil {
		return err
	}
	if err := s.stock.Commit(ctx, tx, order.ID); err != nil {
		return err
	}

	ok, err := tx.UpdateOrderStatus(ctx, order.ID, models.OrderStatusCreated, models.OrderStatusPaid)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Conflict("order %d cannot be paid from status %s", order.ID, order.Status)
	}
	order.Status = models.OrderStatusPaid

	items, err := tx.GetOrderItemsByOrderID(ctx, order.ID)
	if err != nil {
		return err
	}
	data := make([]models.OrderItemData, 0, len(items))
	for _, item := range items {
		data = append(data, models.OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.UnitPrice,
		})
	}

	tx.AfterCommit(func() {
		util.OrdersPaidTotal.Inc()
		s.logger.Info("Order paid",
			zap.Int64("order_id", order.ID),
			zap.String("method", payment.Method))
	})
	tx.AfterCommit(publishAfterCommit(ctx, s.publisher,
		models.NewOrderCompletedEvent(order.ID, order.UserID, data)))
	return nil
}

// fail marks the payment FAILED, returns the stock and cancels the order
func (s *PaymentService) fail(ctx context.Context, tx *store.Store, payment *models.Payment, order *models.Order, reason string) error {
	if reason == "" {
		reason = "payment failed"
	}
	if err := s.transition(ctx, tx, payment, models.PaymentStatusFailed, reason); err != nil {
		return err
	}
	if err := s.stock.Release(ctx, tx, order.ID); err != nil {
		return err
	}
	if order.Status != models.OrderStatusCreated {
		return nil
	}
	if err := cancelOrder(ctx, tx, s.points, order, "payment_failed"); err != nil {
		return err
	}

	tx.AfterCommit(func() {
		s.logger.Warn("Order cancelled after payment failure",
			zap.Int64("order_id", order.ID),
			zap.String("reason", reason))
	})
	return nil
}

// Reconcile resolves PROCESSING payments whose callback did not arrive.
// The gateway is asked for the outcome; payments still unconfirmed after
// the fail deadline are failed. Returns the number of payments resolved.
func (s *PaymentService) Reconcile(ctx context.Context, now time.Time) (int, error) {
	stuck, err := s.store.FindProcessingPaymentsBefore(ctx, now.Add(-s.reconcileAfter), s.batchSize)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for i := range stuck {
		payment := &stuck[i]
		status, reason := s.resolve(ctx, payment, now)
		if status == "" {
			util.PaymentsReconciledTotal.WithLabelValues("waiting").Inc()
			continue
		}

		if err := s.HandleCallback(ctx, Callback{
			TransactionKey: payment.TransactionKey,
			OrderID:        payment.OrderID,
			Status:         status,
			Reason:         reason,
		}); err != nil {
			util.PaymentsReconciledTotal.WithLabelValues("error").Inc()
			continue
		}
		util.PaymentsReconciledTotal.WithLabelValues(strings.ToLower(status)).Inc()
		resolved++
	}
	return resolved, nil
}

func (s *PaymentService) resolve(ctx context.Context, payment *models.Payment, now time.Time) (status, reason string) {
	tx, err := s.gateway.GetTransaction(ctx, payment.TransactionKey)
	if err == nil {
		switch tx.Status {
		case gateway.StatusSuccess:
			return gateway.StatusSuccess, ""
		case gateway.StatusFailed:
			return gateway.StatusFailed, tx.Reason
		}
	} else {
		s.logger.Warn("Gateway status query failed",
			zap.String("transaction_key", payment.TransactionKey),
			zap.Error(err))
	}

	if payment.ProcessedAt.Before(now.Add(-s.failAfter)) {
		return gateway.StatusFailed, "payment confirmation timed out"
	}
	return "", ""
}

// GetPayment retrieves payment for an order
func (s *PaymentService) GetPayment(ctx context.Context, orderID int64) (*models.Payment, error) {
	return s.store.GetPaymentByOrderID(ctx, orderID)
}
