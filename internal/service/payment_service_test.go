package service

import (
	"context"
	"testing"
	"time"

	"commerce-service/internal/apperr"
	"commerce-service/internal/gateway"
	"commerce-service/internal/models"
	"commerce-service/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePaymentMethod(t *testing.T) {
	method, err := ParsePaymentMethod("card", "samsung", "1234-5678-9012-3456")
	require.NoError(t, err)
	assert.Equal(t, CardPayment{CardType: "SAMSUNG", CardNo: "1234-5678-9012-3456"}, method)

	method, err = ParsePaymentMethod("POINT", "", "")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentMethodPoint, method.Name())

	_, err = ParsePaymentMethod("CARD", "SAMSUNG", "1234567890123456")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = ParsePaymentMethod("CARD", "VISA", "1234-5678-9012-3456")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = ParsePaymentMethod("BANK", "", "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func processingPayment() models.Payment {
	return models.Payment{
		ID:             7,
		OrderID:        10,
		Method:         models.PaymentMethodCard,
		Amount:         50000,
		Status:         models.PaymentStatusProcessing,
		TransactionKey: "tx-7",
		ProcessedAt:    testNow.Add(-time.Minute),
	}
}

func createdOrder(discount int64) models.Order {
	return models.Order{
		ID:             10,
		UserID:         1,
		TotalAmount:    50000 + discount,
		DiscountAmount: discount,
		FinalAmount:    50000,
		Status:         models.OrderStatusCreated,
		PaymentMethod:  models.PaymentMethodCard,
		IdempotencyKey: "k-10",
	}
}

func expectLockPayment(mock sqlmock.Sqlmock, p models.Payment) {
	mock.ExpectQuery(q("SELECT * FROM payments WHERE transaction_key = $1 FOR UPDATE")).
		WithArgs(p.TransactionKey).
		WillReturnRows(paymentRow(p))
}

func expectLockOrder(mock sqlmock.Sqlmock, o models.Order) {
	mock.ExpectQuery(q("SELECT * FROM orders WHERE id = $1 FOR UPDATE")).
		WithArgs(o.ID).
		WillReturnRows(orderRow(o))
}

func TestHandleCallback_DuplicateForCompletedIsNoop(t *testing.T) {
	svc := newServices(t)
	p := processingPayment()
	p.Status = models.PaymentStatusCompleted

	svc.mock.ExpectBegin()
	expectLockPayment(svc.mock, p)
	svc.mock.ExpectCommit()

	err := svc.payments.HandleCallback(context.Background(), Callback{
		TransactionKey: "tx-7", OrderID: 10, Status: "SUCCESS",
	})
	require.NoError(t, err)
	assert.Empty(t, svc.publisher.published())
	assert.NoError(t, svc.mock.ExpectationsWereMet())
}

func TestHandleCallback_SuccessCommitsAndPublishes(t *testing.T) {
	svc := newServices(t)
	mock := svc.mock

	mock.ExpectBegin()
	expectLockPayment(mock, processingPayment())
	expectLockOrder(mock, createdOrder(0))
	expectPaymentStatus(mock, 7, models.PaymentStatusCompleted)
	expectCommitStock(mock, 10, models.StockReservation{ID: 1, OrderID: 10, ProductID: 3, Quantity: 2})
	expectOrderStatus(mock, 10, models.OrderStatusCreated, models.OrderStatusPaid)
	mock.ExpectQuery(q("SELECT * FROM order_items WHERE order_id = $1")).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows(itemColumns).AddRow(1, 10, 3, 2, 25000))
	mock.ExpectCommit()

	err := svc.payments.HandleCallback(context.Background(), Callback{
		TransactionKey: "tx-7", OrderID: 10, Status: "SUCCESS",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	events := svc.publisher.published()
	require.Len(t, events, 1)
	completed, ok := events[0].(*models.OrderCompletedEvent)
	require.True(t, ok)
	assert.Equal(t, int64(10), completed.OrderID)
	assert.Equal(t, []models.OrderItemData{{ProductID: 3, Quantity: 2, Price: 25000}}, completed.Items)
}

func TestHandleCallback_FailureReleasesAndRefunds(t *testing.T) {
	svc := newServices(t)
	mock := svc.mock

	mock.ExpectBegin()
	expectLockPayment(mock, processingPayment())
	expectLockOrder(mock, createdOrder(2000))
	expectPaymentStatus(mock, 7, models.PaymentStatusFailed)
	expectReturnStock(mock, 10, models.ReservationStatusReleased,
		models.StockReservation{ID: 1, OrderID: 10, ProductID: 3, Quantity: 2})
	expectOrderStatus(mock, 10, models.OrderStatusCreated, models.OrderStatusCancelled)
	expectPointMove(mock, 1, 0, 2000, models.PointTransactionCharge,
		models.PointReference{Type: models.PointReferenceOrder, ID: 10})
	mock.ExpectCommit()

	err := svc.payments.HandleCallback(context.Background(), Callback{
		TransactionKey: "tx-7", Status: "FAILED", Reason: "limit exceeded",
	})
	require.NoError(t, err)
	assert.Empty(t, svc.publisher.published())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleCallback_UnknownTransaction(t *testing.T) {
	svc := newServices(t)

	svc.mock.ExpectBegin()
	svc.mock.ExpectQuery(q("SELECT * FROM payments WHERE transaction_key = $1 FOR UPDATE")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(paymentColumns))
	svc.mock.ExpectRollback()

	err := svc.payments.HandleCallback(context.Background(), Callback{TransactionKey: "missing", Status: "SUCCESS"})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.NoError(t, svc.mock.ExpectationsWereMet())
}

func TestHandleCallback_OrderMismatch(t *testing.T) {
	svc := newServices(t)

	svc.mock.ExpectBegin()
	expectLockPayment(svc.mock, processingPayment())
	svc.mock.ExpectRollback()

	err := svc.payments.HandleCallback(context.Background(), Callback{TransactionKey: "tx-7", OrderID: 99, Status: "SUCCESS"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestInitiate_CardDispatchesAfterCommit(t *testing.T) {
	svc := newServices(t)
	mock := svc.mock
	order := createdOrder(0)
	card, err := NewCardPayment("KB", "1111-2222-3333-4444")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(q("INSERT INTO payments")).
		WithArgs(int64(10), models.PaymentMethodCard, int64(50000), models.PaymentStatusPending, sqlmock.AnyArg(), testNow).
		WillReturnRows(returningRow())
	expectPaymentStatus(mock, 1, models.PaymentStatusProcessing)
	mock.ExpectCommit()

	var payment *models.Payment
	err = svc.store.WithTx(context.Background(), func(tx *store.Store) error {
		var err error
		payment, err = svc.payments.Initiate(context.Background(), tx, &order, card)
		assert.Empty(t, svc.gateway.sent())
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusProcessing, payment.Status)

	sent := svc.gateway.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, payment.TransactionKey, sent[0].TransactionKey)
	assert.Equal(t, "KB", sent[0].CardType)
	assert.Equal(t, int64(50000), sent[0].Amount)
	assert.Equal(t, "http://localhost:8080/api/v1/payments/callback", sent[0].CallbackURL)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInitiate_RejectedCardFailsPayment(t *testing.T) {
	svc := newServices(t)
	mock := svc.mock
	order := createdOrder(0)
	svc.gateway.requestFn = func(gateway.PaymentRequest) error {
		return apperr.Validation("invalid card")
	}

	mock.ExpectQuery(q("INSERT INTO payments")).WillReturnRows(returningRow())
	expectPaymentStatus(mock, 1, models.PaymentStatusProcessing)

	mock.ExpectBegin()
	mock.ExpectQuery(q("SELECT * FROM payments WHERE transaction_key = $1 FOR UPDATE")).
		WillReturnRows(paymentRow(models.Payment{ID: 1, OrderID: 10, Method: models.PaymentMethodCard,
			Amount: 50000, Status: models.PaymentStatusProcessing, TransactionKey: "tx-1", ProcessedAt: testNow}))
	expectLockOrder(mock, order)
	expectPaymentStatus(mock, 1, models.PaymentStatusFailed)
	expectLockReservations(mock, 10)
	expectOrderStatus(mock, 10, models.OrderStatusCreated, models.OrderStatusCancelled)
	mock.ExpectCommit()

	_, err := svc.payments.Initiate(context.Background(), svc.store, &order, CardPayment{CardType: "KB", CardNo: "1111-2222-3333-4444"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcile(t *testing.T) {
	svc := newServices(t)
	mock := svc.mock

	recent := processingPayment()
	recent.ID, recent.OrderID, recent.TransactionKey = 1, 11, "tx-recent"
	recent.ProcessedAt = testNow.Add(-2 * time.Minute)

	stale := processingPayment()
	stale.ID, stale.OrderID, stale.TransactionKey = 2, 12, "tx-stale"
	stale.ProcessedAt = testNow.Add(-15 * time.Minute)

	svc.gateway.txs = map[string]*gateway.Transaction{
		"tx-recent": {TransactionKey: "tx-recent", Status: gateway.StatusPending},
	}
	svc.gateway.txErr = apperr.NotFound("no such transaction")

	rows := sqlmock.NewRows(paymentColumns)
	for _, p := range []models.Payment{stale, recent} {
		rows.AddRow(p.ID, p.OrderID, p.Method, p.Amount, p.Status, p.TransactionKey, "", p.ProcessedAt, testNow, testNow)
	}
	mock.ExpectQuery(q("SELECT * FROM payments WHERE status = $1 AND processed_at < $2")).
		WithArgs(models.PaymentStatusProcessing, testNow.Add(-time.Minute), 100).
		WillReturnRows(rows)

	order := createdOrder(0)
	order.ID = 12
	mock.ExpectBegin()
	expectLockPayment(mock, stale)
	expectLockOrder(mock, order)
	expectPaymentStatus(mock, 2, models.PaymentStatusFailed)
	expectLockReservations(mock, 12)
	expectOrderStatus(mock, 12, models.OrderStatusCreated, models.OrderStatusCancelled)
	mock.ExpectCommit()

	resolved, err := svc.payments.Reconcile(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)
	assert.NoError(t, mock.ExpectationsWereMet())
}
