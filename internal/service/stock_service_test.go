package service

import (
	"context"
	"testing"

	"commerce-service/internal/apperr"
	"commerce-service/internal/models"
	"commerce-service/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeItems(t *testing.T) {
	merged := mergeItems([]StockItem{
		{ProductID: 5, Quantity: 1},
		{ProductID: 2, Quantity: 2},
		{ProductID: 5, Quantity: 3},
	})

	assert.Equal(t, []StockItem{
		{ProductID: 2, Quantity: 2},
		{ProductID: 5, Quantity: 4},
	}, merged)
}

func TestReserve_LocksInAscendingOrder(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()

	expectReserve(svc.mock, 10, 1, 10, 2)
	expectReserve(svc.mock, 10, 3, 5, 1)

	err := svc.stock.Reserve(ctx, svc.store, 10, []StockItem{
		{ProductID: 3, Quantity: 1},
		{ProductID: 1, Quantity: 2},
	})
	require.NoError(t, err)
	assert.NoError(t, svc.mock.ExpectationsWereMet())
}

func TestReserve_InsufficientStockRollsBackEverything(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()

	svc.mock.ExpectBegin()
	expectReserve(svc.mock, 10, 1, 10, 2)
	expectLockInventory(svc.mock, 2, 3)
	svc.mock.ExpectRollback()

	err := svc.store.WithTx(ctx, func(tx *store.Store) error {
		return svc.stock.Reserve(ctx, tx, 10, []StockItem{
			{ProductID: 1, Quantity: 2},
			{ProductID: 2, Quantity: 5},
		})
	})

	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInsufficientResource))
	assert.Equal(t, apperr.CodeInsufficientStock, apperr.CodeOf(err))
	assert.NoError(t, svc.mock.ExpectationsWereMet())
}

func TestReserve_RejectsNonPositiveQuantity(t *testing.T) {
	svc := newServices(t)

	err := svc.stock.Reserve(context.Background(), svc.store, 10, []StockItem{{ProductID: 1, Quantity: 0}})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestCommit_MarksReservationsCommitted(t *testing.T) {
	svc := newServices(t)

	expectCommitStock(svc.mock, 10,
		models.StockReservation{ID: 1, OrderID: 10, ProductID: 1, Quantity: 2},
		models.StockReservation{ID: 2, OrderID: 10, ProductID: 4, Quantity: 1})

	require.NoError(t, svc.stock.Commit(context.Background(), svc.store, 10))
	assert.NoError(t, svc.mock.ExpectationsWereMet())
}

func TestCommit_NoReservations(t *testing.T) {
	svc := newServices(t)
	expectLockReservations(svc.mock, 10)

	err := svc.stock.Commit(context.Background(), svc.store, 10)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestRelease_ReturnsReservedStock(t *testing.T) {
	svc := newServices(t)

	expectReturnStock(svc.mock, 10, models.ReservationStatusReleased,
		models.StockReservation{ID: 1, OrderID: 10, ProductID: 1, Quantity: 2})

	require.NoError(t, svc.stock.Release(context.Background(), svc.store, 10))
	assert.NoError(t, svc.mock.ExpectationsWereMet())
}

func TestRelease_AlreadyReleasedIsNoop(t *testing.T) {
	svc := newServices(t)
	expectLockReservations(svc.mock, 10)

	require.NoError(t, svc.stock.Release(context.Background(), svc.store, 10))
	assert.NoError(t, svc.mock.ExpectationsWereMet())
}

func TestSweepExpired_CancelsOrderAndFailsPayment(t *testing.T) {
	svc := newServices(t)
	mock := svc.mock

	mock.ExpectQuery(q("SELECT DISTINCT order_id FROM stock_reservations")).
		WithArgs(models.ReservationStatusReserved, testNow, 100).
		WillReturnRows(sqlmock.NewRows([]string{"order_id"}).AddRow(10))

	mock.ExpectBegin()
	mock.ExpectQuery(q("SELECT * FROM payments WHERE order_id = $1 FOR UPDATE")).
		WithArgs(int64(10)).
		WillReturnRows(paymentRow(models.Payment{ID: 7, OrderID: 10, Method: models.PaymentMethodCard,
			Amount: 9000, Status: models.PaymentStatusProcessing, TransactionKey: "tx-7", ProcessedAt: testNow}))
	mock.ExpectQuery(q("SELECT * FROM orders WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(10)).
		WillReturnRows(orderRow(models.Order{ID: 10, UserID: 1, TotalAmount: 10000, DiscountAmount: 1000,
			FinalAmount: 9000, Status: models.OrderStatusCreated, PaymentMethod: models.PaymentMethodCard, IdempotencyKey: "k"}))
	expectReturnStock(mock, 10, models.ReservationStatusExpired,
		models.StockReservation{ID: 3, OrderID: 10, ProductID: 2, Quantity: 1})
	expectOrderStatus(mock, 10, models.OrderStatusCreated, models.OrderStatusCancelled)
	expectPointMove(mock, 1, 500, 1000, models.PointTransactionCharge,
		models.PointReference{Type: models.PointReferenceOrder, ID: 10})
	expectPaymentStatus(mock, 7, models.PaymentStatusFailed)
	mock.ExpectCommit()

	swept, err := svc.stock.SweepExpired(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjust_RejectsNegativeStock(t *testing.T) {
	svc := newServices(t)

	svc.mock.ExpectBegin()
	expectLockInventory(svc.mock, 1, 3)
	svc.mock.ExpectRollback()

	_, err := svc.stock.Adjust(context.Background(), 1, -5)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Empty(t, svc.publisher.published())
}

func TestAdjust_PublishesStockAdjusted(t *testing.T) {
	svc := newServices(t)

	svc.mock.ExpectBegin()
	expectLockInventory(svc.mock, 1, 3)
	svc.mock.ExpectQuery(q("UPDATE inventory SET available = available + $1, updated_at = NOW()")).
		WithArgs(7, int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"available"}).AddRow(10))
	svc.mock.ExpectCommit()

	current, err := svc.stock.Adjust(context.Background(), 1, 7)
	require.NoError(t, err)
	assert.Equal(t, 10, current)

	events := svc.publisher.published()
	require.Len(t, events, 1)
	adjusted, ok := events[0].(*models.StockAdjustedEvent)
	require.True(t, ok)
	assert.Equal(t, 7, adjusted.AdjustedQuantity)
	assert.Equal(t, 10, adjusted.CurrentStock)
}
