package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"commerce-service/internal/apperr"
	"commerce-service/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(sqlx.NewDb(db, "postgres")), mock
}

func TestCreateOrder(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO orders")).
		WithArgs(int64(123), int64(30000), int64(5000), int64(25000),
			models.OrderStatusCreated, models.PaymentMethodCard, "test-key-123").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(7, now, now))

	order := &models.Order{
		UserID:         123,
		TotalAmount:    30000,
		DiscountAmount: 5000,
		FinalAmount:    25000,
		Status:         models.OrderStatusCreated,
		PaymentMethod:  models.PaymentMethodCard,
		IdempotencyKey: "test-key-123",
	}

	err := s.CreateOrder(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, int64(7), order.ID)
	assert.Equal(t, now, order.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrder_DuplicateIdempotencyKey(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO orders")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "orders_idempotency_key_key"})
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO orders")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "payments_transaction_key_key"})

	err := s.CreateOrder(context.Background(), &models.Order{IdempotencyKey: "dup"})
	assert.ErrorIs(t, err, ErrDuplicateIdempotencyKey)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	err = s.CreateOrder(context.Background(), &models.Order{IdempotencyKey: "other"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateIdempotencyKey)
}

func TestGetOrderByID_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM orders WHERE id = $1")).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	order, err := s.GetOrderByID(context.Background(), 99)
	assert.Nil(t, order)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestGetOrderByIdempotencyKey_Missing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM orders WHERE idempotency_key = $1")).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	order, err := s.GetOrderByIdempotencyKey(context.Background(), "nope")
	assert.NoError(t, err)
	assert.Nil(t, order)
}

func TestUpdateOrderStatus_GuardsCurrentStatus(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders SET status = $1")).
		WithArgs(models.OrderStatusPaid, int64(1), models.OrderStatusCreated).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders SET status = $1")).
		WithArgs(models.OrderStatusPaid, int64(1), models.OrderStatusCreated).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.UpdateOrderStatus(context.Background(), 1, models.OrderStatusCreated, models.OrderStatusPaid)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.UpdateOrderStatus(context.Background(), 1, models.OrderStatusCreated, models.OrderStatusPaid)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_CommitRunsHooks(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO processed_events")).
		WithArgs("evt-1", "ranking-consumer").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var ran []string
	err := s.WithTx(context.Background(), func(tx *Store) error {
		assert.True(t, tx.InTx())
		tx.AfterCommit(func() { ran = append(ran, "hook") })

		inserted, err := tx.InsertProcessedEvent(context.Background(), "evt-1", "ranking-consumer")
		require.NoError(t, err)
		assert.True(t, inserted)
		assert.Empty(t, ran)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"hook"}, ran)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollbackSkipsHooks(t *testing.T) {
	s, mock := newMockStore(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	ran := false
	err := s.WithTx(context.Background(), func(tx *Store) error {
		tx.AfterCommit(func() { ran = true })
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.False(t, ran)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_NestedJoinsOuter(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(outer *Store) error {
		return outer.WithTx(context.Background(), func(inner *Store) error {
			assert.Same(t, outer, inner)
			return nil
		})
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_BeginFailureIsTransient(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	err := s.WithTx(context.Background(), func(tx *Store) error { return nil })
	assert.True(t, apperr.Is(err, apperr.KindTransientInfra))
}

func TestAfterCommit_OutsideTxRunsNow(t *testing.T) {
	s, _ := newMockStore(t)

	ran := false
	s.AfterCommit(func() { ran = true })
	assert.True(t, ran)
}

func TestInsertProcessedEvent_Duplicate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO processed_events")).
		WithArgs("evt-1", "metrics-consumer").
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := s.InsertProcessedEvent(context.Background(), "evt-1", "metrics-consumer")
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestLockInventory(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM inventory WHERE product_id = $1 FOR UPDATE")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "available", "reserved", "updated_at"}).
			AddRow(3, 10, 2, time.Now()))

	inv, err := s.LockInventory(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 10, inv.Available)
	assert.Equal(t, 2, inv.Reserved)
}

func TestUpdateReservationStatus_NotReserved(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE stock_reservations SET status = $1")).
		WithArgs(models.ReservationStatusCommitted, int64(5), models.ReservationStatusReserved).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateReservationStatus(context.Background(), 5, models.ReservationStatusCommitted)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestAdjustInventory_RejectsNegative(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE inventory")).
		WithArgs(-50, int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"available"}))

	_, err := s.AdjustInventory(context.Background(), 1, -50)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestInsertPointHistory(t *testing.T) {
	s, mock := newMockStore(t)
	h := &models.PointHistory{
		UserID: 1, Amount: 500, BalanceAfter: 500,
		TransactionType: models.PointTransactionUse,
		ReferenceType:   models.PointReferenceOrder, ReferenceID: 10,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO point_histories")).
		WithArgs(int64(1), int64(500), int64(500), models.PointTransactionUse, models.PointReferenceOrder, int64(10)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO point_histories")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := s.InsertPointHistory(context.Background(), h)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.InsertPointHistory(context.Background(), h)
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestHasPointHistory_ScopedToUser(t *testing.T) {
	s, mock := newMockStore(t)
	ref := models.PointReference{Type: models.PointReferenceManual, ID: 1}

	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id = $1 AND reference_type = $2 AND reference_id = $3 AND transaction_type = $4")).
		WithArgs(int64(2), models.PointReferenceManual, int64(1), models.PointTransactionCharge).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	done, err := s.HasPointHistory(context.Background(), 2, ref, models.PointTransactionCharge)
	require.NoError(t, err)
	assert.False(t, done)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProductMetricsVersioned(t *testing.T) {
	s, mock := newMockStore(t)
	m := &models.ProductMetrics{ID: 4, LikeCount: 1, ViewCount: 2, Version: 3}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE product_metrics")).
		WithArgs(int64(1), int64(0), int64(2), int64(0), int64(4), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE product_metrics")).
		WithArgs(int64(1), int64(0), int64(2), int64(0), int64(4), int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.UpdateProductMetricsVersioned(context.Background(), m)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(4), m.Version)

	ok, err = s.UpdateProductMetricsVersioned(context.Background(), m)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(4), m.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProductsByIDs(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM products WHERE id IN ($1, $2) ORDER BY id")).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "sku", "name", "price", "created_at"}).
			AddRow(1, "SKU-1", "Keyboard", 10000, time.Now()).
			AddRow(2, "SKU-2", "Mouse", 5000, time.Now()))

	products, err := s.GetProductsByIDs(context.Background(), []int64{1, 2})
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "Mouse", products[1].Name)

	empty, err := s.GetProductsByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
