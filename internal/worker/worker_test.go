package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"commerce-service/internal/broker"
	"commerce-service/internal/models"
	"commerce-service/internal/redisclient"
	"commerce-service/internal/service"
	"commerce-service/internal/store"
	"commerce-service/internal/util"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	util.SetLogger(zap.NewNop())
	os.Exit(m.Run())
}

var testDay = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store.NewWithDB(sqlx.NewDb(db, "postgres")), mock
}

func newRanking(t *testing.T) (*service.RankingService, *redisclient.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })
	rc := redisclient.NewWithRedis(rdb)
	return service.NewRankingService(rc, service.DefaultScorePolicy, 48*time.Hour, time.UTC), rc, mr
}

func message(t *testing.T, topic string, event models.Event) kafka.Message {
	t.Helper()
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Topic: topic, Partition: 2, Offset: 42, Value: value}
}

func expectMarker(mock sqlmock.Sqlmock, eventID, group string, inserted bool) {
	var affected int64
	if inserted {
		affected = 1
	}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO processed_events")).
		WithArgs(eventID, group).
		WillReturnResult(sqlmock.NewResult(0, affected))
}

func TestRankingHandler_AppliesOncePerEvent(t *testing.T) {
	s, mock := newMockStore(t)
	ranking, rc, _ := newRanking(t)
	h := NewRankingHandler(service.NewIdempotencyService(s), ranking)

	event := models.NewProductViewedEvent(3)
	event.OccurredAt = testDay
	msg := message(t, "catalog-events", event)

	mock.ExpectBegin()
	expectMarker(mock, event.EventID, GroupRanking, true)
	mock.ExpectCommit()
	mock.ExpectBegin()
	expectMarker(mock, event.EventID, GroupRanking, false)
	mock.ExpectCommit()

	ctx := context.Background()
	require.NoError(t, h.HandleMessage(ctx, msg))
	require.NoError(t, h.HandleMessage(ctx, msg))

	scores, err := rc.TopScores(ctx, redisclient.RankingKey(testDay), 0, -1)
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, "product:3", scores[0].Member)
	assert.InDelta(t, 0.1, scores[0].Score, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRankingHandler_CacheFailureRollsBackMarker(t *testing.T) {
	s, mock := newMockStore(t)
	ranking, _, mr := newRanking(t)
	h := NewRankingHandler(service.NewIdempotencyService(s), ranking)
	mr.Close()

	event := models.NewLikeChangedEvent(3, 1, true)
	mock.ExpectBegin()
	expectMarker(mock, event.EventID, GroupRanking, true)
	mock.ExpectRollback()

	assert.Error(t, h.HandleMessage(context.Background(), message(t, "catalog-events", event)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRankingHandler_IgnoresStockAdjusted(t *testing.T) {
	s, mock := newMockStore(t)
	ranking, _, _ := newRanking(t)
	h := NewRankingHandler(service.NewIdempotencyService(s), ranking)

	msg := message(t, "catalog-events", models.NewStockAdjustedEvent(3, 5, 10))
	require.NoError(t, h.HandleMessage(context.Background(), msg))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMetricsHandler_UpdatesDailyCounters(t *testing.T) {
	s, mock := newMockStore(t)
	h := NewMetricsHandler(service.NewIdempotencyService(s), service.NewMetricsService(s, time.UTC))

	event := models.NewLikeChangedEvent(3, 1, true)
	event.OccurredAt = testDay

	mock.ExpectBegin()
	expectMarker(mock, event.EventID, GroupMetrics, true)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO product_metrics")).
		WithArgs(int64(3), "2024-03-01").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM product_metrics")).
		WithArgs(int64(3), "2024-03-01").
		WillReturnRows(sqlmock.NewRows([]string{"id", "product_id", "metric_date", "like_count",
			"sales_count", "view_count", "total_sales_amount", "version", "updated_at"}).
			AddRow(9, 3, testDay, 4, 0, 0, 0, 1, testDay))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE product_metrics")).
		WithArgs(int64(5), int64(0), int64(0), int64(0), int64(9), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, h.HandleMessage(context.Background(), message(t, "catalog-events", event)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditHandler_RecordsEveryType(t *testing.T) {
	s, mock := newMockStore(t)
	h := NewAuditHandler(service.NewIdempotencyService(s), service.NewAuditService())

	event := models.NewStockAdjustedEvent(3, -2, 8)
	mock.ExpectBegin()
	expectMarker(mock, event.EventID, GroupAudit, true)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO event_log")).
		WithArgs(event.EventID, "StockAdjusted", "catalog-events", 2, int64(42), int64(3),
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, h.HandleMessage(context.Background(), message(t, "catalog-events", event)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

type queueReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed int
}

func (r *queueReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.messages) > 0 {
		msg := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *queueReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed += len(msgs)
	return nil
}

func (r *queueReader) Close() error { return nil }

func TestConsumerWorker_RunsEveryReader(t *testing.T) {
	readers := []*queueReader{
		{messages: []kafka.Message{message(t, "catalog-events", models.NewProductViewedEvent(1))}},
		{messages: []kafka.Message{
			message(t, "catalog-events", models.NewProductViewedEvent(2)),
			message(t, "catalog-events", models.NewProductViewedEvent(4)),
		}},
	}
	consumers := make([]*broker.Consumer, 0, len(readers))
	for _, r := range readers {
		consumers = append(consumers, broker.NewConsumerWithReader(r, "test-group"))
	}

	var handled atomic.Int32
	h := broker.NewEventHandler("test-group")
	h.OnAny(func(context.Context, broker.Delivery) error {
		handled.Add(1)
		return nil
	})

	w := NewConsumerWorker("test-group", consumers, h)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	require.Eventually(t, func() bool { return handled.Load() == 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
	assert.NoError(t, w.Stop())
	assert.Equal(t, "test-group", w.Group())
}

type fakeLocker struct {
	token    string
	err      error
	released []string
}

func (l *fakeLocker) AcquireLock(context.Context, string, time.Duration) (string, error) {
	return l.token, l.err
}

func (l *fakeLocker) ReleaseLock(_ context.Context, _ string, token string) error {
	l.released = append(l.released, token)
	return nil
}

type countingSweep struct {
	calls int
	at    []time.Time
	err   error
}

func (c *countingSweep) SweepExpired(_ context.Context, now time.Time) (int, error) {
	c.calls++
	c.at = append(c.at, now)
	return 1, c.err
}

func (c *countingSweep) Reconcile(_ context.Context, now time.Time) (int, error) {
	c.calls++
	c.at = append(c.at, now)
	return 0, c.err
}

func TestSweepWorker_RunOnce(t *testing.T) {
	tests := []struct {
		name      string
		locker    *fakeLocker
		wantCalls int
		released  []string
	}{
		{"holds lock", &fakeLocker{token: "t-1"}, 1, []string{"t-1"}},
		{"lock held elsewhere", &fakeLocker{}, 0, nil},
		{"lock store down", &fakeLocker{err: errors.New("redis down")}, 1, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stock, payments := &countingSweep{}, &countingSweep{}
			w := NewSweepWorker(tt.locker, stock, payments, time.Minute)
			w.now = func() time.Time { return testDay }

			w.RunOnce(context.Background())

			assert.Equal(t, tt.wantCalls, stock.calls)
			assert.Equal(t, tt.wantCalls, payments.calls)
			assert.Equal(t, tt.released, tt.locker.released)
			if tt.wantCalls > 0 {
				assert.Equal(t, []time.Time{testDay}, stock.at)
			}
		})
	}
}

func TestSweepWorker_PaymentsRunAfterReservationFailure(t *testing.T) {
	stock := &countingSweep{err: errors.New("db down")}
	payments := &countingSweep{}
	w := NewSweepWorker(nil, stock, payments, time.Minute)

	w.RunOnce(context.Background())
	assert.Equal(t, 1, stock.calls)
	assert.Equal(t, 1, payments.calls)
}

func TestSweepWorker_StartStopsWithContext(t *testing.T) {
	stock, payments := &countingSweep{}, &countingSweep{}
	w := NewSweepWorker(nil, stock, payments, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Start(ctx))
	assert.GreaterOrEqual(t, stock.calls, 1)
}
