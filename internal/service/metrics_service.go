package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"commerce-service/internal/apperr"
	"commerce-service/internal/models"
	"commerce-service/internal/store"
	"commerce-service/internal/util"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

var errVersionConflict = errors.New("product metrics version conflict")

// MetricsService keeps per-product daily counters under optimistic locking
type MetricsService struct {
	store    *store.Store
	location *time.Location
	maxTries uint
	backoff  func() backoff.BackOff
	logger   *zap.Logger
}

// NewMetricsService creates a new metrics service
func NewMetricsService(s *store.Store, loc *time.Location) *MetricsService {
	if loc == nil {
		loc = time.UTC
	}
	return &MetricsService{
		store:    s,
		location: loc,
		maxTries: 5,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 10 * time.Millisecond
			b.MaxInterval = 200 * time.Millisecond
			return b
		},
		logger: util.GetLogger(),
	}
}

// UpsertDaily applies delta to the (product, date) row, creating it on
// first use. A version conflict re-reads the row and tries again.
func (s *MetricsService) UpsertDaily(ctx context.Context, tx *store.Store, productID int64, date time.Time, delta models.MetricsDelta) error {
	if delta.IsZero() {
		return nil
	}
	day := date.In(s.location)

	if err := tx.EnsureProductMetrics(ctx, productID, day); err != nil {
		return err
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		current, err := tx.GetProductMetrics(ctx, productID, day)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}

		next := current.Apply(delta)
		ok, err := tx.UpdateProductMetricsVersioned(ctx, &next)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if !ok {
			util.MetricsVersionConflicts.Inc()
			return struct{}{}, errVersionConflict
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(s.backoff()), backoff.WithMaxTries(s.maxTries))

	if errors.Is(err, errVersionConflict) {
		return apperr.Wrap(err, apperr.KindConflict, "product metrics kept changing")
	}
	return err
}

// MetricsDeltas maps an event to per-product counter changes
func MetricsDeltas(event models.Event) map[int64]models.MetricsDelta {
	deltas := make(map[int64]models.MetricsDelta)
	switch e := event.(type) {
	case *models.ProductViewedEvent:
		d := deltas[e.ProductID]
		d.View++
		deltas[e.ProductID] = d
	case *models.LikeChangedEvent:
		d := deltas[e.ProductID]
		d.Like += int64(e.DeltaCount)
		deltas[e.ProductID] = d
	case *models.OrderCompletedEvent:
		for _, item := range e.Items {
			d := deltas[item.ProductID]
			d.Sales += int64(item.Quantity)
			d.Amount += item.Amount()
			deltas[item.ProductID] = d
		}
	}
	return deltas
}

// Apply upserts the counters touched by event, products in ascending order
func (s *MetricsService) Apply(ctx context.Context, tx *store.Store, event models.Event) error {
	deltas := MetricsDeltas(event)
	ids := make([]int64, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	date := event.Meta().OccurredAt
	for _, id := range ids {
		if err := s.UpsertDaily(ctx, tx, id, date, deltas[id]); err != nil {
			return err
		}
	}
	return nil
}

// Daily returns the counters of a product for date
func (s *MetricsService) Daily(ctx context.Context, productID int64, date time.Time) (*models.ProductMetrics, error) {
	return s.store.GetProductMetrics(ctx, productID, date.In(s.location))
}
