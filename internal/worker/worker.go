package worker

import (
	"context"
	"errors"

	"commerce-service/internal/broker"
	"commerce-service/internal/models"
	"commerce-service/internal/service"
	"commerce-service/internal/store"
	"commerce-service/internal/util"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Consumer groups of the streamer
const (
	GroupRanking = "ranking-consumer"
	GroupMetrics = "metrics-consumer"
	GroupAudit   = "audit-log-consumer"
)

// ConsumerWorker runs several readers of one consumer group. Kafka spreads
// the partitions over them, so per-key order is kept.
type ConsumerWorker struct {
	group     string
	consumers []*broker.Consumer
	handler   *broker.EventHandler
	logger    *zap.Logger
}

// NewConsumerWorker creates a worker over consumers of the same group
func NewConsumerWorker(group string, consumers []*broker.Consumer, handler *broker.EventHandler) *ConsumerWorker {
	return &ConsumerWorker{
		group:     group,
		consumers: consumers,
		handler:   handler,
		logger:    util.GetLogger().With(zap.String("group", group)),
	}
}

// Group returns the consumer group
func (w *ConsumerWorker) Group() string {
	return w.group
}

// Start consumes until ctx ends or a reader fails
func (w *ConsumerWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting consumer worker", zap.Int("readers", len(w.consumers)))

	g, ctx := errgroup.WithContext(ctx)
	for _, c := range w.consumers {
		g.Go(func() error {
			return c.StartConsuming(ctx, w.handler.HandleMessage)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop closes every reader
func (w *ConsumerWorker) Stop() error {
	w.logger.Info("Stopping consumer worker")
	var errs []error
	for _, c := range w.consumers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewRankingHandler scores views, likes and completed orders. A Redis
// failure rolls the marker back so the event is retried.
func NewRankingHandler(guard *service.IdempotencyService, ranking *service.RankingService) *broker.EventHandler {
	h := broker.NewEventHandler(GroupRanking)
	apply := func(ctx context.Context, d broker.Delivery) error {
		return guard.Handle(ctx, d.Event, GroupRanking, func(*store.Store) error {
			return ranking.Apply(ctx, d.Event)
		})
	}
	h.On(models.EventTypeProductViewed, apply)
	h.On(models.EventTypeLikeChanged, apply)
	h.On(models.EventTypeOrderCompleted, apply)
	return h
}

// NewMetricsHandler folds events into the daily product counters
func NewMetricsHandler(guard *service.IdempotencyService, metrics *service.MetricsService) *broker.EventHandler {
	h := broker.NewEventHandler(GroupMetrics)
	apply := func(ctx context.Context, d broker.Delivery) error {
		return guard.Handle(ctx, d.Event, GroupMetrics, func(tx *store.Store) error {
			return metrics.Apply(ctx, tx, d.Event)
		})
	}
	h.On(models.EventTypeProductViewed, apply)
	h.On(models.EventTypeLikeChanged, apply)
	h.On(models.EventTypeOrderCompleted, apply)
	return h
}

// NewAuditHandler stores every event in the event log
func NewAuditHandler(guard *service.IdempotencyService, audit *service.AuditService) *broker.EventHandler {
	h := broker.NewEventHandler(GroupAudit)
	h.OnAny(func(ctx context.Context, d broker.Delivery) error {
		return guard.Handle(ctx, d.Event, GroupAudit, func(tx *store.Store) error {
			return audit.Record(ctx, tx, d)
		})
	})
	return h
}
