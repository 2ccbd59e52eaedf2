package service

import (
	"context"

	"commerce-service/internal/models"
	"commerce-service/internal/store"
	"commerce-service/internal/util"

	"go.uber.org/zap"
)

// Decision tells a consumer whether to apply an event
type Decision int

const (
	Process Decision = iota
	Skip
)

func (d Decision) String() string {
	if d == Skip {
		return "SKIP"
	}
	return "PROCESS"
}

// IdempotencyService records (eventId, consumerGroup) markers so a
// redelivered event has its effect once per group.
type IdempotencyService struct {
	store  *store.Store
	logger *zap.Logger
}

// NewIdempotencyService creates a new dedup guard
func NewIdempotencyService(s *store.Store) *IdempotencyService {
	return &IdempotencyService{store: s, logger: util.GetLogger()}
}

// TryHandle inserts the marker inside tx. The marker only becomes visible
// if tx commits, together with the effect it guards.
func (s *IdempotencyService) TryHandle(ctx context.Context, tx *store.Store, eventID, consumerGroup string) (Decision, error) {
	inserted, err := tx.InsertProcessedEvent(ctx, eventID, consumerGroup)
	if err != nil {
		return Process, err
	}
	if !inserted {
		return Skip, nil
	}
	return Process, nil
}

// Handle runs effect at most once per (event, group). An effect error
// rolls back the marker so redelivery retries the event.
func (s *IdempotencyService) Handle(ctx context.Context, event models.Event, consumerGroup string, effect func(tx *store.Store) error) error {
	meta := event.Meta()
	skipped := false

	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		decision, err := s.TryHandle(ctx, tx, meta.EventID, consumerGroup)
		if err != nil {
			return err
		}
		if decision == Skip {
			skipped = true
			return nil
		}
		return effect(tx)
	})
	if err != nil {
		util.EventsConsumedTotal.WithLabelValues(consumerGroup, "failed").Inc()
		return err
	}

	if skipped {
		util.EventsConsumedTotal.WithLabelValues(consumerGroup, "skipped").Inc()
		s.logger.Debug("Event already processed",
			zap.String("event_id", meta.EventID),
			zap.String("group", consumerGroup))
	}
	return nil
}
