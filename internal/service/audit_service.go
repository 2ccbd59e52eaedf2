package service

import (
	"context"

	"commerce-service/internal/broker"
	"commerce-service/internal/models"
	"commerce-service/internal/store"
)

// AuditService stores every consumed event in the event log
type AuditService struct{}

// NewAuditService creates a new audit service
func NewAuditService() *AuditService {
	return &AuditService{}
}

// Record writes d to event_log inside tx
func (s *AuditService) Record(ctx context.Context, tx *store.Store, d broker.Delivery) error {
	meta := d.Event.Meta()
	return tx.InsertEventLog(ctx, &models.EventLog{
		EventID:     meta.EventID,
		EventType:   string(meta.EventType),
		Topic:       d.Topic,
		Partition:   d.Partition,
		Offset:      d.Offset,
		AggregateID: meta.AggregateID,
		Payload:     string(d.Payload),
		OccurredAt:  meta.OccurredAt,
	})
}
