package store

import (
	"context"

	"commerce-service/internal/models"
)

// InsertProcessedEvent records (eventID, group) and reports whether the
// marker was new. false means the event was already handled by the group.
func (s *Store) InsertProcessedEvent(ctx context.Context, eventID, consumerGroup string) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO processed_events (event_id, consumer_group)
		VALUES ($1, $2)
		ON CONFLICT (event_id, consumer_group) DO NOTHING`,
		eventID, consumerGroup)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// IsEventProcessed checks if an event has been processed by a group
func (s *Store) IsEventProcessed(ctx context.Context, eventID, consumerGroup string) (bool, error) {
	var exists bool
	err := s.q.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1 AND consumer_group = $2)",
		eventID, consumerGroup)
	return exists, err
}

// InsertEventLog stores the audit record of a consumed event
func (s *Store) InsertEventLog(ctx context.Context, l *models.EventLog) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO event_log (event_id, event_type, topic, partition_num, kafka_offset, aggregate_id, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id) DO NOTHING`,
		l.EventID, l.EventType, l.Topic, l.Partition, l.Offset, l.AggregateID, l.Payload, l.OccurredAt)
	return err
}
