package broker

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"commerce-service/internal/models"
	"commerce-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Topics routes event types to Kafka topics
type Topics struct {
	Order   string
	Catalog string
}

// For returns the topic of an event type
func (t Topics) For(eventType models.EventType) string {
	if eventType == models.EventTypeOrderCompleted {
		return t.Order
	}
	return t.Catalog
}

// All lists every topic
func (t Topics) All() []string {
	return []string{t.Order, t.Catalog}
}

// EventPublisher publishes domain events fire-and-forget. Failures are
// logged and counted, never returned.
type EventPublisher struct {
	writer MessageWriter
	topics Topics
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(writer MessageWriter, topics Topics) *EventPublisher {
	return &EventPublisher{writer: writer, topics: topics}
}

// Publish sends event keyed by its aggregate id
func (ep *EventPublisher) Publish(ctx context.Context, event models.Event) {
	meta := event.Meta()
	logger := util.GetLogger().With(
		zap.String("event_id", meta.EventID),
		zap.String("event_type", string(meta.EventType)),
		zap.Int64("aggregate_id", meta.AggregateID))

	value, err := json.Marshal(event)
	if err != nil {
		util.EventsPublishedTotal.WithLabelValues(string(meta.EventType), "encode_error").Inc()
		logger.Error("Failed to marshal event", zap.Error(err))
		return
	}

	msg := kafka.Message{
		Topic: ep.topics.For(meta.EventType),
		Key:   []byte(strconv.FormatInt(meta.AggregateID, 10)),
		Value: value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: headerEventType, Value: []byte(meta.EventType)},
		},
	}

	if err := ep.writer.WriteMessages(ctx, msg); err != nil {
		util.EventsPublishedTotal.WithLabelValues(string(meta.EventType), "error").Inc()
		logger.Error("Failed to write event to kafka", zap.Error(err))
		return
	}

	logger.Debug("Published event", zap.String("topic", msg.Topic))
}

// Close flushes pending writes
func (ep *EventPublisher) Close() error {
	return ep.writer.Close()
}

// Delivery is a decoded event with its position in the log
type Delivery struct {
	Event     models.Event
	Topic     string
	Partition int
	Offset    int64
	Payload   []byte
}

// DeliveryFunc handles one decoded event
type DeliveryFunc func(ctx context.Context, d Delivery) error

// EventHandler routes incoming messages by event type
type EventHandler struct {
	group    string
	handlers map[models.EventType]DeliveryFunc
	fallback DeliveryFunc
}

// NewEventHandler creates a new event handler for a consumer group
func NewEventHandler(group string) *EventHandler {
	return &EventHandler{group: group, handlers: make(map[models.EventType]DeliveryFunc)}
}

// On registers a handler for one event type
func (eh *EventHandler) On(eventType models.EventType, fn DeliveryFunc) {
	eh.handlers[eventType] = fn
}

// OnAny registers a handler for types without a specific handler
func (eh *EventHandler) OnAny(fn DeliveryFunc) {
	eh.fallback = fn
}

// HandleMessage routes messages to appropriate handlers. Undecodable
// messages are logged and dropped; they would never succeed on retry.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	logger := util.GetLogger()

	event, err := models.DecodeEvent(msg.Value)
	if err != nil {
		util.EventsConsumedTotal.WithLabelValues(eh.group, "invalid").Inc()
		logger.Error("Dropping undecodable message",
			zap.String("group", eh.group),
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return nil
	}

	meta := event.Meta()
	fn, ok := eh.handlers[meta.EventType]
	if !ok {
		fn = eh.fallback
	}
	if fn == nil {
		util.EventsConsumedTotal.WithLabelValues(eh.group, "ignored").Inc()
		return nil
	}

	logger.Debug("Handling event",
		zap.String("group", eh.group),
		zap.String("event_type", string(meta.EventType)),
		zap.String("event_id", meta.EventID))

	if err := fn(ctx, Delivery{
		Event:     event,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Payload:   msg.Value,
	}); err != nil {
		return err
	}
	util.EventsConsumedTotal.WithLabelValues(eh.group, "handled").Inc()
	return nil
}
