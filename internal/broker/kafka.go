package broker

import (
	"context"
	"errors"
	"time"

	"commerce-service/internal/util"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const headerEventType = "eventType"

// MessageWriter is the subset of *kafka.Writer the publisher needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewProducer creates an async Kafka writer. Topics are set per message and
// the partition is picked by hashing the key, so events of one aggregate
// stay ordered.
func NewProducer(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
		Async:        true,
		Completion:   logCompletion,
	}
}

func logCompletion(messages []kafka.Message, err error) {
	logger := util.GetLogger()
	result := "ok"
	if err != nil {
		result = "error"
	}
	for _, msg := range messages {
		eventType := headerValue(msg, headerEventType)
		util.EventsPublishedTotal.WithLabelValues(eventType, result).Inc()
		if err != nil {
			logger.Error("Failed to publish event",
				zap.String("topic", msg.Topic),
				zap.String("key", string(msg.Key)),
				zap.String("event_type", eventType),
				zap.Error(err))
		}
	}
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// MessageReader is the subset of *kafka.Reader the consumer needs
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads one consumer group across several topics
type Consumer struct {
	reader  MessageReader
	groupID string
	retry   func() backoff.BackOff
}

// NewConsumer creates a new Kafka consumer group member
func NewConsumer(brokers []string, topics []string, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        groupID,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.FirstOffset,
	})

	return NewConsumerWithReader(reader, groupID)
}

// NewConsumerWithReader wraps an existing reader
func NewConsumerWithReader(reader MessageReader, groupID string) *Consumer {
	return &Consumer{
		reader:  reader,
		groupID: groupID,
		retry: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			return b
		},
	}
}

// GroupID returns the consumer group
func (c *Consumer) GroupID() string {
	return c.groupID
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// MessageHandler is a function type for handling messages
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// StartConsuming consumes until ctx ends. A message is committed only after
// handler succeeds; a failing message is retried with backoff so the
// partition does not move past it.
func (c *Consumer) StartConsuming(ctx context.Context, handler MessageHandler) error {
	logger := util.GetLogger().With(zap.String("group", c.groupID))
	logger.Info("Starting Kafka consumer")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				logger.Info("Consumer context cancelled, stopping")
				return ctx.Err()
			}
			logger.Error("Error fetching message", zap.Error(err))
			if !sleep(ctx, time.Second) {
				return ctx.Err()
			}
			continue
		}

		if err := c.handleWithRetry(ctx, msg, handler); err != nil {
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			logger.Error("Error committing message",
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}
	}
}

func (c *Consumer) handleWithRetry(ctx context.Context, msg kafka.Message, handler MessageHandler) error {
	b := c.retry()
	for attempt := 1; ; attempt++ {
		err := handler(ctx, msg)
		if err == nil {
			return nil
		}

		util.EventsConsumedTotal.WithLabelValues(c.groupID, "retry").Inc()
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			wait = time.Second
		}
		util.GetLogger().Warn("Handler failed, retrying message",
			zap.String("group", c.groupID),
			zap.String("topic", msg.Topic),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))

		if !sleep(ctx, wait) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
