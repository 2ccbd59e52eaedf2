package service

import (
	"context"
	"time"

	"commerce-service/internal/gateway"
	"commerce-service/internal/models"
)

// Publisher is implemented by broker.EventPublisher
type Publisher interface {
	Publish(ctx context.Context, event models.Event)
}

// PaymentGateway is implemented by gateway.Client
type PaymentGateway interface {
	RequestPayment(ctx context.Context, req gateway.PaymentRequest) error
	GetTransaction(ctx context.Context, transactionKey string) (*gateway.Transaction, error)
}

// Clock returns the current time
type Clock func() time.Time

// publishAfterCommit detaches ctx so the publish outlives the request
func publishAfterCommit(ctx context.Context, publisher Publisher, event models.Event) func() {
	detached := context.WithoutCancel(ctx)
	return func() {
		publisher.Publish(detached, event)
	}
}
