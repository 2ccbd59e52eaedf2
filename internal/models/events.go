package models

import (
	"encoding/json"
	"fmt"
	"time"

	"commerce-service/internal/apperr"

	"github.com/google/uuid"
)

// EventType is the discriminant of the event envelope
type EventType string

// Event types
const (
	EventTypeOrderCompleted EventType = "OrderCompleted"
	EventTypeLikeChanged    EventType = "LikeChanged"
	EventTypeStockAdjusted  EventType = "StockAdjusted"
	EventTypeProductViewed  EventType = "ProductViewed"
)

// Like actions
const (
	LikeActionCreated   = "CREATED"
	LikeActionCancelled = "CANCELLED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID     string    `json:"eventId"`
	EventType   EventType `json:"eventType"`
	AggregateID int64     `json:"aggregateId"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// Meta returns the envelope fields
func (b BaseEvent) Meta() BaseEvent { return b }

func (BaseEvent) event() {}

// Event is one of OrderCompletedEvent, LikeChangedEvent, StockAdjustedEvent
// or ProductViewedEvent.
type Event interface {
	Meta() BaseEvent
	event()
}

func newBase(eventType EventType, aggregateID int64) BaseEvent {
	return BaseEvent{
		EventID:     uuid.New().String(),
		EventType:   eventType,
		AggregateID: aggregateID,
		OccurredAt:  time.Now(),
	}
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
	Price     int64 `json:"price"`
}

// Amount is price times quantity
func (i OrderItemData) Amount() int64 {
	return i.Price * int64(i.Quantity)
}

// OrderCompletedEvent published when an order is paid
type OrderCompletedEvent struct {
	BaseEvent
	OrderID int64           `json:"orderId"`
	UserID  int64           `json:"userId"`
	Items   []OrderItemData `json:"items"`
}

// LikeChangedEvent published when a user likes or unlikes a product
type LikeChangedEvent struct {
	BaseEvent
	ProductID  int64  `json:"productId"`
	UserID     int64  `json:"userId"`
	Action     string `json:"action"`
	DeltaCount int    `json:"deltaCount"`
}

// StockAdjustedEvent published when stock is adjusted outside of orders
type StockAdjustedEvent struct {
	BaseEvent
	ProductID        int64 `json:"productId"`
	AdjustedQuantity int   `json:"adjustedQuantity"`
	CurrentStock     int   `json:"currentStock"`
}

// ProductViewedEvent published when a product detail is viewed
type ProductViewedEvent struct {
	BaseEvent
	ProductID int64 `json:"productId"`
}

func NewOrderCompletedEvent(orderID, userID int64, items []OrderItemData) *OrderCompletedEvent {
	return &OrderCompletedEvent{
		BaseEvent: newBase(EventTypeOrderCompleted, orderID),
		OrderID:   orderID,
		UserID:    userID,
		Items:     items,
	}
}

func NewLikeChangedEvent(productID, userID int64, liked bool) *LikeChangedEvent {
	action, delta := LikeActionCreated, 1
	if !liked {
		action, delta = LikeActionCancelled, -1
	}
	return &LikeChangedEvent{
		BaseEvent:  newBase(EventTypeLikeChanged, productID),
		ProductID:  productID,
		UserID:     userID,
		Action:     action,
		DeltaCount: delta,
	}
}

func NewStockAdjustedEvent(productID int64, adjusted, current int) *StockAdjustedEvent {
	return &StockAdjustedEvent{
		BaseEvent:        newBase(EventTypeStockAdjusted, productID),
		ProductID:        productID,
		AdjustedQuantity: adjusted,
		CurrentStock:     current,
	}
}

func NewProductViewedEvent(productID int64) *ProductViewedEvent {
	return &ProductViewedEvent{
		BaseEvent: newBase(EventTypeProductViewed, productID),
		ProductID: productID,
	}
}

// DecodeEvent decodes an envelope by its eventType field
func DecodeEvent(data []byte) (Event, error) {
	var base BaseEvent
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, apperr.Wrap(err, apperr.KindValidation, "malformed event envelope")
	}
	if base.EventID == "" {
		return nil, apperr.Validation("event without eventId")
	}

	var event Event
	switch base.EventType {
	case EventTypeOrderCompleted:
		event = &OrderCompletedEvent{}
	case EventTypeLikeChanged:
		event = &LikeChangedEvent{}
	case EventTypeStockAdjusted:
		event = &StockAdjustedEvent{}
	case EventTypeProductViewed:
		event = &ProductViewedEvent{}
	default:
		return nil, apperr.Validation("unknown event type %q", base.EventType)
	}

	if err := json.Unmarshal(data, event); err != nil {
		return nil, apperr.Wrap(err, apperr.KindValidation, fmt.Sprintf("malformed %s payload", base.EventType))
	}
	return event, nil
}
