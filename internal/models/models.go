package models

import "time"

// Product represents a product in the catalog
type Product struct {
	ID        int64     `db:"id" json:"id"`
	SKU       string    `db:"sku" json:"sku"`
	Name      string    `db:"name" json:"name"`
	Price     int64     `db:"price" json:"price"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Inventory is the stock counter row of a product
type Inventory struct {
	ProductID int64     `db:"product_id" json:"product_id"`
	Available int       `db:"available" json:"available"`
	Reserved  int       `db:"reserved" json:"reserved"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Order represents a customer order
type Order struct {
	ID             int64     `db:"id" json:"id"`
	UserID         int64     `db:"user_id" json:"user_id"`
	TotalAmount    int64     `db:"total_amount" json:"total_amount"`
	DiscountAmount int64     `db:"discount_amount" json:"discount_amount"`
	FinalAmount    int64     `db:"final_amount" json:"final_amount"`
	Status         string    `db:"status" json:"status"`
	PaymentMethod  string    `db:"payment_method" json:"payment_method"`
	IdempotencyKey string    `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// OrderItem is an ordered line with the unit price snapshotted at order time
type OrderItem struct {
	ID        int64 `db:"id" json:"id"`
	OrderID   int64 `db:"order_id" json:"order_id"`
	ProductID int64 `db:"product_id" json:"product_id"`
	Quantity  int   `db:"quantity" json:"quantity"`
	UnitPrice int64 `db:"unit_price" json:"unit_price"`
}

// StockReservation holds stock for one (order, product) pair pending payment
type StockReservation struct {
	ID        int64     `db:"id" json:"id"`
	OrderID   int64     `db:"order_id" json:"order_id"`
	ProductID int64     `db:"product_id" json:"product_id"`
	Quantity  int       `db:"quantity" json:"quantity"`
	Status    string    `db:"status" json:"status"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Point is a user's point balance
type Point struct {
	UserID    int64     `db:"user_id" json:"user_id"`
	Balance   int64     `db:"balance" json:"balance"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// PointHistory is an append-only point ledger entry
type PointHistory struct {
	ID              int64     `db:"id" json:"id"`
	UserID          int64     `db:"user_id" json:"user_id"`
	Amount          int64     `db:"amount" json:"amount"`
	BalanceAfter    int64     `db:"balance_after" json:"balance_after"`
	TransactionType string    `db:"transaction_type" json:"transaction_type"`
	ReferenceType   string    `db:"reference_type" json:"reference_type"`
	ReferenceID     int64     `db:"reference_id" json:"reference_id"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// PointReference identifies what a point movement belongs to.
// (Type, ID, transaction type) is unique in point_histories.
type PointReference struct {
	Type string
	ID   int64
}

// Payment represents a payment transaction
type Payment struct {
	ID             int64     `db:"id" json:"id"`
	OrderID        int64     `db:"order_id" json:"order_id"`
	Method         string    `db:"method" json:"method"`
	Amount         int64     `db:"amount" json:"amount"`
	Status         string    `db:"status" json:"status"`
	TransactionKey string    `db:"transaction_key" json:"transaction_key"`
	FailureReason  string    `db:"failure_reason" json:"failure_reason,omitempty"`
	ProcessedAt    time.Time `db:"processed_at" json:"processed_at"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// IsTerminal reports whether no further transition is allowed
func (p *Payment) IsTerminal() bool {
	return p.Status == PaymentStatusCompleted || p.Status == PaymentStatusFailed
}

// Order statuses
const (
	OrderStatusCreated   = "CREATED"
	OrderStatusPaid      = "PAID"
	OrderStatusCancelled = "CANCELLED"
)

// Reservation statuses
const (
	ReservationStatusReserved  = "RESERVED"
	ReservationStatusCommitted = "COMMITTED"
	ReservationStatusReleased  = "RELEASED"
	ReservationStatusExpired   = "EXPIRED"
)

// Payment statuses
const (
	PaymentStatusPending    = "PENDING"
	PaymentStatusProcessing = "PROCESSING"
	PaymentStatusCompleted  = "COMPLETED"
	PaymentStatusFailed     = "FAILED"
)

// Payment methods
const (
	PaymentMethodCard  = "CARD"
	PaymentMethodPoint = "POINT"
)

// Point transaction types
const (
	PointTransactionUse    = "USE"
	PointTransactionCharge = "CHARGE"
)

// Point reference types
const (
	PointReferenceOrder   = "ORDER"
	PointReferencePayment = "PAYMENT"
	PointReferenceManual  = "MANUAL"
)

// ProcessedEvent marks an event as applied for one consumer group
type ProcessedEvent struct {
	EventID       string    `db:"event_id"`
	ConsumerGroup string    `db:"consumer_group"`
	ProcessedAt   time.Time `db:"processed_at"`
}

// ProductMetrics are per-product per-day counters
type ProductMetrics struct {
	ID               int64     `db:"id" json:"id"`
	ProductID        int64     `db:"product_id" json:"product_id"`
	MetricDate       time.Time `db:"metric_date" json:"metric_date"`
	LikeCount        int64     `db:"like_count" json:"like_count"`
	SalesCount       int64     `db:"sales_count" json:"sales_count"`
	ViewCount        int64     `db:"view_count" json:"view_count"`
	TotalSalesAmount int64     `db:"total_sales_amount" json:"total_sales_amount"`
	Version          int64     `db:"version" json:"version"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// MetricsDelta is applied to a ProductMetrics row
type MetricsDelta struct {
	Like   int64
	Sales  int64
	View   int64
	Amount int64
}

// IsZero reports whether the delta changes nothing
func (d MetricsDelta) IsZero() bool {
	return d == MetricsDelta{}
}

// Apply returns m with d applied; like count never drops below zero.
func (m ProductMetrics) Apply(d MetricsDelta) ProductMetrics {
	m.LikeCount += d.Like
	if m.LikeCount < 0 {
		m.LikeCount = 0
	}
	m.SalesCount += d.Sales
	m.ViewCount += d.View
	m.TotalSalesAmount += d.Amount
	return m
}

// EventLog is the audit record of a consumed event
type EventLog struct {
	ID          int64     `db:"id" json:"id"`
	EventID     string    `db:"event_id" json:"event_id"`
	EventType   string    `db:"event_type" json:"event_type"`
	Topic       string    `db:"topic" json:"topic"`
	Partition   int       `db:"partition_num" json:"partition"`
	Offset      int64     `db:"kafka_offset" json:"offset"`
	AggregateID int64     `db:"aggregate_id" json:"aggregate_id"`
	Payload     string    `db:"payload" json:"payload"`
	OccurredAt  time.Time `db:"occurred_at" json:"occurred_at"`
	ProcessedAt time.Time `db:"processed_at" json:"processed_at"`
}
