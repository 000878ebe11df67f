package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderSubmitted       = "ORDER_SUBMITTED"
	EventTypeStateChanged         = "STATE_CHANGED"
	EventTypeOrderCompleted       = "ORDER_COMPLETED"
	EventTypePaymentFailed        = "PAYMENT_FAILED"
	EventTypeInventoryUnavailable = "INVENTORY_UNAVAILABLE"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderSubmittedEvent queues a checkout request for asynchronous processing
type OrderSubmittedEvent struct {
	BaseEvent
	IdempotencyKey string          `json:"idempotency_key"`
	CustomerID     string          `json:"customer_id"`
	Currency       string          `json:"currency"`
	Tax            decimal.Decimal `json:"tax"`
	Shipping       decimal.Decimal `json:"shipping"`
	PaymentMethod  string          `json:"payment_method"`
	Items          []OrderItemData `json:"items"`
}

// StateChangedEvent published after every durable state transition
type StateChangedEvent struct {
	BaseEvent
	OrderID       string     `json:"order_id"`
	PreviousState OrderState `json:"previous_state"`
	NewState      OrderState `json:"new_state"`
	Reason        string     `json:"reason"`
}

// OrderCompletedEvent published when the checkout saga ends in PAID
type OrderCompletedEvent struct {
	BaseEvent
	OrderID       string          `json:"order_id"`
	CustomerID    string          `json:"customer_id"`
	Total         decimal.Decimal `json:"total"`
	Currency      string          `json:"currency"`
	ReservationID string          `json:"reservation_id"`
	TransactionID string          `json:"transaction_id"`
	Items         []OrderItemData `json:"items"`
}

// PaymentFailedEvent published when payment is declined or the provider faults
type PaymentFailedEvent struct {
	BaseEvent
	OrderID      string          `json:"order_id"`
	CustomerID   string          `json:"customer_id"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	ErrorCode    string          `json:"error_code"`
	ErrorMessage string          `json:"error_message"`
}

// InventoryUnavailableEvent published when reservation fails on availability
type InventoryUnavailableEvent struct {
	BaseEvent
	OrderID          string            `json:"order_id"`
	CustomerID       string            `json:"customer_id"`
	UnavailableItems []UnavailableItem `json:"unavailable_items"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	BookID    string          `json:"book_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// UnavailableItem reports an availability shortfall for one book
type UnavailableItem struct {
	BookID    string `json:"book_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}
