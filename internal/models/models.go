package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderState is the lifecycle state of an order.
type OrderState string

// Order states
const (
	StatePending           OrderState = "PENDING"
	StateValidating        OrderState = "VALIDATING"
	StateReserved          OrderState = "RESERVED"
	StateProcessingPayment OrderState = "PROCESSING_PAYMENT"
	StatePaid              OrderState = "PAID"
	StateFulfilling        OrderState = "FULFILLING"
	StateCompleted         OrderState = "COMPLETED"
	StatePaymentFailed     OrderState = "PAYMENT_FAILED"
	StateInventoryFailed   OrderState = "INVENTORY_FAILED"
	StateCancelled         OrderState = "CANCELLED"
	StateRefunded          OrderState = "REFUNDED"
)

// Address is a point-in-time snapshot of a shipping or billing address.
// Stored as a JSON column.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Value implements driver.Valuer so addresses persist as JSON.
func (a Address) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan implements sql.Scanner.
func (a *Address) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*a = Address{}
		return nil
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return fmt.Errorf("cannot scan %T into Address", src)
	}
}

// Metadata is the free-form mapping attached to audit entries.
// Stored as a JSON column.
type Metadata map[string]string

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return json.Marshal(Metadata{})
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("cannot scan %T into Metadata", src)
	}
}

// Order represents a customer order. Monetary amounts are fixed-point
// decimals; totals are computed once at creation and never mutated.
type Order struct {
	ID              string          `db:"id" json:"id"`
	CustomerID      string          `db:"customer_id" json:"customer_id"`
	State           OrderState      `db:"state" json:"state"`
	Currency        string          `db:"currency" json:"currency"`
	Subtotal        decimal.Decimal `db:"subtotal" json:"subtotal"`
	Tax             decimal.Decimal `db:"tax" json:"tax"`
	Shipping        decimal.Decimal `db:"shipping" json:"shipping"`
	Total           decimal.Decimal `db:"total" json:"total"`
	ShippingAddress Address         `db:"shipping_address" json:"shipping_address"`
	BillingAddress  Address         `db:"billing_address" json:"billing_address"`
	IdempotencyKey  string          `db:"idempotency_key" json:"idempotency_key,omitempty"`
	RequestHash     string          `db:"request_hash" json:"-"`
	ReservationID   string          `db:"reservation_id" json:"reservation_id,omitempty"`
	PaymentIntentID string          `db:"payment_intent_id" json:"payment_intent_id,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`

	Items []OrderItem `db:"-" json:"items"`
}

// OrderItem is a single order line. Immutable once the order is created.
type OrderItem struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   string          `db:"order_id" json:"order_id"`
	BookID    string          `db:"book_id" json:"book_id"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	LineTotal decimal.Decimal `db:"line_total" json:"line_total"`
}

// OrderAuditLog is one append-only record of a state transition. Entries are
// written in the same atomic unit as the state change and never updated.
type OrderAuditLog struct {
	ID            int64      `db:"id" json:"id"`
	OrderID       string     `db:"order_id" json:"order_id"`
	PreviousState OrderState `db:"previous_state" json:"previous_state"`
	NewState      OrderState `db:"new_state" json:"new_state"`
	Reason        string     `db:"reason" json:"reason"`
	Metadata      Metadata   `db:"metadata" json:"metadata"`
	Actor         *string    `db:"actor" json:"actor,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}
