package payment

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Status is the provider-facing payment status vocabulary.
type Status string

const (
	StatusRequiresPaymentMethod Status = "requires_payment_method"
	StatusRequiresConfirmation  Status = "requires_confirmation"
	StatusRequiresAction        Status = "requires_action"
	StatusProcessing            Status = "processing"
	StatusSucceeded             Status = "succeeded"
	StatusDeclined              Status = "declined"
	StatusCancelled             Status = "cancelled"
	StatusUnknown               Status = "unknown"
)

// IntentRequest carries everything needed to set up a payment attempt.
type IntentRequest struct {
	OrderID    string
	CustomerID string
	Amount     decimal.Decimal
	Currency   string
}

// Intent is a provider-issued payment intent.
type Intent struct {
	ID       string
	Amount   decimal.Decimal
	Currency string
	Status   Status
	// Raw holds any provider-specific payload, opaque to the core.
	Raw map[string]interface{}
}

// Result is the outcome of a confirmation attempt. A decline is a normal
// result, never an error.
type Result struct {
	IntentID      string
	TransactionID string
	Status        Status
	Amount        decimal.Decimal
	Currency      string
	ErrorCode     string
	ErrorMessage  string
}

// RefundResult is the outcome of a refund.
type RefundResult struct {
	RefundID      string
	TransactionID string
	Amount        decimal.Decimal
	Status        Status
}

// Gateway is the single capability contract the saga coordinator depends on.
// Backends form a closed set of variants; callers never hold a concrete type.
type Gateway interface {
	// CreatePaymentIntent sets up a payment attempt. Safe to retry with the
	// same logical request: the idempotency token is derived from the order id.
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error)

	// ConfirmPayment attempts capture. Declines come back as a Result with
	// StatusDeclined; only transport or backend faults return *ProviderError.
	ConfirmPayment(ctx context.Context, intentID, method string) (*Result, error)

	// RefundPayment refunds a captured transaction, partially when amount is
	// non-nil, in full otherwise.
	RefundPayment(ctx context.Context, transactionID string, amount *decimal.Decimal) (*RefundResult, error)

	// GetPaymentStatus is an idempotent status read.
	GetPaymentStatus(ctx context.Context, intentID string) (Status, error)
}

// ProviderError is a transport or backend-level fault, distinct from a
// business decline.
type ProviderError struct {
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payment %s: %s (%s): %v", e.Op, e.Message, e.Code, e.Err)
	}
	return fmt.Sprintf("payment %s: %s (%s)", e.Op, e.Message, e.Code)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
