package inventory

import (
	"context"
	"fmt"

	"checkout-service/internal/models"

	"github.com/shopspring/decimal"
)

// Client is the logical contract of the external inventory service.
// Repeated identical calls are assumed idempotent on the service side.
type Client interface {
	// Reserve places a time-bounded hold on every item in one call.
	// A shortfall is reported through the response, not an error; only
	// transport or backend faults return a *ServiceError.
	Reserve(ctx context.Context, reservationID string, items []ReserveItem, timeoutSeconds int) (*ReserveResponse, error)

	// Confirm converts a hold into a permanent allocation.
	Confirm(ctx context.Context, reservationID string) error

	// Release frees a hold.
	Release(ctx context.Context, reservationID string) error
}

// ReserveItem is one line of a reservation request.
type ReserveItem struct {
	BookID    string          `json:"book_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// ReserveResponse reports the outcome of a reservation attempt.
type ReserveResponse struct {
	Success          bool                     `json:"success"`
	ReservedItems    []ReserveItem            `json:"reserved_items,omitempty"`
	UnavailableItems []models.UnavailableItem `json:"unavailable_items,omitempty"`
}

// ServiceError is a transport or backend fault talking to the inventory
// service. Retryable by caller policy, unlike an availability shortfall.
type ServiceError struct {
	Op      string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("inventory %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("inventory %s: %s", e.Op, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}
