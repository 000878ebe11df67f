package service

import (
	"fmt"

	"checkout-service/internal/models"
)

// InvalidTransitionError reports an attempt to move an order between states
// the transition table does not allow. Always a bug or stale data; never
// retried.
type InvalidTransitionError struct {
	OrderID string
	From    models.OrderState
	To      models.OrderState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for order %s: %s -> %s", e.OrderID, e.From, e.To)
}

// OrderProcessingError wraps an infrastructure fault that interrupted a saga.
// It is raised only after compensation has been attempted: the order has been
// driven to a terminal state for this attempt and any held reservation
// released.
type OrderProcessingError struct {
	OrderID string
	Stage   string
	Err     error
}

func (e *OrderProcessingError) Error() string {
	return fmt.Sprintf("order %s failed during %s: %v", e.OrderID, e.Stage, e.Err)
}

func (e *OrderProcessingError) Unwrap() error {
	return e.Err
}
