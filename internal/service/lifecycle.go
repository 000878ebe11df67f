package service

import (
	"context"
	"fmt"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// GetOrder retrieves an order with its items.
func (p *Processor) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return p.store.GetOrderByID(ctx, orderID)
}

// ListCustomerOrders retrieves a customer's orders, newest first.
func (p *Processor) ListCustomerOrders(ctx context.Context, customerID string) ([]models.Order, error) {
	return p.store.GetOrdersByCustomerID(ctx, customerID)
}

// GetAuditTrail retrieves the append-only transition history for an order.
func (p *Processor) GetAuditTrail(ctx context.Context, orderID string) ([]models.OrderAuditLog, error) {
	if _, err := p.store.GetOrderByID(ctx, orderID); err != nil {
		return nil, err
	}
	return p.store.GetAuditLog(ctx, orderID)
}

// MarkFulfilling moves a paid order into fulfillment.
func (p *Processor) MarkFulfilling(ctx context.Context, orderID string, actor *string) (*models.Order, error) {
	order, err := p.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := p.stateMachine.Transition(ctx, order, models.StateFulfilling,
		"fulfillment started", nil, actor); err != nil {
		return nil, err
	}
	return order, nil
}

// CompleteOrder marks a fulfilling order as delivered.
func (p *Processor) CompleteOrder(ctx context.Context, orderID string, actor *string) (*models.Order, error) {
	order, err := p.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := p.stateMachine.Transition(ctx, order, models.StateCompleted,
		"order delivered", nil, actor); err != nil {
		return nil, err
	}
	return order, nil
}

// CancelOrder cancels an order from any cancellable state, releasing a
// still-active reservation first.
func (p *Processor) CancelOrder(ctx context.Context, orderID, reason string, actor *string) (*models.Order, error) {
	order, err := p.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !CanTransition(order.State, models.StateCancelled) {
		return nil, &InvalidTransitionError{OrderID: order.ID, From: order.State, To: models.StateCancelled}
	}

	if order.ReservationID != "" {
		p.reservations.Release(ctx, order.ReservationID, "order cancelled: "+reason)
	}

	if err := p.stateMachine.Transition(ctx, order, models.StateCancelled, reason, nil, actor); err != nil {
		return nil, err
	}

	util.OrdersCancelledTotal.Inc()
	return order, nil
}

// RefundOrder refunds a paid or completed order through the payment gateway;
// partial when amount is non-nil, full otherwise. A full refund moves the
// order to REFUNDED; a partial refund leaves the state untouched and only
// records the refund in the audit trail.
func (p *Processor) RefundOrder(ctx context.Context, orderID string, amount *decimal.Decimal, actor *string) (*models.Order, error) {
	order, err := p.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !CanTransition(order.State, models.StateRefunded) {
		return nil, &InvalidTransitionError{OrderID: order.ID, From: order.State, To: models.StateRefunded}
	}

	transactionID, err := p.capturedTransactionID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	refund, err := p.gateway.RefundPayment(ctx, transactionID, amount)
	if err != nil {
		return nil, fmt.Errorf("refund failed for order %s: %w", orderID, err)
	}

	full := amount == nil || amount.GreaterThanOrEqual(order.Total)
	metadata := models.Metadata{
		"refund_id":      refund.RefundID,
		"refund_amount":  refund.Amount.StringFixed(2),
		"transaction_id": transactionID,
	}

	if !full {
		// State stays put: a partial refund is not a lifecycle move. The
		// money movement still gets a durable audit record.
		entry := &models.OrderAuditLog{
			OrderID:       order.ID,
			PreviousState: order.State,
			NewState:      order.State,
			Reason:        "partial refund issued",
			Metadata:      metadata,
			Actor:         actor,
			CreatedAt:     time.Now().UTC(),
		}
		if err := p.store.SaveTransition(ctx, order, entry); err != nil {
			return nil, fmt.Errorf("failed to record partial refund for order %s: %w", orderID, err)
		}
		p.logger.Info("Partial refund issued",
			zap.String("order_id", orderID),
			zap.String("refund_id", refund.RefundID),
			zap.String("amount", refund.Amount.StringFixed(2)))
		return order, nil
	}

	if err := p.stateMachine.Transition(ctx, order, models.StateRefunded,
		"order refunded", metadata, actor); err != nil {
		return nil, err
	}

	util.OrdersRefundedTotal.Inc()
	return order, nil
}

// capturedTransactionID digs the provider transaction id out of the PAID
// audit entry.
func (p *Processor) capturedTransactionID(ctx context.Context, orderID string) (string, error) {
	entries, err := p.store.GetAuditLog(ctx, orderID)
	if err != nil {
		return "", err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].NewState == models.StatePaid {
			if txID, ok := entries[i].Metadata["transaction_id"]; ok && txID != "" {
				return txID, nil
			}
		}
	}
	return "", fmt.Errorf("no captured transaction recorded for order %s", orderID)
}
