package service

import (
	"context"
	"testing"

	"checkout-service/internal/models"
	"checkout-service/internal/reservation"
	"checkout-service/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// paidOrder runs a full happy-path saga and returns the resulting order.
func paidOrder(t *testing.T, h *harness) *models.Order {
	t.Helper()
	result, err := h.processor.ProcessOrder(context.Background(), twoItemRequest())
	require.NoError(t, err)
	require.True(t, result.Success)
	return result.Order
}

func TestGetOrderNotFound(t *testing.T) {
	h := newHarness(t, defaultStock(), nil)

	_, err := h.processor.GetOrder(context.Background(), "missing-order")
	require.ErrorIs(t, err, store.ErrOrderNotFound)

	_, err = h.processor.GetAuditTrail(context.Background(), "missing-order")
	require.ErrorIs(t, err, store.ErrOrderNotFound)
}

func TestListCustomerOrders(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, defaultStock(), nil)
	order := paidOrder(t, h)

	orders, err := h.processor.ListCustomerOrders(ctx, order.CustomerID)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, order.ID, orders[0].ID)

	orders, err = h.processor.ListCustomerOrders(ctx, "cust-without-orders")
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestFulfillmentChain(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, defaultStock(), nil)
	order := paidOrder(t, h)

	actor := "warehouse"
	fulfilled, err := h.processor.MarkFulfilling(ctx, order.ID, &actor)
	require.NoError(t, err)
	assert.Equal(t, models.StateFulfilling, fulfilled.State)

	completed, err := h.processor.CompleteOrder(ctx, order.ID, &actor)
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, completed.State)

	entries, err := h.processor.GetAuditTrail(ctx, order.ID)
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, models.StateCompleted, last.NewState)
	require.NotNil(t, last.Actor)
	assert.Equal(t, "warehouse", *last.Actor)
}

func TestCompleteBeforeFulfillingRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, defaultStock(), nil)
	order := paidOrder(t, h)

	_, err := h.processor.CompleteOrder(ctx, order.ID, nil)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, models.StatePaid, invalid.From)
	assert.Equal(t, models.StateCompleted, invalid.To)
}

func TestCancelReleasesReservation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, defaultStock(), nil)

	// Build an order stuck mid-saga: create it manually in RESERVED with an
	// active hold, as if the saga had stalled there.
	order := newTestOrder(models.StatePending)
	require.NoError(t, h.store.CreateOrder(ctx, order))

	res, err := h.manager.Reserve(ctx, order)
	require.NoError(t, err)
	require.True(t, res.Success)
	order.ReservationID = res.ReservationID

	sm := NewStateMachine(h.store, h.publisher)
	require.NoError(t, sm.Transition(ctx, order, models.StateValidating, "checkout started", nil, nil))
	require.NoError(t, sm.Transition(ctx, order, models.StateReserved, "inventory reserved", nil, nil))

	cancelled, err := h.processor.CancelOrder(ctx, order.ID, "customer changed their mind", nil)
	require.NoError(t, err)
	assert.Equal(t, models.StateCancelled, cancelled.State)

	rec, err := h.records.Get(ctx, res.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusReleased, rec.Status)
	assert.Contains(t, rec.StatusReason, "order cancelled")
}

func TestCancelTerminalOrderRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, defaultStock(), nil)
	order := paidOrder(t, h)

	// PAID cannot move to CANCELLED.
	_, err := h.processor.CancelOrder(ctx, order.ID, "too late", nil)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
}

func TestFullRefundMovesToRefunded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, defaultStock(), nil)
	order := paidOrder(t, h)

	refunded, err := h.processor.RefundOrder(ctx, order.ID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StateRefunded, refunded.State)

	entries, err := h.processor.GetAuditTrail(ctx, order.ID)
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, models.StateRefunded, last.NewState)
	assert.NotEmpty(t, last.Metadata["refund_id"])
	assert.Equal(t, "42.50", last.Metadata["refund_amount"])
	assert.NotEmpty(t, last.Metadata["transaction_id"])
}

func TestPartialRefundKeepsState(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, defaultStock(), nil)
	order := paidOrder(t, h)

	partial := decimal.RequireFromString("10.00")
	after, err := h.processor.RefundOrder(ctx, order.ID, &partial, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatePaid, after.State)

	stored, err := h.processor.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatePaid, stored.State)

	// The money movement is still durably recorded, without a state change.
	entries, err := h.processor.GetAuditTrail(ctx, order.ID)
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, models.StatePaid, last.PreviousState)
	assert.Equal(t, models.StatePaid, last.NewState)
	assert.Equal(t, "partial refund issued", last.Reason)
	assert.Equal(t, "10.00", last.Metadata["refund_amount"])
	assert.NotEmpty(t, last.Metadata["refund_id"])
}

func TestRefundAfterCompletion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, defaultStock(), nil)
	order := paidOrder(t, h)

	_, err := h.processor.MarkFulfilling(ctx, order.ID, nil)
	require.NoError(t, err)
	_, err = h.processor.CompleteOrder(ctx, order.ID, nil)
	require.NoError(t, err)

	refunded, err := h.processor.RefundOrder(ctx, order.ID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StateRefunded, refunded.State)
}

func TestRefundUnpaidOrderRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, defaultStock(), nil)

	order := newTestOrder(models.StatePending)
	require.NoError(t, h.store.CreateOrder(ctx, order))

	_, err := h.processor.RefundOrder(ctx, order.ID, nil, nil)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, models.StateRefunded, invalid.To)
}
