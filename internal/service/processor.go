package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/payment"
	"checkout-service/internal/reservation"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Processor drives one order from creation to a terminal state, applying
// compensation on failure. Collaborator calls are single attempt per saga
// run; retry policy belongs to the collaborator or the caller.
type Processor struct {
	store        OrderStore
	stateMachine *StateMachine
	reservations *reservation.Manager
	gateway      payment.Gateway
	publisher    Publisher
	logger       *zap.Logger
}

// NewProcessor creates the saga coordinator.
func NewProcessor(
	store OrderStore,
	stateMachine *StateMachine,
	reservations *reservation.Manager,
	gateway payment.Gateway,
	publisher Publisher,
) *Processor {
	return &Processor{
		store:        store,
		stateMachine: stateMachine,
		reservations: reservations,
		gateway:      gateway,
		publisher:    publisher,
		logger:       util.NamedLogger("processor"),
	}
}

// ProcessOrderRequest is one checkout submission.
type ProcessOrderRequest struct {
	CustomerID      string             `json:"customer_id" binding:"required"`
	Currency        string             `json:"currency"`
	Items           []OrderItemRequest `json:"items" binding:"required,min=1"`
	Tax             decimal.Decimal    `json:"tax"`
	Shipping        decimal.Decimal    `json:"shipping"`
	ShippingAddress models.Address     `json:"shipping_address"`
	BillingAddress  models.Address     `json:"billing_address"`
	PaymentMethod   string             `json:"payment_method" binding:"required"`
	IdempotencyKey  string             `json:"idempotency_key,omitempty"`
}

// OrderItemRequest is one requested order line.
type OrderItemRequest struct {
	BookID    string          `json:"book_id" binding:"required"`
	Quantity  int             `json:"quantity" binding:"required,min=1"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// OrderResult is what callers receive: a success carrying the completed
// order, or a failure carrying a stable error code plus a human-readable
// message. Business outcomes (declines, unavailability) always arrive here,
// never as errors.
type OrderResult struct {
	Success          bool                     `json:"success"`
	Order            *models.Order            `json:"order,omitempty"`
	ErrorCode        string                   `json:"error_code,omitempty"`
	ErrorMessage     string                   `json:"error_message,omitempty"`
	UnavailableItems []models.UnavailableItem `json:"unavailable_items,omitempty"`
}

// Stable failure codes carried in OrderResult.
const (
	CodeValidationFailed      = "validation_failed"
	CodeInventoryUnavailable  = "inventory_unavailable"
	CodePaymentActionRequired = "payment_action_required"
	CodePaymentIncomplete     = "payment_incomplete"
	CodeIdempotencyConflict   = "idempotency_conflict"
)

// requestHash fingerprints the business content of a submission so a reused
// idempotency key can be told apart from a genuine replay. Amounts are
// normalized to two places and the empty currency to its default, matching
// what buildOrder does.
func requestHash(req *ProcessOrderRequest) string {
	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s",
		req.CustomerID, currency, req.PaymentMethod,
		req.Tax.StringFixed(2), req.Shipping.StringFixed(2))
	for _, it := range req.Items {
		fmt.Fprintf(h, "|%s:%d:%s", it.BookID, it.Quantity, it.UnitPrice.StringFixed(2))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ProcessOrder runs the checkout saga: validation, reservation, payment,
// finalization, with compensating actions whenever a later step fails after
// an earlier one succeeded. Infrastructure faults come back as
// *OrderProcessingError only after compensation has been attempted.
func (p *Processor) ProcessOrder(ctx context.Context, req *ProcessOrderRequest) (*OrderResult, error) {
	ctx, span := util.StartSpan(ctx, "Processor.ProcessOrder")
	defer span.End()

	hash := requestHash(req)

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	} else {
		existing, err := p.store.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			// Same key with a different payload is a caller bug, not a
			// replay; handing back the stored order would attach an
			// unrelated cart to their request.
			if existing.RequestHash != hash {
				p.logger.Warn("Idempotency key reused with a different request",
					zap.String("idempotency_key", req.IdempotencyKey),
					zap.String("order_id", existing.ID))
				return &OrderResult{
					Success:      false,
					ErrorCode:    CodeIdempotencyConflict,
					ErrorMessage: "idempotency key was already used with a different request",
				}, nil
			}
			p.logger.Info("Duplicate order request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.String("order_id", existing.ID))
			return resultForOrder(existing), nil
		}
	}

	order, err := buildOrder(req)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_request").Inc()
		return &OrderResult{
			Success:      false,
			ErrorCode:    CodeValidationFailed,
			ErrorMessage: err.Error(),
		}, nil
	}
	order.RequestHash = hash

	if err := p.store.CreateOrder(ctx, order); err != nil {
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to persist order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	p.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("customer_id", order.CustomerID),
		zap.String("total", order.Total.StringFixed(2)))

	return p.runSaga(ctx, order, req)
}

func (p *Processor) runSaga(ctx context.Context, order *models.Order, req *ProcessOrderRequest) (*OrderResult, error) {
	if err := p.stateMachine.Transition(ctx, order, models.StateValidating, "checkout started", nil, nil); err != nil {
		return nil, p.fault(ctx, order, "validation", err)
	}

	if err := validateOrder(order); err != nil {
		if terr := p.stateMachine.Transition(ctx, order, models.StateInventoryFailed,
			"item validation failed: "+err.Error(), nil, nil); terr != nil {
			return nil, p.fault(ctx, order, "validation", terr)
		}
		util.OrdersFailedTotal.WithLabelValues("invalid_items").Inc()
		return &OrderResult{
			Success:      false,
			Order:        order,
			ErrorCode:    CodeValidationFailed,
			ErrorMessage: err.Error(),
		}, nil
	}

	res, err := p.reservations.Reserve(ctx, order)
	if err != nil {
		return nil, p.fault(ctx, order, "reservation", err)
	}

	if !res.Success {
		if terr := p.stateMachine.Transition(ctx, order, models.StateInventoryFailed,
			"insufficient inventory", models.Metadata{
				"unavailable_items": fmt.Sprintf("%d", len(res.UnavailableItems)),
			}, nil); terr != nil {
			return nil, p.fault(ctx, order, "reservation", terr)
		}

		util.OrdersFailedTotal.WithLabelValues("inventory_unavailable").Inc()
		p.publishInventoryUnavailable(ctx, order, res.UnavailableItems)

		return &OrderResult{
			Success:          false,
			Order:            order,
			ErrorCode:        CodeInventoryUnavailable,
			ErrorMessage:     "one or more items are not available",
			UnavailableItems: res.UnavailableItems,
		}, nil
	}

	order.ReservationID = res.ReservationID
	if err := p.stateMachine.Transition(ctx, order, models.StateReserved,
		"inventory reserved", models.Metadata{
			"reservation_id": res.ReservationID,
			"expires_at":     res.ExpiresAt.Format(time.RFC3339),
		}, nil); err != nil {
		return nil, p.fault(ctx, order, "reservation", err)
	}

	if err := p.stateMachine.Transition(ctx, order, models.StateProcessingPayment,
		"payment initiated", nil, nil); err != nil {
		return nil, p.fault(ctx, order, "payment", err)
	}

	util.PaymentAttemptsTotal.Inc()
	payStart := time.Now()
	defer func() {
		util.PaymentProcessingLatency.Observe(time.Since(payStart).Seconds())
	}()

	intent, err := p.gateway.CreatePaymentIntent(ctx, payment.IntentRequest{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Amount:     order.Total,
		Currency:   order.Currency,
	})
	if err != nil {
		var provErr *payment.ProviderError
		if errors.As(err, &provErr) {
			// Provider faults are treated as a decline for saga purposes.
			return p.failPayment(ctx, order, provErr.Code, provErr.Message)
		}
		return nil, p.fault(ctx, order, "payment", err)
	}
	order.PaymentIntentID = intent.ID

	result, err := p.gateway.ConfirmPayment(ctx, intent.ID, req.PaymentMethod)
	if err != nil {
		var provErr *payment.ProviderError
		if errors.As(err, &provErr) {
			return p.failPayment(ctx, order, provErr.Code, provErr.Message)
		}
		return nil, p.fault(ctx, order, "payment", err)
	}

	switch result.Status {
	case payment.StatusSucceeded:
		return p.finalize(ctx, order, result)

	case payment.StatusDeclined:
		return p.failPayment(ctx, order, result.ErrorCode, result.ErrorMessage)

	case payment.StatusRequiresAction:
		// Step-up auth cannot complete inside a single-attempt saga.
		return p.failPayment(ctx, order, CodePaymentActionRequired,
			"payment requires additional customer action")

	default:
		return p.failPayment(ctx, order, CodePaymentIncomplete,
			fmt.Sprintf("payment ended in non-terminal status %q", result.Status))
	}
}

// finalize commits the saga after a successful capture: PAID, reservation
// confirmed, OrderCompleted published.
func (p *Processor) finalize(ctx context.Context, order *models.Order, result *payment.Result) (*OrderResult, error) {
	if err := p.stateMachine.Transition(ctx, order, models.StatePaid,
		"payment captured", models.Metadata{
			"payment_intent_id": result.IntentID,
			"transaction_id":    result.TransactionID,
		}, nil); err != nil {
		// Payment has been captured: this is past the commit point, so the
		// fault path must not treat the money as uncollected. Compensation
		// here only releases the hold and cancels the order record.
		return nil, p.fault(ctx, order, "finalization", err)
	}

	util.PaymentSuccessTotal.Inc()
	util.OrdersCompletedTotal.Inc()

	if !p.reservations.Confirm(ctx, order.ReservationID) {
		// The hold expired before capture finished. The payment stands
		// (capture is a commit point); flag for reconciliation instead of
		// silently unreserving or unpaying.
		util.ReconciliationNeededTotal.Inc()
		p.logger.Error("Payment captured but reservation no longer active; reconciliation required",
			zap.String("order_id", order.ID),
			zap.String("reservation_id", order.ReservationID),
			zap.String("transaction_id", result.TransactionID))
	}

	p.publishOrderCompleted(ctx, order, result.TransactionID)

	p.logger.Info("Checkout saga completed",
		zap.String("order_id", order.ID),
		zap.String("transaction_id", result.TransactionID))

	return &OrderResult{Success: true, Order: order}, nil
}

// failPayment runs the compensation for a declined or failed payment:
// PAYMENT_FAILED, reservation released, PaymentFailed published.
func (p *Processor) failPayment(ctx context.Context, order *models.Order, code, message string) (*OrderResult, error) {
	if err := p.stateMachine.Transition(ctx, order, models.StatePaymentFailed,
		"payment failed: "+message, models.Metadata{"error_code": code}, nil); err != nil {
		return nil, p.fault(ctx, order, "payment", err)
	}

	util.PaymentFailedTotal.WithLabelValues(code).Inc()
	util.OrdersFailedTotal.WithLabelValues("payment_failed").Inc()

	if order.ReservationID != "" {
		p.reservations.Release(ctx, order.ReservationID, "Payment failed")
	}

	p.publishPaymentFailed(ctx, order, code, message)

	p.logger.Warn("Payment failed",
		zap.String("order_id", order.ID),
		zap.String("error_code", code))

	return &OrderResult{
		Success:      false,
		Order:        order,
		ErrorCode:    code,
		ErrorMessage: message,
	}, nil
}

// fault is the unexpected-fault path: best-effort release of any held
// reservation and best-effort cancellation, then the wrapped error for the
// caller. It runs even when the fault originated inside a collaborator.
func (p *Processor) fault(ctx context.Context, order *models.Order, stage string, cause error) error {
	p.logger.Error("Checkout saga fault",
		zap.String("order_id", order.ID),
		zap.String("stage", stage),
		zap.Error(cause))

	if order.ReservationID != "" {
		p.reservations.Release(ctx, order.ReservationID,
			fmt.Sprintf("order processing fault: %v", cause))
	}

	// PROCESSING_PAYMENT cannot move to CANCELLED directly; route through
	// PAYMENT_FAILED so the order still ends terminal.
	if !CanTransition(order.State, models.StateCancelled) &&
		CanTransition(order.State, models.StatePaymentFailed) {
		if err := p.stateMachine.Transition(ctx, order, models.StatePaymentFailed,
			fmt.Sprintf("processing fault during %s: %v", stage, cause), nil, nil); err != nil {
			p.logger.Error("Failed to mark order payment-failed after fault",
				zap.String("order_id", order.ID),
				zap.Error(err))
		}
	}

	if CanTransition(order.State, models.StateCancelled) {
		if err := p.stateMachine.Transition(ctx, order, models.StateCancelled,
			fmt.Sprintf("processing fault during %s: %v", stage, cause), nil, nil); err != nil {
			p.logger.Error("Failed to cancel order after fault",
				zap.String("order_id", order.ID),
				zap.Error(err))
		} else {
			util.OrdersCancelledTotal.Inc()
		}
	}

	util.OrdersFailedTotal.WithLabelValues("processing_error").Inc()

	return &OrderProcessingError{OrderID: order.ID, Stage: stage, Err: cause}
}

func (p *Processor) publishOrderCompleted(ctx context.Context, order *models.Order, transactionID string) {
	items := make([]models.OrderItemData, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, models.OrderItemData{
			BookID:    it.BookID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}

	event := &models.OrderCompletedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCompleted,
			Timestamp: time.Now().UTC(),
		},
		OrderID:       order.ID,
		CustomerID:    order.CustomerID,
		Total:         order.Total,
		Currency:      order.Currency,
		ReservationID: order.ReservationID,
		TransactionID: transactionID,
		Items:         items,
	}
	if err := p.publisher.PublishOrderCompleted(ctx, event); err != nil {
		util.EventPublishFailuresTotal.WithLabelValues(models.EventTypeOrderCompleted).Inc()
		p.logger.Error("Failed to publish OrderCompleted event", zap.Error(err))
	}
}

func (p *Processor) publishPaymentFailed(ctx context.Context, order *models.Order, code, message string) {
	event := &models.PaymentFailedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePaymentFailed,
			Timestamp: time.Now().UTC(),
		},
		OrderID:      order.ID,
		CustomerID:   order.CustomerID,
		Amount:       order.Total,
		Currency:     order.Currency,
		ErrorCode:    code,
		ErrorMessage: message,
	}
	if err := p.publisher.PublishPaymentFailed(ctx, event); err != nil {
		util.EventPublishFailuresTotal.WithLabelValues(models.EventTypePaymentFailed).Inc()
		p.logger.Error("Failed to publish PaymentFailed event", zap.Error(err))
	}
}

func (p *Processor) publishInventoryUnavailable(ctx context.Context, order *models.Order, unavailable []models.UnavailableItem) {
	event := &models.InventoryUnavailableEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeInventoryUnavailable,
			Timestamp: time.Now().UTC(),
		},
		OrderID:          order.ID,
		CustomerID:       order.CustomerID,
		UnavailableItems: unavailable,
	}
	if err := p.publisher.PublishInventoryUnavailable(ctx, event); err != nil {
		util.EventPublishFailuresTotal.WithLabelValues(models.EventTypeInventoryUnavailable).Inc()
		p.logger.Error("Failed to publish InventoryUnavailable event", zap.Error(err))
	}
}

// buildOrder validates the request and computes totals with fixed-point
// arithmetic. Violations fail fast: the order is never persisted.
func buildOrder(req *ProcessOrderRequest) (*models.Order, error) {
	if req.CustomerID == "" {
		return nil, fmt.Errorf("customer id is required")
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("order must contain at least one item")
	}
	if req.Tax.IsNegative() || req.Shipping.IsNegative() {
		return nil, fmt.Errorf("tax and shipping must not be negative")
	}

	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}

	now := time.Now().UTC()
	subtotal := decimal.Zero
	items := make([]models.OrderItem, 0, len(req.Items))

	for _, it := range req.Items {
		if it.BookID == "" {
			return nil, fmt.Errorf("item book id is required")
		}
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("item quantity must be positive: %s", it.BookID)
		}
		if it.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("item unit price must not be negative: %s", it.BookID)
		}

		lineTotal := it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))).Round(2)
		subtotal = subtotal.Add(lineTotal)
		items = append(items, models.OrderItem{
			BookID:    it.BookID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			LineTotal: lineTotal,
		})
	}

	subtotal = subtotal.Round(2)
	total := subtotal.Add(req.Tax).Add(req.Shipping).Round(2)
	if !total.IsPositive() {
		return nil, fmt.Errorf("order total must be positive, got %s", total.StringFixed(2))
	}

	return &models.Order{
		ID:              uuid.New().String(),
		CustomerID:      req.CustomerID,
		State:           models.StatePending,
		Currency:        currency,
		Subtotal:        subtotal,
		Tax:             req.Tax.Round(2),
		Shipping:        req.Shipping.Round(2),
		Total:           total,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		IdempotencyKey:  req.IdempotencyKey,
		CreatedAt:       now,
		UpdatedAt:       now,
		Items:           items,
	}, nil
}

// validateOrder re-checks the creation invariants against the persisted
// record before any inventory or money moves.
func validateOrder(order *models.Order) error {
	if len(order.Items) == 0 {
		return fmt.Errorf("order has no items")
	}
	for _, it := range order.Items {
		if it.Quantity <= 0 {
			return fmt.Errorf("invalid quantity for %s", it.BookID)
		}
		expected := it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))).Round(2)
		if !it.LineTotal.Equal(expected) {
			return fmt.Errorf("line total mismatch for %s", it.BookID)
		}
	}
	if !order.Total.Equal(order.Subtotal.Add(order.Tax).Add(order.Shipping)) {
		return fmt.Errorf("order total does not match subtotal + tax + shipping")
	}
	if !order.Total.IsPositive() {
		return fmt.Errorf("order total must be positive")
	}
	return nil
}

func resultForOrder(order *models.Order) *OrderResult {
	if order.State == models.StatePaid ||
		order.State == models.StateFulfilling ||
		order.State == models.StateCompleted {
		return &OrderResult{Success: true, Order: order}
	}
	return &OrderResult{
		Success:      false,
		Order:        order,
		ErrorCode:    "order_not_completed",
		ErrorMessage: fmt.Sprintf("order is in state %s", order.State),
	}
}
