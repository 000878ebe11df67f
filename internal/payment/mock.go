package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"checkout-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MockGateway is the deterministic test backend. Outcomes are derived from
// the amount, which is the contract the test suite relies on:
//
//	fractional cents .13            -> intent creation fails (ProviderError)
//	fractional cents .99            -> confirmation declined (card_declined)
//	amount >= threshold, cents .00  -> confirmation ProviderError (processing_error)
//	anything else below threshold   -> succeeded
type MockGateway struct {
	threshold decimal.Decimal
	latency   time.Duration
	logger    *zap.Logger

	mu       sync.Mutex
	intents  map[string]*Intent // keyed by intent id
	byToken  map[string]string  // idempotency token -> intent id
	captured map[string]*Result // transaction id -> result
	attempts map[string]int     // order id -> explicit retry counter
}

// NewMockGateway creates the mock backend.
func NewMockGateway(threshold decimal.Decimal, latency time.Duration) *MockGateway {
	return &MockGateway{
		threshold: threshold,
		latency:   latency,
		logger:    util.NamedLogger("payment.mock"),
		intents:   make(map[string]*Intent),
		byToken:   make(map[string]string),
		captured:  make(map[string]*Result),
		attempts:  make(map[string]int),
	}
}

// fractionalCents returns the cents part of an amount, e.g. 19.99 -> 99.
func fractionalCents(amount decimal.Decimal) int64 {
	return amount.Sub(amount.Truncate(0)).Shift(2).Round(0).IntPart()
}

// CreatePaymentIntent sets up an intent. The idempotency token is derived
// from the order id plus the explicit retry counter, so repeating the same
// logical request returns the existing intent instead of creating another.
func (g *MockGateway) CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	g.simulateLatency(ctx)

	if fractionalCents(req.Amount) == 13 {
		return nil, &ProviderError{
			Op:      "create_intent",
			Code:    "intent_creation_failed",
			Message: fmt.Sprintf("provider rejected intent for order %s", req.OrderID),
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	token := fmt.Sprintf("%s:%d", req.OrderID, g.attempts[req.OrderID])
	if id, ok := g.byToken[token]; ok {
		return g.intents[id], nil
	}

	intent := &Intent{
		ID:       fmt.Sprintf("pi_mock_%s", uuid.New().String()[:8]),
		Amount:   req.Amount,
		Currency: req.Currency,
		Status:   StatusRequiresConfirmation,
		Raw:      map[string]interface{}{"order_id": req.OrderID, "token": token},
	}
	g.intents[intent.ID] = intent
	g.byToken[token] = intent.ID

	g.logger.Debug("Created mock payment intent",
		zap.String("intent_id", intent.ID),
		zap.String("order_id", req.OrderID))

	return intent, nil
}

// BumpAttempt advances the idempotency token for an order so the next
// CreatePaymentIntent is treated as a fresh attempt.
func (g *MockGateway) BumpAttempt(orderID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.attempts[orderID]++
}

// ConfirmPayment resolves an intent using the deterministic amount rules.
func (g *MockGateway) ConfirmPayment(ctx context.Context, intentID, method string) (*Result, error) {
	g.simulateLatency(ctx)

	g.mu.Lock()
	intent, ok := g.intents[intentID]
	g.mu.Unlock()
	if !ok {
		return nil, &ProviderError{Op: "confirm", Code: "intent_not_found", Message: intentID}
	}

	cents := fractionalCents(intent.Amount)

	switch {
	case cents == 99:
		result := &Result{
			IntentID:     intentID,
			Status:       StatusDeclined,
			Amount:       intent.Amount,
			Currency:     intent.Currency,
			ErrorCode:    "card_declined",
			ErrorMessage: "the card was declined",
		}
		g.setStatus(intentID, StatusDeclined)
		return result, nil

	case intent.Amount.GreaterThanOrEqual(g.threshold) && cents == 0:
		g.setStatus(intentID, StatusUnknown)
		return nil, &ProviderError{
			Op:      "confirm",
			Code:    "processing_error",
			Message: "provider failed while processing the charge",
		}
	}

	result := &Result{
		IntentID:      intentID,
		TransactionID: fmt.Sprintf("txn_mock_%s", uuid.New().String()[:8]),
		Status:        StatusSucceeded,
		Amount:        intent.Amount,
		Currency:      intent.Currency,
	}

	g.mu.Lock()
	intent.Status = StatusSucceeded
	g.captured[result.TransactionID] = result
	g.mu.Unlock()

	return result, nil
}

// RefundPayment refunds a captured transaction, partially when amount is set.
func (g *MockGateway) RefundPayment(ctx context.Context, transactionID string, amount *decimal.Decimal) (*RefundResult, error) {
	g.simulateLatency(ctx)

	g.mu.Lock()
	captured, ok := g.captured[transactionID]
	g.mu.Unlock()
	if !ok {
		return nil, &ProviderError{Op: "refund", Code: "transaction_not_found", Message: transactionID}
	}

	refundAmount := captured.Amount
	if amount != nil {
		if amount.GreaterThan(captured.Amount) {
			return nil, &ProviderError{Op: "refund", Code: "amount_too_large",
				Message: "refund exceeds captured amount"}
		}
		refundAmount = *amount
	}

	return &RefundResult{
		RefundID:      fmt.Sprintf("re_mock_%s", uuid.New().String()[:8]),
		TransactionID: transactionID,
		Amount:        refundAmount,
		Status:        StatusSucceeded,
	}, nil
}

// GetPaymentStatus returns the current status for an intent.
func (g *MockGateway) GetPaymentStatus(ctx context.Context, intentID string) (Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	intent, ok := g.intents[intentID]
	if !ok {
		return StatusUnknown, &ProviderError{Op: "status", Code: "intent_not_found", Message: intentID}
	}
	return intent.Status, nil
}

func (g *MockGateway) setStatus(intentID string, status Status) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if intent, ok := g.intents[intentID]; ok {
		intent.Status = status
	}
}

func (g *MockGateway) simulateLatency(ctx context.Context) {
	if g.latency <= 0 {
		return
	}
	select {
	case <-time.After(g.latency):
	case <-ctx.Done():
	}
}
