package payment

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock() *MockGateway {
	return NewMockGateway(decimal.RequireFromString("1000.00"), 0)
}

func createIntent(t *testing.T, g *MockGateway, orderID, amount string) *Intent {
	t.Helper()
	intent, err := g.CreatePaymentIntent(context.Background(), IntentRequest{
		OrderID:    orderID,
		CustomerID: "cust-1",
		Amount:     decimal.RequireFromString(amount),
		Currency:   "USD",
	})
	require.NoError(t, err)
	return intent
}

func TestMockPlainAmountSucceeds(t *testing.T) {
	ctx := context.Background()
	g := newMock()

	intent := createIntent(t, g, "order-1", "42.50")
	assert.Equal(t, StatusRequiresConfirmation, intent.Status)

	result, err := g.ConfirmPayment(ctx, intent.ID, "card_visa")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, result.Status)
	assert.NotEmpty(t, result.TransactionID)
	assert.True(t, result.Amount.Equal(decimal.RequireFromString("42.50")))

	status, err := g.GetPaymentStatus(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, status)
}

func TestMockNinetyNineCentsDeclines(t *testing.T) {
	ctx := context.Background()
	g := newMock()

	intent := createIntent(t, g, "order-2", "19.99")

	result, err := g.ConfirmPayment(ctx, intent.ID, "card_visa")
	require.NoError(t, err)
	assert.Equal(t, StatusDeclined, result.Status)
	assert.Equal(t, "card_declined", result.ErrorCode)
	assert.Empty(t, result.TransactionID)
}

func TestMockThirteenCentsFailsAtCreation(t *testing.T) {
	g := newMock()

	_, err := g.CreatePaymentIntent(context.Background(), IntentRequest{
		OrderID:  "order-3",
		Amount:   decimal.RequireFromString("25.13"),
		Currency: "USD",
	})
	require.Error(t, err)

	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "intent_creation_failed", provErr.Code)
}

func TestMockThresholdProcessingError(t *testing.T) {
	ctx := context.Background()
	g := newMock()

	intent := createIntent(t, g, "order-4", "1500.00")

	_, err := g.ConfirmPayment(ctx, intent.ID, "card_visa")
	require.Error(t, err)

	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "processing_error", provErr.Code)

	status, statusErr := g.GetPaymentStatus(ctx, intent.ID)
	require.NoError(t, statusErr)
	assert.Equal(t, StatusUnknown, status)
}

func TestMockLargeAmountWithCentsSucceeds(t *testing.T) {
	ctx := context.Background()
	g := newMock()

	// Above threshold but not on a whole-dollar boundary.
	intent := createIntent(t, g, "order-5", "1500.42")

	result, err := g.ConfirmPayment(ctx, intent.ID, "card_visa")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, result.Status)
}

func TestMockIntentIdempotency(t *testing.T) {
	g := newMock()

	first := createIntent(t, g, "order-6", "42.50")
	second := createIntent(t, g, "order-6", "42.50")
	assert.Equal(t, first.ID, second.ID)

	// An explicit new attempt gets a fresh intent.
	g.BumpAttempt("order-6")
	third := createIntent(t, g, "order-6", "42.50")
	assert.NotEqual(t, first.ID, third.ID)
}

func TestMockConfirmUnknownIntent(t *testing.T) {
	g := newMock()

	_, err := g.ConfirmPayment(context.Background(), "pi_missing", "card_visa")
	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "intent_not_found", provErr.Code)
}

func TestMockRefunds(t *testing.T) {
	ctx := context.Background()
	g := newMock()

	intent := createIntent(t, g, "order-7", "100.50")
	result, err := g.ConfirmPayment(ctx, intent.ID, "card_visa")
	require.NoError(t, err)

	// Full refund defaults to the captured amount.
	full, err := g.RefundPayment(ctx, result.TransactionID, nil)
	require.NoError(t, err)
	assert.True(t, full.Amount.Equal(decimal.RequireFromString("100.50")))
	assert.Equal(t, StatusSucceeded, full.Status)
	assert.NotEmpty(t, full.RefundID)

	// Partial refund of an explicit amount.
	partialAmount := decimal.RequireFromString("25.00")
	partial, err := g.RefundPayment(ctx, result.TransactionID, &partialAmount)
	require.NoError(t, err)
	assert.True(t, partial.Amount.Equal(partialAmount))

	// Refund above the captured amount is refused.
	tooMuch := decimal.RequireFromString("200.00")
	_, err = g.RefundPayment(ctx, result.TransactionID, &tooMuch)
	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "amount_too_large", provErr.Code)

	// Refund of an unknown transaction is refused.
	_, err = g.RefundPayment(ctx, "txn_missing", nil)
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "transaction_not_found", provErr.Code)
}

func TestFractionalCents(t *testing.T) {
	cases := map[string]int64{
		"42.50":   50,
		"19.99":   99,
		"25.13":   13,
		"1000.00": 0,
		"7":       0,
		"0.01":    1,
	}
	for amount, want := range cases {
		assert.Equal(t, want, fractionalCents(decimal.RequireFromString(amount)), amount)
	}
}
