package payment

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"checkout-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// HTTPGateway is the real payment backend, speaking the provider's REST API.
// It honors only the external status vocabulary; none of the mock backend's
// numeric rules apply here.
type HTTPGateway struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPGateway creates a gateway for the provider at baseURL.
func NewHTTPGateway(baseURL string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: util.NamedLogger("payment.http"),
	}
}

// idempotencyToken derives a stable token from the order id so retrying the
// same logical request cannot double-charge.
func idempotencyToken(orderID string) string {
	sum := sha256.Sum256([]byte("payment-intent|" + orderID))
	return hex.EncodeToString(sum[:16])
}

type wireIntent struct {
	ID       string                 `json:"id"`
	Amount   decimal.Decimal        `json:"amount"`
	Currency string                 `json:"currency"`
	Status   Status                 `json:"status"`
	Raw      map[string]interface{} `json:"raw,omitempty"`
}

type wireResult struct {
	IntentID      string          `json:"intent_id"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Status        Status          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	ErrorCode     string          `json:"error_code,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
}

type wireRefund struct {
	ID            string          `json:"id"`
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Status        Status          `json:"status"`
}

// CreatePaymentIntent sets up a payment attempt with the provider.
func (g *HTTPGateway) CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	body := map[string]interface{}{
		"amount":      req.Amount,
		"currency":    req.Currency,
		"order_id":    req.OrderID,
		"customer_id": req.CustomerID,
	}

	var out wireIntent
	err := g.do(ctx, http.MethodPost, "/v1/payment_intents", idempotencyToken(req.OrderID), body, &out)
	if err != nil {
		return nil, err
	}

	return &Intent{
		ID:       out.ID,
		Amount:   out.Amount,
		Currency: out.Currency,
		Status:   out.Status,
		Raw:      out.Raw,
	}, nil
}

// ConfirmPayment attempts capture. A 402 from the provider is a decline and
// comes back as a normal result.
func (g *HTTPGateway) ConfirmPayment(ctx context.Context, intentID, method string) (*Result, error) {
	body := map[string]interface{}{"payment_method": method}
	path := fmt.Sprintf("/v1/payment_intents/%s/confirm", intentID)

	var out wireResult
	err := g.do(ctx, http.MethodPost, path, "", body, &out)
	if err != nil {
		return nil, err
	}

	return &Result{
		IntentID:      out.IntentID,
		TransactionID: out.TransactionID,
		Status:        out.Status,
		Amount:        out.Amount,
		Currency:      out.Currency,
		ErrorCode:     out.ErrorCode,
		ErrorMessage:  out.ErrorMessage,
	}, nil
}

// RefundPayment refunds a captured transaction.
func (g *HTTPGateway) RefundPayment(ctx context.Context, transactionID string, amount *decimal.Decimal) (*RefundResult, error) {
	body := map[string]interface{}{"transaction_id": transactionID}
	if amount != nil {
		body["amount"] = *amount
	}

	var out wireRefund
	err := g.do(ctx, http.MethodPost, "/v1/refunds", idempotencyToken("refund|"+transactionID), body, &out)
	if err != nil {
		return nil, err
	}

	return &RefundResult{
		RefundID:      out.ID,
		TransactionID: out.TransactionID,
		Amount:        out.Amount,
		Status:        out.Status,
	}, nil
}

// GetPaymentStatus reads the current status of an intent.
func (g *HTTPGateway) GetPaymentStatus(ctx context.Context, intentID string) (Status, error) {
	var out wireIntent
	path := fmt.Sprintf("/v1/payment_intents/%s", intentID)
	if err := g.do(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return StatusUnknown, err
	}
	return out.Status, nil
}

func (g *HTTPGateway) do(ctx context.Context, method, path, idemToken string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &ProviderError{Op: path, Code: "marshal_error", Message: "encode request", Err: err}
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return &ProviderError{Op: path, Code: "request_error", Message: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if idemToken != "" {
		req.Header.Set("Idempotency-Key", idemToken)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return &ProviderError{Op: path, Code: "transport_error", Message: "do request", Err: err}
	}
	defer resp.Body.Close()

	// 402 carries a decline result body, which callers receive as a normal
	// outcome rather than an error.
	if resp.StatusCode >= 200 && resp.StatusCode < 300 || resp.StatusCode == http.StatusPaymentRequired {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &ProviderError{Op: path, Code: "decode_error", Message: "decode response", Err: err}
		}
		return nil
	}

	g.logger.Warn("Payment provider returned unexpected status",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode))

	return &ProviderError{
		Op:      path,
		Code:    "backend_error",
		Message: fmt.Sprintf("unexpected status: %d", resp.StatusCode),
	}
}
