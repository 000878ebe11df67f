package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// HTTPClient talks to the inventory service over its REST API.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPClient creates an inventory client for the given base URL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: util.NamedLogger("inventory"),
	}
}

type reserveRequest struct {
	ReservationID  string        `json:"reservation_id"`
	Items          []ReserveItem `json:"items"`
	TimeoutSeconds int           `json:"timeout_seconds"`
}

type ackResponse struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Reserve places a hold on all items in one call.
func (c *HTTPClient) Reserve(ctx context.Context, reservationID string, items []ReserveItem, timeoutSeconds int) (*ReserveResponse, error) {
	body := reserveRequest{
		ReservationID:  reservationID,
		Items:          items,
		TimeoutSeconds: timeoutSeconds,
	}

	var resp ReserveResponse
	if err := c.post(ctx, "/api/v1/reservations", body, &resp); err != nil {
		return nil, &ServiceError{Op: "reserve", Message: "request failed", Err: err}
	}

	return &resp, nil
}

// Confirm converts a hold into a permanent allocation.
func (c *HTTPClient) Confirm(ctx context.Context, reservationID string) error {
	var resp ackResponse
	path := fmt.Sprintf("/api/v1/reservations/%s/confirm", reservationID)
	if err := c.post(ctx, path, struct{}{}, &resp); err != nil {
		return &ServiceError{Op: "confirm", Message: "request failed", Err: err}
	}
	if !resp.Success {
		return &ServiceError{Op: "confirm", Message: resp.ErrorMessage}
	}
	return nil
}

// Release frees a hold.
func (c *HTTPClient) Release(ctx context.Context, reservationID string) error {
	var resp ackResponse
	path := fmt.Sprintf("/api/v1/reservations/%s/release", reservationID)
	if err := c.post(ctx, path, struct{}{}, &resp); err != nil {
		return &ServiceError{Op: "release", Message: "request failed", Err: err}
	}
	if !resp.Success {
		return &ServiceError{Op: "release", Message: resp.ErrorMessage}
	}
	return nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		c.logger.Warn("Inventory service returned unexpected status",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
