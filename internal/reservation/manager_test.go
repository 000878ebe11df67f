package reservation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"checkout-service/internal/inventory"
	"checkout-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubInventory records calls and answers with canned responses.
type stubInventory struct {
	mu         sync.Mutex
	reserveErr error
	shortfall  []models.UnavailableItem
	confirmed  []string
	released   []string
}

func (s *stubInventory) Reserve(ctx context.Context, reservationID string, items []inventory.ReserveItem, timeoutSeconds int) (*inventory.ReserveResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reserveErr != nil {
		return nil, s.reserveErr
	}
	if len(s.shortfall) > 0 {
		return &inventory.ReserveResponse{Success: false, UnavailableItems: s.shortfall}, nil
	}
	return &inventory.ReserveResponse{Success: true, ReservedItems: items}, nil
}

func (s *stubInventory) Confirm(ctx context.Context, reservationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmed = append(s.confirmed, reservationID)
	return nil
}

func (s *stubInventory) Release(ctx context.Context, reservationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, reservationID)
	return nil
}

func (s *stubInventory) releasedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.released...)
}

func testOrder() *models.Order {
	return &models.Order{
		ID:         "order-1",
		CustomerID: "cust-1",
		State:      models.StateValidating,
		Items: []models.OrderItem{
			{BookID: "book-1", Quantity: 2, UnitPrice: decimal.RequireFromString("15.00")},
		},
	}
}

func TestReserveCreatesActiveRecord(t *testing.T) {
	ctx := context.Background()
	inv := &stubInventory{}
	store := NewMemoryStore()
	m := NewManager(inv, store, time.Minute)
	defer m.Stop()

	res, err := m.Reserve(ctx, testOrder())
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.NotEmpty(t, res.ReservationID)
	assert.WithinDuration(t, time.Now().Add(time.Minute), res.ExpiresAt, 2*time.Second)

	rec, err := store.Get(ctx, res.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, rec.Status)
	assert.Equal(t, "order-1", rec.OrderID)
	require.Len(t, rec.Items, 1)
	assert.Equal(t, "book-1", rec.Items[0].BookID)
}

func TestReserveShortfallIsResultNotError(t *testing.T) {
	ctx := context.Background()
	inv := &stubInventory{shortfall: []models.UnavailableItem{
		{BookID: "book-1", Requested: 2, Available: 1},
	}}
	m := NewManager(inv, NewMemoryStore(), time.Minute)
	defer m.Stop()

	res, err := m.Reserve(ctx, testOrder())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, res.ReservationID)
	require.Len(t, res.UnavailableItems, 1)
	assert.Equal(t, "book-1", res.UnavailableItems[0].BookID)
}

func TestReserveTransportFault(t *testing.T) {
	ctx := context.Background()
	inv := &stubInventory{reserveErr: errors.New("connection refused")}
	m := NewManager(inv, NewMemoryStore(), time.Minute)
	defer m.Stop()

	_, err := m.Reserve(ctx, testOrder())
	require.Error(t, err)

	var svcErr *inventory.ServiceError
	assert.ErrorAs(t, err, &svcErr)
}

func TestConfirmDisarmsExpiry(t *testing.T) {
	ctx := context.Background()
	inv := &stubInventory{}
	store := NewMemoryStore()
	m := NewManager(inv, store, 100*time.Millisecond)
	defer m.Stop()

	res, err := m.Reserve(ctx, testOrder())
	require.NoError(t, err)

	require.True(t, m.Confirm(ctx, res.ReservationID))
	assert.Contains(t, inv.confirmed, res.ReservationID)

	// Wait past the window: the confirmed record must not flip to released.
	time.Sleep(250 * time.Millisecond)

	rec, err := store.Get(ctx, res.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, rec.Status)
	assert.Empty(t, inv.releasedIDs())
}

func TestExpiryReleasesStalledReservation(t *testing.T) {
	ctx := context.Background()
	inv := &stubInventory{}
	store := NewMemoryStore()
	m := NewManager(inv, store, 100*time.Millisecond)
	defer m.Stop()

	res, err := m.Reserve(ctx, testOrder())
	require.NoError(t, err)

	// Stall past the window without confirming.
	require.Eventually(t, func() bool {
		rec, err := store.Get(ctx, res.ReservationID)
		return err == nil && rec.Status == StatusReleased
	}, 2*time.Second, 20*time.Millisecond)

	rec, err := store.Get(ctx, res.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, ReleaseReasonTimeout, rec.StatusReason)
	assert.Contains(t, inv.releasedIDs(), res.ReservationID)

	// A confirm after expiry is a no-op reported as false.
	assert.False(t, m.Confirm(ctx, res.ReservationID))

	// A second release is a no-op with no extra inventory call.
	before := len(inv.releasedIDs())
	assert.False(t, m.Release(ctx, res.ReservationID, "manual"))
	assert.Equal(t, before, len(inv.releasedIDs()))
}

func TestReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	inv := &stubInventory{}
	store := NewMemoryStore()
	m := NewManager(inv, store, time.Minute)
	defer m.Stop()

	res, err := m.Reserve(ctx, testOrder())
	require.NoError(t, err)

	assert.True(t, m.Release(ctx, res.ReservationID, "Payment failed"))
	assert.False(t, m.Release(ctx, res.ReservationID, "Payment failed"))
	assert.False(t, m.Release(ctx, "rsv-unknown", "whatever"))

	rec, err := store.Get(ctx, res.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, StatusReleased, rec.Status)
	assert.Equal(t, "Payment failed", rec.StatusReason)
	assert.Len(t, inv.releasedIDs(), 1)
}

func TestConfirmUnknownReservation(t *testing.T) {
	m := NewManager(&stubInventory{}, NewMemoryStore(), time.Minute)
	defer m.Stop()

	assert.False(t, m.Confirm(context.Background(), "rsv-unknown"))
}

func TestRecoverReleasesOverdueAndRearmsLive(t *testing.T) {
	ctx := context.Background()
	inv := &stubInventory{}
	store := NewMemoryStore()

	now := time.Now()
	require.NoError(t, store.Create(ctx, &Record{
		ID:        "rsv-overdue",
		OrderID:   "order-a",
		Status:    StatusActive,
		ExpiresAt: now.Add(-time.Minute),
		CreatedAt: now.Add(-16 * time.Minute),
	}))
	require.NoError(t, store.Create(ctx, &Record{
		ID:        "rsv-live",
		OrderID:   "order-b",
		Status:    StatusActive,
		ExpiresAt: now.Add(150 * time.Millisecond),
		CreatedAt: now,
	}))
	require.NoError(t, store.Create(ctx, &Record{
		ID:           "rsv-done",
		OrderID:      "order-c",
		Status:       StatusConfirmed,
		StatusReason: "confirmed by saga",
		ExpiresAt:    now.Add(time.Minute),
		CreatedAt:    now,
	}))

	m := NewManager(inv, store, time.Minute)
	defer m.Stop()
	require.NoError(t, m.Recover(ctx))

	// Overdue record released immediately.
	rec, err := store.Get(ctx, "rsv-overdue")
	require.NoError(t, err)
	assert.Equal(t, StatusReleased, rec.Status)
	assert.Equal(t, ReleaseReasonTimeout, rec.StatusReason)

	// Live record re-armed with its remaining window.
	require.Eventually(t, func() bool {
		rec, err := store.Get(ctx, "rsv-live")
		return err == nil && rec.Status == StatusReleased
	}, 2*time.Second, 20*time.Millisecond)

	// Resolved records untouched.
	rec, err = store.Get(ctx, "rsv-done")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, rec.Status)
}

func TestMemoryStoreCompareAndSet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Create(ctx, &Record{ID: "rsv-1", Status: StatusActive}))

	swapped, err := store.UpdateStatus(ctx, "rsv-1", StatusActive, StatusConfirmed, "confirmed by saga")
	require.NoError(t, err)
	assert.True(t, swapped)

	// The losing side of the race sees the swap refused.
	swapped, err = store.UpdateStatus(ctx, "rsv-1", StatusActive, StatusReleased, ReleaseReasonTimeout)
	require.NoError(t, err)
	assert.False(t, swapped)

	rec, err := store.Get(ctx, "rsv-1")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, rec.Status)
	assert.Equal(t, "confirmed by saga", rec.StatusReason)

	ids, err := store.ActiveIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = store.Get(ctx, "rsv-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
