package reservation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"checkout-service/internal/inventory"
	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// ReleaseReasonTimeout is the reason recorded when the expiry action fires.
const ReleaseReasonTimeout = "automatic timeout release"

// DefaultWindow is how long a hold lives when no window is configured.
const DefaultWindow = 15 * time.Minute

// Result reports a reservation attempt. Unavailability is a result, not an
// error; the caller decides the order's fate.
type Result struct {
	Success          bool
	ReservationID    string
	ExpiresAt        time.Time
	UnavailableItems []models.UnavailableItem
}

// Manager holds inventory against orders for a bounded window and guarantees
// holds do not leak: every record is either confirmed, manually released, or
// auto-released by its expiry action.
type Manager struct {
	inventory inventory.Client
	store     Store
	window    time.Duration
	logger    *zap.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewManager creates a reservation manager around the given inventory
// collaborator and record store.
func NewManager(inv inventory.Client, store Store, window time.Duration) *Manager {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Manager{
		inventory: inv,
		store:     store,
		window:    window,
		logger:    util.NamedLogger("reservation"),
		timers:    make(map[string]*time.Timer),
	}
}

// Window returns the configured hold duration.
func (m *Manager) Window() time.Duration {
	return m.window
}

// Reserve places a hold for every item of the order in one inventory call.
// Transport faults surface as *inventory.ServiceError.
func (m *Manager) Reserve(ctx context.Context, order *models.Order) (*Result, error) {
	ctx, span := util.StartSpan(ctx, "Reservation.Reserve")
	defer span.End()

	start := time.Now()
	defer func() {
		util.InventoryReserveLatency.Observe(time.Since(start).Seconds())
	}()

	items := make([]inventory.ReserveItem, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, inventory.ReserveItem{
			BookID:    it.BookID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}

	now := time.Now()
	reservationID := fmt.Sprintf("rsv-%s-%d", order.ID, now.UnixNano())

	resp, err := m.inventory.Reserve(ctx, reservationID, items, int(m.window.Seconds()))
	if err != nil {
		util.ReservationsFailedTotal.WithLabelValues("service_error").Inc()
		var svcErr *inventory.ServiceError
		if errors.As(err, &svcErr) {
			return nil, err
		}
		return nil, &inventory.ServiceError{Op: "reserve", Message: "inventory call failed", Err: err}
	}

	if !resp.Success {
		util.ReservationsFailedTotal.WithLabelValues("unavailable").Inc()
		m.logger.Info("Inventory unavailable",
			zap.String("order_id", order.ID),
			zap.Int("unavailable_items", len(resp.UnavailableItems)))
		return &Result{
			Success:          false,
			UnavailableItems: resp.UnavailableItems,
		}, nil
	}

	rec := &Record{
		ID:        reservationID,
		OrderID:   order.ID,
		Items:     items,
		Status:    StatusActive,
		ExpiresAt: now.Add(m.window),
		CreatedAt: now,
	}
	if err := m.store.Create(ctx, rec); err != nil {
		// The hold exists upstream but cannot be tracked; free it rather
		// than leak it.
		if relErr := m.inventory.Release(ctx, reservationID); relErr != nil {
			m.logger.Error("Failed to release untracked hold",
				zap.String("reservation_id", reservationID),
				zap.Error(relErr))
		}
		return nil, fmt.Errorf("failed to store reservation: %w", err)
	}

	m.armTimer(reservationID, m.window)
	util.ReservationsActiveGauge.Inc()

	m.logger.Info("Reservation created",
		zap.String("reservation_id", reservationID),
		zap.String("order_id", order.ID),
		zap.Time("expires_at", rec.ExpiresAt))

	return &Result{
		Success:       true,
		ReservationID: reservationID,
		ExpiresAt:     rec.ExpiresAt,
	}, nil
}

// Confirm converts an active reservation into a permanent allocation,
// disarming its expiry action. Returns false, without escalating, when the
// reservation is unknown or already resolved.
func (m *Manager) Confirm(ctx context.Context, reservationID string) bool {
	ctx, span := util.StartSpan(ctx, "Reservation.Confirm")
	defer span.End()

	m.disarmTimer(reservationID)

	swapped, err := m.store.UpdateStatus(ctx, reservationID, StatusActive, StatusConfirmed, "confirmed by saga")
	if err != nil {
		m.logger.Error("Failed to confirm reservation",
			zap.String("reservation_id", reservationID),
			zap.Error(err))
		return false
	}
	if !swapped {
		m.logger.Warn("Confirm on unknown or already-resolved reservation",
			zap.String("reservation_id", reservationID))
		return false
	}

	util.ReservationsActiveGauge.Dec()

	if err := m.inventory.Confirm(ctx, reservationID); err != nil {
		// The record is confirmed locally; the inventory side is assumed
		// idempotent and can be retried by an operator.
		m.logger.Error("Inventory confirm call failed",
			zap.String("reservation_id", reservationID),
			zap.Error(err))
	}

	m.logger.Info("Reservation confirmed", zap.String("reservation_id", reservationID))
	return true
}

// Release frees an active reservation and disarms its expiry action.
// Idempotent: releasing an unknown or already-resolved reservation returns
// false without side effects.
func (m *Manager) Release(ctx context.Context, reservationID, reason string) bool {
	ctx, span := util.StartSpan(ctx, "Reservation.Release")
	defer span.End()

	m.disarmTimer(reservationID)
	return m.release(ctx, reservationID, reason)
}

// release does the store swap and the inventory call; the timer must already
// be disarmed (or be the caller itself).
func (m *Manager) release(ctx context.Context, reservationID, reason string) bool {
	swapped, err := m.store.UpdateStatus(ctx, reservationID, StatusActive, StatusReleased, reason)
	if err != nil {
		m.logger.Error("Failed to release reservation",
			zap.String("reservation_id", reservationID),
			zap.Error(err))
		return false
	}
	if !swapped {
		return false
	}

	util.ReservationsActiveGauge.Dec()

	if err := m.inventory.Release(ctx, reservationID); err != nil {
		m.logger.Error("Inventory release call failed",
			zap.String("reservation_id", reservationID),
			zap.Error(err))
	}

	m.logger.Info("Reservation released",
		zap.String("reservation_id", reservationID),
		zap.String("reason", reason))
	return true
}

// expire is the scheduled expiry action. It performs the same work as a
// manual release with the timeout reason.
func (m *Manager) expire(reservationID string) {
	m.mu.Lock()
	delete(m.timers, reservationID)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if m.release(ctx, reservationID, ReleaseReasonTimeout) {
		util.ReservationsExpiredTotal.Inc()
		m.logger.Warn("Reservation expired without resolution",
			zap.String("reservation_id", reservationID))
	}
}

// Recover re-arms expiry actions for every persisted active reservation and
// immediately releases overdue ones. Call once on startup, before serving.
func (m *Manager) Recover(ctx context.Context) error {
	ids, err := m.store.ActiveIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active reservations: %w", err)
	}

	recovered := 0
	for _, id := range ids {
		rec, err := m.store.Get(ctx, id)
		if err != nil {
			m.logger.Error("Failed to load reservation during recovery",
				zap.String("reservation_id", id),
				zap.Error(err))
			continue
		}

		remaining := time.Until(rec.ExpiresAt)
		if remaining <= 0 {
			if m.release(ctx, id, ReleaseReasonTimeout) {
				util.ReservationsExpiredTotal.Inc()
			}
			continue
		}

		m.armTimer(id, remaining)
		util.ReservationsActiveGauge.Inc()
		recovered++
	}

	m.logger.Info("Reservation recovery sweep finished",
		zap.Int("found", len(ids)),
		zap.Int("rearmed", recovered))
	return nil
}

// Stop disarms all timers, e.g. during shutdown. Persisted records are picked
// back up by Recover on the next start.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, timer := range m.timers {
		timer.Stop()
		delete(m.timers, id)
	}
}

func (m *Manager) armTimer(reservationID string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timers[reservationID] = time.AfterFunc(d, func() {
		m.expire(reservationID)
	})
}

// disarmTimer stops the pending expiry action before any manual resolution
// proceeds. If the action has already fired, the store's compare-and-set
// decides the winner.
func (m *Manager) disarmTimer(reservationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if timer, ok := m.timers[reservationID]; ok {
		timer.Stop()
		delete(m.timers, reservationID)
	}
}
