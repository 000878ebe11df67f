package reservation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"checkout-service/internal/inventory"
)

// Status of a reservation record. A record leaves StatusActive exactly once.
type Status string

const (
	StatusActive    Status = "active"
	StatusConfirmed Status = "confirmed"
	StatusReleased  Status = "released"
)

// Record is one inventory hold. The order keeps only the reservation id as a
// back-reference; the manager's store owns the record.
type Record struct {
	ID      string                  `json:"id"`
	OrderID string                  `json:"order_id"`
	Items   []inventory.ReserveItem `json:"items"`
	Status  Status                  `json:"status"`
	// StatusReason records why the record left StatusActive.
	StatusReason string    `json:"status_reason,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store is the keyed index of reservations. It is passed into the manager at
// construction so multiple managers can be tested in isolation. UpdateStatus
// must be an atomic compare-and-set: that is what keeps the expiry action and
// a concurrent manual confirm/release from both winning.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	// UpdateStatus moves a record from one status to another atomically,
	// recording why, and reports whether the swap happened.
	UpdateStatus(ctx context.Context, id string, from, to Status, reason string) (bool, error)
	// ActiveIDs lists records still holding inventory, for the recovery sweep.
	ActiveIDs(ctx context.Context) ([]string, error)
}

// ErrNotFound reports an unknown reservation id.
var ErrNotFound = fmt.Errorf("reservation not found")

// MemoryStore is the in-process Store used in tests and single-node setups.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Create stores a new record.
func (s *MemoryStore) Create(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("reservation already exists: %s", rec.ID)
	}
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

// Get returns a copy of the record.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// UpdateStatus compare-and-sets the record status.
func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, from, to Status, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.Status != from {
		return false, nil
	}
	rec.Status = to
	rec.StatusReason = reason
	return true, nil
}

// ActiveIDs lists ids of records still in StatusActive.
func (s *MemoryStore) ActiveIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, rec := range s.records {
		if rec.Status == StatusActive {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
