package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"checkout-service/internal/inventory"
	"checkout-service/internal/models"
	"checkout-service/internal/payment"
	"checkout-service/internal/store"

	"github.com/shopspring/decimal"
)

// memStore is an in-memory OrderStore for saga tests.
type memStore struct {
	mu          sync.Mutex
	orders      map[string]*models.Order
	audit       map[string][]models.OrderAuditLog
	nextAuditID int64

	// failTransitionTo injects a persistence fault on the transition into
	// the given state.
	failTransitionTo models.OrderState
}

func newMemStore() *memStore {
	return &memStore{
		orders: make(map[string]*models.Order),
		audit:  make(map[string][]models.OrderAuditLog),
	}
}

func (s *memStore) CreateOrder(ctx context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *order
	cp.Items = append([]models.OrderItem(nil), order.Items...)
	s.orders[order.ID] = &cp
	return nil
}

func (s *memStore) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, store.ErrOrderNotFound
	}
	cp := *order
	cp.Items = append([]models.OrderItem(nil), order.Items...)
	return &cp, nil
}

func (s *memStore) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, order := range s.orders {
		if order.IdempotencyKey == key {
			cp := *order
			cp.Items = append([]models.OrderItem(nil), order.Items...)
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) GetOrdersByCustomerID(ctx context.Context, customerID string) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, order := range s.orders {
		if order.CustomerID == customerID {
			cp := *order
			cp.Items = append([]models.OrderItem(nil), order.Items...)
			out = append(out, cp)
		}
	}
	return out, nil
}

func (s *memStore) SaveTransition(ctx context.Context, order *models.Order, entry *models.OrderAuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failTransitionTo != "" && entry.NewState == s.failTransitionTo {
		return fmt.Errorf("injected store failure on transition to %s", entry.NewState)
	}

	stored, ok := s.orders[order.ID]
	if !ok {
		return store.ErrOrderNotFound
	}

	stored.State = order.State
	stored.ReservationID = order.ReservationID
	stored.PaymentIntentID = order.PaymentIntentID
	stored.UpdatedAt = order.UpdatedAt

	s.nextAuditID++
	entry.ID = s.nextAuditID
	s.audit[order.ID] = append(s.audit[order.ID], *entry)
	return nil
}

func (s *memStore) GetAuditLog(ctx context.Context, orderID string) ([]models.OrderAuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.OrderAuditLog(nil), s.audit[orderID]...), nil
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu                   sync.Mutex
	stateChanged         []*models.StateChangedEvent
	orderCompleted       []*models.OrderCompletedEvent
	paymentFailed        []*models.PaymentFailedEvent
	inventoryUnavailable []*models.InventoryUnavailableEvent

	stateChangedErr error
}

func (p *recordingPublisher) PublishStateChanged(ctx context.Context, e *models.StateChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stateChangedErr != nil {
		return p.stateChangedErr
	}
	p.stateChanged = append(p.stateChanged, e)
	return nil
}

func (p *recordingPublisher) PublishOrderCompleted(ctx context.Context, e *models.OrderCompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orderCompleted = append(p.orderCompleted, e)
	return nil
}

func (p *recordingPublisher) PublishPaymentFailed(ctx context.Context, e *models.PaymentFailedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paymentFailed = append(p.paymentFailed, e)
	return nil
}

func (p *recordingPublisher) PublishInventoryUnavailable(ctx context.Context, e *models.InventoryUnavailableEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inventoryUnavailable = append(p.inventoryUnavailable, e)
	return nil
}

// fakeInventory is a stock-keeping inventory collaborator.
type fakeInventory struct {
	mu         sync.Mutex
	stock      map[string]int
	reserveErr error
	released   []string
	confirmed  []string
}

func newFakeInventory(stock map[string]int) *fakeInventory {
	if stock == nil {
		stock = make(map[string]int)
	}
	return &fakeInventory{stock: stock}
}

func (f *fakeInventory) Reserve(ctx context.Context, reservationID string, items []inventory.ReserveItem, timeoutSeconds int) (*inventory.ReserveResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.reserveErr != nil {
		return nil, f.reserveErr
	}

	var unavailable []models.UnavailableItem
	for _, it := range items {
		if f.stock[it.BookID] < it.Quantity {
			unavailable = append(unavailable, models.UnavailableItem{
				BookID:    it.BookID,
				Requested: it.Quantity,
				Available: f.stock[it.BookID],
			})
		}
	}
	if len(unavailable) > 0 {
		return &inventory.ReserveResponse{Success: false, UnavailableItems: unavailable}, nil
	}

	for _, it := range items {
		f.stock[it.BookID] -= it.Quantity
	}
	return &inventory.ReserveResponse{Success: true, ReservedItems: items}, nil
}

func (f *fakeInventory) Confirm(ctx context.Context, reservationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed = append(f.confirmed, reservationID)
	return nil
}

func (f *fakeInventory) Release(ctx context.Context, reservationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, reservationID)
	return nil
}

// faultingGateway wraps a gateway and injects an unexpected (non-provider)
// fault on intent creation.
type faultingGateway struct {
	payment.Gateway
	createErr error
}

func (g *faultingGateway) CreatePaymentIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	if g.createErr != nil {
		return nil, g.createErr
	}
	return g.Gateway.CreatePaymentIntent(ctx, req)
}

// slowConfirmGateway wraps a gateway and stalls confirmation, so a test can
// let the reservation window lapse mid-payment.
type slowConfirmGateway struct {
	payment.Gateway
	delay time.Duration
}

func (g *slowConfirmGateway) ConfirmPayment(ctx context.Context, intentID, method string) (*payment.Result, error) {
	select {
	case <-time.After(g.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.Gateway.ConfirmPayment(ctx, intentID, method)
}

// scriptedGateway answers every confirmation with a fixed status, covering
// outcomes the deterministic mock never produces.
type scriptedGateway struct {
	confirmStatus payment.Status
}

func (g *scriptedGateway) CreatePaymentIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	return &payment.Intent{
		ID:       "pi_scripted",
		Amount:   req.Amount,
		Currency: req.Currency,
		Status:   payment.StatusRequiresConfirmation,
	}, nil
}

func (g *scriptedGateway) ConfirmPayment(ctx context.Context, intentID, method string) (*payment.Result, error) {
	return &payment.Result{
		IntentID: intentID,
		Status:   g.confirmStatus,
	}, nil
}

func (g *scriptedGateway) RefundPayment(ctx context.Context, transactionID string, amount *decimal.Decimal) (*payment.RefundResult, error) {
	return nil, &payment.ProviderError{Op: "refund", Code: "not_supported", Message: "scripted gateway"}
}

func (g *scriptedGateway) GetPaymentStatus(ctx context.Context, intentID string) (payment.Status, error) {
	return g.confirmStatus, nil
}
