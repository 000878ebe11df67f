package service

import (
	"context"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// transitionTable declares every legal state move. States missing an entry
// or mapped to an empty set are terminal.
var transitionTable = map[models.OrderState][]models.OrderState{
	models.StatePending:           {models.StateValidating, models.StateCancelled},
	models.StateValidating:        {models.StateReserved, models.StateInventoryFailed, models.StateCancelled},
	models.StateReserved:          {models.StateProcessingPayment, models.StateCancelled},
	models.StateProcessingPayment: {models.StatePaid, models.StatePaymentFailed},
	models.StatePaid:              {models.StateFulfilling, models.StateRefunded},
	models.StateFulfilling:        {models.StateCompleted, models.StateCancelled},
	models.StatePaymentFailed:     {models.StateCancelled},
	models.StateInventoryFailed:   {models.StateCancelled},
	models.StateCompleted:         {models.StateRefunded},
	models.StateCancelled:         {},
	models.StateRefunded:          {},
}

// CanTransition reports whether the table allows moving from one state to
// another.
func CanTransition(from, to models.OrderState) bool {
	for _, allowed := range transitionTable[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AllowedTargets returns the legal targets from a state.
func AllowedTargets(from models.OrderState) []models.OrderState {
	targets := transitionTable[from]
	out := make([]models.OrderState, len(targets))
	copy(out, targets)
	return out
}

// OrderStore is the persistence surface the state machine and processor
// depend on. *store.Store satisfies it.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	GetOrdersByCustomerID(ctx context.Context, customerID string) ([]models.Order, error)
	SaveTransition(ctx context.Context, order *models.Order, entry *models.OrderAuditLog) error
	GetAuditLog(ctx context.Context, orderID string) ([]models.OrderAuditLog, error)
}

// Publisher is the event sink for domain events. *broker.EventPublisher
// satisfies it. Delivery is best-effort: failures are logged, never rolled
// back, and subscribers must be idempotent.
type Publisher interface {
	PublishStateChanged(ctx context.Context, event *models.StateChangedEvent) error
	PublishOrderCompleted(ctx context.Context, event *models.OrderCompletedEvent) error
	PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error
	PublishInventoryUnavailable(ctx context.Context, event *models.InventoryUnavailableEvent) error
}

// StateMachine enforces the transition table and records every move durably.
type StateMachine struct {
	store     OrderStore
	publisher Publisher
	logger    *zap.Logger
}

// NewStateMachine creates a state machine over the given store and event sink.
func NewStateMachine(store OrderStore, publisher Publisher) *StateMachine {
	return &StateMachine{
		store:     store,
		publisher: publisher,
		logger:    util.NamedLogger("statemachine"),
	}
}

// Transition moves the order to target. On an illegal move it fails with
// *InvalidTransitionError and changes nothing. Otherwise the audit entry,
// the state mutation, and the updated timestamp persist in one atomic unit;
// the StateChanged event goes out only after that unit is durable, and a
// publish failure does not undo the persisted change.
func (sm *StateMachine) Transition(ctx context.Context, order *models.Order, target models.OrderState, reason string, metadata models.Metadata, actor *string) error {
	ctx, span := util.StartSpan(ctx, "StateMachine.Transition")
	defer span.End()

	if !CanTransition(order.State, target) {
		util.InvalidTransitionsTotal.Inc()
		return &InvalidTransitionError{OrderID: order.ID, From: order.State, To: target}
	}

	previous := order.State
	now := time.Now().UTC()

	entry := &models.OrderAuditLog{
		OrderID:       order.ID,
		PreviousState: previous,
		NewState:      target,
		Reason:        reason,
		Metadata:      metadata,
		Actor:         actor,
		CreatedAt:     now,
	}

	order.State = target
	order.UpdatedAt = now

	if err := sm.store.SaveTransition(ctx, order, entry); err != nil {
		// Restore in-memory state so the caller does not act on a move that
		// never became durable.
		order.State = previous
		return err
	}

	util.StateTransitionsTotal.WithLabelValues(string(previous), string(target)).Inc()
	sm.logger.Info("Order state changed",
		zap.String("order_id", order.ID),
		zap.String("from", string(previous)),
		zap.String("to", string(target)),
		zap.String("reason", reason))

	event := &models.StateChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeStateChanged,
			Timestamp: now,
		},
		OrderID:       order.ID,
		PreviousState: previous,
		NewState:      target,
		Reason:        reason,
	}
	if err := sm.publisher.PublishStateChanged(ctx, event); err != nil {
		util.EventPublishFailuresTotal.WithLabelValues(models.EventTypeStateChanged).Inc()
		sm.logger.Error("Failed to publish StateChanged event",
			zap.String("order_id", order.ID),
			zap.Error(err))
	}

	return nil
}
