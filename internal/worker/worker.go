package worker

import (
	"context"
	"errors"

	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// CheckoutWorker drains queued OrderSubmitted events into the saga
// coordinator so submissions accepted on the async endpoint are processed in
// the background.
type CheckoutWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	processor    *service.Processor
	logger       *zap.Logger
}

// NewCheckoutWorker creates a worker over the given consumer and processor.
func NewCheckoutWorker(consumer *broker.Consumer, processor *service.Processor) *CheckoutWorker {
	w := &CheckoutWorker{
		consumer:  consumer,
		processor: processor,
		logger:    util.NamedLogger("worker"),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderSubmitted(w.handleOrderSubmitted)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *CheckoutWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting checkout worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *CheckoutWorker) Stop() error {
	w.logger.Info("Stopping checkout worker")
	return w.consumer.Close()
}

// handleOrderSubmitted runs one saga per queued submission. Business
// failures and saga-level processing errors are final for the attempt, so
// the message is committed either way; only unmarshal-independent transient
// faults (e.g. the idempotency lookup) bubble up for redelivery.
func (w *CheckoutWorker) handleOrderSubmitted(ctx context.Context, event *models.OrderSubmittedEvent) error {
	items := make([]service.OrderItemRequest, 0, len(event.Items))
	for _, it := range event.Items {
		items = append(items, service.OrderItemRequest{
			BookID:    it.BookID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}

	req := &service.ProcessOrderRequest{
		CustomerID:     event.CustomerID,
		Currency:       event.Currency,
		Items:          items,
		Tax:            event.Tax,
		Shipping:       event.Shipping,
		PaymentMethod:  event.PaymentMethod,
		IdempotencyKey: event.IdempotencyKey,
	}

	result, err := w.processor.ProcessOrder(ctx, req)
	if err != nil {
		var procErr *service.OrderProcessingError
		if errors.As(err, &procErr) {
			// Compensation already ran; the order is terminal for this
			// attempt and redelivery would replay a resolved saga.
			w.logger.Error("Queued checkout failed with processing error",
				zap.String("order_id", procErr.OrderID),
				zap.Error(err))
			return nil
		}
		return err
	}

	if !result.Success {
		w.logger.Warn("Queued checkout ended in failure state",
			zap.String("idempotency_key", event.IdempotencyKey),
			zap.String("error_code", result.ErrorCode))
		return nil
	}

	w.logger.Info("Queued checkout completed",
		zap.String("order_id", result.Order.ID))
	return nil
}
