package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkout-service/internal/models"
)

// ErrOrderNotFound reports a lookup for an order id that does not exist.
var ErrOrderNotFound = errors.New("order not found")

// CreateOrder persists a new order together with its items in one
// transaction. Items are immutable once written.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, customer_id, state, currency, subtotal, tax, shipping, total,
		                    shipping_address, billing_address, idempotency_key, request_hash,
		                    reservation_id, payment_intent_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		order.ID, order.CustomerID, order.State, order.Currency,
		order.Subtotal, order.Tax, order.Shipping, order.Total,
		order.ShippingAddress, order.BillingAddress, order.IdempotencyKey, order.RequestHash,
		order.ReservationID, order.PaymentIntentID, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		err = tx.GetContext(ctx, &item.ID, `
			INSERT INTO order_items (order_id, book_id, quantity, unit_price, line_total)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			item.OrderID, item.BookID, item.Quantity, item.UnitPrice, item.LineTotal)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return tx.Commit()
}

// GetOrderByID retrieves an order and its items.
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := s.db.SelectContext(ctx, &order.Items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", id); err != nil {
		return nil, err
	}

	return &order, nil
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key, or nil when
// no order carries the key.
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE idempotency_key = $1", key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := s.db.SelectContext(ctx, &order.Items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", order.ID); err != nil {
		return nil, err
	}

	return &order, nil
}

// GetOrdersByCustomerID retrieves orders for a customer, newest first.
func (s *Store) GetOrdersByCustomerID(ctx context.Context, customerID string) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE customer_id = $1 ORDER BY created_at DESC", customerID)
	return orders, err
}

// GetAuditLog retrieves the append-only audit trail for an order in
// transition order.
func (s *Store) GetAuditLog(ctx context.Context, orderID string) ([]models.OrderAuditLog, error) {
	var entries []models.OrderAuditLog
	err := s.db.SelectContext(ctx, &entries,
		"SELECT * FROM order_audit_log WHERE order_id = $1 ORDER BY id", orderID)
	return entries, err
}
