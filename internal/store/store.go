package store

import (
	"context"
	"fmt"
	"time"

	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// SaveTransition persists a state change and its audit entry in one
// transaction: the order's state and updated-at, the new reservation or
// payment-intent references when present, and the append-only audit record
// are durable together or not at all.
func (s *Store) SaveTransition(ctx context.Context, order *models.Order, entry *models.OrderAuditLog) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET state = $1, reservation_id = $2, payment_intent_id = $3, updated_at = $4
		WHERE id = $5`,
		order.State, order.ReservationID, order.PaymentIntentID, order.UpdatedAt, order.ID)
	if err != nil {
		return fmt.Errorf("update order state: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrOrderNotFound
	}

	err = tx.GetContext(ctx, &entry.ID, `
		INSERT INTO order_audit_log (order_id, previous_state, new_state, reason, metadata, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		entry.OrderID, entry.PreviousState, entry.NewState, entry.Reason,
		entry.Metadata, entry.Actor, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}

	return tx.Commit()
}
