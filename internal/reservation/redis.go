package reservation

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"checkout-service/internal/inventory"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/cas_status.lua
var casStatusScript string

const (
	keyPrefix    = "reservation:"
	activeSetKey = "reservations:active"
)

// RedisStore keeps reservation records in Redis so active holds survive a
// process restart and can be swept back in by Manager.Recover.
type RedisStore struct {
	rdb       *redis.Client
	casScript *redis.Script
}

// NewRedisStore creates a store backed by the given Redis instance.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{
		rdb:       rdb,
		casScript: redis.NewScript(casStatusScript),
	}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func recordKey(id string) string {
	return keyPrefix + id
}

// Create persists a new record and adds it to the active set.
func (s *RedisStore) Create(ctx context.Context, rec *Record) error {
	itemsJSON, err := json.Marshal(rec.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}

	key := recordKey(rec.ID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"order_id", rec.OrderID,
		"items", string(itemsJSON),
		"status", string(rec.Status),
		"status_reason", rec.StatusReason,
		"expires_at", rec.ExpiresAt.Format(time.RFC3339Nano),
		"created_at", rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if rec.Status == StatusActive {
		pipe.SAdd(ctx, activeSetKey, rec.ID)
		// The hash outlives the hold window by a day for audit reads, then
		// falls out of Redis on its own.
		pipe.ExpireAt(ctx, key, rec.ExpiresAt.Add(24*time.Hour))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("persist reservation: %w", err)
	}
	return nil
}

// Get loads a record.
func (s *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	fields, err := s.rdb.HGetAll(ctx, recordKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load reservation: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	var items []inventory.ReserveItem
	if err := json.Unmarshal([]byte(fields["items"]), &items); err != nil {
		return nil, fmt.Errorf("unmarshal items: %w", err)
	}

	expiresAt, err := time.Parse(time.RFC3339Nano, fields["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	return &Record{
		ID:           id,
		OrderID:      fields["order_id"],
		Items:        items,
		Status:       Status(fields["status"]),
		StatusReason: fields["status_reason"],
		ExpiresAt:    expiresAt,
		CreatedAt:    createdAt,
	}, nil
}

// UpdateStatus compare-and-sets the status via a Lua script so the expiry
// action and a manual confirm/release can never both win.
func (s *RedisStore) UpdateStatus(ctx context.Context, id string, from, to Status, reason string) (bool, error) {
	result, err := s.casScript.Run(ctx, s.rdb,
		[]string{recordKey(id), activeSetKey},
		id, string(from), string(to), reason).Result()
	if err != nil {
		return false, fmt.Errorf("cas status script failed: %w", err)
	}

	swapped, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}
	return swapped == 1, nil
}

// ActiveIDs lists reservations still holding inventory.
func (s *RedisStore) ActiveIDs(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, activeSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list active reservations: %w", err)
	}
	return ids, nil
}
