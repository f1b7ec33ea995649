package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"
)

// Cache keeps completed records in Redis so replays skip the database.
// Only completed outcomes are cached; reservations live in the store.
type Cache struct {
	client redis.UniversalClient
	prefix string
}

type cachedRecord struct {
	RequestHash   string    `json:"request_hash"`
	TransactionID string    `json:"transaction_id,omitempty"`
	ErrorKind     string    `json:"error_kind,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func NewCache(client redis.UniversalClient, prefix string) *Cache {
	if prefix == "" {
		prefix = "ledger:idempotency:"
	}
	return &Cache{client: client, prefix: prefix}
}

func (c *Cache) Get(ctx context.Context, key string) (*Record, error) {
	body, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var cached cachedRecord
	if err := json.Unmarshal(body, &cached); err != nil {
		return nil, err
	}

	rec := &Record{
		Key:          key,
		RequestHash:  cached.RequestHash,
		ErrorKind:    cached.ErrorKind,
		ErrorMessage: cached.ErrorMessage,
		CreatedAt:    cached.CreatedAt,
		ExpiresAt:    cached.ExpiresAt,
	}
	if cached.TransactionID != "" {
		id, err := uuid.FromString(cached.TransactionID)
		if err != nil {
			return nil, err
		}
		rec.TransactionID = uuid.NullUUID{UUID: id, Valid: true}
	}
	return rec, nil
}

func (c *Cache) Set(ctx context.Context, rec *Record) error {
	if !rec.Completed() {
		return nil
	}
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	cached := cachedRecord{
		RequestHash:  rec.RequestHash,
		ErrorKind:    rec.ErrorKind,
		ErrorMessage: rec.ErrorMessage,
		CreatedAt:    rec.CreatedAt,
		ExpiresAt:    rec.ExpiresAt,
	}
	if rec.TransactionID.Valid {
		cached.TransactionID = rec.TransactionID.UUID.String()
	}

	body, err := json.Marshal(cached)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+rec.Key, body, ttl).Err()
}
