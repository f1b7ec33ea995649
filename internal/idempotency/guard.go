package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/sirupsen/logrus"

	"github.com/carson-networks/ledger-server/internal/ledger"
)

const DefaultTTL = 24 * time.Hour

// Guard deduplicates retried creation requests by idempotency key.
type Guard struct {
	ttl    time.Duration
	cache  *Cache
	logger *logrus.Logger
	now    func() time.Time
}

// NewGuard builds a Guard. cache may be nil.
func NewGuard(ttl time.Duration, cache *Cache, logger *logrus.Logger) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{
		ttl:    ttl,
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

func conflict(key string) error {
	return ledger.NewError(ledger.KindIdempotencyKeyConflict, "idempotency key %q was already used with a different request", key)
}

// Lookup returns the completed record for key without taking any lock, or nil
// when the key is unused, expired or still in flight. A matching key with a
// different hash is a conflict.
func (g *Guard) Lookup(ctx context.Context, finder Finder, key, hash string) (*Record, error) {
	if key == "" {
		return nil, nil
	}

	rec := g.fromCache(ctx, key)
	cached := rec != nil
	if rec == nil {
		var err error
		rec, err = finder.Find(ctx, key)
		if err != nil {
			return nil, err
		}
	}

	if rec == nil || !rec.Completed() || rec.Expired(g.now()) {
		return nil, nil
	}
	if rec.RequestHash != hash {
		return nil, conflict(key)
	}
	if !cached {
		g.Remember(ctx, rec)
	}
	return rec, nil
}

// Reserve claims key for the current unit of work. It returns nil when the
// caller should proceed with a fresh attempt, or the prior record to replay.
func (g *Guard) Reserve(ctx context.Context, records Records, key, hash string) (*Record, error) {
	now := g.now()
	fresh := &Record{
		Key:         key,
		RequestHash: hash,
		CreatedAt:   now,
		ExpiresAt:   now.Add(g.ttl),
	}

	inserted, err := records.Insert(ctx, fresh)
	if err != nil {
		return nil, err
	}
	if inserted {
		return nil, nil
	}

	prior, err := records.FindForUpdate(ctx, key)
	if err != nil {
		return nil, err
	}
	if prior == nil || prior.Expired(now) || !prior.Completed() {
		return nil, records.Replace(ctx, fresh)
	}
	if prior.RequestHash != hash {
		return nil, conflict(key)
	}
	return prior, nil
}

// Complete stores the outcome against a reserved key. outcome is nil for a
// committed transaction.
func (g *Guard) Complete(ctx context.Context, records Records, key, hash string, transactionID uuid.UUID, outcome error) (*Record, error) {
	now := g.now()
	rec := &Record{
		Key:         key,
		RequestHash: hash,
		CreatedAt:   now,
		ExpiresAt:   now.Add(g.ttl),
	}

	if outcome != nil {
		var ledgerErr *ledger.Error
		if !errors.As(outcome, &ledgerErr) {
			return nil, outcome
		}
		rec.ErrorKind = string(ledgerErr.Kind)
		rec.ErrorMessage = ledgerErr.Message
	} else {
		rec.TransactionID = uuid.NullUUID{UUID: transactionID, Valid: true}
	}

	if err := records.SetOutcome(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Remember caches a committed record. Cache failures are logged and ignored.
func (g *Guard) Remember(ctx context.Context, rec *Record) {
	if g.cache == nil || rec == nil {
		return
	}
	if err := g.cache.Set(ctx, rec); err != nil {
		g.logger.WithError(err).WithField("idempotencyKey", rec.Key).Warn("Guard.Remember.cacheSet")
	}
}

func (g *Guard) fromCache(ctx context.Context, key string) *Record {
	if g.cache == nil {
		return nil
	}
	rec, err := g.cache.Get(ctx, key)
	if err != nil {
		g.logger.WithError(err).WithField("idempotencyKey", key).Warn("Guard.Lookup.cacheGet")
		return nil
	}
	return rec
}
