package idempotency

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/carson-networks/ledger-server/internal/ledger"
)

// Record maps an idempotency key to the outcome of the first request that used it.
type Record struct {
	Key           string
	RequestHash   string
	TransactionID uuid.NullUUID
	ErrorKind     string
	ErrorMessage  string
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Completed reports whether the outcome has been stored.
func (r *Record) Completed() bool {
	return r.TransactionID.Valid || r.ErrorKind != ""
}

func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// Outcome rebuilds the recorded result.
func (r *Record) Outcome() (uuid.UUID, error) {
	if r.ErrorKind != "" {
		return uuid.Nil, &ledger.Error{Kind: ledger.Kind(r.ErrorKind), Message: r.ErrorMessage}
	}
	return r.TransactionID.UUID, nil
}

// Records is the key store as seen from inside a unit of work.
type Records interface {
	// Insert stages rec and reports false when the key already exists. An
	// insert racing an uncommitted reservation of the same key blocks until
	// that unit of work finishes.
	Insert(ctx context.Context, rec *Record) (bool, error)
	// FindForUpdate loads the record and holds it until the unit of work ends.
	FindForUpdate(ctx context.Context, key string) (*Record, error)
	// Replace overwrites an expired record with a fresh reservation.
	Replace(ctx context.Context, rec *Record) error
	// SetOutcome stores the outcome on a reserved key.
	SetOutcome(ctx context.Context, rec *Record) error
}

// Finder reads committed records outside a unit of work.
type Finder interface {
	Find(ctx context.Context, key string) (*Record, error)
}
