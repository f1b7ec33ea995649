package storage

import (
	"context"
	"errors"
	"time"

	"github.com/aarondl/opt/omit"
	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"

	"github.com/carson-networks/ledger-server/internal/ledger"
	"github.com/carson-networks/ledger-server/internal/outbox"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("storage: not found")

// Storage is the ledger's system of record. Every ledger mutation happens
// inside a Writer, which is one atomic unit of work.
type Storage interface {
	Reader() Reader
	// Write opens a unit of work. The ctx bounds the unit's lifetime, so callers
	// that must outlive request cancellation pass a detached context.
	Write(ctx context.Context) (Writer, error)
	// Outbox is the relay's view of the event table. Each call is its own unit.
	Outbox() outbox.Repository
	Ping(ctx context.Context) error
	Close() error
}

// AccountFilter specifies filters for listing accounts.
type AccountFilter struct {
	Category omit.Val[ledger.Category]
	Limit    int
	Offset   int
}

// TransactionFilter specifies filters for listing transactions.
type TransactionFilter struct {
	AccountID       omit.Val[uuid.UUID]
	Limit           int
	Offset          int
	MaxCreationTime *time.Time
}

// AccountCreate is the input for creating a new account.
type AccountCreate struct {
	ID        uuid.UUID
	Name      string
	Category  ledger.Category
	CreatedAt time.Time
}

// AccountTotals compares an account's cached balance with the sums of its
// entries.
type AccountTotals struct {
	AccountID uuid.UUID
	Category  ledger.Category
	Balance   decimal.Decimal
	Debits    decimal.Decimal
	Credits   decimal.Decimal
}

// DefaultLimit applies when a filter asks for no limit.
const DefaultLimit = 20

// MaxLimit caps a single page.
const MaxLimit = 200

// PageLimit normalises a requested page size.
func PageLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
