package storage

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/carson-networks/ledger-server/internal/idempotency"
	"github.com/carson-networks/ledger-server/internal/ledger"
)

// Reader serves committed state outside any unit of work.
type Reader interface {
	Accounts() AccountReader
	Transactions() TransactionReader
	Idempotency() idempotency.Finder
}

type AccountReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*ledger.Account, error)
	// List returns up to filter.Limit+1 rows so callers can tell whether a
	// further page exists.
	List(ctx context.Context, filter *AccountFilter) ([]*ledger.Account, error)
	// Categories returns the category of every id that exists. Missing ids are
	// absent from the map.
	Categories(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]ledger.Category, error)
	// Totals sums every account's entries for reconciliation.
	Totals(ctx context.Context) ([]AccountTotals, error)
}

type TransactionReader interface {
	// FindByID loads the transaction with its entries.
	FindByID(ctx context.Context, id uuid.UUID) (*ledger.Transaction, error)
	// List returns up to filter.Limit+1 transactions, newest first, with entries.
	List(ctx context.Context, filter *TransactionFilter) ([]*ledger.Transaction, error)
}
