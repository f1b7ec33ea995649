package storage

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"

	"github.com/carson-networks/ledger-server/internal/idempotency"
	"github.com/carson-networks/ledger-server/internal/ledger"
	"github.com/carson-networks/ledger-server/internal/lock"
	"github.com/carson-networks/ledger-server/internal/outbox"
)

// Writer is one atomic unit of work. Nothing it stages is visible to other
// units until Commit succeeds, and Rollback discards all of it.
type Writer interface {
	Accounts() AccountWriter
	Transactions() TransactionWriter
	Idempotency() idempotency.Records
	Outbox() outbox.Writer
	// Locker holds accounts for the lifetime of this unit.
	Locker() lock.Acquirer
	// AfterFinish runs fn once the unit has committed or rolled back.
	AfterFinish(fn func())
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type AccountWriter interface {
	Categories(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]ledger.Category, error)
	Insert(ctx context.Context, create *AccountCreate) (*ledger.Account, error)
	// ApplyDelta adds delta to the stored balance in place.
	ApplyDelta(ctx context.Context, id uuid.UUID, delta decimal.Decimal, at time.Time) error
}

type TransactionWriter interface {
	// Insert stores the transaction and all its entries.
	Insert(ctx context.Context, tx *ledger.Transaction) error
}

// FinishHooks collects AfterFinish callbacks for Writer implementations.
type FinishHooks struct {
	hooks []func()
}

func (h *FinishHooks) Add(fn func()) {
	h.hooks = append(h.hooks, fn)
}

// Run calls the hooks in reverse registration order and forgets them.
func (h *FinishHooks) Run() {
	hooks := h.hooks
	h.hooks = nil
	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
}
