package transaction

import (
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/carson-networks/ledger-server/internal/ledger"
)

const (
	transactionsTable = "transactions"
	entriesTable      = "entries"
)

var (
	transactionColumns = []any{"id", "description", "file_refs", "caller_id", "created_at"}
	entryColumns       = []any{"id", "transaction_id", "account_id", "amount", "direction", "position", "created_at"}
)

type transactionRow struct {
	ID          uuid.UUID      `db:"id"`
	Description string         `db:"description"`
	FileRefs    pq.StringArray `db:"file_refs"`
	CallerID    string         `db:"caller_id"`
	CreatedAt   time.Time      `db:"created_at"`
}

type entryRow struct {
	ID            uuid.UUID       `db:"id"`
	TransactionID uuid.UUID       `db:"transaction_id"`
	AccountID     uuid.UUID       `db:"account_id"`
	Amount        decimal.Decimal `db:"amount"`
	Direction     string          `db:"direction"`
	Position      int             `db:"position"`
	CreatedAt     time.Time       `db:"created_at"`
}

func (r *transactionRow) toTransaction(entries []entryRow) *ledger.Transaction {
	tx := &ledger.Transaction{
		ID:          r.ID,
		Description: r.Description,
		FileRefs:    []string(r.FileRefs),
		CallerID:    r.CallerID,
		CreatedAt:   r.CreatedAt,
		Entries:     make([]ledger.Entry, 0, len(entries)),
	}
	for _, e := range entries {
		tx.Entries = append(tx.Entries, ledger.Entry{
			ID:            e.ID,
			TransactionID: e.TransactionID,
			AccountID:     e.AccountID,
			Amount:        e.Amount,
			Direction:     ledger.Direction(e.Direction),
			CreatedAt:     e.CreatedAt,
		})
	}
	return tx
}
