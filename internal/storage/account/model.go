package account

import (
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"

	"github.com/carson-networks/ledger-server/internal/ledger"
)

const tableName = "accounts"

var columns = []any{"id", "name", "category", "balance", "created_at", "updated_at"}

// row mirrors the accounts table.
type row struct {
	ID        uuid.UUID       `db:"id"`
	Name      string          `db:"name"`
	Category  string          `db:"category"`
	Balance   decimal.Decimal `db:"balance"`
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}

func (r *row) toAccount() *ledger.Account {
	return &ledger.Account{
		ID:        r.ID,
		Name:      r.Name,
		Category:  ledger.Category(r.Category),
		Balance:   r.Balance,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type totalsRow struct {
	AccountID uuid.UUID       `db:"account_id"`
	Category  string          `db:"category"`
	Balance   decimal.Decimal `db:"balance"`
	Debits    decimal.Decimal `db:"debits"`
	Credits   decimal.Decimal `db:"credits"`
}

type categoryRow struct {
	ID       uuid.UUID `db:"id"`
	Category string    `db:"category"`
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
