package account

import (
	"time"

	"github.com/carson-networks/ledger-server/internal/ledger"
)

// Account is the API response model for an account.
type Account struct {
	ID        string `json:"id" doc:"Account UUID"`
	Name      string `json:"name" doc:"Account name"`
	Category  string `json:"category" doc:"ASSET, LIABILITY, EQUITY, REVENUE or EXPENSE"`
	Balance   string `json:"balance" doc:"Decimal balance in the account's normal direction"`
	CreatedAt string `json:"createdAt" doc:"RFC3339 creation time"`
	UpdatedAt string `json:"updatedAt" doc:"RFC3339 time of the last committed balance change"`
}

func toAccount(a *ledger.Account) Account {
	return Account{
		ID:        a.ID.String(),
		Name:      a.Name,
		Category:  string(a.Category),
		Balance:   ledger.FormatAmount(a.Balance),
		CreatedAt: a.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt: a.UpdatedAt.Format(time.RFC3339Nano),
	}
}
