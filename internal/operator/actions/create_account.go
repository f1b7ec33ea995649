package actions

import (
	"context"
	"time"

	"github.com/carson-networks/ledger-server/internal/ledger"
	"github.com/carson-networks/ledger-server/internal/storage"
)

// CreateAccount opens an account with a zero balance.
type CreateAccount struct {
	Name     string
	Category ledger.Category
	Now      func() time.Time

	Account *ledger.Account

	IAction
}

func (c *CreateAccount) Perform(ctx context.Context, writer storage.Writer) error {
	if !c.Category.Valid() {
		return ledger.NewError(ledger.KindInvalidAccountCategory, "unknown category %q", c.Category)
	}

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	account, err := writer.Accounts().Insert(ctx, &storage.AccountCreate{
		Name:      c.Name,
		Category:  c.Category,
		CreatedAt: now().UTC(),
	})
	if err != nil {
		return storeError(err, "inserting account")
	}

	c.Account = account
	return nil
}
