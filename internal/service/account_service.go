package service

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/carson-networks/ledger-server/internal/ledger"
	"github.com/carson-networks/ledger-server/internal/operator/actions"
	"github.com/carson-networks/ledger-server/internal/storage"
)

const defaultAccountLimit = storage.DefaultLimit

// AccountService handles account business logic.
type AccountService struct {
	deps Dependencies
}

// NewAccountService creates a new AccountService.
func NewAccountService(deps Dependencies) *AccountService {
	return &AccountService{deps: deps}
}

// CreateAccount opens an account with a zero balance.
func (s *AccountService) CreateAccount(ctx context.Context, name string, category ledger.Category) (*ledger.Account, error) {
	if !category.Valid() {
		return nil, ledger.NewError(ledger.KindInvalidAccountCategory, "unknown category %q", category)
	}

	action := &actions.CreateAccount{
		Name:     name,
		Category: category,
		Now:      s.deps.Now,
	}
	if err := s.deps.Operator.Process(ctx, action); err != nil {
		return nil, err
	}
	return action.Account, nil
}

// GetAccount reads an account's committed state. The balance reflects every
// transaction committed before the read and none that are still in flight.
func (s *AccountService) GetAccount(ctx context.Context, id uuid.UUID) (*ledger.Account, error) {
	return s.deps.Storage.Reader().Accounts().FindByID(ctx, id)
}

// ListAccounts returns a page of accounts using cursor pagination.
func (s *AccountService) ListAccounts(ctx context.Context, cursor *AccountCursor) ([]*ledger.Account, *AccountCursor, error) {
	limit := defaultAccountLimit
	offset := 0
	var filter storage.AccountFilter
	if cursor != nil {
		if cursor.Limit > 0 {
			limit = cursor.Limit
		}
		offset = cursor.Position
		filter.Category = cursor.Category
	}
	filter.Limit = limit
	filter.Offset = offset

	accounts, err := s.deps.Storage.Reader().Accounts().List(ctx, &filter)
	if err != nil {
		return nil, nil, err
	}

	if len(accounts) == 0 {
		return nil, nil, nil
	}

	var nextCursor *AccountCursor
	if len(accounts) > limit {
		accounts = accounts[:limit]
		nextCursor = &AccountCursor{
			Position: offset + limit,
			Limit:    limit,
			Category: filter.Category,
		}
	}

	return accounts, nextCursor, nil
}
