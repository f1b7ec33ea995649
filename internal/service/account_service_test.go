package service

import (
	"context"
	"testing"
	"time"

	"github.com/aarondl/opt/omit"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carson-networks/ledger-server/internal/ledger"
)

func TestCreateAccount_StartsAtZero(t *testing.T) {
	h := newHarness(t, time.Second)

	a, err := h.service.Account.CreateAccount(context.Background(), "Operating Cash", ledger.CategoryAsset)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, a.ID)
	assert.True(t, a.Balance.IsZero())

	got, err := h.service.Account.GetAccount(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Operating Cash", got.Name)
	assert.Equal(t, ledger.CategoryAsset, got.Category)
}

func TestCreateAccount_InvalidCategory(t *testing.T) {
	h := newHarness(t, time.Second)

	_, err := h.service.Account.CreateAccount(context.Background(), "mystery", ledger.Category("CONTRA"))
	assert.ErrorIs(t, err, ledger.ErrInvalidAccountCategory)
}

func TestGetAccount_NotFound(t *testing.T) {
	h := newHarness(t, time.Second)

	_, err := h.service.Account.GetAccount(context.Background(), uuid.Must(uuid.NewV4()))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAccounts_CursorWalk(t *testing.T) {
	h := newHarness(t, time.Second)
	for _, name := range []string{"a", "b", "c"} {
		h.account(t, name, ledger.CategoryAsset)
	}
	h.account(t, "rent", ledger.CategoryExpense)

	page, next, err := h.service.Account.ListAccounts(context.Background(), &AccountCursor{
		Limit:    2,
		Category: omit.From(ledger.CategoryAsset),
	})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "a", page[0].Name)
	require.NotNil(t, next)
	assert.Equal(t, 2, next.Position)

	page, next, err = h.service.Account.ListAccounts(context.Background(), next)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "c", page[0].Name)
	assert.Nil(t, next)

	all, next, err := h.service.Account.ListAccounts(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Nil(t, next)
}

func TestListAccounts_Empty(t *testing.T) {
	h := newHarness(t, time.Second)

	page, next, err := h.service.Account.ListAccounts(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, page)
	assert.Nil(t, next)
}
