package ledger

import (
	"errors"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelta_NormalBalanceTable(t *testing.T) {
	amount := decimal.RequireFromString("12.34")

	tests := []struct {
		category Category
		debit    string
		credit   string
	}{
		{CategoryAsset, "12.34", "-12.34"},
		{CategoryExpense, "12.34", "-12.34"},
		{CategoryLiability, "-12.34", "12.34"},
		{CategoryEquity, "-12.34", "12.34"},
		{CategoryRevenue, "-12.34", "12.34"},
	}

	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			debit, err := Delta(tt.category, DirectionDebit, amount)
			require.NoError(t, err)
			assert.True(t, debit.Equal(decimal.RequireFromString(tt.debit)), "debit got %s", debit)

			credit, err := Delta(tt.category, DirectionCredit, amount)
			require.NoError(t, err)
			assert.True(t, credit.Equal(decimal.RequireFromString(tt.credit)), "credit got %s", credit)
		})
	}
}

func TestDelta_UnknownCategory(t *testing.T) {
	_, err := Delta(Category("GOODWILL"), DirectionDebit, decimal.NewFromInt(1))

	assert.True(t, errors.Is(err, ErrInvalidAccountCategory))
	assert.False(t, Deterministic(err))
}

func TestProject_AggregatesPerAccount(t *testing.T) {
	cash, revenue := newID(), newID()
	categories := map[uuid.UUID]Category{
		cash:    CategoryAsset,
		revenue: CategoryRevenue,
	}

	deltas, err := Project(categories, []EntryRequest{
		entry(cash, "50", DirectionDebit),
		entry(cash, "20", DirectionDebit),
		entry(cash, "5", DirectionCredit),
		entry(revenue, "65", DirectionCredit),
	})

	require.NoError(t, err)
	assert.True(t, deltas[cash].Equal(decimal.NewFromInt(65)))
	assert.True(t, deltas[revenue].Equal(decimal.NewFromInt(65)))
}

func TestProject_MissingAccount(t *testing.T) {
	_, err := Project(map[uuid.UUID]Category{}, []EntryRequest{entry(newID(), "1", DirectionDebit)})

	assert.True(t, errors.Is(err, ErrAccountNotFound))
}

func TestReplay(t *testing.T) {
	balance, err := Replay(CategoryAsset, decimal.NewFromInt(170), decimal.NewFromInt(30))
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(140)))

	balance, err = Replay(CategoryLiability, decimal.NewFromInt(170), decimal.NewFromInt(30))
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(-140)))
}

func TestErrorKinds(t *testing.T) {
	err := WrapError(KindCommitFailure, errors.New("connection reset"), "commit")

	assert.True(t, errors.Is(err, ErrCommitFailure))
	assert.True(t, Retryable(err))
	assert.Equal(t, KindCommitFailure, KindOf(err))
	assert.Equal(t, "CommitFailure: commit: connection reset", err.Error())
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.True(t, Deterministic(NewError(KindImbalancedEntries, "x")))
}

func TestParse(t *testing.T) {
	c, ok := ParseCategory(" asset ")
	assert.True(t, ok)
	assert.Equal(t, CategoryAsset, c)

	_, ok = ParseCategory("cash")
	assert.False(t, ok)

	d, ok := ParseDirection("credit")
	assert.True(t, ok)
	assert.Equal(t, DirectionCredit, d)
}
