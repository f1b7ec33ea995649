package ledger

import (
	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"
)

// Delta returns the signed change an entry makes to an account of the given category.
// ASSET and EXPENSE accounts grow on debit; LIABILITY, EQUITY and REVENUE grow on credit.
func Delta(category Category, direction Direction, amount decimal.Decimal) (decimal.Decimal, error) {
	var debitNormal bool
	switch category {
	case CategoryAsset, CategoryExpense:
		debitNormal = true
	case CategoryLiability, CategoryEquity, CategoryRevenue:
		debitNormal = false
	default:
		return decimal.Zero, NewError(KindInvalidAccountCategory, "unrecognized account category %q", category)
	}

	switch direction {
	case DirectionDebit:
		if debitNormal {
			return amount, nil
		}
		return amount.Neg(), nil
	case DirectionCredit:
		if debitNormal {
			return amount.Neg(), nil
		}
		return amount, nil
	}
	return decimal.Zero, NewError(KindMalformedEntry, "direction %q must be DEBIT or CREDIT", direction)
}

// Project sums the per-account balance deltas of entries. Every referenced
// account must be present in categories.
func Project(categories map[uuid.UUID]Category, entries []EntryRequest) (map[uuid.UUID]decimal.Decimal, error) {
	deltas := make(map[uuid.UUID]decimal.Decimal, len(categories))
	for _, entry := range entries {
		category, ok := categories[entry.AccountID]
		if !ok {
			return nil, NewError(KindAccountNotFound, "account %s does not exist", entry.AccountID)
		}
		delta, err := Delta(category, entry.Direction, entry.Amount)
		if err != nil {
			return nil, err
		}
		deltas[entry.AccountID] = deltas[entry.AccountID].Add(delta)
	}
	return deltas, nil
}

// Replay computes the balance an account must hold given the totals of all
// debit and credit entries ever posted against it.
func Replay(category Category, debits, credits decimal.Decimal) (decimal.Decimal, error) {
	debitSide, err := Delta(category, DirectionDebit, debits)
	if err != nil {
		return decimal.Zero, err
	}
	creditSide, err := Delta(category, DirectionCredit, credits)
	if err != nil {
		return decimal.Zero, err
	}
	return debitSide.Add(creditSide), nil
}
