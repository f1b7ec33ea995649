package ledger

import (
	"bytes"
	"slices"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"
)

// AmountScale is the number of fractional digits the ledger stores exactly.
const AmountScale = 4

// maxAmount is the first value that no longer fits NUMERIC(38,4).
var maxAmount = decimal.New(1, 38-AmountScale)

// Validate checks the structure and arithmetic of a proposed entry set.
// It performs no I/O.
func Validate(entries []EntryRequest) error {
	if len(entries) < 2 {
		return NewError(KindMalformedEntry, "a transaction needs at least two entries, got %d", len(entries))
	}

	debits := decimal.Zero
	credits := decimal.Zero
	for i, entry := range entries {
		if err := validateEntry(i, entry); err != nil {
			return err
		}
		if entry.Direction == DirectionDebit {
			debits = debits.Add(entry.Amount)
		} else {
			credits = credits.Add(entry.Amount)
		}
	}

	if !debits.Equal(credits) {
		return NewError(KindImbalancedEntries, "debits %s ≠ credits %s", FormatAmount(debits), FormatAmount(credits))
	}
	return nil
}

func validateEntry(i int, entry EntryRequest) error {
	if entry.AccountID == uuid.Nil {
		return NewError(KindMalformedEntry, "entry %d: account id is required", i)
	}
	if !entry.Direction.Valid() {
		return NewError(KindMalformedEntry, "entry %d: direction %q must be DEBIT or CREDIT", i, entry.Direction)
	}
	if !entry.Amount.IsPositive() {
		return NewError(KindMalformedEntry, "entry %d: amount %s must be strictly positive", i, entry.Amount.String())
	}
	if !entry.Amount.Equal(entry.Amount.Truncate(AmountScale)) {
		return NewError(KindMalformedEntry, "entry %d: amount %s has more than %d decimal places", i, entry.Amount.String(), AmountScale)
	}
	if entry.Amount.GreaterThanOrEqual(maxAmount) {
		return NewError(KindMalformedEntry, "entry %d: amount %s exceeds the ledger's precision", i, entry.Amount.String())
	}
	return nil
}

// FormatAmount renders at least two decimal places without dropping precision.
func FormatAmount(d decimal.Decimal) string {
	if d.Exponent() >= -2 {
		return d.StringFixed(2)
	}
	return d.String()
}

// AccountIDs returns the distinct accounts referenced by entries, ascending.
func AccountIDs(entries []EntryRequest) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.AccountID)
	}
	SortIDs(ids)
	return slices.Compact(ids)
}

// SortIDs orders ids by their byte representation, which matches the
// ordering of their canonical string form and of Postgres uuid comparison.
func SortIDs(ids []uuid.UUID) {
	slices.SortFunc(ids, func(a, b uuid.UUID) int {
		return bytes.Compare(a[:], b[:])
	})
}
