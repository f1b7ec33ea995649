package actions

import (
	"context"
	"errors"

	"github.com/carson-networks/ledger-server/internal/ledger"
	"github.com/carson-networks/ledger-server/internal/storage"
)

type IAction interface {
	Perform(ctx context.Context, writer storage.Writer) error
}

// storeError classifies a failure from the store. Ledger errors and caller
// cancellation keep their meaning; anything else aborts the unit.
func storeError(err error, message string) error {
	if err == nil {
		return nil
	}
	if ledger.KindOf(err) != "" || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return ledger.WrapError(ledger.KindCommitFailure, err, message)
}
