package postgres

import (
	"context"
	"errors"

	"github.com/lib/pq"

	"github.com/carson-networks/ledger-server/internal/ledger"
)

const (
	codeLockNotAvailable pq.ErrorCode = "55P03"
	codeQueryCanceled    pq.ErrorCode = "57014"
)

func pqCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}

// classifyLockError maps a statement that gave up waiting on a row lock held
// by subject. A cancelled caller context is reported as such so the
// coordinator can tell it apart from a timeout.
func classifyLockError(ctx context.Context, subject string, err error) error {
	if ledger.KindOf(err) != "" {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	switch pqCode(err) {
	case codeLockNotAvailable, codeQueryCanceled:
		return ledger.WrapError(ledger.KindLockTimeout, err, subject+" is held by another transaction")
	}
	return err
}
