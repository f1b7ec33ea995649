package apierr

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/carson-networks/ledger-server/internal/ledger"
	"github.com/carson-networks/ledger-server/internal/operator"
	"github.com/carson-networks/ledger-server/internal/storage"
)

// Status maps an error returned by the services to an HTTP status.
func Status(err error) int {
	switch ledger.KindOf(err) {
	case ledger.KindMalformedEntry:
		return http.StatusBadRequest
	case ledger.KindImbalancedEntries:
		return http.StatusUnprocessableEntity
	case ledger.KindAccountNotFound:
		return http.StatusNotFound
	case ledger.KindIdempotencyKeyConflict:
		return http.StatusConflict
	case ledger.KindLockTimeout, ledger.KindCommitFailure:
		return http.StatusServiceUnavailable
	case ledger.KindInvalidAccountCategory, ledger.KindDeliveryFailure:
		return http.StatusInternalServerError
	}

	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, operator.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

// From converts err into a huma error. Ledger rejections keep their message,
// which names the broken rule; anything else is reported as msg.
func From(err error, msg string) huma.StatusError {
	status := Status(err)

	var ledgerErr *ledger.Error
	if errors.As(err, &ledgerErr) && status < http.StatusInternalServerError {
		return huma.NewError(status, ledgerErr.Error())
	}
	if status == http.StatusNotFound {
		return huma.NewError(status, "not found")
	}
	return huma.NewError(status, msg, err)
}
