package apierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/carson-networks/ledger-server/internal/ledger"
	"github.com/carson-networks/ledger-server/internal/operator"
	"github.com/carson-networks/ledger-server/internal/storage"
)

func TestStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ledger.NewError(ledger.KindMalformedEntry, "x"), http.StatusBadRequest},
		{ledger.NewError(ledger.KindImbalancedEntries, "x"), http.StatusUnprocessableEntity},
		{ledger.NewError(ledger.KindAccountNotFound, "x"), http.StatusNotFound},
		{ledger.NewError(ledger.KindInvalidAccountCategory, "x"), http.StatusInternalServerError},
		{ledger.NewError(ledger.KindLockTimeout, "x"), http.StatusServiceUnavailable},
		{ledger.NewError(ledger.KindIdempotencyKeyConflict, "x"), http.StatusConflict},
		{ledger.WrapError(ledger.KindCommitFailure, errors.New("io"), "x"), http.StatusServiceUnavailable},
		{fmt.Errorf("account: %w", storage.ErrNotFound), http.StatusNotFound},
		{operator.ErrStopped, http.StatusServiceUnavailable},
		{context.Canceled, http.StatusRequestTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Status(tc.err), tc.err.Error())
	}
}

func TestFrom_KeepsRejectionMessage(t *testing.T) {
	err := From(ledger.NewError(ledger.KindImbalancedEntries, "debits 100 ≠ credits 90"), "failed")
	assert.Equal(t, http.StatusUnprocessableEntity, err.GetStatus())
	assert.Contains(t, err.Error(), "debits 100 ≠ credits 90")
}

func TestFrom_UnclassifiedUsesFallbackMessage(t *testing.T) {
	err := From(errors.New("pq: connection refused"), "failed to create transaction")
	assert.Equal(t, http.StatusInternalServerError, err.GetStatus())
	assert.Contains(t, err.Error(), "failed to create transaction")
}
