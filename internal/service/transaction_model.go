package service

import (
	"time"

	"github.com/aarondl/opt/omit"
	"github.com/gofrs/uuid/v5"
)

// CreateResult is the outcome of a successful create request.
type CreateResult struct {
	TransactionID uuid.UUID
	// Replayed is true when the result was returned from an earlier request
	// with the same idempotency key.
	Replayed bool
}

// TransactionCursor identifies a position in a paginated result set
// and carries the limit and maxCreationTime so subsequent pages are consistent.
type TransactionCursor struct {
	Position        int
	Limit           int
	MaxCreationTime time.Time
	AccountID       omit.Val[uuid.UUID]
}
