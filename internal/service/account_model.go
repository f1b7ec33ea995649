package service

import (
	"github.com/aarondl/opt/omit"

	"github.com/carson-networks/ledger-server/internal/ledger"
)

// AccountCursor identifies a position in a paginated result set.
type AccountCursor struct {
	Position int
	Limit    int
	Category omit.Val[ledger.Category]
}
