package idempotencykey

import (
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/carson-networks/ledger-server/internal/idempotency"
)

const tableName = "idempotency_keys"

var columns = []any{"key", "request_hash", "transaction_id", "error_kind", "error_message", "created_at", "expires_at"}

type row struct {
	Key           string        `db:"key"`
	RequestHash   string        `db:"request_hash"`
	TransactionID uuid.NullUUID `db:"transaction_id"`
	ErrorKind     string        `db:"error_kind"`
	ErrorMessage  string        `db:"error_message"`
	CreatedAt     time.Time     `db:"created_at"`
	ExpiresAt     time.Time     `db:"expires_at"`
}

func (r *row) toRecord() *idempotency.Record {
	return &idempotency.Record{
		Key:           r.Key,
		RequestHash:   r.RequestHash,
		TransactionID: r.TransactionID,
		ErrorKind:     r.ErrorKind,
		ErrorMessage:  r.ErrorMessage,
		CreatedAt:     r.CreatedAt,
		ExpiresAt:     r.ExpiresAt,
	}
}
