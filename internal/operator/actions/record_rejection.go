package actions

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/carson-networks/ledger-server/internal/idempotency"
	"github.com/carson-networks/ledger-server/internal/storage"
)

// RecordRejection stores a deterministic rejection against an idempotency
// key so a retry of the same request gets the same answer.
type RecordRejection struct {
	Key         string
	RequestHash string
	Rejection   error
	Guard       *idempotency.Guard

	Record *idempotency.Record
	Prior  *idempotency.Record

	IAction
}

func (r *RecordRejection) Perform(ctx context.Context, writer storage.Writer) error {
	prior, err := r.Guard.Reserve(ctx, writer.Idempotency(), r.Key, r.RequestHash)
	if err != nil {
		return storeError(err, "reserving idempotency key")
	}
	if prior != nil {
		r.Prior = prior
		return nil
	}

	rec, err := r.Guard.Complete(ctx, writer.Idempotency(), r.Key, r.RequestHash, uuid.Nil, r.Rejection)
	if err != nil {
		return storeError(err, "recording rejection")
	}
	r.Record = rec
	return nil
}
