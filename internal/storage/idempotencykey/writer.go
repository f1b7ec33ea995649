package idempotencykey

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/stephenafamo/bob"
	"github.com/stephenafamo/bob/dialect/psql"
	"github.com/stephenafamo/bob/dialect/psql/im"
	"github.com/stephenafamo/bob/dialect/psql/um"
	"github.com/stephenafamo/scan"

	"github.com/carson-networks/ledger-server/internal/idempotency"
	"github.com/carson-networks/ledger-server/internal/storage"
)

var _ idempotency.Records = (*Writer)(nil)

type Writer struct {
	tx bob.Executor
	Reader
}

func NewWriter(tx bob.Executor) *Writer {
	return &Writer{
		tx: tx,
		Reader: Reader{
			exec: tx,
		},
	}
}

// Insert relies on the primary key: a concurrent unit holding the same key
// makes this statement wait until that unit commits or rolls back.
func (w *Writer) Insert(ctx context.Context, rec *idempotency.Record) (bool, error) {
	q := psql.Insert(
		im.Into(tableName, "key", "request_hash", "error_kind", "error_message", "created_at", "expires_at"),
		im.Values(psql.Arg(rec.Key, rec.RequestHash, "", "", rec.CreatedAt, rec.ExpiresAt)),
		im.OnConflict("key").DoNothing(),
		im.Returning("key"),
	)
	_, err := bob.One(ctx, w.tx, q, scan.SingleColumnMapper[string])
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (w *Writer) FindForUpdate(ctx context.Context, key string) (*idempotency.Record, error) {
	return w.find(ctx, key, true)
}

func (w *Writer) Replace(ctx context.Context, rec *idempotency.Record) error {
	q := psql.Update(
		um.Table(tableName),
		um.SetCol("request_hash").ToArg(rec.RequestHash),
		um.SetCol("transaction_id").To(psql.Raw("NULL")),
		um.SetCol("error_kind").ToArg(""),
		um.SetCol("error_message").ToArg(""),
		um.SetCol("created_at").ToArg(rec.CreatedAt),
		um.SetCol("expires_at").ToArg(rec.ExpiresAt),
		um.Where(psql.Quote("key").EQ(psql.Arg(rec.Key))),
		um.Returning("key"),
	)
	return w.update(ctx, rec.Key, q)
}

func (w *Writer) SetOutcome(ctx context.Context, rec *idempotency.Record) error {
	q := psql.Update(
		um.Table(tableName),
		um.SetCol("transaction_id").ToArg(rec.TransactionID),
		um.SetCol("error_kind").ToArg(rec.ErrorKind),
		um.SetCol("error_message").ToArg(rec.ErrorMessage),
		um.SetCol("expires_at").ToArg(rec.ExpiresAt),
		um.Where(psql.Quote("key").EQ(psql.Arg(rec.Key))),
		um.Where(psql.Quote("request_hash").EQ(psql.Arg(rec.RequestHash))),
		um.Returning("key"),
	)
	return w.update(ctx, rec.Key, q)
}

func (w *Writer) update(ctx context.Context, key string, q bob.Query) error {
	_, err := bob.One(ctx, w.tx, q, scan.SingleColumnMapper[string])
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("idempotency key %q: %w", key, storage.ErrNotFound)
	}
	return err
}
