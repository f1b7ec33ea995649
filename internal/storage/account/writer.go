package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"
	"github.com/stephenafamo/bob"
	"github.com/stephenafamo/bob/dialect/psql"
	"github.com/stephenafamo/bob/dialect/psql/im"
	"github.com/stephenafamo/bob/dialect/psql/sm"
	"github.com/stephenafamo/bob/dialect/psql/um"
	"github.com/stephenafamo/scan"

	"github.com/carson-networks/ledger-server/internal/ledger"
	"github.com/carson-networks/ledger-server/internal/storage"
)

var _ storage.AccountWriter = (*Writer)(nil)

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

func (w *Writer) Insert(ctx context.Context, create *storage.AccountCreate) (*ledger.Account, error) {
	id := create.ID
	if id == uuid.Nil {
		var err error
		if id, err = uuid.NewV7(); err != nil {
			return nil, err
		}
	}
	created := create.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	q := psql.Insert(
		im.Into(tableName, "id", "name", "category", "balance", "created_at", "updated_at"),
		im.Values(psql.Arg(id, create.Name, string(create.Category), decimal.Zero, created, created)),
		im.Returning(columns...),
	)
	inserted, err := bob.One(ctx, w.tx, q, scan.StructMapper[row]())
	if err != nil {
		return nil, err
	}
	return inserted.toAccount(), nil
}

// ApplyDelta adds delta to the stored balance in a single statement so the
// new value never depends on a balance read earlier in the unit.
func (w *Writer) ApplyDelta(ctx context.Context, id uuid.UUID, delta decimal.Decimal, at time.Time) error {
	q := psql.Update(
		um.Table(tableName),
		um.SetCol("balance").To(psql.Raw("balance + ?", delta)),
		um.SetCol("updated_at").ToArg(at),
		um.Where(psql.Quote("id").EQ(psql.Arg(id))),
		um.Returning("id"),
	)
	_, err := bob.One(ctx, w.tx, q, scan.SingleColumnMapper[uuid.UUID])
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
	}
	return err
}

// Lock takes the row lock on an account until the surrounding transaction ends.
func (w *Writer) Lock(ctx context.Context, id uuid.UUID) error {
	q := psql.Select(
		sm.Columns("id"),
		sm.From(tableName),
		sm.Where(psql.Quote("id").EQ(psql.Arg(id))),
		sm.ForUpdate(),
	)
	_, err := bob.One(ctx, w.tx, q, scan.SingleColumnMapper[uuid.UUID])
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.NewError(ledger.KindAccountNotFound, "account %s does not exist", id)
	}
	return err
}
