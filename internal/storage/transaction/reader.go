package transaction

import (
	"context"
	"database/sql"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/lib/pq"
	"github.com/stephenafamo/bob"
	"github.com/stephenafamo/bob/dialect/psql"
	"github.com/stephenafamo/bob/dialect/psql/dialect"
	"github.com/stephenafamo/bob/dialect/psql/sm"
	"github.com/stephenafamo/scan"

	"github.com/carson-networks/ledger-server/internal/ledger"
	"github.com/carson-networks/ledger-server/internal/storage"
)

var _ storage.TransactionReader = (*Reader)(nil)

type Reader struct {
	exec bob.Executor
}

func NewReader(exec bob.Executor) *Reader {
	return &Reader{exec: exec}
}

func (r *Reader) FindByID(ctx context.Context, id uuid.UUID) (*ledger.Transaction, error) {
	q := psql.Select(
		sm.Columns(transactionColumns...),
		sm.From(transactionsTable),
		sm.Where(psql.Quote("id").EQ(psql.Arg(id))),
	)
	found, err := bob.One(ctx, r.exec, q, scan.StructMapper[transactionRow]())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	entries, err := r.entries(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	return found.toTransaction(entries[id]), nil
}

// List returns transactions newest first with their entries.
func (r *Reader) List(ctx context.Context, filter *storage.TransactionFilter) ([]*ledger.Transaction, error) {
	if filter == nil {
		filter = &storage.TransactionFilter{}
	}
	limit := storage.PageLimit(filter.Limit)

	queryMods := []bob.Mod[*dialect.SelectQuery]{
		sm.Columns(transactionColumns...),
		sm.From(transactionsTable),
	}
	if accountID, ok := filter.AccountID.Get(); ok {
		queryMods = append(queryMods, sm.Where(psql.Raw("id IN (SELECT transaction_id FROM entries WHERE account_id = ?)", accountID)))
	}
	if filter.MaxCreationTime != nil {
		queryMods = append(queryMods, sm.Where(psql.Quote("created_at").LTE(psql.Arg(*filter.MaxCreationTime))))
	}
	queryMods = append(queryMods,
		sm.OrderBy(psql.Quote("created_at")).Desc(),
		sm.OrderBy(psql.Quote("id")).Desc(),
		sm.Limit(limit+1),
		sm.Offset(filter.Offset),
	)

	rows, err := bob.All(ctx, r.exec, psql.Select(queryMods...), scan.StructMapper[transactionRow]())
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(rows))
	for i := range rows {
		ids[i] = rows[i].ID
	}
	entries, err := r.entries(ctx, ids)
	if err != nil {
		return nil, err
	}

	result := make([]*ledger.Transaction, len(rows))
	for i := range rows {
		result[i] = rows[i].toTransaction(entries[rows[i].ID])
	}
	return result, nil
}

func (r *Reader) entries(ctx context.Context, transactionIDs []uuid.UUID) (map[uuid.UUID][]entryRow, error) {
	ids := make([]string, len(transactionIDs))
	for i, id := range transactionIDs {
		ids[i] = id.String()
	}

	q := psql.Select(
		sm.Columns(entryColumns...),
		sm.From(entriesTable),
		sm.Where(psql.Raw("transaction_id = ANY(?::uuid[])", pq.Array(ids))),
		sm.OrderBy(psql.Quote("transaction_id")).Asc(),
		sm.OrderBy(psql.Quote("position")).Asc(),
	)
	rows, err := bob.All(ctx, r.exec, q, scan.StructMapper[entryRow]())
	if err != nil {
		return nil, err
	}

	out := make(map[uuid.UUID][]entryRow, len(transactionIDs))
	for _, e := range rows {
		out[e.TransactionID] = append(out[e.TransactionID], e)
	}
	return out, nil
}
