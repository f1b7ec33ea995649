package account

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

var _ storage.AccountReader = (*Reader)(nil)

type Reader struct {
	exec bob.Executor
}

func NewReader(exec bob.Executor) *Reader {
	return &Reader{exec: exec}
}

func (r *Reader) FindByID(ctx context.Context, id uuid.UUID) (*ledger.Account, error) {
	q := psql.Select(
		sm.Columns(columns...),
		sm.From(tableName),
		sm.Where(psql.Quote("id").EQ(psql.Arg(id))),
	)
	found, err := bob.One(ctx, r.exec, q, scan.StructMapper[row]())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return found.toAccount(), nil
}

func (r *Reader) List(ctx context.Context, filter *storage.AccountFilter) ([]*ledger.Account, error) {
	if filter == nil {
		filter = &storage.AccountFilter{}
	}
	limit := storage.PageLimit(filter.Limit)

	queryMods := []bob.Mod[*dialect.SelectQuery]{
		sm.Columns(columns...),
		sm.From(tableName),
	}
	if category, ok := filter.Category.Get(); ok {
		queryMods = append(queryMods, sm.Where(psql.Quote("category").EQ(psql.Arg(string(category)))))
	}
	queryMods = append(queryMods,
		sm.OrderBy(psql.Quote("name")).Asc(),
		sm.OrderBy(psql.Quote("id")).Asc(),
		sm.Limit(limit+1),
		sm.Offset(filter.Offset),
	)

	rows, err := bob.All(ctx, r.exec, psql.Select(queryMods...), scan.StructMapper[row]())
	if err != nil {
		return nil, err
	}
	result := make([]*ledger.Account, len(rows))
	for i := range rows {
		result[i] = rows[i].toAccount()
	}
	return result, nil
}

func (r *Reader) Categories(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]ledger.Category, error) {
	out := make(map[uuid.UUID]ledger.Category, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	q := psql.Select(
		sm.Columns("id", "category"),
		sm.From(tableName),
		sm.Where(psql.Raw("id = ANY(?::uuid[])", pq.Array(idStrings(ids)))),
	)
	rows, err := bob.All(ctx, r.exec, q, scan.StructMapper[categoryRow]())
	if err != nil {
		return nil, err
	}
	for _, found := range rows {
		out[found.ID] = ledger.Category(found.Category)
	}
	return out, nil
}

func (r *Reader) Totals(ctx context.Context) ([]storage.AccountTotals, error) {
	q := psql.RawQuery(`SELECT a.id AS account_id, a.category, a.balance,
	COALESCE(SUM(e.amount) FILTER (WHERE e.direction = 'DEBIT'), 0) AS debits,
	COALESCE(SUM(e.amount) FILTER (WHERE e.direction = 'CREDIT'), 0) AS credits
FROM accounts a
LEFT JOIN entries e ON e.account_id = a.id
GROUP BY a.id
ORDER BY a.id`)

	rows, err := bob.All(ctx, r.exec, q, scan.StructMapper[totalsRow]())
	if err != nil {
		return nil, err
	}
	out := make([]storage.AccountTotals, len(rows))
	for i, t := range rows {
		out[i] = storage.AccountTotals{
			AccountID: t.AccountID,
			Category:  ledger.Category(t.Category),
			Balance:   t.Balance,
			Debits:    t.Debits,
			Credits:   t.Credits,
		}
	}
	return out, nil
}
