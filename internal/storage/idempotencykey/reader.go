package idempotencykey

import (
	"context"
	"database/sql"
	"errors"

	"github.com/stephenafamo/bob"
	"github.com/stephenafamo/bob/dialect/psql"
	"github.com/stephenafamo/bob/dialect/psql/dialect"
	"github.com/stephenafamo/bob/dialect/psql/sm"
	"github.com/stephenafamo/scan"

	"github.com/carson-networks/ledger-server/internal/idempotency"
)

var _ idempotency.Finder = (*Reader)(nil)

type Reader struct {
	exec bob.Executor
}

func NewReader(exec bob.Executor) *Reader {
	return &Reader{exec: exec}
}

// Find returns nil, nil when the key has never been used.
func (r *Reader) Find(ctx context.Context, key string) (*idempotency.Record, error) {
	return r.find(ctx, key, false)
}

func (r *Reader) find(ctx context.Context, key string, forUpdate bool) (*idempotency.Record, error) {
	queryMods := []bob.Mod[*dialect.SelectQuery]{
		sm.Columns(columns...),
		sm.From(tableName),
		sm.Where(psql.Quote("key").EQ(psql.Arg(key))),
	}
	if forUpdate {
		queryMods = append(queryMods, sm.ForUpdate())
	}

	found, err := bob.One(ctx, r.exec, psql.Select(queryMods...), scan.StructMapper[row]())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return found.toRecord(), nil
}
