package outboxevent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/lib/pq"
	"github.com/stephenafamo/bob"
	"github.com/stephenafamo/bob/dialect/psql"
	"github.com/stephenafamo/bob/dialect/psql/dialect"
	"github.com/stephenafamo/bob/dialect/psql/um"
	"github.com/stephenafamo/scan"

	"github.com/carson-networks/ledger-server/internal/outbox"
	"github.com/carson-networks/ledger-server/internal/storage"
)

var _ outbox.Repository = (*Repository)(nil)

// claimQuery leases deliverable rows in sequence order but never past the
// first row that is still waiting for a retry or held by another lease.
const claimQuery = `WITH head AS (
	SELECT min(sequence) AS sequence FROM outbox_events
	WHERE (status = 'PENDING' AND available_at > ?)
	   OR (status = 'PROCESSING' AND lease_until > ?)
), claimable AS (
	SELECT id FROM outbox_events
	WHERE ((status = 'PENDING' AND available_at <= ?)
	    OR (status = 'PROCESSING' AND lease_until <= ?))
	  AND sequence < COALESCE((SELECT sequence FROM head), 9223372036854775807)
	ORDER BY sequence
	LIMIT ?
	FOR UPDATE SKIP LOCKED
)
UPDATE outbox_events o
SET status = 'PROCESSING', lease_until = ?
FROM claimable
WHERE o.id = claimable.id
RETURNING o.id, o.sequence, o.event_type, o.transaction_id, o.payload, o.status,
	o.attempts, o.last_error, o.available_at, o.lease_until, o.created_at, o.published_at`

// Repository is the relay's access to outbox_events. Each method runs as its
// own statement outside any ledger transaction.
type Repository struct {
	exec bob.Executor
}

func NewRepository(exec bob.Executor) *Repository {
	return &Repository{exec: exec}
}

func (r *Repository) Claim(ctx context.Context, limit int, now, leaseUntil time.Time) ([]*outbox.Event, error) {
	q := psql.RawQuery(claimQuery, now, now, now, now, limit, leaseUntil)
	rows, err := bob.All(ctx, r.exec, q, scan.StructMapper[row]())
	if err != nil {
		return nil, err
	}

	events := make([]*outbox.Event, len(rows))
	for i := range rows {
		events[i] = rows[i].toEvent()
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Sequence < events[j].Sequence })
	return events, nil
}

func (r *Repository) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.update(ctx, id,
		um.SetCol("status").ToArg(string(outbox.StatusPublished)),
		um.SetCol("published_at").ToArg(at),
		um.SetCol("lease_until").To(psql.Raw("NULL")),
	)
}

func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string, availableAt time.Time) error {
	return r.update(ctx, id,
		um.SetCol("status").ToArg(string(outbox.StatusPending)),
		um.SetCol("attempts").To(psql.Raw("attempts + 1")),
		um.SetCol("last_error").ToArg(lastError),
		um.SetCol("available_at").ToArg(availableAt),
		um.SetCol("lease_until").To(psql.Raw("NULL")),
	)
}

func (r *Repository) MarkDeadLetter(ctx context.Context, id uuid.UUID, lastError string) error {
	return r.update(ctx, id,
		um.SetCol("status").ToArg(string(outbox.StatusDeadLetter)),
		um.SetCol("attempts").To(psql.Raw("attempts + 1")),
		um.SetCol("last_error").ToArg(lastError),
		um.SetCol("lease_until").To(psql.Raw("NULL")),
	)
}

func (r *Repository) Release(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}

	q := psql.Update(
		um.Table(tableName),
		um.SetCol("status").ToArg(string(outbox.StatusPending)),
		um.SetCol("lease_until").To(psql.Raw("NULL")),
		um.Where(psql.Raw("id = ANY(?::uuid[])", pq.Array(strs))),
		um.Where(psql.Quote("status").EQ(psql.Arg(string(outbox.StatusProcessing)))),
	)
	_, err := q.Exec(ctx, r.exec)
	return err
}

func (r *Repository) update(ctx context.Context, id uuid.UUID, sets ...bob.Mod[*dialect.UpdateQuery]) error {
	queryMods := append([]bob.Mod[*dialect.UpdateQuery]{um.Table(tableName)}, sets...)
	queryMods = append(queryMods,
		um.Where(psql.Quote("id").EQ(psql.Arg(id))),
		um.Returning("id"),
	)
	_, err := bob.One(ctx, r.exec, psql.Update(queryMods...), scan.SingleColumnMapper[uuid.UUID])
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("outbox event %s: %w", id, storage.ErrNotFound)
	}
	return err
}
