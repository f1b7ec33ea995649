package outboxevent

import (
	"context"

	"github.com/stephenafamo/bob"
	"github.com/stephenafamo/bob/dialect/psql"
	"github.com/stephenafamo/bob/dialect/psql/im"

	"github.com/carson-networks/ledger-server/internal/outbox"
)

var _ outbox.Writer = (*Writer)(nil)

// Writer appends events inside the ledger transaction. The sequence column
// is assigned by the database.
type Writer struct {
	tx bob.Executor
}

func NewWriter(tx bob.Executor) *Writer {
	return &Writer{tx: tx}
}

func (w *Writer) Append(ctx context.Context, event *outbox.Event) error {
	q := psql.Insert(
		im.Into(tableName, "id", "event_type", "transaction_id", "payload", "status", "available_at", "created_at"),
		im.Values(psql.Arg(
			event.ID,
			event.EventType,
			event.TransactionID,
			string(event.Payload),
			string(outbox.StatusPending),
			event.AvailableAt,
			event.CreatedAt,
		)),
	)
	_, err := q.Exec(ctx, w.tx)
	return err
}
