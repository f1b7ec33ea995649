package outboxevent

import (
	"database/sql"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/carson-networks/ledger-server/internal/outbox"
)

const tableName = "outbox_events"

var columns = []any{
	"id", "sequence", "event_type", "transaction_id", "payload", "status",
	"attempts", "last_error", "available_at", "lease_until", "created_at", "published_at",
}

type row struct {
	ID            uuid.UUID    `db:"id"`
	Sequence      int64        `db:"sequence"`
	EventType     string       `db:"event_type"`
	TransactionID uuid.UUID    `db:"transaction_id"`
	Payload       []byte       `db:"payload"`
	Status        string       `db:"status"`
	Attempts      int          `db:"attempts"`
	LastError     string       `db:"last_error"`
	AvailableAt   time.Time    `db:"available_at"`
	LeaseUntil    sql.NullTime `db:"lease_until"`
	CreatedAt     time.Time    `db:"created_at"`
	PublishedAt   sql.NullTime `db:"published_at"`
}

func (r *row) toEvent() *outbox.Event {
	e := &outbox.Event{
		ID:            r.ID,
		Sequence:      r.Sequence,
		EventType:     r.EventType,
		TransactionID: r.TransactionID,
		Payload:       r.Payload,
		Status:        outbox.Status(r.Status),
		Attempts:      r.Attempts,
		LastError:     r.LastError,
		AvailableAt:   r.AvailableAt,
		CreatedAt:     r.CreatedAt,
	}
	if r.LeaseUntil.Valid {
		e.LeaseUntil = &r.LeaseUntil.Time
	}
	if r.PublishedAt.Valid {
		e.PublishedAt = &r.PublishedAt.Time
	}
	return e
}
