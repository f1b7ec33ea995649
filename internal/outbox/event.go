package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/carson-networks/ledger-server/internal/ledger"
)

// EventTypeTransactionCreated is emitted once per committed transaction.
const EventTypeTransactionCreated = "ledger.transaction.created"

// Status is an outbox row's delivery state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusPublished  Status = "PUBLISHED"
	StatusDeadLetter Status = "DEAD_LETTER"
)

// Event is a durable fact waiting to be delivered to external consumers.
type Event struct {
	ID            uuid.UUID
	Sequence      int64
	EventType     string
	TransactionID uuid.UUID
	Payload       []byte
	Status        Status
	Attempts      int
	LastError     string
	AvailableAt   time.Time
	LeaseUntil    *time.Time
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

// TransactionCreated is the payload consumers receive.
type TransactionCreated struct {
	EventID       string    `json:"event_id"`
	TransactionID string    `json:"transaction_id"`
	FileRefs      []string  `json:"file_refs"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewTransactionCreated builds the pending event for a committed transaction.
func NewTransactionCreated(tx *ledger.Transaction) (*Event, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	fileRefs := tx.FileRefs
	if fileRefs == nil {
		fileRefs = []string{}
	}
	payload, err := json.Marshal(TransactionCreated{
		EventID:       id.String(),
		TransactionID: tx.ID.String(),
		FileRefs:      fileRefs,
		CreatedAt:     tx.CreatedAt.UTC(),
	})
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            id,
		EventType:     EventTypeTransactionCreated,
		TransactionID: tx.ID,
		Payload:       payload,
		Status:        StatusPending,
		AvailableAt:   tx.CreatedAt,
		CreatedAt:     tx.CreatedAt,
	}, nil
}

// Writer appends events inside the ledger's unit of work.
type Writer interface {
	Append(ctx context.Context, event *Event) error
}

// Repository is the relay's view of the outbox.
type Repository interface {
	// Claim leases up to limit deliverable rows in creation order. A row is
	// deliverable when it is PENDING and available, or PROCESSING with an
	// expired lease.
	Claim(ctx context.Context, limit int, now, leaseUntil time.Time) ([]*Event, error)
	MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error
	// MarkFailed records a failed attempt and schedules the next one.
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string, availableAt time.Time) error
	MarkDeadLetter(ctx context.Context, id uuid.UUID, lastError string) error
	// Release returns claimed rows to PENDING without counting an attempt.
	Release(ctx context.Context, ids []uuid.UUID) error
}

// Publisher hands an event to the external boundary. A nil error means the
// consumer side acknowledged receipt.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
}
