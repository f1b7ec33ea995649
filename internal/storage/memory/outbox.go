package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/carson-networks/ledger-server/internal/outbox"
	"github.com/carson-networks/ledger-server/internal/storage"
)

type outboxRepository struct {
	store *Store
}

// Claim stops at the first row that is neither deliverable nor finished, so
// an event waiting for its retry time holds back everything after it.
func (r outboxRepository) Claim(_ context.Context, limit int, now, leaseUntil time.Time) ([]*outbox.Event, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var claimed []*outbox.Event
	for _, e := range r.store.events {
		if len(claimed) == limit {
			break
		}
		switch {
		case e.Status == outbox.StatusPublished || e.Status == outbox.StatusDeadLetter:
			continue
		case e.Status == outbox.StatusPending && !e.AvailableAt.After(now):
		case e.Status == outbox.StatusProcessing && e.LeaseUntil != nil && !e.LeaseUntil.After(now):
		default:
			return claimed, nil
		}
		lease := leaseUntil
		e.Status = outbox.StatusProcessing
		e.LeaseUntil = &lease
		claimed = append(claimed, copyEvent(e))
	}
	return claimed, nil
}

func (r outboxRepository) update(id uuid.UUID, fn func(e *outbox.Event)) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, e := range r.store.events {
		if e.ID == id {
			fn(e)
			return nil
		}
	}
	return fmt.Errorf("outbox event %s: %w", id, storage.ErrNotFound)
}

func (r outboxRepository) MarkPublished(_ context.Context, id uuid.UUID, at time.Time) error {
	return r.update(id, func(e *outbox.Event) {
		e.Status = outbox.StatusPublished
		e.PublishedAt = &at
		e.LeaseUntil = nil
	})
}

func (r outboxRepository) MarkFailed(_ context.Context, id uuid.UUID, lastError string, availableAt time.Time) error {
	return r.update(id, func(e *outbox.Event) {
		e.Status = outbox.StatusPending
		e.Attempts++
		e.LastError = lastError
		e.AvailableAt = availableAt
		e.LeaseUntil = nil
	})
}

func (r outboxRepository) MarkDeadLetter(_ context.Context, id uuid.UUID, lastError string) error {
	return r.update(id, func(e *outbox.Event) {
		e.Status = outbox.StatusDeadLetter
		e.Attempts++
		e.LastError = lastError
		e.LeaseUntil = nil
	})
}

func (r outboxRepository) Release(_ context.Context, ids []uuid.UUID) error {
	for _, id := range ids {
		err := r.update(id, func(e *outbox.Event) {
			if e.Status == outbox.StatusProcessing {
				e.Status = outbox.StatusPending
				e.LeaseUntil = nil
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Events returns a copy of every outbox row in sequence order.
func (s *Store) Events() []*outbox.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*outbox.Event, len(s.events))
	for i, e := range s.events {
		out[i] = copyEvent(e)
	}
	return out
}
