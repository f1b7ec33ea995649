package actions

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/carson-networks/ledger-server/internal/idempotency"
	"github.com/carson-networks/ledger-server/internal/ledger"
	"github.com/carson-networks/ledger-server/internal/lock"
	"github.com/carson-networks/ledger-server/internal/outbox"
	"github.com/carson-networks/ledger-server/internal/storage"
	"github.com/carson-networks/ledger-server/internal/telemetry"
)

// PostTransaction records a validated transaction: it reserves the
// idempotency key, locks every touched account, writes the entries, moves
// the balances, queues the outbox event and stores the key's outcome. All of
// it commits or none of it does.
type PostTransaction struct {
	Request     ledger.TransactionRequest
	RequestHash string
	Guard       *idempotency.Guard
	Coordinator *lock.Coordinator
	// Locker overrides the unit's own account locks when set.
	Locker      lock.Acquirer
	Metrics     *telemetry.Metrics
	Now         func() time.Time

	// Transaction is set when this unit created a new transaction.
	Transaction *ledger.Transaction
	// Record is the completed idempotency record written by this unit.
	Record *idempotency.Record
	// Prior is set instead when the key already holds an outcome to replay.
	Prior *idempotency.Record

	IAction
}

func (p *PostTransaction) Perform(ctx context.Context, writer storage.Writer) error {
	key := p.Request.IdempotencyKey
	if key != "" {
		prior, err := p.Guard.Reserve(ctx, writer.Idempotency(), key, p.RequestHash)
		if err != nil {
			return storeError(err, "reserving idempotency key")
		}
		if prior != nil {
			p.Prior = prior
			return nil
		}
	}

	ids := ledger.AccountIDs(p.Request.Entries)
	categories, err := writer.Accounts().Categories(ctx, ids)
	if err != nil {
		return storeError(err, "reading account categories")
	}
	deltas, err := ledger.Project(categories, p.Request.Entries)
	if err != nil {
		return err
	}

	locker := p.Locker
	if locker == nil {
		locker = writer.Locker()
	}
	start := time.Now()
	release, err := p.Coordinator.Acquire(ctx, locker, ids)
	p.Metrics.LockWait.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return err
	}
	writer.AfterFinish(release)

	// With every account held the outcome no longer depends on the caller.
	ctx = context.WithoutCancel(ctx)

	tx, err := p.build()
	if err != nil {
		return storeError(err, "building transaction")
	}
	if err := writer.Transactions().Insert(ctx, tx); err != nil {
		return storeError(err, "inserting transaction")
	}
	for _, id := range ids {
		if err := writer.Accounts().ApplyDelta(ctx, id, deltas[id], tx.CreatedAt); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ledger.NewError(ledger.KindAccountNotFound, "account %s does not exist", id)
			}
			return storeError(err, "updating balance of "+id.String())
		}
	}

	event, err := outbox.NewTransactionCreated(tx)
	if err != nil {
		return storeError(err, "building outbox event")
	}
	if err := writer.Outbox().Append(ctx, event); err != nil {
		return storeError(err, "appending outbox event")
	}

	if key != "" {
		rec, err := p.Guard.Complete(ctx, writer.Idempotency(), key, p.RequestHash, tx.ID, nil)
		if err != nil {
			return storeError(err, "recording idempotency outcome")
		}
		p.Record = rec
	}

	p.Transaction = tx
	return nil
}

func (p *PostTransaction) build() (*ledger.Transaction, error) {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	createdAt := now().UTC()

	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	tx := &ledger.Transaction{
		ID:          id,
		Description: p.Request.Description,
		FileRefs:    p.Request.FileRefs,
		CallerID:    p.Request.CallerID,
		CreatedAt:   createdAt,
		Entries:     make([]ledger.Entry, len(p.Request.Entries)),
	}
	for i, e := range p.Request.Entries {
		entryID, err := uuid.NewV7()
		if err != nil {
			return nil, err
		}
		tx.Entries[i] = ledger.Entry{
			ID:            entryID,
			TransactionID: id,
			AccountID:     e.AccountID,
			Amount:        e.Amount,
			Direction:     e.Direction,
			CreatedAt:     createdAt,
		}
	}
	return tx, nil
}
