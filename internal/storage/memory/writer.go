package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"

	"github.com/carson-networks/ledger-server/internal/idempotency"
	"github.com/carson-networks/ledger-server/internal/ledger"
	"github.com/carson-networks/ledger-server/internal/lock"
	"github.com/carson-networks/ledger-server/internal/outbox"
	"github.com/carson-networks/ledger-server/internal/storage"
)

var errFinished = errors.New("memory: unit of work already finished")

type writer struct {
	store *Store

	accounts     map[uuid.UUID]*ledger.Account
	deltas       map[uuid.UUID]stagedDelta
	transactions []*ledger.Transaction
	keys         map[string]*idempotency.Record
	events       []*outbox.Event

	heldKeys map[string]bool
	hooks    storage.FinishHooks
	finished bool
}

func newWriter(s *Store) *writer {
	return &writer{
		store:    s,
		accounts: make(map[uuid.UUID]*ledger.Account),
		deltas:   make(map[uuid.UUID]stagedDelta),
		keys:     make(map[string]*idempotency.Record),
		heldKeys: make(map[string]bool),
	}
}

func (w *writer) Accounts() storage.AccountWriter {
	return accountWriter{w: w}
}

func (w *writer) Transactions() storage.TransactionWriter {
	return transactionWriter{w: w}
}

func (w *writer) Idempotency() idempotency.Records {
	return keyRecords{w: w}
}

func (w *writer) Outbox() outbox.Writer {
	return outboxWriter{w: w}
}

func (w *writer) Locker() lock.Acquirer {
	return lock.AcquirerFunc(func(ctx context.Context, accountID uuid.UUID) (func(), error) {
		return w.store.accountLocks.Lock(ctx, accountID)
	})
}

func (w *writer) AfterFinish(fn func()) {
	w.hooks.Add(fn)
}

func (w *writer) Commit(_ context.Context) error {
	if w.finished {
		return errFinished
	}
	if hook := w.store.commitHook(); hook != nil {
		if err := hook(); err != nil {
			w.finish()
			return err
		}
	}

	s := w.store
	s.mu.Lock()
	for id := range w.deltas {
		if _, ok := s.accounts[id]; !ok && w.accounts[id] == nil {
			s.mu.Unlock()
			w.finish()
			return fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
		}
	}
	for id, a := range w.accounts {
		s.accounts[id] = copyAccount(a)
	}
	for id, staged := range w.deltas {
		a := s.accounts[id]
		a.Balance = a.Balance.Add(staged.delta)
		a.UpdatedAt = staged.at
	}
	for _, tx := range w.transactions {
		s.transactions[tx.ID] = tx
	}
	for key, rec := range w.keys {
		s.keys[key] = rec
	}
	for _, e := range w.events {
		s.sequence++
		e.Sequence = s.sequence
		s.events = append(s.events, e)
	}
	s.mu.Unlock()

	w.finish()
	return nil
}

func (w *writer) Rollback(_ context.Context) error {
	if w.finished {
		return nil
	}
	w.finish()
	return nil
}

func (w *writer) finish() {
	w.finished = true
	w.accounts = nil
	w.deltas = nil
	w.transactions = nil
	w.keys = nil
	w.events = nil
	w.hooks.Run()
}

type accountWriter struct {
	w *writer
}

func (a accountWriter) Categories(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]ledger.Category, error) {
	out, err := accountReader{store: a.w.store}.Categories(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if staged, ok := a.w.accounts[id]; ok {
			out[id] = staged.Category
		}
	}
	return out, nil
}

func (a accountWriter) Insert(_ context.Context, create *storage.AccountCreate) (*ledger.Account, error) {
	if a.w.finished {
		return nil, errFinished
	}
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
	account := &ledger.Account{
		ID:        id,
		Name:      create.Name,
		Category:  create.Category,
		Balance:   decimal.Zero,
		CreatedAt: created,
		UpdatedAt: created,
	}
	a.w.accounts[id] = account
	return copyAccount(account), nil
}

func (a accountWriter) ApplyDelta(_ context.Context, id uuid.UUID, delta decimal.Decimal, at time.Time) error {
	if a.w.finished {
		return errFinished
	}
	a.w.store.mu.RLock()
	_, committed := a.w.store.accounts[id]
	a.w.store.mu.RUnlock()
	if !committed && a.w.accounts[id] == nil {
		return fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
	}

	staged := a.w.deltas[id]
	staged.delta = staged.delta.Add(delta)
	staged.at = at
	a.w.deltas[id] = staged
	return nil
}

type transactionWriter struct {
	w *writer
}

func (t transactionWriter) Insert(_ context.Context, tx *ledger.Transaction) error {
	if t.w.finished {
		return errFinished
	}
	t.w.transactions = append(t.w.transactions, copyTransaction(tx))
	return nil
}

type keyRecords struct {
	w *writer
}

// hold takes the key's lock for the rest of the unit of work.
func (k keyRecords) hold(ctx context.Context, key string) error {
	if k.w.finished {
		return errFinished
	}
	if k.w.heldKeys[key] {
		return nil
	}
	release, err := k.w.store.keyLocks.Lock(ctx, key)
	if err != nil {
		return err
	}
	k.w.heldKeys[key] = true
	k.w.AfterFinish(release)
	return nil
}

func (k keyRecords) current(key string) *idempotency.Record {
	if rec, ok := k.w.keys[key]; ok {
		return rec
	}
	k.w.store.mu.RLock()
	defer k.w.store.mu.RUnlock()
	return k.w.store.keys[key]
}

func (k keyRecords) Insert(ctx context.Context, rec *idempotency.Record) (bool, error) {
	if err := k.hold(ctx, rec.Key); err != nil {
		return false, err
	}
	if k.current(rec.Key) != nil {
		return false, nil
	}
	k.w.keys[rec.Key] = copyRecord(rec)
	return true, nil
}

func (k keyRecords) FindForUpdate(ctx context.Context, key string) (*idempotency.Record, error) {
	if err := k.hold(ctx, key); err != nil {
		return nil, err
	}
	rec := k.current(key)
	if rec == nil {
		return nil, nil
	}
	return copyRecord(rec), nil
}

func (k keyRecords) Replace(ctx context.Context, rec *idempotency.Record) error {
	if err := k.hold(ctx, rec.Key); err != nil {
		return err
	}
	k.w.keys[rec.Key] = copyRecord(rec)
	return nil
}

func (k keyRecords) SetOutcome(ctx context.Context, rec *idempotency.Record) error {
	if err := k.hold(ctx, rec.Key); err != nil {
		return err
	}
	if k.current(rec.Key) == nil {
		return fmt.Errorf("idempotency key %q: %w", rec.Key, storage.ErrNotFound)
	}
	k.w.keys[rec.Key] = copyRecord(rec)
	return nil
}

type outboxWriter struct {
	w *writer
}

func (o outboxWriter) Append(_ context.Context, event *outbox.Event) error {
	if o.w.finished {
		return errFinished
	}
	o.w.events = append(o.w.events, copyEvent(event))
	return nil
}
