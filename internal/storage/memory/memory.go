// Package memory is an in-process Storage used for local runs and tests.
// Units of work stage their changes and apply them under one mutex on commit,
// so readers never observe a partial transaction.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"

	"github.com/carson-networks/ledger-server/internal/idempotency"
	"github.com/carson-networks/ledger-server/internal/ledger"
	"github.com/carson-networks/ledger-server/internal/lock"
	"github.com/carson-networks/ledger-server/internal/outbox"
	"github.com/carson-networks/ledger-server/internal/storage"
)

var _ storage.Storage = (*Store)(nil)

type Store struct {
	mu           sync.RWMutex
	accounts     map[uuid.UUID]*ledger.Account
	transactions map[uuid.UUID]*ledger.Transaction
	keys         map[string]*idempotency.Record
	events       []*outbox.Event
	sequence     int64

	accountLocks *lock.KeyedMutex[uuid.UUID]
	keyLocks     *lock.KeyedMutex[string]

	hookMu       sync.Mutex
	beforeCommit func() error
}

func New() *Store {
	return &Store{
		accounts:     make(map[uuid.UUID]*ledger.Account),
		transactions: make(map[uuid.UUID]*ledger.Transaction),
		keys:         make(map[string]*idempotency.Record),
		accountLocks: lock.NewKeyedMutex[uuid.UUID](),
		keyLocks:     lock.NewKeyedMutex[string](),
	}
}

// SetBeforeCommit installs fn to run at the start of every Commit. A non-nil
// error aborts that commit and rolls the unit back.
func (s *Store) SetBeforeCommit(fn func() error) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.beforeCommit = fn
}

func (s *Store) commitHook() func() error {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	return s.beforeCommit
}

// HeldAccountLocks reports how many accounts are held or awaited.
func (s *Store) HeldAccountLocks() int {
	return s.accountLocks.Held()
}

func (s *Store) Reader() storage.Reader {
	return reader{store: s}
}

func (s *Store) Write(_ context.Context) (storage.Writer, error) {
	return newWriter(s), nil
}

func (s *Store) Outbox() outbox.Repository {
	return outboxRepository{store: s}
}

func (s *Store) Ping(context.Context) error {
	return nil
}

func (s *Store) Close() error {
	return nil
}

func copyAccount(a *ledger.Account) *ledger.Account {
	c := *a
	return &c
}

func copyTransaction(t *ledger.Transaction) *ledger.Transaction {
	c := *t
	c.FileRefs = slices.Clone(t.FileRefs)
	c.Entries = slices.Clone(t.Entries)
	return &c
}

func copyRecord(r *idempotency.Record) *idempotency.Record {
	c := *r
	return &c
}

func copyEvent(e *outbox.Event) *outbox.Event {
	c := *e
	c.Payload = slices.Clone(e.Payload)
	return &c
}

type reader struct {
	store *Store
}

func (r reader) Accounts() storage.AccountReader {
	return accountReader(r)
}

func (r reader) Transactions() storage.TransactionReader {
	return transactionReader(r)
}

func (r reader) Idempotency() idempotency.Finder {
	return keyFinder(r)
}

type accountReader struct {
	store *Store
}

func (r accountReader) FindByID(_ context.Context, id uuid.UUID) (*ledger.Account, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	a, ok := r.store.accounts[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyAccount(a), nil
}

func (r accountReader) List(_ context.Context, filter *storage.AccountFilter) ([]*ledger.Account, error) {
	if filter == nil {
		filter = &storage.AccountFilter{}
	}
	limit := storage.PageLimit(filter.Limit)

	r.store.mu.RLock()
	all := make([]*ledger.Account, 0, len(r.store.accounts))
	for _, a := range r.store.accounts {
		if category, ok := filter.Category.Get(); ok && a.Category != category {
			continue
		}
		all = append(all, copyAccount(a))
	}
	r.store.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].Name != all[j].Name {
			return all[i].Name < all[j].Name
		}
		return all[i].ID.String() < all[j].ID.String()
	})
	return page(all, filter.Offset, limit), nil
}

func (r accountReader) Categories(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]ledger.Category, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := make(map[uuid.UUID]ledger.Category, len(ids))
	for _, id := range ids {
		if a, ok := r.store.accounts[id]; ok {
			out[id] = a.Category
		}
	}
	return out, nil
}

func (r accountReader) Totals(_ context.Context) ([]storage.AccountTotals, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	totals := make(map[uuid.UUID]*storage.AccountTotals, len(r.store.accounts))
	for id, a := range r.store.accounts {
		totals[id] = &storage.AccountTotals{AccountID: id, Category: a.Category, Balance: a.Balance}
	}
	for _, tx := range r.store.transactions {
		for _, e := range tx.Entries {
			t, ok := totals[e.AccountID]
			if !ok {
				continue
			}
			if e.Direction == ledger.DirectionDebit {
				t.Debits = t.Debits.Add(e.Amount)
			} else {
				t.Credits = t.Credits.Add(e.Amount)
			}
		}
	}

	out := make([]storage.AccountTotals, 0, len(totals))
	for _, t := range totals {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID.String() < out[j].AccountID.String() })
	return out, nil
}

type transactionReader struct {
	store *Store
}

func (r transactionReader) FindByID(_ context.Context, id uuid.UUID) (*ledger.Transaction, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	tx, ok := r.store.transactions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyTransaction(tx), nil
}

func (r transactionReader) List(_ context.Context, filter *storage.TransactionFilter) ([]*ledger.Transaction, error) {
	if filter == nil {
		filter = &storage.TransactionFilter{}
	}
	limit := storage.PageLimit(filter.Limit)
	accountID, byAccount := filter.AccountID.Get()

	r.store.mu.RLock()
	var all []*ledger.Transaction
	for _, tx := range r.store.transactions {
		if filter.MaxCreationTime != nil && tx.CreatedAt.After(*filter.MaxCreationTime) {
			continue
		}
		if byAccount && !slices.ContainsFunc(tx.Entries, func(e ledger.Entry) bool { return e.AccountID == accountID }) {
			continue
		}
		all = append(all, copyTransaction(tx))
	}
	r.store.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID.String() > all[j].ID.String()
	})
	return page(all, filter.Offset, limit), nil
}

type keyFinder struct {
	store *Store
}

func (f keyFinder) Find(_ context.Context, key string) (*idempotency.Record, error) {
	f.store.mu.RLock()
	defer f.store.mu.RUnlock()

	rec, ok := f.store.keys[key]
	if !ok {
		return nil, nil
	}
	return copyRecord(rec), nil
}

// page returns up to limit+1 items starting at offset.
func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if len(items) > limit+1 {
		items = items[:limit+1]
	}
	return items
}

type stagedDelta struct {
	delta decimal.Decimal
	at    time.Time
}
