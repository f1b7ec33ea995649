// Package postgres is the Storage backed by PostgreSQL through bob.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	_ "github.com/lib/pq"
	"github.com/stephenafamo/bob"
	"github.com/stephenafamo/bob/dialect/psql"

	"github.com/carson-networks/ledger-server/internal/idempotency"
	"github.com/carson-networks/ledger-server/internal/lock"
	"github.com/carson-networks/ledger-server/internal/outbox"
	"github.com/carson-networks/ledger-server/internal/storage"
	"github.com/carson-networks/ledger-server/internal/storage/account"
	"github.com/carson-networks/ledger-server/internal/storage/idempotencykey"
	"github.com/carson-networks/ledger-server/internal/storage/outboxevent"
	"github.com/carson-networks/ledger-server/internal/storage/transaction"
)

var _ storage.Storage = (*Storage)(nil)

// Options tunes the connection pool and row locking.
type Options struct {
	// LockTimeout is applied to every unit of work with SET LOCAL lock_timeout.
	LockTimeout     time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type Storage struct {
	db   bob.DB
	raw  *sql.DB
	opts Options
}

// DSN builds a lib/pq connection string.
func DSN(address, port, database, username, password string) string {
	return "postgres://" + username + ":" + password + "@" + address + ":" + port + "/" + database + "?sslmode=disable"
}

func Open(dsn string, opts Options) (*Storage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	return New(db, opts), nil
}

func New(db *sql.DB, opts Options) *Storage {
	return &Storage{
		db:   bob.NewDB(db),
		raw:  db,
		opts: opts,
	}
}

func (s *Storage) Reader() storage.Reader {
	return reader{exec: s.db}
}

func (s *Storage) Write(ctx context.Context) (storage.Writer, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	if s.opts.LockTimeout > 0 {
		// SET does not accept bind parameters.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = %d", s.opts.LockTimeout.Milliseconds())
		if _, err := psql.RawQuery(stmt).Exec(ctx, tx); err != nil {
			_ = tx.Rollback(ctx)
			return nil, err
		}
	}

	return &writer{
		tx:           tx,
		accounts:     account.NewWriter(tx),
		transactions: transaction.NewWriter(tx),
		keys:         idempotencykey.NewWriter(tx),
		events:       outboxevent.NewWriter(tx),
	}, nil
}

func (s *Storage) Outbox() outbox.Repository {
	return outboxevent.NewRepository(s.db)
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.raw.PingContext(ctx)
}

func (s *Storage) Close() error {
	return s.raw.Close()
}

type reader struct {
	exec bob.Executor
}

func (r reader) Accounts() storage.AccountReader {
	return account.NewReader(r.exec)
}

func (r reader) Transactions() storage.TransactionReader {
	return transaction.NewReader(r.exec)
}

func (r reader) Idempotency() idempotency.Finder {
	return idempotencykey.NewReader(r.exec)
}

type writer struct {
	tx           bob.Tx
	accounts     *account.Writer
	transactions *transaction.Writer
	keys         *idempotencykey.Writer
	events       *outboxevent.Writer
	hooks        storage.FinishHooks
}

func (w *writer) Accounts() storage.AccountWriter {
	return w.accounts
}

func (w *writer) Transactions() storage.TransactionWriter {
	return w.transactions
}

func (w *writer) Idempotency() idempotency.Records {
	return keyRecords{Writer: w.keys}
}

// keyRecords reports a wait on another unit's key row that exceeds
// lock_timeout as a lock timeout.
type keyRecords struct {
	*idempotencykey.Writer
}

func (k keyRecords) Insert(ctx context.Context, rec *idempotency.Record) (bool, error) {
	inserted, err := k.Writer.Insert(ctx, rec)
	if err != nil {
		return false, classifyLockError(ctx, "idempotency key "+rec.Key, err)
	}
	return inserted, nil
}

func (k keyRecords) FindForUpdate(ctx context.Context, key string) (*idempotency.Record, error) {
	rec, err := k.Writer.FindForUpdate(ctx, key)
	if err != nil {
		return nil, classifyLockError(ctx, "idempotency key "+key, err)
	}
	return rec, nil
}

func (w *writer) Outbox() outbox.Writer {
	return w.events
}

// Locker takes row locks, which Postgres releases at commit or rollback.
func (w *writer) Locker() lock.Acquirer {
	return lock.AcquirerFunc(func(ctx context.Context, accountID uuid.UUID) (func(), error) {
		if err := w.accounts.Lock(ctx, accountID); err != nil {
			return nil, classifyLockError(ctx, "account "+accountID.String(), err)
		}
		return func() {}, nil
	})
}

func (w *writer) AfterFinish(fn func()) {
	w.hooks.Add(fn)
}

func (w *writer) Commit(ctx context.Context) error {
	defer w.hooks.Run()
	return w.tx.Commit(ctx)
}

func (w *writer) Rollback(ctx context.Context) error {
	defer w.hooks.Run()
	return w.tx.Rollback(ctx)
}
