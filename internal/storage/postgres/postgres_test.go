package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofrs/uuid/v5"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carson-networks/ledger-server/internal/idempotency"
	"github.com/carson-networks/ledger-server/internal/ledger"
	"github.com/carson-networks/ledger-server/internal/storage"
)

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, Options{LockTimeout: 5 * time.Second}), mock
}

func beginUnit(t *testing.T, s *Storage, mock sqlmock.Sqlmock) storage.Writer {
	t.Helper()
	mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL lock_timeout = 5000`).WillReturnResult(sqlmock.NewResult(0, 0))
	w, err := s.Write(context.Background())
	require.NoError(t, err)
	return w
}

func TestStorage_ApplyDeltaAndCommitRunsHooks(t *testing.T) {
	s, mock := newMockStorage(t)
	id := uuid.Must(uuid.NewV4())
	w := beginUnit(t, s, mock)

	mock.ExpectQuery(`UPDATE .*accounts.*balance \+`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id.String()))
	mock.ExpectCommit()

	finished := false
	w.AfterFinish(func() { finished = true })

	require.NoError(t, w.Accounts().ApplyDelta(context.Background(), id, decimal.RequireFromString("-20.5"), time.Now()))
	require.NoError(t, w.Commit(context.Background()))
	assert.True(t, finished)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_ApplyDeltaMissingAccount(t *testing.T) {
	s, mock := newMockStorage(t)
	w := beginUnit(t, s, mock)

	mock.ExpectQuery(`UPDATE .*accounts`).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := w.Accounts().ApplyDelta(context.Background(), uuid.Must(uuid.NewV4()), decimal.NewFromInt(1), time.Now())
	assert.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, w.Rollback(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_LockerMapsLockNotAvailable(t *testing.T) {
	s, mock := newMockStorage(t)
	w := beginUnit(t, s, mock)
	id := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`FOR UPDATE`).WillReturnError(&pq.Error{Code: "55P03", Message: "canceling statement due to lock timeout"})

	_, err := w.Locker().Acquire(context.Background(), id)
	assert.ErrorIs(t, err, ledger.ErrLockTimeout)
	assert.Contains(t, err.Error(), id.String())
}

func TestStorage_LockerReportsMissingAccount(t *testing.T) {
	s, mock := newMockStorage(t)
	w := beginUnit(t, s, mock)

	mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := w.Locker().Acquire(context.Background(), uuid.Must(uuid.NewV4()))
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestStorage_LockerCancelledCaller(t *testing.T) {
	s, mock := newMockStorage(t)
	w := beginUnit(t, s, mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mock.ExpectQuery(`FOR UPDATE`).WillReturnError(&pq.Error{Code: "57014"})

	_, err := w.Locker().Acquire(ctx, uuid.Must(uuid.NewV4()))
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestStorage_IdempotencyInsertConflict(t *testing.T) {
	s, mock := newMockStorage(t)
	w := beginUnit(t, s, mock)

	mock.ExpectQuery(`INSERT INTO .*idempotency_keys.*ON CONFLICT`).WillReturnRows(sqlmock.NewRows([]string{"key"}))

	inserted, err := w.Idempotency().Insert(context.Background(), &idempotency.Record{Key: "k", RequestHash: "h"})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_IdempotencyInsertMapsLockNotAvailable(t *testing.T) {
	s, mock := newMockStorage(t)
	w := beginUnit(t, s, mock)

	mock.ExpectQuery(`INSERT INTO .*idempotency_keys`).
		WillReturnError(&pq.Error{Code: "55P03", Message: "canceling statement due to lock timeout"})

	_, err := w.Idempotency().Insert(context.Background(), &idempotency.Record{Key: "order-1", RequestHash: "h"})
	assert.ErrorIs(t, err, ledger.ErrLockTimeout)
	assert.Contains(t, err.Error(), "order-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_IdempotencyFindForUpdateMapsQueryCanceled(t *testing.T) {
	s, mock := newMockStorage(t)
	w := beginUnit(t, s, mock)

	mock.ExpectQuery(`FOR UPDATE`).WillReturnError(&pq.Error{Code: "57014"})

	_, err := w.Idempotency().FindForUpdate(context.Background(), "order-1")
	assert.ErrorIs(t, err, ledger.ErrLockTimeout)
}

func TestStorage_IdempotencyInsertOtherErrorsPassThrough(t *testing.T) {
	s, mock := newMockStorage(t)
	w := beginUnit(t, s, mock)
	boom := errors.New("connection reset")

	mock.ExpectQuery(`INSERT INTO .*idempotency_keys`).WillReturnError(boom)

	_, err := w.Idempotency().Insert(context.Background(), &idempotency.Record{Key: "order-1", RequestHash: "h"})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, ledger.KindOf(err))
}

func TestStorage_IdempotencyFindMissing(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectQuery(`SELECT .* FROM .*idempotency_keys`).WillReturnRows(sqlmock.NewRows([]string{"key"}))

	rec, err := s.Reader().Idempotency().Find(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestStorage_InsertTransactionWritesEntries(t *testing.T) {
	s, mock := newMockStorage(t)
	w := beginUnit(t, s, mock)

	txID := uuid.Must(uuid.NewV7())
	tx := &ledger.Transaction{
		ID:          txID,
		Description: "rent",
		CreatedAt:   time.Now(),
		Entries: []ledger.Entry{
			{ID: uuid.Must(uuid.NewV7()), AccountID: uuid.Must(uuid.NewV4()), Amount: decimal.NewFromInt(10), Direction: ledger.DirectionDebit},
			{ID: uuid.Must(uuid.NewV7()), AccountID: uuid.Must(uuid.NewV4()), Amount: decimal.NewFromInt(10), Direction: ledger.DirectionCredit},
		},
	}

	mock.ExpectExec(`INSERT INTO .*transactions`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO .*entries`).WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, w.Transactions().Insert(context.Background(), tx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_FindAccountNotFound(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectQuery(`SELECT .* FROM .*accounts`).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.Reader().Accounts().FindByID(context.Background(), uuid.Must(uuid.NewV4()))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStorage_FindAccount(t *testing.T) {
	s, mock := newMockStorage(t)
	id := uuid.Must(uuid.NewV4())
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .* FROM .*accounts`).WillReturnRows(
		sqlmock.NewRows([]string{"id", "name", "category", "balance", "created_at", "updated_at"}).
			AddRow(id.String(), "cash", "ASSET", "170.0000", now, now),
	)

	a, err := s.Reader().Accounts().FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, ledger.CategoryAsset, a.Category)
	assert.Equal(t, "170", a.Balance.String())
}

func TestStorage_OutboxClaimOrdersBySequence(t *testing.T) {
	s, mock := newMockStorage(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	first, second := uuid.Must(uuid.NewV7()), uuid.Must(uuid.NewV7())
	cols := []string{
		"id", "sequence", "event_type", "transaction_id", "payload", "status",
		"attempts", "last_error", "available_at", "lease_until", "created_at", "published_at",
	}

	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).WillReturnRows(sqlmock.NewRows(cols).
		AddRow(second.String(), 8, "ledger.transaction.created", uuid.Must(uuid.NewV4()).String(), []byte(`{}`), "PROCESSING", 0, "", now, now.Add(time.Minute), now, nil).
		AddRow(first.String(), 7, "ledger.transaction.created", uuid.Must(uuid.NewV4()).String(), []byte(`{}`), "PROCESSING", 2, "boom", now, now.Add(time.Minute), now, nil),
	)

	events, err := s.Outbox().Claim(context.Background(), 10, now, now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, first, events[0].ID)
	assert.Equal(t, 2, events[0].Attempts)
	require.NotNil(t, events[0].LeaseUntil)
	assert.Nil(t, events[0].PublishedAt)
	assert.Equal(t, second, events[1].ID)
}

func TestStorage_OutboxMarkPublishedMissing(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectQuery(`UPDATE .*outbox_events`).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	err := s.Outbox().MarkPublished(context.Background(), uuid.Must(uuid.NewV7()), time.Now())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/ledger?sslmode=disable", DSN("db", "5432", "ledger", "u", "p"))
}
