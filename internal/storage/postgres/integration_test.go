//go:build integration

package postgres_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/carson-networks/ledger-server/internal/idempotency"
	"github.com/carson-networks/ledger-server/internal/ledger"
	"github.com/carson-networks/ledger-server/internal/lock"
	"github.com/carson-networks/ledger-server/internal/operator"
	"github.com/carson-networks/ledger-server/internal/outbox"
	"github.com/carson-networks/ledger-server/internal/service"
	"github.com/carson-networks/ledger-server/internal/storage/postgres"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*outbox.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event *outbox.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func setupStorage(t *testing.T) *postgres.Storage {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("ledger"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := postgres.Open(dsn, postgres.Options{LockTimeout: 2 * time.Second, MaxOpenConns: 20})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, version, err := store.Migrate("file://../../../migrations")
	require.NoError(t, err)
	require.NotZero(t, version)
	return store
}

func newService(t *testing.T, store *postgres.Storage) *service.Service {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	delegator := operator.NewOperatorDelegator(store, 8, logger)
	delegator.Start()
	t.Cleanup(delegator.Stop)

	return service.NewService(service.Dependencies{
		Storage:     store,
		Operator:    delegator,
		Guard:       idempotency.NewGuard(time.Hour, nil, logger),
		Coordinator: lock.NewCoordinator(2 * time.Second),
		Logger:      logger,
	})
}

func transfer(debit, credit uuid.UUID, amount string) ledger.TransactionRequest {
	return ledger.TransactionRequest{
		Description: "transfer",
		Entries: []ledger.EntryRequest{
			{AccountID: debit, Amount: decimal.RequireFromString(amount), Direction: ledger.DirectionDebit},
			{AccountID: credit, Amount: decimal.RequireFromString(amount), Direction: ledger.DirectionCredit},
		},
	}
}

func TestIntegration_ConcurrentPostsAreNotLost(t *testing.T) {
	store := setupStorage(t)
	svc := newService(t, store)
	ctx := context.Background()

	cash, err := svc.Account.CreateAccount(ctx, "cash", ledger.CategoryAsset)
	require.NoError(t, err)
	sales, err := svc.Account.CreateAccount(ctx, "sales", ledger.CategoryRevenue)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for _, amount := range []string{"100", "50", "20"} {
		wg.Add(1)
		go func(amount string) {
			defer wg.Done()
			_, err := svc.Transaction.CreateTransaction(ctx, transfer(cash.ID, sales.ID, amount))
			errs <- err
		}(amount)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for _, id := range []uuid.UUID{cash.ID, sales.ID} {
		a, err := svc.Account.GetAccount(ctx, id)
		require.NoError(t, err)
		assert.True(t, a.Balance.Equal(decimal.NewFromInt(170)), "balance of %s is %s", a.Name, a.Balance)
	}
}

func TestIntegration_ImbalancedLeavesNoRows(t *testing.T) {
	store := setupStorage(t)
	svc := newService(t, store)
	ctx := context.Background()

	cash, err := svc.Account.CreateAccount(ctx, "cash", ledger.CategoryAsset)
	require.NoError(t, err)
	sales, err := svc.Account.CreateAccount(ctx, "sales", ledger.CategoryRevenue)
	require.NoError(t, err)

	req := transfer(cash.ID, sales.ID, "100")
	req.Entries[1].Amount = decimal.NewFromInt(90)
	_, err = svc.Transaction.CreateTransaction(ctx, req)
	require.ErrorIs(t, err, ledger.ErrImbalancedEntries)

	txs, _, err := svc.Transaction.ListTransactions(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, txs)

	a, err := svc.Account.GetAccount(ctx, cash.ID)
	require.NoError(t, err)
	assert.True(t, a.Balance.IsZero())
}

func TestIntegration_OutboxDeliversSequentialPostsInOrder(t *testing.T) {
	store := setupStorage(t)
	svc := newService(t, store)
	ctx := context.Background()

	cash, err := svc.Account.CreateAccount(ctx, "cash", ledger.CategoryAsset)
	require.NoError(t, err)
	sales, err := svc.Account.CreateAccount(ctx, "sales", ledger.CategoryRevenue)
	require.NoError(t, err)

	var ids []uuid.UUID
	for _, amount := range []string{"1", "2", "3"} {
		result, err := svc.Transaction.CreateTransaction(ctx, transfer(cash.ID, sales.ID, amount))
		require.NoError(t, err)
		ids = append(ids, result.TransactionID)
	}

	publisher := &recordingPublisher{}
	relay := outbox.NewRelay(store.Outbox(), publisher, outbox.DefaultConfig(), logrus.New(), nil)
	result := relay.DispatchOnce(ctx)
	assert.Equal(t, 3, result.Published)

	require.Len(t, publisher.events, 3)
	for i, event := range publisher.events {
		assert.Equal(t, ids[i], event.TransactionID)
	}
	assert.Zero(t, relay.DispatchOnce(ctx).Claimed)
}

func TestIntegration_OutboxKeepsOrderPerAccount(t *testing.T) {
	store := setupStorage(t)
	svc := newService(t, store)
	ctx := context.Background()

	cash, err := svc.Account.CreateAccount(ctx, "cash", ledger.CategoryAsset)
	require.NoError(t, err)
	sales, err := svc.Account.CreateAccount(ctx, "sales", ledger.CategoryRevenue)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 1; i <= 12; i++ {
		wg.Add(1)
		go func(amount int) {
			defer wg.Done()
			_, err := svc.Transaction.CreateTransaction(ctx, transfer(cash.ID, sales.ID, decimal.NewFromInt(int64(amount)).String()))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	publisher := &recordingPublisher{}
	relay := outbox.NewRelay(store.Outbox(), publisher, outbox.DefaultConfig(), logrus.New(), nil)
	assert.Equal(t, 12, relay.DispatchOnce(ctx).Published)

	// Units sharing an account commit one after another, and each takes its
	// creation time and sequence while holding the account rows.
	require.Len(t, publisher.events, 12)
	var last time.Time
	for _, event := range publisher.events {
		tx, err := svc.Transaction.GetTransaction(ctx, event.TransactionID)
		require.NoError(t, err)
		assert.False(t, tx.CreatedAt.Before(last), "event for %s delivered out of commit order", tx.ID)
		last = tx.CreatedAt
	}
}
