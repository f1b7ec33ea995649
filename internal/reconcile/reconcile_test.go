package reconcile

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/carson-networks/ledger-server/internal/ledger"
	"github.com/carson-networks/ledger-server/internal/storage"
)

type mockAccountReader struct {
	mock.Mock
}

func (m *mockAccountReader) FindByID(ctx context.Context, id uuid.UUID) (*ledger.Account, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(*ledger.Account), args.Error(1)
}

func (m *mockAccountReader) List(ctx context.Context, filter *storage.AccountFilter) ([]*ledger.Account, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]*ledger.Account), args.Error(1)
}

func (m *mockAccountReader) Categories(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]ledger.Category, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).(map[uuid.UUID]ledger.Category), args.Error(1)
}

func (m *mockAccountReader) Totals(ctx context.Context) ([]storage.AccountTotals, error) {
	args := m.Called(ctx)
	totals, _ := args.Get(0).([]storage.AccountTotals)
	return totals, args.Error(1)
}

func newTestReconciler(reader storage.AccountReader) *Reconciler {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewReconciler(reader, time.Hour, logger, nil)
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRunOnce_ConsistentAccounts(t *testing.T) {
	reader := &mockAccountReader{}
	reader.On("Totals", mock.Anything).Return([]storage.AccountTotals{
		{AccountID: uuid.Must(uuid.NewV4()), Category: ledger.CategoryAsset, Balance: amount("170"), Debits: amount("200"), Credits: amount("30")},
		{AccountID: uuid.Must(uuid.NewV4()), Category: ledger.CategoryRevenue, Balance: amount("170"), Debits: amount("0"), Credits: amount("170")},
		{AccountID: uuid.Must(uuid.NewV4()), Category: ledger.CategoryEquity, Balance: decimal.Zero},
	}, nil)

	report, err := newTestReconciler(reader).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	assert.Empty(t, report.Drifts, spew.Sdump(report))
	reader.AssertExpectations(t)
}

func TestRunOnce_ReportsDrift(t *testing.T) {
	drifted := uuid.Must(uuid.NewV4())
	reader := &mockAccountReader{}
	reader.On("Totals", mock.Anything).Return([]storage.AccountTotals{
		{AccountID: uuid.Must(uuid.NewV4()), Category: ledger.CategoryExpense, Balance: amount("12.5"), Debits: amount("12.5")},
		{AccountID: drifted, Category: ledger.CategoryLiability, Balance: amount("90"), Debits: amount("10"), Credits: amount("110")},
	}, nil)

	report, err := newTestReconciler(reader).RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Drifts, 1, spew.Sdump(report))
	assert.Equal(t, drifted, report.Drifts[0].AccountID)
	assert.Equal(t, "90", report.Drifts[0].Cached.String())
	assert.Equal(t, "100", report.Drifts[0].Expected.String())
}

func TestRunOnce_SkipsUnknownCategory(t *testing.T) {
	reader := &mockAccountReader{}
	reader.On("Totals", mock.Anything).Return([]storage.AccountTotals{
		{AccountID: uuid.Must(uuid.NewV4()), Category: ledger.Category("CONTRA"), Balance: amount("1")},
	}, nil)

	report, err := newTestReconciler(reader).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Empty(t, report.Drifts)
}

func TestRunOnce_ReadError(t *testing.T) {
	reader := &mockAccountReader{}
	reader.On("Totals", mock.Anything).Return(nil, errors.New("connection refused"))

	report, err := newTestReconciler(reader).RunOnce(context.Background())
	assert.EqualError(t, err, "connection refused")
	assert.Nil(t, report)
}

func TestStart_StopWaitsForLoop(t *testing.T) {
	logger, hook := test.NewNullLogger()
	r := NewReconciler(&mockAccountReader{}, time.Hour, logger, nil)

	r.Start(context.Background())
	r.Stop()

	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, "Reconcile.Run.stopped", last.Message)
}

func TestStart_ReconcilesOnInterval(t *testing.T) {
	reader := &mockAccountReader{}
	reader.On("Totals", mock.Anything).Return([]storage.AccountTotals{}, nil)

	logger, hook := test.NewNullLogger()
	r := NewReconciler(reader, 5*time.Millisecond, logger, nil)
	r.Start(context.Background())

	assert.Eventually(t, func() bool {
		for _, e := range hook.AllEntries() {
			if e.Message == "Reconcile.RunOnce.complete" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	r.Stop()
}
