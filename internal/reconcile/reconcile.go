package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/carson-networks/ledger-server/internal/ledger"
	"github.com/carson-networks/ledger-server/internal/storage"
	"github.com/carson-networks/ledger-server/internal/telemetry"
)

const DefaultInterval = 10 * time.Minute

// Drift is an account whose cached balance disagrees with its entries.
type Drift struct {
	AccountID uuid.UUID
	Category  ledger.Category
	Cached    decimal.Decimal
	Expected  decimal.Decimal
}

// Report is the outcome of one pass over every account.
type Report struct {
	Checked int
	Drifts  []Drift
}

// Reconciler periodically replays each account's entries and compares the
// result with the cached balance. It only reads.
type Reconciler struct {
	accounts storage.AccountReader
	interval time.Duration
	logger   *logrus.Logger
	metrics  *telemetry.Metrics

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewReconciler(accounts storage.AccountReader, interval time.Duration, logger *logrus.Logger, metrics *telemetry.Metrics) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	return &Reconciler{
		accounts: accounts,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
		stop:     make(chan struct{}),
	}
}

// Start reconciles in the background on every interval until ctx is done or
// Stop is called.
func (r *Reconciler) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx)
	}()
}

func (r *Reconciler) run(ctx context.Context) {
	r.logger.Info("Reconcile.Run.started")
	defer r.logger.Info("Reconcile.Run.stopped")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
		}

		report, err := r.RunOnce(ctx)
		if err != nil {
			r.logger.WithError(err).Error("Reconcile.RunOnce")
			continue
		}
		r.logger.WithFields(logrus.Fields{
			"checked": report.Checked,
			"drifted": len(report.Drifts),
		}).Info("Reconcile.RunOnce.complete")
	}
}

// Stop ends the loop started by Start and waits for an in-flight pass.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	r.wg.Wait()
}

// RunOnce checks every account once.
func (r *Reconciler) RunOnce(ctx context.Context) (*Report, error) {
	totals, err := r.accounts.Totals(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{Checked: len(totals)}
	for _, t := range totals {
		expected, err := ledger.Replay(t.Category, t.Debits, t.Credits)
		if err != nil {
			r.logger.WithError(err).WithField("accountID", t.AccountID.String()).Error("Reconcile.RunOnce.replay")
			continue
		}
		if expected.Equal(t.Balance) {
			continue
		}

		report.Drifts = append(report.Drifts, Drift{
			AccountID: t.AccountID,
			Category:  t.Category,
			Cached:    t.Balance,
			Expected:  expected,
		})
		r.metrics.ReconcileDrift.Add(ctx, 1, metric.WithAttributes(attribute.String("category", string(t.Category))))
		r.logger.WithFields(logrus.Fields{
			"accountID": t.AccountID.String(),
			"cached":    ledger.FormatAmount(t.Balance),
			"expected":  ledger.FormatAmount(expected),
		}).Error("Reconcile.RunOnce.drift")
	}
	return report, nil
}
