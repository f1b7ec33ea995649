package telemetry

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/carson-networks/ledger-server"

// Metrics holds every instrument the service records.
type Metrics struct {
	TransactionsCommitted metric.Int64Counter
	TransactionsRejected  metric.Int64Counter
	TransactionsReplayed  metric.Int64Counter
	LockWait              metric.Float64Histogram
	OutboxPublished       metric.Int64Counter
	OutboxFailed          metric.Int64Counter
	OutboxDeadLettered    metric.Int64Counter
	ReconcileDrift        metric.Int64Counter
}

// Setup installs a Prometheus-backed meter provider as the global provider.
// The returned handler serves /metrics and shutdown flushes the provider.
func Setup() (*Metrics, http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	metrics, err := NewMetrics(provider.Meter(meterName))
	if err != nil {
		return nil, nil, nil, err
	}
	return metrics, promhttp.Handler(), provider.Shutdown, nil
}

// NopMetrics records nothing. Used by tests and when metrics are disabled.
func NopMetrics() *Metrics {
	// The noop meter never fails to build instruments.
	metrics, _ := NewMetrics(noop.NewMeterProvider().Meter(meterName))
	return metrics
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var errs []error
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}

	lockWait, err := meter.Float64Histogram(
		"ledger_lock_wait_seconds",
		metric.WithDescription("Time spent acquiring account locks"),
		metric.WithUnit("s"),
	)
	errs = append(errs, err)

	m := &Metrics{
		TransactionsCommitted: counter("ledger_transactions_committed_total", "Transactions committed"),
		TransactionsRejected:  counter("ledger_transactions_rejected_total", "Transactions rejected or aborted, by kind"),
		TransactionsReplayed:  counter("ledger_transactions_replayed_total", "Requests answered from an idempotency record"),
		LockWait:              lockWait,
		OutboxPublished:       counter("ledger_outbox_published_total", "Outbox events delivered"),
		OutboxFailed:          counter("ledger_outbox_failed_total", "Outbox delivery attempts that failed"),
		OutboxDeadLettered:    counter("ledger_outbox_dead_lettered_total", "Outbox events moved to dead letter"),
		ReconcileDrift:        counter("ledger_reconcile_drift_total", "Accounts whose cached balance disagrees with their entries"),
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}
