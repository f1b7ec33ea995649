package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/uuid/v5"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/carson-networks/ledger-server/internal/ledger"
	"github.com/carson-networks/ledger-server/internal/telemetry"
)

// Config tunes the relay.
type Config struct {
	Interval     time.Duration
	BatchSize    int
	LeaseTimeout time.Duration
	// PublishAttempts is how many times one event is tried within a cycle.
	PublishAttempts int
	PublishBackoff  time.Duration
	// MaxAttempts is the number of failed cycles before an event is dead-lettered.
	MaxAttempts int
	RetryBase   time.Duration
	RetryMax    time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:        2 * time.Second,
		BatchSize:       50,
		LeaseTimeout:    30 * time.Second,
		PublishAttempts: 3,
		PublishBackoff:  200 * time.Millisecond,
		MaxAttempts:     10,
		RetryBase:       time.Second,
		RetryMax:        5 * time.Minute,
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = d.LeaseTimeout
	}
	if c.PublishAttempts <= 0 {
		c.PublishAttempts = d.PublishAttempts
	}
	if c.PublishBackoff <= 0 {
		c.PublishBackoff = d.PublishBackoff
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.RetryBase <= 0 {
		c.RetryBase = d.RetryBase
	}
	if c.RetryMax < c.RetryBase {
		c.RetryMax = c.RetryBase
	}
}

// Result counts the outcome of one dispatch cycle.
type Result struct {
	Claimed           int
	Published         int
	Failed            int
	DeadLettered      int
	Released          int
	StateUpdateFailed int
}

// Relay drains the outbox in creation order. Delivery is at-least-once: an
// event is published before it is marked, so a crash in between redelivers it.
type Relay struct {
	repo      Repository
	publisher Publisher
	cfg       Config
	logger    *logrus.Logger
	metrics   *telemetry.Metrics
	now       func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewRelay(repo Repository, publisher Publisher, cfg Config, logger *logrus.Logger, metrics *telemetry.Metrics) *Relay {
	cfg.normalize()
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	return &Relay{
		repo:      repo,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
		stop:      make(chan struct{}),
	}
}

// Start runs the dispatch loop in the background. It dispatches immediately
// and then on every interval until ctx is done or Stop is called.
func (r *Relay) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx)
	}()
}

func (r *Relay) run(ctx context.Context) {
	r.logger.Info("Relay.Run.started")
	defer r.logger.Info("Relay.Run.stopped")

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		result := r.DispatchOnce(ctx)
		if result.Claimed > 0 {
			r.logger.WithFields(logrus.Fields{
				"claimed":      result.Claimed,
				"published":    result.Published,
				"failed":       result.Failed,
				"deadLettered": result.DeadLettered,
				"released":     result.Released,
			}).Info("Relay.DispatchOnce.complete")
		}

		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
		}
	}
}

// Stop ends the loop started by Start and waits for the in-flight cycle.
func (r *Relay) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	r.wg.Wait()
}

// DispatchOnce runs a single claim/publish cycle. The first failure ends the
// cycle and hands the remaining claimed rows back, so a later event is never
// delivered ahead of an earlier one that is still retrying.
func (r *Relay) DispatchOnce(ctx context.Context) Result {
	var result Result

	now := r.now()
	events, err := r.repo.Claim(ctx, r.cfg.BatchSize, now, now.Add(r.cfg.LeaseTimeout))
	if err != nil {
		r.logger.WithError(err).Error("Relay.DispatchOnce.claim")
		return result
	}
	result.Claimed = len(events)

	for i, event := range events {
		if ctx.Err() != nil {
			result.Released += r.release(ctx, events[i:])
			break
		}

		if err := r.publishWithRetry(ctx, event); err != nil {
			if r.fail(ctx, event, err) {
				result.DeadLettered++
			} else {
				result.Failed++
			}
			result.Released += r.release(ctx, events[i+1:])
			break
		}

		result.Published++
		r.metrics.OutboxPublished.Add(ctx, 1)
		if err := r.repo.MarkPublished(ctx, event.ID, r.now()); err != nil {
			// The lease will expire and the event will be delivered again.
			r.logger.WithError(err).WithField("eventID", event.ID.String()).Error("Relay.DispatchOnce.markPublished")
			result.StateUpdateFailed++
		}
	}

	return result
}

func (r *Relay) publishWithRetry(ctx context.Context, event *Event) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.cfg.PublishBackoff
	policy.MaxElapsedTime = 0

	retries := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.cfg.PublishAttempts-1)), ctx)
	return backoff.Retry(func() error {
		return r.publisher.Publish(ctx, event)
	}, retries)
}

// fail records a failed cycle and reports whether the event was dead-lettered.
func (r *Relay) fail(ctx context.Context, event *Event, cause error) bool {
	failure := ledger.WrapError(ledger.KindDeliveryFailure, cause, "event "+event.ID.String())
	attempts := event.Attempts + 1
	fields := logrus.Fields{
		"eventID":       event.ID.String(),
		"transactionID": event.TransactionID.String(),
		"attempts":      attempts,
	}
	kind := metric.WithAttributes(attribute.String("event_type", event.EventType))

	if attempts >= r.cfg.MaxAttempts {
		r.metrics.OutboxDeadLettered.Add(ctx, 1, kind)
		r.logger.WithError(failure).WithFields(fields).Error("Relay.DispatchOnce.deadLetter")
		if err := r.repo.MarkDeadLetter(ctx, event.ID, failure.Error()); err != nil {
			r.logger.WithError(err).WithFields(fields).Error("Relay.DispatchOnce.markDeadLetter")
		}
		return true
	}

	next := r.now().Add(r.retryDelay(attempts))
	r.metrics.OutboxFailed.Add(ctx, 1, kind)
	r.logger.WithError(failure).WithFields(fields).WithField("nextAttempt", next).Warn("Relay.DispatchOnce.publishFailed")
	if err := r.repo.MarkFailed(ctx, event.ID, failure.Error(), next); err != nil {
		r.logger.WithError(err).WithFields(fields).Error("Relay.DispatchOnce.markFailed")
	}
	return false
}

// retryDelay doubles from RetryBase per failed cycle, capped at RetryMax.
func (r *Relay) retryDelay(attempts int) time.Duration {
	delay := r.cfg.RetryBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= r.cfg.RetryMax {
			return r.cfg.RetryMax
		}
	}
	return delay
}

func (r *Relay) release(ctx context.Context, events []*Event) int {
	if len(events) == 0 {
		return 0
	}
	ids := make([]uuid.UUID, len(events))
	for i, event := range events {
		ids[i] = event.ID
	}
	// A failed release only delays the rows until their lease expires.
	if err := r.repo.Release(context.WithoutCancel(ctx), ids); err != nil {
		r.logger.WithError(err).WithField("count", len(ids)).Warn("Relay.DispatchOnce.release")
	}
	return len(ids)
}
