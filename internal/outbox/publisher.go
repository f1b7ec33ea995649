package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	logger *logrus.Logger
}

func NewLogPublisher(logger *logrus.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, event *Event) error {
	p.logger.WithFields(logrus.Fields{
		"eventID":       event.ID.String(),
		"eventType":     event.EventType,
		"transactionID": event.TransactionID.String(),
		"payload":       string(event.Payload),
	}).Info("LogPublisher.Publish")
	return nil
}

// BreakerSettings configures BreakerPublisher.
type BreakerSettings struct {
	Name                string
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

// BreakerPublisher stops calling an unhealthy broker for a while so a relay
// cycle fails fast instead of waiting out every publish timeout.
type BreakerPublisher struct {
	next    Publisher
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerPublisher(next Publisher, settings BreakerSettings, logger *logrus.Logger) *BreakerPublisher {
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = 5
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 30 * time.Second
	}
	if settings.HalfOpenRequests == 0 {
		settings.HalfOpenRequests = 1
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: settings.HalfOpenRequests,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("BreakerPublisher.stateChange")
		},
	})
	return &BreakerPublisher{next: next, breaker: cb}
}

func (p *BreakerPublisher) Publish(ctx context.Context, event *Event) error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		return nil, p.next.Publish(ctx, event)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("publisher %s unavailable: %w", p.breaker.Name(), err)
	}
	return err
}

func (p *BreakerPublisher) State() gobreaker.State {
	return p.breaker.State()
}
