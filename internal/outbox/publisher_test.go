package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestBreakerPublisher_OpensAfterConsecutiveFailures(t *testing.T) {
	next := &mockPublisher{}
	next.On("Publish", mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	publisher := NewBreakerPublisher(next, BreakerSettings{
		Name:                "rabbitmq",
		ConsecutiveFailures: 2,
		OpenTimeout:         time.Minute,
	}, quietLogger())

	event := &Event{EventType: EventTypeTransactionCreated}
	assert.EqualError(t, publisher.Publish(context.Background(), event), "connection refused")
	assert.EqualError(t, publisher.Publish(context.Background(), event), "connection refused")
	assert.Equal(t, gobreaker.StateOpen, publisher.State())

	err := publisher.Publish(context.Background(), event)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Contains(t, err.Error(), "publisher rabbitmq unavailable")
	next.AssertNumberOfCalls(t, "Publish", 2)
}

func TestBreakerPublisher_PassesThroughSuccess(t *testing.T) {
	next := &mockPublisher{}
	next.On("Publish", mock.Anything, mock.Anything).Return(nil)

	publisher := NewBreakerPublisher(next, BreakerSettings{Name: "log"}, quietLogger())

	assert.NoError(t, publisher.Publish(context.Background(), &Event{}))
	assert.Equal(t, gobreaker.StateClosed, publisher.State())
}

func TestLogPublisher_Publish(t *testing.T) {
	assert.NoError(t, NewLogPublisher(quietLogger()).Publish(context.Background(), &Event{Payload: []byte(`{}`)}))
}
