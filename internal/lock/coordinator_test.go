package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carson-networks/ledger-server/internal/ledger"
)

// recordingAcquirer wraps a KeyedMutex and records acquisition order.
type recordingAcquirer struct {
	mu       sync.Mutex
	order    []uuid.UUID
	released []uuid.UUID
	locks    *KeyedMutex[uuid.UUID]
	failOn   uuid.UUID
}

func newRecordingAcquirer() *recordingAcquirer {
	return &recordingAcquirer{locks: NewKeyedMutex[uuid.UUID]()}
}

func (r *recordingAcquirer) Acquire(ctx context.Context, id uuid.UUID) (func(), error) {
	if id == r.failOn {
		return nil, ledger.NewError(ledger.KindAccountNotFound, "account %s does not exist", id)
	}
	release, err := r.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.order = append(r.order, id)
	r.mu.Unlock()
	return func() {
		release()
		r.mu.Lock()
		r.released = append(r.released, id)
		r.mu.Unlock()
	}, nil
}

func ids(values ...string) []uuid.UUID {
	out := make([]uuid.UUID, len(values))
	for i, v := range values {
		out[i] = uuid.Must(uuid.FromString(v))
	}
	return out
}

var (
	idA = "10000000-0000-0000-0000-000000000000"
	idB = "20000000-0000-0000-0000-000000000000"
	idC = "30000000-0000-0000-0000-000000000000"
)

func TestCoordinator_AcquiresAscending(t *testing.T) {
	acq := newRecordingAcquirer()
	c := NewCoordinator(time.Second)

	release, err := c.Acquire(context.Background(), acq, ids(idC, idA, idB, idA))
	require.NoError(t, err)

	assert.Equal(t, ids(idA, idB, idC), acq.order)

	release()
	release()
	assert.Equal(t, ids(idC, idB, idA), acq.released)
	assert.Equal(t, 0, acq.locks.Held())
}

func TestCoordinator_TimeoutReleasesPartialHolds(t *testing.T) {
	acq := newRecordingAcquirer()
	c := NewCoordinator(50 * time.Millisecond)

	holdB, err := acq.locks.Lock(context.Background(), uuid.Must(uuid.FromString(idB)))
	require.NoError(t, err)
	defer holdB()

	_, err = c.Acquire(context.Background(), acq, ids(idB, idA))

	assert.True(t, errors.Is(err, ledger.ErrLockTimeout))
	assert.True(t, ledger.Retryable(err))
	assert.Equal(t, ids(idA), acq.released)
}

func TestCoordinator_AccountNotFoundPassesThrough(t *testing.T) {
	acq := newRecordingAcquirer()
	acq.failOn = uuid.Must(uuid.FromString(idB))
	c := NewCoordinator(time.Second)

	_, err := c.Acquire(context.Background(), acq, ids(idA, idB, idC))

	assert.True(t, errors.Is(err, ledger.ErrAccountNotFound))
	assert.Equal(t, ids(idA), acq.order)
	assert.Equal(t, ids(idA), acq.released)
}

func TestCoordinator_CallerCancellation(t *testing.T) {
	acq := newRecordingAcquirer()
	c := NewCoordinator(time.Minute)

	hold, err := acq.locks.Lock(context.Background(), uuid.Must(uuid.FromString(idA)))
	require.NoError(t, err)
	defer hold()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = c.Acquire(ctx, acq, ids(idA))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestCoordinator_BackendErrorIsCommitFailure(t *testing.T) {
	c := NewCoordinator(time.Second)
	acq := AcquirerFunc(func(ctx context.Context, id uuid.UUID) (func(), error) {
		return nil, errors.New("connection refused")
	})

	_, err := c.Acquire(context.Background(), acq, ids(idA))
	assert.True(t, errors.Is(err, ledger.ErrCommitFailure))
}

// Two workers lock {A, B} and {B, A} repeatedly. With ordered acquisition
// neither can hold one account while waiting on the other.
func TestCoordinator_OpposingOrdersDoNotDeadlock(t *testing.T) {
	acq := newRecordingAcquirer()
	c := NewCoordinator(2 * time.Second)

	var wg sync.WaitGroup
	errs := make(chan error, 400)
	for _, set := range [][]uuid.UUID{ids(idA, idB), ids(idB, idA)} {
		wg.Add(1)
		go func(set []uuid.UUID) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				release, err := c.Acquire(context.Background(), acq, set)
				if err != nil {
					errs <- err
					return
				}
				release()
			}
		}(set)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("opposing lock orders did not complete")
	}
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestKeyedMutex_ExclusivePerKey(t *testing.T) {
	m := NewKeyedMutex[string]()

	release, err := m.Lock(context.Background(), "a")
	require.NoError(t, err)

	other, err := m.Lock(context.Background(), "b")
	require.NoError(t, err)
	other()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	again, err := m.Lock(context.Background(), "a")
	require.NoError(t, err)
	again()
	assert.Equal(t, 0, m.Held())
}
