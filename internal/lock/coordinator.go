package lock

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/carson-networks/ledger-server/internal/ledger"
)

// Acquirer takes an exclusive hold on a single account.
type Acquirer interface {
	Acquire(ctx context.Context, accountID uuid.UUID) (release func(), err error)
}

// AcquirerFunc adapts a function to Acquirer.
type AcquirerFunc func(ctx context.Context, accountID uuid.UUID) (func(), error)

func (f AcquirerFunc) Acquire(ctx context.Context, accountID uuid.UUID) (func(), error) {
	return f(ctx, accountID)
}

// Coordinator acquires holds on a set of accounts in ascending id order so
// that two units of work sharing accounts can never wait on each other in a cycle.
type Coordinator struct {
	timeout time.Duration
}

func NewCoordinator(timeout time.Duration) *Coordinator {
	return &Coordinator{timeout: timeout}
}

func (c *Coordinator) Timeout() time.Duration {
	return c.timeout
}

// Acquire holds every account in ids or none of them. The returned release
// func frees the holds in reverse order and may be called more than once.
func (c *Coordinator) Acquire(ctx context.Context, acq Acquirer, ids []uuid.UUID) (func(), error) {
	ordered := slices.Clone(ids)
	ledger.SortIDs(ordered)
	ordered = slices.Compact(ordered)

	lockCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	releases := make([]func(), 0, len(ordered))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, id := range ordered {
		release, err := acq.Acquire(lockCtx, id)
		if err != nil {
			releaseAll()
			return nil, c.classify(ctx, id, err)
		}
		releases = append(releases, release)
	}

	var once sync.Once
	return func() { once.Do(releaseAll) }, nil
}

func (c *Coordinator) classify(ctx context.Context, id uuid.UUID, err error) error {
	if ledger.KindOf(err) != "" {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ledger.NewError(ledger.KindLockTimeout, "timed out after %s waiting for account %s", c.timeout, id)
	}
	return ledger.WrapError(ledger.KindCommitFailure, err, "acquiring account "+id.String())
}
