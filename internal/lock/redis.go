package lock

import (
	"context"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/carson-networks/ledger-server/internal/ledger"
)

const maxLeaseTries = 1000

// RedisOptions configures account leases held in Redis.
type RedisOptions struct {
	// Prefix is prepended to the account id to build the lease key.
	Prefix string
	// Expiry bounds how long a crashed holder can keep an account.
	Expiry     time.Duration
	RetryDelay time.Duration
}

func DefaultRedisOptions() RedisOptions {
	return RedisOptions{
		Prefix:     "ledger:account:",
		Expiry:     30 * time.Second,
		RetryDelay: 10 * time.Millisecond,
	}
}

// RedisAcquirer holds accounts through redsync leases, for deployments where
// several ledger instances share one store without relying on its row locks.
type RedisAcquirer struct {
	rs     *redsync.Redsync
	opts   RedisOptions
	logger *logrus.Logger
}

func NewRedisAcquirer(client redis.UniversalClient, opts RedisOptions, logger *logrus.Logger) *RedisAcquirer {
	if opts.Prefix == "" {
		opts.Prefix = DefaultRedisOptions().Prefix
	}
	if opts.Expiry <= 0 {
		opts.Expiry = DefaultRedisOptions().Expiry
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRedisOptions().RetryDelay
	}
	return &RedisAcquirer{
		rs:     redsync.New(goredis.NewPool(client)),
		opts:   opts,
		logger: logger,
	}
}

func (r *RedisAcquirer) Acquire(ctx context.Context, accountID uuid.UUID) (func(), error) {
	key := r.opts.Prefix + accountID.String()
	mutex := r.rs.NewMutex(
		key,
		redsync.WithExpiry(r.opts.Expiry),
		redsync.WithTries(maxLeaseTries),
		redsync.WithRetryDelay(r.opts.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ledger.WrapError(ledger.KindLockTimeout, err, "lease for account "+accountID.String())
	}

	return func() {
		ok, err := mutex.UnlockContext(context.Background())
		if err != nil || !ok {
			r.logger.WithError(err).WithField("lockKey", key).Warn("RedisAcquirer.Release.failed")
		}
	}, nil
}
