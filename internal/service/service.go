package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/carson-networks/ledger-server/internal/idempotency"
	"github.com/carson-networks/ledger-server/internal/lock"
	"github.com/carson-networks/ledger-server/internal/operator/actions"
	"github.com/carson-networks/ledger-server/internal/storage"
	"github.com/carson-networks/ledger-server/internal/telemetry"
)

const tracerName = "github.com/carson-networks/ledger-server/internal/service"

// ErrNotFound is returned when a requested account or transaction does not exist.
var ErrNotFound = storage.ErrNotFound

// Processor runs an action inside one unit of work.
type Processor interface {
	Process(ctx context.Context, action actions.IAction) error
}

// Dependencies wires the services.
type Dependencies struct {
	Storage     storage.Storage
	Operator    Processor
	Guard       *idempotency.Guard
	Coordinator *lock.Coordinator
	// Locker replaces the storage backend's account locks, e.g. with Redis leases.
	Locker      lock.Acquirer
	Metrics     *telemetry.Metrics
	Logger      *logrus.Logger
	Now         func() time.Time
}

// Service holds all business logic services.
type Service struct {
	Transaction *TransactionService
	Account     *AccountService
}

// NewService creates a new Service from its dependencies.
func NewService(deps Dependencies) *Service {
	if deps.Metrics == nil {
		deps.Metrics = telemetry.NopMetrics()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	return &Service{
		Transaction: &TransactionService{
			deps:   deps,
			tracer: otel.Tracer(tracerName),
		},
		Account: NewAccountService(deps),
	}
}
