package service

import (
	"context"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/carson-networks/ledger-server/internal/idempotency"
	"github.com/carson-networks/ledger-server/internal/ledger"
	"github.com/carson-networks/ledger-server/internal/operator/actions"
	"github.com/carson-networks/ledger-server/internal/storage"
)

const defaultLimit = storage.DefaultLimit

// TransactionService is the ledger's transaction manager. A create request is
// validated, deduplicated by idempotency key and then recorded in a single
// unit of work on the operator.
type TransactionService struct {
	deps   Dependencies
	tracer trace.Tracer
}

// CreateTransaction records req and returns the new transaction id, or the
// id stored against req's idempotency key. Failures are *ledger.Error values
// except for caller cancellation before any lock was taken.
func (s *TransactionService) CreateTransaction(ctx context.Context, req ledger.TransactionRequest) (*CreateResult, error) {
	ctx, span := s.tracer.Start(ctx, "TransactionService.CreateTransaction", trace.WithAttributes(
		attribute.Int("ledger.entries", len(req.Entries)),
		attribute.Bool("ledger.idempotent", req.IdempotencyKey != ""),
	))
	defer span.End()

	result, err := s.create(ctx, req)
	if err != nil {
		kind := string(ledger.KindOf(err))
		if kind == "" {
			kind = "Canceled"
		}
		s.deps.Metrics.TransactionsRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("ledger.transaction_id", result.TransactionID.String()),
		attribute.Bool("ledger.replayed", result.Replayed),
	)
	return result, nil
}

func (s *TransactionService) create(ctx context.Context, req ledger.TransactionRequest) (*CreateResult, error) {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	key := req.IdempotencyKey

	var hash string
	if key != "" {
		hash = idempotency.Fingerprint(req)
		prior, err := s.lookup(ctx, key, hash)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			return s.replay(ctx, prior)
		}
	}

	if err := ledger.Validate(req.Entries); err != nil {
		return s.reject(ctx, req, hash, err)
	}

	action := &actions.PostTransaction{
		Request:     req,
		RequestHash: hash,
		Guard:       s.deps.Guard,
		Coordinator: s.deps.Coordinator,
		Locker:      s.deps.Locker,
		Metrics:     s.deps.Metrics,
		Now:         s.deps.Now,
	}
	if err := s.deps.Operator.Process(ctx, action); err != nil {
		if ledger.Deterministic(err) {
			return s.reject(ctx, req, hash, err)
		}
		return nil, err
	}

	if action.Prior != nil {
		return s.replay(ctx, action.Prior)
	}

	s.deps.Guard.Remember(ctx, action.Record)
	s.deps.Metrics.TransactionsCommitted.Add(ctx, 1)
	s.deps.Logger.WithFields(logrus.Fields{
		"transactionID": action.Transaction.ID.String(),
		"entries":       len(action.Transaction.Entries),
	}).Info("TransactionService.CreateTransaction.committed")

	return &CreateResult{TransactionID: action.Transaction.ID}, nil
}

// RejectMalformed answers a create request whose body could not be parsed.
// With an idempotency key the rejection is stored like any other deterministic
// rejection, so reusing the key for a different body is still a conflict.
func (s *TransactionService) RejectMalformed(ctx context.Context, key string, raw idempotency.RawRequest, cause error) (*CreateResult, error) {
	result, err := s.rejectMalformed(ctx, strings.TrimSpace(key), raw, cause)
	if err != nil {
		s.deps.Metrics.TransactionsRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(ledger.KindOf(err)))))
	}
	return result, err
}

func (s *TransactionService) rejectMalformed(ctx context.Context, key string, raw idempotency.RawRequest, cause error) (*CreateResult, error) {
	if key == "" {
		return nil, cause
	}
	hash := idempotency.FingerprintRaw(raw)
	prior, err := s.lookup(ctx, key, hash)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return s.replay(ctx, prior)
	}
	return s.reject(ctx, ledger.TransactionRequest{IdempotencyKey: key}, hash, cause)
}

// lookup checks key without locking. Store errors are only logged since the
// unit of work repeats the check under lock.
func (s *TransactionService) lookup(ctx context.Context, key, hash string) (*idempotency.Record, error) {
	prior, err := s.deps.Guard.Lookup(ctx, s.deps.Storage.Reader().Idempotency(), key, hash)
	if err != nil {
		if ledger.KindOf(err) != "" {
			return nil, err
		}
		s.deps.Logger.WithError(err).WithField("idempotencyKey", key).Warn("TransactionService.CreateTransaction.lookup")
		return nil, nil
	}
	return prior, nil
}

func (s *TransactionService) replay(ctx context.Context, rec *idempotency.Record) (*CreateResult, error) {
	s.deps.Metrics.TransactionsReplayed.Add(ctx, 1)
	s.deps.Guard.Remember(ctx, rec)

	id, err := rec.Outcome()
	if err != nil {
		return nil, err
	}
	return &CreateResult{TransactionID: id, Replayed: true}, nil
}

// reject stores a deterministic rejection against the request's key before
// returning it. Failing to store it does not change the answer.
func (s *TransactionService) reject(ctx context.Context, req ledger.TransactionRequest, hash string, rejection error) (*CreateResult, error) {
	if req.IdempotencyKey == "" {
		return nil, rejection
	}

	action := &actions.RecordRejection{
		Key:         req.IdempotencyKey,
		RequestHash: hash,
		Rejection:   rejection,
		Guard:       s.deps.Guard,
	}
	if err := s.deps.Operator.Process(context.WithoutCancel(ctx), action); err != nil {
		if ledger.KindOf(err) == ledger.KindIdempotencyKeyConflict {
			return nil, err
		}
		s.deps.Logger.WithError(err).WithField("idempotencyKey", req.IdempotencyKey).Warn("TransactionService.CreateTransaction.recordRejection")
		return nil, rejection
	}

	if action.Prior != nil {
		return s.replay(ctx, action.Prior)
	}
	s.deps.Guard.Remember(ctx, action.Record)
	return nil, rejection
}

// GetTransaction loads a committed transaction with its entries.
func (s *TransactionService) GetTransaction(ctx context.Context, id uuid.UUID) (*ledger.Transaction, error) {
	return s.deps.Storage.Reader().Transactions().FindByID(ctx, id)
}

// ListTransactions returns a page of transactions using cursor-based pagination.
func (s *TransactionService) ListTransactions(ctx context.Context, cursor *TransactionCursor) ([]*ledger.Transaction, *TransactionCursor, error) {
	limit := defaultLimit
	offset := 0
	var maxCreationTime *time.Time
	filter := &storage.TransactionFilter{}
	if cursor != nil {
		if cursor.Limit > 0 {
			limit = cursor.Limit
		}
		offset = cursor.Position
		if !cursor.MaxCreationTime.IsZero() {
			maxCreationTime = &cursor.MaxCreationTime
		}
		filter.AccountID = cursor.AccountID
	}
	filter.Limit = limit
	filter.Offset = offset
	filter.MaxCreationTime = maxCreationTime

	rows, err := s.deps.Storage.Reader().Transactions().List(ctx, filter)
	if err != nil {
		return nil, nil, err
	}

	if len(rows) == 0 {
		return nil, nil, nil
	}

	var nextCursor *TransactionCursor
	if len(rows) > limit {
		rows = rows[:limit]

		cursorMaxCreationTime := rows[0].CreatedAt
		if maxCreationTime != nil {
			cursorMaxCreationTime = *maxCreationTime
		}

		nextCursor = &TransactionCursor{
			Position:        offset + limit,
			Limit:           limit,
			MaxCreationTime: cursorMaxCreationTime,
			AccountID:       filter.AccountID,
		}
	}

	return rows, nextCursor, nil
}
