package operator

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/carson-networks/ledger-server/internal/ledger"
	"github.com/carson-networks/ledger-server/internal/operator/actions"
	"github.com/carson-networks/ledger-server/internal/storage"
)

// Operator is the worker that processes items from the queue.
type Operator struct {
	storage storage.Storage
	queue   chan ActionItem
	logger  *logrus.Logger
}

func NewOperator(s storage.Storage, queue chan ActionItem, logger *logrus.Logger) *Operator {
	return &Operator{
		storage: s,
		queue:   queue,
		logger:  logger,
	}
}

// Run listens to the queue and processes items. Exits when the queue is closed.
func (o *Operator) Run() {
	for item := range o.queue {
		o.processItem(item)
	}
}

// processItem runs one action in its own unit of work. The unit itself is
// detached from the caller's context: an action decides how long it honours
// cancellation, and commit or rollback always runs to completion.
func (o *Operator) processItem(item ActionItem) {
	if err := item.ctx.Err(); err != nil {
		item.response <- ActionItemResponse{err: err}
		return
	}

	unitCtx := context.WithoutCancel(item.ctx)
	writer, err := o.storage.Write(unitCtx)
	if err != nil {
		item.response <- ActionItemResponse{err: ledger.WrapError(ledger.KindCommitFailure, err, "opening unit of work")}
		return
	}

	err = item.action.Perform(item.ctx, writer)
	if err != nil {
		if rbErr := writer.Rollback(unitCtx); rbErr != nil {
			o.logger.WithError(rbErr).Warn("Operator.processItem.rollback")
		}
		item.response <- ActionItemResponse{err: err}
		return
	}

	if err = writer.Commit(unitCtx); err != nil {
		item.response <- ActionItemResponse{err: ledger.WrapError(ledger.KindCommitFailure, err, "committing unit of work")}
		return
	}

	item.response <- ActionItemResponse{}
}

type ActionItem struct {
	ctx      context.Context
	action   actions.IAction
	response chan ActionItemResponse
}

type ActionItemResponse struct {
	err error
}
