// Package dispute escalates invalid pool transactions to the governing
// contract.
package dispute

import (
	"context"
	"fmt"
	"time"

	"github.com/oasisprotocol/datapool/common"
	"github.com/oasisprotocol/datapool/contract"
	"github.com/oasisprotocol/datapool/log"
	"github.com/oasisprotocol/datapool/metrics"
	"github.com/oasisprotocol/datapool/storage"
)

// ActionSubmitter submits contract actions. contract.Facade implements it.
type ActionSubmitter interface {
	SubmitAction(ctx context.Context, kind contract.ActionKind, payload contract.Payload) (contract.ActionRef, error)
}

// Escalator raises a dispute for every transaction judged invalid.
type Escalator struct {
	submitter ActionSubmitter
	pool      uint64
	journal   storage.Journal
	metrics   *metrics.PoolMetrics
	logger    *log.Logger
}

// NewEscalator creates an escalator for pool. The journal may be nil.
func NewEscalator(submitter ActionSubmitter, pool uint64, journal storage.Journal, m *metrics.PoolMetrics, logger *log.Logger) *Escalator {
	if journal == nil {
		journal = storage.NewNopJournal()
	}
	return &Escalator{
		submitter: submitter,
		pool:      pool,
		journal:   journal,
		metrics:   m,
		logger:    logger.WithModule("dispute").With("pool", pool),
	}
}

// OnInvalid submits one deny action for tx. It does not retry; the caller
// decides what to do with a failure.
func (e *Escalator) OnInvalid(ctx context.Context, tx common.ObservedTransaction) (*common.DisputeRecord, error) {
	ref, err := e.submitter.SubmitAction(ctx, contract.ActionDeny, contract.Payload{Transaction: tx.Ref})
	if err != nil {
		e.metrics.Disputes(metrics.StatusFailure).Inc()
		e.logger.Error("failed to raise a dispute", "tx_id", tx.Ref, "height", tx.Height, "err", err)
		return nil, fmt.Errorf("disputing %s: %w", tx.Ref, err)
	}
	e.metrics.Disputes(metrics.StatusSuccess).Inc()

	record := &common.DisputeRecord{
		ActionRef:      string(ref),
		TransactionRef: tx.Ref,
		Height:         tx.Height,
		RaisedAt:       time.Now(),
	}
	e.logger.Info("raised a dispute in the DAO", "tx_id", tx.Ref, "action", ref)
	if err := e.journal.RecordDispute(ctx, e.pool, *record); err != nil {
		e.logger.Warn("failed to journal dispute", "tx_id", tx.Ref, "err", err)
	}
	return record, nil
}
