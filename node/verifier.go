package node

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/oasisprotocol/datapool/cache/kvstore"
	"github.com/oasisprotocol/datapool/common"
	"github.com/oasisprotocol/datapool/dispute"
	"github.com/oasisprotocol/datapool/ledger"
)

// runVerifier tails the ledger for the producer's commits and judges them.
func (n *Node) runVerifier(ctx context.Context, pool common.PoolConfig) error {
	listener := ledger.NewListener(n.ledger, ledger.ListenerConfig{
		PollInterval: n.cfg.PollInterval,
		Pool:         pool.ID,
		Tags:         pool.CommitTags(n.cfg.Application),
		Owners:       []string{pool.Uploader},
	}, n.journal, n.metrics, n.logger)
	n.mu.Lock()
	n.listener = listener
	n.mu.Unlock()
	n.setState(StateActive)

	observed := make(chan common.ObservedTransaction, n.cfg.QueueSize)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(observed)
		return listener.Start(gctx, observed)
	})
	g.Go(func() error {
		return n.verify(gctx, pool, observed)
	})
	err := g.Wait()
	n.logger.Info("verifier stopped", "window", listener.Window().LastObserved)
	return err
}

// verify judges the observed transactions and disputes the invalid ones.
// Transactions that were already judged are skipped. verify returns once
// observed is closed and every forwarded transaction was judged.
func (n *Node) verify(ctx context.Context, pool common.PoolConfig, observed <-chan common.ObservedTransaction) error {
	judgedSet := kvstore.NewJudgedSet(n.cache, pool.ID)
	escalator := dispute.NewEscalator(n.contract, pool.ID, n.journal, n.metrics, n.logger)

	fresh := make(chan common.ObservedTransaction, n.cfg.QueueSize)
	judgments := make(chan common.Judgment, n.cfg.QueueSize)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(fresh)
		n.dedupe(gctx, judgedSet, observed, fresh)
		return nil
	})
	g.Go(func() error {
		defer close(judgments)
		if err := n.validator.Validate(gctx, pool, fresh, judgments); err != nil {
			return fmt.Errorf("validator: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		n.handleJudgments(ctx, judgedSet, escalator, judgments)
		return nil
	})
	return g.Wait()
}

// dedupe forwards the transactions that were neither judged before nor
// are waiting for a judgment.
func (n *Node) dedupe(ctx context.Context, judgedSet *kvstore.JudgedSet, in <-chan common.ObservedTransaction, out chan<- common.ObservedTransaction) {
	for tx := range in {
		if !n.claim(judgedSet, tx) {
			continue
		}
		n.logger.Info("parsing transaction", "tx_id", tx.Ref, "height", tx.Height)
		select {
		case out <- tx:
		case <-ctx.Done():
			return
		}
	}
}

// handleJudgments records every judgment and escalates the negative ones.
func (n *Node) handleJudgments(ctx context.Context, judgedSet *kvstore.JudgedSet, escalator *dispute.Escalator, judgments <-chan common.Judgment) {
	// Disputes raised during shutdown are still submitted.
	escalateCtx := context.WithoutCancel(ctx)
	for j := range judgments {
		tx, ok := n.settle(judgedSet, j)
		if !ok {
			n.logger.Warn("ignoring judgment of a transaction that is not awaiting one", "tx_id", j.Ref)
			continue
		}
		n.judged.Add(1)
		n.metrics.Judgments(j.Valid).Inc()

		if j.Valid {
			n.logger.Info("successfully validated a block", "tx_id", tx.Ref)
			continue
		}
		n.invalid.Add(1)
		n.logger.Warn("found an invalid block", "tx_id", tx.Ref, "height", tx.Height)
		if _, err := escalator.OnInvalid(escalateCtx, tx); err == nil {
			n.disputes.Add(1)
		}
	}
}

// claim reserves tx for judging unless it was judged already or is
// awaiting a judgment.
func (n *Node) claim(judgedSet *kvstore.JudgedSet, tx common.ObservedTransaction) bool {
	n.pendingMu.Lock()
	defer n.pendingMu.Unlock()
	if _, ok := n.pending[tx.Ref]; ok {
		return false
	}
	entry, err := judgedSet.Lookup(tx.Ref)
	if err != nil {
		n.logger.Warn("failed to look up judged transaction", "tx_id", tx.Ref, "err", err)
	}
	if entry != nil {
		n.logger.Debug("skipping already judged transaction", "tx_id", tx.Ref, "valid", entry.Valid)
		return false
	}
	n.pending[tx.Ref] = tx
	return true
}

// settle records judgment j and releases the reservation of its
// transaction.
func (n *Node) settle(judgedSet *kvstore.JudgedSet, j common.Judgment) (common.ObservedTransaction, bool) {
	n.pendingMu.Lock()
	defer n.pendingMu.Unlock()
	tx, ok := n.pending[j.Ref]
	if !ok {
		return tx, false
	}
	if err := judgedSet.Mark(tx, j); err != nil {
		n.logger.Warn("failed to cache judgment", "tx_id", tx.Ref, "err", err)
	}
	delete(n.pending, j.Ref)
	return tx, true
}
