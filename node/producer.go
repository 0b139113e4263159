package node

import (
	"context"
	"fmt"
	"time"

	"github.com/oasisprotocol/datapool/bundler"
	"github.com/oasisprotocol/datapool/common"
	"github.com/oasisprotocol/datapool/metrics"
	"github.com/oasisprotocol/datapool/storage"
)

// runProducer feeds the source's records into the batch buffer and commits
// a batch whenever the buffer is full. At most one commit is in flight;
// records keep flowing into the buffer meanwhile.
func (n *Node) runProducer(ctx context.Context, pool common.PoolConfig) error {
	buffer := bundler.NewBuffer(pool.BundleSize)
	committer := bundler.NewCommitter(n.ledger, n.signer, pool, n.cfg.Application, n.logger)
	n.mu.Lock()
	n.buffer = buffer
	n.mu.Unlock()
	n.setState(StateActive)

	records := make(chan common.Record, n.cfg.QueueSize)
	sourceDone := make(chan error, 1)
	go func() {
		sourceDone <- n.source.Run(ctx, pool, records)
	}()

	// Commits survive cancellation so a batch is never half-submitted.
	commitCtx := context.WithoutCancel(ctx)
	commitDone := make(chan struct{}, 1)
	committing := false
	maybeCommit := func() {
		if committing || !buffer.Ready() {
			return
		}
		batch := buffer.Flush()
		n.metrics.BufferLength().Set(float64(buffer.Len()))
		committing = true
		go func() {
			n.commit(commitCtx, committer, pool.ID, batch)
			commitDone <- struct{}{}
		}()
	}

	var sourceErr error
loop:
	for {
		select {
		case r := <-records:
			n.append(buffer, r)
			maybeCommit()
		case <-commitDone:
			committing = false
			maybeCommit()
		case sourceErr = <-sourceDone:
			sourceDone = nil
			// Records emitted before the source returned are still queued.
			for len(records) > 0 {
				n.append(buffer, <-records)
			}
			maybeCommit()
		case <-ctx.Done():
			break loop
		}
		if sourceDone == nil && !committing {
			break
		}
	}

	// Let the source return, discarding whatever it still emits.
	for sourceDone != nil {
		select {
		case <-records:
			n.dropped.Add(1)
		case sourceErr = <-sourceDone:
			sourceDone = nil
		}
	}
	if committing {
		n.logger.Info("waiting for in-flight commit")
		<-commitDone
	}
	if remaining := buffer.Len() + len(records); remaining > 0 {
		n.dropped.Add(uint64(remaining))
		n.logger.Warn("dropping buffered records on shutdown", "records", remaining)
	}

	if sourceErr != nil && ctx.Err() == nil {
		return fmt.Errorf("data source: %w", sourceErr)
	}
	n.logger.Info("producer stopped")
	return nil
}

func (n *Node) append(buffer *bundler.Buffer, r common.Record) {
	buffer.Append(r)
	n.metrics.BufferLength().Set(float64(buffer.Len()))
	n.logger.Debug("buffer size is now", "size", buffer.Len(), "threshold", buffer.Threshold())
}

// commit submits batch and accounts for the outcome. Failed batches are
// dropped.
func (n *Node) commit(ctx context.Context, committer *bundler.Committer, pool uint64, batch common.Batch) {
	timer := n.metrics.CommitTimer()
	ref, err := committer.Commit(ctx, batch)
	timer.ObserveDuration()

	entry := storage.CommitEntry{
		Pool:    pool,
		BatchID: batch.ID,
		Records: batch.Len(),
		At:      time.Now(),
	}
	if err != nil {
		n.metrics.Commits(metrics.StatusFailure).Inc()
		n.dropped.Add(uint64(batch.Len()))
		n.logger.Error("failed to commit batch, dropping it",
			"batch_id", batch.ID,
			"records", batch.Len(),
			"err", err,
		)
		entry.Status = storage.CommitStatusDropped
		entry.Error = err.Error()
	} else {
		n.metrics.Commits(metrics.StatusSuccess).Inc()
		n.metrics.CommittedRecords().Add(float64(ref.Items))
		n.committed.Add(1)
		entry.Status = storage.CommitStatusCommitted
		entry.Ref = ref.ID
		entry.Fee = ref.Fee
	}
	if err := n.journal.RecordCommit(ctx, entry); err != nil {
		n.logger.Warn("failed to journal commit", "batch_id", batch.ID, "err", err)
	}
}
