// Package storage defines the activity journal of a pool node.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/oasisprotocol/datapool/common"
)

// CommitStatus is the outcome of a bundle commit.
type CommitStatus string

const (
	CommitStatusCommitted CommitStatus = "committed"
	// CommitStatusDropped marks a batch that failed to bundle or submit.
	// Its records are not retried.
	CommitStatusDropped CommitStatus = "dropped"
)

// CommitEntry describes one bundle commit attempt.
type CommitEntry struct {
	Pool    uint64
	BatchID uuid.UUID
	// Ref is the ledger transaction id, empty when the commit failed.
	Ref     string
	Records int
	Fee     common.BigInt
	Status  CommitStatus
	Error   string
	At      time.Time
}

// Journal records the activity of a pool node for later inspection.
// Journal failures never affect the pool runtime.
type Journal interface {
	// RecordCommit records a bundle commit attempt.
	RecordCommit(ctx context.Context, entry CommitEntry) error

	// RecordDispute records a raised dispute.
	RecordDispute(ctx context.Context, pool uint64, dispute common.DisputeRecord) error

	// RecordWindow records that the listener advanced its window.
	RecordWindow(ctx context.Context, pool uint64, window common.LedgerWindow) error

	// Close releases the resources held by the journal.
	Close()
}

type nopJournal struct{}

// NewNopJournal returns a journal that discards everything.
func NewNopJournal() Journal {
	return nopJournal{}
}

func (nopJournal) RecordCommit(context.Context, CommitEntry) error { return nil }

func (nopJournal) RecordDispute(context.Context, uint64, common.DisputeRecord) error { return nil }

func (nopJournal) RecordWindow(context.Context, uint64, common.LedgerWindow) error { return nil }

func (nopJournal) Close() {}
