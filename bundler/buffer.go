// Package bundler batches producer records and commits them to the ledger
// as bundles.
package bundler

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oasisprotocol/datapool/common"
)

// Buffer accumulates records until the pool's bundle size is reached.
// It is not persisted; records still buffered at shutdown are lost.
type Buffer struct {
	mu        sync.Mutex
	records   []common.Record
	threshold int
}

// NewBuffer creates a buffer that is ready to flush at threshold records.
func NewBuffer(threshold int) *Buffer {
	return &Buffer{
		records:   make([]common.Record, 0, threshold),
		threshold: threshold,
	}
}

// Append adds a record and reports whether the buffer reached the threshold.
func (b *Buffer) Append(r common.Record) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, r)
	return len(b.records) >= b.threshold
}

// Ready reports whether the buffer holds at least threshold records.
func (b *Buffer) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records) >= b.threshold
}

// Len returns the number of buffered records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// Threshold returns the flush threshold.
func (b *Buffer) Threshold() int {
	return b.threshold
}

// Flush hands all buffered records over as one batch and leaves the buffer
// empty. Records appended after Flush returns belong to the next batch.
func (b *Buffer) Flush() common.Batch {
	b.mu.Lock()
	records := b.records
	b.records = make([]common.Record, 0, b.threshold)
	b.mu.Unlock()

	return common.Batch{
		ID:        uuid.New(),
		Records:   records,
		CreatedAt: time.Now(),
	}
}
