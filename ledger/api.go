// Package ledger defines the ledger client the pool runtime depends on and
// implements the windowed ledger listener.
package ledger

import (
	"context"
	"errors"

	"github.com/oasisprotocol/datapool/common"
)

// ErrNotFound is returned when the ledger does not know a transaction.
var ErrNotFound = errors.New("transaction not found")

// TxStatus is the finalization status of a ledger transaction.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxRejected  TxStatus = "rejected"
)

// Query selects tagged transactions from the ledger's search index.
type Query struct {
	// Tags must all be present on a matching transaction.
	Tags []common.Tag
	// Owners restricts matches to transactions signed by these identities.
	Owners []string
	// MinHeight and MaxHeight bound the block height, both inclusive.
	// Zero leaves the bound open.
	MinHeight uint64
	MaxHeight uint64
	// Limit caps the number of results; zero returns all matches.
	Limit int
	// Descending returns the most recent transactions first.
	Descending bool
	// IncludeData fetches each transaction's payload.
	IncludeData bool
}

// Client is the subset of a ledger client used by the pool runtime.
type Client interface {
	// CurrentHeight returns the height of the latest finalized block.
	CurrentHeight(ctx context.Context) (uint64, error)

	// QueryTagged returns the transactions matching q, ordered by height.
	QueryTagged(ctx context.Context, q Query) ([]common.ObservedTransaction, error)

	// Data returns the payload of a transaction.
	Data(ctx context.Context, id string) ([]byte, error)

	// Price returns the fee for storing size bytes.
	Price(ctx context.Context, size int) (common.BigInt, error)

	// Submit posts a signed transaction.
	Submit(ctx context.Context, tx *Transaction) error

	// Status returns the finalization status of a transaction.
	Status(ctx context.Context, id string) (TxStatus, error)
}
