// Package common contains the data model shared by the pool runtime.
package common

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Arbitrary-precision integer. Wrapper around big.Int to allow for
// custom JSON marshaling. Stake amounts are kept in the ledger's smallest
// denomination.
type BigInt struct {
	big.Int
}

func NewBigInt(v int64) BigInt {
	return BigInt{*big.NewInt(v)}
}

// ParseBigInt parses a base-10 integer.
func ParseBigInt(s string) (BigInt, error) {
	var b BigInt
	if _, ok := b.Int.SetString(strings.TrimSpace(s), 10); !ok {
		return BigInt{}, fmt.Errorf("invalid integer amount '%s'", s)
	}
	return b, nil
}

func (b BigInt) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b *BigInt) UnmarshalText(text []byte) error {
	return b.Int.UnmarshalText(text)
}

func (b BigInt) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`"%s"`, b.String())), nil
}

// UnmarshalJSON accepts both quoted and bare integers; contract state
// serializes small amounts as plain numbers.
func (b *BigInt) UnmarshalJSON(text []byte) error {
	v := strings.Trim(string(text), "\"")
	return b.Int.UnmarshalJSON([]byte(v))
}

// Minus returns b - o.
func (b BigInt) Minus(o BigInt) BigInt {
	var r BigInt
	r.Int.Sub(&b.Int, &o.Int)
	return r
}

// Max returns the larger of a and b.
func Max(a, b BigInt) BigInt {
	if a.Cmp(&b.Int) >= 0 {
		return a
	}
	return b
}

// Names of the tags attached to every committed record. Producers and
// verifiers must agree on these byte for byte.
const (
	TagApplication  = "Application"
	TagPool         = "Pool"
	TagArchitecture = "Architecture"
)

// DefaultApplication is the default value of the Application tag.
const DefaultApplication = "KYVE - DEV"

// Tag is a single name/value pair attached to a ledger transaction.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// TagValue returns the value of the first tag named name.
func TagValue(tags []Tag, name string) (string, bool) {
	for _, t := range tags {
		if t.Name == name {
			return t.Value, true
		}
	}
	return "", false
}

// Record is one unit of data produced by a data source.
type Record struct {
	Data json.RawMessage `json:"data"`
	Tags []Tag           `json:"tags,omitempty"`
}

// Batch is an ordered set of records captured at flush time. A batch
// is never modified after it is handed to the committer.
type Batch struct {
	ID        uuid.UUID
	Records   []Record
	CreatedAt time.Time
}

// Len returns the number of records in the batch.
func (b Batch) Len() int {
	return len(b.Records)
}

// PoolConfig is a snapshot of a pool's configuration as stored in the
// governing contract.
type PoolConfig struct {
	ID           uint64
	Name         string
	Architecture string
	// Uploader is the identity of the pool's producer.
	Uploader     string
	BundleSize   int
	MinimumStake BigInt
	// Config is passed through to data sources and validators untouched.
	Config json.RawMessage
}

// CommitTags returns the tags every record committed to the pool carries,
// in wire order.
func (p *PoolConfig) CommitTags(application string) []Tag {
	return []Tag{
		{Name: TagApplication, Value: application},
		{Name: TagPool, Value: fmt.Sprintf("%d", p.ID)},
		{Name: TagArchitecture, Value: p.Architecture},
	}
}

// StakeState compares the stake this node has locked in a pool to the
// stake it needs.
type StakeState struct {
	Locked   BigInt
	Required BigInt
}

// Deficit returns the amount that still has to be locked, or zero.
func (s *StakeState) Deficit() BigInt {
	d := s.Required.Minus(s.Locked)
	if d.Sign() < 0 {
		return NewBigInt(0)
	}
	return d
}

// LedgerWindow is the range of ledger history a listener has scanned.
// Heights in (LastObserved, Current] are the next window to scan.
type LedgerWindow struct {
	LastObserved uint64 `json:"last_observed"`
	Current      uint64 `json:"current"`
}

// ObservedTransaction is a pool transaction found on the ledger.
type ObservedTransaction struct {
	Ref     string
	Height  uint64
	Tags    []Tag
	Payload []byte
}

// Judgment is a validator's verdict on an observed transaction.
type Judgment struct {
	Valid bool
	Ref   string
}

// DisputeRecord describes a dispute raised against an observed transaction.
type DisputeRecord struct {
	ActionRef      string
	TransactionRef string
	Height         uint64
	RaisedAt       time.Time
}
