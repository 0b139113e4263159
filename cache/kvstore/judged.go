package kvstore

import (
	"fmt"
	"time"

	"github.com/oasisprotocol/datapool/common"
)

// JudgedEntry is the cached outcome of judging one pool transaction.
type JudgedEntry struct {
	Valid    bool      `json:"valid"`
	Height   uint64    `json:"height"`
	JudgedAt time.Time `json:"judged_at"`
}

// JudgedSet remembers which pool transactions the verifier already judged,
// so that transactions delivered twice are judged and disputed only once.
type JudgedSet struct {
	store KVStore
	pool  uint64
}

// NewJudgedSet returns the judged set of pool, backed by store.
func NewJudgedSet(store KVStore, pool uint64) *JudgedSet {
	return &JudgedSet{store: store, pool: pool}
}

func (j *JudgedSet) key(ref string) CacheKey {
	return CacheKey(fmt.Sprintf("judged/%d/%s", j.pool, ref))
}

// Lookup returns the cached judgment of ref, or nil if ref was not judged.
func (j *JudgedSet) Lookup(ref string) (*JudgedEntry, error) {
	return GetTyped[JudgedEntry](j.store, j.key(ref))
}

// Mark records the judgment of tx.
func (j *JudgedSet) Mark(tx common.ObservedTransaction, judgment common.Judgment) error {
	return PutTyped(j.store, j.key(tx.Ref), &JudgedEntry{
		Valid:    judgment.Valid,
		Height:   tx.Height,
		JudgedAt: time.Now(),
	})
}
