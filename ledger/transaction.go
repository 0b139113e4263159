package ledger

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/oasisprotocol/datapool/common"
)

// Signer signs ledger transactions on behalf of a wallet.
type Signer interface {
	// Address is the identity transactions signed by this signer are
	// attributed to.
	Address() string
	// Owner is the public key embedded into signed transactions.
	Owner() []byte
	// Sign signs a 32-byte digest.
	Sign(digest []byte) ([]byte, error)
}

// Transaction is a ledger transaction. Bundled data items use the same
// layout.
type Transaction struct {
	ID        string        `json:"id"`
	Owner     []byte        `json:"owner"`
	Tags      []common.Tag  `json:"tags"`
	Data      []byte        `json:"data"`
	Reward    common.BigInt `json:"reward"`
	Signature []byte        `json:"signature"`
}

// AddTag appends a tag to the transaction.
func (tx *Transaction) AddTag(name, value string) {
	tx.Tags = append(tx.Tags, common.Tag{Name: name, Value: value})
}

// SignatureDigest returns the digest covered by the transaction signature.
// Every field is length-prefixed so that no two transactions share a digest.
func (tx *Transaction) SignatureDigest() []byte {
	h, _ := blake2b.New256(nil) // Only fails for oversized keys.
	write := func(b []byte) {
		var l [8]byte
		binary.BigEndian.PutUint64(l[:], uint64(len(b)))
		_, _ = h.Write(l[:])
		_, _ = h.Write(b)
	}
	write(tx.Owner)
	write([]byte(tx.Reward.String()))
	for _, t := range tx.Tags {
		write([]byte(t.Name))
		write([]byte(t.Value))
	}
	write(tx.Data)
	return h.Sum(nil)
}

// Sign sets the owner, signature and id of the transaction.
func Sign(tx *Transaction, signer Signer) error {
	tx.Owner = signer.Owner()
	sig, err := signer.Sign(tx.SignatureDigest())
	if err != nil {
		return fmt.Errorf("signing transaction: %w", err)
	}
	tx.Signature = sig
	id := blake2b.Sum256(sig)
	tx.ID = base64.RawURLEncoding.EncodeToString(id[:])
	return nil
}
