// Package wallet loads the node's signing key.
package wallet

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/oasisprotocol/curve25519-voi/primitives/ed25519"
	"golang.org/x/crypto/blake2b"
)

// Supported key types.
const (
	KindEd25519   = "ed25519"
	KindSecp256k1 = "secp256k1"
)

// Signer signs ledger transactions with the node's key. It implements
// ledger.Signer.
type Signer struct {
	kind    string
	address string
	owner   []byte
	sign    func(digest []byte) ([]byte, error)
}

// Kind returns the key type.
func (s *Signer) Kind() string {
	return s.kind
}

// Address returns the identity the pool contract knows this node by.
func (s *Signer) Address() string {
	return s.address
}

// Owner returns the public key.
func (s *Signer) Owner() []byte {
	return s.owner
}

// Sign signs a 32-byte digest.
func (s *Signer) Sign(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	return s.sign(digest)
}

// NewEd25519Signer creates a signer from a 32-byte ed25519 seed. The
// address is the unpadded base64url encoding of the BLAKE2b-256 hash of the
// public key.
func NewEd25519Signer(seed []byte) (*Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	addr := blake2b.Sum256(pub)
	return &Signer{
		kind:    KindEd25519,
		address: base64.RawURLEncoding.EncodeToString(addr[:]),
		owner:   []byte(pub),
		sign: func(digest []byte) ([]byte, error) {
			return ed25519.Sign(priv, digest), nil
		},
	}, nil
}

// NewSecp256k1Signer creates a signer from a secp256k1 private key. The
// address is the checksummed Ethereum address of the key.
func NewSecp256k1Signer(key *ecdsa.PrivateKey) *Signer {
	return &Signer{
		kind:    KindSecp256k1,
		address: ethCrypto.PubkeyToAddress(key.PublicKey).Hex(),
		owner:   ethCrypto.FromECDSAPub(&key.PublicKey),
		sign: func(digest []byte) ([]byte, error) {
			return ethCrypto.Sign(digest, key)
		},
	}
}

// LoadSigner reads a hex-encoded key of the given kind from path.
func LoadSigner(path string, kind string) (*Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	encoded := strings.TrimPrefix(strings.TrimSpace(string(raw)), "0x")

	switch kind {
	case KindEd25519:
		seed, err := hex.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decoding ed25519 seed: %w", err)
		}
		return NewEd25519Signer(seed)
	case KindSecp256k1:
		key, err := ethCrypto.HexToECDSA(encoded)
		if err != nil {
			return nil, fmt.Errorf("decoding secp256k1 key: %w", err)
		}
		return NewSecp256k1Signer(key), nil
	default:
		return nil, fmt.Errorf("unsupported key type '%s'", kind)
	}
}
