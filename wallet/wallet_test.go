package wallet

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/oasisprotocol/curve25519-voi/primitives/ed25519"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
)

const (
	testSeed      = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	testSecp256k1 = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
)

// verify checks a signature produced by a signer of the given kind.
func verify(kind string, owner, digest, sig []byte) bool {
	switch kind {
	case KindEd25519:
		if len(owner) != ed25519.PublicKeySize {
			return false
		}
		return ed25519.Verify(ed25519.PublicKey(owner), digest, sig)
	case KindSecp256k1:
		// Drop the recovery id.
		if len(sig) != 65 {
			return false
		}
		return ethCrypto.VerifySignature(owner, digest, sig[:64])
	default:
		return false
	}
}

func writeKey(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestSigners(t *testing.T) {
	for _, tc := range []struct {
		kind string
		key  string
	}{
		{KindEd25519, testSeed + "\n"},
		{KindSecp256k1, "0x" + testSecp256k1},
	} {
		t.Run(tc.kind, func(t *testing.T) {
			s, err := LoadSigner(writeKey(t, tc.key), tc.kind)
			require.NoError(t, err)
			require.Equal(t, tc.kind, s.Kind())
			require.NotEmpty(t, s.Address())

			digest := blake2b.Sum256([]byte("bundle"))
			sig, err := s.Sign(digest[:])
			require.NoError(t, err)
			require.True(t, verify(tc.kind, s.Owner(), digest[:], sig))

			other := blake2b.Sum256([]byte("other"))
			require.False(t, verify(tc.kind, s.Owner(), other[:], sig))

			_, err = s.Sign([]byte("short"))
			require.Error(t, err)
		})
	}
}

func TestSecp256k1Address(t *testing.T) {
	s, err := LoadSigner(writeKey(t, testSecp256k1), KindSecp256k1)
	require.NoError(t, err)
	require.True(t, strings.EqualFold("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", s.Address()))
}

func TestEd25519AddressIsStable(t *testing.T) {
	a, err := LoadSigner(writeKey(t, testSeed), KindEd25519)
	require.NoError(t, err)
	b, err := LoadSigner(writeKey(t, testSeed), KindEd25519)
	require.NoError(t, err)
	require.Equal(t, a.Address(), b.Address())
	require.Len(t, a.Address(), 43)
}

func TestLoadSignerErrors(t *testing.T) {
	_, err := LoadSigner(filepath.Join(t.TempDir(), "missing"), KindEd25519)
	require.Error(t, err)

	_, err = LoadSigner(writeKey(t, "zz"), KindEd25519)
	require.Error(t, err)

	_, err = LoadSigner(writeKey(t, "abcd"), KindEd25519)
	require.Error(t, err, "short seed")

	_, err = LoadSigner(writeKey(t, testSeed), "rsa")
	require.Error(t, err)
}
