package ledger

import (
	"crypto/ed25519"
	"crypto/rand"

	"github.com/mr-tron/base58"
	"golang.org/x/xerrors"
)

// Key sizes of Solana-style accounts: a keypair is seed||pubkey.
const (
	PubkeySize  = ed25519.PublicKeySize
	KeypairSize = ed25519.PrivateKeySize
)

// ValidatePubkey checks that s is Base58 for a 32-byte public key.
func ValidatePubkey(s string) error {
	b, err := base58.Decode(s)
	if err != nil || len(b) != PubkeySize {
		return xerrors.Errorf("%w: pubkey %q", ErrInvalidKey, s)
	}
	return nil
}

// PubkeyOf returns the Base58 public key of a Base58 keypair.
func PubkeyOf(keypair string) (string, error) {
	b, err := base58.Decode(keypair)
	if err != nil || len(b) != KeypairSize {
		return "", xerrors.Errorf("%w: keypair", ErrInvalidKey)
	}
	return base58.Encode(b[ed25519.SeedSize:]), nil
}

// NewKeypair returns a fresh Base58 keypair and its public key.
func NewKeypair() (keypair, pubkey string, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", err
	}
	return base58.Encode(priv), base58.Encode(pub), nil
}
