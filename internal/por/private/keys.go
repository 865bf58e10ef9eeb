package private

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"math/big"

	"github.com/zmlAEQ/Aequa-storage/internal/por"
	"github.com/zmlAEQ/Aequa-storage/internal/por/group"
	"github.com/zmlAEQ/Aequa-storage/internal/por/secret"
)

// Name identifies the scheme in key files and registries.
const Name = "hmac-prime128"

// PRFKeySize is the width of the PRF key k.
const PRFKeySize = 32

// Key is the owner's secret (k, α).
type Key struct {
	K     *secret.Scalar
	Alpha *secret.Scalar
}

// GenerateKey draws k uniformly from 32 bytes and α uniformly in [0, p). A
// nil reader selects crypto/rand.
func GenerateKey(r io.Reader) (*Key, error) {
	if r == nil {
		r = rand.Reader
	}
	kb := make([]byte, PRFKeySize)
	if _, err := io.ReadFull(r, kb); err != nil {
		return nil, err
	}
	alpha, err := rand.Int(r, Prime)
	if err != nil {
		return nil, err
	}
	k := secret.FromBytes(kb)
	for i := range kb {
		kb[i] = 0
	}
	a, err := secret.New(alpha, ElementSize)
	alpha.SetInt64(0)
	if err != nil {
		return nil, err
	}
	return &Key{K: k, Alpha: a}, nil
}

// NewKey validates stored parts.
func NewKey(k, alpha *secret.Scalar) (*Key, error) {
	if k.Len() != PRFKeySize || alpha.Len() != ElementSize {
		return nil, fmt.Errorf("%w: private key widths", por.ErrInvalidInput)
	}
	if alpha.Int().Cmp(Prime) >= 0 {
		return nil, fmt.Errorf("%w: alpha not reduced", por.ErrInvalidInput)
	}
	return &Key{K: k, Alpha: alpha}, nil
}

func (k *Key) Destroy() {
	if k != nil {
		k.K.Zero()
		k.Alpha.Zero()
	}
}

// prf is f_k(i) = HMAC-SHA256(k, i as 32-byte big-endian) mod p.
func (k *Key) prf(i uint64) *big.Int {
	kb := k.K.Expose()
	defer clear(kb)
	mac := hmac.New(sha256.New, kb)
	mac.Write(group.IndexBytes(i))
	v := new(big.Int).SetBytes(mac.Sum(nil))
	return v.Mod(v, Prime)
}
