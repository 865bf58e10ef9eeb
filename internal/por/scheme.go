package por

import (
	"math/big"

	"github.com/zmlAEQ/Aequa-storage/internal/por/algebra"
)

// Scheme describes the algebra of one audit variant. Provers and the record
// format only need this view; key material stays with Tagger and Verifier
// implementations.
type Scheme interface {
	// Name identifies the scheme in configs, registries and key files.
	Name() string
	// Order is the modulus p for block values, coefficients and μ.
	Order() *big.Int
	// TagSize is the persisted authenticator width.
	TagSize() int
	// DecodeTag parses a persisted authenticator.
	DecodeTag(b []byte) (algebra.Element, error)
	// Zero is the additive identity of the authenticator group.
	Zero() algebra.Element
	// MarshalProof encodes a proof for transport.
	MarshalProof(p Proof) (sigma, mu []byte, err error)
	// UnmarshalProof parses the transport encoding, validating lengths.
	UnmarshalProof(sigma, mu []byte) (Proof, error)
}

// Tagger computes per-block authenticators under a secret key.
type Tagger interface {
	Scheme() Scheme
	// Tag returns σ_i for block index i with content m (already reduced
	// mod the scheme order).
	Tag(i uint64, m *big.Int) (algebra.Element, error)
}

// Verifier checks a proof against a challenge.
type Verifier interface {
	Scheme() Scheme
	Verify(ch Challenge, p Proof) (Verdict, error)
}

// Proof is the aggregate (σ, μ) for one challenge.
type Proof struct {
	Sigma algebra.Element
	Mu    *big.Int
}

// BlockValue interprets a block as a big-endian integer reduced mod p. A
// short final block is used as-is.
func BlockValue(block []byte, p *big.Int) *big.Int {
	v := new(big.Int).SetBytes(block)
	return v.Mod(v, p)
}
