// Package public implements the publicly verifiable audit scheme over
// BLS12-381: σ_i = x·(H(i) + m_i·u), checked with e(σ, g) = e(ΣvᵢH(i) + μ·u, v).
package public

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zmlAEQ/Aequa-storage/internal/por"
	"github.com/zmlAEQ/Aequa-storage/internal/por/group"
	"github.com/zmlAEQ/Aequa-storage/internal/por/secret"
)

// Name identifies the scheme in key files and registries.
const Name = "bls12381"

// Hex lengths of the published parameters.
const (
	G2HexLen = 2 * group.CompressedG2Size
	G1HexLen = 2 * group.CompressedG1Size
)

// KeyMaterial is the owner's key: secret x and the public (g, v=x·g, u).
type KeyMaterial struct {
	X *secret.Scalar
	G group.G2
	V group.G2
	U group.G1
}

// Setup draws x in [0, r), g in G2, u in G1 and derives v. A nil reader
// selects crypto/rand.
func Setup(r io.Reader) (*KeyMaterial, error) {
	x, err := group.RandomScalar(r)
	if err != nil {
		return nil, err
	}
	g, err := group.RandomG2(r)
	if err != nil {
		return nil, err
	}
	u, err := group.RandomG1(r)
	if err != nil {
		return nil, err
	}
	xs, err := secret.New(x, group.ScalarSize)
	x.SetInt64(0)
	if err != nil {
		return nil, err
	}
	return &KeyMaterial{X: xs, G: g, V: g.Mul(xs.Int()), U: u}, nil
}

// NewKeyMaterial rebuilds key material from stored parts and checks that v
// matches x and g.
func NewKeyMaterial(x *secret.Scalar, g group.G2, u group.G1) (*KeyMaterial, error) {
	if x == nil || x.Len() != group.ScalarSize {
		return nil, fmt.Errorf("%w: secret scalar width", por.ErrInvalidInput)
	}
	if g.IsIdentity() || u.IsIdentity() {
		return nil, fmt.Errorf("%w: identity parameter", por.ErrInvalidInput)
	}
	return &KeyMaterial{X: x, G: g, V: g.Mul(x.Int()), U: u}, nil
}

func (k *KeyMaterial) Params() Params { return Params{G: k.G, V: k.V, U: k.U} }

// Destroy wipes the secret scalar.
func (k *KeyMaterial) Destroy() {
	if k != nil {
		k.X.Zero()
	}
}

// Params are the public verification parameters.
type Params struct {
	G group.G2
	V group.G2
	U group.G1
}

// ParamsHex is the transport form: compressed points, lowercase hex.
type ParamsHex struct {
	G string `json:"g" toml:"g"`
	V string `json:"v" toml:"v"`
	U string `json:"u" toml:"u"`
}

func (p Params) Hex() ParamsHex {
	return ParamsHex{
		G: hex.EncodeToString(p.G.Compress()),
		V: hex.EncodeToString(p.V.Compress()),
		U: hex.EncodeToString(p.U.Compress()),
	}
}

// ParseParams validates the exact hex lengths before decompressing.
func ParseParams(h ParamsHex) (Params, error) {
	if len(h.G) != G2HexLen || len(h.V) != G2HexLen || len(h.U) != G1HexLen {
		return Params{}, fmt.Errorf("%w: parameter hex lengths g=%d v=%d u=%d", por.ErrInvalidInput, len(h.G), len(h.V), len(h.U))
	}
	gb, err := hex.DecodeString(h.G)
	if err != nil {
		return Params{}, fmt.Errorf("%w: g: %v", por.ErrInvalidInput, err)
	}
	vb, err := hex.DecodeString(h.V)
	if err != nil {
		return Params{}, fmt.Errorf("%w: v: %v", por.ErrInvalidInput, err)
	}
	ub, err := hex.DecodeString(h.U)
	if err != nil {
		return Params{}, fmt.Errorf("%w: u: %v", por.ErrInvalidInput, err)
	}
	g, err := group.DecompressG2(gb)
	if err != nil {
		return Params{}, err
	}
	v, err := group.DecompressG2(vb)
	if err != nil {
		return Params{}, err
	}
	u, err := group.DecompressG1(ub)
	if err != nil {
		return Params{}, err
	}
	if g.IsIdentity() || v.IsIdentity() || u.IsIdentity() {
		return Params{}, fmt.Errorf("%w: identity parameter", por.ErrInvalidInput)
	}
	return Params{G: g, V: v, U: u}, nil
}
