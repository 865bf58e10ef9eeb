package public

import (
	"fmt"
	"math/big"

	"github.com/zmlAEQ/Aequa-storage/internal/por"
	"github.com/zmlAEQ/Aequa-storage/internal/por/algebra"
	"github.com/zmlAEQ/Aequa-storage/internal/por/group"
)

// Scheme is the por.Scheme view of the pairing variant.
type Scheme struct{}

var _ por.Scheme = Scheme{}

func (Scheme) Name() string          { return Name }
func (Scheme) Order() *big.Int       { return group.Order }
func (Scheme) TagSize() int          { return group.PersistedG1Size }
func (Scheme) Zero() algebra.Element { return group.G1Identity() }

func (Scheme) DecodeTag(b []byte) (algebra.Element, error) { return group.G1FromBytes(b) }

// MarshalProof returns σ compressed (48 bytes) and μ as 32 big-endian bytes.
func (Scheme) MarshalProof(p por.Proof) ([]byte, []byte, error) {
	s, ok := p.Sigma.(group.G1)
	if !ok || p.Mu == nil {
		return nil, nil, fmt.Errorf("%w: proof is not a g1 proof", por.ErrInvalidInput)
	}
	return s.Compress(), group.ScalarBytes(p.Mu), nil
}

func (Scheme) UnmarshalProof(sigma, mu []byte) (por.Proof, error) {
	if len(sigma) != group.CompressedG1Size || len(mu) != group.ScalarSize {
		return por.Proof{}, fmt.Errorf("%w: proof lengths sigma=%d mu=%d", por.ErrInvalidInput, len(sigma), len(mu))
	}
	s, err := group.DecompressG1(sigma)
	if err != nil {
		return por.Proof{}, fmt.Errorf("%w: sigma: %v", por.ErrInvalidInput, err)
	}
	return por.Proof{Sigma: s, Mu: group.Reduce(new(big.Int).SetBytes(mu))}, nil
}
