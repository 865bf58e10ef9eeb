package public

import (
	"fmt"
	"math/big"

	"github.com/zmlAEQ/Aequa-storage/internal/por"
	"github.com/zmlAEQ/Aequa-storage/internal/por/algebra"
	"github.com/zmlAEQ/Aequa-storage/internal/por/group"
)

// Tagger computes σ_i = x·(H(i) + m_i·u).
type Tagger struct {
	km *KeyMaterial
}

func NewTagger(km *KeyMaterial) (*Tagger, error) {
	if km == nil || km.X == nil {
		return nil, fmt.Errorf("%w: key material", por.ErrInvalidInput)
	}
	return &Tagger{km: km}, nil
}

func (t *Tagger) Scheme() por.Scheme { return Scheme{} }

func (t *Tagger) Tag(i uint64, m *big.Int) (algebra.Element, error) {
	x := t.km.X.Int()
	defer x.SetInt64(0)
	h := group.HashToG1(i)
	return h.Plus(t.km.U.Mul(m)).Mul(x), nil
}
