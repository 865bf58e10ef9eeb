// Package private implements the symmetric-key audit scheme over a 128-bit
// prime field: σ_i = f_k(i) + α·m_i mod p with f_k an HMAC-SHA256 PRF.
// Only the key holder can verify.
package private

import (
	"fmt"
	"math/big"

	"github.com/zmlAEQ/Aequa-storage/internal/por"
	"github.com/zmlAEQ/Aequa-storage/internal/por/algebra"
)

// ElementSize is the byte width of a field element.
const ElementSize = 16

// Prime is the safe prime 2^128 - 15449.
var Prime = func() *big.Int {
	p, _ := new(big.Int).SetString("ffffffffffffffffffffffffffffc3a7", 16)
	return p
}()

// FieldElement is an integer mod Prime.
type FieldElement struct{ v *big.Int }

var _ algebra.Element = FieldElement{}

// NewFieldElement reduces v mod Prime.
func NewFieldElement(v *big.Int) FieldElement {
	if v == nil {
		return FieldElement{v: new(big.Int)}
	}
	return FieldElement{v: new(big.Int).Mod(v, Prime)}
}

// FieldFromBytes decodes a 16-byte record. Values >= Prime are corrupt.
func FieldFromBytes(b []byte) (FieldElement, error) {
	if len(b) != ElementSize {
		return FieldElement{}, fmt.Errorf("%w: field record %d bytes", por.ErrInvalidInput, len(b))
	}
	v := new(big.Int).SetBytes(b)
	if v.Cmp(Prime) >= 0 {
		return FieldElement{}, fmt.Errorf("%w: field value not reduced", por.ErrInvalidInput)
	}
	return FieldElement{v: v}, nil
}

func (a FieldElement) Kind() algebra.Kind { return algebra.KindField }

func (a FieldElement) Int() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.v)
}

func (a FieldElement) Add(other algebra.Element) (algebra.Element, error) {
	b, ok := other.(FieldElement)
	if !ok {
		return nil, algebra.ErrKindMismatch
	}
	s := a.Int()
	return NewFieldElement(s.Add(s, b.Int())), nil
}

func (a FieldElement) ScalarMul(k *big.Int) algebra.Element {
	s := a.Int()
	if k == nil {
		return NewFieldElement(nil)
	}
	return NewFieldElement(s.Mul(s, k))
}

func (a FieldElement) Bytes() []byte {
	out := make([]byte, ElementSize)
	a.Int().FillBytes(out)
	return out
}

func (a FieldElement) Equal(other algebra.Element) bool {
	b, ok := other.(FieldElement)
	return ok && a.Int().Cmp(b.Int()) == 0
}
