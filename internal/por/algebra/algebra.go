// Package algebra defines the element abstraction shared by both audit
// schemes. A value is one of a G1 point, a G2 point or a prime-field element;
// provers and verifiers work against Element and never switch on the concrete
// type.
package algebra

import (
	"errors"
	"math/big"
)

type Kind uint8

const (
	KindG1 Kind = iota + 1
	KindG2
	KindField
)

func (k Kind) String() string {
	switch k {
	case KindG1:
		return "g1"
	case KindG2:
		return "g2"
	case KindField:
		return "field"
	}
	return "unknown"
}

// ErrKindMismatch is returned when combining elements of different kinds or
// groups.
var ErrKindMismatch = errors.New("algebra: element kind mismatch")

// Element is a member of an additively written group.
type Element interface {
	Kind() Kind
	// Add returns the group sum. Elements of another kind, or of the same
	// kind over a different modulus, yield ErrKindMismatch.
	Add(other Element) (Element, error)
	// ScalarMul returns k·e; k is reduced modulo the group order.
	ScalarMul(k *big.Int) Element
	// Bytes is the fixed-width persisted encoding.
	Bytes() []byte
	Equal(other Element) bool
}

// Sum folds Σ coeffs[i]·elems[i] starting from zero.
func Sum(zero Element, coeffs []*big.Int, elems []Element) (Element, error) {
	if len(coeffs) != len(elems) {
		return nil, errors.New("algebra: length mismatch")
	}
	acc := zero
	for i := range elems {
		var err error
		if acc, err = acc.Add(elems[i].ScalarMul(coeffs[i])); err != nil {
			return nil, err
		}
	}
	return acc, nil
}
