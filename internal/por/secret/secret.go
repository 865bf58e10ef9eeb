// Package secret holds key scalars so that they cannot be logged or
// serialized by accident.
package secret

import (
	"errors"
	"math/big"
	"runtime"
)

var ErrNotSerializable = errors.New("secret: scalar is not serializable")

// Scalar is a fixed-width big-endian secret integer. The zero value is an
// empty secret. Use Expose for deliberate persistence.
type Scalar struct {
	b []byte
}

// New copies v into a width-byte secret. v must be non-negative and fit.
func New(v *big.Int, width int) (*Scalar, error) {
	if v == nil || v.Sign() < 0 || (v.BitLen()+7)/8 > width {
		return nil, errors.New("secret: value out of range")
	}
	b := make([]byte, width)
	v.FillBytes(b)
	return wrap(b), nil
}

// FromBytes takes a copy of b.
func FromBytes(b []byte) *Scalar {
	c := make([]byte, len(b))
	copy(c, b)
	return wrap(c)
}

func wrap(b []byte) *Scalar {
	s := &Scalar{b: b}
	runtime.AddCleanup(s, zero, b)
	return s
}

// Int returns the value. The caller owns the result and should not keep it
// longer than needed.
func (s *Scalar) Int() *big.Int {
	if s == nil {
		return new(big.Int)
	}
	return new(big.Int).SetBytes(s.b)
}

// Expose returns a copy of the raw big-endian bytes.
func (s *Scalar) Expose() []byte {
	if s == nil {
		return nil
	}
	c := make([]byte, len(s.b))
	copy(c, s.b)
	return c
}

func (s *Scalar) Len() int {
	if s == nil {
		return 0
	}
	return len(s.b)
}

// Zero wipes the secret in place.
func (s *Scalar) Zero() {
	if s != nil {
		zero(s.b)
	}
}

func (s *Scalar) IsZero() bool {
	if s == nil {
		return true
	}
	for _, c := range s.b {
		if c != 0 {
			return false
		}
	}
	return true
}

func (s *Scalar) String() string   { return "secret.Scalar(redacted)" }
func (s *Scalar) GoString() string { return s.String() }

func (s *Scalar) MarshalJSON() ([]byte, error) { return nil, ErrNotSerializable }
func (s *Scalar) MarshalText() ([]byte, error) { return nil, ErrNotSerializable }

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
