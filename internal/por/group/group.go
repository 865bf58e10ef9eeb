// Package group adapts the BLS12-381 pairing groups from blst to the element
// model used by the audit schemes.
//
// Two encodings exist for G1 points. The persisted form stores three 48-byte
// big-endian coordinates x||y||z of the affine-normalised point (z=1, or all
// zero bytes for the identity) and is what sits next to each data block. The
// published form is the standard compressed encoding (48 bytes for G1, 96 for
// G2), hex encoded when it leaves the process.
package group

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"

	blst "github.com/supranational/blst/bindings/go"

	"github.com/zmlAEQ/Aequa-storage/internal/por/algebra"
)

const (
	// FieldWidth is the byte width of a base-field coordinate.
	FieldWidth = 48
	// PersistedG1Size is the width of an authenticator record.
	PersistedG1Size  = 3 * FieldWidth
	CompressedG1Size = 48
	CompressedG2Size = 96
	ScalarSize       = 32
)

// DST is the hash-to-curve domain separation tag used to map block indices
// to G1.
var DST = []byte("BLS_SIG_BLS12381G1_XMD:SHA-256_SSWU_RO_")

// Order is the prime order r of G1, G2 and GT.
var Order = func() *big.Int {
	b, _ := hex.DecodeString("73eda753299d7d483339d80809a1d80553bda402fffe5bfeffffffff00000001")
	return new(big.Int).SetBytes(b)
}()

var (
	ErrInvalidPoint  = errors.New("group: invalid point")
	ErrInvalidLength = errors.New("group: invalid encoding length")
)

// Reduce returns k mod r as a non-negative integer.
func Reduce(k *big.Int) *big.Int {
	if k == nil {
		return new(big.Int)
	}
	return new(big.Int).Mod(k, Order)
}

// RandomScalar draws a uniform scalar in [0, r).
func RandomScalar(r io.Reader) (*big.Int, error) {
	if r == nil {
		r = rand.Reader
	}
	return rand.Int(r, Order)
}

// randomNonZero draws a uniform scalar in [1, r).
func randomNonZero(r io.Reader) (*big.Int, error) {
	for {
		k, err := RandomScalar(r)
		if err != nil {
			return nil, err
		}
		if k.Sign() != 0 {
			return k, nil
		}
	}
}

func toBlst(k *big.Int) *blst.Scalar {
	var buf [ScalarSize]byte
	Reduce(k).FillBytes(buf[:])
	var s blst.Scalar
	s.FromBEndian(buf[:])
	return &s
}

// ScalarBytes encodes k mod r as 32 big-endian bytes.
func ScalarBytes(k *big.Int) []byte {
	out := make([]byte, ScalarSize)
	Reduce(k).FillBytes(out)
	return out
}

// G1 is a point of the first source group.
type G1 struct{ p blst.P1 }

// G2 is a point of the second source group.
type G2 struct{ p blst.P2 }

var (
	_ algebra.Element = G1{}
	_ algebra.Element = G2{}
)

func G1Generator() G1 { return G1{p: *blst.P1Generator()} }
func G2Generator() G2 { return G2{p: *blst.P2Generator()} }

// G1Identity is the point at infinity.
func G1Identity() G1 { return G1{} }
func G2Identity() G2 { return G2{} }

// RandomG1 returns k·g1 for a fresh non-zero k.
func RandomG1(r io.Reader) (G1, error) {
	k, err := randomNonZero(r)
	if err != nil {
		return G1{}, err
	}
	return G1Generator().Mul(k), nil
}

// RandomG2 returns k·g2 for a fresh non-zero k.
func RandomG2(r io.Reader) (G2, error) {
	k, err := randomNonZero(r)
	if err != nil {
		return G2{}, err
	}
	return G2Generator().Mul(k), nil
}

// IndexBytes is the 32-byte big-endian encoding of a block index fed to the
// hash-to-curve map.
func IndexBytes(i uint64) []byte {
	out := make([]byte, 32)
	new(big.Int).SetUint64(i).FillBytes(out)
	return out
}

// HashToG1 maps a block index to G1 under DST.
func HashToG1(i uint64) G1 {
	return G1{p: *blst.HashToG1(IndexBytes(i), DST)}
}

// ---- G1 ----

func (a G1) Kind() algebra.Kind { return algebra.KindG1 }

func (a G1) Add(other algebra.Element) (algebra.Element, error) {
	b, ok := other.(G1)
	if !ok {
		return nil, algebra.ErrKindMismatch
	}
	return a.Plus(b), nil
}

// Plus is Add without the interface round trip.
func (a G1) Plus(b G1) G1 {
	return G1{p: *a.p.Add(&b.p)}
}

func (a G1) ScalarMul(k *big.Int) algebra.Element { return a.Mul(k) }

// Mul returns k·a with k reduced mod r.
func (a G1) Mul(k *big.Int) G1 {
	return G1{p: *a.p.Mult(toBlst(k))}
}

func (a G1) Equal(other algebra.Element) bool {
	b, ok := other.(G1)
	if !ok {
		return false
	}
	return a.p.Equals(&b.p)
}

func (a G1) IsIdentity() bool {
	id := G1Identity()
	return a.p.Equals(&id.p)
}

// Bytes returns the persisted x||y||z encoding.
func (a G1) Bytes() []byte {
	out := make([]byte, PersistedG1Size)
	if a.IsIdentity() {
		return out
	}
	xy := a.p.ToAffine().Serialize()
	copy(out, xy[:2*FieldWidth])
	out[PersistedG1Size-1] = 1
	return out
}

// Compress returns the 48-byte compressed encoding.
func (a G1) Compress() []byte { return a.p.ToAffine().Compress() }

// G1FromBytes decodes the persisted encoding. Points off the curve or outside
// the prime-order subgroup are rejected.
func G1FromBytes(b []byte) (G1, error) {
	if len(b) != PersistedG1Size {
		return G1{}, fmt.Errorf("%w: g1 record %d bytes", ErrInvalidLength, len(b))
	}
	xy, z := b[:2*FieldWidth], b[2*FieldWidth:]
	switch {
	case allZero(z):
		if !allZero(xy) {
			return G1{}, ErrInvalidPoint
		}
		return G1Identity(), nil
	case allZero(z[:FieldWidth-1]) && z[FieldWidth-1] == 1:
	default:
		return G1{}, ErrInvalidPoint
	}
	aff := new(blst.P1Affine).Deserialize(xy)
	if aff == nil || !aff.InG1() {
		return G1{}, ErrInvalidPoint
	}
	var p blst.P1
	p.FromAffine(aff)
	return G1{p: p}, nil
}

// DecompressG1 decodes a 48-byte compressed point.
func DecompressG1(b []byte) (G1, error) {
	if len(b) != CompressedG1Size {
		return G1{}, fmt.Errorf("%w: compressed g1 %d bytes", ErrInvalidLength, len(b))
	}
	var aff blst.P1Affine
	if aff.Uncompress(b) == nil {
		return G1{}, ErrInvalidPoint
	}
	var p blst.P1
	p.FromAffine(&aff)
	g := G1{p: p}
	if !g.IsIdentity() && !aff.InG1() {
		return G1{}, ErrInvalidPoint
	}
	return g, nil
}

// ---- G2 ----

func (a G2) Kind() algebra.Kind { return algebra.KindG2 }

func (a G2) Add(other algebra.Element) (algebra.Element, error) {
	b, ok := other.(G2)
	if !ok {
		return nil, algebra.ErrKindMismatch
	}
	return a.Plus(b), nil
}

func (a G2) Plus(b G2) G2 { return G2{p: *a.p.Add(&b.p)} }

func (a G2) ScalarMul(k *big.Int) algebra.Element { return a.Mul(k) }

func (a G2) Mul(k *big.Int) G2 { return G2{p: *a.p.Mult(toBlst(k))} }

func (a G2) Equal(other algebra.Element) bool {
	b, ok := other.(G2)
	if !ok {
		return false
	}
	return a.p.Equals(&b.p)
}

func (a G2) IsIdentity() bool {
	id := G2Identity()
	return a.p.Equals(&id.p)
}

// Bytes returns the compressed encoding; G2 points are never stored per block.
func (a G2) Bytes() []byte { return a.Compress() }

func (a G2) Compress() []byte { return a.p.ToAffine().Compress() }

// DecompressG2 decodes a 96-byte compressed point.
func DecompressG2(b []byte) (G2, error) {
	if len(b) != CompressedG2Size {
		return G2{}, fmt.Errorf("%w: compressed g2 %d bytes", ErrInvalidLength, len(b))
	}
	var aff blst.P2Affine
	if aff.Uncompress(b) == nil {
		return G2{}, ErrInvalidPoint
	}
	var p blst.P2
	p.FromAffine(&aff)
	g := G2{p: p}
	if !g.IsIdentity() && !aff.InG2() {
		return G2{}, ErrInvalidPoint
	}
	return g, nil
}

// ---- GT ----

// GT is an element of the target group. The pairing is non-degenerate on
// the prime-order subgroups, so a result equals one exactly when an input is
// the identity; that case is tracked without running the Miller loop.
type GT struct {
	one bool
	b   []byte
}

// Pair computes the reduced pairing e(p, q).
func Pair(p G1, q G2) GT {
	if p.IsIdentity() || q.IsIdentity() {
		return GT{one: true}
	}
	gt := blst.Fp12MillerLoop(q.p.ToAffine(), p.p.ToAffine())
	gt.FinalExp()
	return GT{b: gt.ToBendian()}
}

// Equal compares the big-endian Fp12 encodings coefficient by coefficient.
func (a GT) Equal(b GT) bool {
	if a.one || b.one {
		return a.one == b.one
	}
	if len(a.b) != len(b.b) {
		return false
	}
	var diff byte
	for i := range a.b {
		diff |= a.b[i] ^ b.b[i]
	}
	return diff == 0
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
