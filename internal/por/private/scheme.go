package private

import (
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"

	"github.com/zmlAEQ/Aequa-storage/internal/por"
	"github.com/zmlAEQ/Aequa-storage/internal/por/algebra"
	"github.com/zmlAEQ/Aequa-storage/pkg/metrics"
)

// Scheme is the por.Scheme view of the field variant.
type Scheme struct{}

var _ por.Scheme = Scheme{}

func (Scheme) Name() string          { return Name }
func (Scheme) Order() *big.Int       { return Prime }
func (Scheme) TagSize() int          { return ElementSize }
func (Scheme) Zero() algebra.Element { return NewFieldElement(nil) }

func (Scheme) DecodeTag(b []byte) (algebra.Element, error) { return FieldFromBytes(b) }

// MarshalProof encodes σ and μ as 16-byte big-endian field elements.
func (Scheme) MarshalProof(p por.Proof) ([]byte, []byte, error) {
	s, ok := p.Sigma.(FieldElement)
	if !ok || p.Mu == nil {
		return nil, nil, fmt.Errorf("%w: proof is not a field proof", por.ErrInvalidInput)
	}
	return s.Bytes(), NewFieldElement(p.Mu).Bytes(), nil
}

func (Scheme) UnmarshalProof(sigma, mu []byte) (por.Proof, error) {
	s, err := FieldFromBytes(sigma)
	if err != nil {
		return por.Proof{}, err
	}
	m, err := FieldFromBytes(mu)
	if err != nil {
		return por.Proof{}, err
	}
	return por.Proof{Sigma: s, Mu: m.Int()}, nil
}

// Tagger computes σ_i = f_k(i) + α·m_i mod p.
type Tagger struct{ key *Key }

func NewTagger(k *Key) (*Tagger, error) {
	if k == nil || k.K == nil || k.Alpha == nil {
		return nil, fmt.Errorf("%w: private key", por.ErrInvalidInput)
	}
	return &Tagger{key: k}, nil
}

func (t *Tagger) Scheme() por.Scheme { return Scheme{} }

func (t *Tagger) Tag(i uint64, m *big.Int) (algebra.Element, error) {
	alpha := t.key.Alpha.Int()
	defer alpha.SetInt64(0)
	v := t.key.prf(i)
	return NewFieldElement(v.Add(v, alpha.Mul(alpha, m))), nil
}

// Verifier checks σ == α·μ + Σ v_i·f_k(i) mod p with the secret key.
type Verifier struct{ key *Key }

func NewVerifier(k *Key) (*Verifier, error) {
	if k == nil || k.K == nil || k.Alpha == nil {
		return nil, fmt.Errorf("%w: private key", por.ErrInvalidInput)
	}
	return &Verifier{key: k}, nil
}

func (v *Verifier) Scheme() por.Scheme { return Scheme{} }

func (v *Verifier) Verify(ch por.Challenge, p por.Proof) (por.Verdict, error) {
	if err := ch.Validate(0); err != nil {
		return por.Reject, err
	}
	sigma, ok := p.Sigma.(FieldElement)
	if !ok || p.Mu == nil {
		return por.Reject, fmt.Errorf("%w: proof is not a field proof", por.ErrInvalidInput)
	}
	begin := time.Now()
	alpha := v.key.Alpha.Int()
	want := alpha.Mul(alpha, p.Mu)
	for _, it := range ch.Items {
		f := v.key.prf(it.Index)
		want.Add(want, f.Mul(f, it.Coeff))
	}
	expect := NewFieldElement(want).Bytes()
	want.SetInt64(0)

	verdict := por.Reject
	if subtle.ConstantTimeCompare(expect, sigma.Bytes()) == 1 {
		verdict = por.Accept
	}
	metrics.Inc("por_verify_total", map[string]string{"scheme": Name, "verdict": verdict.String()})
	metrics.ObserveSummary("por_verify_ms", map[string]string{"scheme": Name}, float64(time.Since(begin).Milliseconds()))
	return verdict, nil
}
