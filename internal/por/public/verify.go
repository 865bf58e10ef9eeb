package public

import (
	"fmt"
	"math/big"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/zmlAEQ/Aequa-storage/internal/por"
	"github.com/zmlAEQ/Aequa-storage/internal/por/group"
	"github.com/zmlAEQ/Aequa-storage/pkg/metrics"
)

// DefaultCacheSize bounds the hash-to-curve cache of a Verifier.
const DefaultCacheSize = 4096

// Verifier checks proofs with public parameters only.
type Verifier struct {
	params Params
	hashes *lru.Cache[uint64, group.G1]
}

// NewVerifier builds a verifier; cacheSize <= 0 selects DefaultCacheSize.
func NewVerifier(p Params, cacheSize int) (*Verifier, error) {
	if p.G.IsIdentity() || p.V.IsIdentity() || p.U.IsIdentity() {
		return nil, fmt.Errorf("%w: identity parameter", por.ErrInvalidInput)
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	c, err := lru.New[uint64, group.G1](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Verifier{params: p, hashes: c}, nil
}

func (v *Verifier) Scheme() por.Scheme { return Scheme{} }

func (v *Verifier) hash(i uint64) group.G1 {
	if h, ok := v.hashes.Get(i); ok {
		return h
	}
	h := group.HashToG1(i)
	v.hashes.Add(i, h)
	return h
}

// Verify accepts iff e(σ, g) == e(Σ v_i·H(i) + μ·u, v).
func (v *Verifier) Verify(ch por.Challenge, p por.Proof) (por.Verdict, error) {
	if err := ch.Validate(0); err != nil {
		return por.Reject, err
	}
	sigma, ok := p.Sigma.(group.G1)
	if !ok || p.Mu == nil {
		return por.Reject, fmt.Errorf("%w: proof is not a g1 proof", por.ErrInvalidInput)
	}
	begin := time.Now()
	acc := group.G1Identity()
	for _, it := range ch.Items {
		acc = acc.Plus(v.hash(it.Index).Mul(it.Coeff))
	}
	acc = acc.Plus(v.params.U.Mul(p.Mu))

	left := group.Pair(sigma, v.params.G)
	right := group.Pair(acc, v.params.V)
	verdict := por.Reject
	if left.Equal(right) {
		verdict = por.Accept
	}
	metrics.Inc("por_verify_total", map[string]string{"scheme": Name, "verdict": verdict.String()})
	metrics.ObserveSummary("por_verify_ms", map[string]string{"scheme": Name}, float64(time.Since(begin).Milliseconds()))
	return verdict, nil
}

// Coefficient reduces a transport coefficient into [0, r).
func Coefficient(b []byte) *big.Int { return group.Reduce(new(big.Int).SetBytes(b)) }
