package por

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/zmlAEQ/Aequa-storage/pkg/metrics"
)

// Prove aggregates σ = Σ v_i·σ_i and μ = Σ v_i·m_i mod p over the challenged
// records in one pass. The persisted layout has no index, so the whole file
// is scanned even for a sparse challenge.
func Prove(ctx context.Context, s Scheme, records RecordIterator, ch Challenge) (Proof, error) {
	if err := ch.Validate(0); err != nil {
		return Proof{}, err
	}
	begin := time.Now()
	p := s.Order()
	coeffs := ch.coefficients(p)
	sigma := s.Zero()
	mu := new(big.Int)
	found := 0
	var scanned uint64
	for records.Next() {
		if scanned%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return Proof{}, err
			}
		}
		scanned++
		rec := records.Record()
		v, ok := coeffs[rec.Index]
		if !ok {
			continue
		}
		tag, err := s.DecodeTag(rec.Tag)
		if err != nil {
			return Proof{}, fmt.Errorf("%w: record %d: %v", ErrCorruptRecord, rec.Index, err)
		}
		if sigma, err = sigma.Add(tag.ScalarMul(v)); err != nil {
			return Proof{}, err
		}
		m := BlockValue(rec.Block, p)
		mu.Add(mu, m.Mul(m, v))
		mu.Mod(mu, p)
		found++
	}
	if err := records.Err(); err != nil {
		return Proof{}, err
	}
	if found != len(coeffs) {
		return Proof{}, fmt.Errorf("%w: %d of %d challenged blocks present (n=%d)", ErrIndexOutOfRange, found, len(coeffs), scanned)
	}
	metrics.ObserveSummary("por_prove_ms", map[string]string{"scheme": s.Name()}, float64(time.Since(begin).Milliseconds()))
	return Proof{Sigma: sigma, Mu: mu}, nil
}
