package por

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"sort"
)

// Item is one challenged block index with its coefficient v_i.
type Item struct {
	Index uint64
	Coeff *big.Int
}

// Challenge lists the blocks to spot-check, in the order they were drawn.
type Challenge struct {
	Items []Item
}

func (c Challenge) Len() int { return len(c.Items) }

// Indices returns the challenged indices in draw order.
func (c Challenge) Indices() []uint64 {
	out := make([]uint64, len(c.Items))
	for i, it := range c.Items {
		out[i] = it.Index
	}
	return out
}

// Validate checks that indices are distinct and, when n > 0, below n. An
// empty challenge is rejected: it proves nothing about the file.
func (c Challenge) Validate(n uint64) error {
	if len(c.Items) == 0 {
		return ErrEmptyChallenge
	}
	seen := make(map[uint64]struct{}, len(c.Items))
	for _, it := range c.Items {
		if it.Coeff == nil || it.Coeff.Sign() < 0 {
			return fmt.Errorf("%w: coefficient for index %d", ErrInvalidInput, it.Index)
		}
		if n > 0 && it.Index >= n {
			return fmt.Errorf("%w: %d >= %d", ErrIndexOutOfRange, it.Index, n)
		}
		if _, dup := seen[it.Index]; dup {
			return fmt.Errorf("%w: %d", ErrDuplicateIndex, it.Index)
		}
		seen[it.Index] = struct{}{}
	}
	return nil
}

// coefficients maps index to v_i mod p.
func (c Challenge) coefficients(p *big.Int) map[uint64]*big.Int {
	m := make(map[uint64]*big.Int, len(c.Items))
	for _, it := range c.Items {
		m[it.Index] = new(big.Int).Mod(it.Coeff, p)
	}
	return m
}

// Sampler draws audit challenges from a cryptographically secure source.
type Sampler struct {
	rand  io.Reader
	order *big.Int
}

// NewSampler returns a sampler drawing coefficients in [0, order). A nil
// reader selects crypto/rand.
func NewSampler(r io.Reader, order *big.Int) *Sampler {
	if r == nil {
		r = rand.Reader
	}
	return &Sampler{rand: r, order: new(big.Int).Set(order)}
}

// Sample draws L uniformly in [0, n], then L distinct indices and one
// coefficient per index. n == 0 yields an empty challenge.
func (s *Sampler) Sample(n uint64) (Challenge, error) {
	l, err := s.uniform(n + 1)
	if err != nil {
		return Challenge{}, err
	}
	return s.SampleN(n, l)
}

// SampleN draws exactly l distinct indices from [0, n).
func (s *Sampler) SampleN(n, l uint64) (Challenge, error) {
	if l > n {
		return Challenge{}, fmt.Errorf("%w: %d > %d", ErrSampleTooLarge, l, n)
	}
	idx, err := s.permutationPrefix(n, l)
	if err != nil {
		return Challenge{}, err
	}
	items := make([]Item, len(idx))
	for i, ix := range idx {
		v, err := rand.Int(s.rand, s.order)
		if err != nil {
			return Challenge{}, err
		}
		items[i] = Item{Index: ix, Coeff: v}
	}
	return Challenge{Items: items}, nil
}

// permutationPrefix runs the first l steps of a Fisher-Yates shuffle over
// [0, n). Only touched positions are materialised.
func (s *Sampler) permutationPrefix(n, l uint64) ([]uint64, error) {
	swapped := make(map[uint64]uint64, l)
	at := func(i uint64) uint64 {
		if v, ok := swapped[i]; ok {
			return v
		}
		return i
	}
	out := make([]uint64, 0, l)
	for i := uint64(0); i < l; i++ {
		r, err := s.uniform(n - i)
		if err != nil {
			return nil, err
		}
		j := i + r
		vi, vj := at(i), at(j)
		swapped[i], swapped[j] = vj, vi
		out = append(out, vj)
	}
	return out, nil
}

func (s *Sampler) uniform(bound uint64) (uint64, error) {
	if bound == 0 {
		return 0, nil
	}
	v, err := rand.Int(s.rand, new(big.Int).SetUint64(bound))
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

// Sorted returns a copy of c ordered by index, the order a streaming prover
// meets the blocks in.
func (c Challenge) Sorted() Challenge {
	items := append([]Item(nil), c.Items...)
	sort.Slice(items, func(i, j int) bool { return items[i].Index < items[j].Index })
	return Challenge{Items: items}
}
