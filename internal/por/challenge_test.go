package por_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/zmlAEQ/Aequa-storage/internal/por"
	"github.com/zmlAEQ/Aequa-storage/internal/por/private"
)

func TestSampler_Bounds(t *testing.T) {
	s := por.NewSampler(nil, private.Prime)
	for n := uint64(0); n < 20; n++ {
		ch, err := s.Sample(n)
		if err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		if uint64(ch.Len()) > n {
			t.Fatalf("n=%d: L=%d", n, ch.Len())
		}
		if ch.Len() == 0 {
			continue
		}
		if err := ch.Validate(n); err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		for _, it := range ch.Items {
			if it.Coeff.Cmp(private.Prime) >= 0 {
				t.Fatalf("coefficient out of range")
			}
		}
	}
}

func TestSampler_FullPermutation(t *testing.T) {
	s := por.NewSampler(nil, private.Prime)
	ch, err := s.SampleN(50, 50)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	seen := map[uint64]bool{}
	for _, i := range ch.Indices() {
		seen[i] = true
	}
	if len(seen) != 50 {
		t.Fatalf("want every index once, got %d", len(seen))
	}
	if _, err := s.SampleN(3, 4); !errors.Is(err, por.ErrSampleTooLarge) {
		t.Fatalf("want ErrSampleTooLarge, got %v", err)
	}
}

func TestSampler_ZeroBlocks(t *testing.T) {
	ch, err := por.NewSampler(nil, private.Prime).Sample(0)
	if err != nil || ch.Len() != 0 {
		t.Fatalf("n=0 must give an empty challenge: %v %d", err, ch.Len())
	}
	if err := ch.Validate(0); !errors.Is(err, por.ErrEmptyChallenge) {
		t.Fatalf("empty challenge must be rejected: %v", err)
	}
}

func TestChallenge_ValidateAndSort(t *testing.T) {
	ch := por.Challenge{Items: []por.Item{
		{Index: 9, Coeff: big.NewInt(1)},
		{Index: 2, Coeff: big.NewInt(1)},
	}}
	if err := ch.Validate(5); !errors.Is(err, por.ErrIndexOutOfRange) {
		t.Fatalf("want out of range, got %v", err)
	}
	if err := ch.Validate(10); err != nil {
		t.Fatalf("validate: %v", err)
	}
	s := ch.Sorted()
	if s.Items[0].Index != 2 || ch.Items[0].Index != 9 {
		t.Fatalf("sorted copy wrong or original mutated")
	}
	neg := por.Challenge{Items: []por.Item{{Index: 0, Coeff: big.NewInt(-1)}}}
	if err := neg.Validate(0); !errors.Is(err, por.ErrInvalidInput) {
		t.Fatalf("negative coefficient: %v", err)
	}
}
