package por_test

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/zmlAEQ/Aequa-storage/internal/por"
	"github.com/zmlAEQ/Aequa-storage/internal/por/private"
)

func tagged(t *testing.T, data []byte, bs int) []por.Record {
	t.Helper()
	k, err := private.GenerateKey(nil)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	tg, _ := private.NewTagger(k)
	ts, err := por.NewTagStream(bytes.NewReader(data), bs, tg)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	recs, err := por.Collect(ts)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if ts.Count() != uint64(len(recs)) {
		t.Fatalf("count=%d records=%d", ts.Count(), len(recs))
	}
	return recs
}

func TestTagStream_ShortFinalBlock(t *testing.T) {
	recs := tagged(t, []byte("0123456789"), 4)
	if len(recs) != 3 {
		t.Fatalf("records=%d", len(recs))
	}
	if string(recs[2].Block) != "89" {
		t.Fatalf("last block=%q", recs[2].Block)
	}
	for i, r := range recs {
		if r.Index != uint64(i) || len(r.Tag) != private.ElementSize {
			t.Fatalf("record %d malformed", i)
		}
	}
	if got := tagged(t, nil, 4); len(got) != 0 {
		t.Fatalf("empty input produced %d records", len(got))
	}
}

func TestTagStream_BadParams(t *testing.T) {
	if _, err := por.NewTagStream(bytes.NewReader(nil), 0, nil); !errors.Is(err, por.ErrInvalidInput) {
		t.Fatalf("want invalid input, got %v", err)
	}
}

func TestProve_Errors(t *testing.T) {
	recs := tagged(t, bytes.Repeat([]byte{1}, 32), 8)
	ctx := context.Background()
	s := private.Scheme{}

	if _, err := por.Prove(ctx, s, por.Records(recs), por.Challenge{}); !errors.Is(err, por.ErrEmptyChallenge) {
		t.Fatalf("empty: %v", err)
	}
	out := por.Challenge{Items: []por.Item{{Index: 4, Coeff: big.NewInt(1)}}}
	if _, err := por.Prove(ctx, s, por.Records(recs), out); !errors.Is(err, por.ErrIndexOutOfRange) {
		t.Fatalf("out of range: %v", err)
	}
	dup := por.Challenge{Items: []por.Item{{Index: 1, Coeff: big.NewInt(1)}, {Index: 1, Coeff: big.NewInt(2)}}}
	if _, err := por.Prove(ctx, s, por.Records(recs), dup); !errors.Is(err, por.ErrDuplicateIndex) {
		t.Fatalf("duplicate: %v", err)
	}

	bad := append([]por.Record(nil), recs...)
	bad[2].Tag = bytes.Repeat([]byte{0xff}, private.ElementSize)
	one := por.Challenge{Items: []por.Item{{Index: 2, Coeff: big.NewInt(1)}}}
	if _, err := por.Prove(ctx, s, por.Records(bad), one); !errors.Is(err, por.ErrCorruptRecord) {
		t.Fatalf("corrupt tag: %v", err)
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := por.Prove(cctx, s, por.Records(recs), one); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled: %v", err)
	}
}

func TestProve_ChallengeOrderIrrelevant(t *testing.T) {
	k, _ := private.GenerateKey(nil)
	tg, _ := private.NewTagger(k)
	v, _ := private.NewVerifier(k)
	ts, _ := por.NewTagStream(bytes.NewReader(bytes.Repeat([]byte("abc"), 30)), 9, tg)
	recs, _ := por.Collect(ts)
	ch := por.Challenge{Items: []por.Item{{Index: 7, Coeff: big.NewInt(3)}, {Index: 0, Coeff: big.NewInt(11)}}}
	p1, err := por.Prove(context.Background(), private.Scheme{}, por.Records(recs), ch)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	p2, _ := por.Prove(context.Background(), private.Scheme{}, por.Records(recs), ch.Sorted())
	if !p1.Sigma.Equal(p2.Sigma) || p1.Mu.Cmp(p2.Mu) != 0 {
		t.Fatalf("proof depends on item order")
	}
	if got, _ := v.Verify(ch, p1); got != por.Accept {
		t.Fatalf("rejected")
	}
}
