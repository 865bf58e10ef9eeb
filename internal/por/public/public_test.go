package public

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/zmlAEQ/Aequa-storage/internal/por"
	"github.com/zmlAEQ/Aequa-storage/internal/por/group"
)

func setup(t *testing.T) (*KeyMaterial, *Tagger, *Verifier) {
	t.Helper()
	km, err := Setup(rand.Reader)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	tg, err := NewTagger(km)
	if err != nil {
		t.Fatalf("tagger: %v", err)
	}
	v, err := NewVerifier(km.Params(), 0)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	return km, tg, v
}

func tagAll(t *testing.T, tg *Tagger, data []byte, blockSize int) []por.Record {
	t.Helper()
	ts, err := por.NewTagStream(bytes.NewReader(data), blockSize, tg)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	recs, err := por.Collect(ts)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	return recs
}

func ones(idx ...uint64) por.Challenge {
	var ch por.Challenge
	for _, i := range idx {
		ch.Items = append(ch.Items, por.Item{Index: i, Coeff: big.NewInt(1)})
	}
	return ch
}

func TestThreeBlocks_AcceptThenCorrupt(t *testing.T) {
	_, tg, v := setup(t)
	data := []byte("b0b0b0b0b1b1b1b1b2b2b2b2")
	recs := tagAll(t, tg, data, 8)
	if len(recs) != 3 {
		t.Fatalf("records=%d", len(recs))
	}
	ch := ones(0, 1, 2)
	proof, err := por.Prove(context.Background(), Scheme{}, por.Records(recs), ch)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	got, err := v.Verify(ch, proof)
	if err != nil || got != por.Accept {
		t.Fatalf("verify=%v err=%v", got, err)
	}

	recs[1].Block[0] ^= 0x80
	proof, err = por.Prove(context.Background(), Scheme{}, por.Records(recs), ch)
	if err != nil {
		t.Fatalf("prove corrupted: %v", err)
	}
	got, err = v.Verify(ch, proof)
	if err != nil || got != por.Reject {
		t.Fatalf("corrupted verify=%v err=%v", got, err)
	}
}

func TestCorrectness_RandomChallenges(t *testing.T) {
	_, tg, v := setup(t)
	data := make([]byte, 10*64+17)
	_, _ = rand.Read(data)
	recs := tagAll(t, tg, data, 64)
	s := por.NewSampler(nil, group.Order)
	for i := 0; i < 3; i++ {
		ch, err := s.SampleN(uint64(len(recs)), 4)
		if err != nil {
			t.Fatalf("sample: %v", err)
		}
		proof, err := por.Prove(context.Background(), Scheme{}, por.Records(recs), ch)
		if err != nil {
			t.Fatalf("prove: %v", err)
		}
		if got, err := v.Verify(ch, proof); err != nil || !got.OK() {
			t.Fatalf("round %d verify=%v err=%v", i, got, err)
		}
	}
}

func TestTamper_UnchallengedBlockIgnored(t *testing.T) {
	_, tg, v := setup(t)
	recs := tagAll(t, tg, bytes.Repeat([]byte{7}, 4*32), 32)
	recs[3].Block[5] ^= 1
	ch := ones(0, 2)
	proof, err := por.Prove(context.Background(), Scheme{}, por.Records(recs), ch)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	if got, _ := v.Verify(ch, proof); got != por.Accept {
		t.Fatalf("unchallenged corruption must not matter")
	}
}

func TestIndexBinding_SwappedBlocks(t *testing.T) {
	_, tg, v := setup(t)
	recs := tagAll(t, tg, []byte("aaaaaaaabbbbbbbb"), 8)
	recs[0].Block, recs[1].Block = recs[1].Block, recs[0].Block
	recs[0].Tag, recs[1].Tag = recs[1].Tag, recs[0].Tag
	ch := por.Challenge{Items: []por.Item{{Index: 0, Coeff: big.NewInt(3)}, {Index: 1, Coeff: big.NewInt(5)}}}
	proof, err := por.Prove(context.Background(), Scheme{}, por.Records(recs), ch)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	if got, _ := v.Verify(ch, proof); got != por.Reject {
		t.Fatalf("swapped records must be rejected")
	}
}

func TestReplay_OldProofFailsNewChallenge(t *testing.T) {
	_, tg, v := setup(t)
	recs := tagAll(t, tg, bytes.Repeat([]byte("xyz"), 40), 16)
	old := por.Challenge{Items: []por.Item{{Index: 1, Coeff: big.NewInt(9)}}}
	fresh := por.Challenge{Items: []por.Item{{Index: 1, Coeff: big.NewInt(10)}}}
	proof, err := por.Prove(context.Background(), Scheme{}, por.Records(recs), old)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	if got, _ := v.Verify(fresh, proof); got != por.Reject {
		t.Fatalf("replayed proof must be rejected")
	}
}

func TestTagging_Deterministic(t *testing.T) {
	_, tg, _ := setup(t)
	m := big.NewInt(424242)
	a, _ := tg.Tag(5, m)
	b, _ := tg.Tag(5, m)
	if !a.Equal(b) {
		t.Fatalf("tagging must be deterministic")
	}
	c, _ := tg.Tag(6, m)
	if a.Equal(c) {
		t.Fatalf("index must bind the tag")
	}

	data := bytes.Repeat([]byte("deterministic"), 20)
	first, second := tagAll(t, tg, data, 16), tagAll(t, tg, data, 16)
	for i := range first {
		if !bytes.Equal(first[i].Tag, second[i].Tag) {
			t.Fatalf("record %d: tag differs between runs", i)
		}
	}
}

func TestVerify_EmptyAndDuplicate(t *testing.T) {
	_, _, v := setup(t)
	p := por.Proof{Sigma: group.G1Identity(), Mu: new(big.Int)}
	if _, err := v.Verify(por.Challenge{}, p); !errors.Is(err, por.ErrEmptyChallenge) {
		t.Fatalf("empty: %v", err)
	}
	if _, err := v.Verify(ones(1, 1), p); !errors.Is(err, por.ErrDuplicateIndex) {
		t.Fatalf("dup: %v", err)
	}
}

func TestParams_HexRoundTripAndLengths(t *testing.T) {
	km, _, _ := setup(t)
	h := km.Params().Hex()
	if len(h.G) != 192 || len(h.V) != 192 || len(h.U) != 96 {
		t.Fatalf("hex lengths %d %d %d", len(h.G), len(h.V), len(h.U))
	}
	p, err := ParseParams(h)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !p.G.Equal(km.G) || !p.V.Equal(km.V) || !p.U.Equal(km.U) {
		t.Fatalf("params mismatch")
	}
	bad := h
	bad.U = h.U[:94]
	if _, err := ParseParams(bad); !errors.Is(err, por.ErrInvalidInput) {
		t.Fatalf("short u: %v", err)
	}
	bad = h
	bad.G = strings.Repeat("zz", 96)
	if _, err := ParseParams(bad); !errors.Is(err, por.ErrInvalidInput) {
		t.Fatalf("non-hex g: %v", err)
	}
}

func TestProof_TransportRoundTrip(t *testing.T) {
	_, tg, v := setup(t)
	recs := tagAll(t, tg, bytes.Repeat([]byte{1, 2, 3}, 100), 50)
	ch := ones(0, 3, 5)
	proof, err := por.Prove(context.Background(), Scheme{}, por.Records(recs), ch)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	sigma, mu, err := Scheme{}.MarshalProof(proof)
	if err != nil || len(sigma) != 48 || len(mu) != 32 {
		t.Fatalf("marshal: %v %d %d", err, len(sigma), len(mu))
	}
	back, err := Scheme{}.UnmarshalProof(sigma, mu)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got, _ := v.Verify(ch, back); got != por.Accept {
		t.Fatalf("transported proof rejected")
	}
	if _, err := (Scheme{}).UnmarshalProof(sigma[:47], mu); !errors.Is(err, por.ErrInvalidInput) {
		t.Fatalf("short sigma: %v", err)
	}
}

func TestKeyMaterial_DestroyAndRebuild(t *testing.T) {
	km, _, _ := setup(t)
	again, err := NewKeyMaterial(km.X, km.G, km.U)
	if err != nil || !again.V.Equal(km.V) {
		t.Fatalf("rebuild: %v", err)
	}
	km.Destroy()
	if !km.X.IsZero() {
		t.Fatalf("secret not wiped")
	}
}
