package private

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"testing"

	"github.com/zmlAEQ/Aequa-storage/internal/por"
	"github.com/zmlAEQ/Aequa-storage/internal/por/group"
)

func setup(t *testing.T) (*Key, *Tagger, *Verifier) {
	t.Helper()
	k, err := GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	tg, _ := NewTagger(k)
	v, _ := NewVerifier(k)
	return k, tg, v
}

func records(t *testing.T, tg *Tagger, data []byte, bs int) []por.Record {
	t.Helper()
	ts, err := por.NewTagStream(bytes.NewReader(data), bs, tg)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	recs, err := por.Collect(ts)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	return recs
}

func TestPrime_Value(t *testing.T) {
	want := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(15449))
	if Prime.Cmp(want) != 0 {
		t.Fatalf("prime mismatch")
	}
	if !Prime.ProbablyPrime(32) {
		t.Fatalf("not prime")
	}
	q := new(big.Int).Rsh(Prime, 1)
	if !q.ProbablyPrime(32) {
		t.Fatalf("not a safe prime")
	}
}

func TestThreeBlocks_AcceptThenCorrupt(t *testing.T) {
	_, tg, v := setup(t)
	recs := records(t, tg, []byte("block-0.block-1.block-2."), 8)
	ch := por.Challenge{Items: []por.Item{{Index: 0, Coeff: big.NewInt(1)}, {Index: 1, Coeff: big.NewInt(1)}, {Index: 2, Coeff: big.NewInt(1)}}}
	proof, err := por.Prove(context.Background(), Scheme{}, por.Records(recs), ch)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	if got, err := v.Verify(ch, proof); err != nil || got != por.Accept {
		t.Fatalf("verify=%v err=%v", got, err)
	}
	recs[1].Block[0] ^= 0x80
	proof, _ = por.Prove(context.Background(), Scheme{}, por.Records(recs), ch)
	if got, _ := v.Verify(ch, proof); got != por.Reject {
		t.Fatalf("corruption not detected")
	}
}

func TestSampled_AcceptAndTransport(t *testing.T) {
	_, tg, v := setup(t)
	data := make([]byte, 1000)
	_, _ = rand.Read(data)
	recs := records(t, tg, data, 64)
	ch, err := por.NewSampler(nil, Prime).SampleN(uint64(len(recs)), 5)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	proof, err := por.Prove(context.Background(), Scheme{}, por.Records(recs), ch)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	sigma, mu, err := Scheme{}.MarshalProof(proof)
	if err != nil || len(sigma) != ElementSize || len(mu) != ElementSize {
		t.Fatalf("marshal: %v", err)
	}
	back, err := Scheme{}.UnmarshalProof(sigma, mu)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got, _ := v.Verify(ch, back); !got.OK() {
		t.Fatalf("rejected")
	}
}

func TestIndexBinding_SwappedBlocks(t *testing.T) {
	_, tg, v := setup(t)
	recs := records(t, tg, []byte("aaaaaaaabbbbbbbb"), 8)
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
	recs := records(t, tg, bytes.Repeat([]byte("xyz"), 40), 16)
	old := por.Challenge{Items: []por.Item{{Index: 1, Coeff: big.NewInt(9)}}}
	fresh := por.Challenge{Items: []por.Item{{Index: 1, Coeff: big.NewInt(10)}}}
	proof, err := por.Prove(context.Background(), Scheme{}, por.Records(recs), old)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	if got, _ := v.Verify(old, proof); got != por.Accept {
		t.Fatalf("proof must verify against its own challenge")
	}
	if got, _ := v.Verify(fresh, proof); got != por.Reject {
		t.Fatalf("replayed proof must be rejected")
	}
}

func TestTagging_Deterministic(t *testing.T) {
	_, tg, _ := setup(t)
	data := bytes.Repeat([]byte("deterministic"), 20)
	first, second := records(t, tg, data, 16), records(t, tg, data, 16)
	if len(first) != len(second) {
		t.Fatalf("record count differs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if !bytes.Equal(first[i].Tag, second[i].Tag) {
			t.Fatalf("record %d: tag differs between runs", i)
		}
	}
	same := records(t, tg, bytes.Repeat([]byte{'a'}, 32), 16)
	if bytes.Equal(same[0].Tag, same[1].Tag) {
		t.Fatalf("index must bind the tag")
	}
}

func TestOtherKeyRejects(t *testing.T) {
	_, tg, _ := setup(t)
	_, _, other := setup(t)
	recs := records(t, tg, []byte("0123456789abcdef"), 4)
	ch := por.Challenge{Items: []por.Item{{Index: 2, Coeff: big.NewInt(77)}}}
	proof, _ := por.Prove(context.Background(), Scheme{}, por.Records(recs), ch)
	if got, _ := other.Verify(ch, proof); got != por.Reject {
		t.Fatalf("foreign key must reject")
	}
}

func TestField_DecodeRejectsUnreduced(t *testing.T) {
	if _, err := FieldFromBytes(bytes.Repeat([]byte{0xff}, ElementSize)); !errors.Is(err, por.ErrInvalidInput) {
		t.Fatalf("want invalid input, got %v", err)
	}
	if _, err := FieldFromBytes(make([]byte, 15)); err == nil {
		t.Fatalf("short record accepted")
	}
	if _, err := NewFieldElement(big.NewInt(1)).Add(group.G1Generator()); err == nil {
		t.Fatalf("kind mismatch accepted")
	}
}

func TestPRF_KnownAnswer(t *testing.T) {
	k, err := NewKey(secretBytes(make([]byte, PRFKeySize)), secretBytes(make([]byte, ElementSize)))
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	a, b := k.prf(1), k.prf(1)
	if a.Cmp(b) != 0 || a.Cmp(Prime) >= 0 {
		t.Fatalf("prf not deterministic or not reduced")
	}
	if a.Cmp(k.prf(2)) == 0 {
		t.Fatalf("prf collision on adjacent indices")
	}
}
