package secret

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"testing"
)

func TestScalar_Redacted(t *testing.T) {
	s, err := New(big.NewInt(0xdeadbeef), 32)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, out := range []string{fmt.Sprint(s), fmt.Sprintf("%v", s), fmt.Sprintf("%#v", s)} {
		if strings.Contains(out, "deadbeef") || strings.Contains(out, "3735928559") {
			t.Fatalf("secret leaked in %q", out)
		}
	}
	if _, err := json.Marshal(struct{ K *Scalar }{s}); err == nil {
		t.Fatalf("json marshal should fail")
	}
}

func TestScalar_ZeroAndExpose(t *testing.T) {
	s, _ := New(big.NewInt(7), 16)
	b := s.Expose()
	if len(b) != 16 || b[15] != 7 {
		t.Fatalf("expose: %x", b)
	}
	s.Zero()
	if !s.IsZero() || s.Int().Sign() != 0 {
		t.Fatalf("zero did not wipe")
	}
	if b[15] != 7 {
		t.Fatalf("exposed copy must be independent")
	}
}

func TestNew_OutOfRange(t *testing.T) {
	if _, err := New(new(big.Int).Lsh(big.NewInt(1), 128), 16); err == nil {
		t.Fatalf("want range error")
	}
	if _, err := New(big.NewInt(-1), 16); err == nil {
		t.Fatalf("want error for negative")
	}
}
