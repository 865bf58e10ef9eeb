package erasure

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

func encode(t *testing.T, c *Codec, data []byte) []byte {
	t.Helper()
	var out bytes.Buffer
	n, err := c.Encode(bytes.NewReader(data), &out)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if n != int64(out.Len()) || n != EncodedSize(int64(len(data))) {
		t.Fatalf("size n=%d buf=%d want=%d", n, out.Len(), EncodedSize(int64(len(data))))
	}
	return out.Bytes()
}

func TestRoundTrip_Sizes(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, size := range []int{0, 1, 244, 245, 246, 490, 1000} {
		data := make([]byte, size)
		_, _ = rand.Read(data)
		enc := encode(t, c, data)
		if size > 0 && !bytes.Equal(enc[:min(size, DataSymbols)], data[:min(size, DataSymbols)]) {
			t.Fatalf("size %d: code is not systematic", size)
		}
		var out bytes.Buffer
		st, err := c.Decode(bytes.NewReader(enc), &out)
		if err != nil {
			t.Fatalf("size %d decode: %v", size, err)
		}
		if st.Corrected != 0 || !bytes.Equal(out.Bytes(), data) {
			t.Fatalf("size %d mismatch", size)
		}
	}
}

func TestDecode_CorrectsUnknownErrors(t *testing.T) {
	c, _ := New()
	data := make([]byte, 600)
	_, _ = rand.Read(data)
	enc := encode(t, c, data)
	// five errors in the first codeword (four in data), three in the shortened tail (two in data)
	for _, i := range []int{0, 17, 100, 244, 250} {
		enc[i] ^= 0x80
	}
	for _, i := range []int{510, 520, len(enc) - 1} {
		enc[i] ^= 0x01
	}
	var out bytes.Buffer
	st, err := c.Decode(bytes.NewReader(enc), &out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(out.Bytes(), data) {
		t.Fatalf("data not recovered")
	}
	if st.Codewords != 3 || st.Corrected != 6 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestDecode_TooManyErrors(t *testing.T) {
	c, _ := New()
	data := make([]byte, 245)
	enc := encode(t, c, data)
	for i := 0; i < 40; i++ {
		enc[i*6] ^= 0xff
	}
	var out bytes.Buffer
	if _, err := c.Decode(bytes.NewReader(enc), &out); err == nil {
		// a heavily corrupted word may decode to another codeword; it must not decode to the original
		if bytes.Equal(out.Bytes(), data) {
			t.Fatalf("unexpected recovery")
		}
	}
}

func TestDecode_Truncated(t *testing.T) {
	c, _ := New()
	enc := encode(t, c, make([]byte, 300))
	if _, err := c.Decode(bytes.NewReader(enc[:255+5]), &bytes.Buffer{}); !errors.Is(err, ErrTruncated) {
		t.Fatalf("want ErrTruncated, got %v", err)
	}
}
