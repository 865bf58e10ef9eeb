// Package erasure wraps the file in a systematic Reed-Solomon RS(255,245)
// code over GF(2^8) before tagging. Each 245-byte chunk becomes a 255-byte
// codeword (data followed by 10 parity symbols), so up to 5 corrupted bytes
// per codeword are corrected on decode without knowing their positions.
//
// The final chunk is shortened: it is zero-padded for encoding and the
// padding is not written, so a file of n bytes encodes to
// 255*(n/245) + (n%245 + 10 when n%245 > 0) bytes.
package erasure

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/vivint/infectious"

	"github.com/zmlAEQ/Aequa-storage/pkg/metrics"
)

const (
	DataSymbols   = 245
	CodeSymbols   = 255
	ParitySymbols = CodeSymbols - DataSymbols
	// MaxCorrectable is the number of unknown symbol errors one codeword absorbs.
	MaxCorrectable = ParitySymbols / 2
)

var (
	ErrUncorrectable = errors.New("erasure: codeword has too many errors")
	ErrTruncated     = errors.New("erasure: truncated codeword")
)

// Codec is safe for concurrent use.
type Codec struct {
	fec *infectious.FEC
}

func New() (*Codec, error) {
	f, err := infectious.NewFEC(DataSymbols, CodeSymbols)
	if err != nil {
		return nil, err
	}
	return &Codec{fec: f}, nil
}

// EncodedSize is the encoded length of an n-byte input.
func EncodedSize(n int64) int64 {
	out := (n / DataSymbols) * CodeSymbols
	if r := n % DataSymbols; r > 0 {
		out += r + ParitySymbols
	}
	return out
}

// Stats summarises a decode.
type Stats struct {
	Codewords int
	Corrected int
}

// Encode reads src to EOF and writes the codewords to dst.
func (c *Codec) Encode(src io.Reader, dst io.Writer) (int64, error) {
	bw := bufio.NewWriter(dst)
	chunk := make([]byte, DataSymbols)
	word := make([]byte, CodeSymbols)
	var written int64
	for {
		n, err := io.ReadFull(src, chunk)
		if n == 0 && errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return written, err
		}
		clear(chunk[n:])
		if err := c.encodeWord(chunk, word); err != nil {
			return written, err
		}
		out := append(word[:n:n], word[DataSymbols:]...)
		if _, err := bw.Write(out); err != nil {
			return written, err
		}
		written += int64(len(out))
		if n < DataSymbols {
			break
		}
	}
	return written, bw.Flush()
}

func (c *Codec) encodeWord(chunk, word []byte) error {
	return c.fec.Encode(chunk, func(s infectious.Share) {
		word[s.Number] = s.Data[0]
	})
}

// Decode reads codewords from src, corrects them and writes the original
// bytes to dst.
func (c *Codec) Decode(src io.Reader, dst io.Writer) (Stats, error) {
	bw := bufio.NewWriter(dst)
	buf := make([]byte, CodeSymbols)
	word := make([]byte, CodeSymbols)
	shares := make([]infectious.Share, CodeSymbols)
	var st Stats
	for {
		n, err := io.ReadFull(src, buf)
		if n == 0 && errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return st, err
		}
		if n <= ParitySymbols {
			return st, fmt.Errorf("%w: %d trailing bytes", ErrTruncated, n)
		}
		data := n - ParitySymbols
		clear(word)
		copy(word, buf[:data])
		copy(word[DataSymbols:], buf[data:n])
		for i := range shares {
			shares[i] = infectious.Share{Number: i, Data: []byte{word[i]}}
		}
		plain, derr := c.fec.Decode(nil, shares)
		if derr != nil {
			metrics.Inc("erasure_uncorrectable_total", nil)
			return st, fmt.Errorf("%w: codeword %d: %v", ErrUncorrectable, st.Codewords, derr)
		}
		for i := 0; i < data; i++ {
			if plain[i] != buf[i] {
				st.Corrected++
			}
		}
		if _, err := bw.Write(plain[:data]); err != nil {
			return st, err
		}
		st.Codewords++
		if n < CodeSymbols {
			break
		}
	}
	if st.Corrected > 0 {
		metrics.Add("erasure_corrected_symbols_total", nil, float64(st.Corrected))
	}
	return st, bw.Flush()
}
