// Package pipeline turns a plain file into the tagged record file a storage
// node keeps, and back. Encoding is Reed-Solomon first and tagging second, so
// an audit covers the parity bytes as well.
package pipeline

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"
	"lukechampine.com/blake3"

	"github.com/zmlAEQ/Aequa-storage/internal/blockstore"
	"github.com/zmlAEQ/Aequa-storage/internal/erasure"
	"github.com/zmlAEQ/Aequa-storage/internal/por"
	"github.com/zmlAEQ/Aequa-storage/pkg/logger"
	"github.com/zmlAEQ/Aequa-storage/pkg/metrics"
)

// EncodedSuffix is appended to the name of an encoded file.
const EncodedSuffix = ".encoded"

// Encoded describes the output of Encode.
type Encoded struct {
	Blocks uint64
	// Coded is the Reed-Solomon output length, Stored the record file length.
	Coded  int64
	Stored int64
	Digest string
}

type countWriter struct {
	w io.Writer
	n int64
}

func (c *countWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Encode reads src, RS-encodes it and writes tagged records to dst. The
// returned digest is the blake3-256 of the bytes written to dst.
func Encode(ctx context.Context, src io.Reader, dst io.Writer, t por.Tagger, blockSize int) (Encoded, error) {
	if t == nil {
		return Encoded{}, fmt.Errorf("%w: nil tagger", por.ErrInvalidInput)
	}
	layout := blockstore.Layout{BlockSize: blockSize, TagSize: t.Scheme().TagSize()}
	if err := layout.Validate(); err != nil {
		return Encoded{}, err
	}
	codec, err := erasure.New()
	if err != nil {
		return Encoded{}, err
	}
	begin := time.Now()
	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)
	var coded int64
	g.Go(func() error {
		n, err := codec.Encode(src, pw)
		coded = n
		pw.CloseWithError(err)
		return err
	})

	h := blake3.New(32, nil)
	out := &countWriter{w: io.MultiWriter(dst, h)}
	var blocks uint64
	g.Go(func() error {
		defer pr.Close()
		ts, err := por.NewTagStream(pr, blockSize, t)
		if err != nil {
			return err
		}
		w, err := blockstore.NewWriter(out, layout)
		if err != nil {
			return err
		}
		for ts.Next() {
			if err := gctx.Err(); err != nil {
				return err
			}
			r := ts.Record()
			if err := w.Append(r.Block, r.Tag); err != nil {
				return err
			}
		}
		if err := ts.Err(); err != nil {
			return err
		}
		blocks = w.Count()
		return w.Close()
	})
	if err := g.Wait(); err != nil {
		logger.ErrorJ("pipeline_encode", map[string]any{"scheme": t.Scheme().Name(), "result": "error", "err": err.Error()})
		return Encoded{}, err
	}
	res := Encoded{Blocks: blocks, Coded: coded, Stored: out.n, Digest: hex.EncodeToString(h.Sum(nil))}
	metrics.ObserveSummary("pipeline_encode_ms", map[string]string{"scheme": t.Scheme().Name()}, float64(time.Since(begin).Milliseconds()))
	logger.InfoJ("pipeline_encode", map[string]any{
		"scheme": t.Scheme().Name(), "blocks": res.Blocks, "coded": res.Coded, "stored": res.Stored,
		"digest": res.Digest, "latency_ms": time.Since(begin).Milliseconds(), "result": "ok",
	})
	return res, nil
}

// Decode strips authenticators from a record file and RS-decodes the rest,
// repairing corrupted bytes where the code allows.
func Decode(ctx context.Context, src io.Reader, dst io.Writer, l blockstore.Layout) (erasure.Stats, error) {
	if err := l.Validate(); err != nil {
		return erasure.Stats{}, err
	}
	codec, err := erasure.New()
	if err != nil {
		return erasure.Stats{}, err
	}
	pr, pw := io.Pipe()
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := blockstore.Strip(src, pw, l)
		pw.CloseWithError(err)
		return err
	})
	var st erasure.Stats
	g.Go(func() error {
		var err error
		st, err = codec.Decode(pr, dst)
		pr.CloseWithError(err)
		return err
	})
	if err := g.Wait(); err != nil {
		logger.ErrorJ("pipeline_decode", map[string]any{"result": "error", "err": err.Error(), "codewords": st.Codewords})
		return st, err
	}
	logger.InfoJ("pipeline_decode", map[string]any{"codewords": st.Codewords, "corrected": st.Corrected, "result": "ok"})
	return st, nil
}

// Digest is the hex blake3-256 of r.
func Digest(r io.Reader) (string, error) {
	h := blake3.New(32, nil)
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Audit runs one local challenge round against a record file: sample q of
// n blocks, prove from the records, pass the proof through its transport
// encoding and verify it.
func Audit(ctx context.Context, records io.Reader, blockSize int, v por.Verifier, s *por.Sampler, n, q uint64) (por.Verdict, error) {
	scheme := v.Scheme()
	rd, err := blockstore.NewReader(records, blockstore.Layout{BlockSize: blockSize, TagSize: scheme.TagSize()})
	if err != nil {
		return por.Reject, err
	}
	if q > n {
		q = n
	}
	ch, err := s.SampleN(n, q)
	if err != nil {
		return por.Reject, err
	}
	p, err := por.Prove(ctx, scheme, rd, ch)
	if err != nil {
		return por.Reject, err
	}
	sigma, mu, err := scheme.MarshalProof(p)
	if err != nil {
		return por.Reject, err
	}
	if p, err = scheme.UnmarshalProof(sigma, mu); err != nil {
		return por.Reject, err
	}
	return v.Verify(ch, p)
}
