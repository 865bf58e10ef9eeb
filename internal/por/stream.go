package por

import (
	"errors"
	"fmt"
	"io"
)

// Record is one persisted (block, σ) pair with its implicit position.
type Record struct {
	Index uint64
	Block []byte
	Tag   []byte
}

// RecordIterator walks records in index order, bufio.Scanner style. The
// slices returned by Record are only valid until the next call to Next.
type RecordIterator interface {
	Next() bool
	Record() Record
	Err() error
}

// TagStream reads a file block by block and yields (index, block, σ). It is
// single-pass and cannot be restarted.
type TagStream struct {
	r         io.Reader
	blockSize int
	tagger    Tagger
	buf       []byte
	next      uint64
	cur       Record
	err       error
	done      bool
}

// NewTagStream tags r in blockSize chunks.
func NewTagStream(r io.Reader, blockSize int, t Tagger) (*TagStream, error) {
	if r == nil || t == nil || blockSize <= 0 {
		return nil, fmt.Errorf("%w: tag stream parameters", ErrInvalidInput)
	}
	return &TagStream{r: r, blockSize: blockSize, tagger: t, buf: make([]byte, blockSize)}, nil
}

func (s *TagStream) Next() bool {
	if s.done {
		return false
	}
	n, err := io.ReadFull(s.r, s.buf)
	switch {
	case errors.Is(err, io.EOF):
		s.done = true
		return false
	case errors.Is(err, io.ErrUnexpectedEOF):
		s.done = true
	case err != nil:
		s.err, s.done = err, true
		return false
	}
	block := s.buf[:n]
	m := BlockValue(block, s.tagger.Scheme().Order())
	sigma, err := s.tagger.Tag(s.next, m)
	if err != nil {
		s.err, s.done = err, true
		return false
	}
	s.cur = Record{Index: s.next, Block: block, Tag: sigma.Bytes()}
	s.next++
	return true
}

func (s *TagStream) Record() Record { return s.cur }
func (s *TagStream) Err() error     { return s.err }

// Count is the number of records produced so far.
func (s *TagStream) Count() uint64 { return s.next }

type sliceRecords struct {
	recs []Record
	i    int
}

// Records iterates an in-memory record slice.
func Records(recs []Record) RecordIterator { return &sliceRecords{recs: recs, i: -1} }

func (s *sliceRecords) Next() bool {
	s.i++
	return s.i < len(s.recs)
}

func (s *sliceRecords) Record() Record { return s.recs[s.i] }
func (s *sliceRecords) Err() error     { return nil }

// Collect drains an iterator, copying every record.
func Collect(it RecordIterator) ([]Record, error) {
	var out []Record
	for it.Next() {
		r := it.Record()
		out = append(out, Record{
			Index: r.Index,
			Block: append([]byte(nil), r.Block...),
			Tag:   append([]byte(nil), r.Tag...),
		})
	}
	return out, it.Err()
}
