// Package blockstore persists tagged files. A file is a bare sequence of
// records block||σ with no header; the block index is the record ordinal.
// Every block is BlockSize bytes except possibly the last, which is shorter.
package blockstore

import (
    "bufio"
    "errors"
    "fmt"
    "io"
    "os"

    "github.com/zmlAEQ/Aequa-storage/internal/por"
    "github.com/zmlAEQ/Aequa-storage/pkg/metrics"
)

// DefaultBlockSize is the data width of a record.
const DefaultBlockSize = 1024

var ErrShortWrite = errors.New("blockstore: record after short final block")

// Layout fixes the record geometry of one file.
type Layout struct {
    BlockSize int
    TagSize   int
}

func (l Layout) RecordSize() int { return l.BlockSize + l.TagSize }

func (l Layout) Validate() error {
    if l.BlockSize <= 0 || l.TagSize <= 0 {
        return fmt.Errorf("%w: layout %d/%d", por.ErrInvalidInput, l.BlockSize, l.TagSize)
    }
    return nil
}

// Blocks is the record count of a file of the given size.
func (l Layout) Blocks(size int64) (uint64, error) {
    rs := int64(l.RecordSize())
    n := uint64(size / rs)
    if rem := size % rs; rem != 0 {
        if rem < int64(l.TagSize)+1 {
            return 0, fmt.Errorf("%w: trailing %d bytes", por.ErrCorruptRecord, rem)
        }
        n++
    }
    return n, nil
}

// Writer appends records. Close flushes and fsyncs.
type Writer struct {
    w      *bufio.Writer
    f      *os.File
    layout Layout
    count  uint64
    short  bool
}

// NewWriter writes to w. When w is an *os.File, Close also syncs it.
func NewWriter(w io.Writer, l Layout) (*Writer, error) {
    if err := l.Validate(); err != nil { return nil, err }
    f, _ := w.(*os.File)
    return &Writer{w: bufio.NewWriterSize(w, 64*l.RecordSize()), f: f, layout: l}, nil
}

// Append writes one record. Only the last block may be short.
func (w *Writer) Append(block, tag []byte) error {
    if w.short { return ErrShortWrite }
    if len(tag) != w.layout.TagSize || len(block) == 0 || len(block) > w.layout.BlockSize {
        return fmt.Errorf("%w: record widths %d/%d", por.ErrInvalidInput, len(block), len(tag))
    }
    if len(block) < w.layout.BlockSize { w.short = true }
    if _, err := w.w.Write(block); err != nil { return err }
    if _, err := w.w.Write(tag); err != nil { return err }
    w.count++
    return nil
}

// WriteAll drains it into the writer.
func (w *Writer) WriteAll(it por.RecordIterator) error {
    for it.Next() {
        r := it.Record()
        if err := w.Append(r.Block, r.Tag); err != nil { return err }
    }
    return it.Err()
}

func (w *Writer) Count() uint64 { return w.count }

func (w *Writer) Close() error {
    if err := w.w.Flush(); err != nil { return err }
    if w.f != nil { return w.f.Sync() }
    return nil
}

// Reader iterates the records of a stored file.
type Reader struct {
    r      *bufio.Reader
    layout Layout
    buf    []byte
    next   uint64
    cur    por.Record
    err    error
    done   bool
}

var _ por.RecordIterator = (*Reader)(nil)

func NewReader(r io.Reader, l Layout) (*Reader, error) {
    if err := l.Validate(); err != nil { return nil, err }
    return &Reader{r: bufio.NewReaderSize(r, 64*l.RecordSize()), layout: l, buf: make([]byte, l.RecordSize())}, nil
}

func (r *Reader) Next() bool {
    if r.done { return false }
    n, err := io.ReadFull(r.r, r.buf)
    switch {
    case errors.Is(err, io.EOF):
        r.done = true
        return false
    case errors.Is(err, io.ErrUnexpectedEOF):
        r.done = true
        if n < r.layout.TagSize+1 {
            r.err = fmt.Errorf("%w: trailing record of %d bytes at %d", por.ErrCorruptRecord, n, r.next)
            metrics.Inc("blockstore_corrupt_total", nil)
            return false
        }
    case err != nil:
        r.err, r.done = err, true
        return false
    }
    cut := n - r.layout.TagSize
    r.cur = por.Record{Index: r.next, Block: r.buf[:cut], Tag: r.buf[cut:n]}
    r.next++
    return true
}

func (r *Reader) Record() por.Record { return r.cur }
func (r *Reader) Err() error          { return r.err }

// Strip copies the block bytes of a stored file to w, dropping every σ.
func Strip(src io.Reader, dst io.Writer, l Layout) (uint64, error) {
    rd, err := NewReader(src, l)
    if err != nil { return 0, err }
    bw := bufio.NewWriter(dst)
    var n uint64
    for rd.Next() {
        if _, err := bw.Write(rd.Record().Block); err != nil { return n, err }
        n++
    }
    if err := rd.Err(); err != nil { return n, err }
    return n, bw.Flush()
}
