package blockstore

import (
    "bytes"
    "context"
    "errors"
    "math/big"
    "os"
    "path/filepath"
    "testing"

    "github.com/zmlAEQ/Aequa-storage/internal/por"
    "github.com/zmlAEQ/Aequa-storage/internal/por/private"
)

func tagFile(t *testing.T, data []byte, l Layout) ([]byte, *private.Verifier) {
    t.Helper()
    k, err := private.GenerateKey(nil)
    if err != nil { t.Fatalf("keygen: %v", err) }
    tg, _ := private.NewTagger(k)
    v, _ := private.NewVerifier(k)
    ts, err := por.NewTagStream(bytes.NewReader(data), l.BlockSize, tg)
    if err != nil { t.Fatalf("stream: %v", err) }
    var buf bytes.Buffer
    w, err := NewWriter(&buf, l)
    if err != nil { t.Fatalf("writer: %v", err) }
    if err := w.WriteAll(ts); err != nil { t.Fatalf("write: %v", err) }
    if err := w.Close(); err != nil { t.Fatalf("close: %v", err) }
    return buf.Bytes(), v
}

func TestRoundTrip_StripRecoversData(t *testing.T) {
    l := Layout{BlockSize: 16, TagSize: private.ElementSize}
    data := bytes.Repeat([]byte("0123456789"), 7)
    stored, _ := tagFile(t, data, l)
    n, err := l.Blocks(int64(len(stored)))
    if err != nil || n != 5 { t.Fatalf("blocks=%d err=%v", n, err) }
    var out bytes.Buffer
    got, err := Strip(bytes.NewReader(stored), &out, l)
    if err != nil || got != 5 { t.Fatalf("strip=%d err=%v", got, err) }
    if !bytes.Equal(out.Bytes(), data) { t.Fatalf("data mismatch") }
}

func TestReader_ProveFromStore(t *testing.T) {
    l := Layout{BlockSize: 32, TagSize: private.ElementSize}
    stored, v := tagFile(t, bytes.Repeat([]byte{9, 8, 7}, 50), l)
    rd, err := NewReader(bytes.NewReader(stored), l)
    if err != nil { t.Fatalf("reader: %v", err) }
    ch := por.Challenge{Items: []por.Item{{Index: 4, Coeff: big.NewInt(2)}, {Index: 1, Coeff: big.NewInt(5)}}}
    p, err := por.Prove(context.Background(), private.Scheme{}, rd, ch)
    if err != nil { t.Fatalf("prove: %v", err) }
    if got, _ := v.Verify(ch, p); got != por.Accept { t.Fatalf("rejected") }
}

func TestReader_TruncatedRecord(t *testing.T) {
    l := Layout{BlockSize: 8, TagSize: private.ElementSize}
    stored, _ := tagFile(t, bytes.Repeat([]byte{1}, 16), l)
    trunc := stored[:len(stored)-l.TagSize]
    rd, _ := NewReader(bytes.NewReader(trunc), l)
    recs, err := por.Collect(rd)
    if !errors.Is(err, por.ErrCorruptRecord) || len(recs) != 1 {
        t.Fatalf("recs=%d err=%v", len(recs), err)
    }
    if _, err := l.Blocks(int64(len(trunc))); !errors.Is(err, por.ErrCorruptRecord) {
        t.Fatalf("blocks: %v", err)
    }
}

func TestWriter_RejectsAfterShortBlock(t *testing.T) {
    l := Layout{BlockSize: 4, TagSize: 2}
    w, _ := NewWriter(&bytes.Buffer{}, l)
    if err := w.Append([]byte{1, 2}, []byte{0, 0}); err != nil { t.Fatalf("append: %v", err) }
    if err := w.Append([]byte{1, 2, 3, 4}, []byte{0, 0}); !errors.Is(err, ErrShortWrite) {
        t.Fatalf("want ErrShortWrite, got %v", err)
    }
    if err := (&Writer{layout: l}).Append([]byte{1}, []byte{0}); !errors.Is(err, por.ErrInvalidInput) {
        t.Fatalf("bad tag width: %v", err)
    }
}

func TestCorruptBlock_Detected(t *testing.T) {
    l := Layout{BlockSize: 16, TagSize: private.ElementSize}
    stored, v := tagFile(t, bytes.Repeat([]byte("abcdefgh"), 8), l)
    path := filepath.Join(t.TempDir(), "f")
    if err := os.WriteFile(path, stored, 0o600); err != nil { t.Fatal(err) }
    if err := CorruptBlock(path, l, 2); err != nil { t.Fatalf("corrupt: %v", err) }
    if err := CorruptBlock(path, l, 9); !errors.Is(err, por.ErrIndexOutOfRange) { t.Fatalf("range: %v", err) }

    f, _ := os.Open(path)
    defer f.Close()
    rd, _ := NewReader(f, l)
    ch := por.Challenge{Items: []por.Item{{Index: 2, Coeff: big.NewInt(1)}}}
    p, err := por.Prove(context.Background(), private.Scheme{}, rd, ch)
    if err != nil { t.Fatalf("prove: %v", err) }
    if got, _ := v.Verify(ch, p); got != por.Reject { t.Fatalf("corruption not detected") }

    n, err := CorruptAll(path, l)
    if err != nil || n != 4 { t.Fatalf("corrupt all=%d err=%v", n, err) }
}

func TestDir_SaveListDelete(t *testing.T) {
    d, err := OpenDir(filepath.Join(t.TempDir(), "store"))
    if err != nil { t.Fatalf("open: %v", err) }
    if _, err := d.Save("a.bin", bytes.NewReader([]byte("xyz"))); err != nil { t.Fatalf("save: %v", err) }
    if _, err := d.Save("a.bin", bytes.NewReader(nil)); !errors.Is(err, ErrExists) { t.Fatalf("dup: %v", err) }
    if _, err := d.Save("../x", bytes.NewReader(nil)); !errors.Is(err, ErrBadName) { t.Fatalf("traversal: %v", err) }
    ents, err := d.List()
    if err != nil || len(ents) != 1 || ents[0].Name != "a.bin" || ents[0].Size != 3 {
        t.Fatalf("list=%v err=%v", ents, err)
    }
    if !d.Exists("a.bin") { t.Fatalf("exists") }
    if err := d.Delete("a.bin"); err != nil { t.Fatalf("delete: %v", err) }
    if err := d.Delete("a.bin"); !errors.Is(err, ErrNotFound) { t.Fatalf("second delete: %v", err) }
    if _, err := d.Open("a.bin"); !errors.Is(err, ErrNotFound) { t.Fatalf("open missing: %v", err) }
}
