package blockstore

import (
    "fmt"
    "os"

    "github.com/zmlAEQ/Aequa-storage/internal/por"
    "github.com/zmlAEQ/Aequa-storage/pkg/logger"
)

// CorruptBlock flips the high bit of the first byte of block i in place.
func CorruptBlock(path string, l Layout, i uint64) error {
    f, err := os.OpenFile(path, os.O_RDWR, 0)
    if err != nil { return err }
    defer f.Close()
    st, err := f.Stat()
    if err != nil { return err }
    n, err := l.Blocks(st.Size())
    if err != nil { return err }
    if i >= n { return fmt.Errorf("%w: block %d of %d", por.ErrIndexOutOfRange, i, n) }
    if err := flip(f, int64(i)*int64(l.RecordSize())); err != nil { return err }
    logger.InfoJ("blockstore_corrupt", map[string]any{"path": path, "block": i})
    return f.Sync()
}

// CorruptAll flips the first byte of every block and returns the count.
func CorruptAll(path string, l Layout) (uint64, error) {
    f, err := os.OpenFile(path, os.O_RDWR, 0)
    if err != nil { return 0, err }
    defer f.Close()
    st, err := f.Stat()
    if err != nil { return 0, err }
    n, err := l.Blocks(st.Size())
    if err != nil { return 0, err }
    for i := uint64(0); i < n; i++ {
        if err := flip(f, int64(i)*int64(l.RecordSize())); err != nil { return i, err }
    }
    logger.InfoJ("blockstore_corrupt", map[string]any{"path": path, "blocks": n})
    return n, f.Sync()
}

func flip(f *os.File, off int64) error {
    var b [1]byte
    if _, err := f.ReadAt(b[:], off); err != nil { return err }
    b[0] ^= 0x80
    _, err := f.WriteAt(b[:], off)
    return err
}
