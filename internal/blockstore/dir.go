package blockstore

import (
    "errors"
    "fmt"
    "io"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "sync"
    "time"

    "github.com/zmlAEQ/Aequa-storage/pkg/logger"
    "github.com/zmlAEQ/Aequa-storage/pkg/metrics"
)

var (
    ErrExists   = errors.New("blockstore: file exists")
    ErrNotFound = errors.New("blockstore: file not found")
    ErrBadName  = errors.New("blockstore: invalid file name")
)

// Dir keeps one stored file per id under a root directory.
type Dir struct {
    mu   sync.Mutex
    root string
}

// Entry describes one stored file.
type Entry struct {
    Name    string    `json:"name"`
    Size    int64     `json:"size"`
    ModTime time.Time `json:"mod_time"`
}

func OpenDir(root string) (*Dir, error) {
    if err := os.MkdirAll(root, 0o755); err != nil { return nil, err }
    return &Dir{root: root}, nil
}

func (d *Dir) Root() string { return d.root }

// Path returns the on-disk location of id.
func (d *Dir) Path(id string) (string, error) {
    if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
        return "", fmt.Errorf("%w: %q", ErrBadName, id)
    }
    return filepath.Join(d.root, id), nil
}

func (d *Dir) Exists(id string) bool {
    p, err := d.Path(id)
    if err != nil { return false }
    _, err = os.Stat(p)
    return err == nil
}

// Save writes r to id atomically (tmp, fsync, rename). Existing files are
// never replaced.
func (d *Dir) Save(id string, r io.Reader) (int64, error) {
    p, err := d.Path(id)
    if err != nil { return 0, err }
    d.mu.Lock(); defer d.mu.Unlock()
    if _, err := os.Stat(p); err == nil { return 0, fmt.Errorf("%w: %s", ErrExists, id) }
    tmp := p + ".tmp"
    f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
    if err != nil { return 0, err }
    n, err := io.Copy(f, r)
    if err == nil { err = f.Sync() }
    if cerr := f.Close(); err == nil { err = cerr }
    if err != nil { _ = os.Remove(tmp); return 0, err }
    if err := os.Rename(tmp, p); err != nil { _ = os.Remove(tmp); return 0, err }
    metrics.Inc("blockstore_saves_total", nil)
    logger.InfoJ("blockstore_save", map[string]any{"id": id, "bytes": n, "result": "ok"})
    return n, nil
}

func (d *Dir) Open(id string) (*os.File, error) {
    p, err := d.Path(id)
    if err != nil { return nil, err }
    f, err := os.Open(p)
    if errors.Is(err, os.ErrNotExist) { return nil, fmt.Errorf("%w: %s", ErrNotFound, id) }
    return f, err
}

func (d *Dir) Delete(id string) error {
    p, err := d.Path(id)
    if err != nil { return err }
    d.mu.Lock(); defer d.mu.Unlock()
    if err := os.Remove(p); err != nil {
        if errors.Is(err, os.ErrNotExist) { return fmt.Errorf("%w: %s", ErrNotFound, id) }
        return err
    }
    metrics.Inc("blockstore_deletes_total", nil)
    logger.InfoJ("blockstore_delete", map[string]any{"id": id, "result": "ok"})
    return nil
}

// List returns stored files sorted by name. Temporary files are skipped.
func (d *Dir) List() ([]Entry, error) {
    ents, err := os.ReadDir(d.root)
    if err != nil { return nil, err }
    out := make([]Entry, 0, len(ents))
    for _, e := range ents {
        if e.IsDir() || strings.HasPrefix(e.Name(), ".") || strings.HasSuffix(e.Name(), ".tmp") { continue }
        info, err := e.Info()
        if err != nil { continue }
        out = append(out, Entry{Name: e.Name(), Size: info.Size(), ModTime: info.ModTime()})
    }
    sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
    return out, nil
}
