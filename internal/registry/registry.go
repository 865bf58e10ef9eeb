// Package registry holds the set of files a storage node is audited on.
// The audit scheduler is the only writer; other components reach it through
// bus events. An optional bbolt file makes the set survive restarts.
package registry

import (
    "encoding/json"
    "errors"
    "sort"
    "sync"
    "time"

    bolt "go.etcd.io/bbolt"
    "golang.org/x/xerrors"

    "github.com/zmlAEQ/Aequa-storage/pkg/logger"
    "github.com/zmlAEQ/Aequa-storage/pkg/metrics"
)

var bucketTracked = []byte("tracked")

var (
    ErrNotFound = errors.New("registry: file not tracked")
    ErrInvalid  = errors.New("registry: invalid tracked file")
)

// TrackedFile is one stored file under audit.
type TrackedFile struct {
    ID            string        `json:"id"`
    EscrowID      string        `json:"escrow_id"`
    Scheme        string        `json:"scheme"`
    ValidateEvery time.Duration `json:"validate_every"`
    LastVerify    time.Time     `json:"last_verify"`
    Size          int64         `json:"size"`
    Blocks        uint64        `json:"blocks"`
    Digest        string        `json:"digest,omitempty"`
}

// Due reports whether an audit is owed at now.
func (f TrackedFile) Due(now time.Time) bool {
    return !now.Before(f.LastVerify.Add(f.ValidateEvery))
}

func (f TrackedFile) validate() error {
    if f.ID == "" || f.EscrowID == "" { return xerrors.Errorf("%w: id and escrow required", ErrInvalid) }
    if f.ValidateEvery < 0 { return xerrors.Errorf("%w: negative validate_every", ErrInvalid) }
    return nil
}

// Registry is an owned id → TrackedFile map.
type Registry struct {
    mu    sync.RWMutex
    files map[string]TrackedFile
    db    *bolt.DB
}

// NewMemory returns a registry without persistence.
func NewMemory() *Registry { return &Registry{files: map[string]TrackedFile{}} }

// Open loads (or creates) a bbolt-backed registry at path.
func Open(path string) (*Registry, error) {
    db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
    if err != nil { return nil, xerrors.Errorf("registry: open %s: %w", path, err) }
    r := &Registry{files: map[string]TrackedFile{}, db: db}
    err = db.Update(func(tx *bolt.Tx) error {
        b, err := tx.CreateBucketIfNotExists(bucketTracked)
        if err != nil { return err }
        return b.ForEach(func(k, v []byte) error {
            var f TrackedFile
            if err := json.Unmarshal(v, &f); err != nil {
                logger.WarnJ("registry_load", map[string]any{"id": string(k), "err": err.Error()})
                return nil
            }
            r.files[f.ID] = f
            return nil
        })
    })
    if err != nil { _ = db.Close(); return nil, err }
    metrics.SetGauge("registry_tracked_files", nil, float64(len(r.files)))
    logger.InfoJ("registry_load", map[string]any{"path": path, "files": len(r.files), "result": "ok"})
    return r, nil
}

func (r *Registry) persist(f TrackedFile) error {
    if r.db == nil { return nil }
    b, err := json.Marshal(f)
    if err != nil { return err }
    return r.db.Update(func(tx *bolt.Tx) error {
        return tx.Bucket(bucketTracked).Put([]byte(f.ID), b)
    })
}

// Put inserts or replaces f.
func (r *Registry) Put(f TrackedFile) error {
    if err := f.validate(); err != nil { return err }
    r.mu.Lock(); defer r.mu.Unlock()
    if err := r.persist(f); err != nil { return err }
    r.files[f.ID] = f
    metrics.SetGauge("registry_tracked_files", nil, float64(len(r.files)))
    return nil
}

func (r *Registry) Get(id string) (TrackedFile, bool) {
    r.mu.RLock(); defer r.mu.RUnlock()
    f, ok := r.files[id]
    return f, ok
}

// MarkVerified records an accepted proof at t.
func (r *Registry) MarkVerified(id string, t time.Time) error {
    r.mu.Lock(); defer r.mu.Unlock()
    f, ok := r.files[id]
    if !ok { return xerrors.Errorf("%w: %s", ErrNotFound, id) }
    f.LastVerify = t
    if err := r.persist(f); err != nil { return err }
    r.files[id] = f
    return nil
}

func (r *Registry) Remove(id string) error {
    r.mu.Lock(); defer r.mu.Unlock()
    if _, ok := r.files[id]; !ok { return xerrors.Errorf("%w: %s", ErrNotFound, id) }
    if r.db != nil {
        err := r.db.Update(func(tx *bolt.Tx) error { return tx.Bucket(bucketTracked).Delete([]byte(id)) })
        if err != nil { return err }
    }
    delete(r.files, id)
    metrics.SetGauge("registry_tracked_files", nil, float64(len(r.files)))
    return nil
}

// Snapshot returns an immutable copy ordered by id.
func (r *Registry) Snapshot() []TrackedFile {
    r.mu.RLock()
    out := make([]TrackedFile, 0, len(r.files))
    for _, f := range r.files { out = append(out, f) }
    r.mu.RUnlock()
    sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
    return out
}

func (r *Registry) Len() int {
    r.mu.RLock(); defer r.mu.RUnlock()
    return len(r.files)
}

func (r *Registry) Close() error {
    if r.db == nil { return nil }
    return r.db.Close()
}
