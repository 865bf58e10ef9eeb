// Package api is the storage node's HTTP surface: owners upload tagged
// files, list and download them, and trigger audits. Handlers never touch
// the audit schedule directly; they publish Track/Untrack events to the
// scheduler and read the registry.
package api

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "path/filepath"
    "strings"
    "time"

    "github.com/gorilla/mux"

    "github.com/zmlAEQ/Aequa-storage/internal/blockstore"
    "github.com/zmlAEQ/Aequa-storage/internal/ledger"
    "github.com/zmlAEQ/Aequa-storage/internal/pipeline"
    "github.com/zmlAEQ/Aequa-storage/internal/por/public"
    "github.com/zmlAEQ/Aequa-storage/internal/registry"
    "github.com/zmlAEQ/Aequa-storage/internal/scheduler"
    "github.com/zmlAEQ/Aequa-storage/pkg/bus"
    "github.com/zmlAEQ/Aequa-storage/pkg/lifecycle"
    "github.com/zmlAEQ/Aequa-storage/pkg/logger"
    "github.com/zmlAEQ/Aequa-storage/pkg/metrics"
    "github.com/zmlAEQ/Aequa-storage/pkg/trace"
)

// Auditor runs an on-demand audit.
type Auditor interface {
    AuditNow(ctx context.Context, id string) (scheduler.Result, error)
}

// Publisher hands an event to the scheduler and reports whether it was taken.
type Publisher func(ctx context.Context, ev bus.Event) bool

type Service struct {
    addr      string
    dir       *blockstore.Dir
    reg       *registry.Registry
    led       ledger.Ledger
    auditor   Auditor
    publish   Publisher
    blockSize int
    maxUpload int64
    srv       *http.Server
}

var _ lifecycle.Service = (*Service)(nil)

func New(addr string, dir *blockstore.Dir, reg *registry.Registry, led ledger.Ledger) *Service {
    return &Service{
        addr: addr, dir: dir, reg: reg, led: led,
        publish:   func(context.Context, bus.Event) bool { return false },
        blockSize: blockstore.DefaultBlockSize, maxUpload: 1 << 30,
    }
}

func (s *Service) Name() string { return "api" }

func (s *Service) SetAuditor(a Auditor)     { s.auditor = a }
func (s *Service) SetPublisher(p Publisher) { if p != nil { s.publish = p } }
func (s *Service) SetBlockSize(n int)       { if n > 0 { s.blockSize = n } }
func (s *Service) SetMaxUpload(n int64)     { if n > 0 { s.maxUpload = n } }

// Router returns the route table.
func (s *Service) Router() http.Handler {
    r := mux.NewRouter()
    r.HandleFunc("/api/upload", s.handleUpload).Methods(http.MethodPost)
    r.HandleFunc("/api/get_files", s.handleGetFiles).Methods(http.MethodGet)
    r.HandleFunc("/api/download", s.handleDownload).Methods(http.MethodGet)
    r.HandleFunc("/api/delete_file", s.handleDelete).Methods(http.MethodGet)
    r.HandleFunc("/api/calculate_and_prove", s.handleProve).Methods(http.MethodGet)
    r.HandleFunc("/api/corrupt", s.handleCorrupt).Methods(http.MethodGet)
    r.HandleFunc("/healthz", handleHealth).Methods(http.MethodGet)
    r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
    r.Use(withTrace)
    return r
}

func withTrace(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        begin := time.Now()
        ctx := r.Context()
        if id := r.Header.Get("X-Trace-Id"); id != "" {
            ctx = trace.WithTraceID(ctx, id)
        }
        ctx, _ = trace.Ensure(ctx)
        next.ServeHTTP(w, r.WithContext(ctx))
        metrics.ObserveSummary("api_request_ms", map[string]string{"path": r.URL.Path}, float64(time.Since(begin).Milliseconds()))
    })
}

func (s *Service) Start(ctx context.Context) error {
    s.srv = &http.Server{Addr: s.addr, Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
    go func() {
        if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            logger.ErrorJ("api_server", map[string]any{"addr": s.addr, "result": "error", "err": err.Error()})
        }
    }()
    logger.InfoJ("api_server", map[string]any{"addr": s.addr, "result": "listening"})
    return nil
}

func (s *Service) Stop(ctx context.Context) error {
    if s.srv == nil { return nil }
    return s.srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(code)
    _ = json.NewEncoder(w).Encode(v)
}

func fail(w http.ResponseWriter, r *http.Request, op string, code int, msg string) {
    tid, _ := trace.FromContext(r.Context())
    metrics.Inc("api_errors_total", map[string]string{"op": op, "code": fmt.Sprint(code)})
    logger.WarnJ("api_"+op, map[string]any{"result": "error", "code": code, "err": msg, "trace_id": tid})
    writeJSON(w, code, map[string]string{"error": msg})
}

// fileName validates the filename query parameter.
func fileName(r *http.Request) (string, bool) {
    name := r.URL.Query().Get("filename")
    if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") { return "", false }
    return name, true
}

func (s *Service) handleUpload(w http.ResponseWriter, r *http.Request) {
    ctx := r.Context()
    tid, _ := trace.FromContext(ctx)
    r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
    if err := r.ParseMultipartForm(32 << 20); err != nil {
        fail(w, r, "upload", http.StatusBadRequest, "invalid multipart form: "+err.Error()); return
    }
    defer func() { _ = r.MultipartForm.RemoveAll() }()
    file, hdr, err := r.FormFile("file")
    if err != nil { fail(w, r, "upload", http.StatusBadRequest, "No file provided"); return }
    defer file.Close()
    name := filepath.Base(hdr.Filename)
    if hdr.Filename == "" || name == "." || strings.HasPrefix(name, ".") {
        fail(w, r, "upload", http.StatusBadRequest, "Empty file name"); return
    }
    escrow := r.FormValue("escrow_public_key")
    if err := ledger.ValidatePubkey(escrow); err != nil {
        fail(w, r, "upload", http.StatusBadRequest, "invalid escrow_public_key"); return
    }
    schemeName := r.FormValue("scheme")
    if schemeName == "" { schemeName = public.Name }
    scheme, err := scheduler.SchemeByName(schemeName)
    if err != nil { fail(w, r, "upload", http.StatusBadRequest, err.Error()); return }
    if scheme.Name() != public.Name {
        // private proofs need the owner's key; audit those with pipeline.Audit
        fail(w, r, "upload", http.StatusBadRequest, fmt.Sprintf("scheme %q cannot be verified by the ledger", scheme.Name())); return
    }

    st, err := s.led.EscrowState(ctx, escrow)
    if err != nil {
        code := http.StatusInternalServerError
        if ledger.IsTransport(err) { code = http.StatusBadGateway }
        fail(w, r, "upload", code, "Failed to fetch escrow data: "+err.Error()); return
    }

    if _, err := s.dir.Save(name, file); err != nil {
        if errors.Is(err, blockstore.ErrExists) {
            fail(w, r, "upload", http.StatusConflict, fmt.Sprintf("File '%s' already exists in the directory.", name)); return
        }
        fail(w, r, "upload", http.StatusInternalServerError, "Failed to save file: "+err.Error()); return
    }
    track, err := s.inspect(name, scheme.TagSize())
    if err == nil && st.NumberOfBlocks != 0 && track.Blocks != st.NumberOfBlocks {
        err = fmt.Errorf("file has %d blocks, escrow expects %d", track.Blocks, st.NumberOfBlocks)
    }
    if err != nil {
        _ = s.dir.Delete(name)
        fail(w, r, "upload", http.StatusBadRequest, "invalid record file: "+err.Error()); return
    }
    track.FileID, track.EscrowID, track.Scheme = name, escrow, scheme.Name()
    track.ValidateEvery = st.ValidateInterval()
    if !s.publish(ctx, bus.Event{Kind: bus.KindTrack, Body: track, TraceID: tid}) {
        _ = s.dir.Delete(name)
        fail(w, r, "upload", http.StatusServiceUnavailable, "scheduler busy, retry"); return
    }
    metrics.Inc("api_uploads_total", map[string]string{"scheme": track.Scheme})
    logger.InfoJ("api_upload", map[string]any{"file": name, "escrow": escrow, "blocks": track.Blocks, "size": track.Size, "result": "ok", "trace_id": tid})
    writeJSON(w, http.StatusOK, map[string]any{"message": "File received and saved", "filename": name, "blocks": track.Blocks, "digest": track.Digest})
}

// inspect checks the record geometry of a stored file and fingerprints it.
func (s *Service) inspect(name string, tagSize int) (bus.Track, error) {
    f, err := s.dir.Open(name)
    if err != nil { return bus.Track{}, err }
    defer f.Close()
    fi, err := f.Stat()
    if err != nil { return bus.Track{}, err }
    l := blockstore.Layout{BlockSize: s.blockSize, TagSize: tagSize}
    n, err := l.Blocks(fi.Size())
    if err != nil { return bus.Track{}, err }
    if n == 0 { return bus.Track{}, errors.New("empty file") }
    d, err := pipeline.Digest(f)
    if err != nil { return bus.Track{}, err }
    return bus.Track{Size: fi.Size(), Blocks: n, Digest: d}, nil
}

type storageFile struct {
    ID            int    `json:"id"`
    FileName      string `json:"file_name"`
    EscrowPubkey  string `json:"escrow_public_key"`
    ValidateEvery int64  `json:"validate_every"`
    LastVerify    string `json:"last_verify"`
    Blocks        uint64 `json:"blocks"`
    Digest        string `json:"digest,omitempty"`
}

func (s *Service) handleGetFiles(w http.ResponseWriter, r *http.Request) {
    snap := s.reg.Snapshot()
    out := make([]storageFile, 0, len(snap))
    for i, f := range snap {
        out = append(out, storageFile{
            ID: i, FileName: f.ID, EscrowPubkey: f.EscrowID, ValidateEvery: int64(f.ValidateEvery / time.Second),
            LastVerify: f.LastVerify.Format(time.DateOnly), Blocks: f.Blocks, Digest: f.Digest,
        })
    }
    writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"storageFiles": out}})
}

func (s *Service) handleDownload(w http.ResponseWriter, r *http.Request) {
    name, ok := fileName(r)
    if !ok { fail(w, r, "download", http.StatusBadRequest, "Filename not provided"); return }
    f, err := s.dir.Open(name)
    if err != nil {
        if errors.Is(err, blockstore.ErrNotFound) { fail(w, r, "download", http.StatusNotFound, "File not found"); return }
        fail(w, r, "download", http.StatusInternalServerError, err.Error()); return
    }
    defer f.Close()
    fi, err := f.Stat()
    if err != nil { fail(w, r, "download", http.StatusInternalServerError, err.Error()); return }
    w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
    w.Header().Set("Content-Type", "application/octet-stream")
    http.ServeContent(w, r, name, fi.ModTime(), f)
}

func (s *Service) handleDelete(w http.ResponseWriter, r *http.Request) {
    ctx := r.Context()
    tid, _ := trace.FromContext(ctx)
    name, ok := fileName(r)
    if !ok { fail(w, r, "delete", http.StatusBadRequest, "Filename not provided"); return }
    f, ok := s.reg.Get(name)
    if !ok { fail(w, r, "delete", http.StatusNotFound, fmt.Sprintf("File %s not found", name)); return }
    // the withdrawal is best effort; the file goes either way
    rc, err := s.led.RequestFunds(ctx, f.EscrowID)
    fields := map[string]any{"file": name, "escrow": f.EscrowID, "trace_id": tid, "funds_accepted": rc.Accepted}
    if err != nil { fields["funds_err"] = err.Error() }
    if !s.publish(ctx, bus.Event{Kind: bus.KindUntrack, Body: bus.Untrack{FileID: name, Delete: true}, TraceID: tid}) {
        fail(w, r, "delete", http.StatusServiceUnavailable, "scheduler busy, retry"); return
    }
    fields["result"] = "ok"
    logger.InfoJ("api_delete", fields)
    writeJSON(w, http.StatusOK, map[string]string{"message": "Deletion succeeded"})
}

func (s *Service) handleProve(w http.ResponseWriter, r *http.Request) {
    name, ok := fileName(r)
    if !ok { fail(w, r, "prove", http.StatusBadRequest, "Filename not provided"); return }
    if s.auditor == nil { fail(w, r, "prove", http.StatusServiceUnavailable, "auditor not configured"); return }
    res, err := s.auditor.AuditNow(r.Context(), name)
    if err != nil {
        if errors.Is(err, scheduler.ErrUnknownFile) { fail(w, r, "prove", http.StatusNotFound, "File not found"); return }
        fail(w, r, "prove", http.StatusInternalServerError, "An error occurred during calculation: "+err.Error()); return
    }
    body := map[string]any{"proved": res.Outcome == scheduler.Verified, "outcome": res.Outcome}
    if res.Reason != "" { body["reason"] = res.Reason }
    if res.Err != nil { body["error"] = res.Err.Error() }
    writeJSON(w, http.StatusOK, body)
}

func (s *Service) handleCorrupt(w http.ResponseWriter, r *http.Request) {
    name, ok := fileName(r)
    if !ok { fail(w, r, "corrupt", http.StatusBadRequest, "Filename not provided"); return }
    if !s.dir.Exists(name) { fail(w, r, "corrupt", http.StatusNotFound, "File not found"); return }
    schemeName := public.Name
    if f, ok := s.reg.Get(name); ok { schemeName = f.Scheme }
    scheme, err := scheduler.SchemeByName(schemeName)
    if err != nil { fail(w, r, "corrupt", http.StatusInternalServerError, err.Error()); return }
    p, _ := s.dir.Path(name)
    n, err := blockstore.CorruptAll(p, blockstore.Layout{BlockSize: s.blockSize, TagSize: scheme.TagSize()})
    if err != nil { fail(w, r, "corrupt", http.StatusInternalServerError, "An error occurred during calculation: "+err.Error()); return }
    writeJSON(w, http.StatusOK, map[string]any{"message": fmt.Sprintf("The file %q corrupted.", name), "blocks": n})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
    writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
