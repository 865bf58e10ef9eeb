// Package scheduler runs the periodic audit loop of a storage node: for
// every tracked file that is due it fetches the escrow state, answers a fresh
// challenge from the local records and submits the proof.
package scheduler

import (
    "context"
    "errors"
    "fmt"
    "os"
    "sync"
    "time"

    "github.com/benbjohnson/clock"
    "go.uber.org/multierr"
    "golang.org/x/sync/errgroup"

    "github.com/zmlAEQ/Aequa-storage/internal/blockstore"
    "github.com/zmlAEQ/Aequa-storage/internal/ledger"
    "github.com/zmlAEQ/Aequa-storage/internal/por"
    "github.com/zmlAEQ/Aequa-storage/internal/por/private"
    "github.com/zmlAEQ/Aequa-storage/internal/por/public"
    "github.com/zmlAEQ/Aequa-storage/internal/registry"
    "github.com/zmlAEQ/Aequa-storage/pkg/bus"
    "github.com/zmlAEQ/Aequa-storage/pkg/lifecycle"
    "github.com/zmlAEQ/Aequa-storage/pkg/logger"
    "github.com/zmlAEQ/Aequa-storage/pkg/metrics"
    "github.com/zmlAEQ/Aequa-storage/pkg/trace"
)

// Outcome is the result class of one file audit.
type Outcome string

const (
    Verified  Outcome = "verified"
    Rejected  Outcome = "rejected"
    Skipped   Outcome = "skipped"
    Reclaimed Outcome = "reclaimed"
    NotDue    Outcome = "not_due"
    Failed    Outcome = "failed"
)

// Skip reasons.
const (
    ReasonLedgerUnreachable   = "ledger_unreachable"
    ReasonInsufficientBalance = "insufficient_balance"
    ReasonFundsRefused        = "request_funds_refused"
    ReasonLedgerRefused       = "ledger_refused"
)

var ErrUnknownFile = errors.New("scheduler: file not tracked")

// Result reports one audit.
type Result struct {
    FileID  string  `json:"file_id"`
    Outcome Outcome `json:"outcome"`
    Reason  string  `json:"reason,omitempty"`
    Err     error   `json:"-"`
}

// Files is the local store of tagged files.
type Files interface {
    Open(id string) (*os.File, error)
    Delete(id string) error
}

// Config tunes the loop.
type Config struct {
    Period      time.Duration
    CallTimeout time.Duration
    Parallelism int
    BlockSize   int
    CostBase    float64
    CostRate    float64
}

func (c Config) withDefaults() Config {
    if c.Period <= 0 { c.Period = 20 * time.Second }
    if c.CallTimeout <= 0 { c.CallTimeout = 10 * time.Second }
    if c.Parallelism <= 0 { c.Parallelism = 1 }
    if c.BlockSize <= 0 { c.BlockSize = blockstore.DefaultBlockSize }
    if c.CostBase == 0 && c.CostRate == 0 { c.CostBase, c.CostRate = ledger.DefaultCostBase, ledger.DefaultCostRate }
    return c
}

// Service owns the tracked-file registry while running.
type Service struct {
    cfg   Config
    reg   *registry.Registry
    led   ledger.Ledger
    files Files
    clk   clock.Clock
    sub   bus.Subscriber

    sweep    sync.Mutex
    sweeping sync.WaitGroup
    cancel   context.CancelFunc
    done     chan struct{}
}

var _ lifecycle.Service = (*Service)(nil)

func New(cfg Config, reg *registry.Registry, led ledger.Ledger, files Files) *Service {
    return &Service{cfg: cfg.withDefaults(), reg: reg, led: led, files: files, clk: clock.New()}
}

func (s *Service) Name() string { return "scheduler" }

// SetClock injects a clock, mainly for tests.
func (s *Service) SetClock(c clock.Clock) { s.clk = c }

// SetSubscriber connects the Track/Untrack event stream.
func (s *Service) SetSubscriber(sub bus.Subscriber) { s.sub = sub }

// Start runs the ticker loop. Sweeps run detached from ctx so that a
// shutdown lets the round in flight finish; each ledger call is still
// bounded by CallTimeout.
func (s *Service) Start(ctx context.Context) error {
    sweepCtx := context.WithoutCancel(ctx)
    ctx, s.cancel = context.WithCancel(ctx)
    s.done = make(chan struct{})
    ticker := s.clk.Ticker(s.cfg.Period)
    logger.InfoJ("scheduler_start", map[string]any{"period_s": s.cfg.Period.Seconds(), "files": s.reg.Len(), "parallelism": s.cfg.Parallelism})
    go func() {
        defer close(s.done)
        defer ticker.Stop()
        for {
            select {
            case <-ctx.Done():
                return
            case ev := <-s.sub:
                s.handleEvent(ev)
            case <-ticker.C:
                // a sweep that outlives the period makes the next tick skip
                s.sweeping.Add(1)
                go func() {
                    defer s.sweeping.Done()
                    s.Sweep(sweepCtx)
                }()
            }
        }
    }()
    return nil
}

// Stop halts the loop, waits for the sweep in flight to finish and then
// ends every tracked subscription on the ledger. End errors are combined.
func (s *Service) Stop(ctx context.Context) error {
    if s.cancel != nil {
        s.cancel()
        <-s.done
    }
    s.sweeping.Wait()
    s.sweep.Lock()
    defer s.sweep.Unlock()
    var errs error
    for _, f := range s.reg.Snapshot() {
        cctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
        rc, err := s.led.EndSubscription(cctx, f.EscrowID)
        cancel()
        if err == nil && !rc.Accepted {
            err = fmt.Errorf("scheduler: end subscription %s refused: %s", f.EscrowID, rc.Message)
        }
        if err != nil {
            errs = multierr.Append(errs, err)
            logger.WarnJ("scheduler_shutdown", map[string]any{"file": f.ID, "escrow": f.EscrowID, "result": "error", "err": err.Error()})
            continue
        }
        logger.InfoJ("scheduler_shutdown", map[string]any{"file": f.ID, "escrow": f.EscrowID, "result": "ended"})
    }
    return errs
}

func (s *Service) handleEvent(ev bus.Event) {
    metrics.Inc("scheduler_events_total", map[string]string{"kind": string(ev.Kind)})
    switch body := ev.Body.(type) {
    case bus.Track:
        f := registry.TrackedFile{
            ID: body.FileID, EscrowID: body.EscrowID, Scheme: body.Scheme, ValidateEvery: body.ValidateEvery,
            LastVerify: s.clk.Now(), Size: body.Size, Blocks: body.Blocks, Digest: body.Digest,
        }
        if err := s.reg.Put(f); err != nil {
            logger.ErrorJ("scheduler_track", map[string]any{"file": body.FileID, "result": "error", "err": err.Error(), "trace_id": ev.TraceID})
            return
        }
        logger.InfoJ("scheduler_track", map[string]any{"file": body.FileID, "escrow": body.EscrowID, "result": "ok", "trace_id": ev.TraceID})
    case bus.Untrack:
        s.untrack(body.FileID, body.Delete, ev.TraceID)
    default:
        logger.WarnJ("scheduler_event", map[string]any{"kind": string(ev.Kind), "result": "ignored", "trace_id": ev.TraceID})
    }
}

func (s *Service) untrack(id string, del bool, tid string) {
    if err := s.reg.Remove(id); err != nil && !errors.Is(err, registry.ErrNotFound) {
        logger.ErrorJ("scheduler_untrack", map[string]any{"file": id, "result": "error", "err": err.Error(), "trace_id": tid})
    }
    if del {
        if err := s.files.Delete(id); err != nil && !errors.Is(err, blockstore.ErrNotFound) {
            logger.ErrorJ("scheduler_untrack", map[string]any{"file": id, "op": "delete", "result": "error", "err": err.Error(), "trace_id": tid})
        }
    }
    logger.InfoJ("scheduler_untrack", map[string]any{"file": id, "deleted": del, "result": "ok", "trace_id": tid})
}

// Sweep audits every due file once. It returns false without doing anything
// when another sweep is still running.
func (s *Service) Sweep(ctx context.Context) ([]Result, bool) {
    if !s.sweep.TryLock() {
        metrics.Inc("scheduler_sweeps_total", map[string]string{"result": "overrun"})
        logger.WarnJ("scheduler_sweep", map[string]any{"result": "overrun"})
        return nil, false
    }
    defer s.sweep.Unlock()
    begin := time.Now()
    snap := s.reg.Snapshot()
    results := make([]Result, len(snap))
    g, gctx := errgroup.WithContext(ctx)
    g.SetLimit(s.cfg.Parallelism)
    for i, f := range snap {
        g.Go(func() error {
            results[i] = s.auditSafe(gctx, f, false)
            return nil
        })
    }
    _ = g.Wait()
    metrics.Inc("scheduler_sweeps_total", map[string]string{"result": "ok"})
    metrics.ObserveSummary("scheduler_sweep_ms", nil, float64(time.Since(begin).Milliseconds()))
    return results, true
}

// AuditNow audits one file immediately, ignoring its schedule.
func (s *Service) AuditNow(ctx context.Context, id string) (Result, error) {
    f, ok := s.reg.Get(id)
    if !ok { return Result{}, fmt.Errorf("%w: %s", ErrUnknownFile, id) }
    return s.auditSafe(ctx, f, true), nil
}

func (s *Service) auditSafe(ctx context.Context, f registry.TrackedFile, force bool) (res Result) {
    ctx, tid := trace.Ensure(ctx)
    begin := time.Now()
    defer func() {
        if r := recover(); r != nil {
            res = Result{FileID: f.ID, Outcome: Failed, Reason: "panic", Err: fmt.Errorf("scheduler: panic: %v", r)}
        }
        if res.Outcome == NotDue { return }
        metrics.Inc("scheduler_audits_total", map[string]string{"outcome": string(res.Outcome)})
        fields := map[string]any{"file": f.ID, "escrow": f.EscrowID, "outcome": string(res.Outcome), "latency_ms": time.Since(begin).Milliseconds(), "trace_id": tid}
        if res.Reason != "" { fields["reason"] = res.Reason }
        if res.Err != nil {
            fields["err"] = res.Err.Error()
            logger.WarnJ("scheduler_audit", fields)
            return
        }
        logger.InfoJ("scheduler_audit", fields)
    }()
    return s.audit(ctx, f, force)
}

func (s *Service) call(ctx context.Context) (context.Context, context.CancelFunc) {
    return context.WithTimeout(ctx, s.cfg.CallTimeout)
}

func skip(id string, err error) Result {
    return Result{FileID: id, Outcome: Skipped, Reason: ReasonLedgerUnreachable, Err: err}
}

// ledgerErr keeps transport failures retryable and fails the rest.
func ledgerErr(id string, err error) Result {
    if ledger.IsTransport(err) { return skip(id, err) }
    return Result{FileID: id, Outcome: Failed, Err: err}
}

func (s *Service) audit(ctx context.Context, f registry.TrackedFile, force bool) Result {
    now := s.clk.Now()
    if !force && !f.Due(now) { return Result{FileID: f.ID, Outcome: NotDue} }

    cctx, cancel := s.call(ctx)
    st, err := s.led.EscrowState(cctx, f.EscrowID)
    cancel()
    if err != nil { return ledgerErr(f.ID, err) }

    if st.EndedByBuyer {
        cctx, cancel := s.call(ctx)
        rc, err := s.led.RequestFunds(cctx, f.EscrowID)
        cancel()
        if err != nil { return ledgerErr(f.ID, err) }
        if !rc.Accepted { return Result{FileID: f.ID, Outcome: Skipped, Reason: ReasonFundsRefused} }
        tid, _ := trace.FromContext(ctx)
        s.untrack(f.ID, true, tid)
        return Result{FileID: f.ID, Outcome: Reclaimed}
    }

    cost := ledger.ProveCost(s.cfg.CostBase, s.cfg.CostRate, st.QuerySize)
    if float64(st.Balance) < cost {
        return Result{FileID: f.ID, Outcome: Skipped, Reason: ReasonInsufficientBalance}
    }

    cctx, cancel = s.call(ctx)
    ch, err := s.led.Challenge(cctx, f.EscrowID)
    cancel()
    if err != nil { return ledgerErr(f.ID, err) }

    scheme, err := SchemeByName(f.Scheme)
    if err != nil { return Result{FileID: f.ID, Outcome: Failed, Err: err} }
    proof, err := s.prove(ctx, f.ID, scheme, ch)
    if err != nil { return Result{FileID: f.ID, Outcome: Failed, Err: err} }
    sigma, mu, err := scheme.MarshalProof(proof)
    if err != nil { return Result{FileID: f.ID, Outcome: Failed, Err: err} }

    cctx, cancel = s.call(ctx)
    rc, err := s.led.SubmitProof(cctx, f.EscrowID, sigma, mu)
    cancel()
    if err != nil { return ledgerErr(f.ID, err) }
    if !rc.Accepted {
        if rc.Rejected { return Result{FileID: f.ID, Outcome: Rejected, Reason: rc.Message} }
        // not due on the ledger's clock, stale queries or funds; retry next period
        return Result{FileID: f.ID, Outcome: Skipped, Reason: ReasonLedgerRefused,
            Err: fmt.Errorf("scheduler: proof refused (%d): %s", rc.Status, rc.Message)}
    }
    if err := s.reg.MarkVerified(f.ID, s.clk.Now()); err != nil {
        return Result{FileID: f.ID, Outcome: Verified, Err: err}
    }
    return Result{FileID: f.ID, Outcome: Verified}
}

func (s *Service) prove(ctx context.Context, id string, scheme por.Scheme, ch por.Challenge) (por.Proof, error) {
    fh, err := s.files.Open(id)
    if err != nil { return por.Proof{}, err }
    defer fh.Close()
    rd, err := blockstore.NewReader(fh, blockstore.Layout{BlockSize: s.cfg.BlockSize, TagSize: scheme.TagSize()})
    if err != nil { return por.Proof{}, err }
    return por.Prove(ctx, scheme, rd, ch)
}

// SchemeByName resolves a registry scheme name; empty means the public scheme.
func SchemeByName(name string) (por.Scheme, error) {
    switch name {
    case "", public.Name:
        return public.Scheme{}, nil
    case private.Name:
        return private.Scheme{}, nil
    }
    return nil, fmt.Errorf("%w: unknown scheme %q", por.ErrInvalidInput, name)
}
