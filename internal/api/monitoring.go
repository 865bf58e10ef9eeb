package api

import (
    "context"
    "errors"
    "net/http"
    "time"

    "github.com/zmlAEQ/Aequa-storage/pkg/logger"
    "github.com/zmlAEQ/Aequa-storage/pkg/metrics"
)

// Monitoring serves /metrics and /healthz on a separate address.
type Monitoring struct {
    addr string
    srv  *http.Server
}

func NewMonitoring(addr string) *Monitoring { return &Monitoring{addr: addr} }

func (m *Monitoring) Name() string { return "monitoring" }

func (m *Monitoring) Start(ctx context.Context) error {
    mux := http.NewServeMux()
    mux.Handle("/metrics", metrics.Handler())
    mux.HandleFunc("/healthz", handleHealth)
    m.srv = &http.Server{Addr: m.addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
    go func() {
        if err := m.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            logger.ErrorJ("monitoring", map[string]any{"addr": m.addr, "result": "error", "err": err.Error()})
        }
    }()
    logger.InfoJ("monitoring", map[string]any{"addr": m.addr, "result": "listening"})
    return nil
}

func (m *Monitoring) Stop(ctx context.Context) error {
    if m.srv == nil { return nil }
    return m.srv.Shutdown(ctx)
}
