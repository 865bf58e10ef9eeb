package main

import (
    "context"
    "flag"
    "os"
    "os/signal"
    "path/filepath"
    "syscall"

    "github.com/zmlAEQ/Aequa-storage/internal/config"
    "github.com/zmlAEQ/Aequa-storage/internal/escrow"
    "github.com/zmlAEQ/Aequa-storage/pkg/lifecycle"
    "github.com/zmlAEQ/Aequa-storage/pkg/logger"
)

func main() {
    var (
        cfgPath string
        listen  string
        dbPath  string
    )
    flag.StringVar(&cfgPath, "config", "", "TOML config path (default $"+config.EnvPath+")")
    flag.StringVar(&listen, "listen", "", "Gateway listen address (overrides escrow.listen)")
    flag.StringVar(&dbPath, "db", "", "SQLite database path, or :memory: (overrides escrow.db_path)")
    flag.Parse()

    cfg, err := config.Load(cfgPath)
    if err != nil { fatal(err) }
    if listen != "" { cfg.Escrow.Listen = listen }
    if dbPath != "" { cfg.Escrow.DBPath = dbPath }
    if err := logger.Init(cfg.Log); err != nil { fatal(err) }

    if cfg.Escrow.DBPath != ":memory:" {
        if err := os.MkdirAll(filepath.Dir(cfg.Escrow.DBPath), 0o755); err != nil { fatal(err) }
    }
    st, err := escrow.OpenStore(cfg.Escrow.DBPath)
    if err != nil { fatal(err) }
    defer st.Close()
    c := escrow.NewContract(st, escrow.Options{CostBase: cfg.Audit.CostBase, CostRate: cfg.Audit.CostRate})

    ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer cancel()
    m := lifecycle.New()
    m.Add(escrow.NewServer(cfg.Escrow.Listen, c))
    if err := m.StartAll(ctx); err != nil {
        logger.Error(err.Error())
        os.Exit(1)
    }
    <-ctx.Done()
    _ = m.StopAll(context.Background())
}

func fatal(err error) {
    logger.Error(err.Error())
    os.Exit(1)
}
