package main

import (
    "context"
    "flag"
    "os"
    "os/signal"
    "path/filepath"
    "syscall"

    "github.com/zmlAEQ/Aequa-storage/internal/api"
    "github.com/zmlAEQ/Aequa-storage/internal/blockstore"
    "github.com/zmlAEQ/Aequa-storage/internal/config"
    "github.com/zmlAEQ/Aequa-storage/internal/ledger"
    "github.com/zmlAEQ/Aequa-storage/internal/registry"
    "github.com/zmlAEQ/Aequa-storage/internal/scheduler"
    "github.com/zmlAEQ/Aequa-storage/pkg/bus"
    "github.com/zmlAEQ/Aequa-storage/pkg/lifecycle"
    "github.com/zmlAEQ/Aequa-storage/pkg/logger"
)

// envSellerKey may carry the seller keypair instead of the config file.
const envSellerKey = "AEQUA_POR_SELLER_KEY"

func main() {
    var (
        cfgPath  string
        listen   string
        monAddr  string
        storage  string
        simulate bool
    )
    flag.StringVar(&cfgPath, "config", "", "TOML config path (default $"+config.EnvPath+")")
    flag.StringVar(&listen, "listen", "", "Storage API listen address (overrides node.listen)")
    flag.StringVar(&monAddr, "monitoring", "", "Monitoring listen address (overrides node.monitoring)")
    flag.StringVar(&storage, "storage", "", "Storage directory (overrides node.storage_dir)")
    flag.BoolVar(&simulate, "simulate", false, "Submit proofs to prove_simulation")
    flag.Parse()

    cfg, err := config.Load(cfgPath)
    if err != nil { fatal(err) }
    if listen != "" { cfg.Node.Listen = listen }
    if monAddr != "" { cfg.Node.Monitoring = monAddr }
    if storage != "" { cfg.Node.StorageDir = storage }
    if simulate { cfg.Ledger.Simulate = true }
    if k := os.Getenv(envSellerKey); k != "" { cfg.Node.SellerKey = k }
    if err := cfg.Validate(); err != nil { fatal(err) }
    if cfg.Node.SellerKey == "" {
        logger.Error("seller key required: set node.seller_key or $" + envSellerKey)
        os.Exit(2)
    }
    if err := logger.Init(cfg.Log); err != nil { fatal(err) }
    defer logger.Sync()

    ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer cancel()

    dir, err := blockstore.OpenDir(cfg.Node.StorageDir)
    if err != nil { fatal(err) }
    reg := registry.NewMemory()
    if cfg.Node.RegistryPath != "" {
        if err := os.MkdirAll(filepath.Dir(cfg.Node.RegistryPath), 0o755); err != nil { fatal(err) }
        if reg, err = registry.Open(cfg.Node.RegistryPath); err != nil { fatal(err) }
    }
    defer reg.Close()
    gw, err := ledger.NewGateway(cfg.LedgerConfig())
    if err != nil { fatal(err) }

    b := bus.New(256)
    sched := scheduler.New(scheduler.Config{
        Period: cfg.Audit.Period, CallTimeout: cfg.Audit.CallTimeout, Parallelism: cfg.Audit.Parallelism,
        BlockSize: cfg.Node.BlockSize, CostBase: cfg.Audit.CostBase, CostRate: cfg.Audit.CostRate,
    }, reg, gw, dir)
    sched.SetSubscriber(b.Subscribe())

    srv := api.New(cfg.Node.Listen, dir, reg, gw)
    srv.SetPublisher(b.Publish)
    srv.SetAuditor(sched)
    srv.SetBlockSize(cfg.Node.BlockSize)
    srv.SetMaxUpload(cfg.Node.MaxUpload)

    // stop order is reverse: the API closes before the scheduler ends subscriptions
    m := lifecycle.New()
    m.Add(sched)
    m.Add(srv)
    if cfg.Node.Monitoring != "" { m.Add(api.NewMonitoring(cfg.Node.Monitoring)) }

    if err := m.StartAll(ctx); err != nil {
        logger.Error(err.Error())
        os.Exit(1)
    }
    <-ctx.Done()
    if err := m.StopAll(context.Background()); err != nil {
        logger.ErrorJ("shutdown", map[string]any{"result": "error", "err": err.Error()})
    }
}

func fatal(err error) {
    logger.Error(err.Error())
    os.Exit(1)
}
