// Package config loads the TOML configuration shared by the node, owner and
// escrow binaries.
package config

import (
	"net"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/go-homedir"
	"golang.org/x/xerrors"

	"github.com/zmlAEQ/Aequa-storage/internal/blockstore"
	"github.com/zmlAEQ/Aequa-storage/internal/ledger"
	"github.com/zmlAEQ/Aequa-storage/pkg/logger"
)

// EnvPath names the environment variable holding the config file path.
const EnvPath = "AEQUA_POR_CONFIG"

var ErrInvalid = xerrors.New("config: invalid")

type Node struct {
	StorageDir   string `toml:"storage_dir"`
	RegistryPath string `toml:"registry_path"`
	Listen       string `toml:"listen"`
	Monitoring   string `toml:"monitoring"`
	SellerKey    string `toml:"seller_key"`
	BlockSize    int    `toml:"block_size"`
	MaxUpload    int64  `toml:"max_upload"`
}

type Audit struct {
	Period      time.Duration `toml:"period"`
	CallTimeout time.Duration `toml:"call_timeout"`
	Parallelism int           `toml:"parallelism"`
	CostBase    float64       `toml:"cost_base"`
	CostRate    float64       `toml:"cost_rate"`
}

type Ledger struct {
	BaseURL    string        `toml:"base_url"`
	Timeout    time.Duration `toml:"timeout"`
	RatePerSec float64       `toml:"rate_per_sec"`
	Burst      int           `toml:"burst"`
	Simulate   bool          `toml:"simulate"`
}

type Escrow struct {
	DBPath string `toml:"db_path"`
	Listen string `toml:"listen"`
}

type Config struct {
	Node   Node          `toml:"node"`
	Audit  Audit         `toml:"audit"`
	Ledger Ledger        `toml:"ledger"`
	Log    logger.Config `toml:"log"`
	Escrow Escrow        `toml:"escrow"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Node: Node{
			StorageDir:   "~/.aequa-por/storage",
			RegistryPath: "~/.aequa-por/registry.db",
			Listen:       "127.0.0.1:8000",
			Monitoring:   "127.0.0.1:8020",
			BlockSize:    blockstore.DefaultBlockSize,
			MaxUpload:    1 << 30,
		},
		Audit: Audit{
			Period:      20 * time.Second,
			CallTimeout: 10 * time.Second,
			Parallelism: 1,
			CostBase:    ledger.DefaultCostBase,
			CostRate:    ledger.DefaultCostRate,
		},
		Ledger: Ledger{BaseURL: ledger.DefaultBaseURL, Timeout: 10 * time.Second, RatePerSec: 20, Burst: 5},
		Log:    logger.Config{Level: "info"},
		Escrow: Escrow{DBPath: "~/.aequa-por/escrow.db", Listen: "127.0.0.1:3030"},
	}
}

// Load decodes path over the defaults, expands "~" in every path field and
// validates the result. An empty path falls back to $AEQUA_POR_CONFIG and
// then to the defaults alone.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvPath)
	}
	if path != "" {
		p, err := homedir.Expand(path)
		if err != nil {
			return Config{}, xerrors.Errorf("config: expand %s: %w", path, err)
		}
		md, err := toml.DecodeFile(p, &cfg)
		if err != nil {
			return Config{}, xerrors.Errorf("config: decode %s: %w", p, err)
		}
		if und := md.Undecoded(); len(und) > 0 {
			return Config{}, xerrors.Errorf("%w: unknown key %s", ErrInvalid, und[0].String())
		}
	}
	if err := cfg.expand(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) expand() error {
	for _, p := range []*string{&c.Node.StorageDir, &c.Node.RegistryPath, &c.Log.File, &c.Escrow.DBPath} {
		if *p == "" {
			continue
		}
		v, err := homedir.Expand(*p)
		if err != nil {
			return xerrors.Errorf("config: expand %s: %w", *p, err)
		}
		*p = v
	}
	return nil
}

// Validate checks ranges and addresses.
func (c Config) Validate() error {
	if c.Node.StorageDir == "" {
		return xerrors.Errorf("%w: node.storage_dir required", ErrInvalid)
	}
	if c.Node.BlockSize <= 0 {
		return xerrors.Errorf("%w: node.block_size must be positive", ErrInvalid)
	}
	for name, addr := range map[string]string{"node.listen": c.Node.Listen, "node.monitoring": c.Node.Monitoring, "escrow.listen": c.Escrow.Listen} {
		if addr == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return xerrors.Errorf("%w: %s %q: %v", ErrInvalid, name, addr, err)
		}
	}
	if c.Node.SellerKey != "" {
		if _, err := ledger.PubkeyOf(c.Node.SellerKey); err != nil {
			return xerrors.Errorf("%w: node.seller_key: %v", ErrInvalid, err)
		}
	}
	if c.Audit.Period <= 0 || c.Audit.CallTimeout <= 0 {
		return xerrors.Errorf("%w: audit.period and audit.call_timeout must be positive", ErrInvalid)
	}
	if c.Audit.CallTimeout >= c.Audit.Period {
		return xerrors.Errorf("%w: audit.call_timeout must be shorter than audit.period", ErrInvalid)
	}
	if c.Audit.Parallelism < 1 {
		return xerrors.Errorf("%w: audit.parallelism must be at least 1", ErrInvalid)
	}
	if c.Audit.CostBase < 0 || c.Audit.CostRate < 0 {
		return xerrors.Errorf("%w: negative prove cost", ErrInvalid)
	}
	if c.Ledger.BaseURL == "" {
		return xerrors.Errorf("%w: ledger.base_url required", ErrInvalid)
	}
	if c.Ledger.RatePerSec < 0 || c.Ledger.Burst < 0 {
		return xerrors.Errorf("%w: negative ledger rate", ErrInvalid)
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return xerrors.Errorf("%w: log.level %q", ErrInvalid, c.Log.Level)
	}
	return nil
}

// LedgerConfig builds the gateway settings.
func (c Config) LedgerConfig() ledger.Config {
	return ledger.Config{
		BaseURL: c.Ledger.BaseURL, SellerKey: c.Node.SellerKey, Timeout: c.Ledger.Timeout,
		RatePerSec: c.Ledger.RatePerSec, Burst: c.Ledger.Burst, Simulate: c.Ledger.Simulate,
	}
}
