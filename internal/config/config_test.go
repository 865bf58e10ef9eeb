package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zmlAEQ/Aequa-storage/internal/ledger"
)

func write(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "por.toml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(EnvPath, "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, cfg.Audit.Period)
	assert.Equal(t, ledger.DefaultBaseURL, cfg.Ledger.BaseURL)
	home, err := homedir.Dir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".aequa-por/storage"), cfg.Node.StorageDir)
}

func TestLoad_FileOverrides(t *testing.T) {
	key, _, err := ledger.NewKeypair()
	require.NoError(t, err)
	p := write(t, `
[node]
storage_dir = "/srv/por"
listen = "0.0.0.0:9000"
seller_key = "`+key+`"

[audit]
period = "1m"
call_timeout = "5s"
parallelism = 4

[ledger]
base_url = "http://ledger:3030"
simulate = true

[log]
level = "debug"
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "/srv/por", cfg.Node.StorageDir)
	assert.Equal(t, time.Minute, cfg.Audit.Period)
	assert.Equal(t, 4, cfg.Audit.Parallelism)
	assert.Equal(t, 1.0, cfg.Audit.CostBase, "unset keys keep defaults")
	lc := cfg.LedgerConfig()
	assert.Equal(t, key, lc.SellerKey)
	assert.True(t, lc.Simulate)
}

func TestLoad_EnvPath(t *testing.T) {
	p := write(t, "[node]\nblock_size = 2048\n")
	t.Setenv(EnvPath, p)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 2048, cfg.Node.BlockSize)
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":      "[node]\nstorage = \"/x\"\n",
		"timeout > period": "[audit]\nperiod = \"5s\"\ncall_timeout = \"10s\"\n",
		"bad listen":       "[node]\nlisten = \"nohostport\"\n",
		"bad seller key":   "[node]\nseller_key = \"0OIl\"\n",
		"zero parallelism": "[audit]\nparallelism = 0\n",
		"log level":        "[log]\nlevel = \"loud\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(write(t, body))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
	_, err := Load(write(t, "not = [toml"))
	assert.Error(t, err)
}
