package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalConfig = `
database:
  host: dbhost
  user: bridge
  password: secret
  database: bridge
evm:
  rpc_url: http://localhost:8545
  chain_id: 355113
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, EvmLinkDirect, cfg.Evm.LinkKind)
	assert.Equal(t, 12, cfg.Evm.ConfirmationBlocks)
	assert.Equal(t, uint64(1000), cfg.Evm.LogBatchSize)
	assert.Equal(t, time.Minute, cfg.Evm.ParamsRefreshEvery)
	assert.Equal(t, time.Hour, cfg.Bitcoin.MempoolTimeout)
	assert.Equal(t, SignerBackendLocal, cfg.Signer.Backend)
	assert.Equal(t, "BRIDGE_MASTER_KEY", cfg.Signer.MasterKeyEnv)
	assert.Equal(t, BackoffExponential, cfg.Scheduler.DefaultBackoff)
	assert.Equal(t, -1, cfg.Scheduler.DefaultMaxRetries)
	assert.Equal(t, 32, cfg.Scheduler.MaxTasksPerTick)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_HOST", "env-db")
	t.Setenv("EVM_RPC_URL", "http://env:8545")
	t.Setenv("BRIDGE_OWNER", "0x00000000000000000000000000000000000000EE")
	t.Setenv("LOGGING_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "env-db", cfg.Database.Host)
	assert.Equal(t, "http://env:8545", cfg.Evm.RPCURL)
	assert.Equal(t, "0x00000000000000000000000000000000000000EE", cfg.Bridge.Owner)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsMissingRPC(t *testing.T) {
	_, err := Load(writeConfig(t, `
database:
  host: dbhost
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evm.rpc_url")
}

func TestLoadRejectsAggregatorWithoutURLs(t *testing.T) {
	_, err := Load(writeConfig(t, `
database:
  host: dbhost
evm:
  link_kind: aggregator
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evm.rpc_urls")
}

func TestLoadRejectsExcessiveThreshold(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
indexer:
  urls: ["http://a", "http://b"]
  threshold: 3
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "indexer.threshold")
}

func TestGetConnectionString(t *testing.T) {
	cfg := DatabaseConfig{Host: "h", Port: 5433, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=h port=5433 user=u password=p dbname=d sslmode=disable", cfg.GetConnectionString())
}
