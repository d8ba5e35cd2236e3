package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"CoverLedger/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "genesis.yaml", cfg.Genesis)
	assert.Equal(t, ":9090", cfg.Server.GRPCAddr)
	assert.Equal(t, 50, cfg.Pipeline.PersistBatchSize)
	assert.Equal(t, 10*time.Millisecond, cfg.Pipeline.PersistFlushTimeout)
	assert.Equal(t, 30*time.Second, cfg.NATS.AckWait)
	assert.Empty(t, cfg.Redis.Addr, "price feed is opt-in")
	assert.Equal(t, "0 * * * * *", cfg.Scheduler.AuditSpec)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("COVER_POSTGRES_DSN", "postgres://x@db/cover")
	t.Setenv("COVER_PIPELINE_PERSIST_BATCH_SIZE", "7")
	t.Setenv("COVER_REDIS_ADDR", "redis:6379")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://x@db/cover", cfg.Postgres.DSN)
	assert.Equal(t, 7, cfg.Pipeline.PersistBatchSize)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cover.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
genesis: /etc/cover/genesis.yaml
server:
  http_addr: ":18080"
scheduler:
  checkpoint_spec: "*/30 * * * * *"
logging:
  level: debug
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/etc/cover/genesis.yaml", cfg.Genesis)
	assert.Equal(t, ":18080", cfg.Server.HTTPAddr)
	assert.Equal(t, ":9090", cfg.Server.GRPCAddr)
	assert.Equal(t, "*/30 * * * * *", cfg.Scheduler.CheckpointSpec)
	assert.Equal(t, "debug", cfg.Logging.Level)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	bad := *cfg
	bad.Pipeline.PersistBatchSize = 0
	bad.Scheduler.AuditSpec = "every minute"
	bad.Logging.Level = "loud"
	err = bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist_batch_size")
	assert.Contains(t, err.Error(), "scheduler.audit_spec")
	assert.Contains(t, err.Error(), "logging.level")

	bad = *cfg
	bad.Attestor.Key = "abc"
	bad.Attestor.ValidFor = 0
	assert.Error(t, bad.Validate())
}
