package config_test

import (
	"TroveLedger/internal/config"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/state"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test: Load
// ============================================================================

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "trove.prices", cfg.NATS.PriceSubject)
	assert.Equal(t, 50, cfg.Persistence.BatchSize)
	assert.Equal(t, 10*time.Millisecond, cfg.Persistence.FlushTimeout)
	assert.Equal(t, int64(100_000), cfg.Snapshot.Interval)

	params, err := cfg.Params.SystemParams()
	require.NoError(t, err)
	assert.Equal(t, state.DefaultSystemParams(), params)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := writeConfig(t, `
postgres:
  dsn: postgres://from-yaml/db
nats:
  price_subject: prices.eth
persistence:
  batch_size: 8
  flush_timeout: 25ms
snapshot:
  interval: 500
log:
  level: debug
params:
  mcr: "1.2"
  ccr: "1.6"
  gas_compensation: "10"
  beta: 3
`)
	t.Setenv("TROVE_POSTGRES_DSN", "postgres://from-env/db")
	t.Setenv("TROVE_SNAPSHOT_INTERVAL", "750")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://from-env/db", cfg.Postgres.DSN, "env beats yaml")
	assert.Equal(t, "prices.eth", cfg.NATS.PriceSubject)
	assert.Equal(t, 8, cfg.Persistence.BatchSize)
	assert.Equal(t, 25*time.Millisecond, cfg.Persistence.FlushTimeout)
	assert.Equal(t, int64(750), cfg.Snapshot.Interval)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 20, cfg.Postgres.MaxOpenConns, "unset keys keep defaults")

	params, err := cfg.Params.SystemParams()
	require.NoError(t, err)
	assert.Equal(t, fpmath.DecFrac(120, 100), params.MCR)
	assert.Equal(t, fpmath.DecFrac(160, 100), params.CCR)
	assert.Equal(t, fpmath.Dec(10), params.GasCompensation)
	assert.Equal(t, uint64(3), params.Beta)
	assert.Equal(t, fpmath.Dec(1800), params.MinNetDebt)
}

func TestLoad_BadEnvIntFallsBack(t *testing.T) {
	t.Setenv("TROVE_PERSIST_BATCH_SIZE", "lots")
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Persistence.BatchSize)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown log level", "log:\n  level: loud\n"},
		{"zero batch size", "persistence:\n  batch_size: -1\n"},
		{"mcr below 100%", "params:\n  mcr: \"0.9\"\n"},
		{"ccr under mcr", "params:\n  mcr: \"1.5\"\n  ccr: \"1.2\"\n"},
		{"unparseable decimal", "params:\n  gas_compensation: twelve\n"},
		{"malformed yaml", "postgres: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tt.yaml))
			assert.Error(t, err)
		})
	}

	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

// --- Test helpers ---

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "troveledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}
