package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func lookupFrom(env map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	cfg := Default()
	err := cfg.applyEnv(lookupFrom(map[string]string{
		"DATABASE_URL":         "postgres://u:p@localhost:5432/shop",
		"DRIFT_DATABASE_URL":   "postgres://u:p@localhost:5432/shop_v2",
		"EVAL_TOP_K":           "5",
		"EVAL_TAU_RTOL":        "0.01",
		"AGENT_MAX_RETRIES":    "0",
		"QUERY_TIMEOUT":        "5s",
		"SCHEMA_CACHE_TTL":     "0s",
		"CORS_ALLOWED_ORIGINS": "http://localhost:5173, https://bi.example.com,",
		"HTTP_LISTEN_ADDR":     "",
	}))
	require.NoError(t, err)

	require.Equal(t, "postgres://u:p@localhost:5432/shop", cfg.DatabaseURL)
	require.Equal(t, "postgres://u:p@localhost:5432/shop_v2", cfg.DriftDatabaseURL)
	require.Equal(t, 5, cfg.TopK)
	require.Equal(t, 0.01, cfg.TauRtol)
	require.Equal(t, DefaultTauAtol, cfg.TauAtol)
	require.Equal(t, 0, cfg.MaxRetries)
	require.Equal(t, 5*time.Second, cfg.QueryTimeout)
	require.Equal(t, time.Duration(0), cfg.SchemaCacheTTL)
	require.Equal(t, []string{"http://localhost:5173", "https://bi.example.com"}, cfg.CORSAllowedOrigins)
	require.Equal(t, DefaultListenAddr, cfg.ListenAddr, "blank values keep the default")
	require.NoError(t, cfg.Validate())
}

func TestApplyEnv_InvalidValues(t *testing.T) {
	t.Parallel()

	cfg := Default()
	err := cfg.applyEnv(lookupFrom(map[string]string{
		"EVAL_TOP_K":    "three",
		"LLM_TIMEOUT":   "60",
		"EVAL_TAU_ATOL": "tiny",
	}))
	require.ErrorContains(t, err, "EVAL_TOP_K")
	require.ErrorContains(t, err, "LLM_TIMEOUT")
	require.ErrorContains(t, err, "EVAL_TAU_ATOL")
}

func TestApplyFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "bicopilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database_url: sqlite:///tmp/shop.db
top_k: 4
llm_timeout: 90s
cors_allowed_origins:
  - http://localhost:3000
`), 0o644))

	cfg := Default()
	cfg.DatasetPath = "data/nl2sql.csv"
	require.NoError(t, cfg.applyFile(path))
	require.Equal(t, "sqlite:///tmp/shop.db", cfg.DatabaseURL)
	require.Equal(t, 4, cfg.TopK)
	require.Equal(t, 90*time.Second, cfg.LLMTimeout)
	require.Equal(t, []string{"http://localhost:3000"}, cfg.CORSAllowedOrigins)
	require.Equal(t, "data/nl2sql.csv", cfg.DatasetPath, "unset keys keep earlier values")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("top_kk: 4\n"), 0o644))
	require.ErrorContains(t, Default().applyFile(bad), "failed to parse config file")

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	require.NoError(t, Default().applyFile(empty))

	require.ErrorContains(t, Default().applyFile(filepath.Join(dir, "missing.yaml")), "failed to read config file")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bicopilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("top_k: 7\n"), 0o644))

	t.Setenv("DATABASE_URL", "duckdb:///tmp/shop.duckdb")
	t.Setenv("EVAL_TOP_K", "2")
	t.Setenv(ConfigFileEnv, path)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "duckdb:///tmp/shop.duckdb", cfg.DatabaseURL)
	require.Equal(t, 7, cfg.TopK, "file overlays the environment")
	require.NoError(t, cfg.RequireDatabase())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"top k", func(c *Config) { c.TopK = 0 }, "top k"},
		{"tolerance", func(c *Config) { c.TauRtol = -1 }, "tolerances"},
		{"retries", func(c *Config) { c.MaxRetries = -1 }, "max retries"},
		{"timeouts", func(c *Config) { c.QueryTimeout = 0 }, "timeouts"},
		{"cache ttl", func(c *Config) { c.SchemaCacheTTL = -time.Second }, "schema cache ttl"},
		{"concurrency", func(c *Config) { c.EvalConcurrency = 0 }, "eval concurrency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			require.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}

	require.ErrorContains(t, Default().RequireDatabase(), "DATABASE_URL")
}
