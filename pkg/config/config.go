// Package config loads process configuration from the environment, an
// optional .env file, and an optional YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultTopK            = 3
	DefaultTauAtol         = 1e-6
	DefaultTauRtol         = 1e-3
	DefaultMaxRetries      = 2
	DefaultLLMTimeout      = 60 * time.Second
	DefaultQueryTimeout    = 30 * time.Second
	DefaultSchemaCacheTTL  = time.Minute
	DefaultEvalConcurrency = 4
	DefaultListenAddr      = ":8080"
	DefaultMetricsAddr     = ":2112"

	// ConfigFileEnv names the YAML file to overlay when no path is given.
	ConfigFileEnv = "BICOPILOT_CONFIG"
)

type Config struct {
	DatabaseURL      string `yaml:"database_url"`
	DriftDatabaseURL string `yaml:"drift_database_url"`
	DatasetPath      string `yaml:"dataset_path"`

	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	AnthropicModel  string `yaml:"anthropic_model"`
	Dialect         string `yaml:"dialect"`

	TopK            int           `yaml:"top_k"`
	TauAtol         float64       `yaml:"tau_atol"`
	TauRtol         float64       `yaml:"tau_rtol"`
	MaxRetries      int           `yaml:"max_retries"`
	LLMTimeout      time.Duration `yaml:"llm_timeout"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
	SchemaCacheTTL  time.Duration `yaml:"schema_cache_ttl"`
	EvalConcurrency int           `yaml:"eval_concurrency"`

	ListenAddr         string   `yaml:"listen_addr"`
	MetricsAddr        string   `yaml:"metrics_addr"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		TopK:               DefaultTopK,
		TauAtol:            DefaultTauAtol,
		TauRtol:            DefaultTauRtol,
		MaxRetries:         DefaultMaxRetries,
		LLMTimeout:         DefaultLLMTimeout,
		QueryTimeout:       DefaultQueryTimeout,
		SchemaCacheTTL:     DefaultSchemaCacheTTL,
		EvalConcurrency:    DefaultEvalConcurrency,
		ListenAddr:         DefaultListenAddr,
		MetricsAddr:        DefaultMetricsAddr,
		CORSAllowedOrigins: []string{"*"},
	}
}

// Load builds the configuration: defaults, then a .env file in the working
// directory if present, then environment variables, then the YAML file at path
// (or $BICOPILOT_CONFIG when path is empty).
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if path == "" {
		path = os.Getenv(ConfigFileEnv)
	}
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
				return
			}
			*dst = f
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
				return
			}
			*dst = d
		}
	}

	str("DATABASE_URL", &c.DatabaseURL)
	str("DRIFT_DATABASE_URL", &c.DriftDatabaseURL)
	str("DATASET_PATH", &c.DatasetPath)
	str("ANTHROPIC_API_KEY", &c.AnthropicAPIKey)
	str("ANTHROPIC_MODEL", &c.AnthropicModel)
	str("SQL_DIALECT", &c.Dialect)
	integer("EVAL_TOP_K", &c.TopK)
	float("EVAL_TAU_ATOL", &c.TauAtol)
	float("EVAL_TAU_RTOL", &c.TauRtol)
	integer("AGENT_MAX_RETRIES", &c.MaxRetries)
	duration("LLM_TIMEOUT", &c.LLMTimeout)
	duration("QUERY_TIMEOUT", &c.QueryTimeout)
	duration("SCHEMA_CACHE_TTL", &c.SchemaCacheTTL)
	integer("EVAL_CONCURRENCY", &c.EvalConcurrency)
	str("HTTP_LISTEN_ADDR", &c.ListenAddr)
	str("METRICS_ADDR", &c.MetricsAddr)
	if v, ok := lookup("CORS_ALLOWED_ORIGINS"); ok && v != "" {
		c.CORSAllowedOrigins = splitList(v)
	}
	return errors.Join(errs...)
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks ranges. DatabaseURL is checked by commands that need it.
func (c *Config) Validate() error {
	if c.TopK <= 0 {
		return fmt.Errorf("top k must be positive, got %d", c.TopK)
	}
	if c.TauAtol < 0 || c.TauRtol < 0 {
		return errors.New("tau tolerances must be non-negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative, got %d", c.MaxRetries)
	}
	if c.LLMTimeout <= 0 || c.QueryTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	if c.SchemaCacheTTL < 0 {
		return errors.New("schema cache ttl must be non-negative")
	}
	if c.EvalConcurrency <= 0 {
		return fmt.Errorf("eval concurrency must be positive, got %d", c.EvalConcurrency)
	}
	return nil
}

// RequireDatabase reports an error when no database URL is configured.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	return nil
}
