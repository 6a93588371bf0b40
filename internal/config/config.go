package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/hyperopt/internal/optimization"
)

// Trial log backends.
const (
	TrialLogJSONL  = "jsonl"
	TrialLogBadger = "badger"
	TrialLogNone   = "none"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Search struct {
		// DefaultStrategy is used when a session spec names none.
		DefaultStrategy string `env:"HPO_DEFAULT_STRATEGY" envDefault:"bayes"`
		// DefaultBudget is used when a session spec sets no budget.
		DefaultBudget int `env:"HPO_DEFAULT_BUDGET" envDefault:"50"`
		// OutputDir holds trial logs, one per session.
		OutputDir string `env:"HPO_OUTPUT_DIR" envDefault:"data/sessions"`
		// DataDir is where relative dataset paths are resolved.
		DataDir string `env:"HPO_DATA_DIR" envDefault:"data"`
		// TrialLog is jsonl, badger or none.
		TrialLog string `env:"HPO_TRIAL_LOG" envDefault:"jsonl"`
		// MaxSessions bounds sessions kept in memory; 0 is unbounded.
		MaxSessions int `env:"HPO_MAX_SESSIONS" envDefault:"100"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	// Parse environment variables
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Set default logging level based on environment
	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Search.TrialLog != TrialLogNone {
		if err := os.MkdirAll(cfg.Search.OutputDir, 0o755); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Validate checks the search settings.
func (c *Config) Validate() error {
	if _, err := optimization.ParseStrategy(c.Search.DefaultStrategy); err != nil {
		return fmt.Errorf("HPO_DEFAULT_STRATEGY: %w", err)
	}
	if c.Search.DefaultBudget < 1 {
		return fmt.Errorf("HPO_DEFAULT_BUDGET must be at least 1, got %d", c.Search.DefaultBudget)
	}
	switch c.Search.TrialLog {
	case TrialLogJSONL, TrialLogBadger, TrialLogNone:
	default:
		return fmt.Errorf("HPO_TRIAL_LOG must be jsonl, badger or none, got %q", c.Search.TrialLog)
	}
	if c.Search.MaxSessions < 0 {
		return fmt.Errorf("HPO_MAX_SESSIONS must not be negative, got %d", c.Search.MaxSessions)
	}
	return nil
}
