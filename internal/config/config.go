package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/nsel/internal/sampling/backend"
	"github.com/copyleftdev/nsel/internal/sampling/diffusive"
	"github.com/copyleftdev/nsel/internal/selection"
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
		Level  string `env:"LOG_LEVEL"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Sampler struct {
		PopulationSize   int     `env:"SAMPLER_POPULATION_SIZE" envDefault:"0"`
		Levels           int     `env:"SAMPLER_LEVELS" envDefault:"20"`
		NumSteps         int     `env:"SAMPLER_NUM_STEPS" envDefault:"1000"`
		NumPerStep       int     `env:"SAMPLER_NUM_PER_STEP" envDefault:"10000"`
		NewLevelInterval int     `env:"SAMPLER_NEW_LEVEL_INTERVAL" envDefault:"10000"`
		Lambda           float64 `env:"SAMPLER_LAMBDA" envDefault:"10"`
		Beta             float64 `env:"SAMPLER_BETA" envDefault:"100"`
		Backend          string  `env:"SAMPLER_BACKEND" envDefault:"memory"`
		OutputDir        string  `env:"SAMPLER_OUTPUT_DIR" envDefault:"data"`
	}
	Selection struct {
		Workers    int    `env:"SELECT_WORKERS" envDefault:"4"`
		Policy     string `env:"SELECT_POLICY" envDefault:"skip-and-continue"`
		Likelihood string `env:"SELECT_LIKELIHOOD" envDefault:"logpdf"`
		Seed       uint64 `env:"SELECT_SEED" envDefault:"0"`
		MaxJobs    int    `env:"SELECT_MAX_JOBS" envDefault:"16"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	// Parse environment variables
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Set default logging level based on environment
	if cfg.Logging.Level == "" {
		if cfg.Environment == "development" {
			cfg.Logging.Level = "debug"
		} else {
			cfg.Logging.Level = "info"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Persisted traces need their directory up front
	if backend.Kind(cfg.Sampler.Backend) == backend.KindCSV {
		if err := os.MkdirAll(cfg.Sampler.OutputDir, 0755); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Validate checks values that env tags cannot express
func (c *Config) Validate() error {
	switch backend.Kind(c.Sampler.Backend) {
	case backend.KindMemory, backend.KindCSV:
	default:
		return fmt.Errorf("unknown sampler backend %q", c.Sampler.Backend)
	}
	if _, err := selection.ParsePolicy(c.Selection.Policy); err != nil {
		return err
	}
	if !selection.LikelihoodKind(c.Selection.Likelihood).Valid() {
		return fmt.Errorf("unknown likelihood %q", c.Selection.Likelihood)
	}
	if c.Selection.Workers < 1 {
		return fmt.Errorf("SELECT_WORKERS must be positive, got %d", c.Selection.Workers)
	}
	return nil
}

// SamplerConfig converts the sampler settings into a diffusive.Config
func (c *Config) SamplerConfig() diffusive.Config {
	return diffusive.Config{
		PopulationSize:   c.Sampler.PopulationSize,
		Levels:           c.Sampler.Levels,
		NumSteps:         c.Sampler.NumSteps,
		NumPerStep:       c.Sampler.NumPerStep,
		NewLevelInterval: c.Sampler.NewLevelInterval,
		Lambda:           c.Sampler.Lambda,
		Beta:             c.Sampler.Beta,
		Backend:          backend.Kind(c.Sampler.Backend),
		OutputDir:        c.Sampler.OutputDir,
	}
}

// SelectionOptions converts the selection settings into selector options
func (c *Config) SelectionOptions() selection.Options {
	policy, _ := selection.ParsePolicy(c.Selection.Policy)
	return selection.Options{
		Workers:   c.Selection.Workers,
		Policy:    policy,
		BaseSeed:  c.Selection.Seed,
		OutputDir: c.Sampler.OutputDir,
	}
}

// GetEnv returns the value of the environment variable or the default value
func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt returns the value of the environment variable as int or the default value
func GetEnvAsInt(key string, defaultValue int) int {
	valueStr := GetEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}
