// Package config loads process-wide settings from the environment and
// decodes model specifications written in YAML.
//
// Settings come from MUYGO_* environment variables, optionally seeded from
// .env files. Variables already present in the environment win over the
// files.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/YuminosukeSato/muygo/core/backend"
	"github.com/YuminosukeSato/muygo/core/parallel"
	scigoErrors "github.com/YuminosukeSato/muygo/pkg/errors"
	"github.com/YuminosukeSato/muygo/pkg/log"
)

// Environment variables read by Load.
const (
	EnvBackend    = "MUYGO_BACKEND"
	EnvLogLevel   = "MUYGO_LOG_LEVEL"
	EnvMaxWorkers = "MUYGO_MAX_WORKERS"
)

// Config holds process-wide settings.
type Config struct {
	// Backend is the name of the linear-algebra backend. Empty keeps the
	// active one.
	Backend  string
	LogLevel log.Level
	// MaxWorkers caps parallel solves; 0 means runtime.NumCPU().
	MaxWorkers int
}

// Load reads the given .env files, skipping ones that do not exist, and then
// parses the environment.
func Load(paths ...string) (*Config, error) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, scigoErrors.Wrapf(err, "config: stat %s", p)
		}
		if err := godotenv.Load(p); err != nil {
			return nil, scigoErrors.Wrapf(err, "config: load %s", p)
		}
	}
	return FromEnv()
}

// FromEnv parses the MUYGO_* variables of the current environment.
func FromEnv() (*Config, error) {
	cfg := &Config{LogLevel: log.LevelInfo}

	if v := strings.TrimSpace(os.Getenv(EnvBackend)); v != "" {
		name := strings.ToLower(v)
		if _, err := backend.Get(name); err != nil {
			return nil, scigoErrors.NewValidationError(EnvBackend, "unknown backend", v)
		}
		cfg.Backend = name
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		lvl, err := log.ParseLevel(v)
		if err != nil {
			return nil, scigoErrors.NewValidationError(EnvLogLevel, "unknown log level", v)
		}
		cfg.LogLevel = lvl
	}
	if v := strings.TrimSpace(os.Getenv(EnvMaxWorkers)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, scigoErrors.NewValidationError(EnvMaxWorkers, "must be a non-negative integer", v)
		}
		cfg.MaxWorkers = n
	}
	return cfg, nil
}

// Apply installs the settings globally.
func (c *Config) Apply() error {
	if c.Backend != "" {
		if err := backend.Use(c.Backend); err != nil {
			return err
		}
	}
	log.SetLevel(c.LogLevel)
	parallel.SetMaxWorkers(c.MaxWorkers)

	log.GetLoggerWithName("config").Debug("configuration applied",
		log.BackendKey, backend.Active().Name(),
		"max_workers", parallel.Workers(),
	)
	return nil
}
