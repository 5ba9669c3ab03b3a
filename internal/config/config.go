// Package config loads server settings from PFRACE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

// Seed delivery modes.
const (
	SeedModeSync  = "sync"
	SeedModeAsync = "async"
)

// Config holds every runtime setting of the server.
type Config struct {
	Addr            string          `env:"PFRACE_ADDR" envDefault:"127.0.0.1:8080"`
	DBPath          string          `env:"PFRACE_DB_PATH" envDefault:":memory:"`
	SeedMode        string          `env:"PFRACE_SEED_MODE" envDefault:"sync"`
	SeedTimeout     time.Duration   `env:"PFRACE_SEED_TIMEOUT" envDefault:"30s"`
	MiningDelay     time.Duration   `env:"PFRACE_MINING_DELAY" envDefault:"0s"`
	GasPriceGwei    decimal.Decimal `env:"PFRACE_GAS_PRICE_GWEI" envDefault:"20"`
	CORSOrigins     []string        `env:"PFRACE_CORS_ORIGINS" envDefault:"*" envSeparator:","`
	ShutdownTimeout time.Duration   `env:"PFRACE_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("PFRACE_ADDR must not be empty"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("PFRACE_DB_PATH must not be empty"))
	}
	if c.SeedMode != SeedModeSync && c.SeedMode != SeedModeAsync {
		errs = append(errs, fmt.Errorf("PFRACE_SEED_MODE must be %q or %q, got %q", SeedModeSync, SeedModeAsync, c.SeedMode))
	}
	if c.SeedTimeout <= 0 {
		errs = append(errs, errors.New("PFRACE_SEED_TIMEOUT must be positive"))
	}
	if c.MiningDelay < 0 {
		errs = append(errs, errors.New("PFRACE_MINING_DELAY must not be negative"))
	}
	if !c.GasPriceGwei.IsPositive() {
		errs = append(errs, errors.New("PFRACE_GAS_PRICE_GWEI must be positive"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("PFRACE_SHUTDOWN_TIMEOUT must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
