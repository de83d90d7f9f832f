package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/stockflow/internal/dynamo"
	"github.com/san-kum/stockflow/internal/sim"
	"github.com/san-kum/stockflow/internal/solver"
	"github.com/san-kum/stockflow/internal/uncertainty"
)

const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
	DefaultRunsDir   = "runs"
)

type Config struct {
	Solver      solver.Config      `yaml:"solver"`
	Stepper     sim.Config         `yaml:"stepper"`
	Uncertainty uncertainty.Config `yaml:"uncertainty"`
	Network     NetworkConfig      `yaml:"network"`
	Logging     LoggingConfig      `yaml:"logging"`
	Storage     StorageConfig      `yaml:"storage"`
}

type NetworkConfig struct {
	AllowSelfLoops bool `yaml:"allow_self_loops"`
	// Context lists the moderator flags active by default. A scenario's
	// own context replaces it.
	Context  []string `yaml:"context,omitempty"`
	MaxLoops int      `yaml:"max_loops"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StorageConfig struct {
	Dir string `yaml:"dir"`
	// Catalog is the SQLite run index. Empty means <dir>/catalog.db.
	Catalog string `yaml:"catalog"`
}

func DefaultConfig() *Config {
	return &Config{
		Solver:      solver.DefaultConfig(),
		Stepper:     sim.DefaultConfig(),
		Uncertainty: uncertainty.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Storage: StorageConfig{Dir: DefaultRunsDir},
	}
}

// Load reads path over the defaults, so a file only needs the keys it
// changes.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate reports every invalid section at once.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Solver.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("solver: %w", err))
	}
	if err := c.Stepper.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("stepper: %w", err))
	}
	if err := c.Uncertainty.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("uncertainty: %w", err))
	}
	if c.Network.MaxLoops < 0 {
		errs = append(errs, fmt.Errorf("network: %w: max_loops must be non-negative", dynamo.ErrInvalidConfig))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging: %w: unknown format %q", dynamo.ErrInvalidConfig, c.Logging.Format))
	}
	if c.Storage.Dir == "" {
		errs = append(errs, fmt.Errorf("storage: %w: dir must be set", dynamo.ErrInvalidConfig))
	}
	return errors.Join(errs...)
}

// CatalogPath resolves the SQLite catalog location.
func (c *Config) CatalogPath() string {
	if c.Storage.Catalog != "" {
		return c.Storage.Catalog
	}
	return filepath.Join(c.Storage.Dir, "catalog.db")
}
