// Package config loads the benchmark configuration.
//
// Sources are layered with koanf, later ones overriding earlier ones:
// built-in defaults, a YAML file, SESSIONBENCH_* environment variables,
// then explicitly set command-line flags.
package config

import (
	"errors"
	"fmt"
	"math"

	"SessionBench/internal/chain"
	"SessionBench/internal/fixture"
	"SessionBench/internal/identity"
	"SessionBench/internal/logger"
	"SessionBench/internal/scenario"
	"SessionBench/internal/staking"
)

var (
	// ErrEmptySizes is returned when no corpus size is configured.
	ErrEmptySizes = errors.New("no corpus sizes configured")

	// ErrInvalidSize is returned for a corpus size that is not positive.
	ErrInvalidSize = errors.New("corpus size must be positive")

	// ErrInvalidTrials is returned when fewer than one trial per size is configured.
	ErrInvalidTrials = errors.New("trials must be at least 1")

	// ErrInvalidStaking is returned for staking parameters that cannot fund a single bond.
	ErrInvalidStaking = errors.New("invalid staking parameters")

	// ErrInvalidFormat is returned for an unknown output format.
	ErrInvalidFormat = errors.New("invalid output format")
)

// Output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
)

// Config is the full benchmark configuration.
type Config struct {
	Seed              string   `koanf:"seed"`
	Sizes             []int    `koanf:"sizes"`
	Trials            int      `koanf:"trials"`
	Operations        []string `koanf:"operations"`
	VerifySteadyState bool     `koanf:"verify_steady_state"`

	Staking StakingConfig `koanf:"staking"`
	Storage StorageConfig `koanf:"storage"`
	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
	Output  OutputConfig  `koanf:"output"`
}

// StakingConfig holds the ledger limits and the enrollment stake.
type StakingConfig struct {
	MinBond     uint64 `koanf:"min_bond"`
	Issuance    uint64 `koanf:"issuance"`
	StakeMargin uint64 `koanf:"stake_margin"` // StakeMargin is added to MinBond for every bond
	Commission  uint32 `koanf:"commission"`   // Commission is in parts per billion
}

// StorageConfig selects the ledger store.
type StorageConfig struct {
	Path string `koanf:"path"` // Path is the Pebble base directory; empty keeps ledgers in memory
}

// LogConfig configures the logger.
type LogConfig struct {
	Level string `koanf:"level"`
}

// MetricsConfig configures the Prometheus textfile export.
type MetricsConfig struct {
	Path string `koanf:"path"` // Path is the textfile to write; empty disables the export
}

// OutputConfig configures the report.
type OutputConfig struct {
	Format         string `koanf:"format"`
	IncludeSamples bool   `koanf:"include_samples"`
}

// defaults returns the built-in configuration as flat koanf keys.
func defaults() map[string]any {
	params := staking.DefaultParams()

	return map[string]any{
		"seed":                   identity.DefaultSeed,
		"sizes":                  []int{10, 50, 100, 500, 1000},
		"trials":                 5,
		"operations":             []string{scenario.RegisterKeys.String(), scenario.PurgeKeys.String()},
		"verify_steady_state":    false,
		"staking.min_bond":       params.MinBond,
		"staking.issuance":       params.Issuance,
		"staking.stake_margin":   fixture.DefaultConfig().StakeMargin,
		"staking.commission":     uint32(0),
		"storage.path":           "",
		"log.level":              "info",
		"metrics.path":           "",
		"output.format":          FormatTable,
		"output.include_samples": false,
	}
}

// Validate checks the configuration before any ledger is opened.
func (c *Config) Validate() error {
	if c.Seed == "" {
		return fmt.Errorf("%w: seed is empty", identity.ErrMalformedSeed)
	}

	if len(c.Sizes) == 0 {
		return ErrEmptySizes
	}

	for i, size := range c.Sizes {
		if size <= 0 {
			return fmt.Errorf("%w: sizes[%d] = %d", ErrInvalidSize, i, size)
		}
	}

	if c.Trials < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidTrials, c.Trials)
	}

	if _, err := c.Kinds(); err != nil {
		return err
	}

	if c.Staking.StakeMargin > math.MaxUint64-c.Staking.MinBond {
		return fmt.Errorf("%w: min_bond + stake_margin overflows", ErrInvalidStaking)
	}

	if c.Staking.MinBond+c.Staking.StakeMargin > c.Staking.Issuance {
		return fmt.Errorf("%w: issuance %d cannot fund one bond of %d",
			ErrInvalidStaking, c.Staking.Issuance, c.Staking.MinBond+c.Staking.StakeMargin)
	}

	if c.Staking.Commission > staking.MaxCommission {
		return fmt.Errorf("%w: commission %d", ErrInvalidStaking, c.Staking.Commission)
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}

	if c.Output.Format != FormatTable && c.Output.Format != FormatJSON {
		return fmt.Errorf("%w: %q", ErrInvalidFormat, c.Output.Format)
	}

	return nil
}

// Kinds parses the configured operations, in configured order.
func (c *Config) Kinds() ([]scenario.OperationKind, error) {
	if len(c.Operations) == 0 {
		return nil, fmt.Errorf("%w: none configured", scenario.ErrUnknownOperation)
	}

	kinds := make([]scenario.OperationKind, 0, len(c.Operations))
	seen := make(map[scenario.OperationKind]bool)

	for _, name := range c.Operations {
		k, err := scenario.ParseOperationKind(name)
		if err != nil {
			return nil, err
		}

		if !seen[k] {
			kinds = append(kinds, k)
			seen[k] = true
		}
	}

	return kinds, nil
}

// Plan returns the scenario plan.
func (c *Config) Plan() scenario.Plan {
	return scenario.Plan{
		Sizes:             append([]int(nil), c.Sizes...),
		Trials:            c.Trials,
		VerifySteadyState: c.VerifySteadyState,
	}
}

// ChainConfig returns the ledger configuration.
func (c *Config) ChainConfig() chain.Config {
	return chain.Config{
		Path: c.Storage.Path,
		Staking: staking.Params{
			MinBond:  c.Staking.MinBond,
			Issuance: c.Staking.Issuance,
		},
	}
}

// FixtureConfig returns the enrollment parameters.
func (c *Config) FixtureConfig() fixture.Config {
	return fixture.Config{
		StakeMargin: c.Staking.StakeMargin,
		Commission:  c.Staking.Commission,
	}
}
