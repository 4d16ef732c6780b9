package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/maps"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the environment variable prefix.
const DefaultEnvPrefix = "SESSIONBENCH_"

// sections are the nested config blocks. An environment variable naming one
// of them is split after the section name only, so SESSIONBENCH_STAKING_MIN_BOND
// maps to staking.min_bond.
var sections = []string{"staking", "storage", "log", "metrics", "output"}

// ErrReadBytesNotSupported is returned when ReadBytes is called on a map provider.
var ErrReadBytesNotSupported = errors.New("config: map provider only supports Read")

// mapProvider is a koanf provider over an in-memory map of nested keys.
type mapProvider map[string]any

// ReadBytes is not supported.
func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, ErrReadBytesNotSupported
}

// Read returns the map.
func (m mapProvider) Read() (map[string]any, error) {
	return m, nil
}

// Loader layers configuration sources into a Config.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
	overrides map[string]any // overrides are flat dotted keys applied last
}

// Option configures a Loader.
type Option func(*Loader)

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// WithConfigFile sets the YAML file to load.
func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.filePath = path
	}
}

// WithOverrides sets values that take precedence over every other source.
// Keys are dotted, e.g. "staking.min_bond".
func WithOverrides(values map[string]any) Option {
	return func(l *Loader) {
		l.overrides = values
	}
}

// NewLoader creates a loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Load reads defaults, the file, the environment and the overrides, in that
// order, and returns the validated result.
func (l *Loader) Load() (*Config, error) {
	if err := l.loadMap(defaults()); err != nil {
		return nil, fmt.Errorf("load defaults:\n%w", err)
	}

	if l.filePath != "" {
		if err := l.k.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load file %s:\n%w", l.filePath, err)
		}
	}

	if err := l.k.Load(env.Provider(l.envPrefix, ".", l.envKey), nil); err != nil {
		return nil, fmt.Errorf("load env:\n%w", err)
	}

	if len(l.overrides) > 0 {
		if err := l.loadMap(l.overrides); err != nil {
			return nil, fmt.Errorf("load overrides:\n%w", err)
		}
	}

	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config:\n%w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadMap loads flat dotted keys.
func (l *Loader) loadMap(flat map[string]any) error {
	return l.k.Load(mapProvider(maps.Unflatten(flat, ".")), nil)
}

// envKey maps SESSIONBENCH_STAKING_MIN_BOND to staking.min_bond and
// SESSIONBENCH_VERIFY_STEADY_STATE to verify_steady_state.
func (l *Loader) envKey(name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, l.envPrefix))

	for _, section := range sections {
		if rest, ok := strings.CutPrefix(key, section+"_"); ok {
			return section + "." + rest
		}
	}

	return key
}

// Load is a shorthand for NewLoader(WithConfigFile(path), WithOverrides(overrides)).Load().
func Load(path string, overrides map[string]any) (*Config, error) {
	return NewLoader(WithConfigFile(path), WithOverrides(overrides)).Load()
}

// Default returns the built-in configuration.
func Default() *Config {
	l := NewLoader()

	// Defaults always decode.
	_ = l.loadMap(defaults())

	var cfg Config
	_ = l.k.Unmarshal("", &cfg)

	return &cfg
}
