// Package config provides configuration loading and validation for the
// sketchy command line tool.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/jcalabro/sketchy"
	"github.com/jcalabro/sketchy/internal/logger"
)

// Sentinel validation errors.
var (
	ErrInvalidShards   = errors.New("shard count must be positive")
	ErrInvalidCounters = errors.New("morris counter count must be positive")
	ErrInvalidStore    = errors.New("store path must not be empty")
)

// Default configuration values.
const (
	defaultShards   = 4
	defaultCapacity = 100_000
	defaultFPRate   = 0.01
	defaultCounters = 64
	defaultStore    = "sketchy.db"
)

// Config holds all configuration for the sketchy tool.
type Config struct {
	Estimator EstimatorConfig `mapstructure:"estimator"`
	Filter    FilterConfig    `mapstructure:"filter"`
	Morris    MorrisConfig    `mapstructure:"morris"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   logger.Config   `mapstructure:"logging"`
	Shards    int             `mapstructure:"shards"`
	Hash      string          `mapstructure:"hash"`
}

// EstimatorConfig holds HyperLogLog settings.
type EstimatorConfig struct {
	Precision uint8  `mapstructure:"precision"`
	Seed      uint64 `mapstructure:"seed"`
}

// FilterConfig holds scalable Bloom filter settings.
type FilterConfig struct {
	Capacity          uint64  `mapstructure:"capacity"`
	FalsePositiveRate float64 `mapstructure:"fp_rate"`
	Growth            float64 `mapstructure:"growth"`
	Tightening        float64 `mapstructure:"tightening"`
}

// MorrisConfig holds approximate counter settings.
type MorrisConfig struct {
	Counters int    `mapstructure:"counters"`
	Seed     uint64 `mapstructure:"seed"`
}

// StoreConfig holds sketch store settings.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// LoadConfig loads configuration from file and environment variables.
// An empty configPath searches the usual locations; a missing file there
// is not an error.
func LoadConfig(configPath string) (*Config, error) {
	return load(viper.New(), configPath)
}

// LoadWith is LoadConfig using a caller-provided viper instance, so flags
// bound to it take precedence over file and environment values.
func LoadWith(v *viper.Viper, configPath string) (*Config, error) {
	return load(v, configPath)
}

func load(viperCfg *viper.Viper, configPath string) (*Config, error) {
	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName("sketchy")
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("$HOME/.config/sketchy")
	}

	viperCfg.SetEnvPrefix("SKETCHY")
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viperCfg.AutomaticEnv()

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var config Config

	unmarshalErr := viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	validateErr := validateConfig(&config)
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("shards", defaultShards)
	viperCfg.SetDefault("hash", sketchy.DefaultHashFamily.Name())

	viperCfg.SetDefault("estimator.precision", sketchy.DefaultPrecision)
	viperCfg.SetDefault("estimator.seed", 0)

	viperCfg.SetDefault("filter.capacity", defaultCapacity)
	viperCfg.SetDefault("filter.fp_rate", defaultFPRate)
	viperCfg.SetDefault("filter.growth", sketchy.DefaultGrowth)
	viperCfg.SetDefault("filter.tightening", sketchy.DefaultTightening)

	viperCfg.SetDefault("morris.counters", defaultCounters)
	viperCfg.SetDefault("morris.seed", 0)

	viperCfg.SetDefault("store.path", defaultStore)

	viperCfg.SetDefault("logging.level", "info")
	viperCfg.SetDefault("logging.format", "console")
}

// validateConfig validates the configuration. Sketch parameters are checked
// by building the sketch configurations they describe.
func validateConfig(config *Config) error {
	if config.Shards <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidShards, config.Shards)
	}

	if config.Morris.Counters <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCounters, config.Morris.Counters)
	}

	if config.Store.Path == "" {
		return ErrInvalidStore
	}

	if _, err := config.EstimatorConfig(); err != nil {
		return err
	}

	if _, err := config.FilterConfig(); err != nil {
		return err
	}

	return nil
}

// HashFamily resolves the configured hash family.
func (c *Config) HashFamily() (sketchy.HashFamily, error) {
	return sketchy.LookupHashFamily(c.Hash)
}

// EstimatorConfig returns the library configuration for estimators.
func (c *Config) EstimatorConfig() (sketchy.EstimatorConfig, error) {
	h, err := c.HashFamily()
	if err != nil {
		return sketchy.EstimatorConfig{}, err
	}

	cfg := sketchy.EstimatorConfig{
		Precision: c.Estimator.Precision,
		Hash:      h,
		Seed:      c.Estimator.Seed,
	}
	if err := cfg.Validate(); err != nil {
		return sketchy.EstimatorConfig{}, err
	}

	return cfg, nil
}

// FilterConfig returns the library configuration for filters.
func (c *Config) FilterConfig() (sketchy.FilterConfig, error) {
	h, err := c.HashFamily()
	if err != nil {
		return sketchy.FilterConfig{}, err
	}

	cfg := sketchy.FilterConfig{
		Capacity:          c.Filter.Capacity,
		FalsePositiveRate: c.Filter.FalsePositiveRate,
		Growth:            c.Filter.Growth,
		Tightening:        c.Filter.Tightening,
		Hash:              h,
	}
	if err := cfg.Validate(); err != nil {
		return sketchy.FilterConfig{}, err
	}

	return cfg, nil
}
