package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcalabro/sketchy"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sketchy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, defaultShards, cfg.Shards)
	assert.Equal(t, "xxh3", cfg.Hash)
	assert.Equal(t, uint8(sketchy.DefaultPrecision), cfg.Estimator.Precision)
	assert.Equal(t, uint64(defaultCapacity), cfg.Filter.Capacity)
	assert.InDelta(t, defaultFPRate, cfg.Filter.FalsePositiveRate, 0)
	assert.InDelta(t, sketchy.DefaultGrowth, cfg.Filter.Growth, 0)
	assert.InDelta(t, sketchy.DefaultTightening, cfg.Filter.Tightening, 0)
	assert.Equal(t, defaultCounters, cfg.Morris.Counters)
	assert.Equal(t, defaultStore, cfg.Store.Path)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
shards: 8
hash: murmur3
estimator:
  precision: 10
  seed: 7
filter:
  capacity: 5000
  fp_rate: 0.001
morris:
  counters: 16
store:
  path: /tmp/sketches.db
logging:
  level: debug
  format: json
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Shards)
	assert.Equal(t, uint8(10), cfg.Estimator.Precision)
	assert.Equal(t, uint64(7), cfg.Estimator.Seed)
	assert.Equal(t, uint64(5000), cfg.Filter.Capacity)
	assert.InDelta(t, 0.001, cfg.Filter.FalsePositiveRate, 0)
	assert.InDelta(t, sketchy.DefaultGrowth, cfg.Filter.Growth, 0)
	assert.Equal(t, 16, cfg.Morris.Counters)
	assert.Equal(t, "/tmp/sketches.db", cfg.Store.Path)
	assert.Equal(t, "json", cfg.Logging.Format)

	est, err := cfg.EstimatorConfig()
	require.NoError(t, err)
	assert.Equal(t, sketchy.Murmur3, est.Hash)
	assert.Equal(t, uint8(10), est.Precision)

	flt, err := cfg.FilterConfig()
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), flt.Capacity)
	assert.Equal(t, sketchy.Murmur3, flt.Hash)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SKETCHY_SHARDS", "2")
	t.Setenv("SKETCHY_ESTIMATOR_PRECISION", "12")
	t.Setenv("SKETCHY_HASH", "xxhash64")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Shards)
	assert.Equal(t, uint8(12), cfg.Estimator.Precision)
	assert.Equal(t, "xxhash64", cfg.Hash)
}

func TestLoadWithOverride(t *testing.T) {
	t.Chdir(t.TempDir())

	v := viper.New()
	v.Set("shards", 16)

	cfg, err := LoadWith(v, "")
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Shards)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"zero shards", "shards: 0\n", ErrInvalidShards},
		{"negative counters", "morris:\n  counters: -1\n", ErrInvalidCounters},
		{"empty store", "store:\n  path: \"\"\n", ErrInvalidStore},
		{"bad precision", "estimator:\n  precision: 30\n", sketchy.ErrInvalidConfig},
		{"bad fp rate", "filter:\n  fp_rate: 1.5\n", sketchy.ErrInvalidConfig},
		{"bad tightening", "filter:\n  tightening: 1\n", sketchy.ErrInvalidConfig},
		{"filter too large", "filter:\n  capacity: 35184372088832\n", sketchy.ErrInvalidConfig},
		{"unknown hash", "hash: md5\n", sketchy.ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
