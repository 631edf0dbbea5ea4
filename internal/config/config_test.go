package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10*time.Millisecond, cfg.Interval())
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		EnvAddr:    ":9000",
		EnvRate:    "250",
		EnvSource:  SourceReplay,
		EnvReplay:  "stacks.txt",
		EnvThreads: "",
		EnvSeed:    "-3",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, uint64(250), cfg.SamplingRate)
	assert.Equal(t, SourceReplay, cfg.Source)
	assert.Equal(t, "stacks.txt", cfg.ReplayPath)
	assert.Equal(t, Default().Threads, cfg.Threads)
	assert.Equal(t, int64(-3), cfg.Seed)
	assert.Equal(t, 4*time.Millisecond, cfg.Interval())
}

func TestApplyEnvReportsEveryError(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		EnvRate:    "fast",
		EnvThreads: "many",
	}))
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.ErrorContains(t, err, EnvRate)
	assert.ErrorContains(t, err, EnvThreads)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errs   int
	}{
		{"zero rate", func(c *Config) { c.SamplingRate = 0 }, 1},
		{"unknown source", func(c *Config) { c.Source = "ptrace" }, 1},
		{"replay without path", func(c *Config) { c.Source = SourceReplay }, 1},
		{"replay with bad batch", func(c *Config) {
			c.Source = SourceReplay
			c.ReplayPath = "x"
			c.BatchSize = 0
		}, 1},
		{"no threads", func(c *Config) { c.Threads = 0 }, 1},
		{"several problems", func(c *Config) {
			c.SamplingRate = 0
			c.ShutdownTimeout = 0
			c.Batches = -1
		}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Len(t, multierr.Errors(err), tt.errs)
		})
	}
}

func TestBindFlags(t *testing.T) {
	cfg := Default()
	cfg.Addr = ":7000"

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"-r", "50", "--source", "replay", "--replay", "a.txt", "--batch-size", "3"}))

	assert.Equal(t, ":7000", cfg.Addr)
	assert.Equal(t, uint64(50), cfg.SamplingRate)
	assert.Equal(t, SourceReplay, cfg.Source)
	assert.Equal(t, "a.txt", cfg.ReplayPath)
	assert.Equal(t, 3, cfg.BatchSize)
	require.NoError(t, cfg.Validate())
}
