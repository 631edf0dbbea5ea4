// Package config holds the runtime settings shared by all spyview commands.
//
// Values are resolved in three layers: built-in defaults, SPYVIEW_*
// environment variables, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/multierr"
)

// Trace sources
const (
	SourceSynthetic = "synthetic"
	SourceReplay    = "replay"
)

// Config is the resolved configuration of a run
type Config struct {
	Addr            string
	SamplingRate    uint64 // samples per second
	Source          string
	ReplayPath      string
	BatchSize       int // replay traces per sample
	MaxTraces       int // replay cap, 0 = unlimited
	Threads         int // synthetic thread count
	Seed            int64
	Batches         int // synthetic batches before exit, 0 = run forever
	Command         string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Addr:            "127.0.0.1:8000",
		SamplingRate:    100,
		Source:          SourceSynthetic,
		BatchSize:       8,
		Threads:         4,
		Seed:            1,
		Command:         "python app.py",
		LogLevel:        "info",
		LogFormat:       "console",
		ShutdownTimeout: 5 * time.Second,
	}
}

// Environment variable names
const (
	EnvAddr      = "SPYVIEW_ADDR"
	EnvRate      = "SPYVIEW_RATE"
	EnvSource    = "SPYVIEW_SOURCE"
	EnvReplay    = "SPYVIEW_REPLAY"
	EnvThreads   = "SPYVIEW_THREADS"
	EnvSeed      = "SPYVIEW_SEED"
	EnvLogLevel  = "SPYVIEW_LOG_LEVEL"
	EnvLogFormat = "SPYVIEW_LOG_FORMAT"
)

// Load returns the defaults with environment overrides applied
func Load() (Config, error) {
	cfg := Default()
	err := cfg.ApplyEnv(os.LookupEnv)
	return cfg, err
}

// ApplyEnv overrides fields from the environment. Every malformed variable
// is reported.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, parse func(string) error) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		if err := parse(v); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
		}
	}

	str(EnvAddr, &c.Addr)
	str(EnvSource, &c.Source)
	str(EnvReplay, &c.ReplayPath)
	str(EnvLogLevel, &c.LogLevel)
	str(EnvLogFormat, &c.LogFormat)

	num(EnvRate, func(v string) (err error) {
		c.SamplingRate, err = strconv.ParseUint(v, 10, 64)
		return err
	})
	num(EnvThreads, func(v string) (err error) {
		c.Threads, err = strconv.Atoi(v)
		return err
	})
	num(EnvSeed, func(v string) (err error) {
		c.Seed, err = strconv.ParseInt(v, 10, 64)
		return err
	})

	return errs
}

// BindFlags registers flags that write into c. Current field values become
// the flag defaults, so call it after ApplyEnv.
func (c *Config) BindFlags(f *pflag.FlagSet) {
	f.StringVar(&c.Addr, "addr", c.Addr, "HTTP listen address")
	f.Uint64VarP(&c.SamplingRate, "rate", "r", c.SamplingRate, "samples per second")
	f.StringVarP(&c.Source, "source", "s", c.Source, "trace source: synthetic or replay")
	f.StringVar(&c.ReplayPath, "replay", c.ReplayPath, "collapsed-stack file to replay")
	f.IntVar(&c.BatchSize, "batch-size", c.BatchSize, "replayed traces per sample")
	f.IntVar(&c.MaxTraces, "max-traces", c.MaxTraces, "stop replay after N traces (0 = all)")
	f.IntVar(&c.Threads, "threads", c.Threads, "synthetic thread count")
	f.Int64Var(&c.Seed, "seed", c.Seed, "synthetic random seed")
	f.IntVar(&c.Batches, "batches", c.Batches, "synthetic batches before the target exits (0 = never)")
	f.StringVar(&c.Command, "command", c.Command, "command line reported for the profiled program")
	f.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn, error")
	f.StringVar(&c.LogFormat, "log-format", c.LogFormat, "log format: console or json")
	f.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", c.ShutdownTimeout, "graceful shutdown timeout")
}

// Validate reports every setting that cannot be used
func (c Config) Validate() error {
	var errs error

	if c.SamplingRate == 0 {
		errs = multierr.Append(errs, errors.New("sampling rate must be positive"))
	}
	switch c.Source {
	case SourceSynthetic:
		if c.Threads <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("thread count must be positive, got %d", c.Threads))
		}
		if c.Batches < 0 {
			errs = multierr.Append(errs, fmt.Errorf("batch limit must not be negative, got %d", c.Batches))
		}
	case SourceReplay:
		if c.ReplayPath == "" {
			errs = multierr.Append(errs, errors.New("replay source requires --replay"))
		}
		if c.BatchSize <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("batch size must be positive, got %d", c.BatchSize))
		}
		if c.MaxTraces < 0 {
			errs = multierr.Append(errs, fmt.Errorf("max traces must not be negative, got %d", c.MaxTraces))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("unknown source %q", c.Source))
	}
	if c.ShutdownTimeout <= 0 {
		errs = multierr.Append(errs, errors.New("shutdown timeout must be positive"))
	}

	return errs
}

// Interval is the time between two samples
func (c Config) Interval() time.Duration {
	if c.SamplingRate == 0 {
		return 0
	}
	return time.Second / time.Duration(c.SamplingRate)
}
