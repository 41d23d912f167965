package main

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/ndlib/ansindex/gateway"
	"github.com/ndlib/ansindex/indexer"
)

// Config holds the settings read from the config file. Command line flags
// override the file.
type Config struct {
	// Storage is the root directory, or "" to keep everything in memory.
	Storage string `toml:"storage"`

	// Payloads, if set, is a location for item payloads other than
	// <storage>/items, e.g. "s3://localhost:9000/bucket/prefix".
	Payloads string `toml:"payloads"`

	// MySQL is a dial string for an index kept in MySQL instead of
	// <storage>/index.ql.
	MySQL string `toml:"mysql"`

	Gateway     string   `toml:"gateway"`
	Timeout     duration `toml:"timeout"`
	Rate        size     `toml:"rate"` // download bytes per second, 0 for no limit
	CheckSize   bool     `toml:"check_size"`
	CacheSize   size     `toml:"cache_size"`
	MaxDepth    int      `toml:"max_depth"`
	Concurrency int      `toml:"concurrency"`
	FailFast    bool     `toml:"fail_fast"`
	Fresh       duration `toml:"fresh"`

	Port      string `toml:"port"`
	Tokens    string `toml:"tokens"` // file of api tokens for the server
	SentryDSN string `toml:"sentry_dsn"`
	Verbose   bool   `toml:"verbose"`
}

func defaultConfig() Config {
	return Config{
		Storage:     "./storage",
		Gateway:     gateway.DefaultGateway,
		CacheSize:   1 << 30,
		MaxDepth:    indexer.DefaultMaxDepth,
		Concurrency: indexer.DefaultConcurrency,
		Port:        "14000",
	}
}

// loadConfig reads the file at path over the defaults. An empty path
// gives the defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// override copies the flags given on the command line into cfg.
func (cfg *Config) override(flags *pflag.FlagSet) {
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "storage":
			cfg.Storage, _ = flags.GetString(f.Name)
		case "gateway":
			cfg.Gateway, _ = flags.GetString(f.Name)
		case "max-depth":
			cfg.MaxDepth, _ = flags.GetInt(f.Name)
		case "concurrency":
			cfg.Concurrency, _ = flags.GetInt(f.Name)
		case "fail-fast":
			cfg.FailFast, _ = flags.GetBool(f.Name)
		case "fresh":
			var d time.Duration
			d, _ = flags.GetDuration(f.Name)
			cfg.Fresh = duration{d}
		case "port":
			cfg.Port, _ = flags.GetString(f.Name)
		case "verbose":
			cfg.Verbose, _ = flags.GetBool(f.Name)
		}
	})
}

// duration is a time.Duration written as a string like "90m" in the
// config file.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// size is a byte count written like "500 MB" in the config file.
type size int64

func (s *size) UnmarshalText(text []byte) error {
	n, err := humanize.ParseBytes(string(text))
	*s = size(n)
	return err
}

func (s size) String() string {
	return humanize.IBytes(uint64(s))
}
