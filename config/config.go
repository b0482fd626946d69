// Package config loads the arald configuration from YAML or TOML files and
// ARA_LEDGER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/ara-foundation/ledger"
	"github.com/ara-foundation/ledger/escrow"
	"github.com/ara-foundation/ledger/types"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ARA_LEDGER_"

// Config represents the complete arald configuration.
type Config struct {
	Store  StoreConfig  `json:"store" yaml:"store" toml:"store"`
	Ledger LedgerConfig `json:"ledger" yaml:"ledger" toml:"ledger"`
	HTTP   HTTPConfig   `json:"http" yaml:"http" toml:"http"`
	Log    LogConfig    `json:"log" yaml:"log" toml:"log"`
}

// StoreConfig selects the storage backend.
type StoreConfig struct {
	// DSN picks the backend by scheme: memory://, sqlite://<path>,
	// postgres://..., mongodb://... (default: memory://).
	DSN string `json:"dsn" yaml:"dsn" toml:"dsn"`
	// Database is the MongoDB database name (default: ara_ledger).
	Database string `json:"database" yaml:"database" toml:"database"`
}

// LedgerConfig holds the accounting rules.
type LedgerConfig struct {
	Treasury string `json:"treasury" yaml:"treasury" toml:"treasury"`
	// StartingBalance is a decimal amount in whole units, e.g. "100".
	StartingBalance string        `json:"starting_balance" yaml:"starting_balance" toml:"starting_balance"`
	DepositWindow   time.Duration `json:"deposit_window" yaml:"deposit_window" toml:"deposit_window"`
	MaxRetries      int           `json:"max_retries" yaml:"max_retries" toml:"max_retries"`
	// SettleInterval enables background settlement when positive.
	SettleInterval time.Duration `json:"settle_interval" yaml:"settle_interval" toml:"settle_interval"`
	PluginTimeout  time.Duration `json:"plugin_timeout" yaml:"plugin_timeout" toml:"plugin_timeout"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr    string `json:"addr" yaml:"addr" toml:"addr"`
	Metrics bool   `json:"metrics" yaml:"metrics" toml:"metrics"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level" yaml:"level" toml:"level"`
	// Format is text or json.
	Format string `json:"format" yaml:"format" toml:"format"`
	// Audit writes one log line per ledger audit event.
	Audit bool `json:"audit" yaml:"audit" toml:"audit"`
}

// Default returns a Config with the ledger defaults.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			DSN:      "memory://",
			Database: "ara_ledger",
		},
		Ledger: LedgerConfig{
			Treasury:        ledger.DefaultTreasury,
			StartingBalance: ledger.DefaultStartingBalance.String(),
			DepositWindow:   escrow.DefaultWindow,
			MaxRetries:      ledger.DefaultMaxRetries,
			PluginTimeout:   5 * time.Second,
		},
		HTTP: HTTPConfig{
			Addr:    ":8000",
			Metrics: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path loads only the defaults and the environment. The decoder is
// chosen by extension: .yaml/.yml or .toml.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), c); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("config: unsupported file type %q", ext)
	}
	return nil
}

// ApplyEnv overrides fields from ARA_LEDGER_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
		return nil
	}
	boolean := func(name string, dst *bool) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %s%s: %w", EnvPrefix, name, err)
		}
		*dst = b
		return nil
	}

	str("STORE_DSN", &c.Store.DSN)
	str("STORE_DATABASE", &c.Store.Database)
	str("TREASURY", &c.Ledger.Treasury)
	str("STARTING_BALANCE", &c.Ledger.StartingBalance)
	str("HTTP_ADDR", &c.HTTP.Addr)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	if v, ok := lookup(EnvPrefix + "MAX_RETRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %sMAX_RETRIES: %w", EnvPrefix, err)
		}
		c.Ledger.MaxRetries = n
	}
	return errors.Join(
		boolean("HTTP_METRICS", &c.HTTP.Metrics),
		boolean("LOG_AUDIT", &c.Log.Audit),
		dur("DEPOSIT_WINDOW", &c.Ledger.DepositWindow),
		dur("SETTLE_INTERVAL", &c.Ledger.SettleInterval),
		dur("PLUGIN_TIMEOUT", &c.Ledger.PluginTimeout),
	)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	if c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is required"))
	}
	if c.Ledger.Treasury == "" {
		errs = append(errs, errors.New("ledger.treasury is required"))
	}
	if m, err := types.ParseMoney(c.Ledger.StartingBalance); err != nil {
		errs = append(errs, fmt.Errorf("ledger.starting_balance: %w", err))
	} else if m.IsNegative() {
		errs = append(errs, errors.New("ledger.starting_balance must not be negative"))
	}
	if c.Ledger.DepositWindow <= 0 {
		errs = append(errs, errors.New("ledger.deposit_window must be positive"))
	}
	if c.Ledger.MaxRetries < 1 {
		errs = append(errs, errors.New("ledger.max_retries must be at least 1"))
	}
	if c.Ledger.SettleInterval < 0 {
		errs = append(errs, errors.New("ledger.settle_interval must not be negative"))
	}
	if _, err := c.Log.level(); err != nil {
		errs = append(errs, err)
	}
	if f := c.Log.Format; f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", f))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// LedgerOptions converts the ledger section into engine options.
func (c *Config) LedgerOptions() ([]ledger.Option, error) {
	start, err := types.ParseMoney(c.Ledger.StartingBalance)
	if err != nil {
		return nil, fmt.Errorf("config: ledger.starting_balance: %w", err)
	}
	return []ledger.Option{
		ledger.WithTreasury(c.Ledger.Treasury),
		ledger.WithStartingBalance(start),
		ledger.WithDepositWindow(c.Ledger.DepositWindow),
		ledger.WithMaxRetries(c.Ledger.MaxRetries),
		ledger.WithSettleInterval(c.Ledger.SettleInterval),
		ledger.WithPluginTimeout(c.Ledger.PluginTimeout),
	}, nil
}

// Logger builds a stderr slog.Logger from the log section.
func (c *Config) Logger() *slog.Logger {
	level, _ := c.Log.level() //nolint:errcheck // validated in Validate
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func (l LogConfig) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return level, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
