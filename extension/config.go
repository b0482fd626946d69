package extension

import (
	"time"

	"github.com/ara-foundation/ledger"
	"github.com/ara-foundation/ledger/config"
	"github.com/ara-foundation/ledger/escrow"
)

// Config holds the Ledger extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.ledger" or "ledger" keys).
type Config struct {
	// DisableRoutes prevents the HTTP API from being provided.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate leaves the engine unstarted: no migration, plugin
	// init or background settlement.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix for ledger routes (default: "/ledger").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// Treasury is the system account that funds payouts (default: "ARA").
	Treasury string `json:"treasury" mapstructure:"treasury" yaml:"treasury"`

	// StartingBalance is the decimal balance of unseen accounts
	// (default: "100.00").
	StartingBalance string `json:"starting_balance" mapstructure:"starting_balance" yaml:"starting_balance"`

	// DepositWindow is the access time bought by one charge (default: 1h).
	DepositWindow time.Duration `json:"deposit_window" mapstructure:"deposit_window" yaml:"deposit_window"`

	// MaxRetries bounds attempts on conflicting writes (default: 5).
	MaxRetries int `json:"max_retries" mapstructure:"max_retries" yaml:"max_retries"`

	// SettleInterval enables background settlement when positive.
	SettleInterval time.Duration `json:"settle_interval" mapstructure:"settle_interval" yaml:"settle_interval"`

	// PluginTimeout bounds each plugin hook call (default: 5s).
	PluginTimeout time.Duration `json:"plugin_timeout" mapstructure:"plugin_timeout" yaml:"plugin_timeout"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:        "/ledger",
		Treasury:        ledger.DefaultTreasury,
		StartingBalance: ledger.DefaultStartingBalance.String(),
		DepositWindow:   escrow.DefaultWindow,
		MaxRetries:      ledger.DefaultMaxRetries,
		PluginTimeout:   5 * time.Second,
	}
}

// ledgerOptions converts the engine fields into ledger options, validating
// them the same way the arald configuration does.
func (c Config) ledgerOptions() ([]ledger.Option, error) {
	cfg := config.Default()
	cfg.Ledger = config.LedgerConfig{
		Treasury:        c.Treasury,
		StartingBalance: c.StartingBalance,
		DepositWindow:   c.DepositWindow,
		MaxRetries:      c.MaxRetries,
		SettleInterval:  c.SettleInterval,
		PluginTimeout:   c.PluginTimeout,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg.LedgerOptions()
}
