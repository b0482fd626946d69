package extension

import (
	"time"

	"github.com/ara-foundation/ledger"
	"github.com/ara-foundation/ledger/api"
	"github.com/ara-foundation/ledger/plugin"
	"github.com/ara-foundation/ledger/store"
)

// Option configures the Ledger Forge extension.
type Option func(*Extension)

// WithStore sets the store for the ledger engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithLedgerOption passes a ledger.Option through to the underlying engine.
func WithLedgerOption(opt ledger.Option) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, opt)
	}
}

// WithAPIOption passes an api.Option through to the HTTP server.
func WithAPIOption(opt api.Option) Option {
	return func(e *Extension) {
		e.apiOpts = append(e.apiOpts, opt)
	}
}

// WithPlugin registers a ledger plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, ledger.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes prevents the HTTP API from being provided.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate leaves the engine unstarted.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithBasePath sets the URL prefix for ledger routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithTreasury sets the treasury account.
func WithTreasury(account string) Option {
	return func(e *Extension) { e.config.Treasury = account }
}

// WithStartingBalance sets the decimal balance of unseen accounts.
func WithStartingBalance(amount string) Option {
	return func(e *Extension) { e.config.StartingBalance = amount }
}

// WithDepositWindow sets the access time bought by one charge.
func WithDepositWindow(d time.Duration) Option {
	return func(e *Extension) { e.config.DepositWindow = d }
}

// WithSettleInterval enables background settlement.
func WithSettleInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.SettleInterval = d }
}
