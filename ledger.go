package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ara-foundation/ledger/escrow"
	"github.com/ara-foundation/ledger/plugin"
	"github.com/ara-foundation/ledger/store"
	"github.com/ara-foundation/ledger/transaction"
	"github.com/ara-foundation/ledger/types"
)

// Defaults applied by New.
const (
	DefaultTreasury   = "ARA"
	DefaultMaxRetries = 5
)

// DefaultStartingBalance is the balance of an account the ledger has not seen.
var DefaultStartingBalance = types.Units(100)

// Ledger is the accounting engine: transfers and balances, production
// rewards and the metering escrow, plus the issue bookkeeping that drives them.
type Ledger struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger
	clock   func() time.Time

	// Background settlement
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Configuration
	treasury        string
	startingBalance types.Money
	depositWindow   time.Duration
	maxRetries      int
	settleInterval  time.Duration
}

// New creates a new Ledger instance.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:           s,
		plugins:         plugin.NewRegistry(),
		logger:          slog.Default(),
		clock:           time.Now,
		stopChan:        make(chan struct{}),
		treasury:        DefaultTreasury,
		startingBalance: DefaultStartingBalance,
		depositWindow:   escrow.DefaultWindow,
		maxRetries:      DefaultMaxRetries,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Option configures a Ledger instance.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
		l.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *Ledger) {
		_ = l.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithPluginTimeout bounds each plugin hook call.
func WithPluginTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		l.plugins.WithTimeout(d)
	}
}

// WithTreasury sets the system account that funds payouts.
func WithTreasury(account string) Option {
	return func(l *Ledger) {
		if account != "" {
			l.treasury = account
		}
	}
}

// WithStartingBalance sets the balance of accounts the ledger has not seen.
func WithStartingBalance(m types.Money) Option {
	return func(l *Ledger) {
		l.startingBalance = m
	}
}

// WithDepositWindow sets the access time bought by one charge.
func WithDepositWindow(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.depositWindow = d
		}
	}
}

// WithMaxRetries sets how many attempts a conflicting write gets.
func WithMaxRetries(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxRetries = n
		}
	}
}

// WithSettleInterval enables the background settlement worker.
func WithSettleInterval(d time.Duration) Option {
	return func(l *Ledger) {
		l.settleInterval = d
	}
}

// WithClock replaces the wall clock. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.clock = now
		}
	}
}

// Start migrates the store, initializes plugins and starts background workers.
func (l *Ledger) Start(ctx context.Context) error {
	if err := l.store.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrMigrationFailed, err)
	}

	l.plugins.EmitInit(ctx, l)

	if l.settleInterval > 0 {
		l.wg.Add(1)
		go l.settleWorker(context.WithoutCancel(ctx))
	}

	l.logger.Info("ledger started",
		"treasury", l.treasury,
		"starting_balance", l.startingBalance.String(),
		"deposit_window", l.depositWindow,
		"settle_interval", l.settleInterval,
	)

	return nil
}

// Stop shuts down background workers, plugins and the store.
func (l *Ledger) Stop() error {
	l.stopOnce.Do(func() { close(l.stopChan) })
	l.wg.Wait()

	ctx := context.Background()
	l.plugins.EmitShutdown(ctx)

	return l.store.Close()
}

// Store returns the underlying store.
func (l *Ledger) Store() store.Store { return l.store }

// Plugins returns the plugin registry.
func (l *Ledger) Plugins() *plugin.Registry { return l.plugins }

// Treasury returns the system account.
func (l *Ledger) Treasury() string { return l.treasury }

// Policy returns the posting rules handed to the store.
func (l *Ledger) Policy() transaction.Policy {
	return transaction.Policy{Treasury: l.treasury, StartingBalance: l.startingBalance}
}

func (l *Ledger) now() time.Time {
	return l.clock().UTC()
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// retry runs fn until it succeeds, fails permanently or runs out of
// attempts. Only ErrConcurrentModification is retried.
func (l *Ledger) retry(ctx context.Context, op string, fn func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 5 * time.Millisecond
	eb.MaxInterval = 250 * time.Millisecond
	eb.MaxElapsedTime = 0

	var b backoff.BackOff = backoff.WithMaxRetries(eb, uint64(l.maxRetries-1))
	b = backoff.WithContext(b, ctx)

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := fn()
		if err == nil || IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, b)

	if err != nil && IsRetryable(err) {
		l.logger.Warn("retries exhausted",
			"op", op,
			"attempts", attempts,
			"error", err,
		)
	}
	return err
}
