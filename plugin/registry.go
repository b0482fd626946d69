package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ara-foundation/ledger/escrow"
	"github.com/ara-foundation/ledger/issue"
	"github.com/ara-foundation/ledger/reward"
	"github.com/ara-foundation/ledger/transaction"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                   []OnInit
	onShutdown               []OnShutdown
	onTransfer               []OnTransfer
	onTransferRejected       []OnTransferRejected
	onIssueCreated           []OnIssueCreated
	onImplementationPushed   []OnImplementationPushed
	onImplementationPromoted []OnImplementationPromoted
	onRewardDistributed      []OnRewardDistributed
	onProjectRegistered      []OnProjectRegistered
	onAccessCharged          []OnAccessCharged
	onWithdrawalSettled      []OnWithdrawalSettled
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-call hook timeout. Non-positive values are ignored.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	var hooks []string
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
		hooks = append(hooks, "OnInit")
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
		hooks = append(hooks, "OnShutdown")
	}
	if v, ok := p.(OnTransfer); ok {
		r.onTransfer = append(r.onTransfer, v)
		hooks = append(hooks, "OnTransfer")
	}
	if v, ok := p.(OnTransferRejected); ok {
		r.onTransferRejected = append(r.onTransferRejected, v)
		hooks = append(hooks, "OnTransferRejected")
	}
	if v, ok := p.(OnIssueCreated); ok {
		r.onIssueCreated = append(r.onIssueCreated, v)
		hooks = append(hooks, "OnIssueCreated")
	}
	if v, ok := p.(OnImplementationPushed); ok {
		r.onImplementationPushed = append(r.onImplementationPushed, v)
		hooks = append(hooks, "OnImplementationPushed")
	}
	if v, ok := p.(OnImplementationPromoted); ok {
		r.onImplementationPromoted = append(r.onImplementationPromoted, v)
		hooks = append(hooks, "OnImplementationPromoted")
	}
	if v, ok := p.(OnRewardDistributed); ok {
		r.onRewardDistributed = append(r.onRewardDistributed, v)
		hooks = append(hooks, "OnRewardDistributed")
	}
	if v, ok := p.(OnProjectRegistered); ok {
		r.onProjectRegistered = append(r.onProjectRegistered, v)
		hooks = append(hooks, "OnProjectRegistered")
	}
	if v, ok := p.(OnAccessCharged); ok {
		r.onAccessCharged = append(r.onAccessCharged, v)
		hooks = append(hooks, "OnAccessCharged")
	}
	if v, ok := p.(OnWithdrawalSettled); ok {
		r.onWithdrawalSettled = append(r.onWithdrawalSettled, v)
		hooks = append(hooks, "OnWithdrawalSettled")
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", hooks,
	)

	return nil
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, ledger any) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()
	dispatch(ctx, r, "OnInit", plugins, func(p OnInit) error { return p.OnInit(ctx, ledger) })
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()
	dispatch(ctx, r, "OnShutdown", plugins, func(p OnShutdown) error { return p.OnShutdown(ctx) })
}

// EmitTransfer emits one event per appended transaction.
func (r *Registry) EmitTransfer(ctx context.Context, txs ...*transaction.Transaction) {
	r.mu.RLock()
	plugins := r.onTransfer
	r.mu.RUnlock()
	for _, tx := range txs {
		dispatch(ctx, r, "OnTransfer", plugins, func(p OnTransfer) error { return p.OnTransfer(ctx, tx) })
	}
}

// EmitTransferRejected emits a rejected transfer event.
func (r *Registry) EmitTransferRejected(ctx context.Context, tx *transaction.Transaction, reason error) {
	r.mu.RLock()
	plugins := r.onTransferRejected
	r.mu.RUnlock()
	dispatch(ctx, r, "OnTransferRejected", plugins, func(p OnTransferRejected) error {
		return p.OnTransferRejected(ctx, tx, reason)
	})
}

// EmitIssueCreated emits an issue created event.
func (r *Registry) EmitIssueCreated(ctx context.Context, iss *issue.Issue) {
	r.mu.RLock()
	plugins := r.onIssueCreated
	r.mu.RUnlock()
	dispatch(ctx, r, "OnIssueCreated", plugins, func(p OnIssueCreated) error { return p.OnIssueCreated(ctx, iss) })
}

// EmitImplementationPushed emits an implementation pushed event.
func (r *Registry) EmitImplementationPushed(ctx context.Context, iss *issue.Issue, im *issue.Implementation) {
	r.mu.RLock()
	plugins := r.onImplementationPushed
	r.mu.RUnlock()
	dispatch(ctx, r, "OnImplementationPushed", plugins, func(p OnImplementationPushed) error {
		return p.OnImplementationPushed(ctx, iss, im)
	})
}

// EmitImplementationPromoted emits an implementation promoted event.
func (r *Registry) EmitImplementationPromoted(ctx context.Context, iss *issue.Issue, im *issue.Implementation) {
	r.mu.RLock()
	plugins := r.onImplementationPromoted
	r.mu.RUnlock()
	dispatch(ctx, r, "OnImplementationPromoted", plugins, func(p OnImplementationPromoted) error {
		return p.OnImplementationPromoted(ctx, iss, im)
	})
}

// EmitRewardDistributed emits a reward distributed event.
func (r *Registry) EmitRewardDistributed(ctx context.Context, rw *reward.Reward) {
	r.mu.RLock()
	plugins := r.onRewardDistributed
	r.mu.RUnlock()
	dispatch(ctx, r, "OnRewardDistributed", plugins, func(p OnRewardDistributed) error {
		return p.OnRewardDistributed(ctx, rw)
	})
}

// EmitProjectRegistered emits a project registered event.
func (r *Registry) EmitProjectRegistered(ctx context.Context, proj *escrow.Project) {
	r.mu.RLock()
	plugins := r.onProjectRegistered
	r.mu.RUnlock()
	dispatch(ctx, r, "OnProjectRegistered", plugins, func(p OnProjectRegistered) error {
		return p.OnProjectRegistered(ctx, proj)
	})
}

// EmitAccessCharged emits an access charged event.
func (r *Registry) EmitAccessCharged(ctx context.Context, d *escrow.Deposit) {
	r.mu.RLock()
	plugins := r.onAccessCharged
	r.mu.RUnlock()
	dispatch(ctx, r, "OnAccessCharged", plugins, func(p OnAccessCharged) error { return p.OnAccessCharged(ctx, d) })
}

// EmitWithdrawalSettled emits a withdrawal settled event.
func (r *Registry) EmitWithdrawalSettled(ctx context.Context, s *escrow.Settlement) {
	r.mu.RLock()
	plugins := r.onWithdrawalSettled
	r.mu.RUnlock()
	dispatch(ctx, r, "OnWithdrawalSettled", plugins, func(p OnWithdrawalSettled) error {
		return p.OnWithdrawalSettled(ctx, s)
	})
}

// dispatch calls hook on every plugin, logging failures.
func dispatch[T Plugin](ctx context.Context, r *Registry, hook string, plugins []T, call func(T) error) {
	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return call(p)
		}); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the accounting pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
