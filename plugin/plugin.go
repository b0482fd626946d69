// Package plugin provides an extensible plugin system for Ledger.
// Plugins can hook into various lifecycle events to extend functionality.
package plugin

import (
	"context"

	"github.com/ara-foundation/ledger/escrow"
	"github.com/ara-foundation/ledger/issue"
	"github.com/ara-foundation/ledger/reward"
	"github.com/ara-foundation/ledger/transaction"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the ledger starts. l is the *ledger.Ledger.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, l any) error
}

// OnShutdown is called when the ledger stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnTransfer is called for every transaction appended to the ledger.
type OnTransfer interface {
	Plugin
	OnTransfer(ctx context.Context, tx *transaction.Transaction) error
}

// OnTransferRejected is called when a transfer fails its balance or range check.
type OnTransferRejected interface {
	Plugin
	OnTransferRejected(ctx context.Context, tx *transaction.Transaction, reason error) error
}

// ──────────────────────────────────────────────────
// Issue hooks
// ──────────────────────────────────────────────────

// OnIssueCreated is called when a new issue is funded and stored.
type OnIssueCreated interface {
	Plugin
	OnIssueCreated(ctx context.Context, iss *issue.Issue) error
}

// OnImplementationPushed is called when an implementation is added to an issue.
type OnImplementationPushed interface {
	Plugin
	OnImplementationPushed(ctx context.Context, iss *issue.Issue, im *issue.Implementation) error
}

// OnImplementationPromoted is called when an implementation moves to production.
type OnImplementationPromoted interface {
	Plugin
	OnImplementationPromoted(ctx context.Context, iss *issue.Issue, im *issue.Implementation) error
}

// ──────────────────────────────────────────────────
// Reward and escrow hooks
// ──────────────────────────────────────────────────

// OnRewardDistributed is called once per implementation when its reward is paid.
type OnRewardDistributed interface {
	Plugin
	OnRewardDistributed(ctx context.Context, r *reward.Reward) error
}

// OnProjectRegistered is called when a billable project is registered or replaced.
type OnProjectRegistered interface {
	Plugin
	OnProjectRegistered(ctx context.Context, p *escrow.Project) error
}

// OnAccessCharged is called when a user buys an access window.
type OnAccessCharged interface {
	Plugin
	OnAccessCharged(ctx context.Context, d *escrow.Deposit) error
}

// OnWithdrawalSettled is called when expired windows are paid out.
type OnWithdrawalSettled interface {
	Plugin
	OnWithdrawalSettled(ctx context.Context, s *escrow.Settlement) error
}
