package store

import (
	"context"
	"time"

	"github.com/ara-foundation/ledger/escrow"
	"github.com/ara-foundation/ledger/id"
	"github.com/ara-foundation/ledger/issue"
	"github.com/ara-foundation/ledger/reward"
	"github.com/ara-foundation/ledger/transaction"
)

// Store is the unified storage interface for all Ledger entities.
// Instead of embedding the sub-interfaces, we explicitly declare all methods
// to avoid naming conflicts.
//
// Every method that moves value takes a transaction.Policy and applies the
// balance check and the balance update in the same atomic unit as the write
// it belongs to.
type Store interface {
	// Transaction methods
	Append(ctx context.Context, p transaction.Policy, txs ...*transaction.Transaction) error
	Balance(ctx context.Context, p transaction.Policy, account string) (*transaction.Balance, error)
	ListTransactions(ctx context.Context, opts transaction.ListOpts) ([]*transaction.Transaction, error)
	CountTransactions(ctx context.Context, opts transaction.ListOpts) (int64, error)

	// Issue methods
	CreateIssue(ctx context.Context, i *issue.Issue) error
	GetIssue(ctx context.Context, issueID id.IssueID) (*issue.Issue, error)
	UpdateIssue(ctx context.Context, i *issue.Issue) error
	ListIssues(ctx context.Context, opts issue.ListOpts) ([]*issue.Issue, error)

	// Reward methods
	Distribute(ctx context.Context, p transaction.Policy, r *reward.Reward, payouts []*transaction.Transaction) (bool, error)
	GetReward(ctx context.Context, key issue.Key) (*reward.Reward, error)

	// Escrow methods
	UpsertProject(ctx context.Context, p *escrow.Project) error
	GetProject(ctx context.Context, key issue.Key) (*escrow.Project, error)
	ListProjects(ctx context.Context) ([]*escrow.Project, error)
	Charge(ctx context.Context, p transaction.Policy, key escrow.DepositKey, now time.Time, window time.Duration, build escrow.ChargeFunc) (*escrow.Deposit, error)
	LatestDeposit(ctx context.Context, key escrow.DepositKey) (*escrow.Deposit, error)
	ListDeposits(ctx context.Context, opts escrow.ListOpts) ([]*escrow.Deposit, error)
	PendingDeposits(ctx context.Context, key issue.Key, now time.Time) ([]*escrow.Deposit, error)
	Settle(ctx context.Context, p transaction.Policy, key issue.Key, now time.Time, build escrow.SettleFunc) (*escrow.Settlement, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ transaction.Store = (Store)(nil)
	_ issue.Store       = (Store)(nil)
	_ reward.Store      = (Store)(nil)
	_ escrow.Store      = (Store)(nil)
)
