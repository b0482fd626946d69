package escrow

import (
	"context"
	"time"

	"github.com/ara-foundation/ledger/issue"
	"github.com/ara-foundation/ledger/transaction"
)

// SettleFunc builds the payouts for the pending windows of a project. It
// runs inside the store's unit of work; returning no transactions leaves
// the windows unsettled.
type SettleFunc func(p *Project, pending []*Deposit) ([]*transaction.Transaction, error)

// ChargeFunc builds the charge for one window of a project. It runs inside
// the store's unit of work against the current registration.
type ChargeFunc func(p *Project) (*transaction.Transaction, error)

type Store interface {
	UpsertProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, key issue.Key) (*Project, error)
	ListProjects(ctx context.Context) ([]*Project, error)

	// Charge reads the registration of key, posts the charge from build and
	// records the window it buys in one unit.
	Charge(ctx context.Context, p transaction.Policy, key DepositKey, now time.Time, window time.Duration, build ChargeFunc) (*Deposit, error)
	LatestDeposit(ctx context.Context, key DepositKey) (*Deposit, error)
	ListDeposits(ctx context.Context, opts ListOpts) ([]*Deposit, error)
	PendingDeposits(ctx context.Context, key issue.Key, now time.Time) ([]*Deposit, error)
	// Settle claims the expired unsettled windows of key and posts the
	// payouts from build in one unit. It returns nil when nothing was paid.
	Settle(ctx context.Context, p transaction.Policy, key issue.Key, now time.Time, build SettleFunc) (*Settlement, error)
}

// ListOpts filters deposit listings. Results are ordered by start time.
type ListOpts struct {
	Key issue.Key
	// UserID restricts results to one user when set.
	UserID string
	Limit  int
	Offset int
}
