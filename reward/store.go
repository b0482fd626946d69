package reward

import (
	"context"

	"github.com/ara-foundation/ledger/issue"
	"github.com/ara-foundation/ledger/transaction"
)

type Store interface {
	// Distribute records r and posts payouts in one unit. It reports false,
	// posting nothing, when a reward for r.Key already exists.
	Distribute(ctx context.Context, p transaction.Policy, r *Reward, payouts []*transaction.Transaction) (bool, error)
	GetReward(ctx context.Context, key issue.Key) (*Reward, error)
}
