package ledger

import (
	"context"

	"github.com/ara-foundation/ledger/id"
	"github.com/ara-foundation/ledger/issue"
	"github.com/ara-foundation/ledger/reward"
	"github.com/ara-foundation/ledger/transaction"
)

// ──────────────────────────────────────────────────
// Reward distribution
// ──────────────────────────────────────────────────

// DistributeOnProd pays an issue's incentive pool to the payees of a
// production implementation: the pool is split evenly in minor units, the
// last payee absorbing the remainder, with one PROD transfer from the
// treasury per payee.
//
// The payout and its idempotency marker are written together, so the reward
// is paid at most once per implementation. A nil reward with a nil error
// means there was nothing to pay: the pool or the payee list is empty, or
// the reward was already paid.
func (l *Ledger) DistributeOnProd(ctx context.Context, issueID id.IssueID, implementationID int) (*reward.Reward, error) {
	iss, err := l.store.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	im, ok := iss.Implementation(implementationID)
	if !ok {
		return nil, ErrUnknownImplementation
	}
	if im.Phase != issue.PhaseProd {
		return nil, ErrNotInProductionPhase
	}

	total := iss.Reward()
	if !total.IsPositive() || len(im.Distributions) == 0 {
		l.logger.Debug("nothing to distribute",
			"issue_id", issueID.String(),
			"implementation_id", implementationID,
			"reward", total.String(),
			"payees", len(im.Distributions),
		)
		return nil, nil
	}

	now := l.now()
	shares := total.Split(len(im.Distributions))
	payouts := make([]*transaction.Transaction, len(im.Distributions))
	for i, payee := range im.Distributions {
		payouts[i] = transaction.New(l.treasury, payee, shares[i], transaction.KindProd, now)
	}

	r := &reward.Reward{
		Key:       iss.Key(implementationID),
		Amount:    total,
		Payees:    append([]string(nil), im.Distributions...),
		CreatedAt: now,
	}
	for _, tx := range payouts {
		r.TransactionIDs = append(r.TransactionIDs, tx.ID)
	}

	var applied bool
	err = l.retry(ctx, "distribute", func() error {
		var derr error
		applied, derr = l.store.Distribute(ctx, l.Policy(), r, payouts)
		return derr
	})
	if err != nil {
		l.rejected(ctx, payouts[0], err)
		return nil, err
	}
	if !applied {
		l.logger.Debug("reward already distributed",
			"issue_id", issueID.String(),
			"implementation_id", implementationID,
		)
		return nil, nil
	}

	l.logger.Info("reward distributed",
		"issue_id", issueID.String(),
		"implementation_id", implementationID,
		"amount", total.String(),
		"payees", len(payouts),
	)
	l.plugins.EmitTransfer(ctx, payouts...)
	l.plugins.EmitRewardDistributed(ctx, r)
	return r, nil
}

// GetReward returns the reward paid for an implementation.
func (l *Ledger) GetReward(ctx context.Context, key issue.Key) (*reward.Reward, error) {
	return l.store.GetReward(ctx, key)
}
