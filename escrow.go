package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ara-foundation/ledger/escrow"
	"github.com/ara-foundation/ledger/issue"
	"github.com/ara-foundation/ledger/transaction"
	"github.com/ara-foundation/ledger/types"
)

// ──────────────────────────────────────────────────
// Metering escrow
// ──────────────────────────────────────────────────

// RegisterProject registers, or replaces in full, the billing of an
// implementation.
func (l *Ledger) RegisterProject(ctx context.Context, key issue.Key, price types.Money, distributions []string) (*escrow.Project, error) {
	if key.IssueID.IsNil() {
		return nil, ValidationError{Field: "issue_id", Message: "is required"}
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("%w: price %s must be positive", ErrInvalidAmount, price)
	}

	p := &escrow.Project{
		Entity:        types.NewEntityAt(l.now()),
		Key:           key,
		Price:         price,
		Distributions: append([]string(nil), distributions...),
	}
	if err := l.retry(ctx, "register project", func() error {
		return l.store.UpsertProject(ctx, p)
	}); err != nil {
		return nil, err
	}

	l.logger.Info("project registered",
		"issue_id", key.IssueID.String(),
		"implementation_id", key.ImplementationID,
		"price", price.String(),
		"payees", len(distributions),
	)
	l.plugins.EmitProjectRegistered(ctx, p)
	return p, nil
}

// GetProject returns the registration of an implementation.
func (l *Ledger) GetProject(ctx context.Context, key issue.Key) (*escrow.Project, error) {
	return l.store.GetProject(ctx, key)
}

// Projects lists every registered project.
func (l *Ledger) Projects(ctx context.Context) ([]*escrow.Project, error) {
	return l.store.ListProjects(ctx)
}

// ChargeAccess charges userID the project price and grants one deposit
// window. A still-active window is extended from its end; otherwise the new
// window starts now. The price is read, charged and the window recorded in
// one atomic unit.
func (l *Ledger) ChargeAccess(ctx context.Context, key issue.Key, userID string) (*escrow.Deposit, error) {
	if userID == "" {
		return nil, ValidationError{Field: "user_id", Message: "is required"}
	}

	dk := escrow.NewDepositKey(key, userID)
	var (
		charge *transaction.Transaction
		d      *escrow.Deposit
	)
	err := l.retry(ctx, "charge access", func() error {
		now := l.now()
		charge = nil
		var cerr error
		d, cerr = l.store.Charge(ctx, l.Policy(), dk, now, l.depositWindow, func(p *escrow.Project) (*transaction.Transaction, error) {
			if !p.Price.IsPositive() {
				return nil, fmt.Errorf("%w: price %s must be positive", ErrInvalidAmount, p.Price)
			}
			charge = transaction.New(userID, l.treasury, p.Price, transaction.KindPayPerHour, now)
			return charge, nil
		})
		return cerr
	})
	if err != nil {
		if charge != nil {
			l.rejected(ctx, charge, err)
		}
		return nil, err
	}

	l.logger.Debug("access charged",
		"issue_id", key.IssueID.String(),
		"implementation_id", key.ImplementationID,
		"user_id", userID,
		"amount", charge.Amount.String(),
		"end_time", d.EndTime,
	)
	l.plugins.EmitTransfer(ctx, charge)
	l.plugins.EmitAccessCharged(ctx, d)
	return d, nil
}

// Access is the metered access gate. A subscribed user gets the current
// window free of charge; anyone else is charged for a new window. The
// returned bool reports whether a charge was made.
func (l *Ledger) Access(ctx context.Context, key issue.Key, userID string) (*escrow.Deposit, bool, error) {
	if userID == "" {
		return nil, false, ValidationError{Field: "user_id", Message: "is required"}
	}

	latest, err := l.store.LatestDeposit(ctx, escrow.NewDepositKey(key, userID))
	switch {
	case err == nil && latest.Active(l.now()):
		return latest, false, nil
	case err != nil && !errors.Is(err, ErrNotFound):
		return nil, false, err
	}

	d, err := l.ChargeAccess(ctx, key, userID)
	if err != nil {
		return nil, false, err
	}
	return d, true, nil
}

// IsSubscribed reports whether userID holds an active window.
func (l *Ledger) IsSubscribed(ctx context.Context, key issue.Key, userID string) (bool, error) {
	latest, err := l.store.LatestDeposit(ctx, escrow.NewDepositKey(key, userID))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return latest.Active(l.now()), nil
}

// WithdrawableAmount is the registration price times the number of expired,
// unsettled windows. It is zero for unregistered projects.
func (l *Ledger) WithdrawableAmount(ctx context.Context, key issue.Key) (types.Money, error) {
	p, err := l.store.GetProject(ctx, key)
	if errors.Is(err, ErrProjectNotRegistered) {
		return types.Zero(), nil
	}
	if err != nil {
		return types.Money{}, err
	}

	pending, err := l.store.PendingDeposits(ctx, key, l.now())
	if err != nil {
		return types.Money{}, err
	}
	return owed(p, len(pending))
}

// owed is the price of p times windows.
func owed(p *escrow.Project, windows int) (types.Money, error) {
	amount, ok := p.Price.CheckedMultiply(int64(windows))
	if !ok {
		return types.Money{}, fmt.Errorf("%w: %d windows at %s overflow", ErrInvalidAmount, windows, p.Price)
	}
	return amount, nil
}

// SettleWithdrawal pays the withdrawable amount of a project to its payees
// and marks exactly the paid windows settled, in one atomic unit. Nothing is
// paid when the amount is zero or the project has no payees; the returned
// summary then has no windows.
func (l *Ledger) SettleWithdrawal(ctx context.Context, key issue.Key) (*escrow.Settlement, error) {
	var s *escrow.Settlement
	now := l.now()
	err := l.retry(ctx, "settle withdrawal", func() error {
		var serr error
		s, serr = l.store.Settle(ctx, l.Policy(), key, now, l.buildPayouts(now))
		return serr
	})
	if err != nil {
		if !errors.Is(err, ErrProjectNotRegistered) {
			l.logger.Error("settlement failed",
				"issue_id", key.IssueID.String(),
				"implementation_id", key.ImplementationID,
				"error", err,
			)
		}
		return nil, err
	}
	if s == nil {
		return &escrow.Settlement{Key: key, SettledAt: now}, nil
	}

	l.logger.Info("withdrawal settled",
		"issue_id", key.IssueID.String(),
		"implementation_id", key.ImplementationID,
		"amount", s.Amount.String(),
		"windows", s.Windows(),
	)
	l.plugins.EmitTransfer(ctx, s.Transactions...)
	l.plugins.EmitWithdrawalSettled(ctx, s)
	return s, nil
}

// buildPayouts splits price times windows evenly across the project payees.
func (l *Ledger) buildPayouts(now time.Time) escrow.SettleFunc {
	return func(p *escrow.Project, pending []*escrow.Deposit) ([]*transaction.Transaction, error) {
		amount, err := owed(p, len(pending))
		if err != nil {
			return nil, err
		}
		if !amount.IsPositive() || len(p.Distributions) == 0 {
			return nil, nil
		}
		shares := amount.Split(len(p.Distributions))
		payouts := make([]*transaction.Transaction, len(p.Distributions))
		for i, payee := range p.Distributions {
			payouts[i] = transaction.New(l.treasury, payee, shares[i], transaction.KindPayPerHour, now)
		}
		return payouts, nil
	}
}

// SettleAll settles every registered project and returns the settlements
// that paid something.
func (l *Ledger) SettleAll(ctx context.Context) ([]*escrow.Settlement, error) {
	projects, err := l.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}

	var (
		settled []*escrow.Settlement
		errs    MultiError
	)
	for _, p := range projects {
		s, err := l.SettleWithdrawal(ctx, p.Key)
		if err != nil {
			errs.Add(fmt.Errorf("settle %s: %w", p.Key, err))
			continue
		}
		if s.Windows() > 0 {
			settled = append(settled, s)
		}
	}
	return settled, errs.ErrorOrNil()
}

// Deposits lists the windows of a project, optionally for one user.
func (l *Ledger) Deposits(ctx context.Context, opts escrow.ListOpts) ([]*escrow.Deposit, error) {
	return l.store.ListDeposits(ctx, opts)
}
