package ledger

import (
	"context"
	"errors"

	"github.com/ara-foundation/ledger/id"
	"github.com/ara-foundation/ledger/transaction"
	"github.com/ara-foundation/ledger/types"
)

// ──────────────────────────────────────────────────
// Transfers and balances
// ──────────────────────────────────────────────────

// Transfer moves amount from one account to another. The balance check and
// the append are one atomic unit; debits from the treasury are never checked.
func (l *Ledger) Transfer(ctx context.Context, from, to string, amount types.Money, kind transaction.Kind) (id.TransactionID, error) {
	if err := validateTransfer(from, to, amount, kind); err != nil {
		return id.Nil, err
	}

	tx := transaction.New(from, to, amount, kind, l.now())
	if err := l.post(ctx, tx); err != nil {
		return id.Nil, err
	}
	return tx.ID, nil
}

// Balance returns the running total of account. Unseen accounts hold the
// starting balance.
func (l *Ledger) Balance(ctx context.Context, account string) (types.Money, error) {
	if account == "" {
		return types.Money{}, ValidationError{Field: "account", Message: "is required"}
	}
	b, err := l.store.Balance(ctx, l.Policy(), account)
	if err != nil {
		return types.Money{}, err
	}
	return b.Amount, nil
}

// ListTransactions returns transactions oldest first.
func (l *Ledger) ListTransactions(ctx context.Context, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	return l.store.ListTransactions(ctx, opts)
}

// CountTransactions returns the number of transactions matching opts.
func (l *Ledger) CountTransactions(ctx context.Context, opts transaction.ListOpts) (int64, error) {
	return l.store.CountTransactions(ctx, opts)
}

// post appends txs as one unit and reports the outcome to plugins.
func (l *Ledger) post(ctx context.Context, txs ...*transaction.Transaction) error {
	err := l.retry(ctx, "append", func() error {
		return l.store.Append(ctx, l.Policy(), txs...)
	})
	if err != nil {
		l.rejected(ctx, txs[0], err)
		return err
	}

	l.plugins.EmitTransfer(ctx, txs...)
	return nil
}

// rejected logs a failed posting and emits the rejection hook for balance
// and range failures.
func (l *Ledger) rejected(ctx context.Context, tx *transaction.Transaction, err error) {
	if errors.Is(err, ErrInsufficientBalance) || errors.Is(err, ErrInvalidAmount) {
		l.logger.Debug("transfer rejected",
			"from", tx.From,
			"to", tx.To,
			"amount", tx.Amount.String(),
			"kind", tx.Kind,
		)
		l.plugins.EmitTransferRejected(ctx, tx, err)
		return
	}
	l.logger.Error("transfer failed",
		"from", tx.From,
		"to", tx.To,
		"amount", tx.Amount.String(),
		"kind", tx.Kind,
		"error", err,
	)
}

func validateTransfer(from, to string, amount types.Money, kind transaction.Kind) error {
	var errs MultiError
	if from == "" {
		errs.Add(ValidationError{Field: "from", Message: "is required"})
	}
	if to == "" {
		errs.Add(ValidationError{Field: "to", Message: "is required"})
	}
	if from != "" && from == to {
		errs.Add(ValidationError{Field: "to", Message: "must differ from sender"})
	}
	if !kind.Valid() {
		errs.Add(ValidationError{Field: "kind", Message: "unknown kind " + string(kind)})
	}
	if errs.HasErrors() {
		if len(errs.Errors) == 1 {
			return errs.First()
		}
		return errs
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}
