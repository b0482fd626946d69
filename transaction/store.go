package transaction

import (
	"context"
)

type Store interface {
	Append(ctx context.Context, p Policy, txs ...*Transaction) error
	Balance(ctx context.Context, p Policy, account string) (*Balance, error)
	ListTransactions(ctx context.Context, opts ListOpts) ([]*Transaction, error)
	CountTransactions(ctx context.Context, opts ListOpts) (int64, error)
}

// ListOpts filters transaction listings. Results are ordered oldest first.
type ListOpts struct {
	// Account matches either side of the transfer.
	Account string
	Kind    Kind
	Limit   int
	Offset  int
}

// Matches reports whether tx passes the account and kind filters.
func (o ListOpts) Matches(tx *Transaction) bool {
	if o.Account != "" && tx.From != o.Account && tx.To != o.Account {
		return false
	}
	if o.Kind != "" && tx.Kind != o.Kind {
		return false
	}
	return true
}
