package transaction

import (
	"fmt"
	"sort"
	"time"

	"github.com/ara-foundation/ledger/id"
	"github.com/ara-foundation/ledger/types"
)

// Kind classifies why value moved between two accounts.
type Kind string

const (
	KindAdd        Kind = "ADD"          // Issue creation incentive
	KindLike       Kind = "LIKE"         // Additional incentive on an existing issue
	KindProd       Kind = "PROD"         // Reward paid when an implementation reaches production
	KindTransfer   Kind = "TRANSFER"     // Plain account-to-account transfer
	KindPayPerHour Kind = "PAY_PER_HOUR" // Metered access charge or its settlement payout
)

// Kinds lists every known kind.
var Kinds = []Kind{KindAdd, KindLike, KindProd, KindTransfer, KindPayPerHour}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseKind converts a string into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("transaction: unknown kind %q", s)
	}
	return k, nil
}

// Transaction is an immutable record of value moved from one account to another.
type Transaction struct {
	ID        id.TransactionID `json:"id"`
	From      string           `json:"from"`
	To        string           `json:"to"`
	Amount    types.Money      `json:"amount"`
	Kind      Kind             `json:"kind"`
	Timestamp time.Time        `json:"timestamp"`
}

// New builds a transaction with a fresh ID.
func New(from, to string, amount types.Money, kind Kind, at time.Time) *Transaction {
	return &Transaction{
		ID:        id.NewTransactionID(),
		From:      from,
		To:        to,
		Amount:    amount,
		Kind:      kind,
		Timestamp: at.UTC(),
	}
}

// Policy carries the ledger-wide rules a store needs to post transactions.
type Policy struct {
	// Treasury is the system account. It funds payouts and is never
	// balance-checked.
	Treasury string
	// StartingBalance is the balance of an account the ledger has not seen yet.
	StartingBalance types.Money
}

// Checked reports whether debits from account must be covered by its balance.
func (p Policy) Checked(account string) bool {
	return account != p.Treasury
}

// Balance is the materialized running total of one account.
type Balance struct {
	Account   string      `json:"account"`
	Amount    types.Money `json:"balance"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Accounts returns the sorted, de-duplicated set of accounts touched by txs.
// Stores lock balance rows in this order.
func Accounts(txs ...*Transaction) []string {
	seen := make(map[string]struct{}, len(txs)*2)
	for _, tx := range txs {
		seen[tx.From] = struct{}{}
		seen[tx.To] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for acc := range seen {
		out = append(out, acc)
	}
	sort.Strings(out)
	return out
}

// Rejection names the transaction Post refused and why.
type Rejection struct {
	Tx *Transaction
	// Overflow is set when a balance would leave the int64 range; otherwise
	// the debit was not covered.
	Overflow bool
}

// Post applies txs in order to balances, which must already hold an entry
// for every touched account. It returns the first transaction that cannot
// be applied; balances are then partially applied and must be discarded.
func Post(p Policy, balances map[string]types.Money, txs ...*Transaction) *Rejection {
	for _, tx := range txs {
		from := balances[tx.From]
		if p.Checked(tx.From) && from.LessThan(tx.Amount) {
			return &Rejection{Tx: tx}
		}
		debited, ok := from.CheckedSubtract(tx.Amount)
		if !ok {
			return &Rejection{Tx: tx, Overflow: true}
		}
		balances[tx.From] = debited
		credited, ok := balances[tx.To].CheckedAdd(tx.Amount)
		if !ok {
			return &Rejection{Tx: tx, Overflow: true}
		}
		balances[tx.To] = credited
	}
	return nil
}
