package escrow

import (
	"time"

	"github.com/ara-foundation/ledger/id"
	"github.com/ara-foundation/ledger/issue"
	"github.com/ara-foundation/ledger/transaction"
	"github.com/ara-foundation/ledger/types"
)

// DefaultWindow is the access time bought by one charge.
const DefaultWindow = time.Hour

// Project is the billing registration of a production implementation.
// There is at most one per key; registering again replaces it in full.
type Project struct {
	types.Entity
	issue.Key
	Price         types.Money `json:"price"`
	Distributions []string    `json:"distributions"`
}

// DepositKey identifies one user's windows for one project.
type DepositKey struct {
	issue.Key
	UserID string `json:"user_id"`
}

// NewDepositKey builds a DepositKey.
func NewDepositKey(key issue.Key, userID string) DepositKey {
	return DepositKey{Key: key, UserID: userID}
}

func (k DepositKey) String() string {
	return k.Key.String() + "/" + k.UserID
}

// Deposit is one paid access window.
type Deposit struct {
	ID id.DepositID `json:"id"`
	DepositKey
	StartTime     time.Time        `json:"start_time"`
	EndTime       time.Time        `json:"end_time"`
	Amount        types.Money      `json:"amount"`
	TransactionID id.TransactionID `json:"transaction_id"`
	Settled       bool             `json:"settled"`
	SettledAt     *time.Time       `json:"settled_at,omitempty"`
	SettlementID  id.SettlementID  `json:"settlement_id,omitempty"`
}

// Active reports whether the window grants access at now.
func (d *Deposit) Active(now time.Time) bool {
	return now.Before(d.EndTime)
}

// Withdrawable reports whether the window has expired without being settled.
func (d *Deposit) Withdrawable(now time.Time) bool {
	return !d.Settled && !d.Active(now)
}

// NextWindow returns the bounds of a new window. It extends latestEnd when
// that window is still active at now, otherwise it starts at now.
func NextWindow(latestEnd, now time.Time, window time.Duration) (start, end time.Time) {
	start = now
	if now.Before(latestEnd) {
		start = latestEnd
	}
	return start.UTC(), start.Add(window).UTC()
}

// NewDeposit builds the window bought by charge.
func NewDeposit(key DepositKey, charge *transaction.Transaction, start, end time.Time) *Deposit {
	return &Deposit{
		ID:            id.NewDepositID(),
		DepositKey:    key,
		StartTime:     start,
		EndTime:       end,
		Amount:        charge.Amount,
		TransactionID: charge.ID,
	}
}

// Settlement summarizes one withdrawal.
type Settlement struct {
	ID           id.SettlementID            `json:"id"`
	Key          issue.Key                  `json:"key"`
	Amount       types.Money                `json:"amount"`
	Deposits     []id.DepositID             `json:"deposits"`
	Transactions []*transaction.Transaction `json:"transactions"`
	SettledAt    time.Time                  `json:"settled_at"`
}

// Windows returns the number of windows settled.
func (s *Settlement) Windows() int {
	if s == nil {
		return 0
	}
	return len(s.Deposits)
}

// NewSettlement summarizes the payout of pending windows.
func NewSettlement(key issue.Key, pending []*Deposit, payouts []*transaction.Transaction, at time.Time) *Settlement {
	s := &Settlement{
		ID:           id.NewSettlementID(),
		Key:          key,
		Transactions: payouts,
		SettledAt:    at.UTC(),
	}
	for _, d := range pending {
		s.Deposits = append(s.Deposits, d.ID)
	}
	for _, tx := range payouts {
		s.Amount = s.Amount.Add(tx.Amount)
	}
	return s
}

// MarkSettled stamps every pending window with the settlement.
func (s *Settlement) MarkSettled(pending []*Deposit) {
	for _, d := range pending {
		at := s.SettledAt
		d.Settled = true
		d.SettledAt = &at
		d.SettlementID = s.ID
	}
}
