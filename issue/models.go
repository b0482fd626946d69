package issue

import (
	"fmt"
	"sort"
	"time"

	"github.com/ara-foundation/ledger/id"
	"github.com/ara-foundation/ledger/types"
)

// Phase is the lifecycle stage of an implementation.
type Phase string

const (
	PhaseTest Phase = "TEST"
	PhaseProd Phase = "PROD"
)

// Key identifies one implementation of one issue.
type Key struct {
	IssueID          id.IssueID `json:"issue_id"`
	ImplementationID int        `json:"implementation_id"`
}

// NewKey builds a Key.
func NewKey(issueID id.IssueID, implementationID int) Key {
	return Key{IssueID: issueID, ImplementationID: implementationID}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.IssueID, k.ImplementationID)
}

// Issue is a crowd-funded request for work. Every incentive entry is backed
// by a ledger debit from its contributor.
type Issue struct {
	types.Entity
	ID              id.IssueID       `json:"id"`
	Title           string           `json:"title"`
	Document        string           `json:"document"`
	Website         string           `json:"website"`
	Author          string           `json:"author"`
	Incentive       []Contribution   `json:"incentive"`
	Implementations []Implementation `json:"implementations"`
	// Version is bumped by the store on every update and compared on write.
	Version int64 `json:"version"`
}

// Contribution is one pledge to an issue's incentive pool.
type Contribution struct {
	Account       string           `json:"account"`
	Amount        types.Money      `json:"amount"`
	TransactionID id.TransactionID `json:"transaction_id"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Payment describes how an implementation charges its users. A positive
// Value makes the implementation billable once in production.
type Payment struct {
	Type  string      `json:"type"`
	Value types.Money `json:"value"`
}

// Source locates an implementation's code.
type Source struct {
	URL        string `json:"url"`
	TestBranch string `json:"test_branch,omitempty"`
	TestCommit string `json:"test_commit,omitempty"`
	ProdBranch string `json:"prod_branch,omitempty"`
	ProdCommit string `json:"prod_commit,omitempty"`
}

// Implementation is a candidate solution to an issue.
type Implementation struct {
	ID              int        `json:"id"`
	Phase           Phase      `json:"phase"`
	Payment         Payment    `json:"payment"`
	Distributions   []string   `json:"distributions"`
	Source          Source     `json:"source"`
	TestConstructor string     `json:"test_constructor,omitempty"`
	ProdConstructor string     `json:"prod_constructor,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	PromotedAt      *time.Time `json:"promoted_at,omitempty"`
}

// Billable reports whether the implementation charges for access.
func (im *Implementation) Billable() bool {
	return im.Payment.Value.IsPositive()
}

// Pool returns the incentive pool folded per contributing account.
func (i *Issue) Pool() map[string]types.Money {
	pool := make(map[string]types.Money, len(i.Incentive))
	for _, c := range i.Incentive {
		pool[c.Account] = pool[c.Account].Add(c.Amount)
	}
	return pool
}

// Contributors returns the pool's accounts in sorted order.
func (i *Issue) Contributors() []string {
	pool := i.Pool()
	out := make([]string, 0, len(pool))
	for acc := range pool {
		out = append(out, acc)
	}
	sort.Strings(out)
	return out
}

// Reward returns the total of the incentive pool.
func (i *Issue) Reward() types.Money {
	var total types.Money
	for _, c := range i.Incentive {
		total = total.Add(c.Amount)
	}
	return total
}

// Implementation returns the implementation with the given id.
func (i *Issue) Implementation(implementationID int) (*Implementation, bool) {
	for idx := range i.Implementations {
		if i.Implementations[idx].ID == implementationID {
			return &i.Implementations[idx], true
		}
	}
	return nil, false
}

// NextImplementationID returns one more than the highest implementation id,
// or 1 for an issue without implementations.
func (i *Issue) NextImplementationID() int {
	next := 1
	for _, im := range i.Implementations {
		if im.ID >= next {
			next = im.ID + 1
		}
	}
	return next
}

// Key returns the key of one of the issue's implementations.
func (i *Issue) Key(implementationID int) Key {
	return NewKey(i.ID, implementationID)
}

// Clone returns a deep copy so callers can mutate it without racing readers.
func (i *Issue) Clone() *Issue {
	if i == nil {
		return nil
	}
	out := *i
	out.Incentive = append([]Contribution(nil), i.Incentive...)
	out.Implementations = make([]Implementation, len(i.Implementations))
	for idx, im := range i.Implementations {
		im.Distributions = append([]string(nil), im.Distributions...)
		if im.PromotedAt != nil {
			at := *im.PromotedAt
			im.PromotedAt = &at
		}
		out.Implementations[idx] = im
	}
	return &out
}
