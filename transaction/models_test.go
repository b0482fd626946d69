package transaction

import (
	"math"
	"testing"
	"time"

	"github.com/ara-foundation/ledger/types"
)

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(string(k))
		if err != nil {
			t.Fatalf("ParseKind(%q): %v", k, err)
		}
		if got != k {
			t.Errorf("ParseKind(%q): got %q", k, got)
		}
	}
	if _, err := ParseKind("REFUND"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestAccounts(t *testing.T) {
	now := time.Now()
	got := Accounts(
		New("carol", "ARA", types.Units(1), KindLike, now),
		New("ARA", "alice", types.Units(1), KindProd, now),
		New("alice", "bob", types.Units(1), KindTransfer, now),
	)
	want := []string{"ARA", "alice", "bob", "carol"}
	if len(got) != len(want) {
		t.Fatalf("len: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Accounts[%d]: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestPost(t *testing.T) {
	policy := Policy{Treasury: "ARA", StartingBalance: types.Units(100)}
	now := time.Now()

	tests := []struct {
		name     string
		txs      []*Transaction
		rejected int // index of rejected tx, -1 for none
		overflow bool
		balances map[string]types.Money
	}{
		{
			name:     "Covered debit",
			txs:      []*Transaction{New("alice", "ARA", types.Units(40), KindAdd, now)},
			rejected: -1,
			balances: map[string]types.Money{"alice": types.Units(60), "ARA": types.Units(140)},
		},
		{
			name:     "Exact balance",
			txs:      []*Transaction{New("alice", "bob", types.Units(100), KindTransfer, now)},
			rejected: -1,
			balances: map[string]types.Money{"alice": types.Zero(), "bob": types.Units(200)},
		},
		{
			name:     "Overdraft",
			txs:      []*Transaction{New("alice", "bob", types.Minor(10001), KindTransfer, now)},
			rejected: 0,
		},
		{
			name: "Treasury unchecked",
			txs: []*Transaction{
				New("ARA", "bob", types.Units(500), KindProd, now),
			},
			rejected: -1,
			balances: map[string]types.Money{"ARA": types.Units(-400), "bob": types.Units(600)},
		},
		{
			name: "Second debit uncovered",
			txs: []*Transaction{
				New("alice", "bob", types.Units(60), KindTransfer, now),
				New("alice", "carol", types.Units(60), KindTransfer, now),
			},
			rejected: 1,
		},
		{
			name: "Credit funds later debit",
			txs: []*Transaction{
				New("bob", "alice", types.Units(50), KindTransfer, now),
				New("alice", "carol", types.Units(150), KindTransfer, now),
			},
			rejected: -1,
			balances: map[string]types.Money{"alice": types.Zero(), "bob": types.Units(50), "carol": types.Units(250)},
		},
		{
			name:     "Treasury credit overflows receiver",
			txs:      []*Transaction{New("ARA", "bob", types.Minor(math.MaxInt64), KindTransfer, now)},
			rejected: 0,
			overflow: true,
		},
		{
			name: "Treasury debit overflows",
			txs: []*Transaction{
				New("ARA", "bob", types.Minor(math.MaxInt64-10000), KindTransfer, now),
				New("ARA", "carol", types.Minor(math.MaxInt64-10000), KindTransfer, now),
			},
			rejected: 1,
			overflow: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			balances := make(map[string]types.Money)
			for _, acc := range Accounts(tt.txs...) {
				balances[acc] = policy.StartingBalance
			}
			got := Post(policy, balances, tt.txs...)
			if tt.rejected < 0 {
				if got != nil {
					t.Fatalf("unexpected rejection of %s", got.Tx.ID)
				}
				for acc, want := range tt.balances {
					if !balances[acc].Equal(want) {
						t.Errorf("%s: got %v, want %v", acc, balances[acc], want)
					}
				}
				return
			}
			if got == nil || got.Tx != tt.txs[tt.rejected] {
				t.Fatalf("rejected: got %v, want tx %d", got, tt.rejected)
			}
			if got.Overflow != tt.overflow {
				t.Errorf("overflow: got %v, want %v", got.Overflow, tt.overflow)
			}
		})
	}
}

func TestListOptsMatches(t *testing.T) {
	tx := New("alice", "bob", types.Units(1), KindTransfer, time.Now())

	tests := []struct {
		name string
		opts ListOpts
		want bool
	}{
		{"No filter", ListOpts{}, true},
		{"From", ListOpts{Account: "alice"}, true},
		{"To", ListOpts{Account: "bob"}, true},
		{"Other account", ListOpts{Account: "carol"}, false},
		{"Kind", ListOpts{Kind: KindTransfer}, true},
		{"Other kind", ListOpts{Kind: KindProd}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.opts.Matches(tx); got != tt.want {
				t.Errorf("Matches: got %v, want %v", got, tt.want)
			}
		})
	}
}
