// Package storetest is a conformance suite run against every store.Store
// backend.
package storetest

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ara-foundation/ledger"
	"github.com/ara-foundation/ledger/escrow"
	"github.com/ara-foundation/ledger/id"
	"github.com/ara-foundation/ledger/issue"
	"github.com/ara-foundation/ledger/reward"
	"github.com/ara-foundation/ledger/store"
	"github.com/ara-foundation/ledger/transaction"
	"github.com/ara-foundation/ledger/types"
)

// Factory returns a migrated, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

const treasury = "ARA"

var (
	policy = transaction.Policy{Treasury: treasury, StartingBalance: types.Units(100)}
	base   = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

// Run runs the suite. Every subtest gets a fresh store.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"Ping", testPing},
		{"AppendAndBalance", testAppendAndBalance},
		{"AppendRejectsOverdraft", testAppendRejectsOverdraft},
		{"TreasuryUnchecked", testTreasuryUnchecked},
		{"ListTransactions", testListTransactions},
		{"Issues", testIssues},
		{"IssueVersioning", testIssueVersioning},
		{"ListIssues", testListIssues},
		{"Distribute", testDistribute},
		{"Projects", testProjects},
		{"ChargeWindows", testChargeWindows},
		{"ChargeUsesCurrentPrice", testChargeUsesCurrentPrice},
		{"ChargeRejectsOverdraft", testChargeRejectsOverdraft},
		{"AppendRejectsOverflow", testAppendRejectsOverflow},
		{"Settle", testSettle},
		{"SettleWithoutPayouts", testSettleWithoutPayouts},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func balanceOf(t *testing.T, s store.Store, account string) types.Money {
	t.Helper()
	b, err := s.Balance(context.Background(), policy, account)
	require.NoError(t, err)
	assert.Equal(t, account, b.Account)
	return b.Amount
}

func assertMoney(t *testing.T, want, got types.Money) {
	t.Helper()
	assert.True(t, want.Equal(got), "got %v, want %v", got, want)
}

func testPing(t *testing.T, s store.Store) {
	require.NoError(t, s.Ping(context.Background()))
}

func testAppendAndBalance(t *testing.T, s store.Store) {
	ctx := context.Background()

	assertMoney(t, types.Units(100), balanceOf(t, s, "alice"))

	tx := transaction.New("alice", "bob", types.Units(30), transaction.KindTransfer, base)
	require.NoError(t, s.Append(ctx, policy, tx))

	assertMoney(t, types.Units(70), balanceOf(t, s, "alice"))
	assertMoney(t, types.Units(130), balanceOf(t, s, "bob"))

	txs, err := s.ListTransactions(ctx, transaction.ListOpts{})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, tx.ID, txs[0].ID)
	assert.Equal(t, "alice", txs[0].From)
	assert.Equal(t, "bob", txs[0].To)
	assertMoney(t, tx.Amount, txs[0].Amount)
	assert.Equal(t, transaction.KindTransfer, txs[0].Kind)
	assert.True(t, base.Equal(txs[0].Timestamp), "timestamp %v", txs[0].Timestamp)
}

func testAppendRejectsOverdraft(t *testing.T, s store.Store) {
	ctx := context.Background()

	ok := transaction.New("alice", "bob", types.Units(60), transaction.KindTransfer, base)
	over := transaction.New("alice", "carol", types.Units(60), transaction.KindTransfer, base)
	err := s.Append(ctx, policy, ok, over)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	n, err := s.CountTransactions(ctx, transaction.ListOpts{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assertMoney(t, types.Units(100), balanceOf(t, s, "alice"))
	assertMoney(t, types.Units(100), balanceOf(t, s, "bob"))

	// A credit earlier in the unit funds a later debit.
	in := transaction.New("bob", "alice", types.Units(50), transaction.KindTransfer, base)
	out := transaction.New("alice", "carol", types.Units(150), transaction.KindTransfer, base)
	require.NoError(t, s.Append(ctx, policy, in, out))
	assertMoney(t, types.Zero(), balanceOf(t, s, "alice"))
	assertMoney(t, types.Units(250), balanceOf(t, s, "carol"))
}

func testTreasuryUnchecked(t *testing.T, s store.Store) {
	ctx := context.Background()

	tx := transaction.New(treasury, "bob", types.Units(500), transaction.KindProd, base)
	require.NoError(t, s.Append(ctx, policy, tx))
	assertMoney(t, types.Units(-400), balanceOf(t, s, treasury))
	assertMoney(t, types.Units(600), balanceOf(t, s, "bob"))
}

func testAppendRejectsOverflow(t *testing.T, s store.Store) {
	ctx := context.Background()

	tx := transaction.New(treasury, "bob", types.Minor(math.MaxInt64), transaction.KindTransfer, base)
	require.ErrorIs(t, s.Append(ctx, policy, tx), ledger.ErrInvalidAmount)
	assertMoney(t, types.Units(100), balanceOf(t, s, "bob"))
	assertMoney(t, types.Units(100), balanceOf(t, s, treasury))

	n, err := s.CountTransactions(ctx, transaction.ListOpts{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testListTransactions(t *testing.T, s store.Store) {
	ctx := context.Background()

	var ids []id.TransactionID
	moves := []struct {
		from, to string
		kind     transaction.Kind
	}{
		{"alice", treasury, transaction.KindAdd},
		{"bob", treasury, transaction.KindLike},
		{treasury, "carol", transaction.KindProd},
		{"alice", "bob", transaction.KindTransfer},
	}
	for i, m := range moves {
		tx := transaction.New(m.from, m.to, types.Units(1), m.kind, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, s.Append(ctx, policy, tx))
		ids = append(ids, tx.ID)
	}

	all, err := s.ListTransactions(ctx, transaction.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i, tx := range all {
		assert.Equal(t, ids[i], tx.ID, "oldest first")
	}

	alice, err := s.ListTransactions(ctx, transaction.ListOpts{Account: "alice"})
	require.NoError(t, err)
	require.Len(t, alice, 2)
	assert.Equal(t, ids[0], alice[0].ID)
	assert.Equal(t, ids[3], alice[1].ID)

	bob, err := s.CountTransactions(ctx, transaction.ListOpts{Account: "bob"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, bob)

	prod, err := s.ListTransactions(ctx, transaction.ListOpts{Kind: transaction.KindProd})
	require.NoError(t, err)
	require.Len(t, prod, 1)
	assert.Equal(t, ids[2], prod[0].ID)

	page, err := s.ListTransactions(ctx, transaction.ListOpts{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[1], page[0].ID)
	assert.Equal(t, ids[2], page[1].ID)

	n, err := s.CountTransactions(ctx, transaction.ListOpts{Account: treasury, Kind: transaction.KindAdd})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func newIssue(website string) *issue.Issue {
	promoted := base.Add(time.Hour)
	return &issue.Issue{
		Entity:   types.NewEntityAt(base),
		ID:       id.NewIssueID(),
		Title:    "Dark mode",
		Document: "Please add dark mode",
		Website:  website,
		Author:   "alice",
		Incentive: []issue.Contribution{{
			Account:       "alice",
			Amount:        types.Units(40),
			TransactionID: id.NewTransactionID(),
			CreatedAt:     base,
		}},
		Implementations: []issue.Implementation{{
			ID:            1,
			Phase:         issue.PhaseProd,
			Payment:       issue.Payment{Type: "perHour", Value: types.Minor(250)},
			Distributions: []string{"bob", "carol"},
			Source:        issue.Source{URL: "https://example.com/repo", TestBranch: "test"},
			CreatedAt:     base,
			PromotedAt:    &promoted,
		}},
	}
}

func testIssues(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.GetIssue(ctx, id.NewIssueID())
	require.ErrorIs(t, err, ledger.ErrIssueNotFound)

	iss := newIssue("example.com")
	require.NoError(t, s.CreateIssue(ctx, iss))
	assert.EqualValues(t, 1, iss.Version)

	err = s.CreateIssue(ctx, iss)
	require.ErrorIs(t, err, ledger.ErrAlreadyExists)

	got, err := s.GetIssue(ctx, iss.ID)
	require.NoError(t, err)
	assert.Equal(t, iss.ID, got.ID)
	assert.Equal(t, iss.Title, got.Title)
	assert.Equal(t, iss.Document, got.Document)
	assert.Equal(t, iss.Website, got.Website)
	assert.Equal(t, iss.Author, got.Author)
	assert.EqualValues(t, 1, got.Version)
	assert.True(t, base.Equal(got.CreatedAt))

	require.Len(t, got.Incentive, 1)
	assert.Equal(t, "alice", got.Incentive[0].Account)
	assertMoney(t, types.Units(40), got.Incentive[0].Amount)
	assert.Equal(t, iss.Incentive[0].TransactionID, got.Incentive[0].TransactionID)

	require.Len(t, got.Implementations, 1)
	im := got.Implementations[0]
	assert.Equal(t, 1, im.ID)
	assert.Equal(t, issue.PhaseProd, im.Phase)
	assertMoney(t, types.Minor(250), im.Payment.Value)
	assert.Equal(t, []string{"bob", "carol"}, im.Distributions)
	assert.Equal(t, "https://example.com/repo", im.Source.URL)
	require.NotNil(t, im.PromotedAt)
	assert.True(t, base.Add(time.Hour).Equal(*im.PromotedAt))
}

func testIssueVersioning(t *testing.T, s store.Store) {
	ctx := context.Background()

	iss := newIssue("example.com")
	require.NoError(t, s.CreateIssue(ctx, iss))

	first, err := s.GetIssue(ctx, iss.ID)
	require.NoError(t, err)
	second, err := s.GetIssue(ctx, iss.ID)
	require.NoError(t, err)

	first.Title = "first"
	first.Implementations = append(first.Implementations, issue.Implementation{ID: 2, Phase: issue.PhaseTest, CreatedAt: base})
	require.NoError(t, s.UpdateIssue(ctx, first))
	assert.EqualValues(t, 2, first.Version)

	second.Title = "second"
	err = s.UpdateIssue(ctx, second)
	require.ErrorIs(t, err, ledger.ErrConcurrentModification)

	got, err := s.GetIssue(ctx, iss.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Title)
	assert.EqualValues(t, 2, got.Version)
	assert.Equal(t, 3, got.NextImplementationID())

	missing := newIssue("example.com")
	missing.Version = 1
	err = s.UpdateIssue(ctx, missing)
	require.ErrorIs(t, err, ledger.ErrIssueNotFound)
}

func testListIssues(t *testing.T, s store.Store) {
	ctx := context.Background()

	for _, site := range []string{"a.com", "b.com", "a.com", "c.com"} {
		require.NoError(t, s.CreateIssue(ctx, newIssue(site)))
	}

	all, err := s.ListIssues(ctx, issue.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	filtered, err := s.ListIssues(ctx, issue.ListOpts{Websites: []string{"a.com", "c.com"}})
	require.NoError(t, err)
	assert.Len(t, filtered, 3)
	for _, iss := range filtered {
		assert.NotEqual(t, "b.com", iss.Website)
	}

	page, err := s.ListIssues(ctx, issue.ListOpts{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page, 2)

	none, err := s.ListIssues(ctx, issue.ListOpts{Websites: []string{"z.com"}})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testDistribute(t *testing.T, s store.Store) {
	ctx := context.Background()
	key := issue.NewKey(id.NewIssueID(), 1)

	_, err := s.GetReward(ctx, key)
	require.True(t, ledger.IsNotFound(err), "got %v", err)

	payouts := []*transaction.Transaction{
		transaction.New(treasury, "bob", types.Units(20), transaction.KindProd, base),
		transaction.New(treasury, "carol", types.Units(20), transaction.KindProd, base),
	}
	r := &reward.Reward{
		Key:            key,
		Amount:         types.Units(40),
		Payees:         []string{"bob", "carol"},
		TransactionIDs: []id.TransactionID{payouts[0].ID, payouts[1].ID},
		CreatedAt:      base,
	}

	applied, err := s.Distribute(ctx, policy, r, payouts)
	require.NoError(t, err)
	assert.True(t, applied)

	again := []*transaction.Transaction{
		transaction.New(treasury, "bob", types.Units(20), transaction.KindProd, base),
	}
	applied, err = s.Distribute(ctx, policy, r, again)
	require.NoError(t, err)
	assert.False(t, applied)

	assertMoney(t, types.Units(120), balanceOf(t, s, "bob"))
	assertMoney(t, types.Units(120), balanceOf(t, s, "carol"))

	n, err := s.CountTransactions(ctx, transaction.ListOpts{Kind: transaction.KindProd})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	got, err := s.GetReward(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, key, got.Key)
	assertMoney(t, types.Units(40), got.Amount)
	assert.Equal(t, []string{"bob", "carol"}, got.Payees)
	assert.Equal(t, r.TransactionIDs, got.TransactionIDs)
}

func testProjects(t *testing.T, s store.Store) {
	ctx := context.Background()
	key := issue.NewKey(id.NewIssueID(), 3)

	_, err := s.GetProject(ctx, key)
	require.ErrorIs(t, err, ledger.ErrProjectNotRegistered)

	p := &escrow.Project{
		Entity:        types.NewEntityAt(base),
		Key:           key,
		Price:         types.Units(10),
		Distributions: []string{"bob"},
	}
	require.NoError(t, s.UpsertProject(ctx, p))

	replaced := &escrow.Project{
		Entity:        types.NewEntityAt(base.Add(time.Hour)),
		Key:           key,
		Price:         types.Units(12),
		Distributions: []string{"carol", "dave"},
	}
	require.NoError(t, s.UpsertProject(ctx, replaced))

	got, err := s.GetProject(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, key, got.Key)
	assertMoney(t, types.Units(12), got.Price)
	assert.Equal(t, []string{"carol", "dave"}, got.Distributions)
	assert.True(t, base.Equal(got.CreatedAt), "registration keeps its creation time")

	other := &escrow.Project{
		Entity: types.NewEntityAt(base),
		Key:    issue.NewKey(id.NewIssueID(), 1),
		Price:  types.Units(1),
	}
	require.NoError(t, s.UpsertProject(ctx, other))

	all, err := s.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func register(t *testing.T, s store.Store, key issue.Key, price types.Money, payees ...string) {
	t.Helper()
	require.NoError(t, s.UpsertProject(context.Background(), &escrow.Project{
		Entity:        types.NewEntityAt(base),
		Key:           key,
		Price:         price,
		Distributions: payees,
	}))
}

// charge bills key one window at the registered price.
func charge(t *testing.T, s store.Store, key escrow.DepositKey, now time.Time) (*escrow.Deposit, error) {
	t.Helper()
	return s.Charge(context.Background(), policy, key, now, time.Hour, func(p *escrow.Project) (*transaction.Transaction, error) {
		return transaction.New(key.UserID, treasury, p.Price, transaction.KindPayPerHour, now), nil
	})
}

func testChargeWindows(t *testing.T, s store.Store) {
	ctx := context.Background()
	key := escrow.NewDepositKey(issue.NewKey(id.NewIssueID(), 1), "dave")

	_, err := s.LatestDeposit(ctx, key)
	require.True(t, ledger.IsNotFound(err), "got %v", err)

	_, err = charge(t, s, key, base)
	require.ErrorIs(t, err, ledger.ErrProjectNotRegistered)
	register(t, s, key.Key, types.Units(10))

	first, err := charge(t, s, key, base)
	require.NoError(t, err)
	assert.Equal(t, id.PrefixDeposit, first.ID.Prefix())
	assert.True(t, base.Equal(first.StartTime))
	assert.True(t, base.Add(time.Hour).Equal(first.EndTime))
	assertMoney(t, types.Units(10), first.Amount)
	assert.False(t, first.Settled)

	second, err := charge(t, s, key, base.Add(20*time.Minute))
	require.NoError(t, err)
	assert.True(t, first.EndTime.Equal(second.StartTime), "active window is extended")
	assert.True(t, base.Add(2*time.Hour).Equal(second.EndTime))

	late := base.Add(5 * time.Hour)
	third, err := charge(t, s, key, late)
	require.NoError(t, err)
	assert.True(t, late.Equal(third.StartTime), "expired window restarts now")

	latest, err := s.LatestDeposit(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, third.ID, latest.ID)
	assert.Equal(t, third.TransactionID, latest.TransactionID)
	assert.Equal(t, "dave", latest.UserID)

	other := escrow.NewDepositKey(key.Key, "erin")
	_, err = charge(t, s, other, base)
	require.NoError(t, err)

	assertMoney(t, types.Units(70), balanceOf(t, s, "dave"))
	assertMoney(t, types.Units(140), balanceOf(t, s, treasury))

	deposits, err := s.ListDeposits(ctx, escrow.ListOpts{Key: key.Key, UserID: "dave"})
	require.NoError(t, err)
	require.Len(t, deposits, 3)
	assert.Equal(t, first.ID, deposits[0].ID)
	assert.Equal(t, third.ID, deposits[2].ID)

	all, err := s.ListDeposits(ctx, escrow.ListOpts{Key: key.Key})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func testChargeUsesCurrentPrice(t *testing.T, s store.Store) {
	ctx := context.Background()
	key := escrow.NewDepositKey(issue.NewKey(id.NewIssueID(), 1), "dave")
	register(t, s, key.Key, types.Units(10))
	register(t, s, key.Key, types.Units(25))

	var seen types.Money
	d, err := s.Charge(ctx, policy, key, base, time.Hour, func(p *escrow.Project) (*transaction.Transaction, error) {
		seen = p.Price
		return transaction.New(key.UserID, treasury, p.Price, transaction.KindPayPerHour, base), nil
	})
	require.NoError(t, err)
	assertMoney(t, types.Units(25), seen)
	assertMoney(t, types.Units(25), d.Amount)
	assertMoney(t, types.Units(75), balanceOf(t, s, "dave"))

	_, err = s.Charge(ctx, policy, key, base, time.Hour, func(*escrow.Project) (*transaction.Transaction, error) {
		return nil, ledger.ErrInvalidAmount
	})
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
	deposits, err := s.ListDeposits(ctx, escrow.ListOpts{Key: key.Key})
	require.NoError(t, err)
	assert.Len(t, deposits, 1, "a failed build records no window")
}

func testChargeRejectsOverdraft(t *testing.T, s store.Store) {
	ctx := context.Background()
	key := escrow.NewDepositKey(issue.NewKey(id.NewIssueID(), 1), "dave")
	register(t, s, key.Key, types.Units(101))

	_, err := charge(t, s, key, base)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	_, err = s.LatestDeposit(ctx, key)
	assert.True(t, ledger.IsNotFound(err), "got %v", err)
	n, err := s.CountTransactions(ctx, transaction.ListOpts{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func payEvenly(at time.Time) escrow.SettleFunc {
	return func(p *escrow.Project, pending []*escrow.Deposit) ([]*transaction.Transaction, error) {
		if len(p.Distributions) == 0 {
			return nil, nil
		}
		amount := p.Price.Multiply(int64(len(pending)))
		shares := amount.Split(len(p.Distributions))
		out := make([]*transaction.Transaction, len(shares))
		for i, payee := range p.Distributions {
			out[i] = transaction.New(treasury, payee, shares[i], transaction.KindPayPerHour, at)
		}
		return out, nil
	}
}

func testSettle(t *testing.T, s store.Store) {
	ctx := context.Background()
	key := issue.NewKey(id.NewIssueID(), 1)

	_, err := s.Settle(ctx, policy, key, base, payEvenly(base))
	require.ErrorIs(t, err, ledger.ErrProjectNotRegistered)

	require.NoError(t, s.UpsertProject(ctx, &escrow.Project{
		Entity:        types.NewEntityAt(base),
		Key:           key,
		Price:         types.Units(10),
		Distributions: []string{"bob", "carol"},
	}))

	_, err = charge(t, s, escrow.NewDepositKey(key, "dave"), base)
	require.NoError(t, err)
	_, err = charge(t, s, escrow.NewDepositKey(key, "erin"), base.Add(30*time.Minute))
	require.NoError(t, err)

	// Only dave's window has expired.
	now := base.Add(time.Hour)
	pending, err := s.PendingDeposits(ctx, key, now)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "dave", pending[0].UserID)

	settled, err := s.Settle(ctx, policy, key, now, payEvenly(now))
	require.NoError(t, err)
	require.NotNil(t, settled)
	assert.Equal(t, 1, settled.Windows())
	assertMoney(t, types.Units(10), settled.Amount)
	assert.Len(t, settled.Transactions, 2)
	assertMoney(t, types.Units(105), balanceOf(t, s, "bob"))
	assertMoney(t, types.Units(105), balanceOf(t, s, "carol"))

	again, err := s.Settle(ctx, policy, key, now, payEvenly(now))
	require.NoError(t, err)
	assert.Nil(t, again)

	pending, err = s.PendingDeposits(ctx, key, now)
	require.NoError(t, err)
	assert.Empty(t, pending)

	deposits, err := s.ListDeposits(ctx, escrow.ListOpts{Key: key, UserID: "dave"})
	require.NoError(t, err)
	require.Len(t, deposits, 1)
	assert.True(t, deposits[0].Settled)
	assert.Equal(t, settled.ID, deposits[0].SettlementID)
	require.NotNil(t, deposits[0].SettledAt)
	assert.True(t, now.Equal(*deposits[0].SettledAt))

	later := base.Add(3 * time.Hour)
	settled, err = s.Settle(ctx, policy, key, later, payEvenly(later))
	require.NoError(t, err)
	require.NotNil(t, settled)
	assert.Equal(t, 1, settled.Windows())
	assertMoney(t, types.Units(110), balanceOf(t, s, "bob"))
}

func testSettleWithoutPayouts(t *testing.T, s store.Store) {
	ctx := context.Background()
	key := issue.NewKey(id.NewIssueID(), 1)

	require.NoError(t, s.UpsertProject(ctx, &escrow.Project{
		Entity: types.NewEntityAt(base),
		Key:    key,
		Price:  types.Units(10),
	}))
	_, err := charge(t, s, escrow.NewDepositKey(key, "dave"), base)
	require.NoError(t, err)

	now := base.Add(2 * time.Hour)
	settled, err := s.Settle(ctx, policy, key, now, payEvenly(now))
	require.NoError(t, err)
	assert.Nil(t, settled)

	pending, err := s.PendingDeposits(ctx, key, now)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
