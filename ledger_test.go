package ledger_test

import (
	"context"
	"math"
	"sync"
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
	"github.com/ara-foundation/ledger/store/memory"
	"github.com/ara-foundation/ledger/transaction"
	"github.com/ara-foundation/ledger/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLedger(t *testing.T, opts ...ledger.Option) (*ledger.Ledger, *fakeClock) {
	t.Helper()
	return newTestLedgerWithStore(t, memory.New(), opts...)
}

func newTestLedgerWithStore(t *testing.T, s store.Store, opts ...ledger.Option) (*ledger.Ledger, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	opts = append([]ledger.Option{ledger.WithClock(clock.Now)}, opts...)
	l := ledger.New(s, opts...)
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(func() { _ = l.Stop() })
	return l, clock
}

func assertBalance(t *testing.T, l *ledger.Ledger, account string, want types.Money) {
	t.Helper()
	got, err := l.Balance(context.Background(), account)
	require.NoError(t, err)
	assert.True(t, got.Equal(want), "%s: got %v, want %v", account, got, want)
}

func TestNewEntityAt(t *testing.T) {
	at := time.Date(2026, 3, 1, 13, 0, 0, 0, time.FixedZone("CET", 3600))
	e := ledger.NewEntityAt(at)
	assert.Equal(t, time.UTC, e.CreatedAt.Location())
	assert.True(t, at.Equal(e.CreatedAt))
	assert.True(t, e.CreatedAt.Equal(e.UpdatedAt))
}

// prodImplementation walks an issue through push, pass and prod.
func prodImplementation(t *testing.T, l *ledger.Ledger, issueID id.IssueID, price types.Money, payees ...string) (*issue.Implementation, *ledger.ProdResult) {
	t.Helper()
	ctx := context.Background()
	im, err := l.PushImplementation(ctx, issueID, ledger.PushParams{
		Source:        issue.Source{URL: "https://example.com/repo", TestBranch: "test"},
		Payment:       issue.Payment{Type: "perHour", Value: price},
		Distributions: payees,
	})
	require.NoError(t, err)
	_, err = l.PassImplementation(ctx, issueID, im.ID)
	require.NoError(t, err)
	result, err := l.Prod(ctx, issueID, im.ID, ledger.ProdParams{ProdBranch: "main", ProdCommit: "abc123"})
	require.NoError(t, err)
	return im, result
}

// ──────────────────────────────────────────────────
// Ledger
// ──────────────────────────────────────────────────

func TestTransfer(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	assertBalance(t, l, "alice", ledger.Units(100))

	txID, err := l.Transfer(ctx, "alice", "bob", ledger.Units(30), transaction.KindTransfer)
	require.NoError(t, err)
	assert.Equal(t, id.PrefixTransaction, txID.Prefix())

	assertBalance(t, l, "alice", ledger.Units(70))
	assertBalance(t, l, "bob", ledger.Units(130))

	txs, err := l.ListTransactions(ctx, transaction.ListOpts{Account: "alice"})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, txID, txs[0].ID)
	assert.Equal(t, transaction.KindTransfer, txs[0].Kind)
}

func TestTransferOverdraftRejected(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Transfer(ctx, "alice", "bob", ledger.Minor(10001), transaction.KindTransfer)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	n, err := l.CountTransactions(ctx, transaction.ListOpts{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assertBalance(t, l, "alice", ledger.Units(100))
	assertBalance(t, l, "bob", ledger.Units(100))
}

func TestTransferFromTreasuryUnchecked(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.Transfer(context.Background(), ledger.DefaultTreasury, "bob", ledger.Units(1000), transaction.KindTransfer)
	require.NoError(t, err)
	assertBalance(t, l, "bob", ledger.Units(1100))
	assertBalance(t, l, ledger.DefaultTreasury, ledger.Units(-900))
}

func TestTransferValidation(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		from   string
		to     string
		amount types.Money
		kind   transaction.Kind
		want   error
	}{
		{"Zero amount", "alice", "bob", ledger.Zero(), transaction.KindTransfer, ledger.ErrInvalidAmount},
		{"Negative amount", "alice", "bob", ledger.Units(-1), transaction.KindTransfer, ledger.ErrInvalidAmount},
		{"Missing sender", "", "bob", ledger.Units(1), transaction.KindTransfer, ledger.ErrInvalidInput},
		{"Self transfer", "alice", "alice", ledger.Units(1), transaction.KindTransfer, ledger.ErrInvalidInput},
		{"Unknown kind", "alice", "bob", ledger.Units(1), transaction.Kind("GIFT"), ledger.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Transfer(ctx, tt.from, tt.to, tt.amount, tt.kind)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBalanceMatchesReplay(t *testing.T) {
	l, _ := newTestLedger(t, ledger.WithStartingBalance(ledger.Units(50)))
	ctx := context.Background()

	moves := []struct {
		from, to string
		amount   int64
	}{
		{"alice", "bob", 20},
		{"bob", "carol", 70},
		{"carol", "alice", 110},
		{"alice", "dave", 500}, // rejected
		{"dave", "bob", 50},
		{"bob", "alice", 1},
	}
	for _, m := range moves {
		_, _ = l.Transfer(ctx, m.from, m.to, ledger.Units(m.amount), transaction.KindTransfer)
	}

	txs, err := l.ListTransactions(ctx, transaction.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, txs, len(moves)-1)

	replayed := map[string]types.Money{}
	for _, acc := range []string{"alice", "bob", "carol", "dave"} {
		replayed[acc] = ledger.Units(50)
	}
	for _, tx := range txs {
		replayed[tx.From] = replayed[tx.From].Subtract(tx.Amount)
		require.False(t, replayed[tx.From].IsNegative(), "negative balance after %s", tx.ID)
		replayed[tx.To] = replayed[tx.To].Add(tx.Amount)
	}
	for acc, want := range replayed {
		assertBalance(t, l, acc, want)
	}
}

func TestConcurrentTransfersNeverOverdraw(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Transfer(ctx, "alice", "bob", ledger.Units(15), transaction.KindTransfer); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 6, accepted)
	assertBalance(t, l, "alice", ledger.Units(10))
}

// ──────────────────────────────────────────────────
// Issues
// ──────────────────────────────────────────────────

func TestAddIssue(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	iss, err := l.AddIssue(ctx, ledger.NewIssue{
		Title:     "Dark mode",
		Document:  "Please add dark mode",
		Website:   "example.com",
		Author:    "alice",
		Incentive: ledger.Units(40),
	})
	require.NoError(t, err)
	assert.Equal(t, id.PrefixIssue, iss.ID.Prefix())
	require.Len(t, iss.Incentive, 1)
	assert.Equal(t, "alice", iss.Incentive[0].Account)

	assertBalance(t, l, "alice", ledger.Units(60))
	assertBalance(t, l, ledger.DefaultTreasury, ledger.Units(140))

	txs, err := l.ListTransactions(ctx, transaction.ListOpts{Kind: transaction.KindAdd})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, iss.Incentive[0].TransactionID, txs[0].ID)

	listed, err := l.ListIssues(ctx, issue.ListOpts{Websites: []string{"example.com"}})
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	listed, err = l.ListIssues(ctx, issue.ListOpts{Websites: []string{"other.com"}})
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestAddIssueValidation(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.AddIssue(ctx, ledger.NewIssue{Title: "t", Author: "alice"})
	assert.ErrorIs(t, err, ledger.ErrNoIncentiveProvided)

	_, err = l.AddIssue(ctx, ledger.NewIssue{Title: "t", Author: "alice", Incentive: ledger.Units(-5)})
	assert.ErrorIs(t, err, ledger.ErrNoIncentiveProvided)

	_, err = l.AddIssue(ctx, ledger.NewIssue{Author: "alice", Incentive: ledger.Units(5)})
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)

	_, err = l.AddIssue(ctx, ledger.NewIssue{Title: "t", Author: "alice", Incentive: ledger.Units(101)})
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	n, err := l.CountTransactions(ctx, transaction.ListOpts{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

// failingCreate rejects every issue write.
type failingCreate struct {
	store.Store
}

func (failingCreate) CreateIssue(context.Context, *issue.Issue) error {
	return ledger.ErrAlreadyExists
}

func TestAddIssueRefundsOnStoreFailure(t *testing.T) {
	l, _ := newTestLedgerWithStore(t, failingCreate{memory.New()})
	ctx := context.Background()

	_, err := l.AddIssue(ctx, ledger.NewIssue{Title: "t", Author: "alice", Incentive: ledger.Units(40)})
	require.ErrorIs(t, err, ledger.ErrAlreadyExists)

	assertBalance(t, l, "alice", ledger.Units(100))
	refunds, err := l.ListTransactions(ctx, transaction.ListOpts{Kind: transaction.KindTransfer})
	require.NoError(t, err)
	require.Len(t, refunds, 1)
	assert.Equal(t, ledger.DefaultTreasury, refunds[0].From)
	assert.Equal(t, "alice", refunds[0].To)
}

func TestLike(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	iss, err := l.AddIssue(ctx, ledger.NewIssue{Title: "t", Author: "alice", Incentive: ledger.Units(40)})
	require.NoError(t, err)

	liked, err := l.Like(ctx, iss.ID, "bob", ledger.Units(5))
	require.NoError(t, err)
	assert.True(t, liked.Reward().Equal(ledger.Units(45)))
	assert.True(t, liked.Pool()["bob"].Equal(ledger.Units(5)))
	assertBalance(t, l, "bob", ledger.Units(95))

	_, err = l.Like(ctx, iss.ID, "bob", ledger.Zero())
	assert.ErrorIs(t, err, ledger.ErrNoIncentiveProvided)

	_, err = l.Like(ctx, id.NewIssueID(), "bob", ledger.Units(5))
	assert.ErrorIs(t, err, ledger.ErrIssueNotFound)
	assertBalance(t, l, "bob", ledger.Units(95))
}

func TestUpdateIssue(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	iss, err := l.AddIssue(ctx, ledger.NewIssue{Title: "t", Author: "alice", Incentive: ledger.Units(1)})
	require.NoError(t, err)

	updated, err := l.UpdateIssue(ctx, iss.ID, ledger.IssueUpdate{Title: "t2", Document: "doc", Author: "alice2"})
	require.NoError(t, err)
	assert.Equal(t, "t2", updated.Title)
	assert.Equal(t, "alice2", updated.Author)
	assert.Greater(t, updated.Version, iss.Version)

	got, err := l.GetIssue(ctx, iss.ID)
	require.NoError(t, err)
	assert.Equal(t, "doc", got.Document)
}

func TestPushImplementationIDs(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	iss, err := l.AddIssue(ctx, ledger.NewIssue{Title: "t", Author: "alice", Incentive: ledger.Units(1)})
	require.NoError(t, err)

	for want := 1; want <= 3; want++ {
		im, err := l.PushImplementation(ctx, iss.ID, ledger.PushParams{Distributions: []string{"bob"}})
		require.NoError(t, err)
		assert.Equal(t, want, im.ID)
		assert.Equal(t, issue.PhaseTest, im.Phase)
	}

	_, err = l.PushImplementation(ctx, id.NewIssueID(), ledger.PushParams{})
	assert.ErrorIs(t, err, ledger.ErrIssueNotFound)
}

func TestConcurrentPushesGetDistinctIDs(t *testing.T) {
	l, _ := newTestLedger(t, ledger.WithMaxRetries(50))
	ctx := context.Background()

	iss, err := l.AddIssue(ctx, ledger.NewIssue{Title: "t", Author: "alice", Incentive: ledger.Units(1)})
	require.NoError(t, err)

	const pushes = 8
	var wg sync.WaitGroup
	ids := make(chan int, pushes)
	for range pushes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			im, err := l.PushImplementation(ctx, iss.ID, ledger.PushParams{})
			if assert.NoError(t, err) {
				ids <- im.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[int]bool{}
	for n := range ids {
		assert.False(t, seen[n], "duplicate implementation id %d", n)
		seen[n] = true
	}
	for n := 1; n <= pushes; n++ {
		assert.True(t, seen[n], "missing implementation id %d", n)
	}
}

func TestCommitImplementation(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	iss, err := l.AddIssue(ctx, ledger.NewIssue{Title: "t", Author: "alice", Incentive: ledger.Units(1)})
	require.NoError(t, err)
	im, err := l.PushImplementation(ctx, iss.ID, ledger.PushParams{
		Source:          issue.Source{URL: "repo", TestCommit: "c1"},
		Distributions:   []string{"bob"},
		TestConstructor: "ctor1",
	})
	require.NoError(t, err)

	committed, err := l.CommitImplementation(ctx, iss.ID, im.ID, ledger.CommitParams{
		TestCommit: "c2",
		Payment:    &issue.Payment{Type: "perHour", Value: ledger.Units(3)},
	})
	require.NoError(t, err)
	assert.Equal(t, "c2", committed.Source.TestCommit)
	assert.Equal(t, "repo", committed.Source.URL)
	assert.Equal(t, []string{"bob"}, committed.Distributions)
	assert.Equal(t, "ctor1", committed.TestConstructor)
	assert.True(t, committed.Payment.Value.Equal(ledger.Units(3)))

	_, err = l.CommitImplementation(ctx, iss.ID, 99, ledger.CommitParams{TestCommit: "c3"})
	assert.ErrorIs(t, err, ledger.ErrUnknownImplementation)
}

func TestPassImplementation(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	iss, err := l.AddIssue(ctx, ledger.NewIssue{Title: "t", Author: "alice", Incentive: ledger.Units(1)})
	require.NoError(t, err)
	im, err := l.PushImplementation(ctx, iss.ID, ledger.PushParams{})
	require.NoError(t, err)

	passed, err := l.PassImplementation(ctx, iss.ID, im.ID)
	require.NoError(t, err)
	assert.Equal(t, issue.PhaseProd, passed.Phase)
	require.NotNil(t, passed.PromotedAt)

	before, err := l.GetIssue(ctx, iss.ID)
	require.NoError(t, err)

	again, err := l.PassImplementation(ctx, iss.ID, im.ID)
	require.NoError(t, err)
	assert.Equal(t, issue.PhaseProd, again.Phase)
	assert.Equal(t, passed.PromotedAt, again.PromotedAt)

	after, err := l.GetIssue(ctx, iss.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)

	_, err = l.PassImplementation(ctx, iss.ID, 42)
	assert.ErrorIs(t, err, ledger.ErrUnknownImplementation)
}

func TestProdRequiresProductionPhase(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	iss, err := l.AddIssue(ctx, ledger.NewIssue{Title: "t", Author: "alice", Incentive: ledger.Units(40)})
	require.NoError(t, err)
	im, err := l.PushImplementation(ctx, iss.ID, ledger.PushParams{Distributions: []string{"bob"}})
	require.NoError(t, err)

	_, err = l.Prod(ctx, iss.ID, im.ID, ledger.ProdParams{})
	assert.ErrorIs(t, err, ledger.ErrNotInProductionPhase)

	_, err = l.DistributeOnProd(ctx, iss.ID, im.ID)
	assert.ErrorIs(t, err, ledger.ErrNotInProductionPhase)

	_, err = l.Prod(ctx, iss.ID, 7, ledger.ProdParams{})
	assert.ErrorIs(t, err, ledger.ErrUnknownImplementation)

	assertBalance(t, l, "bob", ledger.Units(100))
}

// ──────────────────────────────────────────────────
// Reward distribution
// ──────────────────────────────────────────────────

func TestProdDistributesReward(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	iss, err := l.AddIssue(ctx, ledger.NewIssue{Title: "t", Author: "alice", Incentive: ledger.Units(40)})
	require.NoError(t, err)
	assertBalance(t, l, "alice", ledger.Units(60))

	im, result := prodImplementation(t, l, iss.ID, ledger.Zero(), "bob", "carol")
	require.NotNil(t, result.Reward)
	assert.Nil(t, result.Project)
	assert.True(t, result.Reward.Amount.Equal(ledger.Units(40)))
	assert.Equal(t, "main", result.Implementation.Source.ProdBranch)

	assertBalance(t, l, "bob", ledger.Units(120))
	assertBalance(t, l, "carol", ledger.Units(120))

	// A second production run pays nothing.
	again, err := l.Prod(ctx, iss.ID, im.ID, ledger.ProdParams{})
	require.NoError(t, err)
	assert.Nil(t, again.Reward)

	r, err := l.DistributeOnProd(ctx, iss.ID, im.ID)
	require.NoError(t, err)
	assert.Nil(t, r)

	assertBalance(t, l, "bob", ledger.Units(120))
	assertBalance(t, l, "carol", ledger.Units(120))

	prods, err := l.CountTransactions(ctx, transaction.ListOpts{Kind: transaction.KindProd})
	require.NoError(t, err)
	assert.EqualValues(t, 2, prods)

	marker, err := l.GetReward(ctx, issue.NewKey(iss.ID, im.ID))
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "carol"}, marker.Payees)
	assert.Len(t, marker.TransactionIDs, 2)
}

func TestDistributeRemainderToLastPayee(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	iss, err := l.AddIssue(ctx, ledger.NewIssue{Title: "t", Author: "alice", Incentive: ledger.Units(10)})
	require.NoError(t, err)
	prodImplementation(t, l, iss.ID, ledger.Zero(), "bob", "carol", "dave")

	assertBalance(t, l, "bob", ledger.Minor(10333))
	assertBalance(t, l, "carol", ledger.Minor(10333))
	assertBalance(t, l, "dave", ledger.Minor(10334))
}

func TestDistributeNoPayeesIsNoop(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	iss, err := l.AddIssue(ctx, ledger.NewIssue{Title: "t", Author: "alice", Incentive: ledger.Units(10)})
	require.NoError(t, err)
	im, result := prodImplementation(t, l, iss.ID, ledger.Zero())
	assert.Nil(t, result.Reward)

	_, err = l.GetReward(ctx, issue.NewKey(iss.ID, im.ID))
	assert.True(t, ledger.IsNotFound(err))
}

func TestConcurrentDistributePaysOnce(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	iss, err := l.AddIssue(ctx, ledger.NewIssue{Title: "t", Author: "alice", Incentive: ledger.Units(40)})
	require.NoError(t, err)
	im, err := l.PushImplementation(ctx, iss.ID, ledger.PushParams{Distributions: []string{"bob"}})
	require.NoError(t, err)
	_, err = l.PassImplementation(ctx, iss.ID, im.ID)
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		paid []*reward.Reward
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := l.DistributeOnProd(ctx, iss.ID, im.ID)
			if assert.NoError(t, err) && r != nil {
				mu.Lock()
				paid = append(paid, r)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, paid, 1)
	assertBalance(t, l, "bob", ledger.Units(140))
}

// ──────────────────────────────────────────────────
// Metering escrow
// ──────────────────────────────────────────────────

func registeredProject(t *testing.T, l *ledger.Ledger, price types.Money, payees ...string) issue.Key {
	t.Helper()
	key := issue.NewKey(id.NewIssueID(), 1)
	_, err := l.RegisterProject(context.Background(), key, price, payees)
	require.NoError(t, err)
	return key
}

func TestProdRegistersBillableProject(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	iss, err := l.AddIssue(ctx, ledger.NewIssue{Title: "t", Author: "alice", Incentive: ledger.Units(2)})
	require.NoError(t, err)
	im, result := prodImplementation(t, l, iss.ID, ledger.Units(10), "bob")
	require.NotNil(t, result.Project)
	assert.True(t, result.Project.Price.Equal(ledger.Units(10)))
	assert.Equal(t, []string{"bob"}, result.Project.Distributions)

	p, err := l.GetProject(ctx, issue.NewKey(iss.ID, im.ID))
	require.NoError(t, err)
	assert.Equal(t, result.Project.Key, p.Key)

	// Prod again keeps a single registration with the same terms.
	_, err = l.Prod(ctx, iss.ID, im.ID, ledger.ProdParams{})
	require.NoError(t, err)
	projects, err := l.Projects(ctx)
	require.NoError(t, err)
	assert.Len(t, projects, 1)
}

func TestProdKeepsLaterRegistration(t *testing.T) {
	rec := &recordingPlugin{}
	l, _ := newTestLedger(t, ledger.WithPlugin(rec))
	ctx := context.Background()

	iss, err := l.AddIssue(ctx, ledger.NewIssue{Title: "t", Author: "alice", Incentive: ledger.Units(2)})
	require.NoError(t, err)
	im, _ := prodImplementation(t, l, iss.ID, ledger.Units(10), "bob")
	key := issue.NewKey(iss.ID, im.ID)

	_, err = l.RegisterProject(ctx, key, ledger.Units(25), []string{"carol"})
	require.NoError(t, err)

	result, err := l.Prod(ctx, iss.ID, im.ID, ledger.ProdParams{ProdCommit: "def456"})
	require.NoError(t, err)
	require.NotNil(t, result.Project)
	assert.True(t, result.Project.Price.Equal(ledger.Units(25)))
	assert.Nil(t, result.Reward, "the reward is paid once")

	p, err := l.GetProject(ctx, key)
	require.NoError(t, err)
	assert.True(t, p.Price.Equal(ledger.Units(25)))
	assert.Equal(t, []string{"carol"}, p.Distributions)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	var registrations int
	for _, ev := range rec.events {
		if ev == "project" {
			registrations++
		}
	}
	assert.Equal(t, 2, registrations, "one from the first Prod, one from RegisterProject")
}

func TestAccessGateChargesOncePerWindow(t *testing.T) {
	l, clock := newTestLedger(t)
	ctx := context.Background()
	key := registeredProject(t, l, ledger.Units(10), "bob", "carol")

	var charges int
	for range 3 {
		_, charged, err := l.Access(ctx, key, "dave")
		require.NoError(t, err)
		if charged {
			charges++
		}
		clock.Advance(10 * time.Minute)
	}
	assert.Equal(t, 1, charges)
	assertBalance(t, l, "dave", ledger.Units(90))

	ok, err := l.IsSubscribed(ctx, key, "dave")
	require.NoError(t, err)
	assert.True(t, ok)

	clock.Advance(31 * time.Minute)
	ok, err = l.IsSubscribed(ctx, key, "dave")
	require.NoError(t, err)
	assert.False(t, ok)

	_, charged, err := l.Access(ctx, key, "dave")
	require.NoError(t, err)
	assert.True(t, charged)
	assertBalance(t, l, "dave", ledger.Units(80))
}

func TestChargeAccessWindows(t *testing.T) {
	l, clock := newTestLedger(t)
	ctx := context.Background()
	key := registeredProject(t, l, ledger.Units(10), "bob")

	start := clock.Now()
	first, err := l.ChargeAccess(ctx, key, "dave")
	require.NoError(t, err)
	assert.Equal(t, start, first.StartTime)
	assert.Equal(t, start.Add(time.Hour), first.EndTime)

	// Active window is extended from its end.
	clock.Advance(20 * time.Minute)
	second, err := l.ChargeAccess(ctx, key, "dave")
	require.NoError(t, err)
	assert.Equal(t, first.EndTime, second.StartTime)
	assert.Equal(t, first.EndTime.Add(time.Hour), second.EndTime)

	// Expired window restarts at now.
	clock.Advance(3 * time.Hour)
	third, err := l.ChargeAccess(ctx, key, "dave")
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), third.StartTime)
	assert.Equal(t, clock.Now().Add(time.Hour), third.EndTime)

	assertBalance(t, l, "dave", ledger.Units(70))

	deposits, err := l.Deposits(ctx, escrow.ListOpts{Key: key, UserID: "dave"})
	require.NoError(t, err)
	assert.Len(t, deposits, 3)
}

func TestChargeAccessErrors(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.ChargeAccess(ctx, issue.NewKey(id.NewIssueID(), 1), "dave")
	assert.ErrorIs(t, err, ledger.ErrProjectNotRegistered)

	key := registeredProject(t, l, ledger.Units(60), "bob")
	_, err = l.ChargeAccess(ctx, key, "dave")
	require.NoError(t, err)
	_, err = l.ChargeAccess(ctx, key, "dave")
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	assertBalance(t, l, "dave", ledger.Units(40))
	deposits, err := l.Deposits(ctx, escrow.ListOpts{Key: key})
	require.NoError(t, err)
	assert.Len(t, deposits, 1)
}

func TestChargeAccessUsesCurrentPrice(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	key := registeredProject(t, l, ledger.Units(10), "bob")

	_, err := l.RegisterProject(ctx, key, ledger.Units(15), []string{"bob"})
	require.NoError(t, err)
	d, err := l.ChargeAccess(ctx, key, "dave")
	require.NoError(t, err)
	assert.True(t, d.Amount.Equal(ledger.Units(15)))
	assertBalance(t, l, "dave", ledger.Units(85))
}

func TestChargeAccessRejectsNonPositivePrice(t *testing.T) {
	s := memory.New()
	l, _ := newTestLedgerWithStore(t, s)
	ctx := context.Background()
	key := issue.NewKey(id.NewIssueID(), 1)

	// A zero price can only reach the store directly.
	require.NoError(t, s.UpsertProject(ctx, &escrow.Project{Key: key, Price: ledger.Zero(), Distributions: []string{"bob"}}))

	_, err := l.ChargeAccess(ctx, key, "dave")
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
	_, charged, err := l.Access(ctx, key, "dave")
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
	assert.False(t, charged)

	n, err := l.CountTransactions(ctx, transaction.ListOpts{})
	require.NoError(t, err)
	assert.Zero(t, n)
	ok, err := l.IsSubscribed(ctx, key, "dave")
	require.NoError(t, err)
	assert.False(t, ok, "no free window is granted")
}

func TestWithdrawal(t *testing.T) {
	l, clock := newTestLedger(t)
	ctx := context.Background()
	key := registeredProject(t, l, ledger.Units(10), "bob", "carol")

	_, err := l.ChargeAccess(ctx, key, "dave")
	require.NoError(t, err)
	_, err = l.ChargeAccess(ctx, key, "erin")
	require.NoError(t, err)

	amount, err := l.WithdrawableAmount(ctx, key)
	require.NoError(t, err)
	assert.True(t, amount.IsZero(), "active windows are not withdrawable")

	clock.Advance(time.Hour)
	amount, err = l.WithdrawableAmount(ctx, key)
	require.NoError(t, err)
	assert.True(t, amount.Equal(ledger.Units(20)))

	s, err := l.SettleWithdrawal(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Windows())
	assert.True(t, s.Amount.Equal(ledger.Units(20)))
	assertBalance(t, l, "bob", ledger.Units(110))
	assertBalance(t, l, "carol", ledger.Units(110))

	amount, err = l.WithdrawableAmount(ctx, key)
	require.NoError(t, err)
	assert.True(t, amount.IsZero())

	again, err := l.SettleWithdrawal(ctx, key)
	require.NoError(t, err)
	assert.Zero(t, again.Windows())
	assertBalance(t, l, "bob", ledger.Units(110))

	deposits, err := l.Deposits(ctx, escrow.ListOpts{Key: key})
	require.NoError(t, err)
	for _, d := range deposits {
		assert.True(t, d.Settled)
		assert.Equal(t, s.ID, d.SettlementID)
	}
}

func TestWithdrawalEdgeCases(t *testing.T) {
	l, clock := newTestLedger(t)
	ctx := context.Background()

	unregistered := issue.NewKey(id.NewIssueID(), 1)
	amount, err := l.WithdrawableAmount(ctx, unregistered)
	require.NoError(t, err)
	assert.True(t, amount.IsZero())

	_, err = l.SettleWithdrawal(ctx, unregistered)
	assert.ErrorIs(t, err, ledger.ErrProjectNotRegistered)

	// Registered without payees: windows stay unsettled.
	key := issue.NewKey(id.NewIssueID(), 1)
	_, err = l.RegisterProject(ctx, key, ledger.Units(5), nil)
	require.NoError(t, err)
	_, err = l.ChargeAccess(ctx, key, "dave")
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)

	s, err := l.SettleWithdrawal(ctx, key)
	require.NoError(t, err)
	assert.Zero(t, s.Windows())

	amount, err = l.WithdrawableAmount(ctx, key)
	require.NoError(t, err)
	assert.True(t, amount.Equal(ledger.Units(5)))
}

func TestRegisterProjectReplaces(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	key := issue.NewKey(id.NewIssueID(), 2)

	_, err := l.RegisterProject(ctx, key, ledger.Units(5), []string{"bob"})
	require.NoError(t, err)
	_, err = l.RegisterProject(ctx, key, ledger.Units(7), []string{"carol", "dave"})
	require.NoError(t, err)

	p, err := l.GetProject(ctx, key)
	require.NoError(t, err)
	assert.True(t, p.Price.Equal(ledger.Units(7)))
	assert.Equal(t, []string{"carol", "dave"}, p.Distributions)

	projects, err := l.Projects(ctx)
	require.NoError(t, err)
	assert.Len(t, projects, 1)

	_, err = l.RegisterProject(ctx, key, ledger.Units(-1), nil)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	_, err = l.RegisterProject(ctx, key, ledger.Zero(), nil)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	p, err = l.GetProject(ctx, key)
	require.NoError(t, err)
	assert.True(t, p.Price.Equal(ledger.Units(7)), "rejected terms leave the registration alone")
}

func TestTransferRejectsOverflow(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Transfer(ctx, ledger.DefaultTreasury, "bob", ledger.Minor(math.MaxInt64), transaction.KindTransfer)
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
	assertBalance(t, l, "bob", ledger.Units(100))

	got, err := l.Balance(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, got.IsNegative())
}

func TestWithdrawableAmountOverflow(t *testing.T) {
	l, clock := newTestLedger(t)
	ctx := context.Background()
	key := registeredProject(t, l, ledger.Minor(math.MaxInt64/2+1), "bob")

	// The treasury funds both users so each can afford one window.
	for _, user := range []string{"dave", "erin"} {
		_, err := l.Transfer(ctx, ledger.DefaultTreasury, user, ledger.Minor(math.MaxInt64/2), transaction.KindTransfer)
		require.NoError(t, err)
		_, err = l.ChargeAccess(ctx, key, user)
		require.NoError(t, err)
	}
	clock.Advance(2 * time.Hour)

	_, err := l.WithdrawableAmount(ctx, key)
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
	_, err = l.SettleWithdrawal(ctx, key)
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)

	pending, err := l.Store().PendingDeposits(ctx, key, clock.Now())
	require.NoError(t, err)
	assert.Len(t, pending, 2, "windows stay unsettled")
}

func TestSettleAll(t *testing.T) {
	l, clock := newTestLedger(t)
	ctx := context.Background()
	a := registeredProject(t, l, ledger.Units(10), "bob")
	b := registeredProject(t, l, ledger.Units(4), "carol")

	_, err := l.ChargeAccess(ctx, a, "dave")
	require.NoError(t, err)
	_, err = l.ChargeAccess(ctx, b, "dave")
	require.NoError(t, err)
	clock.Advance(time.Hour)

	settled, err := l.SettleAll(ctx)
	require.NoError(t, err)
	assert.Len(t, settled, 2)
	assertBalance(t, l, "bob", ledger.Units(110))
	assertBalance(t, l, "carol", ledger.Units(104))
}

func TestBackgroundSettlement(t *testing.T) {
	l, clock := newTestLedger(t, ledger.WithSettleInterval(10*time.Millisecond))
	ctx := context.Background()
	key := registeredProject(t, l, ledger.Units(10), "bob")

	_, err := l.ChargeAccess(ctx, key, "dave")
	require.NoError(t, err)
	clock.Advance(time.Hour)

	require.Eventually(t, func() bool {
		amount, err := l.WithdrawableAmount(ctx, key)
		return err == nil && amount.IsZero()
	}, 2*time.Second, 10*time.Millisecond)
	assertBalance(t, l, "bob", ledger.Units(110))
}

// ──────────────────────────────────────────────────
// Retries and hooks
// ──────────────────────────────────────────────────

// flakyAppend fails the first n appends with a version conflict.
type flakyAppend struct {
	store.Store
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyAppend) Append(ctx context.Context, p transaction.Policy, txs ...*transaction.Transaction) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return ledger.ErrConcurrentModification
	}
	return f.Store.Append(ctx, p, txs...)
}

func TestRetryOnConcurrentModification(t *testing.T) {
	flaky := &flakyAppend{Store: memory.New(), failures: 2}
	l, _ := newTestLedgerWithStore(t, flaky)

	_, err := l.Transfer(context.Background(), "alice", "bob", ledger.Units(1), transaction.KindTransfer)
	require.NoError(t, err)
	assert.Equal(t, 3, flaky.calls)
	assertBalance(t, l, "bob", ledger.Units(101))
}

func TestRetryGivesUp(t *testing.T) {
	flaky := &flakyAppend{Store: memory.New(), failures: 100}
	l, _ := newTestLedgerWithStore(t, flaky, ledger.WithMaxRetries(3))

	_, err := l.Transfer(context.Background(), "alice", "bob", ledger.Units(1), transaction.KindTransfer)
	require.ErrorIs(t, err, ledger.ErrConcurrentModification)
	assert.Equal(t, 3, flaky.calls)
}

type recordingPlugin struct {
	mu       sync.Mutex
	events   []string
	rejected []error
}

func (p *recordingPlugin) Name() string { return "recorder" }

func (p *recordingPlugin) record(event string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPlugin) OnTransfer(_ context.Context, tx *transaction.Transaction) error {
	p.record("transfer:" + string(tx.Kind))
	return nil
}

func (p *recordingPlugin) OnTransferRejected(_ context.Context, _ *transaction.Transaction, reason error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejected = append(p.rejected, reason)
	return nil
}

func (p *recordingPlugin) OnIssueCreated(context.Context, *issue.Issue) error {
	p.record("issue")
	return nil
}

func (p *recordingPlugin) OnAccessCharged(context.Context, *escrow.Deposit) error {
	p.record("access")
	return nil
}

func (p *recordingPlugin) OnProjectRegistered(context.Context, *escrow.Project) error {
	p.record("project")
	return nil
}

func TestPluginHooks(t *testing.T) {
	rec := &recordingPlugin{}
	l, _ := newTestLedger(t, ledger.WithPlugin(rec))
	ctx := context.Background()

	_, err := l.AddIssue(ctx, ledger.NewIssue{Title: "t", Author: "alice", Incentive: ledger.Units(5)})
	require.NoError(t, err)

	key := registeredProject(t, l, ledger.Units(1), "bob")
	_, err = l.ChargeAccess(ctx, key, "dave")
	require.NoError(t, err)

	_, err = l.Transfer(ctx, "carol", "bob", ledger.Units(500), transaction.KindTransfer)
	require.Error(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"transfer:ADD", "issue", "project", "transfer:PAY_PER_HOUR", "access"}, rec.events)
	require.Len(t, rec.rejected, 1)
	assert.ErrorIs(t, rec.rejected[0], ledger.ErrInsufficientBalance)
}
