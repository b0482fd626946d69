package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ara-foundation/ledger"
	"github.com/ara-foundation/ledger/escrow"
	"github.com/ara-foundation/ledger/id"
	"github.com/ara-foundation/ledger/issue"
	"github.com/ara-foundation/ledger/reward"
	"github.com/ara-foundation/ledger/store"
	"github.com/ara-foundation/ledger/transaction"
	"github.com/ara-foundation/ledger/types"
)

var _ store.Store = (*Store)(nil)

// Store keeps everything in process memory. A single mutex serializes every
// unit of work, so each balance check and its write are atomic.
type Store struct {
	mu     sync.RWMutex
	closed bool

	// Ledger storage
	transactions []*transaction.Transaction
	balances     map[string]*transaction.Balance

	// Issue storage
	issues map[string]*issue.Issue

	// Reward markers keyed by issue.Key.String()
	rewards map[string]*reward.Reward

	// Escrow storage
	projects map[string]*escrow.Project
	deposits []*escrow.Deposit
}

func New() *Store {
	return &Store{
		transactions: make([]*transaction.Transaction, 0),
		balances:     make(map[string]*transaction.Balance),
		issues:       make(map[string]*issue.Issue),
		rewards:      make(map[string]*reward.Reward),
		projects:     make(map[string]*escrow.Project),
		deposits:     make([]*escrow.Deposit, 0),
	}
}

// ──────────────────────────────────────────────────
// Transaction Store implementation
// ──────────────────────────────────────────────────

func (s *Store) Append(_ context.Context, p transaction.Policy, txs ...*transaction.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ledger.ErrStoreClosed
	}
	return s.post(p, txs)
}

func (s *Store) Balance(_ context.Context, p transaction.Policy, account string) (*transaction.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ledger.ErrStoreClosed
	}
	if b, ok := s.balances[account]; ok {
		out := *b
		return &out, nil
	}
	return &transaction.Balance{Account: account, Amount: p.StartingBalance}, nil
}

func (s *Store) ListTransactions(_ context.Context, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ledger.ErrStoreClosed
	}
	result := make([]*transaction.Transaction, 0)
	for _, tx := range s.transactions {
		if opts.Matches(tx) {
			c := *tx
			result = append(result, &c)
		}
	}
	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) CountTransactions(_ context.Context, opts transaction.ListOpts) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ledger.ErrStoreClosed
	}
	var n int64
	for _, tx := range s.transactions {
		if opts.Matches(tx) {
			n++
		}
	}
	return n, nil
}

// post checks and applies txs. Callers hold the write lock.
func (s *Store) post(p transaction.Policy, txs []*transaction.Transaction) error {
	balances := make(map[string]types.Money)
	for _, acc := range transaction.Accounts(txs...) {
		if b, ok := s.balances[acc]; ok {
			balances[acc] = b.Amount
		} else {
			balances[acc] = p.StartingBalance
		}
	}

	if rejected := transaction.Post(p, balances, txs...); rejected != nil {
		return ledger.RejectionError(rejected)
	}

	now := time.Now().UTC()
	for acc, amount := range balances {
		s.balances[acc] = &transaction.Balance{Account: acc, Amount: amount, UpdatedAt: now}
	}
	for _, tx := range txs {
		c := *tx
		s.transactions = append(s.transactions, &c)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Issue Store implementation
// ──────────────────────────────────────────────────

func (s *Store) CreateIssue(_ context.Context, i *issue.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.issues[i.ID.String()]; exists {
		return ledger.ErrAlreadyExists
	}
	i.Version = 1
	s.issues[i.ID.String()] = i.Clone()
	return nil
}

func (s *Store) GetIssue(_ context.Context, issueID id.IssueID) (*issue.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i, ok := s.issues[issueID.String()]; ok {
		return i.Clone(), nil
	}
	return nil, ledger.ErrIssueNotFound
}

func (s *Store) UpdateIssue(_ context.Context, i *issue.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.issues[i.ID.String()]
	if !ok {
		return ledger.ErrIssueNotFound
	}
	if existing.Version != i.Version {
		return ledger.ErrConcurrentModification
	}
	i.Version++
	s.issues[i.ID.String()] = i.Clone()
	return nil
}

func (s *Store) ListIssues(_ context.Context, opts issue.ListOpts) ([]*issue.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ledger.ErrStoreClosed
	}
	result := make([]*issue.Issue, 0)
	for _, i := range s.issues {
		if opts.Matches(i) {
			result = append(result, i.Clone())
		}
	}
	sort.Slice(result, func(a, b int) bool {
		return result[a].ID.String() < result[b].ID.String()
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// Reward Store implementation
// ──────────────────────────────────────────────────

func (s *Store) Distribute(_ context.Context, p transaction.Policy, r *reward.Reward, payouts []*transaction.Transaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ledger.ErrStoreClosed
	}
	if _, exists := s.rewards[r.Key.String()]; exists {
		return false, nil
	}
	if err := s.post(p, payouts); err != nil {
		return false, err
	}
	c := *r
	s.rewards[r.Key.String()] = &c
	return true, nil
}

func (s *Store) GetReward(_ context.Context, key issue.Key) (*reward.Reward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.rewards[key.String()]; ok {
		c := *r
		return &c, nil
	}
	return nil, ledger.ErrNotFound
}

// ──────────────────────────────────────────────────
// Escrow Store implementation
// ──────────────────────────────────────────────────

func (s *Store) UpsertProject(_ context.Context, p *escrow.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.projects[p.Key.String()]; ok {
		p.CreatedAt = existing.CreatedAt
	}
	c := *p
	c.Distributions = append([]string(nil), p.Distributions...)
	s.projects[p.Key.String()] = &c
	return nil
}

func (s *Store) GetProject(_ context.Context, key issue.Key) (*escrow.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.projects[key.String()]; ok {
		c := *p
		return &c, nil
	}
	return nil, ledger.ErrProjectNotRegistered
}

func (s *Store) ListProjects(_ context.Context) ([]*escrow.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ledger.ErrStoreClosed
	}
	result := make([]*escrow.Project, 0, len(s.projects))
	for _, p := range s.projects {
		c := *p
		result = append(result, &c)
	}
	sort.Slice(result, func(a, b int) bool {
		return result[a].Key.String() < result[b].Key.String()
	})
	return result, nil
}

func (s *Store) Charge(_ context.Context, p transaction.Policy, key escrow.DepositKey, now time.Time, window time.Duration, build escrow.ChargeFunc) (*escrow.Deposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ledger.ErrStoreClosed
	}

	proj, ok := s.projects[key.Key.String()]
	if !ok {
		return nil, ledger.ErrProjectNotRegistered
	}
	projCopy := *proj
	charge, err := build(&projCopy)
	if err != nil {
		return nil, err
	}

	var latestEnd time.Time
	for _, d := range s.deposits {
		if d.DepositKey.String() == key.String() && d.EndTime.After(latestEnd) {
			latestEnd = d.EndTime
		}
	}
	start, end := escrow.NextWindow(latestEnd, now, window)

	if err := s.post(p, []*transaction.Transaction{charge}); err != nil {
		return nil, err
	}

	d := escrow.NewDeposit(key, charge, start, end)
	c := *d
	s.deposits = append(s.deposits, &c)
	return d, nil
}

func (s *Store) LatestDeposit(_ context.Context, key escrow.DepositKey) (*escrow.Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *escrow.Deposit
	for _, d := range s.deposits {
		if d.DepositKey.String() == key.String() && (latest == nil || d.EndTime.After(latest.EndTime)) {
			latest = d
		}
	}
	if latest == nil {
		return nil, ledger.ErrNotFound
	}
	return copyDeposit(latest), nil
}

func (s *Store) ListDeposits(_ context.Context, opts escrow.ListOpts) ([]*escrow.Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ledger.ErrStoreClosed
	}
	result := make([]*escrow.Deposit, 0)
	for _, d := range s.deposits {
		if d.Key.String() != opts.Key.String() {
			continue
		}
		if opts.UserID != "" && d.UserID != opts.UserID {
			continue
		}
		result = append(result, copyDeposit(d))
	}
	sortByStart(result)
	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) PendingDeposits(_ context.Context, key issue.Key, now time.Time) ([]*escrow.Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.pending(key, now), nil
}

func (s *Store) Settle(_ context.Context, p transaction.Policy, key issue.Key, now time.Time, build escrow.SettleFunc) (*escrow.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ledger.ErrStoreClosed
	}

	proj, ok := s.projects[key.String()]
	if !ok {
		return nil, ledger.ErrProjectNotRegistered
	}
	pending := s.pending(key, now)
	if len(pending) == 0 {
		return nil, nil
	}

	projCopy := *proj
	payouts, err := build(&projCopy, pending)
	if err != nil {
		return nil, err
	}
	if len(payouts) == 0 {
		return nil, nil
	}
	if err := s.post(p, payouts); err != nil {
		return nil, err
	}

	settlement := escrow.NewSettlement(key, pending, payouts, now)
	claimed := make(map[string]bool, len(pending))
	for _, d := range pending {
		claimed[d.ID.String()] = true
	}
	originals := make([]*escrow.Deposit, 0, len(pending))
	for _, d := range s.deposits {
		if claimed[d.ID.String()] {
			originals = append(originals, d)
		}
	}
	settlement.MarkSettled(originals)
	return settlement, nil
}

// pending returns copies of the expired unsettled windows of key.
func (s *Store) pending(key issue.Key, now time.Time) []*escrow.Deposit {
	result := make([]*escrow.Deposit, 0)
	for _, d := range s.deposits {
		if d.Key.String() == key.String() && d.Withdrawable(now) {
			result = append(result, copyDeposit(d))
		}
	}
	sortByStart(result)
	return result
}

// ──────────────────────────────────────────────────
// Store management
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ledger.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// Helper functions

func copyDeposit(d *escrow.Deposit) *escrow.Deposit {
	c := *d
	if d.SettledAt != nil {
		at := *d.SettledAt
		c.SettledAt = &at
	}
	return &c
}

func sortByStart(ds []*escrow.Deposit) {
	sort.SliceStable(ds, func(a, b int) bool {
		return ds[a].StartTime.Before(ds[b].StartTime)
	})
}

func paginate[T any](items []T, offset, limit int) []T {
	start := offset
	if start > len(items) {
		start = len(items)
	}
	end := start + limit
	if limit == 0 || end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
