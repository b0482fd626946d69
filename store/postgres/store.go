package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ara-foundation/ledger"
	"github.com/ara-foundation/ledger/escrow"
	"github.com/ara-foundation/ledger/id"
	"github.com/ara-foundation/ledger/issue"
	"github.com/ara-foundation/ledger/reward"
	ledgerstore "github.com/ara-foundation/ledger/store"
	"github.com/ara-foundation/ledger/transaction"
	"github.com/ara-foundation/ledger/types"
)

// compile-time interface check
var _ ledgerstore.Store = (*Store)(nil)

// Store implements store.Store on PostgreSQL through a pgx pool. Each unit
// of work is one database transaction that locks the balance rows it
// touches in sorted order, so transfers between disjoint accounts run in
// parallel.
type Store struct {
	pool *pgxpool.Pool
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Open connects a pool to the database at dsn.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger/postgres: connect: %w", err)
	}
	return New(pool), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying pool for direct access.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes every pooled connection.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// unit runs fn in one database transaction.
func (s *Store) unit(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return mapError(pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn))
}

// ==================== Transaction Store ====================

func (s *Store) Append(ctx context.Context, p transaction.Policy, txs ...*transaction.Transaction) error {
	return s.unit(ctx, func(tx pgx.Tx) error {
		return post(ctx, tx, p, txs)
	})
}

func (s *Store) Balance(ctx context.Context, p transaction.Policy, account string) (*transaction.Balance, error) {
	var (
		amount  int64
		updated time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT balance, updated_at FROM ledger_balances WHERE account = $1`, account,
	).Scan(&amount, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return &transaction.Balance{Account: account, Amount: p.StartingBalance}, nil
	}
	if err != nil {
		return nil, mapError(err)
	}
	return &transaction.Balance{Account: account, Amount: types.Minor(amount), UpdatedAt: updated.UTC()}, nil
}

func (s *Store) ListTransactions(ctx context.Context, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	where, args := transactionFilter(opts)
	rows, err := s.pool.Query(ctx, `SELECT `+transactionColumns+` FROM ledger_transactions`+
		where+` ORDER BY seq ASC`+limitOffset(opts.Limit, opts.Offset), args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := make([]*transaction.Transaction, 0)
	for rows.Next() {
		var m transactionModel
		if err := m.scan(rows); err != nil {
			return nil, err
		}
		tx, err := fromTransactionModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

func (s *Store) CountTransactions(ctx context.Context, opts transaction.ListOpts) (int64, error) {
	where, args := transactionFilter(opts)
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_transactions`+where, args...).Scan(&n)
	return n, mapError(err)
}

// post locks the balance rows of every touched account in sorted order,
// checks txs against them and writes the transactions with the new
// balances.
func post(ctx context.Context, q querier, p transaction.Policy, txs []*transaction.Transaction) error {
	balances := make(map[string]types.Money)
	for _, acc := range transaction.Accounts(txs...) {
		if _, err := q.Exec(ctx, `
			INSERT INTO ledger_balances (account, balance) VALUES ($1, $2)
			ON CONFLICT (account) DO NOTHING
		`, acc, p.StartingBalance.Amount); err != nil {
			return err
		}
		var amount int64
		if err := q.QueryRow(ctx,
			`SELECT balance FROM ledger_balances WHERE account = $1 FOR UPDATE`, acc,
		).Scan(&amount); err != nil {
			return err
		}
		balances[acc] = types.Minor(amount)
	}

	if rejected := transaction.Post(p, balances, txs...); rejected != nil {
		return ledger.RejectionError(rejected)
	}

	for acc, amount := range balances {
		if _, err := q.Exec(ctx,
			`UPDATE ledger_balances SET balance = $2, updated_at = NOW() WHERE account = $1`,
			acc, amount.Amount,
		); err != nil {
			return err
		}
	}
	for _, tx := range txs {
		if _, err := q.Exec(ctx, `
			INSERT INTO ledger_transactions (id, from_account, to_account, amount, kind, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, tx.ID.String(), tx.From, tx.To, tx.Amount.Amount, string(tx.Kind), tx.Timestamp); err != nil {
			return err
		}
	}
	return nil
}

func transactionFilter(opts transaction.ListOpts) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if opts.Account != "" {
		args = append(args, opts.Account)
		clauses = append(clauses, fmt.Sprintf("(from_account = $%d OR to_account = $%d)", len(args), len(args)))
	}
	if opts.Kind != "" {
		args = append(args, string(opts.Kind))
		clauses = append(clauses, fmt.Sprintf("kind = $%d", len(args)))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ==================== Issue Store ====================

func (s *Store) CreateIssue(ctx context.Context, i *issue.Issue) error {
	m, err := toIssueModel(i)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO ledger_issues (id, title, document, website, author, incentive, implementations, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $9)
	`, m.ID, m.Title, m.Document, m.Website, m.Author,
		[]byte(m.Incentive), []byte(m.Implementations), m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	i.Version = 1
	return nil
}

func (s *Store) GetIssue(ctx context.Context, issueID id.IssueID) (*issue.Issue, error) {
	var m issueModel
	err := m.scan(s.pool.QueryRow(ctx, `SELECT `+issueColumns+` FROM ledger_issues WHERE id = $1`, issueID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrIssueNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}
	return fromIssueModel(&m)
}

func (s *Store) UpdateIssue(ctx context.Context, i *issue.Issue) error {
	m, err := toIssueModel(i)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE ledger_issues SET
			title = $2, document = $3, website = $4, author = $5,
			incentive = $6, implementations = $7,
			version = version + 1, updated_at = $8
		WHERE id = $1 AND version = $9
	`, m.ID, m.Title, m.Document, m.Website, m.Author,
		[]byte(m.Incentive), []byte(m.Implementations), m.UpdatedAt, m.Version)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM ledger_issues WHERE id = $1)`, m.ID,
		).Scan(&exists); err != nil {
			return mapError(err)
		}
		if !exists {
			return ledger.ErrIssueNotFound
		}
		return ledger.ErrConcurrentModification
	}
	i.Version++
	return nil
}

func (s *Store) ListIssues(ctx context.Context, opts issue.ListOpts) ([]*issue.Issue, error) {
	query := `SELECT ` + issueColumns + ` FROM ledger_issues`
	var args []any
	if len(opts.Websites) > 0 {
		query += ` WHERE website = ANY($1)`
		args = append(args, opts.Websites)
	}
	query += ` ORDER BY id ASC` + limitOffset(opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := make([]*issue.Issue, 0)
	for rows.Next() {
		var m issueModel
		if err := m.scan(rows); err != nil {
			return nil, err
		}
		i, err := fromIssueModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, i)
	}
	return result, rows.Err()
}

// ==================== Reward Store ====================

func (s *Store) Distribute(ctx context.Context, p transaction.Policy, r *reward.Reward, payouts []*transaction.Transaction) (bool, error) {
	m, err := toRewardModel(r)
	if err != nil {
		return false, err
	}

	var applied bool
	err = s.unit(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO ledger_rewards (issue_id, implementation_id, amount, payees, transaction_ids, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (issue_id, implementation_id) DO NOTHING
		`, m.IssueID, m.ImplementationID, m.Amount, []byte(m.Payees), []byte(m.TransactionIDs), m.CreatedAt)
		if err != nil || tag.RowsAffected() == 0 {
			return err
		}
		applied = true
		return post(ctx, tx, p, payouts)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (s *Store) GetReward(ctx context.Context, key issue.Key) (*reward.Reward, error) {
	var m rewardModel
	err := s.pool.QueryRow(ctx, `
		SELECT issue_id, implementation_id, amount, payees, transaction_ids, created_at
		FROM ledger_rewards WHERE issue_id = $1 AND implementation_id = $2
	`, key.IssueID.String(), key.ImplementationID).Scan(
		&m.IssueID, &m.ImplementationID, &m.Amount, &m.Payees, &m.TransactionIDs, &m.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}
	return fromRewardModel(&m)
}

// ==================== Escrow Store ====================

func (s *Store) UpsertProject(ctx context.Context, p *escrow.Project) error {
	distributions, err := json.Marshal(nonNil(p.Distributions))
	if err != nil {
		return err
	}
	var created time.Time
	err = s.pool.QueryRow(ctx, `
		INSERT INTO ledger_projects (issue_id, implementation_id, price, distributions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (issue_id, implementation_id) DO UPDATE SET
			price         = EXCLUDED.price,
			distributions = EXCLUDED.distributions,
			updated_at    = EXCLUDED.updated_at
		RETURNING created_at
	`, p.IssueID.String(), p.ImplementationID, p.Price.Amount, distributions,
		p.CreatedAt, p.UpdatedAt).Scan(&created)
	if err != nil {
		return mapError(err)
	}
	p.CreatedAt = created.UTC()
	return nil
}

func (s *Store) GetProject(ctx context.Context, key issue.Key) (*escrow.Project, error) {
	return getProject(ctx, s.pool, key, "")
}

func (s *Store) ListProjects(ctx context.Context) ([]*escrow.Project, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+projectColumns+` FROM ledger_projects
		ORDER BY issue_id ASC, implementation_id ASC`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := make([]*escrow.Project, 0)
	for rows.Next() {
		var m projectModel
		if err := m.scan(rows); err != nil {
			return nil, err
		}
		p, err := fromProjectModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// getProject reads a registration; suffix may add a locking clause.
func getProject(ctx context.Context, q querier, key issue.Key, suffix string) (*escrow.Project, error) {
	var m projectModel
	err := m.scan(q.QueryRow(ctx, `SELECT `+projectColumns+` FROM ledger_projects
		WHERE issue_id = $1 AND implementation_id = $2`+suffix, key.IssueID.String(), key.ImplementationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrProjectNotRegistered
	}
	if err != nil {
		return nil, err
	}
	return fromProjectModel(&m)
}

func (s *Store) Charge(ctx context.Context, p transaction.Policy, key escrow.DepositKey, now time.Time, window time.Duration, build escrow.ChargeFunc) (*escrow.Deposit, error) {
	var d *escrow.Deposit
	err := s.unit(ctx, func(tx pgx.Tx) error {
		// The shared row lock holds off a re-registration until the charge
		// commits.
		proj, err := getProject(ctx, tx, key.Key, " FOR SHARE")
		if err != nil {
			return err
		}
		charge, err := build(proj)
		if err != nil {
			return err
		}

		// Posting first locks the payer's balance row, which serializes
		// concurrent charges of the same user before the latest window is read.
		if err := post(ctx, tx, p, []*transaction.Transaction{charge}); err != nil {
			return err
		}

		var latest *time.Time
		if err := tx.QueryRow(ctx, `
			SELECT MAX(end_time) FROM ledger_deposits
			WHERE issue_id = $1 AND implementation_id = $2 AND user_id = $3
		`, key.IssueID.String(), key.ImplementationID, key.UserID).Scan(&latest); err != nil {
			return err
		}
		var latestEnd time.Time
		if latest != nil {
			latestEnd = *latest
		}
		start, end := escrow.NextWindow(latestEnd, now, window)

		d = escrow.NewDeposit(key, charge, start, end)
		_, err = tx.Exec(ctx, `
			INSERT INTO ledger_deposits (id, issue_id, implementation_id, user_id, start_time, end_time, amount, transaction_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, d.ID.String(), d.IssueID.String(), d.ImplementationID, d.UserID,
			d.StartTime, d.EndTime, d.Amount.Amount, d.TransactionID.String())
		return err
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Store) LatestDeposit(ctx context.Context, key escrow.DepositKey) (*escrow.Deposit, error) {
	var m depositModel
	err := m.scan(s.pool.QueryRow(ctx, `SELECT `+depositColumns+` FROM ledger_deposits
		WHERE issue_id = $1 AND implementation_id = $2 AND user_id = $3
		ORDER BY end_time DESC LIMIT 1`, key.IssueID.String(), key.ImplementationID, key.UserID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}
	return fromDepositModel(&m)
}

func (s *Store) ListDeposits(ctx context.Context, opts escrow.ListOpts) ([]*escrow.Deposit, error) {
	query := `SELECT ` + depositColumns + ` FROM ledger_deposits WHERE issue_id = $1 AND implementation_id = $2`
	args := []any{opts.Key.IssueID.String(), opts.Key.ImplementationID}
	if opts.UserID != "" {
		query += ` AND user_id = $3`
		args = append(args, opts.UserID)
	}
	query += ` ORDER BY start_time ASC, seq ASC` + limitOffset(opts.Limit, opts.Offset)
	return queryDeposits(ctx, s.pool, query, args...)
}

func (s *Store) PendingDeposits(ctx context.Context, key issue.Key, now time.Time) ([]*escrow.Deposit, error) {
	return pendingDeposits(ctx, s.pool, key, now)
}

func (s *Store) Settle(ctx context.Context, p transaction.Policy, key issue.Key, now time.Time, build escrow.SettleFunc) (*escrow.Settlement, error) {
	var settlement *escrow.Settlement
	err := s.unit(ctx, func(tx pgx.Tx) error {
		// The registration row lock serializes settlements of one project.
		proj, err := getProject(ctx, tx, key, " FOR UPDATE")
		if err != nil {
			return err
		}
		pending, err := pendingDeposits(ctx, tx, key, now)
		if err != nil || len(pending) == 0 {
			return err
		}

		payouts, err := build(proj, pending)
		if err != nil || len(payouts) == 0 {
			return err
		}
		if err := post(ctx, tx, p, payouts); err != nil {
			return err
		}

		settlement = escrow.NewSettlement(key, pending, payouts, now)
		settlement.MarkSettled(pending)
		ids := make([]string, len(pending))
		for i, d := range pending {
			ids[i] = d.ID.String()
		}
		tag, err := tx.Exec(ctx, `
			UPDATE ledger_deposits SET settled = TRUE, settled_at = $1, settlement_id = $2
			WHERE NOT settled AND id = ANY($3)
		`, settlement.SettledAt, settlement.ID.String(), ids)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != int64(len(pending)) {
			return ledger.ErrConcurrentModification
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settlement, nil
}

func pendingDeposits(ctx context.Context, q querier, key issue.Key, now time.Time) ([]*escrow.Deposit, error) {
	return queryDeposits(ctx, q, `SELECT `+depositColumns+` FROM ledger_deposits
		WHERE issue_id = $1 AND implementation_id = $2 AND NOT settled AND end_time <= $3
		ORDER BY start_time ASC, seq ASC`, key.IssueID.String(), key.ImplementationID, now)
}

func queryDeposits(ctx context.Context, q querier, query string, args ...any) ([]*escrow.Deposit, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := make([]*escrow.Deposit, 0)
	for rows.Next() {
		var m depositModel
		if err := m.scan(rows); err != nil {
			return nil, err
		}
		d, err := fromDepositModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// ==================== Helpers ====================

func limitOffset(limit, offset int) string {
	var b strings.Builder
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	if offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", offset)
	}
	return b.String()
}

// mapError translates PostgreSQL error codes into ledger sentinels.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return fmt.Errorf("%w: %v", ledger.ErrConcurrentModification, err)
	case "23505": // unique_violation
		return fmt.Errorf("%w: %v", ledger.ErrAlreadyExists, err)
	}
	return err
}
