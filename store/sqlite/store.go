package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

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

// Store implements store.Store on SQLite through database/sql. Every unit
// of work runs in a BEGIN IMMEDIATE transaction, so writers are serialized
// and a busy database surfaces as ledger.ErrConcurrentModification.
type Store struct {
	db *sql.DB
}

// querier is satisfied by *sql.DB and *sql.Conn.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens the database at dsn. ":memory:" gives a private in-memory
// database held on a single connection.
func Open(dsn string) (*Store, error) {
	memory := dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
	if !memory && !strings.Contains(dsn, "_pragma") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger/sqlite: open: %w", err)
	}
	if memory {
		db.SetMaxOpenConns(1)
	}
	return New(db), nil
}

// New wraps an open database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database for direct access.
func (s *Store) DB() *sql.DB { return s.db }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// unit runs fn inside BEGIN IMMEDIATE on a dedicated connection.
func (s *Store) unit(ctx context.Context, fn func(q querier) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return mapError(err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return mapError(err)
	}
	if err := fn(conn); err != nil {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK")
		return mapError(err)
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK")
		return mapError(err)
	}
	return nil
}

// ==================== Transaction Store ====================

func (s *Store) Append(ctx context.Context, p transaction.Policy, txs ...*transaction.Transaction) error {
	return s.unit(ctx, func(q querier) error {
		return post(ctx, q, p, txs)
	})
}

func (s *Store) Balance(ctx context.Context, p transaction.Policy, account string) (*transaction.Balance, error) {
	var amount, updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT balance, updated_at FROM ledger_balances WHERE account = ?`, account,
	).Scan(&amount, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return &transaction.Balance{Account: account, Amount: p.StartingBalance}, nil
	}
	if err != nil {
		return nil, mapError(err)
	}
	return &transaction.Balance{Account: account, Amount: types.Minor(amount), UpdatedAt: fromNanos(updated)}, nil
}

func (s *Store) ListTransactions(ctx context.Context, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	where, args := transactionFilter(opts)
	query := `SELECT id, from_account, to_account, amount, kind, occurred_at FROM ledger_transactions` +
		where + ` ORDER BY seq ASC` + limitOffset(opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := make([]*transaction.Transaction, 0)
	for rows.Next() {
		var (
			tx     transaction.Transaction
			amount int64
			ts     int64
			kind   string
		)
		if err := rows.Scan(&tx.ID, &tx.From, &tx.To, &amount, &kind, &ts); err != nil {
			return nil, err
		}
		tx.Amount = types.Minor(amount)
		tx.Kind = transaction.Kind(kind)
		tx.Timestamp = fromNanos(ts)
		result = append(result, &tx)
	}
	return result, rows.Err()
}

func (s *Store) CountTransactions(ctx context.Context, opts transaction.ListOpts) (int64, error) {
	where, args := transactionFilter(opts)
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_transactions`+where, args...).Scan(&n)
	return n, mapError(err)
}

// post checks txs against the stored balances and writes them with the
// updated balances.
func post(ctx context.Context, q querier, p transaction.Policy, txs []*transaction.Transaction) error {
	balances := make(map[string]types.Money)
	for _, acc := range transaction.Accounts(txs...) {
		var amount int64
		err := q.QueryRowContext(ctx, `SELECT balance FROM ledger_balances WHERE account = ?`, acc).Scan(&amount)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			balances[acc] = p.StartingBalance
		case err != nil:
			return err
		default:
			balances[acc] = types.Minor(amount)
		}
	}

	if rejected := transaction.Post(p, balances, txs...); rejected != nil {
		return ledger.RejectionError(rejected)
	}

	now := toNanos(time.Now())
	for acc, amount := range balances {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO ledger_balances (account, balance, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(account) DO UPDATE SET balance = excluded.balance, updated_at = excluded.updated_at
		`, acc, amount.Amount, now); err != nil {
			return err
		}
	}
	for _, tx := range txs {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO ledger_transactions (id, from_account, to_account, amount, kind, occurred_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, tx.ID, tx.From, tx.To, tx.Amount.Amount, string(tx.Kind), toNanos(tx.Timestamp)); err != nil {
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
		clauses = append(clauses, "(from_account = ? OR to_account = ?)")
		args = append(args, opts.Account, opts.Account)
	}
	if opts.Kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, string(opts.Kind))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ==================== Issue Store ====================

func (s *Store) CreateIssue(ctx context.Context, i *issue.Issue) error {
	incentive, implementations, err := marshalIssue(i)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ledger_issues (id, title, document, website, author, incentive, implementations, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	`, i.ID, i.Title, i.Document, i.Website, i.Author, incentive, implementations,
		toNanos(i.CreatedAt), toNanos(i.UpdatedAt))
	if err != nil {
		return mapError(err)
	}
	i.Version = 1
	return nil
}

func (s *Store) GetIssue(ctx context.Context, issueID id.IssueID) (*issue.Issue, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM ledger_issues WHERE id = ?`, issueID)
	i, err := scanIssue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrIssueNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}
	return i, nil
}

func (s *Store) UpdateIssue(ctx context.Context, i *issue.Issue) error {
	incentive, implementations, err := marshalIssue(i)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE ledger_issues SET
			title = ?, document = ?, website = ?, author = ?,
			incentive = ?, implementations = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, i.Title, i.Document, i.Website, i.Author, incentive, implementations,
		toNanos(i.UpdatedAt), i.ID, i.Version)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM ledger_issues WHERE id = ?`, i.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.ErrIssueNotFound
		}
		if err != nil {
			return mapError(err)
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
		query += ` WHERE website IN (` + placeholders(len(opts.Websites)) + `)`
		for _, w := range opts.Websites {
			args = append(args, w)
		}
	}
	query += ` ORDER BY id ASC` + limitOffset(opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := make([]*issue.Issue, 0)
	for rows.Next() {
		i, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, i)
	}
	return result, rows.Err()
}

const issueColumns = `id, title, document, website, author, incentive, implementations, version, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanIssue(row scanner) (*issue.Issue, error) {
	var (
		i                          issue.Issue
		incentive, implementations string
		created, updated           int64
	)
	if err := row.Scan(&i.ID, &i.Title, &i.Document, &i.Website, &i.Author,
		&incentive, &implementations, &i.Version, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(incentive), &i.Incentive); err != nil {
		return nil, fmt.Errorf("ledger/sqlite: decode incentive: %w", err)
	}
	if err := json.Unmarshal([]byte(implementations), &i.Implementations); err != nil {
		return nil, fmt.Errorf("ledger/sqlite: decode implementations: %w", err)
	}
	i.CreatedAt = fromNanos(created)
	i.UpdatedAt = fromNanos(updated)
	return &i, nil
}

func marshalIssue(i *issue.Issue) (incentive, implementations string, err error) {
	inc, err := json.Marshal(nonNil(i.Incentive))
	if err != nil {
		return "", "", err
	}
	impls, err := json.Marshal(nonNil(i.Implementations))
	if err != nil {
		return "", "", err
	}
	return string(inc), string(impls), nil
}

// ==================== Reward Store ====================

func (s *Store) Distribute(ctx context.Context, p transaction.Policy, r *reward.Reward, payouts []*transaction.Transaction) (bool, error) {
	payees, err := json.Marshal(nonNil(r.Payees))
	if err != nil {
		return false, err
	}
	txIDs, err := json.Marshal(nonNil(r.TransactionIDs))
	if err != nil {
		return false, err
	}

	var applied bool
	err = s.unit(ctx, func(q querier) error {
		res, err := q.ExecContext(ctx, `
			INSERT INTO ledger_rewards (issue_id, implementation_id, amount, payees, transaction_ids, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(issue_id, implementation_id) DO NOTHING
		`, r.IssueID, r.ImplementationID, r.Amount.Amount, string(payees), string(txIDs), toNanos(r.CreatedAt))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil || n == 0 {
			return err
		}
		applied = true
		return post(ctx, q, p, payouts)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (s *Store) GetReward(ctx context.Context, key issue.Key) (*reward.Reward, error) {
	var (
		r             reward.Reward
		amount, at    int64
		payees, txIDs string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT issue_id, implementation_id, amount, payees, transaction_ids, created_at
		FROM ledger_rewards WHERE issue_id = ? AND implementation_id = ?
	`, key.IssueID, key.ImplementationID).Scan(&r.IssueID, &r.ImplementationID, &amount, &payees, &txIDs, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}
	if err := json.Unmarshal([]byte(payees), &r.Payees); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(txIDs), &r.TransactionIDs); err != nil {
		return nil, err
	}
	r.Amount = types.Minor(amount)
	r.CreatedAt = fromNanos(at)
	return &r, nil
}

// ==================== Escrow Store ====================

func (s *Store) UpsertProject(ctx context.Context, p *escrow.Project) error {
	distributions, err := json.Marshal(nonNil(p.Distributions))
	if err != nil {
		return err
	}
	var created int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO ledger_projects (issue_id, implementation_id, price, distributions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(issue_id, implementation_id) DO UPDATE SET
			price         = excluded.price,
			distributions = excluded.distributions,
			updated_at    = excluded.updated_at
		RETURNING created_at
	`, p.IssueID, p.ImplementationID, p.Price.Amount, string(distributions),
		toNanos(p.CreatedAt), toNanos(p.UpdatedAt)).Scan(&created)
	if err != nil {
		return mapError(err)
	}
	p.CreatedAt = fromNanos(created)
	return nil
}

func (s *Store) GetProject(ctx context.Context, key issue.Key) (*escrow.Project, error) {
	return getProject(ctx, s.db, key)
}

func (s *Store) ListProjects(ctx context.Context) ([]*escrow.Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM ledger_projects
		ORDER BY issue_id ASC, implementation_id ASC`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := make([]*escrow.Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

const projectColumns = `issue_id, implementation_id, price, distributions, created_at, updated_at`

func getProject(ctx context.Context, q querier, key issue.Key) (*escrow.Project, error) {
	row := q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM ledger_projects
		WHERE issue_id = ? AND implementation_id = ?`, key.IssueID, key.ImplementationID)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrProjectNotRegistered
	}
	if err != nil {
		return nil, mapError(err)
	}
	return p, nil
}

func scanProject(row scanner) (*escrow.Project, error) {
	var (
		p                       escrow.Project
		price, created, updated int64
		distributions           string
	)
	if err := row.Scan(&p.IssueID, &p.ImplementationID, &price, &distributions, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(distributions), &p.Distributions); err != nil {
		return nil, err
	}
	p.Price = types.Minor(price)
	p.CreatedAt = fromNanos(created)
	p.UpdatedAt = fromNanos(updated)
	return &p, nil
}

func (s *Store) Charge(ctx context.Context, p transaction.Policy, key escrow.DepositKey, now time.Time, window time.Duration, build escrow.ChargeFunc) (*escrow.Deposit, error) {
	var d *escrow.Deposit
	err := s.unit(ctx, func(q querier) error {
		proj, err := getProject(ctx, q, key.Key)
		if err != nil {
			return err
		}
		charge, err := build(proj)
		if err != nil {
			return err
		}

		var latest sql.NullInt64
		if err := q.QueryRowContext(ctx, `
			SELECT MAX(end_time) FROM ledger_deposits
			WHERE issue_id = ? AND implementation_id = ? AND user_id = ?
		`, key.IssueID, key.ImplementationID, key.UserID).Scan(&latest); err != nil {
			return err
		}
		var latestEnd time.Time
		if latest.Valid {
			latestEnd = fromNanos(latest.Int64)
		}
		start, end := escrow.NextWindow(latestEnd, now, window)

		if err := post(ctx, q, p, []*transaction.Transaction{charge}); err != nil {
			return err
		}

		d = escrow.NewDeposit(key, charge, start, end)
		_, err = q.ExecContext(ctx, `
			INSERT INTO ledger_deposits (id, issue_id, implementation_id, user_id, start_time, end_time, amount, transaction_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, d.ID, d.IssueID, d.ImplementationID, d.UserID,
			toNanos(d.StartTime), toNanos(d.EndTime), d.Amount.Amount, d.TransactionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Store) LatestDeposit(ctx context.Context, key escrow.DepositKey) (*escrow.Deposit, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+depositColumns+` FROM ledger_deposits
		WHERE issue_id = ? AND implementation_id = ? AND user_id = ?
		ORDER BY end_time DESC LIMIT 1`, key.IssueID, key.ImplementationID, key.UserID)
	d, err := scanDeposit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}
	return d, nil
}

func (s *Store) ListDeposits(ctx context.Context, opts escrow.ListOpts) ([]*escrow.Deposit, error) {
	query := `SELECT ` + depositColumns + ` FROM ledger_deposits WHERE issue_id = ? AND implementation_id = ?`
	args := []any{opts.Key.IssueID, opts.Key.ImplementationID}
	if opts.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, opts.UserID)
	}
	query += ` ORDER BY start_time ASC, rowid ASC` + limitOffset(opts.Limit, opts.Offset)
	return queryDeposits(ctx, s.db, query, args...)
}

func (s *Store) PendingDeposits(ctx context.Context, key issue.Key, now time.Time) ([]*escrow.Deposit, error) {
	return pendingDeposits(ctx, s.db, key, now)
}

func (s *Store) Settle(ctx context.Context, p transaction.Policy, key issue.Key, now time.Time, build escrow.SettleFunc) (*escrow.Settlement, error) {
	var settlement *escrow.Settlement
	err := s.unit(ctx, func(q querier) error {
		proj, err := getProject(ctx, q, key)
		if err != nil {
			return err
		}
		pending, err := pendingDeposits(ctx, q, key, now)
		if err != nil || len(pending) == 0 {
			return err
		}

		payouts, err := build(proj, pending)
		if err != nil || len(payouts) == 0 {
			return err
		}
		if err := post(ctx, q, p, payouts); err != nil {
			return err
		}

		settlement = escrow.NewSettlement(key, pending, payouts, now)
		settlement.MarkSettled(pending)
		args := []any{toNanos(settlement.SettledAt), settlement.ID}
		for _, d := range pending {
			args = append(args, d.ID)
		}
		res, err := q.ExecContext(ctx, `
			UPDATE ledger_deposits SET settled = 1, settled_at = ?, settlement_id = ?
			WHERE settled = 0 AND id IN (`+placeholders(len(pending))+`)
		`, args...)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil || n != int64(len(pending)) {
			if err != nil {
				return err
			}
			return ledger.ErrConcurrentModification
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settlement, nil
}

const depositColumns = `id, issue_id, implementation_id, user_id, start_time, end_time, amount, transaction_id, settled, settled_at, settlement_id`

func pendingDeposits(ctx context.Context, q querier, key issue.Key, now time.Time) ([]*escrow.Deposit, error) {
	return queryDeposits(ctx, q, `SELECT `+depositColumns+` FROM ledger_deposits
		WHERE issue_id = ? AND implementation_id = ? AND settled = 0 AND end_time <= ?
		ORDER BY start_time ASC, rowid ASC`, key.IssueID, key.ImplementationID, toNanos(now))
}

func queryDeposits(ctx context.Context, q querier, query string, args ...any) ([]*escrow.Deposit, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := make([]*escrow.Deposit, 0)
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func scanDeposit(row scanner) (*escrow.Deposit, error) {
	var (
		d                  escrow.Deposit
		start, end, amount int64
		settled            bool
		settledAt          sql.NullInt64
	)
	if err := row.Scan(&d.ID, &d.IssueID, &d.ImplementationID, &d.UserID,
		&start, &end, &amount, &d.TransactionID, &settled, &settledAt, &d.SettlementID); err != nil {
		return nil, err
	}
	d.StartTime = fromNanos(start)
	d.EndTime = fromNanos(end)
	d.Amount = types.Minor(amount)
	d.Settled = settled
	if settledAt.Valid {
		at := fromNanos(settledAt.Int64)
		d.SettledAt = &at
	}
	return &d, nil
}

// ==================== Helpers ====================

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func limitOffset(limit, offset int) string {
	switch {
	case limit > 0 && offset > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	case limit > 0:
		return fmt.Sprintf(" LIMIT %d", limit)
	case offset > 0:
		return fmt.Sprintf(" LIMIT -1 OFFSET %d", offset)
	}
	return ""
}

// nonNil keeps JSON columns as arrays rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// mapError translates SQLite result codes into ledger sentinels.
func mapError(err error) error {
	var se *msqlite.Error
	if !errors.As(err, &se) {
		return err
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return fmt.Errorf("%w: %v", ledger.ErrAlreadyExists, err)
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return fmt.Errorf("%w: %v", ledger.ErrConcurrentModification, err)
	}
	return err
}
