package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// migration is one schema step. Each statement runs on its own since SQLite
// executes one statement at a time.
type migration struct {
	version    int
	name       string
	statements []string
}

// Migrations is the ordered schema history of the Ledger store (SQLite).
// Times are stored as unix nanoseconds and money as minor units.
var Migrations = []migration{
	{
		version: 1,
		name:    "create_ledger_transactions",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS ledger_transactions (
				seq          INTEGER PRIMARY KEY AUTOINCREMENT,
				id           TEXT NOT NULL UNIQUE,
				from_account TEXT NOT NULL,
				to_account   TEXT NOT NULL,
				amount       INTEGER NOT NULL,
				kind         TEXT NOT NULL,
				occurred_at  INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_ledger_transactions_from ON ledger_transactions (from_account)`,
			`CREATE INDEX IF NOT EXISTS idx_ledger_transactions_to ON ledger_transactions (to_account)`,
			`CREATE INDEX IF NOT EXISTS idx_ledger_transactions_kind ON ledger_transactions (kind)`,
		},
	},
	{
		version: 2,
		name:    "create_ledger_balances",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS ledger_balances (
				account    TEXT PRIMARY KEY,
				balance    INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			)`,
		},
	},
	{
		version: 3,
		name:    "create_ledger_issues",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS ledger_issues (
				id              TEXT PRIMARY KEY,
				title           TEXT NOT NULL DEFAULT '',
				document        TEXT NOT NULL DEFAULT '',
				website         TEXT NOT NULL DEFAULT '',
				author          TEXT NOT NULL DEFAULT '',
				incentive       TEXT NOT NULL DEFAULT '[]',
				implementations TEXT NOT NULL DEFAULT '[]',
				version         INTEGER NOT NULL DEFAULT 1,
				created_at      INTEGER NOT NULL,
				updated_at      INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_ledger_issues_website ON ledger_issues (website)`,
		},
	},
	{
		version: 4,
		name:    "create_ledger_rewards",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS ledger_rewards (
				issue_id          TEXT NOT NULL,
				implementation_id INTEGER NOT NULL,
				amount            INTEGER NOT NULL,
				payees            TEXT NOT NULL DEFAULT '[]',
				transaction_ids   TEXT NOT NULL DEFAULT '[]',
				created_at        INTEGER NOT NULL,
				PRIMARY KEY (issue_id, implementation_id)
			)`,
		},
	},
	{
		version: 5,
		name:    "create_ledger_escrow",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS ledger_projects (
				issue_id          TEXT NOT NULL,
				implementation_id INTEGER NOT NULL,
				price             INTEGER NOT NULL,
				distributions     TEXT NOT NULL DEFAULT '[]',
				created_at        INTEGER NOT NULL,
				updated_at        INTEGER NOT NULL,
				PRIMARY KEY (issue_id, implementation_id)
			)`,
			`CREATE TABLE IF NOT EXISTS ledger_deposits (
				id                TEXT PRIMARY KEY,
				issue_id          TEXT NOT NULL,
				implementation_id INTEGER NOT NULL,
				user_id           TEXT NOT NULL,
				start_time        INTEGER NOT NULL,
				end_time          INTEGER NOT NULL,
				amount            INTEGER NOT NULL,
				transaction_id    TEXT NOT NULL,
				settled           INTEGER NOT NULL DEFAULT 0,
				settled_at        INTEGER,
				settlement_id     TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_ledger_deposits_user ON ledger_deposits (issue_id, implementation_id, user_id, end_time)`,
			`CREATE INDEX IF NOT EXISTS idx_ledger_deposits_pending ON ledger_deposits (issue_id, implementation_id, settled, end_time)`,
		},
	},
}

// Migrate applies every migration not yet recorded in ledger_migrations.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS ledger_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("ledger/sqlite: create migrations table: %w", err)
	}

	for _, m := range Migrations {
		err := s.unit(ctx, func(q querier) error {
			var applied int
			err := q.QueryRowContext(ctx, `SELECT version FROM ledger_migrations WHERE version = ?`, m.version).Scan(&applied)
			if err == nil {
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			for _, stmt := range m.statements {
				if _, err := q.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			_, err = q.ExecContext(ctx,
				`INSERT INTO ledger_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
				m.version, m.name, time.Now().UTC().UnixNano(),
			)
			return err
		})
		if err != nil {
			return fmt.Errorf("ledger/sqlite: migration %s failed: %w", m.name, err)
		}
	}
	return nil
}
