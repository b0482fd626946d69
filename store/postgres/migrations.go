package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// migrationLock serializes concurrent Migrate calls across processes.
const migrationLock = 7243001

type migration struct {
	version    int
	name       string
	statements []string
}

// Migrations is the ordered schema history of the Ledger store (PostgreSQL).
var Migrations = []migration{
	{
		version: 1,
		name:    "create_ledger_transactions",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS ledger_transactions (
				seq          BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
				id           TEXT NOT NULL UNIQUE,
				from_account TEXT NOT NULL,
				to_account   TEXT NOT NULL,
				amount       BIGINT NOT NULL CHECK (amount > 0),
				kind         TEXT NOT NULL,
				occurred_at  TIMESTAMPTZ NOT NULL
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
				balance    BIGINT NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
				incentive       JSONB NOT NULL DEFAULT '[]',
				implementations JSONB NOT NULL DEFAULT '[]',
				version         BIGINT NOT NULL DEFAULT 1,
				created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
				amount            BIGINT NOT NULL,
				payees            JSONB NOT NULL DEFAULT '[]',
				transaction_ids   JSONB NOT NULL DEFAULT '[]',
				created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
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
				price             BIGINT NOT NULL,
				distributions     JSONB NOT NULL DEFAULT '[]',
				created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (issue_id, implementation_id)
			)`,
			`CREATE TABLE IF NOT EXISTS ledger_deposits (
				seq               BIGINT GENERATED ALWAYS AS IDENTITY,
				id                TEXT PRIMARY KEY,
				issue_id          TEXT NOT NULL,
				implementation_id INTEGER NOT NULL,
				user_id           TEXT NOT NULL,
				start_time        TIMESTAMPTZ NOT NULL,
				end_time          TIMESTAMPTZ NOT NULL,
				amount            BIGINT NOT NULL,
				transaction_id    TEXT NOT NULL,
				settled           BOOLEAN NOT NULL DEFAULT FALSE,
				settled_at        TIMESTAMPTZ,
				settlement_id     TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_ledger_deposits_user ON ledger_deposits (issue_id, implementation_id, user_id, end_time DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_ledger_deposits_pending ON ledger_deposits (issue_id, implementation_id, end_time) WHERE NOT settled`,
		},
	},
}

// Migrate applies every migration not yet recorded in ledger_migrations.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS ledger_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`); err != nil {
		return fmt.Errorf("ledger/postgres: create migrations table: %w", err)
	}

	for _, m := range Migrations {
		err := s.unit(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLock); err != nil {
				return err
			}
			var applied bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM ledger_migrations WHERE version = $1)`, m.version,
			).Scan(&applied); err != nil {
				return err
			}
			if applied {
				return nil
			}
			for _, stmt := range m.statements {
				if _, err := tx.Exec(ctx, stmt); err != nil {
					return err
				}
			}
			_, err := tx.Exec(ctx,
				`INSERT INTO ledger_migrations (version, name) VALUES ($1, $2)`, m.version, m.name)
			return err
		})
		if err != nil {
			return fmt.Errorf("ledger/postgres: migration %s failed: %w", m.name, err)
		}
	}
	return nil
}
