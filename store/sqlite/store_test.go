package sqlite_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ara-foundation/ledger"
	"github.com/ara-foundation/ledger/store"
	"github.com/ara-foundation/ledger/store/sqlite"
	"github.com/ara-foundation/ledger/store/storetest"
	"github.com/ara-foundation/ledger/transaction"
)

func newTestDB(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return newTestDB(t)
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestDB(t)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))

	var n int
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_migrations`).Scan(&n))
	assert.Equal(t, len(sqlite.Migrations), n)

	for _, table := range []string{"ledger_transactions", "ledger_balances", "ledger_issues", "ledger_rewards", "ledger_projects", "ledger_deposits"} {
		var name string
		err := s.DB().QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table,
		).Scan(&name)
		require.NoError(t, err, "table %s", table)
	}
}

func TestConcurrentTransfersOnFile(t *testing.T) {
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)

	l := ledger.New(s, ledger.WithMaxRetries(20))
	ctx := context.Background()
	require.NoError(t, l.Start(ctx))
	defer l.Stop()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for range 12 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Transfer(ctx, "alice", "bob", ledger.Units(25), transaction.KindTransfer)
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, accepted)
	b, err := l.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, b.IsZero(), "alice: %v", b)
}
