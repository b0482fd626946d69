package mongo_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/ara-foundation/ledger/store"
	"github.com/ara-foundation/ledger/store/mongo"
	"github.com/ara-foundation/ledger/store/storetest"
)

// newTestStore connects to LEDGER_MONGO_URI (a replica set) and empties
// every ledger collection. Tests are skipped when the variable is unset.
func newTestStore(t *testing.T) *mongo.Store {
	t.Helper()
	uri := os.Getenv("LEDGER_MONGO_URI")
	if uri == "" {
		t.Skip("LEDGER_MONGO_URI not set")
	}

	ctx := context.Background()
	s, err := mongo.Open(ctx, uri, "ledger_test")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))

	for _, col := range []string{
		"ledger_transactions", "ledger_balances", "ledger_issues",
		"ledger_rewards", "ledger_projects", "ledger_deposits",
	} {
		_, err := s.DB().Collection(col).DeleteMany(ctx, bson.M{})
		require.NoError(t, err)
	}
	return s
}

func TestStore(t *testing.T) {
	if os.Getenv("LEDGER_MONGO_URI") == "" {
		t.Skip("LEDGER_MONGO_URI not set")
	}
	storetest.Run(t, func(t *testing.T) store.Store {
		return newTestStore(t)
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	require.NoError(t, s.Migrate(context.Background()))
}
