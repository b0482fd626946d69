package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/ara-foundation/ledger/config"
	"github.com/ara-foundation/ledger/store"
	"github.com/ara-foundation/ledger/store/memory"
	"github.com/ara-foundation/ledger/store/mongo"
	"github.com/ara-foundation/ledger/store/postgres"
	"github.com/ara-foundation/ledger/store/sqlite"
)

// openStore picks the backend from the DSN scheme.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	dsn := cfg.DSN
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return nil, fmt.Errorf("store: dsn %q has no scheme", dsn)
	}

	switch scheme {
	case "memory":
		return memory.New(), nil
	case "sqlite", "sqlite3", "file":
		if rest == "" {
			return nil, fmt.Errorf("store: sqlite dsn %q has no path", dsn)
		}
		return sqlite.Open(rest)
	case "postgres", "postgresql":
		return postgres.Open(ctx, dsn)
	case "mongodb", "mongodb+srv":
		return mongo.Open(ctx, dsn, cfg.Database)
	}
	return nil, fmt.Errorf("store: unsupported scheme %q", scheme)
}
