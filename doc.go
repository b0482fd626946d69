// Package ledger provides the accounting engine behind crowd-funded issues:
// a derived-balance ledger, production reward distribution and a
// time-windowed metering escrow.
//
// Ledger is designed as a library first. Import it directly into your Go
// application, or run it as a service with cmd/arald. It provides:
//
//   - Guarded transfers: a debit is accepted only if the sender's balance
//     covers it, checked and appended in one atomic unit
//   - Materialized running balances, with implicit accounts that start at a
//     configured balance
//   - Exactly-once production rewards, split evenly across an
//     implementation's payees
//   - Pay-per-window access with extendable deposit windows and atomic
//     withdrawal settlement
//   - Pluggable storage (memory, SQLite, PostgreSQL, MongoDB) and lifecycle
//     hooks for audit trails and metrics
//
// # Quick Start
//
// Create a ledger instance with your preferred store:
//
//	import (
//	    "github.com/ara-foundation/ledger"
//	    "github.com/ara-foundation/ledger/store/postgres"
//	)
//
//	// Initialize store
//	store, err := postgres.Open(ctx, databaseURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Create ledger
//	l := ledger.New(store)
//
//	// Start the ledger (migrates the store and starts background workers)
//	if err := l.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Stop()
//
// # Core Concepts
//
// Accounts are plain strings. An account the ledger has never seen holds the
// starting balance (100 units by default). The treasury account ("ARA")
// collects incentives and charges and funds every payout; it is the only
// account allowed to go negative.
//
// Issues collect incentives. Each pledge is a ledger debit:
//
//	iss, err := l.AddIssue(ctx, ledger.NewIssue{
//	    Title:     "Dark mode",
//	    Author:    "alice",
//	    Incentive: ledger.Units(40),
//	})
//
// When an implementation reaches production its payees share the pool:
//
//	impl, _ := l.PushImplementation(ctx, iss.ID, ledger.PushParams{
//	    Distributions: []string{"bob", "carol"},
//	    Payment:       issue.Payment{Type: "perHour", Value: ledger.Units(10)},
//	})
//	_, _ = l.PassImplementation(ctx, iss.ID, impl.ID)
//	result, err := l.Prod(ctx, iss.ID, impl.ID, ledger.ProdParams{})
//
// Billable implementations charge users per deposit window:
//
//	key := ledger.NewKey(iss.ID, impl.ID)
//	deposit, charged, err := l.Access(ctx, key, "dave")
//
// and accrued revenue from expired windows is paid out with
// SettleWithdrawal, or periodically by the background worker
// (WithSettleInterval).
//
// All monetary calculations use integer arithmetic in minor units
// (hundredths of a unit) to avoid floating-point precision issues.
//
// # Concurrency
//
// Every read-check-write is one atomic unit in the store. Conflicting
// writes surface as ErrConcurrentModification and are retried with
// exponential backoff before being returned.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	txn_01h2xcejqtf2nbrexx3vqjhp41  // Transaction ID
//	iss_01h2xcejqtf2nbrexx3vqjhp41  // Issue ID
//	dep_01h455vb4pex5vsknk084sn02q  // Deposit window ID
//
// TypeIDs are K-sortable, making them ideal for database indexes and
// providing natural time-ordering of entities.
package ledger
