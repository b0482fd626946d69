package ledger

import (
	"github.com/ara-foundation/ledger/issue"
	"github.com/ara-foundation/ledger/transaction"
	"github.com/ara-foundation/ledger/types"
)

// Re-export common types for convenience so users don't have to import types package.

// Money is re-exported from types package.
type Money = types.Money

// Entity is re-exported from types package.
type Entity = types.Entity

// Kind is re-exported from transaction package.
type Kind = transaction.Kind

// Key is re-exported from issue package.
type Key = issue.Key

// Re-export Money constructors
var (
	Units      = types.Units
	Minor      = types.Minor
	Zero       = types.Zero
	ParseMoney = types.ParseMoney
	Sum        = types.Sum
)

// Re-export transaction kinds
const (
	KindAdd        = transaction.KindAdd
	KindLike       = transaction.KindLike
	KindProd       = transaction.KindProd
	KindTransfer   = transaction.KindTransfer
	KindPayPerHour = transaction.KindPayPerHour
)

// Re-export constructors
var (
	NewEntityAt = types.NewEntityAt
	NewKey      = issue.NewKey
)
