package reward

import (
	"time"

	"github.com/ara-foundation/ledger/id"
	"github.com/ara-foundation/ledger/issue"
	"github.com/ara-foundation/ledger/types"
)

// Reward marks that an implementation's production reward was paid. Its
// presence makes a second distribution a no-op.
type Reward struct {
	issue.Key
	Amount         types.Money        `json:"amount"`
	Payees         []string           `json:"payees"`
	TransactionIDs []id.TransactionID `json:"transaction_ids"`
	CreatedAt      time.Time          `json:"created_at"`
}
