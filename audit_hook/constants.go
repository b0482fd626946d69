package audithook

// Action constants for audit events.
const (
	// Ledger actions
	ActionTransferPosted   = "transfer.posted"
	ActionTransferRejected = "transfer.rejected"

	// Issue actions
	ActionIssueCreated           = "issue.created"
	ActionImplementationPushed   = "implementation.pushed"
	ActionImplementationPromoted = "implementation.promoted"

	// Reward actions
	ActionRewardDistributed = "reward.distributed"

	// Escrow actions
	ActionProjectRegistered = "project.registered"
	ActionAccessCharged     = "access.charged"
	ActionWithdrawalSettled = "withdrawal.settled"
)

// Resource constants for audit events.
const (
	ResourceTransaction    = "transaction"
	ResourceIssue          = "issue"
	ResourceImplementation = "implementation"
	ResourceReward         = "reward"
	ResourceProject        = "project"
	ResourceDeposit        = "deposit"
	ResourceSettlement     = "settlement"
)

// Category constants for audit events.
const (
	CategoryLedger  = "ledger"
	CategoryFunding = "funding"
	CategoryReward  = "reward"
	CategoryAccess  = "access"
	CategoryPayment = "payment"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
