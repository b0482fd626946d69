// Package audithook bridges Ledger lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not depend on
// any particular audit store. Callers inject a RecorderFunc adapter at
// wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/ara-foundation/ledger/escrow"
	"github.com/ara-foundation/ledger/issue"
	"github.com/ara-foundation/ledger/plugin"
	"github.com/ara-foundation/ledger/reward"
	"github.com/ara-foundation/ledger/transaction"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                   = (*Extension)(nil)
	_ plugin.OnTransfer               = (*Extension)(nil)
	_ plugin.OnTransferRejected       = (*Extension)(nil)
	_ plugin.OnIssueCreated           = (*Extension)(nil)
	_ plugin.OnImplementationPushed   = (*Extension)(nil)
	_ plugin.OnImplementationPromoted = (*Extension)(nil)
	_ plugin.OnRewardDistributed      = (*Extension)(nil)
	_ plugin.OnProjectRegistered      = (*Extension)(nil)
	_ plugin.OnAccessCharged          = (*Extension)(nil)
	_ plugin.OnWithdrawalSettled      = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges Ledger lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnTransfer implements plugin.OnTransfer.
func (e *Extension) OnTransfer(ctx context.Context, tx *transaction.Transaction) error {
	return e.record(ctx, ActionTransferPosted, SeverityInfo, OutcomeSuccess,
		ResourceTransaction, tx.ID.String(), CategoryLedger, nil,
		"from", tx.From,
		"to", tx.To,
		"amount", tx.Amount.String(),
		"kind", string(tx.Kind),
	)
}

// OnTransferRejected implements plugin.OnTransferRejected.
func (e *Extension) OnTransferRejected(ctx context.Context, tx *transaction.Transaction, reason error) error {
	return e.record(ctx, ActionTransferRejected, SeverityWarning, OutcomeFailure,
		ResourceTransaction, tx.ID.String(), CategoryLedger, reason,
		"from", tx.From,
		"to", tx.To,
		"amount", tx.Amount.String(),
		"kind", string(tx.Kind),
	)
}

// ──────────────────────────────────────────────────
// Issue hooks
// ──────────────────────────────────────────────────

// OnIssueCreated implements plugin.OnIssueCreated.
func (e *Extension) OnIssueCreated(ctx context.Context, iss *issue.Issue) error {
	return e.record(ctx, ActionIssueCreated, SeverityInfo, OutcomeSuccess,
		ResourceIssue, iss.ID.String(), CategoryFunding, nil,
		"author", iss.Author,
		"website", iss.Website,
		"incentive", iss.Reward().String(),
	)
}

// OnImplementationPushed implements plugin.OnImplementationPushed.
func (e *Extension) OnImplementationPushed(ctx context.Context, iss *issue.Issue, im *issue.Implementation) error {
	return e.record(ctx, ActionImplementationPushed, SeverityInfo, OutcomeSuccess,
		ResourceImplementation, iss.Key(im.ID).String(), CategoryFunding, nil,
		"issue_id", iss.ID.String(),
		"implementation_id", strconv.Itoa(im.ID),
		"source", im.Source.URL,
	)
}

// OnImplementationPromoted implements plugin.OnImplementationPromoted.
func (e *Extension) OnImplementationPromoted(ctx context.Context, iss *issue.Issue, im *issue.Implementation) error {
	return e.record(ctx, ActionImplementationPromoted, SeverityInfo, OutcomeSuccess,
		ResourceImplementation, iss.Key(im.ID).String(), CategoryFunding, nil,
		"issue_id", iss.ID.String(),
		"implementation_id", strconv.Itoa(im.ID),
		"phase", string(im.Phase),
	)
}

// ──────────────────────────────────────────────────
// Reward and escrow hooks
// ──────────────────────────────────────────────────

// OnRewardDistributed implements plugin.OnRewardDistributed.
func (e *Extension) OnRewardDistributed(ctx context.Context, r *reward.Reward) error {
	return e.record(ctx, ActionRewardDistributed, SeverityInfo, OutcomeSuccess,
		ResourceReward, r.Key.String(), CategoryReward, nil,
		"amount", r.Amount.String(),
		"payees", r.Payees,
	)
}

// OnProjectRegistered implements plugin.OnProjectRegistered.
func (e *Extension) OnProjectRegistered(ctx context.Context, p *escrow.Project) error {
	return e.record(ctx, ActionProjectRegistered, SeverityInfo, OutcomeSuccess,
		ResourceProject, p.Key.String(), CategoryAccess, nil,
		"price", p.Price.String(),
		"distributions", p.Distributions,
	)
}

// OnAccessCharged implements plugin.OnAccessCharged.
func (e *Extension) OnAccessCharged(ctx context.Context, d *escrow.Deposit) error {
	return e.record(ctx, ActionAccessCharged, SeverityInfo, OutcomeSuccess,
		ResourceDeposit, d.ID.String(), CategoryAccess, nil,
		"project", d.Key.String(),
		"user_id", d.UserID,
		"amount", d.Amount.String(),
		"end_time", d.EndTime,
	)
}

// OnWithdrawalSettled implements plugin.OnWithdrawalSettled.
func (e *Extension) OnWithdrawalSettled(ctx context.Context, s *escrow.Settlement) error {
	return e.record(ctx, ActionWithdrawalSettled, SeverityInfo, OutcomeSuccess,
		ResourceSettlement, s.ID.String(), CategoryPayment, nil,
		"project", s.Key.String(),
		"amount", s.Amount.String(),
		"windows", s.Windows(),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
