// Package observability provides a metrics extension for Ledger that records
// lifecycle event counts through a MetricFactory.
package observability

import (
	"context"

	"github.com/ara-foundation/ledger/escrow"
	"github.com/ara-foundation/ledger/issue"
	"github.com/ara-foundation/ledger/plugin"
	"github.com/ara-foundation/ledger/reward"
	"github.com/ara-foundation/ledger/transaction"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                   = (*MetricsExtension)(nil)
	_ plugin.OnInit                   = (*MetricsExtension)(nil)
	_ plugin.OnTransfer               = (*MetricsExtension)(nil)
	_ plugin.OnTransferRejected       = (*MetricsExtension)(nil)
	_ plugin.OnIssueCreated           = (*MetricsExtension)(nil)
	_ plugin.OnImplementationPushed   = (*MetricsExtension)(nil)
	_ plugin.OnImplementationPromoted = (*MetricsExtension)(nil)
	_ plugin.OnRewardDistributed      = (*MetricsExtension)(nil)
	_ plugin.OnProjectRegistered      = (*MetricsExtension)(nil)
	_ plugin.OnAccessCharged          = (*MetricsExtension)(nil)
	_ plugin.OnWithdrawalSettled      = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a Ledger plugin to track ledger activity.
type MetricsExtension struct {
	factory MetricFactory

	// Ledger metrics
	TransfersPosted   Counter
	TransfersRejected Counter
	TransferAmount    Histogram

	// Issue metrics
	IssuesCreated           Counter
	ImplementationsPushed   Counter
	ImplementationsPromoted Counter

	// Reward metrics
	RewardsDistributed Counter
	RewardAmount       Histogram

	// Escrow metrics
	ProjectsRegistered   Counter
	AccessCharged        Counter
	WithdrawalsSettled   Counter
	WithdrawalAmount     Histogram
	WindowsPerSettlement Histogram
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use NewPrometheusFactory for a Prometheus registry, or app.Metrics() in
// forge extensions.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		TransfersPosted:   factory.Counter("ledger.transfer.posted"),
		TransfersRejected: factory.Counter("ledger.transfer.rejected"),
		TransferAmount:    factory.Histogram("ledger.transfer.amount"),

		IssuesCreated:           factory.Counter("ledger.issue.created"),
		ImplementationsPushed:   factory.Counter("ledger.implementation.pushed"),
		ImplementationsPromoted: factory.Counter("ledger.implementation.promoted"),

		RewardsDistributed: factory.Counter("ledger.reward.distributed"),
		RewardAmount:       factory.Histogram("ledger.reward.amount"),

		ProjectsRegistered:   factory.Counter("ledger.project.registered"),
		AccessCharged:        factory.Counter("ledger.access.charged"),
		WithdrawalsSettled:   factory.Counter("ledger.withdrawal.settled"),
		WithdrawalAmount:     factory.Histogram("ledger.withdrawal.amount"),
		WindowsPerSettlement: factory.Histogram("ledger.withdrawal.windows"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	return nil
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnTransfer implements plugin.OnTransfer.
func (m *MetricsExtension) OnTransfer(_ context.Context, tx *transaction.Transaction) error {
	m.TransfersPosted.Inc()
	m.TransferAmount.Observe(tx.Amount.Decimal().InexactFloat64())
	return nil
}

// OnTransferRejected implements plugin.OnTransferRejected.
func (m *MetricsExtension) OnTransferRejected(_ context.Context, _ *transaction.Transaction, _ error) error {
	m.TransfersRejected.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Issue hooks
// ──────────────────────────────────────────────────

// OnIssueCreated implements plugin.OnIssueCreated.
func (m *MetricsExtension) OnIssueCreated(_ context.Context, _ *issue.Issue) error {
	m.IssuesCreated.Inc()
	return nil
}

// OnImplementationPushed implements plugin.OnImplementationPushed.
func (m *MetricsExtension) OnImplementationPushed(_ context.Context, _ *issue.Issue, _ *issue.Implementation) error {
	m.ImplementationsPushed.Inc()
	return nil
}

// OnImplementationPromoted implements plugin.OnImplementationPromoted.
func (m *MetricsExtension) OnImplementationPromoted(_ context.Context, _ *issue.Issue, _ *issue.Implementation) error {
	m.ImplementationsPromoted.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Reward and escrow hooks
// ──────────────────────────────────────────────────

// OnRewardDistributed implements plugin.OnRewardDistributed.
func (m *MetricsExtension) OnRewardDistributed(_ context.Context, r *reward.Reward) error {
	m.RewardsDistributed.Inc()
	m.RewardAmount.Observe(r.Amount.Decimal().InexactFloat64())
	return nil
}

// OnProjectRegistered implements plugin.OnProjectRegistered.
func (m *MetricsExtension) OnProjectRegistered(_ context.Context, _ *escrow.Project) error {
	m.ProjectsRegistered.Inc()
	return nil
}

// OnAccessCharged implements plugin.OnAccessCharged.
func (m *MetricsExtension) OnAccessCharged(_ context.Context, _ *escrow.Deposit) error {
	m.AccessCharged.Inc()
	return nil
}

// OnWithdrawalSettled implements plugin.OnWithdrawalSettled.
func (m *MetricsExtension) OnWithdrawalSettled(_ context.Context, s *escrow.Settlement) error {
	m.WithdrawalsSettled.Inc()
	m.WithdrawalAmount.Observe(s.Amount.Decimal().InexactFloat64())
	m.WindowsPerSettlement.Observe(float64(s.Windows()))
	return nil
}
