package audithook_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ara-foundation/ledger"
	audithook "github.com/ara-foundation/ledger/audit_hook"
	"github.com/ara-foundation/ledger/id"
	"github.com/ara-foundation/ledger/issue"
	"github.com/ara-foundation/ledger/store/memory"
	"github.com/ara-foundation/ledger/transaction"
	"github.com/ara-foundation/ledger/types"
)

type sink struct {
	mu     sync.Mutex
	events []*audithook.AuditEvent
}

func (s *sink) Record(_ context.Context, evt *audithook.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *sink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, evt := range s.events {
		out[i] = evt.Action
	}
	return out
}

func TestTransferEvents(t *testing.T) {
	rec := &sink{}
	ext := audithook.New(rec)
	ctx := context.Background()

	tx := transaction.New("alice", "bob", types.Units(5), transaction.KindTransfer, time.Now())
	require.NoError(t, ext.OnTransfer(ctx, tx))
	require.NoError(t, ext.OnTransferRejected(ctx, tx, ledger.ErrInsufficientBalance))

	require.Len(t, rec.events, 2)
	posted, rejected := rec.events[0], rec.events[1]

	assert.Equal(t, audithook.ActionTransferPosted, posted.Action)
	assert.Equal(t, audithook.OutcomeSuccess, posted.Outcome)
	assert.Equal(t, tx.ID.String(), posted.ResourceID)
	assert.Equal(t, "5.00", posted.Metadata["amount"])
	assert.Equal(t, "TRANSFER", posted.Metadata["kind"])

	assert.Equal(t, audithook.ActionTransferRejected, rejected.Action)
	assert.Equal(t, audithook.OutcomeFailure, rejected.Outcome)
	assert.Equal(t, audithook.SeverityWarning, rejected.Severity)
	assert.Equal(t, ledger.ErrInsufficientBalance.Error(), rejected.Reason)
}

func TestEnabledActions(t *testing.T) {
	rec := &sink{}
	ext := audithook.New(rec, audithook.WithEnabledActions(audithook.ActionIssueCreated))
	ctx := context.Background()

	tx := transaction.New("alice", "bob", types.Units(5), transaction.KindTransfer, time.Now())
	require.NoError(t, ext.OnTransfer(ctx, tx))
	require.NoError(t, ext.OnIssueCreated(ctx, &issue.Issue{ID: id.NewIssueID(), Author: "alice"}))

	assert.Equal(t, []string{audithook.ActionIssueCreated}, rec.actions())
}

func TestDisabledActions(t *testing.T) {
	rec := &sink{}
	ext := audithook.New(rec, audithook.WithDisabledActions(audithook.ActionTransferPosted))
	ctx := context.Background()

	tx := transaction.New("alice", "bob", types.Units(5), transaction.KindTransfer, time.Now())
	require.NoError(t, ext.OnTransfer(ctx, tx))
	require.NoError(t, ext.OnTransferRejected(ctx, tx, errors.New("boom")))

	assert.Equal(t, []string{audithook.ActionTransferRejected}, rec.actions())
}

func TestRecorderFailureIsSwallowed(t *testing.T) {
	ext := audithook.New(audithook.RecorderFunc(func(context.Context, *audithook.AuditEvent) error {
		return errors.New("backend down")
	}))
	tx := transaction.New("alice", "bob", types.Units(5), transaction.KindTransfer, time.Now())
	assert.NoError(t, ext.OnTransfer(context.Background(), tx))
}

func TestLedgerEmitsAuditTrail(t *testing.T) {
	rec := &sink{}
	l := ledger.New(memory.New(), ledger.WithPlugin(audithook.New(rec)))
	ctx := context.Background()
	require.NoError(t, l.Start(ctx))
	t.Cleanup(func() { _ = l.Stop() })

	iss, err := l.AddIssue(ctx, ledger.NewIssue{
		Title:     "dark mode",
		Website:   "ara.example",
		Author:    "alice",
		Incentive: types.Units(10),
	})
	require.NoError(t, err)

	_, err = l.Transfer(ctx, "bob", "carol", types.Units(500), transaction.KindTransfer)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	assert.Equal(t, []string{
		audithook.ActionTransferPosted,
		audithook.ActionIssueCreated,
		audithook.ActionTransferRejected,
	}, rec.actions())
	assert.Equal(t, iss.ID.String(), rec.events[1].ResourceID)
}
