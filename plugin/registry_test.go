package plugin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ara-foundation/ledger/escrow"
	"github.com/ara-foundation/ledger/transaction"
	"github.com/ara-foundation/ledger/types"
)

type recorder struct {
	name string

	mu        sync.Mutex
	transfers []*transaction.Transaction
	settled   int
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) OnTransfer(_ context.Context, tx *transaction.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transfers = append(r.transfers, tx)
	return nil
}

func (r *recorder) OnWithdrawalSettled(_ context.Context, _ *escrow.Settlement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settled++
	return errors.New("ignored")
}

type sleeper struct{}

func (sleeper) Name() string { return "sleeper" }

func (sleeper) OnShutdown(ctx context.Context) error {
	select {
	case <-time.After(time.Second):
	case <-ctx.Done():
	}
	return nil
}

func TestRegisterCachesHooks(t *testing.T) {
	r := NewRegistry()
	rec := &recorder{name: "rec"}

	require.NoError(t, r.Register(rec))
	assert.Equal(t, 1, r.Count())
	assert.Len(t, r.onTransfer, 1)
	assert.Len(t, r.onWithdrawalSettled, 1)
	assert.Empty(t, r.onInit)
	assert.Same(t, rec, r.Get("rec"))
	assert.Nil(t, r.Get("missing"))
	assert.Len(t, r.List(), 1)
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&recorder{name: "rec"}))
	assert.Error(t, r.Register(&recorder{name: "rec"}))
}

func TestEmitTransfer(t *testing.T) {
	r := NewRegistry()
	rec := &recorder{name: "rec"}
	require.NoError(t, r.Register(rec))

	now := time.Now()
	r.EmitTransfer(context.Background(),
		transaction.New("ARA", "bob", types.Units(20), transaction.KindProd, now),
		transaction.New("ARA", "carol", types.Units(20), transaction.KindProd, now),
	)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.transfers, 2)
	assert.Equal(t, "carol", rec.transfers[1].To)
}

func TestEmitSwallowsHookErrors(t *testing.T) {
	r := NewRegistry()
	rec := &recorder{name: "rec"}
	require.NoError(t, r.Register(rec))

	r.EmitWithdrawalSettled(context.Background(), &escrow.Settlement{})
	r.EmitWithdrawalSettled(context.Background(), &escrow.Settlement{})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 2, rec.settled)
}

func TestCallWithTimeout(t *testing.T) {
	r := NewRegistry().WithTimeout(20 * time.Millisecond)
	require.NoError(t, r.Register(sleeper{}))

	start := time.Now()
	r.EmitShutdown(context.Background())
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	err := r.callWithTimeout(context.Background(), "slow", func() error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	assert.EqualError(t, err, "plugin timeout: slow")
}
