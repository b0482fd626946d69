package observability_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ara-foundation/ledger"
	"github.com/ara-foundation/ledger/observability"
	"github.com/ara-foundation/ledger/store/memory"
	"github.com/ara-foundation/ledger/transaction"
	"github.com/ara-foundation/ledger/types"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		out[mf.GetName()] = mf
	}
	return out
}

func TestPrometheusFactoryNames(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := observability.NewPrometheusFactory(reg)

	c := f.Counter("ledger.transfer.posted")
	c.Inc()
	c.Add(2)
	f.Histogram("ledger.transfer.amount").Observe(12.5)

	families := gather(t, reg)
	require.Contains(t, families, "ledger_transfer_posted_total")
	require.Contains(t, families, "ledger_transfer_amount")
	assert.Equal(t, 3.0, families["ledger_transfer_posted_total"].GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, uint64(1), families["ledger_transfer_amount"].GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestPrometheusFactoryReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	a := observability.NewPrometheusFactory(reg).Counter("ledger.issue.created")
	b := observability.NewPrometheusFactory(reg).Counter("ledger.issue.created")
	a.Inc()
	b.Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(a.(prometheus.Counter)))
}

func TestMetricsExtensionCountsLedgerEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))

	l := ledger.New(memory.New(), ledger.WithPlugin(metrics))
	ctx := context.Background()
	require.NoError(t, l.Start(ctx))
	t.Cleanup(func() { _ = l.Stop() })

	_, err := l.Transfer(ctx, "alice", "bob", types.Units(10), transaction.KindTransfer)
	require.NoError(t, err)
	_, err = l.Transfer(ctx, "alice", "bob", types.Units(1000), transaction.KindTransfer)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TransfersRejected.(prometheus.Counter)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TransfersPosted.(prometheus.Counter)))
	families := gather(t, reg)
	assert.Equal(t, 10.0, families["ledger_transfer_amount"].GetMetric()[0].GetHistogram().GetSampleSum())
}
