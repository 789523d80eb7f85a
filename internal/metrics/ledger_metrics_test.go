package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queijaria/backend/internal/domain"
)

func TestRecordMovementsCountsKindsAndOverdrafts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLedgerMetricsWithRegisterer(reg)

	m.RecordMovements([]domain.Movement{
		{Kind: domain.Entry, Batch: "A"},
		{Kind: domain.Exit, Batch: "A"},
		{Kind: domain.Exit, Batch: domain.OverdraftBatch},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.movements.WithLabelValues("entry")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.movements.WithLabelValues("exit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.overdrafts))
}

func TestSaleOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLedgerMetricsWithRegisterer(reg)

	m.RecordSaleFinalized(20 * time.Millisecond)
	m.RecordSaleFinalized(5 * time.Millisecond)
	m.RecordSaleReversed()
	m.RecordStockRejection("batch")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.salesFinalized))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.salesReversed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stockRejections.WithLabelValues("batch")))

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if mf.GetName() == "queijaria_sale_finalize_duration_seconds" {
			found = true
			assert.Equal(t, uint64(2), mf.GetMetric()[0].GetHistogram().GetSampleCount())
		}
	}
	assert.True(t, found)
}

func TestRegisteringTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewLedgerMetricsWithRegisterer(reg)
	second := NewLedgerMetricsWithRegisterer(reg)

	first.RecordSaleReversed()
	assert.Equal(t, 1.0, testutil.ToFloat64(second.salesReversed))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *LedgerMetrics
	assert.NotPanics(t, func() {
		m.RecordMovements([]domain.Movement{{Kind: domain.Exit}})
		m.RecordSaleFinalized(time.Second)
		m.RecordSaleReversed()
		m.RecordStockRejection("total")
	})
}
