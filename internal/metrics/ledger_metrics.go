package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"queijaria/backend/internal/domain"
)

// LedgerMetrics counts ledger writes and sale outcomes. A nil *LedgerMetrics records nothing.
type LedgerMetrics struct {
	movements        *prometheus.CounterVec
	salesFinalized   prometheus.Counter
	salesReversed    prometheus.Counter
	overdrafts       prometheus.Counter
	stockRejections  *prometheus.CounterVec
	finalizeDuration prometheus.Histogram
}

func NewLedgerMetrics() *LedgerMetrics {
	return NewLedgerMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func NewLedgerMetricsWithRegisterer(registerer prometheus.Registerer) *LedgerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &LedgerMetrics{
		movements: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "queijaria_ledger_movements_total",
			Help: "Ledger movements written, by kind",
		}, []string{"kind"}),
		salesFinalized: registerCounter(registerer, prometheus.CounterOpts{
			Name: "queijaria_sales_finalized_total",
			Help: "Sales committed",
		}),
		salesReversed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "queijaria_sales_reversed_total",
			Help: "Sales reversed",
		}),
		overdrafts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "queijaria_overdraft_exits_total",
			Help: "Exit movements written against the overdraft batch",
		}),
		stockRejections: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "queijaria_stock_rejections_total",
			Help: "Requests refused for lack of stock, by scope",
		}, []string{"scope"}),
		finalizeDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "queijaria_sale_finalize_duration_seconds",
			Help:    "Time spent allocating and committing a sale",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordMovements counts written movements. Suitable as a ledger change listener body.
func (m *LedgerMetrics) RecordMovements(written []domain.Movement) {
	if m == nil {
		return
	}
	for _, mv := range written {
		m.movements.WithLabelValues(mv.Kind.String()).Inc()
		if mv.Kind == domain.Exit && mv.Batch == domain.OverdraftBatch {
			m.overdrafts.Inc()
		}
	}
}

func (m *LedgerMetrics) RecordSaleFinalized(duration time.Duration) {
	if m == nil {
		return
	}
	m.salesFinalized.Inc()
	m.finalizeDuration.Observe(duration.Seconds())
}

func (m *LedgerMetrics) RecordSaleReversed() {
	if m == nil {
		return
	}
	m.salesReversed.Inc()
}

// RecordStockRejection counts a refusal; scope is "batch" or "total".
func (m *LedgerMetrics) RecordStockRejection(scope string) {
	if m == nil {
		return
	}
	m.stockRejections.WithLabelValues(scope).Inc()
}
