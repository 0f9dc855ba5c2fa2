package runtime

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the executor's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	Sections *prometheus.CounterVec
	Txs      prometheus.Counter
	Gas      prometheus.Histogram
	Bundles  prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Sections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sanskrit",
			Subsystem: "runtime",
			Name:      "sections_total",
			Help:      "Bundle sections executed, by outcome.",
		}, []string{"outcome"}),
		Txs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sanskrit",
			Subsystem: "runtime",
			Name:      "transactions_total",
			Help:      "Transactions executed in committed sections.",
		}),
		Gas: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sanskrit",
			Subsystem: "runtime",
			Name:      "section_gas",
			Help:      "Gas consumed per section.",
			Buckets:   prometheus.ExponentialBuckets(100, 4, 10),
		}),
		Bundles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sanskrit",
			Subsystem: "runtime",
			Name:      "bundles_total",
			Help:      "Bundles executed.",
		}),
	}
	for _, c := range []prometheus.Collector{m.Sections, m.Txs, m.Gas, m.Bundles} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) section(r *SectionResult) {
	if m == nil {
		return
	}
	outcome := "committed"
	if !r.Committed {
		outcome = "aborted"
	} else {
		m.Txs.Add(float64(r.Txs))
	}
	m.Sections.WithLabelValues(outcome).Inc()
	m.Gas.Observe(float64(r.GasUsed))
}

func (m *Metrics) bundle() {
	if m != nil {
		m.Bundles.Inc()
	}
}
