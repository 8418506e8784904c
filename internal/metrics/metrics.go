// Package metrics exposes import counters on a private Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/JonMunkholm/warranty/internal/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the import metrics and implements core.RunObserver.
type Registry struct {
	reg *prometheus.Registry

	Imports       *prometheus.CounterVec
	Rows          *prometheus.CounterVec
	Rejections    *prometheus.CounterVec
	Decisions     *prometheus.CounterVec
	Written       *prometheus.CounterVec
	ChunkErrors   *prometheus.CounterVec
	Duration      prometheus.Histogram
	LastSuccessTS prometheus.Gauge
}

var _ core.RunObserver = (*Registry)(nil)

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()

	imports := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warranty_imports_total",
		Help: "Import runs by final phase.",
	}, []string{"phase"})
	rows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warranty_import_rows_total",
		Help: "Spreadsheet rows seen, by validity.",
	}, []string{"result"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warranty_import_rejections_total",
		Help: "Row rejections by reason and field.",
	}, []string{"reason"})
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warranty_reconcile_orders_total",
		Help: "Valid orders by reconciliation decision.",
	}, []string{"decision"})
	written := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warranty_orders_written_total",
		Help: "Orders written to storage, by write path.",
	}, []string{"kind"})
	chunkErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warranty_chunk_errors_total",
		Help: "Failed write chunks by kind and error code.",
	}, []string{"kind", "code"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "warranty_import_duration_seconds",
		Help:    "Wall time of import runs.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
	})
	lastSuccess := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "warranty_last_successful_import_timestamp_seconds",
		Help: "Unix time of the last import that completed.",
	})

	r.MustRegister(imports, rows, rejections, decisions, written, chunkErrors, duration, lastSuccess,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{
		reg:           r,
		Imports:       imports,
		Rows:          rows,
		Rejections:    rejections,
		Decisions:     decisions,
		Written:       written,
		ChunkErrors:   chunkErrors,
		Duration:      duration,
		LastSuccessTS: lastSuccess,
	}
}

// ImportFinished records one finished run.
func (r *Registry) ImportFinished(res *core.ImportResult) {
	if res == nil {
		return
	}
	r.Imports.WithLabelValues(string(res.Phase)).Inc()
	r.Duration.Observe(res.Duration.Seconds())

	v := res.Validation
	r.Rows.WithLabelValues("valid").Add(float64(v.ValidRecords))
	r.Rows.WithLabelValues("rejected").Add(float64(v.RejectedRecords))
	for reason, n := range v.RejectionReasons {
		r.Rejections.WithLabelValues(reason).Add(float64(n))
	}

	s := res.Reconciliation
	r.Decisions.WithLabelValues(string(core.DecisionNew)).Add(float64(s.NewCount))
	r.Decisions.WithLabelValues(string(core.DecisionFullyProtected)).Add(float64(s.FullyProtectedCount))
	r.Decisions.WithLabelValues(string(core.DecisionMerge)).Add(float64(s.MergedCount))

	a := res.Apply
	r.Written.WithLabelValues(string(core.ChunkInsert)).Add(float64(a.InsertedCount))
	r.Written.WithLabelValues(string(core.ChunkMerge)).Add(float64(a.MergedCount))
	for _, ce := range a.PerChunkErrors {
		r.ChunkErrors.WithLabelValues(string(ce.Kind), ce.Code).Inc()
	}

	if res.Phase == core.PhaseComplete {
		r.LastSuccessTS.SetToCurrentTime()
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
