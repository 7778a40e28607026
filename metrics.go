package changefeed

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors updated by readers.
// All series are labelled by database.
type Metrics struct {
	PollsTotal    *prometheus.CounterVec
	PollDuration  *prometheus.HistogramVec
	BatchSize     *prometheus.HistogramVec
	ChangesTotal  *prometheus.CounterVec
	ErrorsTotal   *prometheus.CounterVec
	Pending       *prometheus.GaugeVec
	ReadersActive *prometheus.GaugeVec
}

// NewMetrics creates and registers reader metrics with registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Metrics{
		PollsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "changefeed_polls_total",
				Help: "Total number of change feed polls by outcome",
			},
			[]string{"database", "outcome"}, // outcome: ok, error
		),
		PollDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "changefeed_poll_duration_seconds",
				Help:    "Duration of change feed polls, including long-poll wait",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 90},
			},
			[]string{"database"},
		),
		BatchSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "changefeed_batch_records",
				Help:    "Number of records per delivered batch",
				Buckets: prometheus.ExponentialBuckets(1, 4, 7),
			},
			[]string{"database"},
		),
		ChangesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "changefeed_changes_total",
				Help: "Total number of change notifications delivered",
			},
			[]string{"database"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "changefeed_errors_total",
				Help: "Total number of failed polls by failure kind",
			},
			[]string{"database", "kind"}, // kind: transport, server, malformed, other
		),
		Pending: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "changefeed_pending",
				Help: "Pending mutations reported by the server after the last batch",
			},
			[]string{"database"},
		),
		ReadersActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "changefeed_readers_active",
				Help: "Number of running readers",
			},
			[]string{"database"},
		),
	}
}

func (m *Metrics) observePoll(db string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.PollDuration.WithLabelValues(db).Observe(time.Since(start).Seconds())
	if err != nil {
		m.PollsTotal.WithLabelValues(db, "error").Inc()
		m.ErrorsTotal.WithLabelValues(db, errorKind(err)).Inc()
		return
	}
	m.PollsTotal.WithLabelValues(db, "ok").Inc()
}

func (m *Metrics) observeBatch(db string, b Batch) {
	if m == nil {
		return
	}
	m.BatchSize.WithLabelValues(db).Observe(float64(len(b.Records)))
	m.ChangesTotal.WithLabelValues(db).Add(float64(len(b.Records)))
	m.Pending.WithLabelValues(db).Set(float64(b.Pending))
}

func (m *Metrics) readerStarted(db string) {
	if m == nil {
		return
	}
	m.ReadersActive.WithLabelValues(db).Inc()
}

func (m *Metrics) readerFinished(db string) {
	if m == nil {
		return
	}
	m.ReadersActive.WithLabelValues(db).Dec()
}
