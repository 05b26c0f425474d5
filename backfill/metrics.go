package backfill

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the backfill's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	units         *prometheus.CounterVec
	rows          *prometheus.CounterVec
	apiRequests   *prometheus.CounterVec
	unitDuration  prometheus.Histogram
	lastCompleted *prometheus.GaugeVec
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		units: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dhworkers_backfill_units_total",
				Help: "Backfill units by outcome",
			},
			[]string{"run", "outcome"}, // outcome=succeeded/failed/skipped
		),
		rows: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dhworkers_rows_written_total",
				Help: "Rows written by table and outcome",
			},
			[]string{"table", "outcome"}, // outcome=inserted/updated/rejected
		),
		apiRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dhworkers_racing_api_requests_total",
				Help: "Racing API round trips by endpoint and HTTP status",
			},
			[]string{"endpoint", "status"}, // status=0 for transport errors
		),
		unitDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dhworkers_backfill_unit_duration_seconds",
				Help:    "Wall time to fetch, process and commit one unit",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17min
			},
		),
		lastCompleted: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dhworkers_backfill_last_completed_timestamp_seconds",
				Help: "Date of the last committed unit as Unix epoch seconds",
			},
			[]string{"run"},
		),
	}
}

// ObserveRequest counts one API round trip. It matches racingapi.Options.OnRequest.
func (m *Metrics) ObserveRequest(endpoint string, status int) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}

func (m *Metrics) unit(run, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.units.WithLabelValues(run, outcome).Inc()
	m.unitDuration.Observe(took.Seconds())
}

func (m *Metrics) written(c Counts) {
	if m == nil {
		return
	}
	for _, t := range c.Tables {
		m.rows.WithLabelValues(t.Table, "inserted").Add(float64(t.Inserted))
		m.rows.WithLabelValues(t.Table, "updated").Add(float64(t.Updated))
		if n := len(t.Errors); n > 0 {
			m.rows.WithLabelValues(t.Table, "rejected").Add(float64(n))
		}
	}
}

func (m *Metrics) completed(run string, day time.Time) {
	if m == nil {
		return
	}
	m.lastCompleted.WithLabelValues(run).Set(float64(day.Unix()))
}
