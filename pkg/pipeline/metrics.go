package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nicktill/tinywatch/pkg/rollup"
)

const metricsPrefix = "watcher_"

// metrics are the pipeline's prometheus instruments.
type metrics struct {
	samplesWritten *prometheus.CounterVec
	writeErrors    *prometheus.CounterVec
	rollupRows     *prometheus.CounterVec
	rollupBuckets  *prometheus.CounterVec
	rollupErrors   *prometheus.CounterVec
	rollupDuration *prometheus.HistogramVec
	lastBucketEnd  *prometheus.GaugeVec
	rawPurged      *prometheus.CounterVec
	rawKept        *prometheus.GaugeVec
}

func newMetrics() *metrics {
	return &metrics{
		samplesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "samples_written_total",
			Help: "Raw samples appended to a source's raw log",
		}, []string{"source"}),
		writeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "write_errors_total",
			Help: "Failed raw batch appends",
		}, []string{"source"}),
		rollupRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "rollup_rows_total",
			Help: "Rows appended to rollup logs",
		}, []string{"source", "tier"}),
		rollupBuckets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "rollup_buckets_total",
			Help: "Closed buckets consumed by the rollup processor",
		}, []string{"source", "tier"}),
		rollupErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "rollup_errors_total",
			Help: "Failed rollup runs",
		}, []string{"source"}),
		rollupDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricsPrefix + "rollup_duration_seconds",
			Help:    "Time taken by one tier's rollup pass",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}, []string{"source", "tier"}),
		lastBucketEnd: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricsPrefix + "rollup_last_bucket_end_seconds",
			Help: "End of the most recently closed bucket, Unix seconds",
		}, []string{"source", "tier"}),
		rawPurged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "raw_purged_total",
			Help: "Raw samples removed by rotation",
		}, []string{"source"}),
		rawKept: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricsPrefix + "raw_kept",
			Help: "Raw samples kept by the last rotation",
		}, []string{"source"}),
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.samplesWritten, m.writeErrors,
		m.rollupRows, m.rollupBuckets, m.rollupErrors, m.rollupDuration, m.lastBucketEnd,
		m.rawPurged, m.rawKept,
	}
}

func (m *metrics) register(reg prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *metrics) observeRollup(res rollup.Result) {
	if res.Throttled {
		return
	}
	m.rollupRows.WithLabelValues(res.Source, res.Tier).Add(float64(len(res.Rows)))
	m.rollupBuckets.WithLabelValues(res.Source, res.Tier).Add(float64(res.Buckets))
	m.rollupDuration.WithLabelValues(res.Source, res.Tier).Observe(res.Duration.Seconds())
	m.lastBucketEnd.WithLabelValues(res.Source, res.Tier).Set(float64(res.State.LastBucketEnd))
}
