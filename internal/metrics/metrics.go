// Package metrics exports benchmark timings as Prometheus metrics.
package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"SessionBench/internal/scenario"
)

const namespace = "sessionbench"

// Recorder collects trial and corpus build timings in its own registry.
// It implements scenario.Observer.
type Recorder struct {
	registry *prometheus.Registry

	trialDuration *prometheus.HistogramVec
	buildDuration *prometheus.HistogramVec
	corpusSize    *prometheus.GaugeVec
	samples       *prometheus.CounterVec
}

// NewRecorder creates a recorder with all metrics registered.
func NewRecorder() *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}

	r.trialDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "trial_duration_seconds",
		Help:      "Wall time of one timed membership operation",
		Buckets:   prometheus.ExponentialBuckets(1e-6, 2, 24),
	}, []string{"operation", "size"})

	r.buildDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "corpus_build_seconds",
		Help:      "Wall time of building one corpus",
		Buckets:   prometheus.ExponentialBuckets(1e-3, 2, 20),
	}, []string{"operation"})

	r.corpusSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "corpus_size",
		Help:      "Size of the most recently built corpus",
	}, []string{"operation"})

	r.samples = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "samples_total",
		Help:      "Number of recorded samples",
	}, []string{"operation"})

	r.registry.MustRegister(
		r.trialDuration,
		r.buildDuration,
		r.corpusSize,
		r.samples,
	)

	return r
}

// CorpusBuilt records a corpus build.
func (r *Recorder) CorpusBuilt(kind scenario.OperationKind, size int, elapsed time.Duration) {
	r.buildDuration.WithLabelValues(kind.String()).Observe(elapsed.Seconds())
	r.corpusSize.WithLabelValues(kind.String()).Set(float64(size))
}

// SampleRecorded records one trial.
func (r *Recorder) SampleRecorded(s scenario.Sample) {
	op := s.Kind.String()

	r.trialDuration.WithLabelValues(op, strconv.Itoa(s.CorpusSize)).Observe(s.Duration.Seconds())
	r.samples.WithLabelValues(op).Inc()
}

// Registry returns the registry holding the recorder's metrics.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile writes all metrics to path in the text exposition format.
// The file is replaced atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics to %s:\n%w", path, err)
	}

	return nil
}
