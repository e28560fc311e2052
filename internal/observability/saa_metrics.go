package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/resilience-designer/saa"
)

// SAACollector exposes SAA-specific Prometheus metrics. It satisfies
// saa.MetricsRecorder.
type SAACollector struct {
	gatherer prometheus.Gatherer

	Batches        *prometheus.CounterVec
	BatchDurations prometheus.Histogram
	Evaluations    *prometheus.CounterVec
	Bounds         *prometheus.GaugeVec
}

// NewSAACollector registers SAA metrics against the provided registerer.
func NewSAACollector(reg prometheus.Registerer) (*SAACollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	batches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "designer_saa_batches_total",
		Help: "SAA training batches solved, labeled by whether the engine converged.",
	}, []string{"converged"})
	batches, err := registerCounterVec(reg, batches, "designer_saa_batches_total")
	if err != nil {
		return nil, err
	}

	batchHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "designer_saa_batch_duration_seconds",
		Help:    "Duration of one SAA training batch, sampling included.",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
	})
	batchHistogram, err = registerHistogram(reg, batchHistogram, "designer_saa_batch_duration_seconds")
	if err != nil {
		return nil, err
	}

	evaluations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "designer_saa_evaluations_total",
		Help: "Out-of-sample candidate evaluations, labeled by whether an earlier batch proposed the same policy.",
	}, []string{"repeat"})
	evaluations, err = registerCounterVec(reg, evaluations, "designer_saa_evaluations_total")
	if err != nil {
		return nil, err
	}

	bounds := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "designer_saa_bound",
		Help: "Latest SAA cost bounds, labeled by bound (lower or upper) and side (low, mean, high).",
	}, []string{"bound", "side"})
	bounds, err = registerGaugeVec(reg, bounds, "designer_saa_bound")
	if err != nil {
		return nil, err
	}

	return &SAACollector{
		gatherer:       gatherer,
		Batches:        batches,
		BatchDurations: batchHistogram,
		Evaluations:    evaluations,
		Bounds:         bounds,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SAACollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveBatch records a training batch.
func (c *SAACollector) ObserveBatch(converged bool, elapsed time.Duration) {
	if c == nil || c.Batches == nil {
		return
	}
	c.Batches.WithLabelValues(strconv.FormatBool(converged)).Inc()
	c.BatchDurations.Observe(elapsed.Seconds())
}

// ObserveEvaluation records a candidate evaluation.
func (c *SAACollector) ObserveEvaluation(repeat bool, _ time.Duration) {
	if c == nil || c.Evaluations == nil {
		return
	}
	c.Evaluations.WithLabelValues(strconv.FormatBool(repeat)).Inc()
}

// SetBound publishes the interval and mean of a bound.
func (c *SAACollector) SetBound(name string, b saa.CostBound) {
	if c == nil || c.Bounds == nil {
		return
	}
	c.Bounds.WithLabelValues(name, "low").Set(b.Low)
	c.Bounds.WithLabelValues(name, "mean").Set(b.Mean)
	c.Bounds.WithLabelValues(name, "high").Set(b.High)
}
