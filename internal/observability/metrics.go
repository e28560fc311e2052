package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SolverCollector bundles Prometheus metrics for the decomposition engine.
// It satisfies core.MetricsRecorder.
type SolverCollector struct {
	gatherer prometheus.Gatherer

	SubproblemSolves    *prometheus.CounterVec
	SubproblemDurations prometheus.Histogram
	Cuts                *prometheus.CounterVec
	CallbackDurations   prometheus.Histogram
	CallbackCuts        prometheus.Histogram
	MasterSolves        *prometheus.CounterVec
	MasterDurations     prometheus.Histogram
}

// NewSolverCollector registers solver metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSolverCollector(reg prometheus.Registerer) (*SolverCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	solves, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "designer_subproblem_solves_total",
		Help: "Recourse subproblem solves, labeled by solver status.",
	}, []string{"status"}), "designer_subproblem_solves_total")
	if err != nil {
		return nil, err
	}
	solveDurations, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "designer_subproblem_solve_duration_seconds",
		Help:    "Latency of a single recourse subproblem solve.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}), "designer_subproblem_solve_duration_seconds")
	if err != nil {
		return nil, err
	}
	cuts, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "designer_cuts_total",
		Help: "Cuts added to the master, labeled by kind (optimality or feasibility).",
	}, []string{"kind"}), "designer_cuts_total")
	if err != nil {
		return nil, err
	}
	callbacks, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "designer_callback_duration_seconds",
		Help:    "Duration of one lazy-constraint callback, including the subproblem sweep.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}), "designer_callback_duration_seconds")
	if err != nil {
		return nil, err
	}
	callbackCuts, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "designer_callback_cuts",
		Help:    "Number of cuts emitted by one callback.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	}), "designer_callback_cuts")
	if err != nil {
		return nil, err
	}
	masters, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "designer_master_solves_total",
		Help: "Master solves, labeled by the engine state they ended in.",
	}, []string{"state"}), "designer_master_solves_total")
	if err != nil {
		return nil, err
	}
	masterDurations, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "designer_master_solve_duration_seconds",
		Help:    "Wall-clock duration of a master branch-and-cut search.",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
	}), "designer_master_solve_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &SolverCollector{
		gatherer:            gatherer,
		SubproblemSolves:    solves,
		SubproblemDurations: solveDurations,
		Cuts:                cuts,
		CallbackDurations:   callbacks,
		CallbackCuts:        callbackCuts,
		MasterSolves:        masters,
		MasterDurations:     masterDurations,
	}, nil
}

// ObserveSubproblemSolve records one subproblem solve.
func (c *SolverCollector) ObserveSubproblemSolve(status string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.SubproblemSolves.WithLabelValues(status).Inc()
	c.SubproblemDurations.Observe(elapsed.Seconds())
}

// ObserveCut counts one cut of the given kind.
func (c *SolverCollector) ObserveCut(kind string) {
	if c == nil {
		return
	}
	c.Cuts.WithLabelValues(kind).Inc()
}

// ObserveCallback records one callback invocation.
func (c *SolverCollector) ObserveCallback(elapsed time.Duration, cuts int) {
	if c == nil {
		return
	}
	c.CallbackDurations.Observe(elapsed.Seconds())
	c.CallbackCuts.Observe(float64(cuts))
}

// ObserveMasterSolve records one master solve.
func (c *SolverCollector) ObserveMasterSolve(state string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.MasterSolves.WithLabelValues(state).Inc()
	c.MasterDurations.Observe(elapsed.Seconds())
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SolverCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SolverCollector) Handler() http.Handler {
	return Handler(c.Gatherer())
}

// Handler serves gatherer, or the default gatherer when nil.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}
