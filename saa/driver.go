package saa

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/resilience-designer/core"
	"github.com/signalsfoundry/resilience-designer/internal/logging"
	"github.com/signalsfoundry/resilience-designer/kb"
	"github.com/signalsfoundry/resilience-designer/model"
	"github.com/signalsfoundry/resilience-designer/sample"
	"github.com/signalsfoundry/resilience-designer/timectrl"
)

var (
	ErrBadRun       = errors.New("saa: batch and sample counts must be positive")
	ErrNoCandidates = errors.New("saa: no batch produced a converged policy")
	ErrNoEvaluation = errors.New("saa: no candidate could be evaluated out of sample")
)

// DefaultConfidence is the confidence level of both bounds.
const DefaultConfidence = 0.95

const defaultCacheSize = 128

// Bound names passed to MetricsRecorder.SetBound.
const (
	BoundLower = "lower"
	BoundUpper = "upper"
)

// MetricsRecorder receives progress of a Run.
type MetricsRecorder interface {
	ObserveBatch(converged bool, elapsed time.Duration)
	ObserveEvaluation(repeat bool, elapsed time.Duration)
	SetBound(name string, b CostBound)
}

type noopRecorder struct{}

func (noopRecorder) ObserveBatch(bool, time.Duration)      {}
func (noopRecorder) ObserveEvaluation(bool, time.Duration) {}
func (noopRecorder) SetBound(string, CostBound)            {}

// PolicyBound is the out-of-sample estimate of one candidate.
type PolicyBound struct {
	Batch      int
	Policy     model.PolicyParameters
	InSample   float64
	Bound      CostBound
	Infeasible int
	// Repeat is set when an earlier batch of the same run proposed this
	// policy. Its estimate still comes from its own fresh scenarios.
	Repeat   bool
	Eligible bool
}

// Report is the outcome of a Run.
type Report struct {
	Lower      CostBound
	Upper      CostBound
	PerPolicy  []PolicyBound
	Best       model.Solution
	BestBatch  int
	Candidates []model.Solution
	// Unconverged counts batches whose engine ended without a policy.
	Unconverged int
}

// Driver runs the SAA replications.
type Driver struct {
	params     model.Params
	sampler    sample.Sampler
	confidence float64
	engineOpts []core.EngineOption
	store      *kb.KnowledgeBase
	cacheSize  int
	seen       *lru.Cache[string, int]
	log        logging.Logger
	metrics    MetricsRecorder
	tracer     trace.Tracer

	progressEvery time.Duration
	clock         timectrl.Clock
}

// Option configures a Driver.
type Option func(*Driver)

// WithConfidence sets the confidence level of both bounds.
func WithConfidence(c float64) Option {
	return func(d *Driver) { d.confidence = c }
}

// WithEngineOptions passes options to every engine and evaluation.
func WithEngineOptions(opts ...core.EngineOption) Option {
	return func(d *Driver) { d.engineOpts = append(d.engineOpts, opts...) }
}

// WithStore records candidates and their evaluations in store.
func WithStore(store *kb.KnowledgeBase) Option {
	return func(d *Driver) {
		if store != nil {
			d.store = store
		}
	}
}

// WithCacheSize bounds the number of distinct policies a run remembers when
// flagging repeated candidates.
func WithCacheSize(n int) Option {
	return func(d *Driver) { d.cacheSize = n }
}

// WithLogger sets the driver logger.
func WithLogger(l logging.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.log = l
		}
	}
}

// WithMetricsRecorder installs a progress recorder.
func WithMetricsRecorder(r MetricsRecorder) Option {
	return func(d *Driver) {
		if r != nil {
			d.metrics = r
		}
	}
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(d *Driver) {
		if t != nil {
			d.tracer = t
		}
	}
}

// WithProgress logs the number of solved batches and evaluated candidates
// every interval of clock time while Run is active. A nil clock is the
// system clock.
func WithProgress(interval time.Duration, clock timectrl.Clock) Option {
	return func(d *Driver) {
		d.progressEvery = interval
		d.clock = clock
	}
}

// NewDriver returns a driver drawing scenarios from sampler.
func NewDriver(params model.Params, sampler sample.Sampler, opts ...Option) (*Driver, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if sampler == nil {
		return nil, errors.New("saa: nil sampler")
	}
	d := &Driver{
		params:     params,
		sampler:    sampler,
		confidence: DefaultConfidence,
		store:      kb.NewKnowledgeBase(),
		cacheSize:  defaultCacheSize,
		log:        logging.Noop(),
		metrics:    noopRecorder{},
		tracer:     otel.Tracer("github.com/signalsfoundry/resilience-designer/saa"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if !(d.confidence > 0 && d.confidence < 1) {
		return nil, fmt.Errorf("%w: got %v", ErrBadConfidence, d.confidence)
	}
	seen, err := lru.New[string, int](max(1, d.cacheSize))
	if err != nil {
		return nil, err
	}
	d.seen = seen
	return d, nil
}

// Store returns the knowledge base the driver records into.
func (d *Driver) Store() *kb.KnowledgeBase { return d.store }

// Run solves m batches of nbDemand*nbDisruption scenarios for the lower
// bound, then evaluates each candidate on n2 fresh scenarios for the upper
// bound and the selected policy.
func (d *Driver) Run(ctx context.Context, m, nbDemand, nbDisruption, n2 int) (Report, error) {
	if m <= 0 || n2 <= 0 || nbDemand <= 0 || nbDisruption <= 0 {
		return Report{}, fmt.Errorf("%w: m=%d n=%dx%d n2=%d", ErrBadRun, m, nbDemand, nbDisruption, n2)
	}
	ctx, log := logging.WithRunLogger(ctx, d.log)
	ctx, span := d.tracer.Start(ctx, "saa.run", trace.WithAttributes(
		attribute.String("run_id", logging.RunID(ctx)),
		attribute.Int("batches", m),
		attribute.Int("batch_size", nbDemand*nbDisruption),
		attribute.Int("out_of_sample", n2)))
	defer span.End()

	start := time.Now()
	log.Info(ctx, "saa run started",
		logging.Int("batches", m),
		logging.Int("batch_size", nbDemand*nbDisruption),
		logging.Int("out_of_sample", n2),
		logging.Float("confidence", d.confidence))

	var solved, evaluated atomic.Int64
	if d.progressEvery > 0 {
		ticker := timectrl.NewTicker(d.clock, d.progressEvery)
		ticker.AddListener(func(time.Time) {
			log.Info(ctx, "saa run progress",
				logging.Int("batches_solved", int(solved.Load())),
				logging.Int("batches", m),
				logging.Int("candidates_evaluated", int(evaluated.Load())),
				logging.Duration("elapsed", time.Since(start)))
		})
		stop := make(chan struct{})
		done := ticker.Start(stop)
		defer func() {
			close(stop)
			<-done
		}()
	}

	d.store.Reset()
	d.seen.Purge()
	var rep Report
	var inSample []float64
	var batches []int
	for i := 0; i < m; i++ {
		sol, err := d.solveBatch(ctx, log, i, nbDemand, nbDisruption)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return Report{}, err
		}
		solved.Add(1)
		if !sol.Converged {
			rep.Unconverged++
			continue
		}
		if err := d.store.AddCandidate(kb.Candidate{
			Batch:     i,
			Policy:    sol.Policy,
			InSample:  sol.TotalCost,
			Converged: true,
		}); err != nil {
			return Report{}, err
		}
		rep.Candidates = append(rep.Candidates, sol)
		batches = append(batches, i)
		inSample = append(inSample, sol.TotalCost)
	}
	if len(inSample) == 0 {
		span.SetStatus(codes.Error, ErrNoCandidates.Error())
		return Report{}, ErrNoCandidates
	}
	lower, err := NewCostBound(d.confidence, inSample)
	if err != nil {
		return Report{}, err
	}
	rep.Lower = lower
	d.metrics.SetBound(BoundLower, lower)
	log.Info(ctx, "saa lower bound", logging.String("bound", lower.String()))

	var means []float64
	for k, sol := range rep.Candidates {
		pb, err := d.evaluate(ctx, log, batches[k], sol, n2)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return Report{}, err
		}
		evaluated.Add(1)
		rep.PerPolicy = append(rep.PerPolicy, pb)
		if pb.Bound.N > 0 {
			means = append(means, pb.Bound.Mean)
		}
	}
	if len(means) == 0 {
		return Report{}, ErrNoEvaluation
	}
	upper, err := NewCostBound(d.confidence, means)
	if err != nil {
		return Report{}, err
	}
	rep.Upper = upper
	d.metrics.SetBound(BoundUpper, upper)

	best, ok := d.store.Best()
	if !ok {
		return Report{}, ErrNoEvaluation
	}
	for k, b := range batches {
		if b == best.Batch {
			rep.Best = rep.Candidates[k]
			rep.BestBatch = b
		}
	}
	if !best.Eligible() {
		log.Warn(ctx, "every candidate failed out of sample; selecting the cheapest anyway",
			logging.Batch(best.Batch))
	}

	span.SetAttributes(
		attribute.Float64("lower_mean", lower.Mean),
		attribute.Float64("upper_mean", upper.Mean),
		attribute.Int("best_batch", rep.BestBatch))
	log.Info(ctx, "saa run finished",
		logging.String("lower", lower.String()),
		logging.String("upper", upper.String()),
		logging.Int("best_batch", rep.BestBatch),
		logging.String("policy", rep.Best.Policy.String()),
		logging.Int("unconverged", rep.Unconverged),
		logging.Duration("elapsed", time.Since(start)))
	return rep, nil
}

// solveBatch samples one batch and solves its engine. The subproblems are
// released as soon as the master finishes, the master once the solution is
// read.
func (d *Driver) solveBatch(ctx context.Context, log logging.Logger, i, nbDemand, nbDisruption int) (model.Solution, error) {
	ctx, span := d.tracer.Start(ctx, "saa.batch", trace.WithAttributes(attribute.Int("batch", i)))
	defer span.End()
	start := time.Now()

	scenarios, err := d.sampler.Generate(nbDemand, nbDisruption)
	if err != nil {
		return model.Solution{}, fmt.Errorf("batch %d: sample: %w", i, err)
	}
	opts := append(append([]core.EngineOption(nil), d.engineOpts...), core.WithLogger(log))
	engine, err := core.NewEngine(d.params, scenarios, opts...)
	if err != nil {
		return model.Solution{}, fmt.Errorf("batch %d: %w", i, err)
	}
	defer engine.Release()

	sol, err := engine.Solve(ctx)
	engine.ReleaseSubproblems()
	if err != nil {
		return model.Solution{}, fmt.Errorf("batch %d: %w", i, err)
	}
	d.metrics.ObserveBatch(sol.Converged, time.Since(start))
	span.SetAttributes(
		attribute.Bool("converged", sol.Converged),
		attribute.Float64("total_cost", sol.TotalCost))
	if !sol.Converged {
		log.Warn(ctx, "saa batch did not converge",
			logging.Batch(i),
			logging.String("state", engine.State().String()),
			logging.String("status", sol.Status))
		return sol, nil
	}
	st := engine.Stats()
	log.Info(ctx, "saa batch solved",
		logging.Batch(i),
		logging.Float("total_cost", sol.TotalCost),
		logging.String("policy", sol.Policy.String()),
		logging.Int("optimality_cuts", st.OptimalityCuts),
		logging.Int("feasibility_cuts", st.FeasibilityCuts),
		logging.Duration("elapsed", time.Since(start)))
	return sol, nil
}

// evaluate estimates the out-of-sample cost of one candidate on n2 scenarios
// drawn for it alone.
func (d *Driver) evaluate(ctx context.Context, log logging.Logger, batch int, sol model.Solution, n2 int) (PolicyBound, error) {
	ctx, span := d.tracer.Start(ctx, "saa.evaluate", trace.WithAttributes(
		attribute.Int("batch", batch),
		attribute.String("policy", sol.Policy.Key())))
	defer span.End()
	start := time.Now()

	key := sol.Policy.Key()
	first, repeat := d.seen.Get(key)
	if repeat {
		log.Debug(ctx, "saa candidate repeats an earlier policy",
			logging.Batch(batch),
			logging.Int("first_batch", first))
	} else {
		d.seen.Add(key, batch)
	}
	scenarios, err := d.sampler.Generate(1, n2)
	if err != nil {
		return PolicyBound{}, fmt.Errorf("batch %d: sample: %w", batch, err)
	}
	opts := append(append([]core.EngineOption(nil), d.engineOpts...), core.WithLogger(log))
	ev, err := core.EvaluatePolicy(ctx, d.params, sol.Policy, scenarios, opts...)
	if err != nil {
		return PolicyBound{}, fmt.Errorf("batch %d: evaluate: %w", batch, err)
	}
	d.metrics.ObserveEvaluation(repeat, time.Since(start))

	pb := PolicyBound{
		Batch:      batch,
		Policy:     sol.Policy,
		InSample:   sol.TotalCost,
		Infeasible: ev.Infeasible,
		Repeat:     repeat,
	}
	if samples := ev.Samples(); len(samples) > 0 {
		bound, err := NewCostBound(d.confidence, samples)
		if err != nil {
			return PolicyBound{}, err
		}
		pb.Bound = bound
	}
	pb.Eligible = ev.Feasible() && ev.Anomalies == 0 && pb.Bound.N > 0

	if err := d.store.RecordEvaluation(batch, kb.Evaluation{
		Mean:       pb.Bound.Mean,
		Variance:   pb.Bound.Variance,
		Low:        pb.Bound.Low,
		High:       pb.Bound.High,
		Samples:    pb.Bound.N,
		Infeasible: ev.Infeasible + ev.Anomalies,
		Repeat:     repeat,
	}); err != nil {
		return PolicyBound{}, err
	}
	span.SetAttributes(attribute.Float64("mean", pb.Bound.Mean), attribute.Bool("repeat", repeat))
	log.Info(ctx, "saa candidate evaluated",
		logging.Batch(batch),
		logging.String("bound", pb.Bound.String()),
		logging.Int("infeasible", ev.Infeasible),
		logging.Bool("repeat", repeat),
		logging.Duration("elapsed", time.Since(start)))
	return pb, nil
}
