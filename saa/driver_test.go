package saa

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/resilience-designer/core"
	"github.com/signalsfoundry/resilience-designer/internal/logging"
	"github.com/signalsfoundry/resilience-designer/kb"
	"github.com/signalsfoundry/resilience-designer/model"
	"github.com/signalsfoundry/resilience-designer/sample"
)

const testWeeks = 20

func testParams() model.Params {
	p := model.DefaultParams()
	p.WeeksPerYear = testWeeks
	return p
}

// quietSampler returns undisrupted flat-demand scenarios and counts calls.
type quietSampler struct {
	mu    sync.Mutex
	calls int
}

func (s *quietSampler) Generate(nbDemand, nbDisruption int) ([]model.Scenario, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	demand := make([]int, testWeeks)
	for i := range demand {
		demand[i] = 100
	}
	out := make([]model.Scenario, nbDemand*nbDisruption)
	for i := range out {
		out[i] = model.MustScenario(demand, [model.NumFacilities]model.Outage{})
	}
	return out, nil
}

type recorder struct {
	batches, evaluations, repeats int
	bounds                        map[string]CostBound
}

func (r *recorder) ObserveBatch(bool, time.Duration) { r.batches++ }
func (r *recorder) ObserveEvaluation(repeat bool, _ time.Duration) {
	r.evaluations++
	if repeat {
		r.repeats++
	}
}
func (r *recorder) SetBound(name string, b CostBound) {
	if r.bounds == nil {
		r.bounds = map[string]CostBound{}
	}
	r.bounds[name] = b
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)
	return ctx
}

func TestRunWithoutDisruptionBoundsCollapse(t *testing.T) {
	p := testParams()
	s := &quietSampler{}
	rec := &recorder{}
	store := kb.NewKnowledgeBase()
	var added int
	store.Subscribe(func(e kb.Event) {
		if e.Type == kb.EventCandidateAdded {
			added++
		}
	})
	d, err := NewDriver(p, s, WithMetricsRecorder(rec), WithStore(store))
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}

	rep, err := d.Run(testContext(t), 2, 1, 2, 3)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if math.Abs(rep.Lower.Mean-3000) > 1e-6 || rep.Lower.Width() > 1e-6 {
		t.Fatalf("lower = %v", rep.Lower)
	}
	if math.Abs(rep.Upper.Mean-3000) > 1e-6 || rep.Upper.Width() > 1e-6 {
		t.Fatalf("upper = %v", rep.Upper)
	}
	if got := rep.Best.Policy.Options(); got != [model.NumFacilities]int{} {
		t.Fatalf("best options = %v", got)
	}
	if len(rep.PerPolicy) != 2 || rep.PerPolicy[0].Repeat || !rep.PerPolicy[1].Repeat {
		t.Fatalf("per policy = %+v", rep.PerPolicy)
	}
	// Two training batches and one fresh batch per candidate.
	if s.calls != 4 {
		t.Fatalf("sampler calls = %d, want 4", s.calls)
	}
	if rec.batches != 2 || rec.evaluations != 2 || rec.repeats != 1 {
		t.Fatalf("recorder = %+v", rec)
	}
	if _, ok := rec.bounds[BoundUpper]; !ok {
		t.Fatalf("upper bound not published")
	}
	if added != 2 || len(d.Store().ListCandidates()) != 2 {
		t.Fatalf("store saw %d candidates", added)
	}
	for _, c := range d.Store().ListCandidates() {
		if !c.Eligible() {
			t.Fatalf("candidate %d not eligible: %+v", c.Batch, c.Eval)
		}
	}
}

// levelSampler returns undisrupted scenarios whose flat demand is taken
// from levels, one level per call; the last level repeats.
type levelSampler struct {
	mu     sync.Mutex
	levels []int
	calls  int
}

func (s *levelSampler) Generate(nbDemand, nbDisruption int) ([]model.Scenario, error) {
	s.mu.Lock()
	level := s.levels[min(s.calls, len(s.levels)-1)]
	s.calls++
	s.mu.Unlock()
	demand := make([]int, testWeeks)
	for i := range demand {
		demand[i] = level
	}
	out := make([]model.Scenario, nbDemand*nbDisruption)
	for i := range out {
		out[i] = model.MustScenario(demand, [model.NumFacilities]model.Outage{})
	}
	return out, nil
}

func TestRunEvaluatesEveryCandidateOnFreshScenarios(t *testing.T) {
	p := testParams()
	// Three training batches, then one out-of-sample batch per candidate.
	// Demand above the DC transfer cap forces lost sales, so each
	// evaluation batch prices differently.
	s := &levelSampler{levels: []int{100, 100, 100, 100, 130, 140}}
	d, err := NewDriver(p, s)
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}

	rep, err := d.Run(testContext(t), 3, 1, 2, 2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.calls != 6 {
		t.Fatalf("sampler calls = %d, want 6", s.calls)
	}
	if len(rep.PerPolicy) != 3 {
		t.Fatalf("per policy = %+v", rep.PerPolicy)
	}
	for k, pb := range rep.PerPolicy {
		if pb.Policy.Key() != rep.PerPolicy[0].Policy.Key() {
			t.Fatalf("batch %d proposed %s, want the shared no-backup policy", pb.Batch, pb.Policy.Key())
		}
		if pb.Repeat != (k > 0) {
			t.Fatalf("batch %d repeat = %v", pb.Batch, pb.Repeat)
		}
	}
	m0, m1, m2 := rep.PerPolicy[0].Bound.Mean, rep.PerPolicy[1].Bound.Mean, rep.PerPolicy[2].Bound.Mean
	if math.Abs(m0-3000) > 1e-6 || !(m1 > m0+1) || !(m2 > m1+1) {
		t.Fatalf("out-of-sample means = %v, %v, %v, want increasing from 3000", m0, m1, m2)
	}
	if rep.Upper.Width() <= 0 {
		t.Fatalf("upper = %v, want positive width", rep.Upper)
	}
	if rep.BestBatch != rep.PerPolicy[0].Batch {
		t.Fatalf("best batch = %d, want %d", rep.BestBatch, rep.PerPolicy[0].Batch)
	}

	// A second run on the same driver starts with no remembered policies.
	s.levels, s.calls = []int{100}, 0
	rep, err = d.Run(testContext(t), 2, 1, 2, 2)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if rep.PerPolicy[0].Repeat || !rep.PerPolicy[1].Repeat || s.calls != 4 {
		t.Fatalf("second run per policy = %+v, calls = %d", rep.PerPolicy, s.calls)
	}
}

func TestRunInSampleMatchesOutOfSampleOnSameScenario(t *testing.T) {
	p := testParams()
	d, err := NewDriver(p, sample.Single{Params: p}, WithEngineOptions(core.WithWorkers(2)))
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	rep, err := d.Run(testContext(t), 1, 1, 1, 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rep.Candidates) != 1 || !rep.Best.Converged {
		t.Fatalf("report = %+v", rep)
	}
	// The out-of-sample batch is the training scenario again, so the
	// evaluated cost must equal the engine's bound.
	if diff := math.Abs(rep.Lower.Mean - rep.Upper.Mean); diff > 1e-5*math.Max(1, rep.Lower.Mean) {
		t.Fatalf("lower %v, upper %v", rep.Lower, rep.Upper)
	}
	if !rep.PerPolicy[0].Eligible {
		t.Fatalf("selected policy infeasible on its own scenario")
	}
}

// progressLogger closes seen on the first progress message.
type progressLogger struct {
	once sync.Once
	seen chan struct{}
}

func (l *progressLogger) Debug(context.Context, string, ...logging.Field) {}
func (l *progressLogger) Warn(context.Context, string, ...logging.Field)  {}
func (l *progressLogger) Error(context.Context, string, ...logging.Field) {}
func (l *progressLogger) With(...logging.Field) logging.Logger            { return l }
func (l *progressLogger) Info(_ context.Context, msg string, _ ...logging.Field) {
	if msg == "saa run progress" {
		l.once.Do(func() { close(l.seen) })
	}
}

// firstTickClock fires its first After immediately and never again.
type firstTickClock struct {
	mu    sync.Mutex
	fired bool
}

func (c *firstTickClock) Now() time.Time { return time.Unix(0, 0) }

func (c *firstTickClock) After(time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fired {
		return nil
	}
	c.fired = true
	ch := make(chan time.Time, 1)
	ch <- time.Unix(0, 0)
	return ch
}

// gatedSampler holds its first batch until gate closes.
type gatedSampler struct {
	quietSampler
	gate <-chan struct{}
}

func (s *gatedSampler) Generate(nbDemand, nbDisruption int) ([]model.Scenario, error) {
	select {
	case <-s.gate:
	case <-time.After(30 * time.Second):
		return nil, errors.New("no progress report before timeout")
	}
	return s.quietSampler.Generate(nbDemand, nbDisruption)
}

func TestRunReportsProgress(t *testing.T) {
	log := &progressLogger{seen: make(chan struct{})}
	s := &gatedSampler{gate: log.seen}
	d, err := NewDriver(testParams(), s, WithLogger(log), WithProgress(time.Second, &firstTickClock{}))
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	if _, err := d.Run(testContext(t), 1, 1, 1, 1); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRunValidatesArguments(t *testing.T) {
	p := testParams()
	d, err := NewDriver(p, &quietSampler{})
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	for _, args := range [][4]int{{0, 1, 1, 1}, {1, 0, 1, 1}, {1, 1, -1, 1}, {1, 1, 1, 0}} {
		if _, err := d.Run(testContext(t), args[0], args[1], args[2], args[3]); !errors.Is(err, ErrBadRun) {
			t.Fatalf("Run%v err = %v", args, err)
		}
	}
	if _, err := NewDriver(p, &quietSampler{}, WithConfidence(1.2)); !errors.Is(err, ErrBadConfidence) {
		t.Fatalf("bad confidence err = %v", err)
	}
	if _, err := NewDriver(p, nil); err == nil {
		t.Fatalf("expected error for nil sampler")
	}
}
