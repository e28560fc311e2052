package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/resilience-designer/core"
	"github.com/signalsfoundry/resilience-designer/internal/logging"
	"github.com/signalsfoundry/resilience-designer/model"
	"github.com/signalsfoundry/resilience-designer/saa"
	"github.com/signalsfoundry/resilience-designer/sample"
)

// deterministicCmd solves the unified model on the reference scenario.
func deterministicCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "deterministic",
		Short: "Solve the unified design model on the reference scenario",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, span := a.tracer.Start(cmd.Context(), "designer.deterministic")
			defer span.End()

			start := time.Now()
			scenarios, err := sample.Single{Params: a.cfg.Params}.Generate(1, 1)
			if err != nil {
				return err
			}
			opts, err := a.engineOptions()
			if err != nil {
				return err
			}
			u, err := core.NewUnifiedModel(a.cfg.Params, scenarios[0], opts...)
			if err != nil {
				return fmt.Errorf("build unified model: %w", err)
			}
			defer u.Release()

			sol, err := u.Solve(ctx)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return err
			}
			a.log.Info(ctx, "deterministic model finished", logging.Duration("elapsed", time.Since(start)))
			return a.report(cmd, "unified model", sol, nil)
		},
	}
}

// discreteCmd runs one multicut L-shaped solve over a sampled batch.
func discreteCmd(a *app) *cobra.Command {
	var demandPaths, patterns int
	cmd := &cobra.Command{
		Use:   "discrete",
		Short: "Solve the multicut L-shaped model over one sampled batch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("demand-paths") {
				a.cfg.SAA.DemandPaths = demandPaths
			}
			if cmd.Flags().Changed("disruption-patterns") {
				a.cfg.SAA.DisruptionPatterns = patterns
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			ctx, span := a.tracer.Start(cmd.Context(), "designer.discrete", trace.WithAttributes(
				attribute.String("sampler", a.cfg.SAA.Sampler),
				attribute.Int("demand_paths", a.cfg.SAA.DemandPaths),
				attribute.Int("disruption_patterns", a.cfg.SAA.DisruptionPatterns)))
			defer span.End()

			s, err := a.sampler()
			if err != nil {
				return err
			}
			scenarios, err := s.Generate(a.cfg.SAA.DemandPaths, a.cfg.SAA.DisruptionPatterns)
			if err != nil {
				return err
			}
			opts, err := a.engineOptions()
			if err != nil {
				return err
			}
			e, err := core.NewEngine(a.cfg.Params, scenarios, opts...)
			if err != nil {
				return err
			}
			defer e.Release()

			start := time.Now()
			sol, err := e.Solve(ctx)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return err
			}
			st := e.Stats()
			a.log.Info(ctx, "discrete model finished",
				logging.Int("scenarios", len(scenarios)),
				logging.Int("optimality_cuts", st.OptimalityCuts),
				logging.Int("feasibility_cuts", st.FeasibilityCuts),
				logging.Duration("elapsed", time.Since(start)))
			return a.report(cmd, fmt.Sprintf("multicut L-shaped model over %d scenarios", len(scenarios)), sol, nil)
		},
	}
	cmd.Flags().IntVar(&demandPaths, "demand-paths", 0, "Demand paths in the batch (default from config)")
	cmd.Flags().IntVar(&patterns, "disruption-patterns", 0, "Disruption patterns crossed with each demand path (default from config)")
	return cmd
}

// fullCmd runs the sampled average approximation.
func fullCmd(a *app) *cobra.Command {
	var (
		batches, demandPaths, patterns, evalSize int
		confidence                               float64
	)
	cmd := &cobra.Command{
		Use:   "full",
		Short: "Run the sampled average approximation with confidence bounds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			if flags.Changed("batches") {
				a.cfg.SAA.Batches = batches
			}
			if flags.Changed("demand-paths") {
				a.cfg.SAA.DemandPaths = demandPaths
			}
			if flags.Changed("disruption-patterns") {
				a.cfg.SAA.DisruptionPatterns = patterns
			}
			if flags.Changed("evaluation-size") {
				a.cfg.SAA.EvaluationSize = evalSize
			}
			if flags.Changed("confidence") {
				a.cfg.SAA.Confidence = confidence
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			s, err := a.sampler()
			if err != nil {
				return err
			}
			opts, err := a.engineOptions()
			if err != nil {
				return err
			}
			d, err := saa.NewDriver(a.cfg.Params, s,
				saa.WithConfidence(a.cfg.SAA.Confidence),
				saa.WithEngineOptions(opts...),
				saa.WithCacheSize(a.cfg.SAA.CacheSize),
				saa.WithLogger(a.log),
				saa.WithMetricsRecorder(a.runs),
				saa.WithTracer(a.tracer))
			if err != nil {
				return err
			}
			c := a.cfg.SAA
			rep, err := d.Run(cmd.Context(), c.Batches, c.DemandPaths, c.DisruptionPatterns, c.EvaluationSize)
			if err != nil {
				return err
			}
			return a.report(cmd, "sampled average approximation", rep.Best, &rep)
		},
	}
	f := cmd.Flags()
	f.IntVar(&batches, "batches", 0, "Training batches M (default from config)")
	f.IntVar(&demandPaths, "demand-paths", 0, "Demand paths per batch (default from config)")
	f.IntVar(&patterns, "disruption-patterns", 0, "Disruption patterns per demand path (default from config)")
	f.IntVar(&evalSize, "evaluation-size", 0, "Out-of-sample scenarios N2 (default from config)")
	f.Float64Var(&confidence, "confidence", 0, "Confidence level of the bounds (default from config)")
	return cmd
}

// evaluateCmd prices a fixed policy on loaded or sampled scenarios.
func evaluateCmd(a *app) *cobra.Command {
	var policyPath, scenarioPath string
	var size int
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a fixed policy on a scenario file or a fresh sample",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, span := a.tracer.Start(cmd.Context(), "designer.evaluate")
			defer span.End()

			pp := model.NoBackupPolicy(a.cfg.Params)
			if policyPath != "" {
				loaded, err := loadFile(policyPath, func(f *os.File, format string) (model.PolicyParameters, error) {
					return core.LoadPolicy(f, format, a.cfg.Params)
				})
				if err != nil {
					return err
				}
				pp = loaded
			}

			var scenarios []model.Scenario
			if scenarioPath != "" {
				loaded, err := loadFile(scenarioPath, func(f *os.File, format string) ([]model.Scenario, error) {
					return core.LoadScenarios(f, format, a.cfg.Params)
				})
				if err != nil {
					return err
				}
				scenarios = loaded
			} else {
				if size <= 0 {
					size = a.cfg.SAA.EvaluationSize
				}
				s, err := a.sampler()
				if err != nil {
					return err
				}
				if scenarios, err = s.Generate(1, size); err != nil {
					return err
				}
			}
			span.SetAttributes(attribute.String("policy", pp.Key()), attribute.Int("scenarios", len(scenarios)))

			opts, err := a.engineOptions()
			if err != nil {
				return err
			}
			ev, err := core.EvaluatePolicy(ctx, a.cfg.Params, pp, scenarios, opts...)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return err
			}
			var bound *saa.CostBound
			if samples := ev.Samples(); len(samples) > 0 {
				b, err := saa.NewCostBound(a.cfg.SAA.Confidence, samples)
				if err != nil {
					return err
				}
				bound = &b
			}
			return a.reportEvaluation(cmd, ev, bound)
		},
	}
	f := cmd.Flags()
	f.StringVar(&policyPath, "policy", "", "Policy file (JSON or YAML); default is no backup and no buffers")
	f.StringVar(&scenarioPath, "scenarios", "", "Scenario file (JSON or YAML); default is a fresh sample")
	f.IntVar(&size, "size", 0, "Sampled scenarios when no file is given (default evaluation_size)")
	return cmd
}

// loadFile opens path and decodes it with the format implied by its
// extension.
func loadFile[T any](path string, decode func(*os.File, string) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, err
	}
	defer f.Close()
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	v, err := decode(f, format)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}
