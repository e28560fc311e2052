// Command designer computes supply-chain resilience policies: the
// deterministic unified model, a single multicut L-shaped solve over a
// sampled batch, the full sampled average approximation, or the evaluation
// of a fixed policy.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/resilience-designer/core"
	"github.com/signalsfoundry/resilience-designer/internal/config"
	"github.com/signalsfoundry/resilience-designer/internal/logging"
	"github.com/signalsfoundry/resilience-designer/internal/observability"
	"github.com/signalsfoundry/resilience-designer/internal/solver"
	"github.com/signalsfoundry/resilience-designer/sample"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app carries what every subcommand needs once the configuration is
// resolved.
type app struct {
	configPath string
	output     string
	flags      globalFlags

	cfg     config.Config
	log     logging.Logger
	reg     *prometheus.Registry
	solver  *observability.SolverCollector
	runs    *observability.SAACollector
	tracer  trace.Tracer
	metrics *http.Server
	tracing *observability.Tracing
}

// globalFlags are bound to persistent flags and applied over the loaded
// configuration only when set on the command line.
type globalFlags struct {
	risk        string
	workers     int
	timeLimit   time.Duration
	nodeLimit   int
	sampler     string
	seed        uint64
	logLevel    string
	metricsAddr string
}

func newRootCmd() *cobra.Command { return (&app{}).rootCmd() }

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "designer",
		Short: "Supply-chain resilience policy designer",
		Long: `Chooses backup capacity contracts and buffer stocks for a
supplier, plant and distribution centre under random demand and facility
outages, using multicut Benders decomposition and sampled average
approximation.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			a.teardown(cmd.Context())
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	pf.StringVarP(&a.output, "output", "o", "table", "Output format: table or json")
	pf.StringVar(&a.flags.risk, "risk", core.RiskNeutral, "Risk measure: neutral, robust, variabilityIdx, probFinancialRisk, downsideRisk")
	pf.IntVar(&a.flags.workers, "workers", 1, "Goroutines solving subproblems in parallel")
	pf.DurationVar(&a.flags.timeLimit, "time-limit", 0, "Wall-clock limit of each master search (0 = none)")
	pf.IntVar(&a.flags.nodeLimit, "node-limit", 0, "Branch-and-bound node limit of each master search (0 = solver default)")
	pf.StringVar(&a.flags.sampler, "sampler", sample.KindMonteCarlo, "Scenario sampler: single, montecarlo, lhs, ihs")
	pf.Uint64Var(&a.flags.seed, "seed", 1, "Sampler seed")
	pf.StringVar(&a.flags.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pf.StringVar(&a.flags.metricsAddr, "metrics-addr", "", "Serve Prometheus /metrics on this address while running")

	root.AddCommand(
		deterministicCmd(a),
		discreteCmd(a),
		fullCmd(a),
		evaluateCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.applyFlags(cmd, &cfg)
	if a.output != "table" && a.output != "json" {
		return fmt.Errorf("unsupported output format %q", a.output)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logging.New(cfg.LoggerConfig(cmd.ErrOrStderr()))

	a.reg = prometheus.NewRegistry()
	if a.solver, err = observability.NewSolverCollector(a.reg); err != nil {
		return err
	}
	if a.runs, err = observability.NewSAACollector(a.reg); err != nil {
		return err
	}

	ctx := cmd.Context()
	tracing := cfg.Tracing
	tracing.Writer = cmd.ErrOrStderr()
	if a.tracing, err = observability.InitTracing(ctx, tracing, a.log); err != nil {
		return err
	}
	a.tracer = a.tracing.Tracer()
	a.metrics = serveMetrics(cfg.Metrics.Addr, a.reg, a.log)
	return nil
}

// applyFlags copies explicitly set persistent flags into cfg.
func (a *app) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("risk") {
		cfg.Solver.RiskMeasure = a.flags.risk
	}
	if flags.Changed("workers") {
		cfg.Solver.Workers = a.flags.workers
	}
	if flags.Changed("time-limit") {
		cfg.Solver.TimeLimit = a.flags.timeLimit
	}
	if flags.Changed("node-limit") {
		cfg.Solver.NodeLimit = a.flags.nodeLimit
	}
	if flags.Changed("sampler") {
		cfg.SAA.Sampler = a.flags.sampler
	}
	if flags.Changed("seed") {
		cfg.SAA.Seed = a.flags.seed
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = a.flags.logLevel
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = a.flags.metricsAddr
	}
}

func (a *app) teardown(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	a.tracing.Shutdown(ctx)
	if a.metrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.metrics.Shutdown(shutdownCtx)
	}
}

// engineOptions translates the solver section into engine options.
func (a *app) engineOptions() ([]core.EngineOption, error) {
	risk, err := a.cfg.RiskMeasure()
	if err != nil {
		return nil, err
	}
	opts := []core.EngineOption{
		core.WithRiskMeasure(risk),
		core.WithWorkers(a.cfg.Solver.Workers),
		core.WithLogger(a.log),
		core.WithMetricsRecorder(a.solver),
	}
	if a.cfg.Solver.TimeLimit > 0 {
		opts = append(opts, core.WithTimeLimit(a.cfg.Solver.TimeLimit, nil))
	}
	if a.cfg.Solver.NodeLimit > 0 {
		opts = append(opts, core.WithMasterSolverOptions(solver.WithNodeLimit(a.cfg.Solver.NodeLimit)))
	}
	return opts, nil
}

func (a *app) sampler() (sample.Sampler, error) {
	return sample.New(a.cfg.SAA.Sampler, a.cfg.Params, a.cfg.SAA.Seed)
}

func serveMetrics(addr string, gatherer prometheus.Gatherer, log logging.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(gatherer))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

// out is where reports are written.
func out(cmd *cobra.Command) io.Writer { return cmd.OutOrStdout() }
