// Package config loads the designer's run configuration: the supply-chain
// constants, solver limits, SAA sizes and the ambient logging, tracing and
// metrics settings. Values come from defaults, then an optional YAML file,
// then DESIGNER_* environment variables; command-line flags are applied
// last by the caller before Validate.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/resilience-designer/core"
	"github.com/signalsfoundry/resilience-designer/internal/logging"
	"github.com/signalsfoundry/resilience-designer/internal/observability"
	"github.com/signalsfoundry/resilience-designer/model"
	"github.com/signalsfoundry/resilience-designer/saa"
	"github.com/signalsfoundry/resilience-designer/sample"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the complete run configuration.
type Config struct {
	Params  model.Params                `yaml:"params"`
	Solver  SolverConfig                `yaml:"solver"`
	SAA     SAAConfig                   `yaml:"saa"`
	Logging LoggingConfig               `yaml:"logging"`
	Tracing observability.TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig               `yaml:"metrics"`
}

// SolverConfig bounds the decomposition engine.
type SolverConfig struct {
	RiskMeasure string        `yaml:"risk_measure" validate:"riskmeasure"`
	Workers     int           `yaml:"workers" validate:"gte=1"`
	TimeLimit   time.Duration `yaml:"time_limit" validate:"gte=0"`
	NodeLimit   int           `yaml:"node_limit" validate:"gte=0"`
}

// SAAConfig sizes the sampled average approximation.
type SAAConfig struct {
	Sampler            string  `yaml:"sampler" validate:"oneof=single montecarlo lhs ihs"`
	Seed               uint64  `yaml:"seed"`
	Batches            int     `yaml:"batches" validate:"gte=1"`
	DemandPaths        int     `yaml:"demand_paths" validate:"gte=1"`
	DisruptionPatterns int     `yaml:"disruption_patterns" validate:"gte=1"`
	EvaluationSize     int     `yaml:"evaluation_size" validate:"gte=1"`
	Confidence         float64 `yaml:"confidence" validate:"gt=0,lt=1"`
	CacheSize          int     `yaml:"cache_size" validate:"gte=0"`
}

// LoggingConfig mirrors logging.Config for file-based configuration.
type LoggingConfig struct {
	Level     string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format    string `yaml:"format" validate:"omitempty,oneof=text json"`
	AddSource bool   `yaml:"add_source"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Params: model.DefaultParams(),
		Solver: SolverConfig{
			RiskMeasure: core.RiskNeutral,
			Workers:     1,
		},
		SAA: SAAConfig{
			Sampler:            sample.KindMonteCarlo,
			Seed:               1,
			Batches:            10,
			DemandPaths:        5,
			DisruptionPatterns: 4,
			EvaluationSize:     200,
			Confidence:         saa.DefaultConfidence,
			CacheSize:          128,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Tracing: observability.DefaultTracingConfig(),
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment. The result is not validated so that
// callers can apply flags first.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := Decode(f, &cfg); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode overlays the YAML document in r onto cfg. Unknown keys are errors.
func Decode(r io.Reader, cfg *Config) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// ApplyEnv overrides cfg from the environment. LOG_LEVEL and LOG_FORMAT are
// the usual slog switches; tracing uses the DESIGNER_TRACING_*
// variables read by observability.ApplyTracingEnv.
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := os.Getenv("DESIGNER_RISK_MEASURE"); v != "" {
		cfg.Solver.RiskMeasure = v
	}
	if v := os.Getenv("DESIGNER_SAMPLER"); v != "" {
		cfg.SAA.Sampler = strings.ToLower(v)
	}
	if v := os.Getenv("DESIGNER_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("DESIGNER_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DESIGNER_WORKERS: %w", err)
		}
		cfg.Solver.Workers = n
	}
	if v := os.Getenv("DESIGNER_TIME_LIMIT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("DESIGNER_TIME_LIMIT: %w", err)
		}
		cfg.Solver.TimeLimit = d
	}
	if v := os.Getenv("DESIGNER_SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("DESIGNER_SEED: %w", err)
		}
		cfg.SAA.Seed = seed
	}
	cfg.Tracing = observability.ApplyTracingEnv(cfg.Tracing)
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("riskmeasure", func(fl validator.FieldLevel) bool {
		_, err := core.ParseRiskMeasure(fl.Field().String(), model.DefaultParams())
		return err == nil
	})
	return v
}

// Validate checks the struct tags and the cross-field rules of Params.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Params.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// RiskMeasure resolves the configured measure against Params.
func (c Config) RiskMeasure() (core.RiskMeasure, error) {
	return core.ParseRiskMeasure(c.Solver.RiskMeasure, c.Params)
}

// LoggerConfig converts the logging section, writing to out.
func (c Config) LoggerConfig(out io.Writer) logging.Config {
	return logging.Config{
		Level:     c.Logging.Level,
		Format:    c.Logging.Format,
		AddSource: c.Logging.AddSource,
		Output:    out,
	}
}
