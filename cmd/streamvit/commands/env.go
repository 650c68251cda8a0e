package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/streamvit/pkg/config"
	"github.com/Sumatoshi-tech/streamvit/pkg/hmm"
	"github.com/Sumatoshi-tech/streamvit/pkg/observability"
	"github.com/Sumatoshi-tech/streamvit/pkg/observe"
	"github.com/Sumatoshi-tech/streamvit/pkg/version"
)

const (
	stdinInput        = "-"
	readHeaderTimeout = 5 * time.Second
)

// streamFlags are the flags shared by every command that decodes a stream.
// They override the matching config values only when set explicitly.
type streamFlags struct {
	model       string
	source      string
	input       string
	arithmetic  string
	start       int
	steps       int
	seed        int64
	rate        float64
	metricsAddr string
}

func (sf *streamFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&sf.model, "model", "m", "", "Model file, YAML or JSON (default: built-in 4-state model)")
	fs.StringVar(&sf.source, "source", config.SourceRandomWalk, "Observation source: random-walk, sample, file")
	fs.StringVarP(&sf.input, "input", "i", "", "Observation file for --source file ('-' reads stdin)")
	fs.StringVar(&sf.arithmetic, "arithmetic", hmm.Probability.String(), "Score arithmetic: probability, log")
	fs.IntVar(&sf.start, "start", 0, "State of the seed column")
	fs.IntVar(&sf.steps, "steps", config.DefaultSteps, "Observations to read (0 = until the source ends)")
	fs.Int64Var(&sf.seed, "seed", config.DefaultSeed, "Seed for generated observations")
	fs.Float64Var(&sf.rate, "rate", config.DefaultRate, "Generated observations per second (0 = unpaced)")
	fs.StringVar(&sf.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
}

func (sf *streamFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	overrides := []struct {
		flag string
		set  func()
	}{
		{"model", func() { cfg.Model.Path = sf.model }},
		{"source", func() { cfg.Session.Source = sf.source }},
		{"input", func() { cfg.Session.Input = sf.input }},
		{"arithmetic", func() { cfg.Decoder.Arithmetic = sf.arithmetic }},
		{"start", func() { cfg.Decoder.Start = sf.start }},
		{"steps", func() { cfg.Session.Steps = sf.steps }},
		{"seed", func() { cfg.Session.Seed = sf.seed }},
		{"rate", func() { cfg.Session.Rate = sf.rate }},
		{"metrics-addr", func() { cfg.Observability.MetricsAddr = sf.metricsAddr }},
	}

	for _, o := range overrides {
		if cmd.Flags().Changed(o.flag) {
			o.set()
		}
	}
}

// loadConfig reads the config file and environment, then applies flags.
// adjust runs before validation for command-specific overrides.
func loadConfig(
	cmd *cobra.Command, ro *rootOptions, sf *streamFlags, adjust func(*config.Config),
) (*config.Config, error) {
	cfg, err := config.LoadConfig(ro.configPath)
	if err != nil {
		return nil, err
	}

	if sf != nil {
		sf.apply(cmd, cfg)
	}

	if adjust != nil {
		adjust(cfg)
	}

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// appEnv holds what a decoding command needs after setup.
type appEnv struct {
	cfg        *config.Config
	model      *hmm.Model
	arithmetic hmm.Arithmetic
	providers  observability.Providers
	logger     *slog.Logger
	metrics    *observability.DecoderMetrics
	stopServer func(context.Context) error
}

func setup(cmd *cobra.Command, ro *rootOptions, cfg *config.Config, mode observability.AppMode) (*appEnv, error) {
	arithmetic, err := hmm.ParseArithmetic(cfg.Decoder.Arithmetic)
	if err != nil {
		return nil, err
	}

	model, err := loadModel(cfg.Model.Path)
	if err != nil {
		return nil, err
	}

	obsCfg, err := observabilityConfig(ro, cfg, mode, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	providers, err := observability.Init(obsCfg)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	env := &appEnv{
		cfg:        cfg,
		model:      model,
		arithmetic: arithmetic,
		providers:  providers,
		logger:     providers.Logger,
		stopServer: func(context.Context) error { return nil },
	}

	env.metrics, err = observability.NewDecoderMetrics(providers.Meter)
	if err != nil {
		env.close()

		return nil, err
	}

	if providers.MetricsHandler != nil {
		env.stopServer, err = serveMetrics(cfg.Observability.MetricsAddr, providers.MetricsHandler, env.logger)
		if err != nil {
			env.close()

			return nil, err
		}
	}

	env.logger.Debug("configured", "model", modelLabel(cfg.Model.Path), "states", model.States(),
		"symbols", model.Symbols(), "arithmetic", arithmetic.String())

	return env, nil
}

// close stops the metrics server and flushes telemetry.
func (e *appEnv) close() {
	ctx := context.Background()

	err := e.stopServer(ctx)
	if err != nil {
		e.logger.Warn("metrics server shutdown failed", "error", err)
	}

	err = e.providers.Shutdown(ctx)
	if err != nil {
		e.logger.Warn("observability shutdown failed", "error", err)
	}
}

// closeSource closes the observation source opened by openSource.
func (e *appEnv) closeSource(closeFn func() error) {
	err := closeFn()
	if err != nil {
		e.logger.Warn("closing observations failed", "error", err)
	}
}

func observabilityConfig(
	ro *rootOptions, cfg *config.Config, mode observability.AppMode, logOut io.Writer,
) (observability.Config, error) {
	level, err := observability.ParseLogLevel(cfg.Logging.Level)
	if err != nil {
		return observability.Config{}, err
	}

	switch {
	case ro.verbose:
		level = slog.LevelDebug
	case ro.quiet:
		level = slog.LevelError
	}

	oc := observability.DefaultConfig()
	oc.ServiceVersion = version.Version
	oc.Environment = cfg.Observability.Environment
	oc.Mode = mode
	oc.OTLPEndpoint = cfg.Observability.OTLPEndpoint
	oc.OTLPHeaders = observability.ParseOTLPHeaders(cfg.Observability.OTLPHeaders)
	oc.OTLPInsecure = cfg.Observability.OTLPInsecure
	oc.SampleRatio = cfg.Observability.SampleRatio
	oc.Prometheus = cfg.Observability.MetricsAddr != ""
	oc.LogLevel = level
	oc.LogJSON = ro.logJSON || cfg.Logging.Format == "json"
	oc.LogOutput = logOut

	return oc, nil
}

func serveMetrics(addr string, handler http.Handler, logger *slog.Logger) (func(context.Context) error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for metrics on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           observability.MetricsMux(handler),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		serveErr := srv.Serve(ln)
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", serveErr)
		}
	}()

	logger.Info("serving metrics", "addr", ln.Addr().String())

	return srv.Shutdown, nil
}

func loadModel(path string) (*hmm.Model, error) {
	if path == "" {
		return hmm.Default(), nil
	}

	model, err := hmm.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", path, err)
	}

	return model, nil
}

func modelLabel(path string) string {
	if path == "" {
		return "default"
	}

	return path
}

// openSource builds the configured observation source. Generated streams
// are paced at the configured rate; file streams are read as fast as they
// arrive.
func openSource(cfg *config.Config, model *hmm.Model, stdin io.Reader) (observe.Source, func() error, error) {
	gen := rand.New(rand.NewSource(cfg.Session.Seed)) //nolint:gosec // reproducible test streams

	switch cfg.Session.Source {
	case config.SourceRandomWalk:
		return observe.NewPaced(observe.NewRandomWalk(gen, model.Symbols()), cfg.Session.Rate), noClose, nil
	case config.SourceSample:
		return observe.NewPaced(observe.NewSampler(gen, model, false), cfg.Session.Rate), noClose, nil
	case config.SourceFile:
		if cfg.Session.Input == stdinInput {
			return observe.NewScanner(stdin, model.Symbols()), noClose, nil
		}

		f, err := os.Open(cfg.Session.Input)
		if err != nil {
			return nil, nil, fmt.Errorf("open observations: %w", err)
		}

		return observe.NewScanner(f, model.Symbols()), f.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", config.ErrInvalidSource, cfg.Session.Source)
	}
}

func noClose() error { return nil }

// inputKey identifies a stream for checkpoint matching.
func inputKey(cfg *config.Config) string {
	if cfg.Session.Source == config.SourceFile {
		if cfg.Session.Input == stdinInput {
			return "stdin"
		}

		abs, err := filepath.Abs(cfg.Session.Input)
		if err == nil {
			return abs
		}

		return cfg.Session.Input
	}

	return fmt.Sprintf("%s:seed=%d:model=%s", cfg.Session.Source, cfg.Session.Seed, modelLabel(cfg.Model.Path))
}
