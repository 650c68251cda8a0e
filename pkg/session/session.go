// Package session drives a streaming decoder over an observation source.
//
// In window mode the decoder is reset every Window observations, flushed,
// and its output compared with the batch oracle over the same window. In
// continuous mode it runs until the source ends and flushes once.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/streamvit/pkg/hmm"
	"github.com/Sumatoshi-tech/streamvit/pkg/observability"
	"github.com/Sumatoshi-tech/streamvit/pkg/observe"
	"github.com/Sumatoshi-tech/streamvit/pkg/oracle"
	"github.com/Sumatoshi-tech/streamvit/pkg/viterbi"
)

// ErrConfig is returned for an invalid runner configuration.
var ErrConfig = errors.New("session: invalid configuration")

const tracerName = "github.com/Sumatoshi-tech/streamvit/pkg/session"

// Config controls a run.
type Config struct {
	// Window is the window length; zero selects continuous mode.
	Window int

	// Steps caps the observations read by this run; zero reads to EOF.
	Steps int

	// Start is the state of the seed column.
	Start int

	// Arithmetic selects the score domain of decoder and oracle.
	Arithmetic hmm.Arithmetic

	// Trace keeps per-step node and column counts in the reports.
	Trace bool

	// History keeps the decoded stream inside the decoder in continuous mode.
	History bool

	// CheckpointEvery is the checkpoint interval in observations.
	CheckpointEvery int
}

// Checkpointer persists a streaming decoder.
type Checkpointer interface {
	Checkpoint(d *viterbi.Decoder, consumed int) error
}

// Restorer loads a saved decoder and reports how many observations it had
// consumed.
type Restorer interface {
	Resume(d *viterbi.Decoder) (int, error)
}

// Runner runs decoding sessions.
type Runner struct {
	model        *hmm.Model
	cfg          Config
	logger       *slog.Logger
	tracer       trace.Tracer
	metrics      *observability.DecoderMetrics
	sink         viterbi.Sink
	checkpointer Checkpointer
	restorer     Restorer
	onWindow     func(*WindowReport) error
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithTracer sets the tracer used for window spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Runner) { r.tracer = tracer }
}

// WithMetrics records decoder metrics.
func WithMetrics(m *observability.DecoderMetrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithSink forwards every finalized run to sink.
func WithSink(sink viterbi.Sink) Option {
	return func(r *Runner) { r.sink = sink }
}

// WithCheckpointer saves the decoder every Config.CheckpointEvery
// observations in continuous mode.
func WithCheckpointer(c Checkpointer) Option {
	return func(r *Runner) { r.checkpointer = c }
}

// WithRestorer resumes a continuous run from a checkpoint. Observations
// already consumed are skipped on the source.
func WithRestorer(res Restorer) Option {
	return func(r *Runner) { r.restorer = res }
}

// WithWindowHandler is called with every finished window. An error stops the run.
func WithWindowHandler(fn func(*WindowReport) error) Option {
	return func(r *Runner) { r.onWindow = fn }
}

// New creates a runner for model.
func New(model *hmm.Model, cfg Config, opts ...Option) (*Runner, error) {
	switch {
	case model == nil:
		return nil, fmt.Errorf("%w: nil model", ErrConfig)
	case cfg.Window < 0:
		return nil, fmt.Errorf("%w: window %d", ErrConfig, cfg.Window)
	case cfg.Steps < 0:
		return nil, fmt.Errorf("%w: steps %d", ErrConfig, cfg.Steps)
	case cfg.Start < 0 || cfg.Start >= model.States():
		return nil, fmt.Errorf("%w: %w", ErrConfig, viterbi.ErrStartState)
	}

	r := &Runner{
		model:  model,
		cfg:    cfg,
		logger: slog.New(slog.DiscardHandler),
		tracer: otel.Tracer(tracerName),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Run decodes src until it ends, Steps observations are read, or ctx is
// cancelled. Cancellation is not an error: the pending suffix is flushed
// and the summary is marked interrupted.
func (r *Runner) Run(ctx context.Context, src observe.Source) (*Summary, error) {
	if r.cfg.Window > 0 {
		return r.runWindows(ctx, src)
	}

	return r.runContinuous(ctx, src)
}

// stepper wraps one decoder and collects its output and statistics.
type stepper struct {
	r         *Runner
	decoder   *viterbi.Decoder
	out       []int
	keep      bool
	pending   []float64
	trace     []StepTrace
	maxNodes  int
	maxCols   int
	underflow bool
}

func (r *Runner) newStepper(keep, history bool) (*stepper, error) {
	s := &stepper{r: r, keep: keep}

	collect := viterbi.SinkFunc(func(states []int) error {
		if s.keep {
			s.out = append(s.out, states...)
		}

		if r.sink != nil {
			return r.sink.Emit(states)
		}

		return nil
	})

	opts := []viterbi.Option{
		viterbi.WithLogger(observability.Component(r.logger, "decoder")),
		viterbi.WithSink(collect),
		viterbi.WithArithmetic(r.cfg.Arithmetic),
	}

	if !history {
		opts = append(opts, viterbi.WithoutHistory())
	}

	d, err := viterbi.New(r.model, opts...)
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}

	s.decoder = d

	return s, nil
}

func (s *stepper) reset() error {
	s.out = s.out[:0]
	s.pending = s.pending[:0]
	s.trace = nil
	s.maxNodes, s.maxCols = 0, 0
	s.underflow = false

	return s.decoder.Reset(s.r.cfg.Start)
}

func (s *stepper) update(ctx context.Context, t, obs int) error {
	before := s.decoder.Stats().Convergences
	begin := time.Now()

	out, err := s.decoder.Update(t, obs)
	if err != nil {
		return fmt.Errorf("update at %d: %w", t, err)
	}

	elapsed := time.Since(begin)
	stats := s.decoder.Stats()
	converged := stats.Convergences > before

	s.pending = append(s.pending, float64(stats.Pending))
	s.maxNodes = max(s.maxNodes, stats.Nodes)
	s.maxCols = max(s.maxCols, stats.Columns)

	if stats.Underflow && !s.underflow {
		s.underflow = true
		s.r.logger.WarnContext(ctx, "scores underflowed", "time", t, "arithmetic", s.r.cfg.Arithmetic.String())
	}

	if s.r.cfg.Trace {
		s.trace = append(s.trace, StepTrace{
			Time:      t,
			Nodes:     stats.Nodes,
			Columns:   stats.Columns,
			Pending:   stats.Pending,
			Converged: converged,
		})
	}

	s.r.metrics.RecordStep(ctx, observability.StepStats{
		Duration:  elapsed,
		Nodes:     stats.Nodes,
		Columns:   stats.Columns,
		Pending:   stats.Pending,
		Emitted:   len(out),
		Converged: converged,
	})

	return nil
}

func (s *stepper) flush(ctx context.Context, reason string) error {
	tail, err := s.decoder.Flush()
	if err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	s.r.metrics.RecordFlush(ctx, len(tail), reason)

	return nil
}

// next reads one observation. It reports false at the end of the stream.
func next(ctx context.Context, src observe.Source) (int, bool, error) {
	o, err := src.Next(ctx)

	switch {
	case err == nil:
		return o, true, nil
	case errors.Is(err, io.EOF):
		return 0, false, nil
	case ctx.Err() != nil:
		return 0, false, ctx.Err()
	default:
		return 0, false, fmt.Errorf("read observation: %w", err)
	}
}

func (r *Runner) runWindows(ctx context.Context, src observe.Source) (*Summary, error) {
	s, err := r.newStepper(true, false)
	if err != nil {
		return nil, err
	}

	sum := &Summary{Mode: ModeWindow}
	begin := time.Now()

	var allPending []float64

	defer func() { sum.Duration = time.Since(begin) }()

	for index := 0; ; index++ {
		report, err := r.runWindow(ctx, s, src, index, sum.Observations)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			sum.Interrupted = true
			err = nil
		}

		if err != nil {
			return sum, err
		}

		if report == nil {
			break
		}

		allPending = append(allPending, s.pending...)
		sum.add(report)

		if r.onWindow != nil {
			err = r.onWindow(report)
			if err != nil {
				return sum, err
			}
		}

		if sum.Interrupted || report.Short || r.exhausted(sum.Observations) {
			break
		}
	}

	sum.Lag = Lag(allPending)

	return sum, nil
}

func (r *Runner) exhausted(consumed int) bool {
	return r.cfg.Steps > 0 && consumed >= r.cfg.Steps
}

// runWindow decodes one window. It returns nil when the source yields no
// observation at all.
func (r *Runner) runWindow(
	ctx context.Context, s *stepper, src observe.Source, index, offset int,
) (*WindowReport, error) {
	err := s.reset()
	if err != nil {
		return nil, err
	}

	size := r.cfg.Window
	if r.cfg.Steps > 0 {
		size = min(size, r.cfg.Steps-offset)
	}

	obs := make([]int, 0, size)
	begin := time.Now()

	var readErr error

	for t := range size {
		o, ok, err := next(ctx, src)
		if err != nil {
			readErr = err

			break
		}

		if !ok {
			break
		}

		err = s.update(ctx, t, o)
		if err != nil {
			return nil, err
		}

		obs = append(obs, o)
	}

	if len(obs) == 0 {
		return nil, readErr
	}

	ctx, span := r.tracer.Start(ctx, "streamvit.session.window", trace.WithAttributes(
		attribute.Int("window.index", index),
		attribute.Int("window.offset", offset),
		attribute.Int("window.length", len(obs)),
	))
	defer span.End()

	err = s.flush(ctx, "window")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return nil, err
	}

	batch := oracle.Decode(s.decoder.Tables(), obs)
	online := slices.Clone(s.out)

	report := &WindowReport{
		Index:        index,
		Offset:       offset,
		Observations: obs,
		Oracle:       batch,
		Online:       online,
		Match:        slices.Equal(batch, online),
		Mismatches:   Mismatches(batch, online),
		Diff:         Diff(batch, online),
		Convergences: s.decoder.Stats().Convergences,
		MaxNodes:     s.maxNodes,
		MaxColumns:   s.maxCols,
		Lag:          Lag(s.pending),
		Underflow:    s.underflow,
		Short:        len(obs) < r.cfg.Window,
		Trace:        s.trace,
		Duration:     time.Since(begin),
	}

	span.SetAttributes(
		attribute.Bool("window.match", report.Match),
		attribute.Int("window.convergences", report.Convergences),
	)

	r.metrics.RecordWindow(ctx, observability.WindowStats{
		Duration:   report.Duration,
		Length:     len(obs),
		Match:      report.Match,
		Mismatches: report.Mismatches,
	})

	if report.Match {
		r.logger.InfoContext(ctx, "window decoded", "index", index, "length", len(obs),
			"convergences", report.Convergences)
	} else {
		span.SetStatus(codes.Error, "online path differs from batch path")
		r.logger.WarnContext(ctx, "window mismatch", "index", index, "mismatches", report.Mismatches,
			"oracle", batch, "online", online)
	}

	return report, readErr
}

func (r *Runner) runContinuous(ctx context.Context, src observe.Source) (*Summary, error) {
	s, err := r.newStepper(false, r.cfg.History)
	if err != nil {
		return nil, err
	}

	err = s.reset()
	if err != nil {
		return nil, err
	}

	sum := &Summary{Mode: ModeContinuous}
	begin := time.Now()

	defer func() { sum.Duration = time.Since(begin) }()

	consumed, err := r.resume(ctx, s, src)
	if err != nil {
		return nil, err
	}

	sum.Resumed = consumed

	read := 0

	for !r.exhausted(read) {
		o, ok, err := next(ctx, src)
		if err != nil && ctx.Err() != nil {
			sum.Interrupted = true

			break
		}

		if err != nil {
			return sum, err
		}

		if !ok {
			break
		}

		err = s.update(ctx, s.decoder.Next(), o)
		if err != nil {
			return sum, err
		}

		read++

		if r.checkpointDue(consumed + read) {
			err = r.checkpointer.Checkpoint(s.decoder, consumed+read)
			if err != nil {
				return sum, fmt.Errorf("checkpoint: %w", err)
			}

			r.logger.DebugContext(ctx, "checkpoint saved", "observations", consumed+read)
		}
	}

	stats := s.decoder.Stats()

	sum.Observations = read
	sum.Convergences = stats.Convergences

	err = s.flush(ctx, "end")
	if err != nil {
		return sum, err
	}

	if r.cfg.History {
		sum.Decoded = s.decoder.Decoded()
	}

	sum.Emitted = s.decoder.Stats().Decoded
	sum.MaxNodes = s.maxNodes
	sum.MaxColumns = s.maxCols
	sum.Lag = Lag(s.pending)
	sum.Trace = s.trace
	sum.Underflow = s.underflow

	r.logger.InfoContext(ctx, "stream decoded", "observations", consumed+read,
		"convergences", sum.Convergences, "interrupted", sum.Interrupted)

	return sum, nil
}

func (r *Runner) checkpointDue(consumed int) bool {
	return r.checkpointer != nil && r.cfg.CheckpointEvery > 0 && consumed%r.cfg.CheckpointEvery == 0
}

func (r *Runner) resume(ctx context.Context, s *stepper, src observe.Source) (int, error) {
	if r.restorer == nil {
		return 0, nil
	}

	consumed, err := r.restorer.Resume(s.decoder)
	if err != nil {
		return 0, fmt.Errorf("resume: %w", err)
	}

	err = observe.Skip(ctx, src, consumed)
	if err != nil {
		return 0, fmt.Errorf("resume: %w", err)
	}

	r.logger.InfoContext(ctx, "resumed from checkpoint", "observations", consumed)

	return consumed, nil
}
