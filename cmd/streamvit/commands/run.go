package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/streamvit/pkg/config"
	"github.com/Sumatoshi-tech/streamvit/pkg/observability"
	"github.com/Sumatoshi-tech/streamvit/pkg/report"
	"github.com/Sumatoshi-tech/streamvit/pkg/session"
)

// ErrNoWindow is returned when run is configured without a window.
var ErrNoWindow = errors.New("run needs a positive --window; use decode for continuous decoding")

// RunCommand decodes the stream in fixed windows and compares each window
// with batch Viterbi.
type RunCommand struct {
	root    *rootOptions
	stream  streamFlags
	window  int
	format  string
	noColor bool
	table   bool
}

func newRunCommand(ro *rootOptions) *cobra.Command {
	rc := &RunCommand{root: ro}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Decode fixed windows and compare each with batch Viterbi",
		Long: `Decode the observation stream window by window. After every window the
decoder is flushed, its output is compared with batch Viterbi over the same
observations, and the decoder is reset for the next window.

The default stream is a paced random walk over the model's symbols, ten
observations per second in windows of ten.`,
		Args: cobra.NoArgs,
		RunE: rc.run,
	}

	rc.stream.register(cmd)
	cmd.Flags().IntVarP(&rc.window, "window", "w", config.DefaultWindow, "Observations per window")
	cmd.Flags().StringVar(&rc.format, "format", string(report.FormatTable), "Output format: table, json, yaml")
	cmd.Flags().BoolVar(&rc.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().BoolVar(&rc.table, "windows-table", false, "Print a per-window table after the summary")

	return cmd
}

func (rc *RunCommand) run(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, rc.root, &rc.stream, func(c *config.Config) {
		if cmd.Flags().Changed("window") {
			c.Session.Window = rc.window
		}
	})
	if err != nil {
		return err
	}

	if cfg.Session.Window == 0 {
		return ErrNoWindow
	}

	format, err := report.ParseFormat(rc.format)
	if err != nil {
		return err
	}

	env, err := setup(cmd, rc.root, cfg, observability.ModeRun)
	if err != nil {
		return err
	}
	defer env.close()

	src, closeSrc, err := openSource(cfg, env.model, cmd.InOrStdin())
	if err != nil {
		return err
	}
	defer env.closeSource(closeSrc)

	out := cmd.OutOrStdout()
	printer := report.NewPrinter(out, env.model.StateName, rc.noColor)

	opts := []session.Option{
		session.WithLogger(observability.Component(env.logger, "session")),
		session.WithTracer(env.providers.Tracer),
		session.WithMetrics(env.metrics),
	}

	if format == report.FormatTable && !rc.root.quiet {
		opts = append(opts, session.WithWindowHandler(printer.WriteWindow))
	}

	runner, err := session.New(env.model, session.Config{
		Window:     cfg.Session.Window,
		Steps:      cfg.Session.Steps,
		Start:      cfg.Decoder.Start,
		Arithmetic: env.arithmetic,
	}, opts...)
	if err != nil {
		return err
	}

	summary, err := runner.Run(cmd.Context(), src)
	if err != nil {
		return err
	}

	err = rc.write(printer, format, summary, out)
	if err != nil {
		return err
	}

	if !summary.OK() {
		return fmt.Errorf("%w: %d of %d windows", ErrMismatch, summary.Mismatched, summary.Windows)
	}

	return nil
}

func (rc *RunCommand) write(printer *report.Printer, format report.Format, s *session.Summary, out io.Writer) error {
	if format != report.FormatTable {
		return report.Encode(out, format, s)
	}

	if rc.table {
		err := printer.WriteWindows(s.Reports)
		if err != nil {
			return err
		}
	}

	return printer.WriteSummary(s)
}
