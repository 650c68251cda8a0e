package commands

import (
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/streamvit/pkg/checkpoint"
	"github.com/Sumatoshi-tech/streamvit/pkg/config"
	"github.com/Sumatoshi-tech/streamvit/pkg/observability"
	"github.com/Sumatoshi-tech/streamvit/pkg/report"
	"github.com/Sumatoshi-tech/streamvit/pkg/session"
	"github.com/Sumatoshi-tech/streamvit/pkg/viterbi"
)

// DecodeCommand decodes a stream without windows and prints every state as
// soon as it is fixed.
type DecodeCommand struct {
	root    *rootOptions
	stream  streamFlags
	format  string
	noColor bool

	checkpoint      bool
	checkpointDir   string
	checkpointEvery int
	resume          bool
	clearCheckpoint bool
}

func newDecodeCommand(ro *rootOptions) *cobra.Command {
	dc := &DecodeCommand{root: ro}

	cmd := &cobra.Command{
		Use:   "decode [input]",
		Short: "Decode a stream continuously, printing states as they are fixed",
		Long: `Decode an unbounded observation stream. Each line written to stdout is a run
of states that every surviving path agrees on; the remaining suffix is
flushed when the stream ends or the command is interrupted.

The input holds whitespace-separated symbol indices; '-' reads stdin. With
--checkpoint the decoder is saved periodically and a later run over the
same input resumes where it stopped.`,
		Args: cobra.MaximumNArgs(1),
		RunE: dc.run,
	}

	dc.stream.register(cmd)
	cmd.Flags().StringVar(&dc.format, "format", string(report.FormatTable),
		"Output format: table streams states, json and yaml print the decoded path at the end")
	cmd.Flags().BoolVar(&dc.noColor, "no-color", false, "Disable colored output")

	cmd.Flags().BoolVar(&dc.checkpoint, "checkpoint", false, "Save the decoder periodically for crash recovery")
	cmd.Flags().StringVar(&dc.checkpointDir, "checkpoint-dir", "", "Checkpoint directory (default: ~/.streamvit/checkpoints)")
	cmd.Flags().IntVar(&dc.checkpointEvery, "checkpoint-every", config.DefaultCheckpointEvery, "Observations between checkpoints")
	cmd.Flags().BoolVar(&dc.resume, "resume", true, "Resume from checkpoint if available")
	cmd.Flags().BoolVar(&dc.clearCheckpoint, "clear-checkpoint", false, "Clear existing checkpoint before decoding")

	return cmd
}

func (dc *DecodeCommand) adjust(cmd *cobra.Command, args []string) func(*config.Config) {
	return func(c *config.Config) {
		c.Session.Window = 0

		if len(args) == 1 {
			c.Session.Source = config.SourceFile
			c.Session.Input = args[0]
		}

		if c.Session.Source == config.SourceFile && !cmd.Flags().Changed("steps") {
			c.Session.Steps = 0
		}

		flags := cmd.Flags()
		if flags.Changed("checkpoint") {
			c.Checkpoint.Enabled = dc.checkpoint
		}

		if flags.Changed("checkpoint-dir") {
			c.Checkpoint.Dir = dc.checkpointDir
		}

		if flags.Changed("checkpoint-every") {
			c.Checkpoint.Every = dc.checkpointEvery
		}

		if flags.Changed("resume") {
			c.Checkpoint.Resume = dc.resume
		}
	}
}

func (dc *DecodeCommand) run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, dc.root, &dc.stream, dc.adjust(cmd, args))
	if err != nil {
		return err
	}

	format, err := report.ParseFormat(dc.format)
	if err != nil {
		return err
	}

	env, err := setup(cmd, dc.root, cfg, observability.ModeDecode)
	if err != nil {
		return err
	}
	defer env.close()

	src, closeSrc, err := openSource(cfg, env.model, cmd.InOrStdin())
	if err != nil {
		return err
	}
	defer env.closeSource(closeSrc)

	opts := []session.Option{
		session.WithLogger(observability.Component(env.logger, "session")),
		session.WithTracer(env.providers.Tracer),
		session.WithMetrics(env.metrics),
	}

	if format == report.FormatTable {
		opts = append(opts, session.WithSink(viterbi.NewWriterSink(cmd.OutOrStdout(), env.model.StateName)))
	}

	mgr, err := dc.checkpointManager(cfg, env)
	if err != nil {
		return err
	}

	if mgr != nil {
		opts = append(opts, session.WithCheckpointer(mgr))

		if cfg.Checkpoint.Resume && mgr.Exists() {
			opts = append(opts, session.WithRestorer(mgr))
		}
	}

	runner, err := session.New(env.model, session.Config{
		Steps:           cfg.Session.Steps,
		Start:           cfg.Decoder.Start,
		Arithmetic:      env.arithmetic,
		History:         cfg.Decoder.History && format != report.FormatTable,
		CheckpointEvery: cfg.Checkpoint.Every,
	}, opts...)
	if err != nil {
		return err
	}

	summary, err := runner.Run(cmd.Context(), src)
	if err != nil {
		return err
	}

	if mgr != nil && cfg.Checkpoint.ClearDone && !summary.Interrupted {
		err = mgr.Clear()
		if err != nil {
			return err
		}
	}

	if format != report.FormatTable {
		return report.Encode(cmd.OutOrStdout(), format, summary)
	}

	if dc.root.quiet {
		return nil
	}

	return report.NewPrinter(cmd.ErrOrStderr(), env.model.StateName, dc.noColor).WriteSummary(summary)
}

func (dc *DecodeCommand) checkpointManager(cfg *config.Config, env *appEnv) (*checkpoint.Manager, error) {
	if !cfg.Checkpoint.Enabled {
		return nil, nil //nolint:nilnil // checkpointing disabled
	}

	dir := cfg.Checkpoint.Dir
	if dir == "" {
		dir = checkpoint.DefaultDir()
	}

	mgr := checkpoint.NewManager(dir, inputKey(cfg))

	if dc.clearCheckpoint {
		err := mgr.Clear()
		if err != nil {
			return nil, err
		}

		env.logger.Info("checkpoint cleared", "dir", mgr.CheckpointDir())
	}

	return mgr, nil
}
