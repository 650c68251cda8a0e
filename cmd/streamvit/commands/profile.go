package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/streamvit/pkg/config"
	"github.com/Sumatoshi-tech/streamvit/pkg/observability"
	"github.com/Sumatoshi-tech/streamvit/pkg/report"
	"github.com/Sumatoshi-tech/streamvit/pkg/session"
)

const (
	defaultProfileSteps = 2000
	defaultProfileOut   = "streamvit-profile.html"
)

// ProfileCommand records the decoder footprint per step and charts it.
type ProfileCommand struct {
	root    *rootOptions
	stream  streamFlags
	out     string
	format  string
	noColor bool
}

func newProfileCommand(ro *rootOptions) *cobra.Command {
	pc := &ProfileCommand{root: ro}

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Chart forest and trellis size per step",
		Long: `Decode a stream continuously and record the number of live forest nodes,
retained trellis columns and undecided steps after every update. The
result is written as an HTML line chart; convergence points are marked.

Unless set explicitly, generated streams are not paced and at most 2000
observations are read.`,
		Args: cobra.NoArgs,
		RunE: pc.run,
	}

	pc.stream.register(cmd)
	cmd.Flags().StringVarP(&pc.out, "out", "o", defaultProfileOut, "Chart file")
	cmd.Flags().StringVar(&pc.format, "format", string(report.FormatTable), "Summary format: table, json, yaml")
	cmd.Flags().BoolVar(&pc.noColor, "no-color", false, "Disable colored output")

	return cmd
}

func (pc *ProfileCommand) run(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, pc.root, &pc.stream, func(c *config.Config) {
		c.Session.Window = 0

		if !cmd.Flags().Changed("steps") && (c.Session.Steps == 0 || c.Session.Steps > defaultProfileSteps) {
			c.Session.Steps = defaultProfileSteps
		}

		if !cmd.Flags().Changed("rate") {
			c.Session.Rate = 0
		}
	})
	if err != nil {
		return err
	}

	format, err := report.ParseFormat(pc.format)
	if err != nil {
		return err
	}

	env, err := setup(cmd, pc.root, cfg, observability.ModeProfile)
	if err != nil {
		return err
	}
	defer env.close()

	src, closeSrc, err := openSource(cfg, env.model, cmd.InOrStdin())
	if err != nil {
		return err
	}
	defer env.closeSource(closeSrc)

	runner, err := session.New(env.model, session.Config{
		Steps:      cfg.Session.Steps,
		Start:      cfg.Decoder.Start,
		Arithmetic: env.arithmetic,
		Trace:      true,
	},
		session.WithLogger(observability.Component(env.logger, "session")),
		session.WithTracer(env.providers.Tracer),
		session.WithMetrics(env.metrics),
	)
	if err != nil {
		return err
	}

	summary, err := runner.Run(cmd.Context(), src)
	if err != nil {
		return err
	}

	err = pc.writeChart(cfg, env, summary)
	if err != nil {
		return err
	}

	if format != report.FormatTable {
		return report.Encode(cmd.OutOrStdout(), format, summary)
	}

	return report.NewPrinter(cmd.OutOrStdout(), nil, pc.noColor).WriteSummary(summary)
}

func (pc *ProfileCommand) writeChart(cfg *config.Config, env *appEnv, s *session.Summary) error {
	f, err := os.Create(pc.out)
	if err != nil {
		return fmt.Errorf("create chart: %w", err)
	}

	title := fmt.Sprintf("streamvit %s model, K=%d M=%d", modelLabel(cfg.Model.Path), env.model.States(), env.model.Symbols())

	err = report.WriteChart(f, title, s.Trace)
	if err != nil {
		f.Close()

		return err
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("close chart: %w", err)
	}

	env.logger.Info("chart written", "path", pc.out, "steps", len(s.Trace))

	return nil
}
