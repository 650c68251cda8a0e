package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/streamvit/pkg/config"
	"github.com/Sumatoshi-tech/streamvit/pkg/observability"
	"github.com/Sumatoshi-tech/streamvit/pkg/report"
	"github.com/Sumatoshi-tech/streamvit/pkg/session"
)

// Verify defaults.
const (
	defaultVerifyModels     = 50
	defaultVerifyWindows    = 20
	defaultVerifyMaxStates  = 6
	defaultVerifyMaxSymbols = 6
	defaultVerifyMaxWindow  = 40
)

// VerifyCommand checks the streaming decoder against batch Viterbi on
// random models.
type VerifyCommand struct {
	root       *rootOptions
	cfg        session.VerifyConfig
	arithmetic string
	format     string
	noColor    bool
}

func newVerifyCommand(ro *rootOptions) *cobra.Command {
	vc := &VerifyCommand{root: ro}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the decoder against batch Viterbi on random models",
		Long: `Generate random stochastic models, sample random windows of observations
from each and decode every window with both the streaming decoder and
batch Viterbi. Models are checked in parallel. Any difference is reported
with the observations and a diff of the two paths.`,
		Args: cobra.NoArgs,
		RunE: vc.run,
	}

	fs := cmd.Flags()
	fs.IntVar(&vc.cfg.Models, "models", defaultVerifyModels, "Random models to check")
	fs.IntVar(&vc.cfg.Windows, "windows", defaultVerifyWindows, "Windows per model")
	fs.IntVar(&vc.cfg.MaxStates, "max-states", defaultVerifyMaxStates, "Largest number of hidden states")
	fs.IntVar(&vc.cfg.MaxSymbols, "max-symbols", defaultVerifyMaxSymbols, "Largest number of symbols")
	fs.IntVar(&vc.cfg.MaxWindow, "max-window", defaultVerifyMaxWindow, "Longest window")
	fs.Int64Var(&vc.cfg.Seed, "seed", config.DefaultSeed, "Seed for models and observations")
	fs.IntVar(&vc.cfg.Workers, "workers", 0, "Parallel workers (0 = one per model)")
	fs.StringVar(&vc.arithmetic, "arithmetic", "", "Score arithmetic: probability, log (default from config)")
	fs.StringVar(&vc.format, "format", string(report.FormatTable), "Output format: table, json, yaml")
	fs.BoolVar(&vc.noColor, "no-color", false, "Disable colored output")

	return cmd
}

func (vc *VerifyCommand) run(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, vc.root, nil, func(c *config.Config) {
		if cmd.Flags().Changed("arithmetic") {
			c.Decoder.Arithmetic = vc.arithmetic
		}
	})
	if err != nil {
		return err
	}

	format, err := report.ParseFormat(vc.format)
	if err != nil {
		return err
	}

	env, err := setup(cmd, vc.root, cfg, observability.ModeVerify)
	if err != nil {
		return err
	}
	defer env.close()

	vcfg := vc.cfg
	vcfg.Arithmetic = env.arithmetic

	env.logger.Info("verifying", "models", vcfg.Models, "windows", vcfg.Windows,
		"arithmetic", vcfg.Arithmetic.String(), "seed", vcfg.Seed)

	result, err := session.Verify(cmd.Context(), vcfg)
	if err != nil {
		return err
	}

	if format != report.FormatTable {
		err = report.Encode(cmd.OutOrStdout(), format, result)
	} else {
		err = report.NewPrinter(cmd.OutOrStdout(), nil, vc.noColor).WriteVerify(result)
	}

	if err != nil {
		return err
	}

	if !result.OK() {
		return fmt.Errorf("%w: %d of %d windows", ErrMismatch, len(result.Failures), result.Windows)
	}

	return nil
}
