// Package commands implements the streamvit CLI commands.
package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/streamvit/pkg/version"
)

// ErrMismatch is returned when the online path differs from the batch path
// in at least one window.
var ErrMismatch = errors.New("online and batch paths differ")

// rootOptions holds the persistent flags.
type rootOptions struct {
	configPath string
	verbose    bool
	quiet      bool
	logJSON    bool
}

// NewRootCommand creates the streamvit command tree.
func NewRootCommand() *cobra.Command {
	ro := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "streamvit",
		Short: "Streaming Viterbi decoding for hidden Markov models",
		Long: `streamvit decodes an unbounded observation stream with an online Viterbi
decoder that emits each state as soon as every surviving path agrees on it.

Commands:
  run      Decode fixed windows and compare each with batch Viterbi
  decode   Decode a stream continuously, printing states as they are fixed
  verify   Check the decoder against batch Viterbi on random models
  profile  Chart forest and trellis size per step
  model    Validate and print a model`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&ro.configPath, "config", "", "Config file (default: ./streamvit.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&ro.verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&ro.quiet, "quiet", "q", false, "suppress output")
	rootCmd.PersistentFlags().BoolVar(&ro.logJSON, "log-json", false, "Write logs as JSON")

	rootCmd.AddCommand(newRunCommand(ro))
	rootCmd.AddCommand(newDecodeCommand(ro))
	rootCmd.AddCommand(newVerifyCommand(ro))
	rootCmd.AddCommand(newProfileCommand(ro))
	rootCmd.AddCommand(newModelCommand(ro))
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.String())

			return err
		},
	}
}
