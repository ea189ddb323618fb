package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zulandar/minicodex/internal/config"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// exitConfigError is the process status for configuration problems.
const exitConfigError = 2

func newRootCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:   "minicodex",
		Short: "Chat relay for the local Codex CLI",
		Long: "Minicodex relays Discord (or Slack) messages to the local Codex CLI and posts the replies,\n" +
			"resuming one Codex session per conversation until it goes idle.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(cmd, envFile)
		},
	}

	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "path to an optional dotenv file")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newRunCmd(&envFile))
	cmd.AddCommand(newConfigCmd(&envFile))
	cmd.AddCommand(newSessionsCmd(&envFile))
	cmd.AddCommand(newTurnsCmd(&envFile))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "minicodex %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		errOut := cmd.ErrOrStderr()
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintln(errOut, "Error: invalid configuration:")
			for _, p := range verr.Problems {
				fmt.Fprintf(errOut, "  - %s\n", p)
			}
			return exitConfigError
		}
		fmt.Fprintln(errOut, "Error:", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
