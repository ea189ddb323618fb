package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zulandar/minicodex/internal/config"
	"github.com/zulandar/minicodex/internal/history"
)

func newTurnsCmd(envFile *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "turns",
		Short: "List recent relay turns",
		Long:  "Prints the newest turns from the history database, newest first. Requires RELAY_HISTORY_DRIVER.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*envFile)
			if err != nil {
				return err
			}
			return runTurns(cmd, cfg, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", history.DefaultRecentLimit, "number of turns to show")
	return cmd
}

func runTurns(cmd *cobra.Command, cfg *config.Settings, limit int) error {
	if !cfg.History.Enabled() {
		return fmt.Errorf("turn history is disabled (set %s)", config.KeyHistoryDriver)
	}

	store, closeDB, err := openHistory(cfg.History)
	if err != nil {
		return err
	}
	defer closeDB()

	turns, err := store.Recent(cmd.Context(), limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(turns) == 0 {
		fmt.Fprintln(out, "No turns recorded.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tCONVERSATION\tUSER\tMODE\tSESSION\tRESULT\tDURATION")
	for _, t := range turns {
		session := t.SessionID
		if session == "" {
			session = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.CreatedAt.UTC().Format(time.DateTime), t.ConversationKey, t.UserName, t.Mode, session,
			turnResult(t.TimedOut, t.ExitCode, t.Error),
			(time.Duration(t.DurationMs) * time.Millisecond).String())
	}
	w.Flush()
	return nil
}

// turnResult summarises how a turn ended.
func turnResult(timedOut bool, exitCode int, errText string) string {
	switch {
	case timedOut:
		return "timeout"
	case errText != "":
		return "error"
	case exitCode != 0:
		return fmt.Sprintf("exit %d", exitCode)
	default:
		return "ok"
	}
}
