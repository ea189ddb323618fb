package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zulandar/minicodex/internal/config"
	"github.com/zulandar/minicodex/internal/session"
)

// nowFunc is the clock used for session ages. Tests override it.
var nowFunc = time.Now

func newSessionsCmd(envFile *string) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List stored Codex sessions",
		Long:  "Prints the conversation-to-session records from the session store. Only sessions within the idle TTL are shown unless --all is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*envFile)
			if err != nil {
				return err
			}
			return runSessions(cmd, cfg, all)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include expired sessions")
	return cmd
}

func runSessions(cmd *cobra.Command, cfg *config.Settings, all bool) error {
	store := session.Open(session.StoreOpts{Path: cfg.Codex.SessionStorePath})
	now := nowFunc()
	ttl := cfg.Codex.SessionTTL

	var rows []session.Entry
	for _, e := range store.Entries() {
		if all || e.Active(now, ttl) {
			rows = append(rows, e)
		}
	}

	out := cmd.OutOrStdout()
	if len(rows) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CONVERSATION\tSESSION\tIDLE\tSTATE")
	for _, e := range rows {
		state := "active"
		if !e.Active(now, ttl) {
			state = "expired"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			e.Key, e.SessionID, now.Sub(e.LastActiveAt).Truncate(time.Second), state)
	}
	w.Flush()
	return nil
}
