package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zulandar/minicodex/internal/codex"
	"github.com/zulandar/minicodex/internal/config"
)

func newConfigCmd(envFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate configuration and print the resolved settings",
		Long:  "Loads the environment and dotenv file, reports every problem found, and prints the resolved settings with tokens masked.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*envFile)
			if err != nil {
				return err
			}
			printSettings(cmd.OutOrStdout(), cfg)
			return nil
		},
	})
	return cmd
}

// printSettings writes cfg as an aligned key/value listing.
func printSettings(out io.Writer, cfg *config.Settings) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	row := func(key, value string) {
		if value == "" {
			value = "-"
		}
		fmt.Fprintf(w, "%s\t%s\n", key, value)
	}

	row(config.KeyPlatform, cfg.Platform)
	switch cfg.Platform {
	case config.PlatformDiscord:
		row(config.KeyDiscordToken, maskToken(cfg.DiscordBotToken))
	case config.PlatformSlack:
		row(config.KeySlackBotToken, maskToken(cfg.SlackBotToken))
		row(config.KeySlackAppToken, maskToken(cfg.SlackAppToken))
	}
	row(config.KeyAllowedChannels, formatChannelIDs(cfg.AllowedChannelIDs))
	row(config.KeySoulPath, cfg.SoulPath)
	row(config.KeySkillsDir, cfg.SkillsDir)

	c := cfg.Codex
	row(config.KeyCodexCommand, c.Command)
	row(config.KeyCodexBaseArgs, strings.Join(c.BaseArgs, " "))
	row(config.KeyCodexModel, c.Model)
	row(config.KeyCodexTimeout, strconv.Itoa(int(c.Timeout.Seconds())))
	row(config.KeyWorkspaceRoot, c.WorkspaceRoot)
	row(config.KeyEnableSearch, strconv.FormatBool(c.EnableSearch))
	row(config.KeyUseFullAuto, strconv.FormatBool(c.UseFullAuto))
	row(config.KeySandbox, c.Sandbox)
	row(config.KeyAskForApproval, c.AskForApproval)
	row(config.KeyDangerousBypass, strconv.FormatBool(c.DangerousBypass))
	row(config.KeySessionTTL, strconv.Itoa(int(c.SessionTTL.Seconds())))
	row(config.KeySessionStorePath, c.SessionStorePath)

	row(config.KeyHistoryDriver, cfg.History.Driver)
	if cfg.History.Enabled() {
		row(config.KeyHistoryDSN, maskDSN(cfg.History.DSN))
	}
	row(config.KeyStatusAddr, cfg.StatusAddr)
	if cfg.Digest.Enabled() {
		row(config.KeyDigestCron, cfg.Digest.Cron)
		row(config.KeyDigestChannelID, cfg.Digest.ChannelID)
	}
	row(config.KeyLogLevel, cfg.LogLevel)
	w.Flush()

	fmt.Fprintf(out, "\nfresh turn: %s\n", strings.Join(exampleArgs(cfg.Codex, ""), " "))
	fmt.Fprintf(out, "resume turn: %s\n", strings.Join(exampleArgs(cfg.Codex, "<session-id>"), " "))
}

// exampleArgs renders the codex argument vector for a placeholder prompt.
func exampleArgs(c config.CodexSettings, sessionID string) []string {
	args := codex.NewBuilder(c).Args(codex.BuildOpts{
		SessionID:    sessionID,
		OutputPath:   "<output-file>",
		Instructions: "<prompt>",
	})
	return append([]string{c.Command}, args...)
}

// maskToken keeps a short prefix so the token kind stays recognisable.
func maskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "****"
}

// maskDSN hides the password part of a user:password@ DSN.
func maskDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	if at < 0 {
		return dsn
	}
	creds := dsn[:at]
	user, _, hasPass := strings.Cut(creds, ":")
	if !hasPass {
		return dsn
	}
	return user + ":****" + dsn[at:]
}

func formatChannelIDs(ids []int64) string {
	if len(ids) == 0 {
		return "(all)"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
