package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zulandar/minicodex/internal/codex"
	"github.com/zulandar/minicodex/internal/config"
	"github.com/zulandar/minicodex/internal/dashboard"
	"github.com/zulandar/minicodex/internal/db"
	"github.com/zulandar/minicodex/internal/history"
	"github.com/zulandar/minicodex/internal/prompt"
	"github.com/zulandar/minicodex/internal/relay"
	"github.com/zulandar/minicodex/internal/session"
	"github.com/zulandar/minicodex/internal/telegraph"
	discordadapter "github.com/zulandar/minicodex/internal/telegraph/discord"
	slackadapter "github.com/zulandar/minicodex/internal/telegraph/slack"
)

// slackMaxMessageLen is Slack's practical per-message text limit.
const slackMaxMessageLen = 4000

func newRunCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the relay",
		Long:  "Connects to the configured chat platform and relays every message to the local Codex CLI until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(cmd, *envFile)
		},
	}
}

func runRelay(cmd *cobra.Command, envFile string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel, os.Stderr)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

// serve wires every component from cfg and blocks until ctx is cancelled or
// the chat connection ends.
func serve(ctx context.Context, cfg *config.Settings, logger *zap.Logger) error {
	store := session.Open(session.StoreOpts{
		Path:   cfg.Codex.SessionStorePath,
		Logger: logger.Named("session"),
	})
	logger.Info("minicodex: session store loaded",
		zap.String("path", store.Path()), zap.Int("records", store.Len()))

	soul := prompt.NewSoul(cfg.SoulPath, logger.Named("prompt"))
	if err := soul.Watch(ctx); err != nil {
		logger.Warn("minicodex: soul watcher unavailable, re-reading on every turn",
			zap.String("path", cfg.SoulPath), zap.Error(err))
	}
	defer soul.Close()

	skills := prompt.LoadSkillCards(cfg.SkillsDir)
	logger.Info("minicodex: skill cards loaded",
		zap.String("dir", cfg.SkillsDir), zap.String("names", prompt.SkillNames(skills)))

	relayOpts := relay.Opts{
		Store:   store,
		Invoker: codex.NewRunner(codex.RunnerOpts{Logger: logger.Named("codex")}),
		Builder: codex.NewBuilder(cfg.Codex),
		Soul:    soul,
		Skills:  skills,
		TTL:     cfg.Codex.SessionTTL,
		Logger:  logger.Named("relay"),
	}
	daemonOpts := telegraph.DaemonOpts{
		Config: cfg,
		Logger: logger.Named("telegraph"),
	}
	dashOpts := dashboard.StartOpts{
		Addr:     cfg.StatusAddr,
		Sessions: store,
		TTL:      cfg.Codex.SessionTTL,
		Logger:   logger.Named("dashboard"),
	}

	if cfg.History.Enabled() {
		turns, closeDB, err := openHistory(cfg.History)
		if err != nil {
			return err
		}
		defer closeDB()
		relayOpts.Recorder = turns
		daemonOpts.Digest = turns
		dashOpts.Turns = turns
		logger.Info("minicodex: turn history enabled", zap.String("driver", cfg.History.Driver))
	}

	r, err := relay.New(relayOpts)
	if err != nil {
		return err
	}
	daemonOpts.Handler = r

	adapter, err := createAdapter(cfg, logger.Named(cfg.Platform))
	if err != nil {
		return err
	}
	daemonOpts.Adapter = adapter
	if cfg.Platform == config.PlatformSlack {
		daemonOpts.MaxMessageLen = slackMaxMessageLen
	}

	daemon, err := telegraph.NewDaemon(daemonOpts)
	if err != nil {
		return err
	}

	// The daemon ending for any reason stops the dashboard too.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancel()
		return daemon.Run(gctx)
	})
	if cfg.StatusAddr != "" {
		g.Go(func() error {
			return dashboard.Start(gctx, dashOpts)
		})
	}

	err = g.Wait()
	logger.Info("minicodex: stopped")
	return err
}

// openHistory connects and migrates the turn history database.
func openHistory(h config.HistorySettings) (*history.Store, func(), error) {
	gormDB, err := db.Connect(h.Driver, h.DSN)
	if err != nil {
		return nil, nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		db.Close(gormDB)
		return nil, nil, err
	}
	return history.New(gormDB), func() { db.Close(gormDB) }, nil
}

// createAdapter builds a platform adapter from the config.
func createAdapter(cfg *config.Settings, logger *zap.Logger) (telegraph.Adapter, error) {
	switch cfg.Platform {
	case config.PlatformDiscord:
		return discordadapter.New(discordadapter.AdapterOpts{
			BotToken: cfg.DiscordBotToken,
			Logger:   logger,
		})
	case config.PlatformSlack:
		return slackadapter.New(slackadapter.AdapterOpts{
			AppToken: cfg.SlackAppToken,
			BotToken: cfg.SlackBotToken,
			Logger:   logger,
		})
	default:
		return nil, fmt.Errorf("minicodex: unsupported platform %q", cfg.Platform)
	}
}
