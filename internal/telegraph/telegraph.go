package telegraph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zulandar/minicodex/internal/config"
	"github.com/zulandar/minicodex/internal/relay"
)

// DefaultTypingInterval is how often the typing indicator is refreshed;
// Discord clears it after about ten seconds.
const DefaultTypingInterval = 8 * time.Second

// Handler answers one accepted message. relay.Relay is the production
// implementation.
type Handler interface {
	Handle(ctx context.Context, msg relay.Message) (string, error)
}

// Daemon is the main relay process. It connects to a chat platform via an
// Adapter, runs each accepted message as an independent turn and posts the
// digest when one is scheduled.
type Daemon struct {
	cfg            *config.Settings
	adapter        Adapter
	handler        Handler
	digest         DigestSource
	logger         *zap.Logger
	typingInterval time.Duration
	maxMessageLen  int

	wg sync.WaitGroup // in-flight turns
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	Config         *config.Settings
	Adapter        Adapter
	Handler        Handler
	Digest         DigestSource  // optional; required when Config.Digest is enabled
	Logger         *zap.Logger   // defaults to a no-op logger
	TypingInterval time.Duration // defaults to DefaultTypingInterval
	MaxMessageLen  int           // defaults to DefaultMaxMessageLen
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("telegraph: config is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("telegraph: adapter is required")
	}
	if opts.Handler == nil {
		return nil, fmt.Errorf("telegraph: handler is required")
	}
	if opts.Config.Digest.Enabled() && opts.Digest == nil {
		return nil, fmt.Errorf("telegraph: digest source is required when a digest is scheduled")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	typing := opts.TypingInterval
	if typing <= 0 {
		typing = DefaultTypingInterval
	}
	maxLen := opts.MaxMessageLen
	if maxLen <= 0 {
		maxLen = DefaultMaxMessageLen
	}
	return &Daemon{
		cfg:            opts.Config,
		adapter:        opts.Adapter,
		handler:        opts.Handler,
		digest:         opts.Digest,
		logger:         logger,
		typingInterval: typing,
		maxMessageLen:  maxLen,
	}, nil
}

// Run connects the adapter and pumps inbound messages until the context is
// cancelled or the adapter closes its channel. Each accepted message runs in
// its own goroutine so a slow codex turn never blocks other conversations.
// On shutdown Run waits for in-flight turns and closes the adapter.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("telegraph: connecting", zap.String("platform", d.cfg.Platform))
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("telegraph: connect: %w", err)
	}

	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("telegraph: listen: %w", err)
	}

	// Turns and the digest stop with runCtx, which also ends when the
	// adapter closes its channel.
	runCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		d.wg.Wait()
		if err := d.adapter.Close(); err != nil {
			d.logger.Warn("telegraph: close adapter", zap.Error(err))
		}
		d.logger.Info("telegraph: stopped")
	}()

	if d.cfg.Digest.Enabled() {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.runDigestScheduler(runCtx)
		}()
	}

	d.logger.Info("telegraph: online")

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("telegraph: shutting down")
			return nil

		case msg, ok := <-inbound:
			if !ok {
				d.logger.Info("telegraph: inbound channel closed")
				return nil
			}
			if !d.accept(msg) {
				continue
			}
			d.wg.Add(1)
			go d.handle(runCtx, msg)
		}
	}
}

// accept applies the self/bot, empty-text and allow-list filters.
func (d *Daemon) accept(msg InboundMessage) bool {
	if msg.IsBot || d.isSelfMessage(msg) {
		return false
	}
	if isBlank(msg.Text) {
		return false
	}
	// Channel ids in the allow-list are Discord snowflakes.
	if msg.Platform == relay.PlatformDiscord && !d.cfg.ChannelAllowed(msg.ChannelID, msg.ParentID) {
		d.logger.Debug("telegraph: channel not allowed", zap.String("channel", msg.ChannelID))
		return false
	}
	return true
}

func (d *Daemon) isSelfMessage(msg InboundMessage) bool {
	bui, ok := d.adapter.(BotUserIDer)
	if !ok {
		return false
	}
	id := bui.BotUserID()
	return id != "" && msg.UserID == id
}

// handle runs one turn. Every accepted message gets exactly one reply
// unless the daemon is shutting down.
func (d *Daemon) handle(ctx context.Context, msg InboundMessage) {
	defer d.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("telegraph: turn panicked", zap.Any("panic", r), zap.String("channel", msg.ChannelID))
			d.reply(ctx, msg, relay.FailureReply(fmt.Errorf("internal error: %v", r)))
		}
	}()

	d.logger.Info("telegraph: recv",
		zap.String("channel", msg.ChannelID),
		zap.String("user", msg.UserName),
		zap.String("text", truncate(msg.Text, 80)))

	stopTyping := func() {}
	if !relay.IsCommand(msg.Text) {
		stopTyping = d.startTyping(ctx, msg.ChannelID)
	}
	defer stopTyping()
	reply, err := d.handler.Handle(ctx, toRelayMessage(msg))
	stopTyping()

	if err != nil {
		if ctx.Err() != nil {
			d.logger.Info("telegraph: turn cancelled by shutdown", zap.String("channel", msg.ChannelID))
			return
		}
		d.logger.Error("telegraph: turn failed", zap.String("channel", msg.ChannelID), zap.Error(err))
		reply = relay.FailureReply(err)
	}
	d.reply(ctx, msg, reply)
}

// reply posts text in chunks, the first one threaded to the inbound message.
func (d *Daemon) reply(ctx context.Context, msg InboundMessage, text string) {
	replyTo := msg.MessageID
	for _, chunk := range chunkMessage(text, d.maxMessageLen) {
		if err := d.adapter.Send(ctx, OutboundMessage{
			ChannelID: msg.ChannelID,
			ReplyTo:   replyTo,
			Text:      chunk,
		}); err != nil {
			d.logger.Error("telegraph: send reply", zap.String("channel", msg.ChannelID), zap.Error(err))
			return
		}
		replyTo = ""
	}
}

// startTyping shows the typing indicator until the returned stop function
// is called. It is a no-op for adapters that do not implement Typer.
func (d *Daemon) startTyping(ctx context.Context, channelID string) func() {
	typer, ok := d.adapter.(Typer)
	if !ok {
		return func() {}
	}
	typingCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(d.typingInterval)
		defer ticker.Stop()
		for {
			if err := typer.Typing(typingCtx, channelID); err != nil {
				d.logger.Debug("telegraph: typing indicator", zap.Error(err))
			}
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func toRelayMessage(msg InboundMessage) relay.Message {
	return relay.Message{
		Platform:  msg.Platform,
		GuildID:   msg.GuildID,
		ChannelID: msg.ChannelID,
		ParentID:  msg.ParentID,
		UserID:    msg.UserID,
		UserName:  msg.UserName,
		Text:      msg.Text,
	}
}
