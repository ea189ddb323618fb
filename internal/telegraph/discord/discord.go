// Package discord implements the telegraph Adapter for Discord using the Gateway WebSocket.
package discord

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/zulandar/minicodex/internal/relay"
	"github.com/zulandar/minicodex/internal/telegraph"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration between retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute
	// inboundBuffer is the capacity of the inbound message channel.
	inboundBuffer = 100
)

// intents are the gateway intents the relay needs: guild and direct
// messages with their content.
const intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	Channel(channelID string) (*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	AddHandler(handler interface{}) func()
}

// realSession wraps *discordgo.Session to implement the session interface.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }
func (r *realSession) Channel(channelID string) (*discordgo.Channel, error) {
	return r.s.State.Channel(channelID)
}
func (r *realSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSendComplex(channelID, data, options...)
}
func (r *realSession) ChannelTyping(channelID string, options ...discordgo.RequestOption) error {
	return r.s.ChannelTyping(channelID, options...)
}
func (r *realSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}

// Adapter implements telegraph.Adapter for Discord via the Gateway WebSocket.
type Adapter struct {
	sess     session
	botToken string
	logger   *zap.Logger

	mu             sync.Mutex
	botUserID      string
	connected      bool
	closed         bool
	removeHandlers []func()

	// sendMu is held for reading while a gateway handler delivers to
	// inbound; Close takes it for writing before closing the channel.
	sendMu  sync.RWMutex
	inbound chan telegraph.InboundMessage
	done    chan struct{}

	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken string      // Discord bot token
	Logger   *zap.Logger // defaults to a no-op logger
	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// New creates a Discord Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		sess:        opts.Session,
		botToken:    opts.BotToken,
		logger:      logger,
		inbound:     make(chan telegraph.InboundMessage, inboundBuffer),
		done:        make(chan struct{}),
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}, nil
}

// Connect establishes the Discord Gateway WebSocket connection.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("discord: adapter already closed")
	}
	if a.connected {
		return nil
	}

	// Create real session if not injected (production path).
	if a.sess == nil {
		dg, err := discordgo.New("Bot " + a.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = intents
		a.sess = &realSession{s: dg}
	}

	// Capture the bot user ID on connect and reconnect.
	a.removeHandlers = append(a.removeHandlers,
		a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
			a.mu.Lock()
			a.botUserID = r.User.ID
			a.mu.Unlock()
			a.logger.Info("discord: connected", zap.String("user", r.User.Username), zap.String("id", r.User.ID))
		}),
		// discordgo reconnects on its own; these are for observability.
		a.sess.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
			a.logger.Warn("discord: gateway disconnected, discordgo will auto-reconnect")
		}),
		a.sess.AddHandler(func(_ *discordgo.Session, _ *discordgo.Resumed) {
			a.logger.Info("discord: gateway session resumed")
		}),
	)

	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}

	a.connected = true
	return nil
}

// Listen registers the message handler and returns the inbound channel.
// Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan telegraph.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("discord: not connected")
	}
	a.removeHandlers = append(a.removeHandlers,
		a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			a.handleMessage(m)
		}))
	return a.inbound, nil
}

// Send posts a message. When ReplyTo is set the message is sent as a reply
// to that message.
func (a *Adapter) Send(ctx context.Context, msg telegraph.OutboundMessage) error {
	if !a.isConnected() {
		return fmt.Errorf("discord: not connected")
	}
	if msg.ChannelID == "" {
		return fmt.Errorf("discord: no channel specified")
	}

	data := buildMessageSend(msg)
	err := a.retryOnRateLimit(ctx, func() error {
		_, sendErr := a.sess.ChannelMessageSendComplex(msg.ChannelID, data)
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

// Typing triggers the typing indicator in a channel (implements telegraph.Typer).
func (a *Adapter) Typing(ctx context.Context, channelID string) error {
	if !a.isConnected() {
		return fmt.Errorf("discord: not connected")
	}
	if err := a.sess.ChannelTyping(channelID); err != nil {
		return fmt.Errorf("discord: typing in %s: %w", channelID, err)
	}
	return nil
}

// Close gracefully shuts down the adapter connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.connected = false
	for _, remove := range a.removeHandlers {
		remove()
	}
	a.removeHandlers = nil
	sess := a.sess
	a.mu.Unlock()

	close(a.done)
	a.sendMu.Lock()
	close(a.inbound)
	a.sendMu.Unlock()

	if sess != nil {
		return sess.Close()
	}
	return nil
}

// BotUserID returns the bot's Discord user ID (available after the Ready event).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// SetBotUserID sets the bot user ID (used for self-message filtering).
func (a *Adapter) SetBotUserID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.botUserID = id
}

func (a *Adapter) isConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// handleMessage converts a Discord message event to an InboundMessage.
func (a *Adapter) handleMessage(m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}

	// Filter bot self-messages.
	if m.Author.ID == a.BotUserID() {
		return
	}

	// In Discord, threads are channels. The thread stays the conversation
	// scope; its parent is carried for the allow-list.
	var parentID string
	if ch, err := a.sess.Channel(m.ChannelID); err == nil && ch.IsThread() {
		parentID = ch.ParentID
	}

	ts, _ := discordgo.SnowflakeTimestamp(m.ID)

	msg := telegraph.InboundMessage{
		Platform:  relay.PlatformDiscord,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		ParentID:  parentID,
		MessageID: m.ID,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		IsBot:     m.Author.Bot,
		Text:      m.Content,
		Timestamp: ts,
	}

	a.sendMu.RLock()
	defer a.sendMu.RUnlock()
	select {
	case <-a.done:
	case a.inbound <- msg:
	}
}

// buildMessageSend translates an OutboundMessage into a Discord MessageSend.
// Mentions in codex output are never resolved into pings.
func buildMessageSend(msg telegraph.OutboundMessage) *discordgo.MessageSend {
	data := &discordgo.MessageSend{
		Content:         msg.Text,
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
	}
	if msg.ReplyTo != "" {
		data.Reference = &discordgo.MessageReference{
			MessageID: msg.ReplyTo,
			ChannelID: msg.ChannelID,
		}
	}
	return data
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var restErr *discordgo.RESTError
		if !errors.As(err, &restErr) || restErr.Response == nil || restErr.Response.StatusCode != http.StatusTooManyRequests {
			return err // not a rate limit error
		}

		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}

		a.logger.Warn("discord: rate limited",
			zap.Int("attempt", attempt+1), zap.Int("max", maxRetries), zap.Duration("retry_in", wait))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
