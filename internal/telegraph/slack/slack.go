// Package slack implements the telegraph Adapter for Slack using Socket Mode.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"

	"github.com/zulandar/minicodex/internal/relay"
	"github.com/zulandar/minicodex/internal/telegraph"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for reconnection.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for reconnection.
	maxBackoff = 2 * time.Minute
	// maxReconnectAttempts limits reconnection retries before giving up.
	maxReconnectAttempts = 10
	// inboundBuffer is the capacity of the inbound message channel.
	inboundBuffer = 100
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
	GetUserInfo(userID string) (*slackapi.User, error)
}

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	Run() error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// realSocketClient wraps *socketmode.Client to implement socketClient.
type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) Run() error                        { return r.client.Run() }
func (r *realSocketClient) EventsChan() chan socketmode.Event { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// Adapter implements telegraph.Adapter for Slack Socket Mode.
type Adapter struct {
	client   slackClient
	socket   socketClient
	appToken string
	botToken string
	logger   *zap.Logger

	mu         sync.Mutex
	botUserID  string
	teamID     string
	connected  bool
	closed     bool
	cancelFunc context.CancelFunc

	// sendMu is held for reading while the event pump delivers to inbound;
	// Close takes it for writing before closing the channel.
	sendMu  sync.RWMutex
	inbound chan telegraph.InboundMessage
	done    chan struct{}

	baseBackoff  time.Duration // reconnection base backoff (default: baseBackoff const)
	maxBackoff   time.Duration // reconnection max backoff (default: maxBackoff const)
	maxReconnect int           // max reconnection attempts (default: maxReconnectAttempts)
}

// AdapterOpts holds parameters for creating a Slack Adapter.
type AdapterOpts struct {
	AppToken string      // xapp-... Slack app-level token for Socket Mode
	BotToken string      // xoxb-... Slack bot token
	Logger   *zap.Logger // defaults to a no-op logger
	// For testing: inject mock clients instead of real Slack API.
	Client slackClient
	Socket socketClient
}

// New creates a Slack Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Adapter{
		client:       opts.Client,
		socket:       opts.Socket,
		appToken:     opts.AppToken,
		botToken:     opts.BotToken,
		logger:       logger,
		inbound:      make(chan telegraph.InboundMessage, inboundBuffer),
		done:         make(chan struct{}),
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
		maxReconnect: maxReconnectAttempts,
	}, nil
}

// Connect verifies the bot token and records the bot and team identity.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("slack: adapter already closed")
	}
	if a.connected {
		return nil
	}

	// Create real clients if not injected (production path).
	if a.client == nil {
		api := slackapi.New(a.botToken, slackapi.OptionAppLevelToken(a.appToken))
		a.client = api
		a.socket = &realSocketClient{client: socketmode.New(api)}
	}

	auth, err := a.client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = auth.UserID
	a.teamID = auth.TeamID
	a.logger.Info("slack: authenticated", zap.String("user", auth.User), zap.String("team", auth.TeamID))

	a.connected = true
	return nil
}

// Listen returns a channel of inbound messages. Starts the Socket Mode
// event pump in a background goroutine. Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan telegraph.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("slack: not connected")
	}

	listenCtx, cancel := context.WithCancel(ctx)
	a.cancelFunc = cancel

	go a.runWithReconnect(listenCtx)
	go a.pumpEvents(listenCtx)

	return a.inbound, nil
}

// Send posts a message. When ReplyTo is set the message goes into that
// message's thread.
func (a *Adapter) Send(ctx context.Context, msg telegraph.OutboundMessage) error {
	if !a.isConnected() {
		return fmt.Errorf("slack: not connected")
	}
	if msg.ChannelID == "" {
		return fmt.Errorf("slack: no channel specified")
	}

	options := buildMessageOptions(msg)
	err := a.retryOnRateLimit(ctx, func() error {
		_, _, postErr := a.client.PostMessage(msg.ChannelID, options...)
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// Close shuts down the adapter and closes the inbound channel.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.connected = false
	if a.cancelFunc != nil {
		a.cancelFunc()
	}
	a.mu.Unlock()

	close(a.done)
	a.sendMu.Lock()
	close(a.inbound)
	a.sendMu.Unlock()
	return nil
}

// BotUserID returns the bot's Slack user ID (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

func (a *Adapter) isConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// runWithReconnect runs the Socket Mode client and retries with exponential
// backoff when Run() returns an error.
func (a *Adapter) runWithReconnect(ctx context.Context) {
	for attempt := 0; attempt < a.maxReconnect; attempt++ {
		err := a.socket.Run()
		if err == nil {
			return // clean shutdown
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}

		a.logger.Warn("slack: socket mode disconnected, reconnecting",
			zap.Int("attempt", attempt+1), zap.Int("max", a.maxReconnect),
			zap.Duration("retry_in", wait), zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
	a.logger.Error("slack: socket mode exhausted reconnection attempts, giving up",
		zap.Int("attempts", a.maxReconnect))
}

// pumpEvents reads Socket Mode events and converts them to InboundMessages.
func (a *Adapter) pumpEvents(ctx context.Context) {
	events := a.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			a.handleSocketEvent(evt)
		}
	}
}

// handleSocketEvent processes a single Socket Mode event.
func (a *Adapter) handleSocketEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		a.handleEventsAPI(eventsAPIEvent)

	case socketmode.EventTypeConnecting:
		a.logger.Debug("slack: connecting to Socket Mode")

	case socketmode.EventTypeConnected:
		a.logger.Info("slack: connected to Socket Mode")

	case socketmode.EventTypeConnectionError:
		a.logger.Warn("slack: connection error", zap.Any("data", evt.Data))

	case socketmode.EventTypeDisconnect:
		a.logger.Warn("slack: server requested disconnect, will reconnect")
	}
}

// handleEventsAPI processes Events API callbacks. Only plain message events
// are relayed; an @mention also arrives as a message event.
func (a *Adapter) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	if ev, ok := event.InnerEvent.Data.(*slackevents.MessageEvent); ok {
		a.handleMessage(event.TeamID, ev)
	}
}

// handleMessage converts a Slack message event to an InboundMessage.
func (a *Adapter) handleMessage(teamID string, ev *slackevents.MessageEvent) {
	// Filter bot self-messages and message subtypes (edits, deletes, joins).
	if ev.User == "" || ev.User == a.BotUserID() || ev.SubType != "" {
		return
	}

	if teamID == "" {
		a.mu.Lock()
		teamID = a.teamID
		a.mu.Unlock()
	}

	// Replies go into the thread the message belongs to, or start one.
	replyTo := ev.ThreadTimeStamp
	if replyTo == "" {
		replyTo = ev.TimeStamp
	}

	msg := telegraph.InboundMessage{
		Platform:  relay.PlatformSlack,
		GuildID:   teamID,
		ChannelID: ev.Channel,
		MessageID: replyTo,
		UserID:    ev.User,
		UserName:  a.resolveUserName(ev.User),
		IsBot:     ev.BotID != "",
		Text:      ev.Text,
		Timestamp: parseSlackTimestamp(ev.TimeStamp),
	}

	a.sendMu.RLock()
	defer a.sendMu.RUnlock()
	select {
	case <-a.done:
	case a.inbound <- msg:
	}
}

// resolveUserName looks up a user's display name. Falls back to user ID.
func (a *Adapter) resolveUserName(userID string) string {
	if userID == "" {
		return ""
	}
	user, err := a.client.GetUserInfo(userID)
	if err != nil {
		return userID
	}
	if user.Profile.DisplayName != "" {
		return user.Profile.DisplayName
	}
	if user.RealName != "" {
		return user.RealName
	}
	return userID
}

// buildMessageOptions translates an OutboundMessage into Slack MsgOptions.
func buildMessageOptions(msg telegraph.OutboundMessage) []slackapi.MsgOption {
	options := []slackapi.MsgOption{slackapi.MsgOptionText(msg.Text, false)}
	if msg.ReplyTo != "" {
		options = append(options, slackapi.MsgOptionTS(msg.ReplyTo))
	}
	return options
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err // not a rate limit error, don't retry
		}

		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		a.logger.Warn("slack: rate limited",
			zap.Int("attempt", attempt+1), zap.Int("max", maxRetries), zap.Duration("retry_in", wait))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}

// parseSlackTimestamp converts a Slack timestamp (e.g., "1234567890.123456")
// to a time.Time.
func parseSlackTimestamp(ts string) time.Time {
	sec, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var nsec int64
	if frac != "" {
		if us, err := strconv.ParseInt(frac, 10, 64); err == nil && len(frac) == 6 {
			nsec = us * int64(time.Microsecond)
		}
	}
	return time.Unix(s, nsec)
}
