// Package telegraph connects the relay to chat platforms (Discord, Slack).
// Adapters translate platform events into InboundMessage values; the Daemon
// filters them, runs one relay turn per message and posts the reply.
package telegraph

import (
	"context"
	"time"
)

// Adapter is the interface that platform-specific implementations must satisfy.
// Each adapter handles connection management and message sending/receiving
// for a single chat platform.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound messages from the platform.
	// The channel is closed when the adapter is closed. Listen must only be
	// called after Connect.
	Listen(ctx context.Context) (<-chan InboundMessage, error)

	// Send delivers an outbound message to the platform.
	Send(ctx context.Context, msg OutboundMessage) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// InboundMessage represents a message received from the chat platform.
type InboundMessage struct {
	Platform  string    // e.g. "slack", "discord"
	GuildID   string    // Discord guild or Slack team; empty for Discord DMs
	ChannelID string    // channel the message was posted in (a thread is a channel on Discord)
	ParentID  string    // parent channel when ChannelID is a thread
	MessageID string    // platform message id, used for replies
	UserID    string    // platform-specific user identifier
	UserName  string    // human-readable username
	IsBot     bool      // author is a bot account
	Text      string    // raw message text
	Timestamp time.Time // when the message was sent
}

// OutboundMessage represents a message to be sent to the chat platform.
type OutboundMessage struct {
	ChannelID string // target channel
	ReplyTo   string // message id to reply to (empty for a plain post)
	Text      string // message text (platform-native formatting)
}

// BotUserIDer is an optional interface that adapters can implement to
// expose the bot's own user ID. This enables self-message filtering.
type BotUserIDer interface {
	BotUserID() string
}

// Typer is an optional interface for adapters that can show a typing
// indicator while a turn is running.
type Typer interface {
	Typing(ctx context.Context, channelID string) error
}
