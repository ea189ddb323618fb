package relay

import "strings"

// Platforms a Message can originate from.
const (
	PlatformDiscord = "discord"
	PlatformSlack   = "slack"
)

// Message is one inbound chat message, already filtered by the platform
// layer (not from the bot, channel allowed).
type Message struct {
	Platform  string
	GuildID   string // empty for Discord direct messages; Slack team id
	ChannelID string
	ParentID  string // parent channel when the message is inside a thread
	UserID    string
	UserName  string
	Text      string
}

// ConversationKey returns the session-store key scoping m.
func ConversationKey(m Message) string {
	var b strings.Builder
	switch {
	case m.Platform == PlatformSlack:
		b.WriteString("slack:")
		b.WriteString(m.GuildID)
		b.WriteString(":channel:")
	case m.GuildID != "":
		b.WriteString("guild:")
		b.WriteString(m.GuildID)
		b.WriteString(":channel:")
	default:
		b.WriteString("dm:")
	}
	b.WriteString(m.ChannelID)
	return b.String()
}
