package models

import "time"

// Turn modes.
const (
	TurnModeCommand = "command" // answered locally, codex not invoked
	TurnModeFresh   = "fresh"   // codex started a new session
	TurnModeResume  = "resume"  // codex resumed a stored session
)

// Turn records one inbound-message-to-reply cycle handled by the relay.
type Turn struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	TurnID          string `gorm:"size:36;uniqueIndex;not null"`
	ConversationKey string `gorm:"size:128;not null;index"`
	Platform        string `gorm:"size:16"`
	ChannelID       string `gorm:"size:64"`
	UserName        string `gorm:"size:64"`
	Mode            string `gorm:"size:8;not null;index"`
	SessionID       string `gorm:"size:128"` // handle used or discovered
	ExitCode        int
	TimedOut        bool `gorm:"default:false"`
	DurationMs      int64
	ReplyChars      int
	Error           string    `gorm:"type:text"`
	CreatedAt       time.Time `gorm:"index"`
}
