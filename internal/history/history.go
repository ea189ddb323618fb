// Package history keeps the optional ledger of handled turns and derives the
// periodic digest from it.
package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/zulandar/minicodex/internal/models"
)

// Query limits for Recent.
const (
	DefaultRecentLimit = 50
	MaxRecentLimit     = 500
)

// Store reads and writes turn rows.
type Store struct {
	db *gorm.DB
}

// New wraps an open, migrated database.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Record inserts one turn row. Timestamps are stored in UTC so range
// queries compare consistently on sqlite.
func (s *Store) Record(ctx context.Context, turn *models.Turn) error {
	if !turn.CreatedAt.IsZero() {
		turn.CreatedAt = turn.CreatedAt.UTC()
	}
	if err := s.db.WithContext(ctx).Create(turn).Error; err != nil {
		return fmt.Errorf("history: record turn %s: %w", turn.TurnID, err)
	}
	return nil
}

// Recent returns the newest turns first. limit is clamped to
// [1, MaxRecentLimit]; zero or negative selects DefaultRecentLimit.
func (s *Store) Recent(ctx context.Context, limit int) ([]models.Turn, error) {
	limit = ClampLimit(limit)
	var turns []models.Turn
	if err := s.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&turns).Error; err != nil {
		return nil, fmt.Errorf("history: recent turns: %w", err)
	}
	return turns, nil
}

// ClampLimit normalises a requested row count.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultRecentLimit
	case limit > MaxRecentLimit:
		return MaxRecentLimit
	default:
		return limit
	}
}

// Summary is the aggregate of turns in a period.
type Summary struct {
	PeriodStart   time.Time
	PeriodEnd     time.Time
	Turns         int
	Commands      int
	Fresh         int
	Resumed       int
	Timeouts      int
	Failures      int // non-zero exit or turn error, excluding timeouts
	Conversations int // distinct conversation keys
}

// Empty reports whether nothing happened in the period.
func (s Summary) Empty() bool { return s.Turns == 0 }

// Summary aggregates turns created in [since, until).
func (s *Store) Summary(ctx context.Context, since, until time.Time) (Summary, error) {
	sum := Summary{PeriodStart: since, PeriodEnd: until}
	scope := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&models.Turn{}).
			Where("created_at >= ? AND created_at < ?", since.UTC(), until.UTC())
	}

	var byMode []struct {
		Mode  string
		Count int
	}
	if err := scope().Select("mode, COUNT(*) as count").Group("mode").Scan(&byMode).Error; err != nil {
		return sum, fmt.Errorf("history: summary by mode: %w", err)
	}
	for _, row := range byMode {
		sum.Turns += row.Count
		switch row.Mode {
		case models.TurnModeCommand:
			sum.Commands = row.Count
		case models.TurnModeFresh:
			sum.Fresh = row.Count
		case models.TurnModeResume:
			sum.Resumed = row.Count
		}
	}

	var timeouts, failures, conversations int64
	if err := scope().Where("timed_out = ?", true).Count(&timeouts).Error; err != nil {
		return sum, fmt.Errorf("history: summary timeouts: %w", err)
	}
	if err := scope().Where("timed_out = ? AND (exit_code <> 0 OR error <> '')", false).
		Count(&failures).Error; err != nil {
		return sum, fmt.Errorf("history: summary failures: %w", err)
	}
	if err := scope().Distinct("conversation_key").Count(&conversations).Error; err != nil {
		return sum, fmt.Errorf("history: summary conversations: %w", err)
	}
	sum.Timeouts = int(timeouts)
	sum.Failures = int(failures)
	sum.Conversations = int(conversations)
	return sum, nil
}

// FormatDigest renders a summary as a chat message.
func FormatDigest(s Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Relay digest** %s to %s\n",
		s.PeriodStart.UTC().Format("2006-01-02 15:04"), s.PeriodEnd.UTC().Format("2006-01-02 15:04 UTC"))
	if s.Empty() {
		b.WriteString("No turns handled.")
		return b.String()
	}
	fmt.Fprintf(&b, "Turns: %d across %d conversations\n", s.Turns, s.Conversations)
	fmt.Fprintf(&b, "Codex: %d fresh, %d resumed | Commands: %d\n", s.Fresh, s.Resumed, s.Commands)
	fmt.Fprintf(&b, "Timeouts: %d | Failures: %d", s.Timeouts, s.Failures)
	return b.String()
}
