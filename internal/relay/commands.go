package relay

import (
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/minicodex/internal/prompt"
)

// soulExcerptLimit caps the /soul reply.
const soulExcerptLimit = 1200

const helpText = `Commands:
- /help    Show this help
- /ping    Health check
- /skills  Show available skills
- /soul    Show current soul summary
- /session Show this conversation's Codex session

Anything else is sent to local Codex CLI.`

// IsCommand reports whether text is handled locally instead of by codex.
func IsCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "/")
}

// command answers a slash command. Matching is a case-insensitive prefix on
// the command word, so "/pinging" still answers pong.
func (r *Relay) command(key, text string) string {
	lower := strings.ToLower(strings.TrimSpace(text))
	switch {
	case strings.HasPrefix(lower, "/help"):
		return helpText
	case strings.HasPrefix(lower, "/ping"):
		return "pong"
	case strings.HasPrefix(lower, "/skills"):
		return "Built-in skills: help, ping, skills, soul, session\n" +
			"Skill cards from ./skills: " + prompt.SkillNames(r.skills)
	case strings.HasPrefix(lower, "/soul"):
		return "Soul:\n" + r.soul.Excerpt(soulExcerptLimit)
	case strings.HasPrefix(lower, "/session"):
		return r.sessionStatus(key)
	default:
		return "Unknown command. Try /help"
	}
}

func (r *Relay) sessionStatus(key string) string {
	rec, ok := r.store.Get(key)
	if !ok {
		return "No Codex session for this conversation yet."
	}
	age := r.now().Sub(rec.LastActiveAt).Truncate(time.Second)
	if !rec.Active(r.now(), r.ttl) {
		return fmt.Sprintf("Codex session %s expired (last active %s ago). The next message starts a fresh session.", rec.SessionID, age)
	}
	return fmt.Sprintf("Codex session %s is active (last active %s ago, expires after %s idle).", rec.SessionID, age, r.ttl)
}
