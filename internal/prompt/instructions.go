package prompt

import "strings"

// preamble opens every fresh-session prompt.
const preamble = "You are Mini OpenClaw, a Discord assistant. Follow the SOUL.md guidance exactly."

// Instructions composes the prompt for a fresh codex session.
func Instructions(soul, skills, userText string) string {
	var b strings.Builder
	b.WriteString(preamble)
	b.WriteString("\n\nSOUL.md:\n")
	b.WriteString(soul)
	b.WriteString("\n\nSKILLS:\n")
	b.WriteString(skills)
	b.WriteString("\n\nUSER MESSAGE:\n")
	b.WriteString(userText)
	return b.String()
}
