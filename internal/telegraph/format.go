package telegraph

import "strings"

// DefaultMaxMessageLen is Discord's message length limit.
const DefaultMaxMessageLen = 2000

// chunkMessage splits text into chunks of at most maxLen characters.
// It prefers breaking at newlines in the second half of a chunk.
func chunkMessage(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = DefaultMaxMessageLen
	}
	runes := []rune(text)
	if len(runes) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= maxLen {
			chunks = append(chunks, string(runes))
			break
		}

		breakAt := -1
		for i := maxLen - 1; i >= maxLen/2; i-- {
			if runes[i] == '\n' {
				breakAt = i
				break
			}
		}

		if breakAt >= 0 {
			chunks = append(chunks, string(runes[:breakAt]))
			runes = runes[breakAt+1:] // skip the newline
		} else {
			chunks = append(chunks, string(runes[:maxLen]))
			runes = runes[maxLen:]
		}
	}
	return chunks
}

// truncate shortens s to maxLen characters for log lines.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

// isBlank reports whether s has no visible text.
func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
