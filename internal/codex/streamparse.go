package codex

import (
	"encoding/json"
	"strings"
)

// EventThreadStarted is the event type codex emits when it opens a session.
const EventThreadStarted = "thread.started"

// streamEvent is used for initial type dispatch.
type streamEvent struct {
	Type string `json:"type"`
}

// threadStartedEvent carries the new session handle.
type threadStartedEvent struct {
	ThreadID *string `json:"thread_id"`
}

// ParseSessionID scans combined output line by line and returns the handle
// from the first thread.started event. Lines that are not JSON objects, or
// fail to decode, are skipped.
func ParseSessionID(output string) (string, bool) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if len(line) == 0 || line[0] != '{' {
			continue
		}

		var evt streamEvent
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			continue
		}
		if evt.Type != EventThreadStarted {
			continue
		}

		var started threadStartedEvent
		if err := json.Unmarshal([]byte(line), &started); err != nil {
			continue
		}
		if started.ThreadID != nil && *started.ThreadID != "" {
			return *started.ThreadID, true
		}
	}
	return "", false
}
