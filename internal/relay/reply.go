package relay

import (
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/minicodex/internal/codex"
)

// OutputTailLimit caps how much captured output a fallback reply carries.
const OutputTailLimit = 3000

// NoOutputReply is returned when codex exits cleanly without saying anything.
const NoOutputReply = "Codex returned no output."

// SelectReply chooses the reply text for a finished invocation. The final
// message file wins over everything except a timeout.
func SelectReply(out codex.Outcome, timeout time.Duration) string {
	if out.TimedOut {
		return TimeoutReply(timeout)
	}
	if out.FinalMessage != "" {
		return out.FinalMessage
	}
	output := strings.TrimSpace(out.Output)
	if out.ExitCode != 0 {
		return fmt.Sprintf("Codex exited with code %d.\n%s", out.ExitCode, tail(output, OutputTailLimit))
	}
	if output == "" {
		return NoOutputReply
	}
	return tail(output, OutputTailLimit)
}

// TimeoutReply is the reply for a turn whose process was killed.
func TimeoutReply(timeout time.Duration) string {
	return fmt.Sprintf("Codex request timed out after %ds.", int(timeout/time.Second))
}

// FailureReply is the generic reply for a turn that failed unexpectedly.
func FailureReply(err error) string {
	return fmt.Sprintf("Codex request failed: %v", err)
}

// tail keeps the last n runes of s.
func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
