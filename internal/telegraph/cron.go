package telegraph

import (
	"time"

	"github.com/robfig/cron/v3"
)

// parseDigestSchedule accepts the same expressions config validation does:
// standard 5-field cron plus descriptors such as @daily or @every 6h.
func parseDigestSchedule(expr string) (cron.Schedule, error) {
	return cron.ParseStandard(expr)
}

// untilNext returns the wait from now until the schedule next fires, or 0
// when it never fires again.
func untilNext(sched cron.Schedule, now time.Time) time.Duration {
	next := sched.Next(now)
	if next.IsZero() {
		return 0
	}
	if d := next.Sub(now); d > 0 {
		return d
	}
	return 0
}
