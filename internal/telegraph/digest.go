package telegraph

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/zulandar/minicodex/internal/history"
)

// DigestSource aggregates turns for the periodic digest. history.Store
// implements it.
type DigestSource interface {
	Summary(ctx context.Context, since, until time.Time) (history.Summary, error)
}

// runDigestScheduler posts a digest on the configured cron schedule,
// covering the turns since the previous digest (or since startup).
func (d *Daemon) runDigestScheduler(ctx context.Context) {
	expr := d.cfg.Digest.Cron
	sched, err := parseDigestSchedule(expr)
	if err != nil {
		d.logger.Error("telegraph: invalid digest schedule", zap.String("cron", expr), zap.Error(err))
		return
	}
	wait := untilNext(sched, time.Now())
	if wait <= 0 {
		d.logger.Warn("telegraph: digest schedule has no next run", zap.String("cron", expr))
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	since := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			now := time.Now()
			if d.fireDigest(ctx, since, now) {
				since = now
			}
			wait := untilNext(sched, time.Now())
			if wait <= 0 {
				return
			}
			timer.Reset(wait)
		}
	}
}

// fireDigest builds and sends one digest. It reports whether the period
// was consumed; a failed query keeps the window open for the next run.
// Periods without turns are suppressed.
func (d *Daemon) fireDigest(ctx context.Context, since, until time.Time) bool {
	sum, err := d.digest.Summary(ctx, since, until)
	if err != nil {
		d.logger.Error("telegraph: digest summary", zap.Error(err))
		return false
	}
	if sum.Empty() {
		return true
	}
	if err := d.adapter.Send(ctx, OutboundMessage{
		ChannelID: d.cfg.Digest.ChannelID,
		Text:      history.FormatDigest(sum),
	}); err != nil {
		d.logger.Error("telegraph: send digest", zap.String("channel", d.cfg.Digest.ChannelID), zap.Error(err))
		return false
	}
	d.logger.Info("telegraph: digest sent", zap.Int("turns", sum.Turns))
	return true
}
