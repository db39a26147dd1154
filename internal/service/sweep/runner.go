package sweep

import (
	"context"
	"sync"
	"time"

	"therapy-chat-sync/internal/observability"
)

const DefaultInterval = 15 * time.Minute

// Runner runs a Job on a fixed interval and whenever Trigger is called.
// Triggers that arrive while a pass is running collapse into one follow-up
// pass.
type Runner struct {
	job      *Job
	interval time.Duration
	trigger  chan struct{}

	mu   sync.Mutex
	runs int
	last Report
}

func NewRunner(job *Job, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Runner{
		job:      job,
		interval: interval,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger requests a pass without blocking.
func (r *Runner) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run makes a pass immediately and then keeps running until ctx is done.
func (r *Runner) Run(ctx context.Context) {
	logger := observability.LoggerFromContext(ctx)
	logger.Info().Dur("interval", r.interval).Msg("sweep runner started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.runOnce(ctx, "startup")
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("sweep runner stopped")
			return
		case <-ticker.C:
			r.runOnce(ctx, "interval")
		case <-r.trigger:
			r.runOnce(ctx, "trigger")
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, reason string) {
	logger := observability.LoggerFromContext(ctx)
	report, err := r.job.Run(ctx)

	sweepRuns.WithLabelValues(reason).Inc()
	sweepArchived.Add(float64(report.Archived))
	sweepFailures.Add(float64(report.Failed))
	sweepDuration.Observe(report.Took.Seconds())

	r.mu.Lock()
	r.runs++
	r.last = report
	r.mu.Unlock()

	if err != nil {
		if ctx.Err() == nil {
			logger.Error().Err(err).Str("reason", reason).Msg("sweep failed")
		}
		return
	}
	logger.Info().
		Str("reason", reason).
		Int("scanned", report.Scanned).
		Int("archived", report.Archived).
		Int("repaired", report.Repaired).
		Int("failed", report.Failed).
		Dur("took", report.Took).
		Msg("sweep finished")
}

// Last returns the most recent report and how many passes have run.
func (r *Runner) Last() (Report, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.runs
}
