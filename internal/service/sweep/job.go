// Package sweep reconciles conversation archival with appointment state.
// A pass archives every active conversation whose pair has no scheduled
// appointment. It never unarchives; only a new booking does that.
package sweep

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"therapy-chat-sync/internal/model"
	"therapy-chat-sync/internal/observability"
)

const DefaultConcurrency = 8

var tracer = observability.Tracer("sweep")

type Registry interface {
	ListActive(ctx context.Context) ([]model.Conversation, error)
	ArchiveIfIdle(ctx context.Context, patientID, therapistID string) (bool, error)
	RefreshLastMessage(ctx context.Context, id string) (bool, error)
}

type Report struct {
	Scanned  int           `json:"scanned"`
	Archived int           `json:"archived"`
	Repaired int           `json:"repaired"`
	Failed   int           `json:"failed"`
	Took     time.Duration `json:"took"`
}

type Option func(*Job)

func WithConcurrency(n int) Option {
	return func(j *Job) {
		if n > 0 {
			j.concurrency = n
		}
	}
}

// WithCacheRepair also recomputes each scanned conversation's last message
// cache, which deletes leave stale.
func WithCacheRepair(enabled bool) Option {
	return func(j *Job) {
		j.repair = enabled
	}
}

type Job struct {
	registry    Registry
	concurrency int
	repair      bool
}

func NewJob(registry Registry, opts ...Option) *Job {
	j := &Job{registry: registry, concurrency: DefaultConcurrency}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run makes one pass. Failures on single pairs are counted and logged and
// do not stop the pass; the next pass retries them.
func (j *Job) Run(ctx context.Context) (Report, error) {
	ctx, span := tracer.Start(ctx, "sweep.Run")
	defer span.End()
	logger := observability.LoggerFromContext(ctx)
	started := time.Now()

	convs, err := j.registry.ListActive(ctx)
	if err != nil {
		span.RecordError(err)
		return Report{}, err
	}

	// Leftover duplicates share a pair; one archive check covers them all.
	pairs := make(map[string]model.Conversation, len(convs))
	for _, c := range convs {
		if _, ok := pairs[c.PairKey]; !ok {
			pairs[c.PairKey] = c
		}
	}

	var archived, repaired, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(j.concurrency)

	for _, conv := range convs {
		if ctx.Err() != nil {
			break
		}
		conv := conv
		first := pairs[conv.PairKey].ID == conv.ID
		g.Go(func() error {
			if first {
				ok, err := j.registry.ArchiveIfIdle(ctx, conv.PatientID, conv.TherapistID)
				if err != nil {
					failed.Add(1)
					logger.Error().Err(err).Str("pair_key", conv.PairKey).Msg("sweep archive check failed")
					return nil
				}
				if ok {
					archived.Add(1)
				}
			}
			if j.repair {
				changed, err := j.registry.RefreshLastMessage(ctx, conv.ID)
				if err != nil {
					failed.Add(1)
					logger.Error().Err(err).Str("chat_id", conv.ID).Msg("sweep cache repair failed")
					return nil
				}
				if changed {
					repaired.Add(1)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	report := Report{
		Scanned:  len(convs),
		Archived: int(archived.Load()),
		Repaired: int(repaired.Load()),
		Failed:   int(failed.Load()),
		Took:     time.Since(started),
	}
	span.SetAttributes(
		attribute.Int("scanned", report.Scanned),
		attribute.Int("archived", report.Archived),
		attribute.Int("failed", report.Failed),
	)
	return report, ctx.Err()
}
