package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/readmeabook/readmeabook/internal/metrics"
	"github.com/readmeabook/readmeabook/internal/repository"
)

const reapBatchSize = 100

// Reaper recovers jobs whose worker died mid-run. A running job that has
// not heartbeated within the timeout is requeued if it has attempts left
// and failed permanently otherwise.
type Reaper struct {
	jobs             repository.JobRepository
	logger           *slog.Logger
	interval         time.Duration
	heartbeatTimeout time.Duration
}

func NewReaper(jobs repository.JobRepository, logger *slog.Logger, interval, heartbeatTimeout time.Duration) *Reaper {
	return &Reaper{
		jobs:             jobs,
		logger:           logger.With("component", "reaper"),
		interval:         interval,
		heartbeatTimeout: heartbeatTimeout,
	}
}

func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reaper started", "interval", r.interval, "heartbeat_timeout", r.heartbeatTimeout)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper shut down")
			return
		case <-ticker.C:
			r.reap(ctx)
		}
	}
}

func (r *Reaper) reap(ctx context.Context) {
	start := time.Now()
	staleCutoff := start.Add(-r.heartbeatTimeout)

	requeued, err := r.jobs.RescheduleStale(ctx, staleCutoff, reapBatchSize)
	if err != nil {
		r.logger.Error("reschedule stale jobs", "error", err)
	} else if requeued > 0 {
		metrics.ReaperRescuedTotal.WithLabelValues("requeued").Add(float64(requeued))
		r.logger.Warn("requeued stale jobs", "count", requeued)
	}

	failed, err := r.jobs.FailStale(ctx, staleCutoff, reapBatchSize)
	if err != nil {
		r.logger.Error("fail stale jobs", "error", err)
	} else if failed > 0 {
		metrics.ReaperRescuedTotal.WithLabelValues("failed").Add(float64(failed))
		r.logger.Warn("permanently failed stale jobs", "count", failed)
	}

	metrics.ReaperCycleDuration.Observe(time.Since(start).Seconds())
}
