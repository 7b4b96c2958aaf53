package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/readmeabook/readmeabook/internal/metrics"
	"github.com/readmeabook/readmeabook/internal/requestid"
	"github.com/robfig/cron/v3"
)

// Maintenance runs recurring background tasks on cron schedules: the
// re-search sweep and the nightly metadata refresh and library scan
// enqueues. Tasks are plain closures so the scheduler stays ignorant of
// what they do.
type Maintenance struct {
	cron   *cron.Cron
	logger *slog.Logger
	tasks  int
}

func NewMaintenance(logger *slog.Logger) *Maintenance {
	return &Maintenance{
		cron:   cron.New(),
		logger: logger.With("component", "maintenance"),
	}
}

// Add schedules a named task. The spec accepts standard five-field cron
// expressions and @every intervals. Each run gets its own timeout context;
// a failing or slow task never blocks the next schedule of the others.
func (m *Maintenance) Add(name, spec string, timeout time.Duration, run func(context.Context) error) error {
	logger := m.logger.With("task", name)
	_, err := m.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		// Each run carries its own correlation id so one run's lines
		// group together in the logs.
		ctx = requestid.WithRequestID(ctx, requestid.New())

		start := time.Now()
		if err := run(ctx); err != nil {
			metrics.MaintenanceRunsTotal.WithLabelValues(name, "error").Inc()
			logger.ErrorContext(ctx, "maintenance task failed", "error", err, "duration", time.Since(start))
			return
		}
		metrics.MaintenanceRunsTotal.WithLabelValues(name, "ok").Inc()
		logger.InfoContext(ctx, "maintenance task finished", "duration", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("add maintenance task %s: %w", name, err)
	}
	m.tasks++
	return nil
}

// Start runs the scheduler until ctx is canceled, then waits for any
// in-flight task to finish.
func (m *Maintenance) Start(ctx context.Context) {
	m.cron.Start()
	m.logger.Info("maintenance scheduler started", "tasks", m.tasks)

	<-ctx.Done()
	<-m.cron.Stop().Done()
	m.logger.Info("maintenance scheduler shut down")
}
