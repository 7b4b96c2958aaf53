package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/readmeabook/readmeabook/internal/domain"
	"github.com/readmeabook/readmeabook/internal/metrics"
	"github.com/readmeabook/readmeabook/internal/pacing"
	"github.com/readmeabook/readmeabook/internal/repository"
)

type Worker struct {
	id           string
	jobs         repository.JobRepository
	procs        map[domain.JobType]Processor
	types        []domain.JobType
	logger       *slog.Logger
	pollInterval time.Duration
	retryBase    time.Duration
	concurrency  int
	sem          chan struct{}
}

func NewWorker(
	jobs repository.JobRepository,
	logger *slog.Logger,
	pollInterval time.Duration,
	retryBase time.Duration,
	concurrency int,
) *Worker {
	hostname, _ := os.Hostname()
	id := fmt.Sprintf("%s-%d", hostname, os.Getpid())
	return &Worker{
		id:           id,
		jobs:         jobs,
		procs:        make(map[domain.JobType]Processor),
		logger:       logger.With("worker_id", id),
		pollInterval: pollInterval,
		retryBase:    retryBase,
		concurrency:  concurrency,
		sem:          make(chan struct{}, concurrency),
	}
}

// Register wires a processor for its job type. Claims only cover registered
// types, so an unregistered type sits queued until some worker registers it.
// Must be called before Start; double registration is a wiring bug.
func (w *Worker) Register(p Processor) {
	if _, dup := w.procs[p.Type()]; dup {
		panic(fmt.Sprintf("queue: processor for %s registered twice", p.Type()))
	}
	w.procs[p.Type()] = p
	w.types = append(w.types, p.Type())
}

func (w *Worker) Start(ctx context.Context) {
	metrics.WorkerStartTime.SetToCurrentTime()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("worker started", "concurrency", w.concurrency, "types", w.types)

	for {
		select {
		case <-ctx.Done():
			metrics.WorkerShutdownsTotal.Inc()
			w.logger.Info("worker shut down")
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	available := cap(w.sem) - len(w.sem)
	if available == 0 {
		return
	}

	jobs, err := w.jobs.Claim(ctx, w.id, w.types, available)
	if err != nil {
		w.logger.Error("claim jobs", "error", err)
		return
	}

	if len(jobs) == 0 {
		return
	}

	w.logger.Info("claimed jobs", "count", len(jobs), "slots_used", len(w.sem)+len(jobs), "slots_total", cap(w.sem))

	for _, job := range jobs {
		w.sem <- struct{}{}
		go func(j *domain.Job) {
			metrics.JobsInFlight.Inc()
			defer metrics.JobsInFlight.Dec()
			defer func() { <-w.sem }()
			w.runJob(ctx, j)
		}(job)
	}
}

func (w *Worker) runJob(ctx context.Context, job *domain.Job) {
	metrics.JobPickupLatency.Observe(time.Since(job.CreatedAt).Seconds())

	proc, ok := w.procs[job.Type]
	if !ok {
		// Claim filters on registered types, so this only fires if the
		// registry changed between claim and dispatch.
		w.finalize(ctx, job, time.Now(), nil, Terminal(fmt.Errorf("no processor registered for %s", job.Type)))
		return
	}

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()
	go w.heartbeat(heartbeatCtx, job.ID)

	w.logger.Info("processing job", "job_id", job.ID, "type", job.Type, "attempt", job.Attempts, "max_attempts", job.MaxAttempts)

	startedAt := time.Now()
	result, err := w.process(ctx, proc, job)
	w.finalize(ctx, job, startedAt, result, err)
}

// process runs the processor with panic containment: a panicking processor
// fails its own job, never the worker loop.
func (w *Worker) process(ctx context.Context, proc Processor, job *domain.Job) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("processor panicked", "job_id", job.ID, "type", job.Type, "panic", r)
			result, err = nil, fmt.Errorf("processor panic: %v", r)
		}
	}()
	return proc.Process(ctx, job)
}

// finalize routes the outcome: success completes the job, a retryable error
// requeues it with jittered exponential backoff while attempts remain, and
// a terminal error or exhausted attempts fail it permanently. If the final
// write itself fails the job stays running and the reaper picks it up.
func (w *Worker) finalize(ctx context.Context, job *domain.Job, startedAt time.Time, result json.RawMessage, procErr error) {
	duration := time.Since(startedAt)
	typeLabel := string(job.Type)

	if procErr == nil {
		metrics.JobExecutionDuration.WithLabelValues(typeLabel, "success").Observe(duration.Seconds())
		metrics.JobsCompletedTotal.WithLabelValues(typeLabel, "success").Inc()
		if err := w.jobs.Complete(ctx, job.ID, result); err != nil {
			w.logger.Error("mark job complete", "job_id", job.ID, "error", err)
			return
		}
		w.logger.Info("job succeeded", "job_id", job.ID, "type", job.Type, "duration", duration)
		return
	}

	metrics.JobExecutionDuration.WithLabelValues(typeLabel, "failure").Observe(duration.Seconds())
	errMsg := procErr.Error()

	if !IsTerminal(procErr) && job.Attempts < job.MaxAttempts {
		retryAt := time.Now().Add(pacing.JitteredBackoff(job.Attempts-1, w.retryBase))
		if err := w.jobs.Reschedule(ctx, job.ID, errMsg, retryAt); err != nil {
			w.logger.Error("reschedule job", "job_id", job.ID, "error", err)
			return
		}
		metrics.JobsCompletedTotal.WithLabelValues(typeLabel, "retry").Inc()
		w.logger.Warn("job failed, will retry",
			"job_id", job.ID,
			"type", job.Type,
			"error", errMsg,
			"attempt", job.Attempts,
			"max_attempts", job.MaxAttempts,
			"retry_at", retryAt,
		)
		return
	}

	if err := w.jobs.Fail(ctx, job.ID, errMsg); err != nil {
		w.logger.Error("mark job failed", "job_id", job.ID, "error", err)
		return
	}
	metrics.JobsCompletedTotal.WithLabelValues(typeLabel, "failed").Inc()
	w.logger.Warn("job permanently failed", "job_id", job.ID, "type", job.Type, "error", errMsg, "terminal", IsTerminal(procErr))
}

func (w *Worker) heartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.jobs.UpdateHeartbeat(ctx, jobID); err != nil {
				w.logger.Warn("heartbeat failed", "job_id", jobID, "error", err)
			}
		}
	}
}
