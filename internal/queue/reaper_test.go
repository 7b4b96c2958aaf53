package queue

import (
	"context"
	"testing"
	"time"

	"github.com/readmeabook/readmeabook/internal/domain"
)

func TestReaper_RecoversStaleJobs(t *testing.T) {
	fake := newFakeJobs()
	w := newTestWorker(fake, 2)
	w.Register(&fakeProcessor{typ: domain.JobTypeDownload})

	// Two running jobs whose worker stopped heartbeating: one has attempts
	// left, one is out.
	retryable := fake.add(t, domain.JobTypeDownload, 0, 3)
	exhausted := fake.add(t, domain.JobTypeDownload, 2, 3)
	if _, err := fake.Claim(context.Background(), "dead-worker", w.types, 2); err != nil {
		t.Fatalf("claim: %v", err)
	}

	stale := time.Now().Add(-10 * time.Minute)
	fake.mu.Lock()
	for _, row := range fake.rows {
		row.HeartbeatAt = &stale
	}
	fake.mu.Unlock()

	reaper := NewReaper(fake, testLogger(), time.Minute, 2*time.Minute)
	reaper.reap(context.Background())

	if got := fake.get(t, retryable.ID).Status; got != domain.JobStatusQueued {
		t.Fatalf("retryable stale job status = %s, want requeued", got)
	}
	if got := fake.get(t, exhausted.ID).Status; got != domain.JobStatusFailed {
		t.Fatalf("exhausted stale job status = %s, want failed", got)
	}
}

func TestReaper_LeavesHealthyJobsAlone(t *testing.T) {
	fake := newFakeJobs()
	w := newTestWorker(fake, 1)
	w.Register(&fakeProcessor{typ: domain.JobTypeDownload})

	job := fake.add(t, domain.JobTypeDownload, 0, 3)
	if _, err := fake.Claim(context.Background(), "live-worker", w.types, 1); err != nil {
		t.Fatalf("claim: %v", err)
	}

	reaper := NewReaper(fake, testLogger(), time.Minute, 2*time.Minute)
	reaper.reap(context.Background())

	if got := fake.get(t, job.ID).Status; got != domain.JobStatusRunning {
		t.Fatalf("freshly heartbeating job status = %s, want still running", got)
	}
}

func TestMaintenance_RejectsBadCronSpec(t *testing.T) {
	m := NewMaintenance(testLogger())
	err := m.Add("resweep", "not a cron spec", time.Minute, func(context.Context) error { return nil })
	if err == nil {
		t.Fatal("invalid cron spec was accepted")
	}
	if err := m.Add("resweep", "@every 5m", time.Minute, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
}
