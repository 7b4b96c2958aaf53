package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/readmeabook/readmeabook/internal/domain"
)

func TestEnqueuer_PersistsValidatedPayload(t *testing.T) {
	fake := newFakeJobs()
	enq := NewEnqueuer(fake, testLogger(), 3)

	payload := domain.SearchIndexersPayload{
		RequestID: "req-1",
		Audiobook: domain.AudiobookRef{ID: "book-1", Title: "Project Hail Mary", Author: "Andy Weir"},
	}
	job, err := enq.Enqueue(context.Background(), payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	row := fake.get(t, job.ID)
	if row.Type != domain.JobTypeSearchIndexers {
		t.Fatalf("type = %s, want %s", row.Type, domain.JobTypeSearchIndexers)
	}
	if row.Status != domain.JobStatusQueued {
		t.Fatalf("status = %s, want queued", row.Status)
	}
	if row.MaxAttempts != 3 {
		t.Fatalf("max attempts = %d, want 3", row.MaxAttempts)
	}

	var decoded domain.SearchIndexersPayload
	if err := json.Unmarshal(row.Payload, &decoded); err != nil {
		t.Fatalf("stored payload does not decode: %v", err)
	}
	if decoded != payload {
		t.Fatalf("payload round-trip = %+v, want %+v", decoded, payload)
	}
}

func TestEnqueuer_RejectsInvalidPayload(t *testing.T) {
	fake := newFakeJobs()
	enq := NewEnqueuer(fake, testLogger(), 3)

	_, err := enq.Enqueue(context.Background(), domain.SearchIndexersPayload{
		Audiobook: domain.AudiobookRef{ID: "book-1", Title: "Project Hail Mary"},
	})
	if err == nil {
		t.Fatal("payload without request id was accepted")
	}

	counts, _ := fake.CountByStatus(context.Background())
	if len(counts) != 0 {
		t.Fatalf("invalid payload reached the store: %v", counts)
	}
}

func TestEnqueuer_FutureJobNotClaimableYet(t *testing.T) {
	fake := newFakeJobs()
	enq := NewEnqueuer(fake, testLogger(), 3)

	_, err := enq.EnqueueAt(context.Background(), domain.PlexLibraryScanPayload{Reason: "nightly"}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	claimed, err := fake.Claim(context.Background(), "w", []domain.JobType{domain.JobTypePlexLibraryScan}, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("claimed %d jobs scheduled for the future, want 0", len(claimed))
	}
}
