package download_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/readmeabook/readmeabook/internal/domain"
	"github.com/readmeabook/readmeabook/internal/download"
	"github.com/readmeabook/readmeabook/internal/queue"
	"github.com/readmeabook/readmeabook/internal/repository"
)

type fakeRequestRepo struct {
	mu          sync.Mutex
	rows        map[string]*domain.Request
	transitions int
}

var _ repository.RequestRepository = (*fakeRequestRepo)(nil)

func newFakeRequestRepo(reqs ...*domain.Request) *fakeRequestRepo {
	rows := make(map[string]*domain.Request, len(reqs))
	for _, r := range reqs {
		cp := *r
		rows[r.ID] = &cp
	}
	return &fakeRequestRepo{rows: rows}
}

func (f *fakeRequestRepo) Create(_ context.Context, _ *domain.Request) (*domain.Request, error) {
	return nil, nil
}

func (f *fakeRequestRepo) GetByID(_ context.Context, id string) (*domain.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, domain.ErrRequestNotFound
	}
	cp := *row
	return &cp, nil
}

func (f *fakeRequestRepo) List(_ context.Context, _ repository.ListRequestsInput) ([]*domain.Request, error) {
	return nil, nil
}

func (f *fakeRequestRepo) ListByStatus(_ context.Context, _ domain.RequestStatus, _ int) ([]*domain.Request, error) {
	return nil, nil
}

func (f *fakeRequestRepo) TransitionStatus(_ context.Context, id string, from, to domain.RequestStatus, errorMessage *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !domain.CanTransitionRequest(from, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidRequestTransition, from, to)
	}
	row, ok := f.rows[id]
	if !ok {
		return domain.ErrRequestNotFound
	}
	if row.Status != from {
		return domain.ErrStaleRequestStatus
	}
	row.Status = to
	row.ErrorMessage = errorMessage
	f.transitions++
	return nil
}

func (f *fakeRequestRepo) SetSelection(_ context.Context, _ string, _ json.RawMessage) error {
	return nil
}

func (f *fakeRequestRepo) IncrementSearchAttempts(_ context.Context, _ string) (int, error) {
	return 0, nil
}

func (f *fakeRequestRepo) ResetSearchAttempts(_ context.Context, _ string) error { return nil }

func (f *fakeRequestRepo) get(t *testing.T, id string) *domain.Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		t.Fatalf("request %s not found in fake", id)
	}
	cp := *row
	return &cp
}

type fakeClient struct {
	mu    sync.Mutex
	added []domain.CandidateRelease
	err   error
}

func (c *fakeClient) AddRelease(_ context.Context, candidate domain.CandidateRelease) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.added = append(c.added, candidate)
	return nil
}

type fakeEnqueuer struct {
	mu       sync.Mutex
	payloads []domain.JobPayload
	err      error
}

func (e *fakeEnqueuer) Enqueue(_ context.Context, p domain.JobPayload) (*domain.Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	e.payloads = append(e.payloads, p)
	return &domain.Job{ID: fmt.Sprintf("job-%d", len(e.payloads)), Type: p.JobType()}, nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	reasons []string
}

func (n *fakeNotifier) RequestFailed(_ context.Context, _ *domain.Request, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reasons = append(n.reasons, reason)
}

// ---- helpers ----

const testRequestID = "req-1"

func downloadingRequest() *domain.Request {
	return &domain.Request{
		ID:          testRequestID,
		UserID:      "user-1",
		AudiobookID: "book-1",
		Status:      domain.RequestStatusDownloading,
	}
}

func testCandidate() domain.CandidateRelease {
	return domain.CandidateRelease{
		Title:       "Project Hail Mary - Andy Weir",
		IndexerID:   "idx-1",
		IndexerName: "audiobay",
		GUID:        "guid-1",
		DownloadURL: "https://indexer.example/dl/guid-1",
		SizeBytes:   500 << 20,
		Seeders:     40,
		Protocol:    domain.ProtocolTorrent,
		Format:      domain.FormatM4B,
	}
}

func downloadJob(t *testing.T, attempts, maxAttempts int) *domain.Job {
	t.Helper()
	raw, err := domain.MarshalPayload(domain.DownloadPayload{
		RequestID: testRequestID,
		Audiobook: domain.AudiobookRef{
			ID:             "book-1",
			Title:          "Project Hail Mary",
			Author:         "Andy Weir",
			RuntimeMinutes: 960,
		},
		Candidate: testCandidate(),
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &domain.Job{
		ID:          "download-job-1",
		Type:        domain.JobTypeDownload,
		Payload:     raw,
		Status:      domain.JobStatusRunning,
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
	}
}

func newProcessor(requests *fakeRequestRepo, client *fakeClient, enq *fakeEnqueuer, n *fakeNotifier) *download.Processor {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return download.NewProcessor(requests, client, enq, n, logger)
}

// ---- scenarios ----

func TestProcess_SubmitsAndStagesLibraryScan(t *testing.T) {
	requests := newFakeRequestRepo(downloadingRequest())
	client := &fakeClient{}
	enq := &fakeEnqueuer{}
	p := newProcessor(requests, client, enq, &fakeNotifier{})

	result, err := p.Process(context.Background(), downloadJob(t, 1, 3))
	if err != nil {
		t.Fatalf("Process() = %v, want success", err)
	}

	if len(client.added) != 1 || client.added[0].GUID != "guid-1" {
		t.Fatalf("submitted releases = %+v, want the payload candidate", client.added)
	}
	if got := requests.get(t, testRequestID).Status; got != domain.RequestStatusDownloaded {
		t.Fatalf("request status = %s, want downloaded", got)
	}
	if len(enq.payloads) != 1 {
		t.Fatalf("enqueued %d jobs, want 1 library scan", len(enq.payloads))
	}
	scan, ok := enq.payloads[0].(domain.PlexLibraryScanPayload)
	if !ok {
		t.Fatalf("enqueued payload is %T, want PlexLibraryScanPayload", enq.payloads[0])
	}
	if scan.Reason != "post_download" {
		t.Errorf("scan reason = %q, want post_download", scan.Reason)
	}

	var outcome map[string]any
	if err := json.Unmarshal(result, &outcome); err != nil {
		t.Fatalf("job result does not decode: %v", err)
	}
	if outcome["outcome"] != "submitted" {
		t.Errorf("outcome = %v, want submitted", outcome["outcome"])
	}
}

func TestProcess_RequestNotDownloading_Skips(t *testing.T) {
	req := downloadingRequest()
	req.Status = domain.RequestStatusAvailable
	requests := newFakeRequestRepo(req)
	client := &fakeClient{}
	p := newProcessor(requests, client, &fakeEnqueuer{}, &fakeNotifier{})

	result, err := p.Process(context.Background(), downloadJob(t, 2, 3))
	if err != nil {
		t.Fatalf("redelivery against a concluded request must no-op: %v", err)
	}
	if len(client.added) != 0 {
		t.Fatalf("submitted %d releases, want 0 on skip", len(client.added))
	}
	var outcome map[string]any
	if err := json.Unmarshal(result, &outcome); err != nil {
		t.Fatalf("job result does not decode: %v", err)
	}
	if outcome["outcome"] != "skipped" {
		t.Fatalf("outcome = %v, want skipped", outcome["outcome"])
	}
}

func TestProcess_SubmitFailure_LeavesRequestForRetry(t *testing.T) {
	requests := newFakeRequestRepo(downloadingRequest())
	client := &fakeClient{err: errors.New("connection refused")}
	notifier := &fakeNotifier{}
	p := newProcessor(requests, client, &fakeEnqueuer{}, notifier)

	_, err := p.Process(context.Background(), downloadJob(t, 1, 3))
	if err == nil {
		t.Fatal("want error when submission fails")
	}
	if queue.IsTerminal(err) {
		t.Fatalf("submission failure must stay retryable, got terminal: %v", err)
	}
	if got := requests.get(t, testRequestID).Status; got != domain.RequestStatusDownloading {
		t.Fatalf("request status = %s, want downloading until attempts run out", got)
	}
	if len(notifier.reasons) != 0 {
		t.Fatalf("notifications = %v, want none before the last attempt", notifier.reasons)
	}
}

func TestProcess_SubmitFailureOnLastAttempt_FailsRequest(t *testing.T) {
	requests := newFakeRequestRepo(downloadingRequest())
	client := &fakeClient{err: errors.New("connection refused")}
	notifier := &fakeNotifier{}
	p := newProcessor(requests, client, &fakeEnqueuer{}, notifier)

	_, err := p.Process(context.Background(), downloadJob(t, 3, 3))
	if err == nil {
		t.Fatal("want error on the final attempt too")
	}

	row := requests.get(t, testRequestID)
	if row.Status != domain.RequestStatusFailed {
		t.Fatalf("request status = %s, want failed after the last attempt", row.Status)
	}
	if row.ErrorMessage == nil || !strings.Contains(*row.ErrorMessage, "after 3 attempts") {
		t.Fatalf("error message = %v, want attempt count", row.ErrorMessage)
	}
	if len(notifier.reasons) != 1 || !strings.Contains(notifier.reasons[0], "download submission failed") {
		t.Fatalf("failure notifications = %v, want one", notifier.reasons)
	}
}

func TestProcess_ScanEnqueueFailure_StillSucceeds(t *testing.T) {
	requests := newFakeRequestRepo(downloadingRequest())
	enq := &fakeEnqueuer{err: errors.New("queue insert failed")}
	p := newProcessor(requests, &fakeClient{}, enq, &fakeNotifier{})

	// The nightly library scan is the backstop; a lost immediate scan must
	// not fail the job or roll back the downloaded transition.
	if _, err := p.Process(context.Background(), downloadJob(t, 1, 3)); err != nil {
		t.Fatalf("Process() = %v, want success despite scan enqueue failure", err)
	}
	if got := requests.get(t, testRequestID).Status; got != domain.RequestStatusDownloaded {
		t.Fatalf("request status = %s, want downloaded", got)
	}
}

func TestProcess_MalformedPayload_IsTerminal(t *testing.T) {
	p := newProcessor(newFakeRequestRepo(), &fakeClient{}, &fakeEnqueuer{}, &fakeNotifier{})

	job := downloadJob(t, 1, 3)
	job.Payload = json.RawMessage(`{"requestId": ""}`)
	_, err := p.Process(context.Background(), job)
	if err == nil || !queue.IsTerminal(err) {
		t.Fatalf("malformed payload error = %v, want terminal", err)
	}
}

func TestProcess_MissingRequest_IsTerminal(t *testing.T) {
	p := newProcessor(newFakeRequestRepo(), &fakeClient{}, &fakeEnqueuer{}, &fakeNotifier{})

	_, err := p.Process(context.Background(), downloadJob(t, 1, 3))
	if err == nil || !queue.IsTerminal(err) {
		t.Fatalf("missing request error = %v, want terminal", err)
	}
	if !errors.Is(err, domain.ErrRequestNotFound) {
		t.Fatalf("error = %v, want ErrRequestNotFound", err)
	}
}
