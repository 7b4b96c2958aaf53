package audible_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/readmeabook/readmeabook/internal/audible"
	"github.com/readmeabook/readmeabook/internal/domain"
	"github.com/readmeabook/readmeabook/internal/queue"
	"github.com/readmeabook/readmeabook/internal/repository"
)

type fakeBookRepo struct {
	mu      sync.Mutex
	books   map[string]*domain.Audiobook
	updates map[string]repository.AudiobookMetadata
}

var _ repository.AudiobookRepository = (*fakeBookRepo)(nil)

func newFakeBookRepo(books ...*domain.Audiobook) *fakeBookRepo {
	rows := make(map[string]*domain.Audiobook, len(books))
	for _, b := range books {
		cp := *b
		rows[b.ID] = &cp
	}
	return &fakeBookRepo{books: rows, updates: map[string]repository.AudiobookMetadata{}}
}

func (f *fakeBookRepo) Upsert(_ context.Context, _ *domain.Audiobook) (*domain.Audiobook, error) {
	return nil, nil
}

func (f *fakeBookRepo) GetByID(_ context.Context, id string) (*domain.Audiobook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.books[id]
	if !ok {
		return nil, domain.ErrAudiobookNotFound
	}
	cp := *b
	return &cp, nil
}

func (f *fakeBookRepo) GetByASIN(_ context.Context, _ string) (*domain.Audiobook, error) {
	return nil, domain.ErrAudiobookNotFound
}

func (f *fakeBookRepo) ListByIDs(_ context.Context, _ []string) ([]*domain.Audiobook, error) {
	return nil, nil
}

func (f *fakeBookRepo) ListMissingMetadata(_ context.Context, _ int) ([]*domain.Audiobook, error) {
	return nil, nil
}

func (f *fakeBookRepo) UpdateMetadata(_ context.Context, id string, meta repository.AudiobookMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.books[id]; !ok {
		return domain.ErrAudiobookNotFound
	}
	f.updates[id] = meta
	return nil
}

type fakeCatalog struct {
	book *audible.BookMetadata
	err  error
}

func (c *fakeCatalog) GetBook(_ context.Context, _ string) (*audible.BookMetadata, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.book, nil
}

func requestedBook() *domain.Audiobook {
	return &domain.Audiobook{
		ID:     "book-1",
		ASIN:   "B08G9PRS1K",
		Title:  "project hail mary",
		Author: "A. Weir",
	}
}

func refreshJob(t *testing.T) *domain.Job {
	t.Helper()
	raw, err := domain.MarshalPayload(domain.AudibleRefreshPayload{
		AudiobookID: "book-1",
		ASIN:        "B08G9PRS1K",
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &domain.Job{
		ID:          "refresh-job-1",
		Type:        domain.JobTypeAudibleRefresh,
		Payload:     raw,
		Status:      domain.JobStatusRunning,
		Attempts:    1,
		MaxAttempts: 3,
	}
}

func newProcessor(books *fakeBookRepo, catalog *fakeCatalog) *audible.Processor {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return audible.NewProcessor(books, catalog, logger)
}

func TestProcess_RefreshesMetadata(t *testing.T) {
	books := newFakeBookRepo(requestedBook())
	catalog := &fakeCatalog{book: &audible.BookMetadata{
		ASIN:           "B08G9PRS1K",
		Title:          "Project Hail Mary",
		Author:         "Andy Weir",
		Narrator:       "Ray Porter",
		RuntimeMinutes: 960,
		CoverURL:       "https://m.media-amazon.com/images/phm.jpg",
	}}
	p := newProcessor(books, catalog)

	result, err := p.Process(context.Background(), refreshJob(t))
	if err != nil {
		t.Fatalf("Process() = %v, want success", err)
	}

	meta, ok := books.updates["book-1"]
	if !ok {
		t.Fatal("metadata was never persisted")
	}
	if meta.Title != "Project Hail Mary" || meta.Author != "Andy Weir" {
		t.Errorf("title/author = %q/%q, want catalog values", meta.Title, meta.Author)
	}
	if meta.Narrator != "Ray Porter" || meta.RuntimeMinutes != 960 {
		t.Errorf("narrator/runtime = %q/%d, want catalog values", meta.Narrator, meta.RuntimeMinutes)
	}

	var outcome map[string]any
	if err := json.Unmarshal(result, &outcome); err != nil {
		t.Fatalf("job result does not decode: %v", err)
	}
	if outcome["outcome"] != "refreshed" {
		t.Errorf("outcome = %v, want refreshed", outcome["outcome"])
	}
}

func TestProcess_BlankCatalogFieldsKeepExisting(t *testing.T) {
	books := newFakeBookRepo(requestedBook())
	// Sparse product: runtime only, no contributors or art.
	catalog := &fakeCatalog{book: &audible.BookMetadata{
		ASIN:           "B08G9PRS1K",
		RuntimeMinutes: 960,
	}}
	p := newProcessor(books, catalog)

	if _, err := p.Process(context.Background(), refreshJob(t)); err != nil {
		t.Fatalf("Process() = %v, want success", err)
	}

	meta := books.updates["book-1"]
	if meta.Title != "project hail mary" || meta.Author != "A. Weir" {
		t.Errorf("title/author = %q/%q, want the original request values kept", meta.Title, meta.Author)
	}
	if meta.RuntimeMinutes != 960 {
		t.Errorf("runtime = %d, want 960 from the catalog", meta.RuntimeMinutes)
	}
}

func TestProcess_UnknownASIN_IsTerminal(t *testing.T) {
	books := newFakeBookRepo(requestedBook())
	catalog := &fakeCatalog{err: fmt.Errorf("asin B08G9PRS1K: %w", audible.ErrBookNotFound)}
	p := newProcessor(books, catalog)

	_, err := p.Process(context.Background(), refreshJob(t))
	if err == nil || !queue.IsTerminal(err) {
		t.Fatalf("unknown asin error = %v, want terminal", err)
	}
	if len(books.updates) != 0 {
		t.Fatalf("updates = %v, want metadata left untouched", books.updates)
	}
}

func TestProcess_TransportError_IsRetryable(t *testing.T) {
	books := newFakeBookRepo(requestedBook())
	catalog := &fakeCatalog{err: errors.New("connection reset")}
	p := newProcessor(books, catalog)

	_, err := p.Process(context.Background(), refreshJob(t))
	if err == nil {
		t.Fatal("want error on transport failure")
	}
	if queue.IsTerminal(err) {
		t.Fatalf("transport failure must stay retryable, got terminal: %v", err)
	}
}

func TestProcess_MissingAudiobook_IsTerminal(t *testing.T) {
	p := newProcessor(newFakeBookRepo(), &fakeCatalog{})

	_, err := p.Process(context.Background(), refreshJob(t))
	if err == nil || !queue.IsTerminal(err) {
		t.Fatalf("missing audiobook error = %v, want terminal", err)
	}
}

func TestProcess_MalformedPayload_IsTerminal(t *testing.T) {
	p := newProcessor(newFakeBookRepo(requestedBook()), &fakeCatalog{})

	job := refreshJob(t)
	job.Payload = json.RawMessage(`{"audiobookId": ""}`)
	_, err := p.Process(context.Background(), job)
	if err == nil || !queue.IsTerminal(err) {
		t.Fatalf("malformed payload error = %v, want terminal", err)
	}
}
