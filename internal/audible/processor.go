package audible

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/readmeabook/readmeabook/internal/domain"
	"github.com/readmeabook/readmeabook/internal/queue"
	"github.com/readmeabook/readmeabook/internal/repository"
)

// Processor refreshes one audiobook's metadata from the catalog. Metadata
// is cosmetic plus one ranking input (runtime), so failures here never
// touch the request lifecycle.
type Processor struct {
	audiobooks repository.AudiobookRepository
	client     Client
	logger     *slog.Logger
}

func NewProcessor(audiobooks repository.AudiobookRepository, client Client, logger *slog.Logger) *Processor {
	return &Processor{
		audiobooks: audiobooks,
		client:     client,
		logger:     logger.With("component", "audible"),
	}
}

func (p *Processor) Type() domain.JobType { return domain.JobTypeAudibleRefresh }

type refreshOutcome struct {
	Outcome        string `json:"outcome"`
	RuntimeMinutes int    `json:"runtimeMinutes,omitempty"`
}

func (o refreshOutcome) marshal() json.RawMessage {
	raw, _ := json.Marshal(o)
	return raw
}

func (p *Processor) Process(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
	var payload domain.AudibleRefreshPayload
	if err := domain.DecodePayload(job, &payload); err != nil {
		return nil, queue.Terminal(err)
	}
	logger := p.logger.With("audiobook_id", payload.AudiobookID, "asin", payload.ASIN)

	book, err := p.audiobooks.GetByID(ctx, payload.AudiobookID)
	if err != nil {
		if errors.Is(err, domain.ErrAudiobookNotFound) {
			return nil, queue.Terminal(err)
		}
		return nil, err
	}

	fetched, err := p.client.GetBook(ctx, payload.ASIN)
	if err != nil {
		if errors.Is(err, ErrBookNotFound) {
			// A bad ASIN stays bad; leave the user-supplied metadata alone.
			logger.Warn("asin not in catalog, keeping existing metadata")
			return nil, queue.Terminal(err)
		}
		return nil, fmt.Errorf("fetch metadata: %w", err)
	}

	// Catalog fields win when present; blanks keep what the request brought.
	meta := repository.AudiobookMetadata{
		Title:          book.Title,
		Author:         book.Author,
		Narrator:       book.Narrator,
		RuntimeMinutes: book.RuntimeMinutes,
		CoverURL:       book.CoverURL,
	}
	if fetched.Title != "" {
		meta.Title = fetched.Title
	}
	if fetched.Author != "" {
		meta.Author = fetched.Author
	}
	if fetched.Narrator != "" {
		meta.Narrator = fetched.Narrator
	}
	if fetched.RuntimeMinutes > 0 {
		meta.RuntimeMinutes = fetched.RuntimeMinutes
	}
	if fetched.CoverURL != "" {
		meta.CoverURL = fetched.CoverURL
	}

	if err := p.audiobooks.UpdateMetadata(ctx, payload.AudiobookID, meta); err != nil {
		if errors.Is(err, domain.ErrAudiobookNotFound) {
			return nil, queue.Terminal(err)
		}
		return nil, fmt.Errorf("persist metadata: %w", err)
	}

	logger.Info("metadata refreshed", "title", meta.Title, "runtime_minutes", meta.RuntimeMinutes)
	return refreshOutcome{Outcome: "refreshed", RuntimeMinutes: meta.RuntimeMinutes}.marshal(), nil
}
