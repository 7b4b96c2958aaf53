// Package notify delivers request lifecycle emails. Delivery is strictly
// best-effort: a failed send is logged and counted, never returned, so the
// request pipeline keeps moving through mail outages.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/readmeabook/readmeabook/internal/domain"
	"github.com/readmeabook/readmeabook/internal/metrics"
	"github.com/readmeabook/readmeabook/internal/repository"
	"github.com/resend/resend-go/v2"
)

type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogSender logs emails instead of sending them — used in ENV=local.
type LogSender struct {
	logger *slog.Logger
}

func (s *LogSender) Send(_ context.Context, to, subject, body string) error {
	s.logger.Info("notification email (local dev)", "to", to, "subject", subject, "body", body)
	return nil
}

// ResendSender sends emails via the Resend API — used in staging/production.
type ResendSender struct {
	client *resend.Client
	from   string
}

func (s *ResendSender) Send(ctx context.Context, to, subject, body string) error {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{to},
		Subject: subject,
		Html:    body,
	}
	_, err := s.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// NewSender returns a LogSender for ENV=local, ResendSender otherwise.
func NewSender(env, apiKey, from string, logger *slog.Logger) Sender {
	if env == "local" {
		return &LogSender{logger: logger}
	}
	return &ResendSender{
		client: resend.NewClient(apiKey),
		from:   from,
	}
}

// Notifier announces request lifecycle events to the people who care about
// them. Calls never fail; implementations swallow their own errors.
type Notifier interface {
	RequestAvailable(ctx context.Context, req *domain.Request)
	RequestFailed(ctx context.Context, req *domain.Request, reason string)
	RequestPendingApproval(ctx context.Context, req *domain.Request)
}

// Service resolves the book and the people behind a request and emails them.
type Service struct {
	users      repository.UserRepository
	audiobooks repository.AudiobookRepository
	sender     Sender
	logger     *slog.Logger
}

var _ Notifier = (*Service)(nil)

func NewService(users repository.UserRepository, audiobooks repository.AudiobookRepository, sender Sender, logger *slog.Logger) *Service {
	return &Service{
		users:      users,
		audiobooks: audiobooks,
		sender:     sender,
		logger:     logger.With("component", "notify"),
	}
}

// RequestAvailable tells the requester their book landed in the library.
func (s *Service) RequestAvailable(ctx context.Context, req *domain.Request) {
	const event = "request_available"
	book, user, ok := s.lookup(ctx, event, req)
	if !ok {
		return
	}
	subject := fmt.Sprintf("%q is ready to listen", book.Title)
	body := fmt.Sprintf(
		"<p>Your request for <strong>%s</strong> by %s has been downloaded and is now in the library.</p>",
		book.Title, book.Author)
	s.deliver(ctx, event, req.ID, user.PlexEmail, subject, body)
}

// RequestFailed tells the requester the pipeline gave up, and why.
func (s *Service) RequestFailed(ctx context.Context, req *domain.Request, reason string) {
	const event = "request_failed"
	book, user, ok := s.lookup(ctx, event, req)
	if !ok {
		return
	}
	subject := fmt.Sprintf("Could not fetch %q", book.Title)
	body := fmt.Sprintf(
		"<p>Your request for <strong>%s</strong> by %s failed: %s.</p><p>You can retry it from your requests page.</p>",
		book.Title, book.Author, reason)
	s.deliver(ctx, event, req.ID, user.PlexEmail, subject, body)
}

// RequestPendingApproval fans out to every admin.
func (s *Service) RequestPendingApproval(ctx context.Context, req *domain.Request) {
	const event = "request_pending_approval"
	book, user, ok := s.lookup(ctx, event, req)
	if !ok {
		return
	}
	admins, err := s.users.ListAdmins(ctx)
	if err != nil {
		s.drop(event, req.ID, fmt.Errorf("list admins: %w", err))
		return
	}
	subject := fmt.Sprintf("Request for %q needs approval", book.Title)
	body := fmt.Sprintf(
		"<p>%s requested <strong>%s</strong> by %s.</p><p>Approve or deny it from the admin page.</p>",
		user.PlexUsername, book.Title, book.Author)
	for _, admin := range admins {
		s.deliver(ctx, event, req.ID, admin.PlexEmail, subject, body)
	}
}

func (s *Service) lookup(ctx context.Context, event string, req *domain.Request) (*domain.Audiobook, *domain.User, bool) {
	book, err := s.audiobooks.GetByID(ctx, req.AudiobookID)
	if err != nil {
		s.drop(event, req.ID, fmt.Errorf("get audiobook: %w", err))
		return nil, nil, false
	}
	user, err := s.users.FindByID(ctx, req.UserID)
	if err != nil {
		s.drop(event, req.ID, fmt.Errorf("find user: %w", err))
		return nil, nil, false
	}
	return book, user, true
}

func (s *Service) deliver(ctx context.Context, event, requestID, to, subject, body string) {
	if to == "" {
		// Plex accounts can withhold the email address; nothing to send to.
		metrics.NotificationsTotal.WithLabelValues(event, "skipped").Inc()
		return
	}
	if err := s.sender.Send(ctx, to, subject, body); err != nil {
		s.drop(event, requestID, err)
		return
	}
	metrics.NotificationsTotal.WithLabelValues(event, "ok").Inc()
}

func (s *Service) drop(event, requestID string, err error) {
	metrics.NotificationsTotal.WithLabelValues(event, "error").Inc()
	s.logger.Warn("notification dropped", "event", event, "request_id", requestID, "error", err)
}
