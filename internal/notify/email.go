package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"bcpea_notifier/internal/model"
)

// Provider sends one HTML email.
type Provider interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// EmailNotifier renders a subscriber's results as an HTML summary and mails it.
type EmailNotifier struct {
	provider Provider
	log      *slog.Logger
	now      func() time.Time
}

// NewEmailNotifier creates an EmailNotifier sending through provider.
func NewEmailNotifier(provider Provider, log *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		provider: provider,
		log:      log,
		now:      time.Now,
	}
}

// Notify sends the summary email. Subscribers without groups get nothing.
func (e *EmailNotifier) Notify(ctx context.Context, user string, groups []model.GroupReport) error {
	if len(groups) == 0 {
		return nil
	}

	now := e.now()
	subject := Subject(now)
	body := RenderHTML(groups, now)

	e.log.Info("sending summary email", "to", user, "groups", len(groups), "listings", countListings(groups))
	if err := e.provider.Send(ctx, user, subject, body); err != nil {
		return fmt.Errorf("send email to %s: %w", user, err)
	}
	return nil
}

// Subject returns the summary email subject for the given day.
func Subject(t time.Time) string {
	return "BCPEA Summary " + t.Format("2006-01-02")
}

func countListings(groups []model.GroupReport) int {
	n := 0
	for _, g := range groups {
		n += g.Count
	}
	return n
}
