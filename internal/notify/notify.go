// Package notify delivers failure notices by SMTP mail and Slack webhook.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"

	"volaiops/internal/config"
)

// Notifier delivers a short operator notice
type Notifier interface {
	Name() string
	Notify(ctx context.Context, subject, body string) error
}

// ErrNotConfigured is returned by a notifier that lacks settings
var ErrNotConfigured = errors.New("notifier not configured")

var recipientSep = regexp.MustCompile(`[;,]`)

// ParseRecipients splits a list on commas and semicolons, dropping blanks
func ParseRecipients(raw string) []string {
	var out []string
	for _, part := range recipientSep.Split(raw, -1) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Fanout sends to every notifier and succeeds if at least one delivered
type Fanout struct {
	Notifiers []Notifier
	Logger    *slog.Logger
}

// Notify implements Notifier
func (f *Fanout) Notify(ctx context.Context, subject, body string) error {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var errs []error
	delivered := 0
	for _, n := range f.Notifiers {
		if err := n.Notify(ctx, subject, body); err != nil {
			if !errors.Is(err, ErrNotConfigured) {
				logger.WarnContext(ctx, "notification_failed",
					slog.String("channel", n.Name()),
					slog.String("error", err.Error()))
			}
			errs = append(errs, err)
			continue
		}
		delivered++
		logger.InfoContext(ctx, "notification_sent", slog.String("channel", n.Name()))
	}
	if delivered == 0 {
		if len(errs) == 0 {
			return ErrNotConfigured
		}
		return errors.Join(errs...)
	}
	return nil
}

// Name implements Notifier
func (f *Fanout) Name() string { return "fanout" }

// FromConfig builds the mail and Slack channels from the SMTP section
func FromConfig(c config.SMTPConfig, logger *slog.Logger) *Fanout {
	return &Fanout{
		Notifiers: []Notifier{
			NewMailer(MailerConfigFrom(c)),
			&Slack{WebhookURL: c.SlackWebhookURL},
		},
		Logger: logger,
	}
}
