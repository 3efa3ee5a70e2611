package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Slack posts to an incoming webhook
type Slack struct {
	WebhookURL string
	HTTPClient *http.Client
}

// Name implements Notifier
func (s *Slack) Name() string { return "slack" }

// Notify implements Notifier
func (s *Slack) Notify(ctx context.Context, subject, body string) error {
	if s.WebhookURL == "" {
		return fmt.Errorf("slack: %w", ErrNotConfigured)
	}
	payload, err := json.Marshal(map[string]string{"text": subject + "\n```\n" + body + "\n```"})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	hc := s.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("slack: HTTP %d: %s", resp.StatusCode, snippet)
	}
	return nil
}
