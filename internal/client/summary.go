package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "volaiops/internal/errors"
	"volaiops/internal/infrastructure"
	"volaiops/internal/retry"
	"volaiops/pkg/contracts/domain"
)

// SummaryPath is the report endpoint relative to the base URL
const SummaryPath = "/predict/logs/summary"

// SummaryURL builds the summary request URL. Only non-empty parameters are
// sent, except tz_offset which is always present.
func (c *Client) SummaryURL(q domain.SummaryQuery) string {
	params := url.Values{}
	params.Set("by", string(q.Axis))
	if q.Owner != "" {
		params.Set("owner", q.Owner)
	}
	if s := q.StartString(); s != "" {
		params.Set("start", s)
	}
	if e := q.EndString(); e != "" {
		params.Set("end", e)
	}
	if q.TimeStart != "" {
		params.Set("time_start", q.TimeStart)
	}
	if q.TimeEnd != "" {
		params.Set("time_end", q.TimeEnd)
	}
	params.Set("tz_offset", strconv.Itoa(q.TZOffsetMinutes))

	return c.endpoint(SummaryPath) + "?" + params.Encode()
}

// FetchSummary retrieves the summary with retries. Every attempt uses a new
// connection. When all attempts fail a *FetchExhaustedError is returned.
func (c *Client) FetchSummary(ctx context.Context, q domain.SummaryQuery, policy retry.Policy) ([]domain.SummaryRecord, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("invalid summary query: %w", err)
	}
	policy = policy.Normalize()
	target := c.SummaryURL(q)

	ctx, span := infrastructure.Tracer().Start(ctx, "client.FetchSummary",
		trace.WithAttributes(
			attribute.String("volai.axis", string(q.Axis)),
			attribute.Int("volai.max_attempts", policy.MaxAttempts)))
	defer span.End()

	r := retry.Retrier{
		Policy:  policy,
		Sleeper: c.sleeper,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			c.logger.WarnContext(ctx, "summary_fetch_retry",
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", policy.MaxAttempts),
				slog.Duration("delay", delay),
				slog.String("url", target),
				slog.String("error", err.Error()))
		},
	}

	records, err := retry.Do(ctx, r, func(ctx context.Context, attempt int) ([]domain.SummaryRecord, error) {
		recs, err := c.fetchOnce(ctx, target, q.Axis, policy.TimeoutPerAttempt)
		c.metrics.FetchAttempt(ctx, err == nil)
		return recs, err
	})
	if err != nil {
		var exhausted *retry.ExhaustedError
		attempts := policy.MaxAttempts
		last := err
		if errors.As(err, &exhausted) {
			attempts = exhausted.Attempts
			last = exhausted.Last
		}
		c.metrics.FetchExhausted(ctx)
		failure := &apierrors.FetchExhaustedError{Attempts: attempts, URL: target, LastErr: last}
		infrastructure.RecordError(ctx, failure)
		c.logger.ErrorContext(ctx, "summary_fetch_failed",
			slog.Int("attempts", attempts),
			slog.String("url", target),
			slog.String("error", last.Error()))
		return nil, failure
	}

	c.logger.InfoContext(ctx, "summary_fetched",
		slog.String("axis", string(q.Axis)),
		slog.Int("records", len(records)))
	return records, nil
}

func (c *Client) fetchOnce(ctx context.Context, target string, axis domain.Axis, timeout time.Duration) ([]domain.SummaryRecord, error) {
	ctx, span := infrastructure.Tracer().Start(ctx, "client.fetchAttempt")
	defer span.End()

	var raw json.RawMessage
	if err := c.doJSON(ctx, c.newHTTP(timeout), "GET", target, nil, nil, &raw); err != nil {
		infrastructure.RecordError(ctx, err)
		return nil, err
	}
	records, err := DecodeSummary(raw, axis)
	if err != nil {
		infrastructure.RecordError(ctx, err)
		return nil, err
	}
	return records, nil
}

// DecodeSummary parses a summary body. Anything other than a JSON array of
// objects is rejected.
func DecodeSummary(body []byte, axis domain.Axis) ([]domain.SummaryRecord, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("summary body is not a JSON array: %w", err)
	}
	records := make([]domain.SummaryRecord, 0, len(items))
	for i, item := range items {
		var row map[string]any
		if err := json.Unmarshal(item, &row); err != nil || row == nil {
			return nil, fmt.Errorf("summary element %d is not an object", i)
		}
		rec, err := domain.RecordFromRow(row, axis)
		if err != nil {
			return nil, fmt.Errorf("summary element %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}
