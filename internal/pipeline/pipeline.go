// Package pipeline composes period resolution, the retried summary fetch and
// the export chain into one call per report.
//
// Runs are strictly sequential. Multi-sheet scenarios fetch and write one
// sheet at a time against the same workbook path.
package pipeline

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"volaiops/internal/exporter"
	"volaiops/internal/infrastructure"
	"volaiops/internal/period"
	"volaiops/internal/retry"
	"volaiops/pkg/contracts/domain"
)

// Fetcher retrieves summary records
type Fetcher interface {
	FetchSummary(ctx context.Context, q domain.SummaryQuery, policy retry.Policy) ([]domain.SummaryRecord, error)
}

// Sink persists summary records and reports where they landed
type Sink interface {
	Write(ctx context.Context, records []domain.SummaryRecord, target exporter.Target) (string, error)
}

// Runner holds the defaults every scenario shares
type Runner struct {
	Fetcher         Fetcher
	Writer          Sink
	Policy          retry.Policy
	Clock           func() time.Time
	OutDir          string
	Prefix          string
	Format          exporter.Format
	TZOffsetMinutes int
	Logger          *slog.Logger
	Metrics         *infrastructure.PipelineMetrics
}

// NewRunner returns a Runner with the standard defaults: three attempts with
// a 2s base delay, JST offset, spreadsheet output under ./exports
func NewRunner(fetcher Fetcher, writer Sink) *Runner {
	return &Runner{
		Fetcher:         fetcher,
		Writer:          writer,
		Policy:          retry.DefaultPolicy(),
		Clock:           time.Now,
		OutDir:          "exports",
		Prefix:          exporter.DefaultPrefix,
		Format:          exporter.FormatSpreadsheet,
		TZOffsetMinutes: domain.JSTOffsetMinutes,
		Logger:          slog.Default(),
	}
}

// Request is one fetch-and-export. Zero fields fall back to Runner defaults.
type Request struct {
	Axis   domain.Axis
	Owner  string
	Period period.Shortcut
	// Start and End, when both set, override Period
	Start, End *time.Time
	TimeStart  string
	TimeEnd    string
	// TZOffsetMinutes overrides the runner offset when non-nil
	TZOffsetMinutes *int
	// Path overrides the derived file path
	Path       string
	Format     exporter.Format
	SheetLabel string
	Policy     *retry.Policy
}

// Result describes a completed run
type Result struct {
	Query   domain.SummaryQuery
	Path    string
	Records int
}

// Run resolves the period, fetches and writes. Fetch and export errors are
// returned as produced so callers can inspect their kind.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	logger := r.logger()

	q, err := r.Query(req)
	if err != nil {
		return Result{}, err
	}
	policy := r.Policy
	if req.Policy != nil {
		policy = *req.Policy
	}

	logger.InfoContext(ctx, "pipeline_run_started",
		slog.String("axis", string(q.Axis)),
		slog.String("owner", q.Owner),
		slog.String("start", q.StartString()),
		slog.String("end", q.EndString()),
		slog.String("time_start", q.TimeStart),
		slog.String("time_end", q.TimeEnd),
		slog.Int("tz_offset", q.TZOffsetMinutes))

	records, err := r.fetch(ctx, q, policy)
	if err != nil {
		r.Metrics.RunFinished(ctx, string(req.Period), time.Since(start), false)
		return Result{Query: q}, err
	}

	target := r.Target(q, req)
	written, err := r.Writer.Write(ctx, records, target)
	if err != nil {
		r.Metrics.RunFinished(ctx, string(req.Period), time.Since(start), false)
		return Result{Query: q}, err
	}

	r.Metrics.RunFinished(ctx, string(req.Period), time.Since(start), true)
	logger.InfoContext(ctx, "pipeline_run_completed",
		slog.String("path", written),
		slog.Int("records", len(records)),
		slog.Duration("duration", time.Since(start)))
	return Result{Query: q, Path: written, Records: len(records)}, nil
}

// fetch issues q, or for a band crossing midnight the evening and early
// morning halves of the same dates, concatenated in that order. The API's
// clock filter does not wrap.
func (r *Runner) fetch(ctx context.Context, q domain.SummaryQuery, policy retry.Policy) ([]domain.SummaryRecord, error) {
	late, early, ok := SplitOvernight(q)
	if !ok {
		return r.Fetcher.FetchSummary(ctx, q, policy)
	}
	first, err := r.Fetcher.FetchSummary(ctx, late, policy)
	if err != nil {
		return nil, err
	}
	second, err := r.Fetcher.FetchSummary(ctx, early, policy)
	if err != nil {
		return nil, err
	}
	return append(first, second...), nil
}

// SplitOvernight splits a query whose time_start is later than its time_end
// into start..23:59 and 00:00..end. ok is false when no split is needed.
func SplitOvernight(q domain.SummaryQuery) (late, early domain.SummaryQuery, ok bool) {
	if q.TimeStart == "" || q.TimeEnd == "" {
		return q, q, false
	}
	start, err := domain.ParseClock(q.TimeStart)
	if err != nil {
		return q, q, false
	}
	end, err := domain.ParseClock(q.TimeEnd)
	if err != nil || !start.After(end) {
		return q, q, false
	}
	late, early = q, q
	late.TimeEnd = "23:59"
	early.TimeStart = "00:00"
	return late, early, true
}

// Query builds the summary query for req
func (r *Runner) Query(req Request) (domain.SummaryQuery, error) {
	w, err := period.ResolveExplicit(req.Start, req.End, req.Period, r.now())
	if err != nil {
		return domain.SummaryQuery{}, err
	}
	tz := r.TZOffsetMinutes
	if req.TZOffsetMinutes != nil {
		tz = *req.TZOffsetMinutes
	}
	q := domain.SummaryQuery{
		Axis:            req.Axis,
		Owner:           req.Owner,
		DateStart:       w.Start,
		DateEnd:         w.End,
		TimeStart:       req.TimeStart,
		TimeEnd:         req.TimeEnd,
		TZOffsetMinutes: tz,
	}
	if err := q.Validate(); err != nil {
		return domain.SummaryQuery{}, err
	}
	return q, nil
}

// Target computes where req's records go
func (r *Runner) Target(q domain.SummaryQuery, req Request) exporter.Target {
	format := req.Format
	if format == "" {
		format = r.Format
	}
	if format == "" {
		format = exporter.FormatSpreadsheet
	}
	path := req.Path
	if path == "" {
		path = exporter.DerivePath(r.OutDir, r.Prefix, q, format)
	}
	label := req.SheetLabel
	if label == "" {
		label = string(q.Axis)
	}
	return exporter.Target{Path: path, Format: format, SheetLabel: label}
}

// runSheets writes several requests into one workbook, one sheet each. If
// the first sheet lands at an alternate path the rest follow it there.
func (r *Runner) runSheets(ctx context.Context, path string, reqs []Request) ([]Result, error) {
	if infrastructure.GetRunID(ctx) == "" {
		ctx, _ = infrastructure.StartRun(ctx)
	}
	results := make([]Result, 0, len(reqs))
	for _, req := range reqs {
		req.Path = path
		req.Format = exporter.FormatSpreadsheet
		res, err := r.Run(ctx, req)
		if err != nil {
			return results, err
		}
		if res.Path != path && filepath.Ext(res.Path) == exporter.FormatSpreadsheet.Ext() {
			r.logger().WarnContext(ctx, "workbook moved to alternate path",
				slog.String("requested", path),
				slog.String("written", res.Path))
			path = res.Path
		}
		results = append(results, res)
	}
	return results, nil
}

func (r *Runner) now() time.Time {
	if r.Clock == nil {
		return time.Now()
	}
	return r.Clock()
}

func (r *Runner) logger() *slog.Logger {
	l := r.Logger
	if l == nil {
		l = slog.Default()
	}
	return infrastructure.WithComponent(l, "pipeline")
}
