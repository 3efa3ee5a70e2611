package pipeline

import (
	"context"

	"volaiops/internal/exporter"
	"volaiops/internal/infrastructure"
	"volaiops/internal/period"
	"volaiops/pkg/contracts/domain"
)

// Band is an intraday HH:MM window. End may be earlier than Start for
// windows that cross midnight; those are fetched in two halves.
type Band struct {
	Label string
	Start string
	End   string
}

// Default morning and night bands for MorningNight
var (
	MorningBand = Band{Label: "morning", Start: "09:00", End: "15:00"}
	NightBand   = Band{Label: "night", Start: "21:00", End: "05:00"}
)

// Today exports today's summary for one axis
func (r *Runner) Today(ctx context.Context, axis domain.Axis, owner string) (Result, error) {
	return r.single(ctx, Request{Axis: axis, Owner: owner, Period: period.Today})
}

// Yesterday exports yesterday's summary for one axis
func (r *Runner) Yesterday(ctx context.Context, axis domain.Axis, owner string) (Result, error) {
	return r.single(ctx, Request{Axis: axis, Owner: owner, Period: period.Yesterday})
}

// Last7Days exports the trailing seven days ending yesterday
func (r *Runner) Last7Days(ctx context.Context, axis domain.Axis, owner string) (Result, error) {
	return r.single(ctx, Request{Axis: axis, Owner: owner, Period: period.Last7Days})
}

// LastWeek exports the previous Monday to Sunday
func (r *Runner) LastWeek(ctx context.Context, axis domain.Axis, owner string) (Result, error) {
	return r.single(ctx, Request{Axis: axis, Owner: owner, Period: period.LastWeek})
}

// YesterdayBand exports yesterday restricted to an intraday band, for
// example 09:30 to 12:00
func (r *Runner) YesterdayBand(ctx context.Context, axis domain.Axis, owner, timeStart, timeEnd string) (Result, error) {
	return r.single(ctx, Request{
		Axis:      axis,
		Owner:     owner,
		Period:    period.Yesterday,
		TimeStart: timeStart,
		TimeEnd:   timeEnd,
	})
}

// LastWeekAllAxes writes last week's owner, sector and size summaries as
// three sheets of one workbook
func (r *Runner) LastWeekAllAxes(ctx context.Context, owner string) ([]Result, error) {
	base, err := r.Query(Request{Axis: domain.AxisOwner, Owner: owner, Period: period.LastWeek})
	if err != nil {
		return nil, err
	}
	start, end := base.DateStart, base.DateEnd
	base.Axis = "axes"
	path := exporter.DerivePath(r.OutDir, r.Prefix, base, exporter.FormatSpreadsheet)

	reqs := make([]Request, 0, len(domain.Axes))
	for _, axis := range domain.Axes {
		reqs = append(reqs, Request{
			Axis:       axis,
			Owner:      owner,
			Period:     period.LastWeek,
			Start:      &start,
			End:        &end,
			SheetLabel: string(axis),
		})
	}
	return r.runSheets(ctx, path, reqs)
}

// MorningNight writes one workbook with a sheet per band. With no bands
// given the default morning and night bands are used.
func (r *Runner) MorningNight(ctx context.Context, axis domain.Axis, owner string, p period.Shortcut, bands ...Band) ([]Result, error) {
	if len(bands) == 0 {
		bands = []Band{MorningBand, NightBand}
	}
	base, err := r.Query(Request{Axis: axis, Owner: owner, Period: p})
	if err != nil {
		return nil, err
	}
	prefix := r.Prefix
	if prefix == "" {
		prefix = exporter.DefaultPrefix
	}
	path := exporter.DerivePath(r.OutDir, prefix+"-bands", base, exporter.FormatSpreadsheet)
	start, end := base.DateStart, base.DateEnd

	reqs := make([]Request, 0, len(bands))
	for _, b := range bands {
		reqs = append(reqs, Request{
			Axis:       axis,
			Owner:      owner,
			Period:     p,
			Start:      &start,
			End:        &end,
			TimeStart:  b.Start,
			TimeEnd:    b.End,
			SheetLabel: b.Label,
		})
	}
	return r.runSheets(ctx, path, reqs)
}

func (r *Runner) single(ctx context.Context, req Request) (Result, error) {
	if infrastructure.GetRunID(ctx) == "" {
		ctx, _ = infrastructure.StartRun(ctx)
	}
	return r.Run(ctx, req)
}
