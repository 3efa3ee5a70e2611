package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "volaiops/internal/errors"
	"volaiops/internal/exporter"
	"volaiops/internal/period"
	"volaiops/internal/retry"
	"volaiops/pkg/contracts/domain"
)

type fakeFetcher struct {
	queries  []domain.SummaryQuery
	policies []retry.Policy
	records  map[domain.Axis][]domain.SummaryRecord
	err      error
}

func (f *fakeFetcher) FetchSummary(_ context.Context, q domain.SummaryQuery, p retry.Policy) ([]domain.SummaryRecord, error) {
	f.queries = append(f.queries, q)
	f.policies = append(f.policies, p)
	if f.err != nil {
		return nil, f.err
	}
	if recs, ok := f.records[q.Axis]; ok {
		return recs, nil
	}
	return []domain.SummaryRecord{{Key: string(q.Axis) + "-" + q.TimeStart, Count: 1}}, nil
}

type recordingSink struct {
	targets  []exporter.Target
	redirect string
	err      error
}

func (s *recordingSink) Write(_ context.Context, _ []domain.SummaryRecord, t exporter.Target) (string, error) {
	s.targets = append(s.targets, t)
	if s.err != nil {
		return "", s.err
	}
	if s.redirect != "" && len(s.targets) == 1 {
		return s.redirect, nil
	}
	return t.Path, nil
}

// wednesday is 2025-08-20 10:00 local
func wednesday() time.Time {
	return time.Date(2025, 8, 20, 10, 0, 0, 0, time.Local)
}

func newTestRunner(f Fetcher, s Sink) *Runner {
	r := NewRunner(f, s)
	r.Clock = wednesday
	r.OutDir = "out"
	return r
}

func TestYesterdayBand(t *testing.T) {
	f := &fakeFetcher{}
	s := &recordingSink{}
	r := newTestRunner(f, s)

	res, err := r.YesterdayBand(context.Background(), domain.AxisOwner, "共用", "09:30", "12:00")
	require.NoError(t, err)

	require.Len(t, f.queries, 1)
	q := f.queries[0]
	assert.Equal(t, "2025-08-19", q.StartString())
	assert.Equal(t, "2025-08-19", q.EndString())
	assert.Equal(t, "09:30", q.TimeStart)
	assert.Equal(t, domain.JSTOffsetMinutes, q.TZOffsetMinutes)
	assert.Equal(t, retry.DefaultPolicy(), f.policies[0])

	want := filepath.Join("out", "volai-owner-共用-2025-08-19_2025-08-19-0930-1200.xlsx")
	assert.Equal(t, want, res.Path)
	assert.Equal(t, "owner", s.targets[0].SheetLabel)
	assert.Equal(t, 1, res.Records)
}

func TestSingleAxisScenarios(t *testing.T) {
	tests := []struct {
		name      string
		run       func(r *Runner) (Result, error)
		wantStart string
		wantEnd   string
	}{
		{"today", func(r *Runner) (Result, error) { return r.Today(context.Background(), domain.AxisSize, "") }, "2025-08-20", "2025-08-20"},
		{"yesterday", func(r *Runner) (Result, error) { return r.Yesterday(context.Background(), domain.AxisSize, "") }, "2025-08-19", "2025-08-19"},
		{"last 7 days", func(r *Runner) (Result, error) { return r.Last7Days(context.Background(), domain.AxisSize, "") }, "2025-08-13", "2025-08-19"},
		{"last week", func(r *Runner) (Result, error) { return r.LastWeek(context.Background(), domain.AxisSize, "") }, "2025-08-11", "2025-08-17"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeFetcher{}
			res, err := tt.run(newTestRunner(f, &recordingSink{}))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, res.Query.StartString())
			assert.Equal(t, tt.wantEnd, res.Query.EndString())
			assert.Contains(t, res.Path, "volai-size-all-"+tt.wantStart+"_"+tt.wantEnd+"-all-all.xlsx")
		})
	}
}

func TestLastWeekAllAxes(t *testing.T) {
	f := &fakeFetcher{}
	s := &recordingSink{}
	results, err := newTestRunner(f, s).LastWeekAllAxes(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, results, 3)

	var axes []domain.Axis
	for _, q := range f.queries {
		axes = append(axes, q.Axis)
	}
	assert.Equal(t, []domain.Axis{domain.AxisOwner, domain.AxisSector, domain.AxisSize}, axes)

	path := s.targets[0].Path
	assert.Equal(t, filepath.Join("out", "volai-axes-all-2025-08-11_2025-08-17-all-all.xlsx"), path)
	for i, target := range s.targets {
		assert.Equal(t, path, target.Path, "every sheet targets the same workbook")
		assert.Equal(t, string(domain.Axes[i]), target.SheetLabel)
	}
}

func TestMorningNight(t *testing.T) {
	f := &fakeFetcher{}
	s := &recordingSink{}
	results, err := newTestRunner(f, s).MorningNight(context.Background(), domain.AxisSector, "", period.Yesterday)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "morning", s.targets[0].SheetLabel)
	assert.Equal(t, "night", s.targets[1].SheetLabel)
	assert.Equal(t, s.targets[0].Path, s.targets[1].Path)

	// the night band crosses midnight and is fetched as two same-day halves
	require.Len(t, f.queries, 3)
	assert.Equal(t, "21:00", f.queries[1].TimeStart)
	assert.Equal(t, "23:59", f.queries[1].TimeEnd)
	assert.Equal(t, "00:00", f.queries[2].TimeStart)
	assert.Equal(t, "05:00", f.queries[2].TimeEnd)
	assert.Equal(t, 1, results[0].Records)
	assert.Equal(t, 2, results[1].Records)
	assert.Equal(t, "21:00", results[1].Query.TimeStart)
	assert.Equal(t, "05:00", results[1].Query.TimeEnd)
}

func TestSplitOvernight(t *testing.T) {
	q := domain.SummaryQuery{Axis: domain.AxisOwner, TimeStart: "22:30", TimeEnd: "04:15"}
	late, early, ok := SplitOvernight(q)
	require.True(t, ok)
	assert.Equal(t, "22:30", late.TimeStart)
	assert.Equal(t, "23:59", late.TimeEnd)
	assert.Equal(t, "00:00", early.TimeStart)
	assert.Equal(t, "04:15", early.TimeEnd)

	for _, band := range [][2]string{{"09:00", "15:00"}, {"", "05:00"}, {"21:00", ""}, {"12:00", "12:00"}} {
		_, _, ok := SplitOvernight(domain.SummaryQuery{TimeStart: band[0], TimeEnd: band[1]})
		assert.False(t, ok, "%s-%s", band[0], band[1])
	}
}

func TestMultiSheetWindowIsResolvedOnce(t *testing.T) {
	// the clock crosses from Sunday into Monday partway through the run
	ticks := []time.Time{
		time.Date(2025, 8, 24, 23, 59, 59, 0, time.Local),
		time.Date(2025, 8, 25, 0, 0, 0, 0, time.Local),
	}
	calls := 0
	clock := func() time.Time {
		tick := ticks[min(calls, len(ticks)-1)]
		calls++
		return tick
	}

	t.Run("all axes", func(t *testing.T) {
		calls = 0
		f := &fakeFetcher{}
		s := &recordingSink{}
		r := newTestRunner(f, s)
		r.Clock = clock
		_, err := r.LastWeekAllAxes(context.Background(), "")
		require.NoError(t, err)
		require.Len(t, f.queries, 3)
		for _, q := range f.queries {
			assert.Equal(t, "2025-08-11", q.StartString())
			assert.Equal(t, "2025-08-17", q.EndString())
		}
		assert.Contains(t, s.targets[0].Path, "2025-08-11_2025-08-17")
	})

	t.Run("bands", func(t *testing.T) {
		calls = 0
		f := &fakeFetcher{}
		r := newTestRunner(f, &recordingSink{})
		r.Clock = clock
		_, err := r.MorningNight(context.Background(), domain.AxisOwner, "", period.Today)
		require.NoError(t, err)
		for _, q := range f.queries {
			assert.Equal(t, "2025-08-24", q.StartString())
			assert.Equal(t, "2025-08-24", q.EndString())
		}
	})
}

func TestMultiSheetFollowsAlternatePath(t *testing.T) {
	alt := filepath.Join("out", "moved_20250820_100000.xlsx")
	s := &recordingSink{redirect: alt}
	_, err := newTestRunner(&fakeFetcher{}, s).MorningNight(context.Background(), domain.AxisOwner, "", period.Today)
	require.NoError(t, err)
	require.Len(t, s.targets, 2)
	assert.Equal(t, alt, s.targets[1].Path)
}

func TestRun_ExplicitRangeAndOverrides(t *testing.T) {
	f := &fakeFetcher{}
	s := &recordingSink{}
	r := newTestRunner(f, s)

	start := time.Date(2025, 8, 1, 0, 0, 0, 0, time.Local)
	end := time.Date(2025, 8, 31, 0, 0, 0, 0, time.Local)
	tz := 0
	policy := retry.Policy{MaxAttempts: 5, BaseDelay: time.Second}

	res, err := r.Run(context.Background(), Request{
		Axis:            domain.AxisSize,
		Owner:           "共用",
		Period:          period.Yesterday,
		Start:           &start,
		End:             &end,
		TimeStart:       "09:30",
		TimeEnd:         "12:00",
		TZOffsetMinutes: &tz,
		Format:          exporter.FormatDelimitedText,
		Policy:          &policy,
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("out", "volai-size-共用-2025-08-01_2025-08-31-0930-1200.csv"), res.Path)
	assert.Equal(t, 0, f.queries[0].TZOffsetMinutes)
	assert.Equal(t, policy, f.policies[0])
}

func TestRun_ExplicitPath(t *testing.T) {
	s := &recordingSink{}
	res, err := newTestRunner(&fakeFetcher{}, s).Run(context.Background(),
		Request{Axis: domain.AxisOwner, Period: period.Today, Path: "custom.xlsx"})
	require.NoError(t, err)
	assert.Equal(t, "custom.xlsx", res.Path)
}

func TestRun_ErrorsPropagate(t *testing.T) {
	t.Run("missing period", func(t *testing.T) {
		f := &fakeFetcher{}
		_, err := newTestRunner(f, &recordingSink{}).Run(context.Background(), Request{Axis: domain.AxisOwner})
		assert.ErrorIs(t, err, apierrors.ErrMissingPeriod)
		assert.Empty(t, f.queries, "nothing is fetched without a period")
	})

	t.Run("fetch exhausted", func(t *testing.T) {
		exhausted := &apierrors.FetchExhaustedError{Attempts: 3, URL: "http://x", LastErr: errors.New("502")}
		s := &recordingSink{}
		_, err := newTestRunner(&fakeFetcher{err: exhausted}, s).Yesterday(context.Background(), domain.AxisOwner, "")
		assert.Same(t, exhausted, err)
		assert.Empty(t, s.targets)
	})

	t.Run("export failed", func(t *testing.T) {
		failed := &apierrors.ExportFailedError{Path: "p", Err: errors.New("disk")}
		_, err := newTestRunner(&fakeFetcher{}, &recordingSink{err: failed}).Today(context.Background(), domain.AxisOwner, "")
		assert.ErrorIs(t, err, apierrors.ErrExportFailed)
	})

	t.Run("stops at first failing sheet", func(t *testing.T) {
		f := &fakeFetcher{err: errors.New("down")}
		_, err := newTestRunner(f, &recordingSink{}).LastWeekAllAxes(context.Background(), "")
		assert.Error(t, err)
		assert.Len(t, f.queries, 1)
	})

	t.Run("invalid axis", func(t *testing.T) {
		_, err := newTestRunner(&fakeFetcher{}, &recordingSink{}).Today(context.Background(), "colour", "")
		assert.Error(t, err)
	})
}
