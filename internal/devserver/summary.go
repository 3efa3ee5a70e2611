package devserver

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"volaiops/pkg/contracts/domain"
)

// SummaryParams are the query parameters of the summary endpoint
type SummaryParams struct {
	By        string `validate:"omitempty,oneof=owner sector size"`
	Owner     string `validate:"max=64"`
	Start     string `validate:"omitempty,datetime=2006-01-02"`
	End       string `validate:"omitempty,datetime=2006-01-02"`
	TimeStart string `validate:"omitempty,datetime=15:04"`
	TimeEnd   string `validate:"omitempty,datetime=15:04"`
	TZOffset  int    `validate:"min=-720,max=840"`
	Limit     int    `validate:"min=1,max=2000"`
}

// ParseSummaryParams reads the query string. Numeric fields that do not
// parse are reported as errors, the rest is left to the validator.
func ParseSummaryParams(q url.Values, defaultLimit int) (SummaryParams, error) {
	p := SummaryParams{
		By:        q.Get("by"),
		Owner:     q.Get("owner"),
		Start:     q.Get("start"),
		End:       q.Get("end"),
		TimeStart: q.Get("time_start"),
		TimeEnd:   q.Get("time_end"),
		Limit:     defaultLimit,
	}
	if p.By == "" {
		p.By = string(domain.AxisOwner)
	}
	if v := q.Get("tz_offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("tz_offset: %w", err)
		}
		p.TZOffset = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("limit: %w", err)
		}
		p.Limit = n
	}
	return p, nil
}

type bucket struct {
	date  string
	key   string
	count int
	pred  mean
	fake  mean
	conf  mean
}

type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v *float64) {
	if v != nil {
		m.sum += *v
		m.n++
	}
}

func (m mean) value() any {
	if m.n == 0 {
		return nil
	}
	return m.sum / float64(m.n)
}

// Summarize shifts each entry by the offset, filters by local date and clock
// window, and groups by local date and the axis value. Rows are ordered by
// date then key.
func Summarize(items []LogItem, p SummaryParams) []map[string]any {
	axis := domain.Axis(p.By)
	offset := time.Duration(p.TZOffset) * time.Minute
	t0, hasT0 := clockMinutes(p.TimeStart)
	t1, hasT1 := clockMinutes(p.TimeEnd)

	groups := map[[2]string]*bucket{}
	for _, it := range items {
		local := it.TSUTC.UTC().Add(offset)
		day := local.Format(domain.DateLayout)
		if p.Start != "" && day < p.Start {
			continue
		}
		if p.End != "" && day > p.End {
			continue
		}
		if !inWindow(local.Hour()*60+local.Minute(), t0, hasT0, t1, hasT1) {
			continue
		}

		key := axisValue(it, axis)
		id := [2]string{day, key}
		b, ok := groups[id]
		if !ok {
			b = &bucket{date: day, key: key}
			groups[id] = b
		}
		b.count++
		b.pred.add(it.PredVol)
		b.fake.add(it.FakeRate)
		b.conf.add(it.Confidence)
	}

	buckets := make([]*bucket, 0, len(groups))
	for _, b := range groups {
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].date != buckets[j].date {
			return buckets[i].date < buckets[j].date
		}
		return buckets[i].key < buckets[j].key
	})

	rows := make([]map[string]any, 0, len(buckets))
	for _, b := range buckets {
		rows = append(rows, map[string]any{
			string(axis):     b.key,
			"date_et":        b.date,
			"count":          b.count,
			"avg_pred_vol":   b.pred.value(),
			"avg_fake_rate":  b.fake.value(),
			"avg_confidence": b.conf.value(),
		})
	}
	return rows
}

// inWindow applies the hosted API's clock filter: rows before time_start or
// after time_end are dropped. A start later than the end matches nothing.
func inWindow(minute, t0 int, hasT0 bool, t1 int, hasT1 bool) bool {
	if hasT0 && minute < t0 {
		return false
	}
	if hasT1 && minute > t1 {
		return false
	}
	return true
}

func axisValue(it LogItem, axis domain.Axis) string {
	switch axis {
	case domain.AxisSector:
		return it.Sector
	case domain.AxisSize:
		return it.Size
	}
	return it.Owner
}

func clockMinutes(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	t, err := domain.ParseClock(s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
