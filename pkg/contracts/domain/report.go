package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Date and clock layouts used on the wire and in file names
const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"

	// JSTOffsetMinutes is the reporting offset the convenience wrappers default to
	JSTOffsetMinutes = 540
)

// Axis is the grouping dimension of a summary report
type Axis string

const (
	AxisOwner  Axis = "owner"
	AxisSector Axis = "sector"
	AxisSize   Axis = "size"
)

// Axes lists every supported axis in report order
var Axes = []Axis{AxisOwner, AxisSector, AxisSize}

// Valid reports whether the axis is one of owner, sector or size
func (a Axis) Valid() bool {
	switch a {
	case AxisOwner, AxisSector, AxisSize:
		return true
	}
	return false
}

// ParseAxis converts user input into an Axis
func ParseAxis(s string) (Axis, error) {
	a := Axis(strings.ToLower(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("invalid axis %q (want owner, sector or size)", s)
	}
	return a, nil
}

// SummaryQuery describes one call to the summary endpoint
type SummaryQuery struct {
	Axis            Axis      `json:"by" validate:"required,oneof=owner sector size"`
	Owner           string    `json:"owner,omitempty"`
	DateStart       time.Time `json:"start"`
	DateEnd         time.Time `json:"end"`
	TimeStart       string    `json:"time_start,omitempty"`
	TimeEnd         string    `json:"time_end,omitempty"`
	TZOffsetMinutes int       `json:"tz_offset"`
}

// Validate checks the query invariants
func (q SummaryQuery) Validate() error {
	if !q.Axis.Valid() {
		return fmt.Errorf("invalid axis %q", q.Axis)
	}
	if !q.DateStart.IsZero() && !q.DateEnd.IsZero() && q.DateStart.After(q.DateEnd) {
		return fmt.Errorf("start date %s is after end date %s",
			q.DateStart.Format(DateLayout), q.DateEnd.Format(DateLayout))
	}
	if q.TimeStart != "" {
		if _, err := ParseClock(q.TimeStart); err != nil {
			return fmt.Errorf("time_start: %w", err)
		}
	}
	if q.TimeEnd != "" {
		if _, err := ParseClock(q.TimeEnd); err != nil {
			return fmt.Errorf("time_end: %w", err)
		}
	}
	return nil
}

// StartString returns the start date as YYYY-MM-DD, or "" when unset
func (q SummaryQuery) StartString() string {
	return formatDate(q.DateStart)
}

// EndString returns the end date as YYYY-MM-DD, or "" when unset
func (q SummaryQuery) EndString() string {
	return formatDate(q.DateEnd)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

// ParseClock parses an "HH:MM" clock time
func ParseClock(s string) (time.Time, error) {
	t, err := time.Parse(ClockLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid clock time %q (want HH:MM)", s)
	}
	return t, nil
}

// CompactClock turns "09:30" into "0930". Unparseable input is returned with
// the colons stripped.
func CompactClock(s string) string {
	if t, err := ParseClock(s); err == nil {
		return t.Format("1504")
	}
	return strings.ReplaceAll(s, ":", "")
}

// SummaryRecord is one row of the summary endpoint
type SummaryRecord struct {
	Key   string         `json:"key"`
	Count int            `json:"count"`
	Extra map[string]any `json:"-"`
}

// RecordFromRow converts a decoded JSON object into a SummaryRecord.
// When the row carries no "key" field the value of the axis field is used.
func RecordFromRow(row map[string]any, axis Axis) (SummaryRecord, error) {
	rawCount, ok := row["count"]
	if !ok {
		return SummaryRecord{}, fmt.Errorf("row has no count field")
	}
	count, err := toInt(rawCount)
	if err != nil {
		return SummaryRecord{}, fmt.Errorf("count: %w", err)
	}

	rec := SummaryRecord{Count: count}
	keyField := "key"
	if _, ok := row["key"]; !ok {
		keyField = string(axis)
	}
	if v, ok := row[keyField]; ok && v != nil {
		rec.Key = fmt.Sprint(v)
	}

	for k, v := range row {
		if k == "key" || k == "count" || k == keyField {
			continue
		}
		if rec.Extra == nil {
			rec.Extra = make(map[string]any)
		}
		rec.Extra[k] = v
	}
	return rec, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("non-integer value %v", n)
		}
		return int(n), nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

// ExtraColumns returns the sorted union of extra field names across records
func ExtraColumns(records []SummaryRecord) []string {
	seen := make(map[string]struct{})
	for _, r := range records {
		for k := range r.Extra {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}
