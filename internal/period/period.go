// Package period turns named reporting periods into concrete calendar dates.
//
// All arithmetic is on local calendar dates of the reference instant. The
// reporting timezone offset is a query parameter for the API and is not
// applied here.
package period

import (
	"fmt"
	"strings"
	"time"

	apierrors "volaiops/internal/errors"
	"volaiops/pkg/contracts/domain"
)

// Shortcut names a canned reporting period
type Shortcut string

const (
	None      Shortcut = ""
	Today     Shortcut = "today"
	Yesterday Shortcut = "yesterday"
	Last7Days Shortcut = "last-7-days"
	LastWeek  Shortcut = "last-week"
)

// Window is an inclusive date range
type Window struct {
	Start time.Time
	End   time.Time
}

// String renders the window as start_end
func (w Window) String() string {
	return w.Start.Format(domain.DateLayout) + "_" + w.End.Format(domain.DateLayout)
}

// ParseShortcut accepts the canonical names and a few spellings used by the
// old launcher scripts.
func ParseShortcut(s string) (Shortcut, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return None, nil
	case "today":
		return Today, nil
	case "yesterday":
		return Yesterday, nil
	case "last-7-days", "last7", "last7days", "last_7_days":
		return Last7Days, nil
	case "last-week", "lastweek", "last_week":
		return LastWeek, nil
	}
	return None, fmt.Errorf("unknown period %q", s)
}

// Resolve returns the window named by the shortcut relative to ref
func Resolve(s Shortcut, ref time.Time) (Window, error) {
	day := dateOf(ref)
	switch s {
	case Today:
		return Window{Start: day, End: day}, nil
	case Yesterday:
		y := day.AddDate(0, 0, -1)
		return Window{Start: y, End: y}, nil
	case Last7Days:
		return Window{Start: day.AddDate(0, 0, -7), End: day.AddDate(0, 0, -1)}, nil
	case LastWeek:
		thisMonday := day.AddDate(0, 0, -mondayIndex(day))
		return Window{Start: thisMonday.AddDate(0, 0, -7), End: thisMonday.AddDate(0, 0, -1)}, nil
	case None:
		return Window{}, apierrors.MissingPeriod("neither a start/end pair nor a period shortcut was given")
	}
	return Window{}, apierrors.MissingPeriod(fmt.Sprintf("unrecognised period %q", s))
}

// ResolveExplicit prefers a complete start/end pair and falls back to the shortcut
func ResolveExplicit(start, end *time.Time, s Shortcut, ref time.Time) (Window, error) {
	if start != nil && end != nil && !start.IsZero() && !end.IsZero() {
		w := Window{Start: dateOf(*start), End: dateOf(*end)}
		if w.Start.After(w.End) {
			return Window{}, apierrors.MissingPeriod(fmt.Sprintf("start %s is after end %s",
				w.Start.Format(domain.DateLayout), w.End.Format(domain.DateLayout)))
		}
		return w, nil
	}
	return Resolve(s, ref)
}

// ParseDate parses YYYY-MM-DD in the local zone
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(domain.DateLayout, strings.TrimSpace(s), time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return t, nil
}

// mondayIndex is the weekday with Monday=0 ... Sunday=6
func mondayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
