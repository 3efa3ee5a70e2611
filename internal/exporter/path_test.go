package exporter

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"volaiops/pkg/contracts/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

func TestDerivePath(t *testing.T) {
	base := domain.SummaryQuery{
		Axis:      domain.AxisSize,
		Owner:     "共用",
		DateStart: day(2025, 8, 1),
		DateEnd:   day(2025, 8, 31),
		TimeStart: "09:30",
		TimeEnd:   "12:00",
	}

	tests := []struct {
		name   string
		modify func(q *domain.SummaryQuery)
		prefix string
		format Format
		want   string
	}{
		{
			name:   "full query",
			format: FormatSpreadsheet,
			want:   "volai-size-共用-2025-08-01_2025-08-31-0930-1200.xlsx",
		},
		{
			name:   "csv extension",
			format: FormatDelimitedText,
			want:   "volai-size-共用-2025-08-01_2025-08-31-0930-1200.csv",
		},
		{
			name:   "no owner no band",
			modify: func(q *domain.SummaryQuery) { q.Owner = ""; q.TimeStart = ""; q.TimeEnd = "" },
			format: FormatSpreadsheet,
			want:   "volai-size-all-2025-08-01_2025-08-31-all-all.xlsx",
		},
		{
			name:   "owner sanitised",
			modify: func(q *domain.SummaryQuery) { q.Owner = `a/b:c*?"<>|d` },
			format: FormatSpreadsheet,
			want:   "volai-size-a_b_c______d-2025-08-01_2025-08-31-0930-1200.xlsx",
		},
		{
			name:   "custom prefix",
			prefix: "weekly",
			format: FormatSpreadsheet,
			want:   "weekly-size-共用-2025-08-01_2025-08-31-0930-1200.xlsx",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := base
			if tt.modify != nil {
				tt.modify(&q)
			}
			got := DerivePath("exports", tt.prefix, q, tt.format)
			assert.Equal(t, filepath.Join("exports", tt.want), got)
		})
	}
}

func TestSanitizeOwner(t *testing.T) {
	assert.Equal(t, "練習H", SanitizeOwner("練習H"))
	assert.Equal(t, "x_y", SanitizeOwner("x\ty"))
	assert.Equal(t, "all", SanitizeOwner("   "))
	assert.Equal(t, "C__tmp", SanitizeOwner(`C:\tmp`))
}

func TestAlternatePath(t *testing.T) {
	now := time.Date(2025, 8, 20, 10, 15, 0, 0, time.UTC)
	got := AlternatePath(filepath.Join("out", "report.xlsx"), now)
	assert.Equal(t, filepath.Join("out", "report_20250820_101500.xlsx"), got)

	got = AlternatePath(filepath.Join("out", "report.csv"), now)
	assert.Equal(t, filepath.Join("out", "report_20250820_101500.xlsx"), got)
}

func TestCSVPath(t *testing.T) {
	assert.Equal(t, "r.csv", CSVPath(Target{Path: "r.xlsx", Format: FormatDelimitedText}))
	assert.Equal(t, "r.csv", CSVPath(Target{Path: "r.xlsx", Format: FormatSpreadsheet}))
	assert.Equal(t, "r_night.csv", CSVPath(Target{Path: "r.xlsx", Format: FormatSpreadsheet, SheetLabel: "night"}))
}

func TestSheetName(t *testing.T) {
	assert.Equal(t, "summary", sheetName(""))
	assert.Equal(t, "a_b", sheetName("a/b"))
	assert.Len(t, []rune(sheetName("abcdefghijklmnopqrstuvwxyz0123456789")), 31)
}
