package exporter

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"volaiops/pkg/contracts/domain"
)

// DefaultPrefix starts every derived file name
const DefaultPrefix = "volai"

const allMarker = "all"

// DerivePath builds
// <dir>/<prefix>-<axis>-<owner|all>-<start>_<end>-<HHMM|all>-<HHMM|all>.<ext>
// for a query. The owner is always sanitised.
func DerivePath(dir, prefix string, q domain.SummaryQuery, format Format) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	owner := allMarker
	if strings.TrimSpace(q.Owner) != "" {
		owner = SanitizeOwner(q.Owner)
	}
	band := func(s string) string {
		if s == "" {
			return allMarker
		}
		return domain.CompactClock(s)
	}

	stem := fmt.Sprintf("%s-%s-%s-%s_%s-%s-%s",
		prefix, q.Axis, owner, q.StartString(), q.EndString(), band(q.TimeStart), band(q.TimeEnd))
	return filepath.Join(dir, stem+format.Ext())
}

// SanitizeOwner replaces characters that are invalid in file names on any
// common filesystem with "_"
func SanitizeOwner(owner string) string {
	owner = strings.TrimSpace(owner)
	var b strings.Builder
	for _, r := range owner {
		switch {
		case strings.ContainsRune(`\/:*?"<>|`, r), unicode.IsControl(r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return allMarker
	}
	return b.String()
}

// AlternatePath is path with a _YYYYMMDD_HHMMSS suffix on the stem and the
// spreadsheet extension
func AlternatePath(path string, now time.Time) string {
	dir := filepath.Dir(path)
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return filepath.Join(dir, fmt.Sprintf("%s_%s%s", stem, now.Format("20060102_150405"), FormatSpreadsheet.Ext()))
}

// WithExt replaces the extension of path
func WithExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// ensureDir creates the parent directory of path
func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// sheetName makes label acceptable as a worksheet name: no []:*?/\ and at
// most 31 characters
func sheetName(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return "summary"
	}
	var b strings.Builder
	for _, r := range label {
		if strings.ContainsRune(`[]:*?/\`, r) {
			r = '_'
		}
		b.WriteRune(r)
	}
	name := b.String()
	if utf8.RuneCountInString(name) > 31 {
		name = string([]rune(name)[:31])
	}
	return name
}
