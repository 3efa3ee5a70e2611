package exporter

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "volaiops/internal/errors"
	"volaiops/pkg/contracts/domain"
)

type fakeExporter struct {
	name      string
	formats   []Format
	available bool
	result    string
	err       error
	calls     int
}

func (f *fakeExporter) Name() string { return f.name }
func (f *fakeExporter) Handles(fm Format) bool {
	for _, x := range f.formats {
		if x == fm {
			return true
		}
	}
	return false
}
func (f *fakeExporter) Available() bool { return f.available }
func (f *fakeExporter) TryWrite(context.Context, []domain.SummaryRecord, Target) (string, error) {
	f.calls++
	return f.result, f.err
}

func TestWriter_Chain(t *testing.T) {
	dir := t.TempDir()
	target := Target{Path: filepath.Join(dir, "r.xlsx"), Format: FormatSpreadsheet}

	t.Run("first success wins", func(t *testing.T) {
		a := &fakeExporter{name: "a", formats: []Format{FormatSpreadsheet}, available: true, result: target.Path}
		b := &fakeExporter{name: "b", formats: []Format{FormatSpreadsheet}, available: true, result: "other"}
		got, err := NewChainWriter(nil, nil, a, b).Write(context.Background(), nil, target)
		require.NoError(t, err)
		assert.Equal(t, target.Path, got)
		assert.Equal(t, 0, b.calls)
	})

	t.Run("unavailable and non-matching strategies are skipped", func(t *testing.T) {
		off := &fakeExporter{name: "off", formats: []Format{FormatSpreadsheet}, available: false}
		csvOnly := &fakeExporter{name: "csv", formats: []Format{FormatDelimitedText}, available: true}
		last := &fakeExporter{name: "last", formats: []Format{FormatSpreadsheet}, available: true, result: "x"}
		got, err := NewChainWriter(nil, nil, off, csvOnly, last).Write(context.Background(), nil, target)
		require.NoError(t, err)
		assert.Equal(t, "x", got)
		assert.Zero(t, off.calls)
		assert.Zero(t, csvOnly.calls)
	})

	t.Run("all failing", func(t *testing.T) {
		a := &fakeExporter{name: "a", formats: []Format{FormatSpreadsheet}, available: true, err: errors.New("locked")}
		b := &fakeExporter{name: "b", formats: []Format{FormatSpreadsheet}, available: true, err: errors.New("disk full")}
		_, err := NewChainWriter(nil, nil, a, b).Write(context.Background(), nil, target)

		var failed *apierrors.ExportFailedError
		require.ErrorAs(t, err, &failed)
		assert.ErrorIs(t, err, apierrors.ErrExportFailed)
		assert.Equal(t, []string{"a", "b"}, failed.Attempts)
		assert.Contains(t, err.Error(), "locked")
		assert.Contains(t, err.Error(), "disk full")
		assert.Contains(t, err.Error(), target.Path)
	})
}

func TestNewWriter_CSVTargetSkipsExcel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "r.csv")
	got, err := NewWriter(nil, nil).Write(context.Background(), sampleRecords(),
		Target{Path: path, Format: FormatDelimitedText})
	require.NoError(t, err)
	assert.Equal(t, path, got)

	back, err := ReadCSV(got)
	require.NoError(t, err)
	assert.Len(t, back, 3)
}

func TestNewWriter_SpreadsheetTarget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "dir", "r.xlsx")
	got, err := NewWriter(nil, nil).Write(context.Background(), sampleRecords(),
		Target{Path: path, Format: FormatSpreadsheet, SheetLabel: "owner"})
	require.NoError(t, err)
	assert.Equal(t, path, got)
	assert.FileExists(t, path)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("CSV")
	require.NoError(t, err)
	assert.Equal(t, FormatDelimitedText, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatSpreadsheet, f)

	_, err = ParseFormat("pdf")
	assert.Error(t, err)
}
