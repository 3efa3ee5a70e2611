package exporter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"volaiops/pkg/contracts/domain"
)

const placeholderSheet = "__volai_placeholder"

// ExcelExporter writes a styled workbook. If saving at the requested path
// fails (locked or read-only file) it retries once at AlternatePath.
type ExcelExporter struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewExcelExporter creates a new Excel exporter
func NewExcelExporter(logger *slog.Logger) *ExcelExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExcelExporter{logger: logger, now: time.Now}
}

// WithClock overrides the clock used for alternate file names
func (e *ExcelExporter) WithClock(now func() time.Time) *ExcelExporter {
	e.now = now
	return e
}

// Name implements Exporter
func (e *ExcelExporter) Name() string { return "xlsx" }

// Handles implements Exporter
func (e *ExcelExporter) Handles(f Format) bool { return f == FormatSpreadsheet }

// Available implements Exporter
func (e *ExcelExporter) Available() bool { return true }

// TryWrite implements Exporter
func (e *ExcelExporter) TryWrite(ctx context.Context, records []domain.SummaryRecord, target Target) (string, error) {
	path := WithExt(target.Path, FormatSpreadsheet.Ext())
	label := sheetName(target.SheetLabel)

	firstErr := WriteSheet(path, label, records)
	if firstErr == nil {
		return path, nil
	}

	alt := AlternatePath(path, e.now())
	e.logger.WarnContext(ctx, "workbook write failed, retrying at alternate path",
		slog.String("path", path),
		slog.String("alternate", alt),
		slog.String("error", firstErr.Error()))

	if err := WriteSheet(alt, label, records); err != nil {
		return "", fmt.Errorf("write %s: %v; alternate %s: %w", path, firstErr, alt, err)
	}
	return alt, nil
}

// WriteSheet writes records as sheet label of the workbook at path. An
// existing workbook is opened and only that sheet is replaced.
func WriteSheet(path, label string, records []domain.SummaryRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	f, fresh, err := openWorkbook(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := replaceSheet(f, label, fresh); err != nil {
		return err
	}
	if err := fillSheet(f, label, records); err != nil {
		return err
	}
	idx, err := f.GetSheetIndex(label)
	if err == nil && idx >= 0 {
		f.SetActiveSheet(idx)
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func openWorkbook(path string) (*excelize.File, bool, error) {
	if _, err := os.Stat(path); err == nil {
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, false, fmt.Errorf("failed to open workbook: %w", err)
		}
		return f, false, nil
	}
	return excelize.NewFile(), true, nil
}

// replaceSheet leaves an empty sheet named label in f. A workbook must always
// keep one sheet, so a placeholder covers the moment the old one is gone.
func replaceSheet(f *excelize.File, label string, fresh bool) error {
	defaultSheet := f.GetSheetName(0)

	idx, err := f.GetSheetIndex(label)
	if err != nil {
		return fmt.Errorf("invalid sheet name %q: %w", label, err)
	}

	placeholder := false
	if idx >= 0 {
		if f.SheetCount == 1 {
			if _, err := f.NewSheet(placeholderSheet); err != nil {
				return err
			}
			placeholder = true
		}
		if err := f.DeleteSheet(label); err != nil {
			return fmt.Errorf("failed to remove sheet %q: %w", label, err)
		}
	}

	if _, err := f.NewSheet(label); err != nil {
		return fmt.Errorf("failed to create sheet %q: %w", label, err)
	}
	if placeholder {
		if err := f.DeleteSheet(placeholderSheet); err != nil {
			return err
		}
	}
	if fresh && defaultSheet != label {
		if err := f.DeleteSheet(defaultSheet); err != nil {
			return err
		}
	}
	return nil
}

func fillSheet(f *excelize.File, sheet string, records []domain.SummaryRecord) error {
	cols := header(records)
	extras := cols[2:]

	headerRow := make([]interface{}, len(cols))
	for i, c := range cols {
		headerRow[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &headerRow); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = displayWidth(c)
	}

	for i, rec := range records {
		row := rowValues(rec, extras)
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
		for j, v := range row {
			if w := displayWidth(formatCell(v)); w > widths[j] {
				widths[j] = w
			}
		}
	}

	return styleSheet(f, sheet, len(cols), len(records), widths)
}

// styleSheet applies the bold frozen header, autofilter and column widths
func styleSheet(f *excelize.File, sheet string, ncols, nrows int, widths []int) error {
	lastCol, err := excelize.ColumnNumberToName(ncols)
	if err != nil {
		return err
	}

	style, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Alignment: &excelize.Alignment{Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	if err := f.SetCellStyle(sheet, "A1", lastCol+"1", style); err != nil {
		return err
	}

	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}

	filterRange := "A1:" + lastCol + strconv.Itoa(nrows+1)
	if err := f.AutoFilter(sheet, filterRange, []excelize.AutoFilterOptions{}); err != nil {
		return fmt.Errorf("failed to add autofilter: %w", err)
	}

	for i, w := range widths {
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, name, name, columnWidth(w)); err != nil {
			return err
		}
	}
	return nil
}

// displayWidth counts wide (CJK) runes as two columns
func displayWidth(s string) int {
	w := 0
	for _, r := range s {
		if utf8.RuneLen(r) >= 3 {
			w += 2
		} else {
			w++
		}
	}
	return w
}

func columnWidth(chars int) float64 {
	w := float64(chars) + 3
	if w < 8 {
		w = 8
	}
	if w > 60 {
		w = 60
	}
	return w
}

// ReadSheet reads back a sheet written by WriteSheet
func ReadSheet(path, sheet string) ([]domain.SummaryRecord, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheetName(sheet))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %q is empty", sheet)
	}
	cols := rows[0]
	var records []domain.SummaryRecord
	for i, row := range rows[1:] {
		if len(row) < 2 {
			return nil, fmt.Errorf("row %d is short", i+2)
		}
		count, err := strconv.Atoi(row[1])
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid count %q", i+2, row[1])
		}
		rec := domain.SummaryRecord{Key: row[0], Count: count}
		for j := 2; j < len(cols) && j < len(row); j++ {
			if row[j] == "" {
				continue
			}
			if rec.Extra == nil {
				rec.Extra = make(map[string]any)
			}
			rec.Extra[cols[j]] = row[j]
		}
		records = append(records, rec)
	}
	return records, nil
}

// SheetNames lists the sheets of the workbook at path
func SheetNames(path string) ([]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.GetSheetList(), nil
}
