package exporter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"volaiops/pkg/contracts/domain"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVExporter is the last-resort strategy. It writes UTF-8 with a BOM so
// Excel detects the encoding.
type CSVExporter struct {
	logger *slog.Logger
}

// NewCSVExporter creates a new CSV exporter
func NewCSVExporter(logger *slog.Logger) *CSVExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVExporter{logger: logger}
}

// Name implements Exporter
func (e *CSVExporter) Name() string { return "csv" }

// Handles implements Exporter; CSV is the fallback for every format
func (e *CSVExporter) Handles(Format) bool { return true }

// Available implements Exporter
func (e *CSVExporter) Available() bool { return true }

// TryWrite implements Exporter
func (e *CSVExporter) TryWrite(ctx context.Context, records []domain.SummaryRecord, target Target) (string, error) {
	path := CSVPath(target)
	if err := WriteCSV(path, records); err != nil {
		return "", err
	}
	e.logger.DebugContext(ctx, "Wrote CSV file",
		slog.String("file_path", path),
		slog.Int("record_count", len(records)))
	return path, nil
}

// CSVPath is where a target lands as CSV. A spreadsheet target with a sheet
// label gets the label in the name so sibling sheets do not overwrite each other.
func CSVPath(target Target) string {
	if target.Format == FormatSpreadsheet && target.SheetLabel != "" {
		stem := strings.TrimSuffix(target.Path, filepath.Ext(target.Path))
		return stem + "_" + SanitizeOwner(target.SheetLabel) + FormatDelimitedText.Ext()
	}
	return WithExt(target.Path, FormatDelimitedText.Ext())
}

// WriteCSV writes records with a header row to path, replacing any file there
func WriteCSV(path string, records []domain.SummaryRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(utf8BOM); err != nil {
		return fmt.Errorf("failed to write BOM: %w", err)
	}

	writer := csv.NewWriter(file)
	cols := header(records)
	if err := writer.Write(cols); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}
	extras := cols[2:]
	for i, rec := range records {
		if err := writer.Write(stringRow(rowValues(rec, extras))); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Close()
}

// ReadCSV reads back a file produced by WriteCSV. Extra columns come back as
// strings; empty extra cells are omitted.
func ReadCSV(path string) ([]domain.SummaryRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	br := bufio.NewReader(file)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	reader := csv.NewReader(br)
	cols, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(cols) < 2 || cols[0] != "key" || cols[1] != "count" {
		return nil, fmt.Errorf("unexpected header %v", cols)
	}

	var records []domain.SummaryRecord
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		count, err := strconv.Atoi(row[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid count %q", line, row[1])
		}
		rec := domain.SummaryRecord{Key: row[0], Count: count}
		for i := 2; i < len(cols) && i < len(row); i++ {
			if row[i] == "" {
				continue
			}
			if rec.Extra == nil {
				rec.Extra = make(map[string]any)
			}
			rec.Extra[cols[i]] = row[i]
		}
		records = append(records, rec)
	}
	return records, nil
}
