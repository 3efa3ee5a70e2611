package exporter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"volaiops/pkg/contracts/domain"
)

// SheetsExporter writes a minimal key,count table into a Google spreadsheet.
// It is used when the local workbook cannot be written.
type SheetsExporter struct {
	service       *sheets.Service
	spreadsheetID string
	logger        *slog.Logger
}

// NewSheetsExporter builds the service from a service-account credentials
// file. Extra options are appended, which tests use to point at a fake.
func NewSheetsExporter(ctx context.Context, credentialsFile, spreadsheetID string, logger *slog.Logger, opts ...option.ClientOption) (*SheetsExporter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var clientOpts []option.ClientOption
	if credentialsFile != "" {
		credentialsJSON, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials: %w", err)
		}
		clientOpts = append(clientOpts, option.WithCredentialsJSON(credentialsJSON))
	}
	clientOpts = append(clientOpts, opts...)

	service, err := sheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return &SheetsExporter{service: service, spreadsheetID: spreadsheetID, logger: logger}, nil
}

// Name implements Exporter
func (e *SheetsExporter) Name() string { return "sheets" }

// Handles implements Exporter
func (e *SheetsExporter) Handles(f Format) bool { return f == FormatSpreadsheet }

// Available implements Exporter
func (e *SheetsExporter) Available() bool {
	return e != nil && e.service != nil && e.spreadsheetID != ""
}

// TryWrite implements Exporter. The returned location is
// sheets://<spreadsheet id>/<sheet>.
func (e *SheetsExporter) TryWrite(ctx context.Context, records []domain.SummaryRecord, target Target) (string, error) {
	title := sheetName(target.SheetLabel)

	if err := e.ensureSheet(ctx, title); err != nil {
		return "", err
	}

	rng := quoteSheet(title)
	if _, err := e.service.Spreadsheets.Values.Clear(e.spreadsheetID, rng, &sheets.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("failed to clear sheet %q: %w", title, err)
	}

	values := make([][]interface{}, 0, len(records)+1)
	values = append(values, []interface{}{"key", "count"})
	for _, rec := range records {
		values = append(values, []interface{}{rec.Key, rec.Count})
	}

	if _, err := e.service.Spreadsheets.Values.Update(
		e.spreadsheetID,
		rng+"!A1",
		&sheets.ValueRange{Values: values},
	).ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("failed to write sheet %q: %w", title, err)
	}

	e.logger.InfoContext(ctx, "Wrote Google sheet",
		slog.String("spreadsheet_id", e.spreadsheetID),
		slog.String("sheet", title),
		slog.Int("record_count", len(records)))
	return fmt.Sprintf("sheets://%s/%s", e.spreadsheetID, title), nil
}

func (e *SheetsExporter) ensureSheet(ctx context.Context, title string) error {
	ss, err := e.service.Spreadsheets.Get(e.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to read spreadsheet: %w", err)
	}
	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == title {
			return nil
		}
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: title},
			},
		}},
	}
	if _, err := e.service.Spreadsheets.BatchUpdate(e.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to add sheet %q: %w", title, err)
	}
	return nil
}

func quoteSheet(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}
