package exporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	apierrors "volaiops/internal/errors"
	"volaiops/internal/infrastructure"
	"volaiops/pkg/contracts/domain"
)

// Format is the artifact kind requested by the caller
type Format string

const (
	FormatSpreadsheet   Format = "xlsx"
	FormatDelimitedText Format = "csv"
)

// ParseFormat accepts xlsx/spreadsheet and csv/delimited-text
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "xlsx", "spreadsheet", "excel", "":
		return FormatSpreadsheet, nil
	case "csv", "delimited-text", "text":
		return FormatDelimitedText, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// Ext returns the file extension including the dot
func (f Format) Ext() string {
	if f == FormatDelimitedText {
		return ".csv"
	}
	return ".xlsx"
}

// Target says where and how to write
type Target struct {
	Path       string
	Format     Format
	SheetLabel string
}

// Exporter is one write strategy
type Exporter interface {
	Name() string
	// Handles reports whether the strategy can produce the requested format
	Handles(f Format) bool
	// Available reports whether the strategy is configured and usable
	Available() bool
	// TryWrite writes records and returns the path or URI actually written
	TryWrite(ctx context.Context, records []domain.SummaryRecord, target Target) (string, error)
}

// Writer runs exporters in order until one succeeds
type Writer struct {
	exporters []Exporter
	logger    *slog.Logger
	metrics   *infrastructure.PipelineMetrics
}

// NewChainWriter returns a Writer over an explicit strategy list
func NewChainWriter(logger *slog.Logger, metrics *infrastructure.PipelineMetrics, exporters ...Exporter) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		exporters: exporters,
		logger:    infrastructure.WithComponent(logger, "exporter"),
		metrics:   metrics,
	}
}

// NewWriter returns the standard chain: Excel, then Sheets when given, then CSV
func NewWriter(logger *slog.Logger, sheets *SheetsExporter) *Writer {
	chain := []Exporter{NewExcelExporter(logger)}
	if sheets != nil {
		chain = append(chain, sheets)
	}
	chain = append(chain, NewCSVExporter(logger))
	return NewChainWriter(logger, nil, chain...)
}

// WithMetrics attaches pipeline metrics
func (w *Writer) WithMetrics(m *infrastructure.PipelineMetrics) *Writer {
	w.metrics = m
	return w
}

// Write persists records according to target and returns where they landed.
// When every applicable strategy fails an *ExportFailedError is returned.
func (w *Writer) Write(ctx context.Context, records []domain.SummaryRecord, target Target) (string, error) {
	if target.Format == "" {
		target.Format = FormatSpreadsheet
	}

	var tried []string
	var errs []error
	if err := ensureDir(target.Path); err != nil {
		errs = append(errs, err)
	}

	for _, exp := range w.exporters {
		if !exp.Handles(target.Format) || !exp.Available() {
			continue
		}
		tried = append(tried, exp.Name())

		written, err := exp.TryWrite(ctx, records, target)
		w.metrics.Export(ctx, exp.Name(), err == nil)
		if err != nil {
			w.logger.WarnContext(ctx, "export_strategy_failed",
				slog.String("exporter", exp.Name()),
				slog.String("path", target.Path),
				slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", exp.Name(), err))
			continue
		}

		if written != target.Path {
			w.metrics.ExportFallback(ctx, exp.Name())
		}
		w.logger.InfoContext(ctx, "export_written",
			slog.String("exporter", exp.Name()),
			slog.String("requested", target.Path),
			slog.String("written", written),
			slog.String("sheet", target.SheetLabel),
			slog.Int("records", len(records)))
		return written, nil
	}

	if len(errs) == 0 {
		errs = append(errs, fmt.Errorf("no exporter handles format %q", target.Format))
	}
	return "", &apierrors.ExportFailedError{
		Path:     target.Path,
		Attempts: tried,
		Err:      errors.Join(errs...),
	}
}
