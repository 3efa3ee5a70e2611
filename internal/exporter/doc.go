// Package exporter writes summary records to disk or to a hosted sheet.
//
// A Writer tries an ordered list of Exporter strategies and stops at the first
// that succeeds:
//
//	ExcelExporter   styled .xlsx; on failure retries once at a timestamped path
//	SheetsExporter  two-column sheet in a Google spreadsheet (when configured)
//	CSVExporter     UTF-8 CSV with BOM, extension normalised to .csv
//
// Writing several sheets into one workbook is done by calling Write once per
// sheet with the same path; an existing sheet with the same label is replaced
// and every other sheet is preserved.
//
// Concurrency: a Writer serialises nothing across processes. Two invocations
// writing the same workbook path at the same time can interleave their
// open-modify-save cycles and lose a sheet. Callers that need that guarantee
// must coordinate outside this package.
//
// Example usage:
//
//	w := exporter.NewWriter(logger, nil)
//	target := exporter.Target{
//	    Path:       exporter.DerivePath("exports", "volai", query, exporter.FormatSpreadsheet),
//	    Format:     exporter.FormatSpreadsheet,
//	    SheetLabel: "owner",
//	}
//	written, err := w.Write(ctx, records, target)
package exporter
