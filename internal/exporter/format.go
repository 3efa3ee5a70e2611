package exporter

import (
	"encoding/json"
	"fmt"
	"strconv"

	"volaiops/pkg/contracts/domain"
)

// header returns key, count and then the sorted extra columns
func header(records []domain.SummaryRecord) []string {
	return append([]string{"key", "count"}, domain.ExtraColumns(records)...)
}

// rowValues returns the cells of one record in header order, keeping native
// types so spreadsheets store numbers as numbers
func rowValues(rec domain.SummaryRecord, extras []string) []interface{} {
	row := make([]interface{}, 0, 2+len(extras))
	row = append(row, rec.Key, rec.Count)
	for _, col := range extras {
		v, ok := rec.Extra[col]
		if !ok || v == nil {
			row = append(row, "")
			continue
		}
		switch v.(type) {
		case string, float64, bool, int, int64:
			row = append(row, v)
		default:
			row = append(row, formatCell(v))
		}
	}
	return row
}

// formatCell renders a value for CSV output
func formatCell(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}

func stringRow(cells []interface{}) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = formatCell(c)
	}
	return out
}
