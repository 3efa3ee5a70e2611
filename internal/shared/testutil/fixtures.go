package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"volaiops/pkg/contracts/domain"
)

// SummaryRows builds endpoint rows for the axis, one per key with counts
// 1, 2, 3 and so on
func SummaryRows(axis domain.Axis, keys ...string) []map[string]any {
	rows := make([]map[string]any, 0, len(keys))
	for i, k := range keys {
		rows = append(rows, map[string]any{
			string(axis): k,
			"count":      i + 1,
		})
	}
	return rows
}

// SummaryRecords is SummaryRows already decoded
func SummaryRecords(keys ...string) []domain.SummaryRecord {
	recs := make([]domain.SummaryRecord, 0, len(keys))
	for i, k := range keys {
		recs = append(recs, domain.SummaryRecord{Key: k, Count: i + 1})
	}
	return recs
}

// FlakyServer answers 503 to the first failures requests and then serves
// body as JSON. The returned counter holds the number of requests seen.
func FlakyServer(t *testing.T, failures int, body any) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal fixture body: %v", err)
	}

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		if int(n) <= failures {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(payload)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}
