// Package shared holds code used across the toolkit's packages that belongs
// to none of them.
//
// The testutil subpackage provides a capturing slog handler for asserting on
// structured log output and fixtures for the summary endpoint: canned rows,
// and an httptest server that fails a configurable number of times before
// answering.
//
//	logger, logs := testutil.NewTestLogger(t)
//	srv, hits := testutil.FlakyServer(t, 2, testutil.SummaryRows(domain.AxisOwner, "共用", "学也"))
//	...
//	testutil.AssertLogContains(t, logs, slog.LevelWarn, "summary_fetch_retry")
package shared
