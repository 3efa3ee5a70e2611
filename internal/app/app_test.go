package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volaiops/internal/config"
	"volaiops/internal/exporter"
	"volaiops/internal/notify"
	"volaiops/internal/shared/testutil"
)

func newTestApplication(t *testing.T, mutate func(*config.Config)) *Application {
	t.Helper()
	cfg := config.Default()
	cfg.API.BaseURL = "http://127.0.0.1:8000"
	if mutate != nil {
		mutate(cfg)
	}
	logger, _ := testutil.NewTestLogger(t)
	a, err := newApplication(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop(context.Background()) })
	return a
}

func TestRunner_UsesConfig(t *testing.T) {
	a := newTestApplication(t, func(c *config.Config) {
		c.Export.Dir = "reports"
		c.Export.Format = "csv"
		c.Export.TZOffsetMinutes = -300
		c.Retry.MaxAttempts = 5
		c.Retry.BaseDelaySeconds = 1
	})

	r, err := a.Runner(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "reports", r.OutDir)
	assert.Equal(t, exporter.FormatDelimitedText, r.Format)
	assert.Equal(t, -300, r.TZOffsetMinutes)
	assert.Equal(t, 5, r.Policy.MaxAttempts)
	assert.Equal(t, time.Second, r.Policy.BaseDelay)
	assert.NotNil(t, r.Metrics)
}

func TestClient_RequiresBaseURL(t *testing.T) {
	a := newTestApplication(t, func(c *config.Config) { c.API.BaseURL = "" })
	_, err := a.Client()
	assert.Error(t, err)

	_, err = a.Runner(context.Background(), nil)
	assert.Error(t, err)
}

func TestNotifier_Unconfigured(t *testing.T) {
	a := newTestApplication(t, nil)
	err := a.Notifier().Notify(context.Background(), "subject", "body")
	assert.ErrorIs(t, err, notify.ErrNotConfigured)

	job := a.IngestJob()
	assert.Equal(t, "macro", job.Name)
	assert.Equal(t, a.Config.Ingest.Command, job.Command)
}

func TestEntrypoint_Prober(t *testing.T) {
	a := newTestApplication(t, nil)
	e, err := a.Entrypoint()
	require.NoError(t, err)
	assert.NotNil(t, e.Prober)
	assert.Equal(t, 8000, e.Config.Port)

	a = newTestApplication(t, func(c *config.Config) { c.Deploy.ReadyTimeout = -1 })
	e, err = a.Entrypoint()
	require.NoError(t, err)
	assert.Nil(t, e.Prober)
}

func TestDevServer(t *testing.T) {
	a := newTestApplication(t, nil)
	srv, err := a.DevServer()
	require.NoError(t, err)
	assert.NotNil(t, srv.Handler())
}
