package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"volaiops/internal/client"
	"volaiops/internal/config"
	"volaiops/internal/deploy"
	"volaiops/internal/devserver"
	"volaiops/internal/exporter"
	"volaiops/internal/infrastructure"
	"volaiops/internal/ingest"
	"volaiops/internal/notify"
	"volaiops/internal/pipeline"
	"volaiops/internal/retry"
)

const AppName = "volaiops"

// Application is the component container shared by the binaries
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Metrics       *infrastructure.PipelineMetrics
}

// NewApplication initializes logging and telemetry for cfg. A nil cfg is
// loaded from the file and environment.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = loaded
	}

	paths, err := config.GetPaths(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to get paths: %w", err)
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return newApplication(cfg, logger)
}

// newApplication is NewApplication with an already built logger
func newApplication(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	providers, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	metrics, err := infrastructure.NewPipelineMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	logger.Debug("Application initialized",
		slog.String("name", AppName),
		slog.String("version", infrastructure.ServiceVersion),
		slog.Bool("telemetry", cfg.Telemetry.Enabled))

	return &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: providers,
		Metrics:       metrics,
	}, nil
}

// Client returns an API client for the configured base URL
func (a *Application) Client(opts ...client.Option) (*client.Client, error) {
	base := []client.Option{
		client.WithLogger(a.Logger),
		client.WithMetrics(a.Metrics),
		client.WithLoginAttempts(a.Config.API.LoginAttempts),
	}
	return client.New(client.Config{
		BaseURL:   a.Config.API.BaseURL,
		AuthToken: a.Config.API.Token,
	}, append(base, opts...)...)
}

// Writer returns the export chain. The Sheets fallback joins it when
// credentials and a spreadsheet ID are configured.
func (a *Application) Writer(ctx context.Context) (*exporter.Writer, error) {
	var sheets *exporter.SheetsExporter
	if a.Config.Sheets.Enabled() {
		s, err := exporter.NewSheetsExporter(ctx, a.Config.Sheets.CredentialsFile, a.Config.Sheets.SpreadsheetID, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize sheets export: %w", err)
		}
		sheets = s
	}
	return exporter.NewWriter(a.Logger, sheets).WithMetrics(a.Metrics), nil
}

// Runner returns a report runner over c and the export chain. A nil c is
// replaced by a fresh client.
func (a *Application) Runner(ctx context.Context, c *client.Client) (*pipeline.Runner, error) {
	if c == nil {
		fresh, err := a.Client()
		if err != nil {
			return nil, err
		}
		c = fresh
	}
	w, err := a.Writer(ctx)
	if err != nil {
		return nil, err
	}
	format, err := exporter.ParseFormat(a.Config.Export.Format)
	if err != nil {
		return nil, err
	}

	r := pipeline.NewRunner(c, w)
	r.Policy = a.Policy()
	r.OutDir = a.Config.Export.Dir
	r.Prefix = a.Config.Export.Prefix
	r.Format = format
	r.TZOffsetMinutes = a.Config.Export.TZOffsetMinutes
	r.Logger = a.Logger
	r.Metrics = a.Metrics
	return r, nil
}

// Policy is the configured fetch retry policy
func (a *Application) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts:       a.Config.Retry.MaxAttempts,
		BaseDelay:         a.Config.Retry.RetryBaseDelay(),
		TimeoutPerAttempt: a.Config.Retry.RetryTimeout(),
	}.Normalize()
}

// Notifier returns the failure notification fan-out
func (a *Application) Notifier() *notify.Fanout {
	return notify.FromConfig(a.Config.SMTP, a.Logger)
}

// IngestJob returns the configured ingestion job
func (a *Application) IngestJob() *ingest.Job {
	return ingest.NewJob(a.Config.Ingest, a.Notifier(), a.Logger)
}

// Entrypoint returns the migrate-then-boot sequence. Readiness is polled
// through an API client pointed at the booted server.
func (a *Application) Entrypoint() (*deploy.Entrypoint, error) {
	e := &deploy.Entrypoint{
		Config: a.Config.Deploy,
		Logger: a.Logger,
	}
	if a.Config.Deploy.ReadyTimeout > 0 {
		c, err := client.New(client.Config{
			BaseURL: fmt.Sprintf("http://127.0.0.1:%d", a.Config.Deploy.Port),
		}, client.WithLogger(a.Logger))
		if err != nil {
			return nil, err
		}
		e.Prober = c
	}
	return e, nil
}

// DevServer returns the local API stand-in with telemetry attached
func (a *Application) DevServer(opts ...devserver.Option) (*devserver.Server, error) {
	base := []devserver.Option{devserver.WithTelemetry(a.Metrics, a.OTelProviders.PrometheusHTTP)}
	return devserver.New(a.Config.DevServer, a.Logger, append(base, opts...)...)
}

// Stop flushes telemetry and closes the log file
func (a *Application) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var errs []string
	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(ctx); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := infrastructure.CloseLogFile(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown: %s", strings.Join(errs, "; "))
	}
	return nil
}
