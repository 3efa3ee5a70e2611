// Package app wires configuration, logging, telemetry and the toolkit's
// components together for the command line binaries.
//
// # Initialization Flow
//
//  1. Load configuration from the optional YAML file and the environment
//  2. Initialize the slog logger and OpenTelemetry providers
//  3. Register pipeline metrics on the configured meter
//  4. Build components on demand: API client, report runner, notifier,
//     ingest job, deploy entrypoint, dev server
//
// # Usage
//
//	application, err := app.NewApplication(cfg)
//	if err != nil {
//	    return err
//	}
//	defer application.Stop(context.Background())
//	runner, err := application.Runner(ctx, nil)
//
// # Error Handling
//
// Construction errors are returned to the caller. The package never calls
// os.Exit so main controls the exit code.
package app
