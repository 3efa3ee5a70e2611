package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"volaiops/internal/app"
	apierrors "volaiops/internal/errors"
	"volaiops/internal/ingest"
)

// Exit codes
const (
	exitOK = iota
	exitFailure
	exitUsage
	exitAuth
	exitFetch
	exitExport
	exitPortBusy
	exitProcess
)

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, a *app.Application, args []string, stdout io.Writer) error
}

var commands = []command{
	{"login", "log in and print an access token", cmdLogin},
	{"me", "print the authenticated user's profile", cmdMe},
	{"health", "probe the API health endpoints", cmdHealth},
	{"refresh-openapi", "rebuild the API's OpenAPI document (admin)", cmdRefreshOpenAPI},
	{"report", "fetch a summary and export it", cmdReport},
	{"ingest", "run the macro-data ingestion job", cmdIngest},
	{"deploy", "migrate the database and boot the API server", cmdDeploy},
	{"dbping", "check database connectivity", cmdDBPing},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		usage(stderr)
		return exitUsage
	}
	var cmd *command
	for i := range commands {
		if commands[i].name == args[0] {
			cmd = &commands[i]
			break
		}
	}
	if cmd == nil {
		if args[0] != "help" && args[0] != "-h" && args[0] != "--help" {
			fmt.Fprintf(stderr, "unknown command %q\n\n", args[0])
		}
		usage(stderr)
		return exitUsage
	}

	application, err := app.NewApplication(nil)
	if err != nil {
		fmt.Fprintln(stderr, "startup failed:", err)
		return exitFailure
	}
	defer application.Stop(context.Background())

	if err := cmd.run(ctx, application, args[1:], stdout); err != nil {
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintln(stderr, err)
			return exitUsage
		}
		fmt.Fprintf(stderr, "%s failed: %v\n", cmd.name, err)
		return exitCode(err)
	}
	return exitOK
}

// exitCode maps a command error to the process exit status. A failed
// ingestion child passes its own code through.
func exitCode(err error) int {
	var exitErr *ingest.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	switch apierrors.KindOf(err) {
	case apierrors.KindAuthFailed:
		return exitAuth
	case apierrors.KindFetchExhausted:
		return exitFetch
	case apierrors.KindExportFailed:
		return exitExport
	case apierrors.KindPortBusy:
		return exitPortBusy
	case apierrors.KindProcessStartFailed:
		return exitProcess
	case apierrors.KindMissingPeriod, apierrors.KindInvalidBaseURL:
		return exitUsage
	}
	return exitFailure
}

// usageError is a bad flag or argument
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: volaiops <command> [options]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-16s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Configuration is read from volaiops.yaml (or $VOLAI_CONFIG) and VOLAI_* variables.")
}
