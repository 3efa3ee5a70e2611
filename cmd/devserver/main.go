// Command devserver runs a local stand-in for the analytics API so the
// report pipeline can be exercised end to end without the hosted service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"volaiops/internal/app"
	"volaiops/internal/config"
	apierrors "volaiops/internal/errors"
)

func main() {
	port := flag.Int("port", 0, "listen port (config dev_server.port when 0)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.DevServer.Port = *port
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "startup failed:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := serve(ctx, application)
	stop()
	if err := application.Stop(context.Background()); err != nil {
		application.Logger.Warn("shutdown incomplete", slog.String("error", err.Error()))
	}
	os.Exit(code)
}

func serve(ctx context.Context, application *app.Application) int {
	srv, err := application.DevServer()
	if err != nil {
		application.Logger.Error("dev server init failed", slog.String("error", err.Error()))
		return 1
	}
	if err := srv.ListenAndServe(ctx); err != nil {
		if errors.Is(err, apierrors.ErrPortBusy) {
			fmt.Fprintf(os.Stderr, "port %d is already in use; set PORT or -port\n", application.Config.DevServer.Port)
			return 2
		}
		application.Logger.Error("dev server stopped", slog.String("error", err.Error()))
		return 1
	}
	return 0
}
