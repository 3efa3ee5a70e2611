// Package deploy is the container entrypoint: pick the database, check it
// answers, run migrations, then boot the API server on the configured port
// and keep it in the foreground until a signal arrives.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"volaiops/internal/client"
	"volaiops/internal/config"
	apierrors "volaiops/internal/errors"
	"volaiops/internal/infrastructure"
)

// HealthProber reports API readiness
type HealthProber interface {
	Health(ctx context.Context) (client.HealthStatus, error)
}

// Entrypoint runs the migrate-then-boot sequence
type Entrypoint struct {
	Config config.DeployConfig
	Logger *slog.Logger
	// Ping defaults to PingDatabase
	Ping func(ctx context.Context, databaseURL string) (*DBInfo, error)
	// Prober, when set, is polled after boot until the server is healthy
	Prober        HealthProber
	PollInterval  time.Duration
	ShutdownGrace time.Duration
	Stdout        io.Writer
	Stderr        io.Writer
}

// Run resolves the database, pings it, migrates and boots
func (e *Entrypoint) Run(ctx context.Context) error {
	logger := infrastructure.WithComponent(e.Logger, "deploy")

	dbURL, err := ResolveDatabaseURL(e.Config)
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "database_selected",
		slog.String("target", e.Config.Target),
		slog.String("url", RedactURL(dbURL)))

	if !e.Config.SkipDBPing {
		ping := e.Ping
		if ping == nil {
			ping = PingDatabase
		}
		info, err := ping(ctx, dbURL)
		if err != nil {
			return fmt.Errorf("database ping: %w", err)
		}
		logger.InfoContext(ctx, "database_ok",
			slog.String("user", info.User),
			slog.String("database", info.Database))
	}

	if err := e.Migrate(ctx, dbURL); err != nil {
		return err
	}
	return e.Boot(ctx, dbURL)
}

// Migrate runs the migration command to completion
func (e *Entrypoint) Migrate(ctx context.Context, dbURL string) error {
	logger := infrastructure.WithComponent(e.Logger, "deploy")
	argv := ExpandCommand(e.Config.MigrateCommand, e.vars())
	if len(argv) == 0 {
		logger.InfoContext(ctx, "migration_skipped")
		return nil
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), "DATABASE_URL="+dbURL)
	cmd.Stdout, cmd.Stderr = e.outputs()

	logger.InfoContext(ctx, "migration_started", slog.String("command", strings.Join(argv, " ")))
	if err := cmd.Start(); err != nil {
		return apierrors.ProcessStartFailed(argv, err)
	}
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("migration %q failed: %w", strings.Join(argv, " "), err)
	}
	logger.InfoContext(ctx, "migration_completed")
	return nil
}

// Boot checks the port, starts the server and blocks until it exits or ctx
// is cancelled. Cancellation interrupts the server and waits ShutdownGrace
// before killing it.
func (e *Entrypoint) Boot(ctx context.Context, dbURL string) error {
	logger := infrastructure.WithComponent(e.Logger, "deploy")
	argv := ExpandCommand(e.Config.ServerCommand, e.vars())
	if len(argv) == 0 {
		return apierrors.ProcessStartFailed(nil, errors.New("no server command configured"))
	}
	if err := CheckPort(e.Config.Port); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	cmd := exec.CommandContext(gctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), e.serverEnv(dbURL)...)
	cmd.Stdout, cmd.Stderr = e.outputs()
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = e.grace()

	if err := cmd.Start(); err != nil {
		return apierrors.ProcessStartFailed(argv, err)
	}
	logger.InfoContext(ctx, "server_started",
		slog.Int("pid", cmd.Process.Pid),
		slog.Int("port", e.Config.Port),
		slog.String("command", strings.Join(argv, " ")))

	exited := make(chan struct{})
	g.Go(func() error {
		defer close(exited)
		err := cmd.Wait()
		if ctx.Err() != nil {
			logger.InfoContext(ctx, "server_stopped", slog.String("reason", ctx.Err().Error()))
			return nil
		}
		if err != nil {
			return fmt.Errorf("server exited: %w", err)
		}
		logger.InfoContext(ctx, "server_exited")
		return nil
	})

	if e.Prober != nil {
		g.Go(func() error {
			readyCtx, cancel := context.WithTimeout(gctx, time.Duration(e.Config.ReadyTimeout)*time.Second)
			defer cancel()
			go func() {
				select {
				case <-exited:
					cancel()
				case <-readyCtx.Done():
				}
			}()
			status, err := WaitReady(readyCtx, e.Prober, e.PollInterval)
			if err != nil {
				if gctx.Err() != nil || isClosed(exited) {
					return nil
				}
				return fmt.Errorf("server not ready after %ds: %w", e.Config.ReadyTimeout, err)
			}
			logger.InfoContext(ctx, "server_ready", slog.String("endpoint", status.Endpoint))
			return nil
		})
	}

	return g.Wait()
}

// WaitReady polls the prober until it reports healthy or ctx ends
func WaitReady(ctx context.Context, prober HealthProber, interval time.Duration) (client.HealthStatus, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		status, err := prober.Health(ctx)
		if err == nil && status.Healthy {
			return status, nil
		}
		if err != nil {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			if lastErr == nil {
				lastErr = ctx.Err()
			}
			return client.HealthStatus{}, lastErr
		case <-ticker.C:
		}
	}
}

// CheckPort fails with PortBusy when something already listens on port
func CheckPort(port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return apierrors.PortBusy(port, err)
	}
	return ln.Close()
}

// ExpandCommand substitutes {name} placeholders in each argument
func ExpandCommand(argv []string, vars map[string]string) []string {
	if len(argv) == 0 {
		return nil
	}
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = r.Replace(a)
	}
	return out
}

func (e *Entrypoint) vars() map[string]string {
	return map[string]string{"port": strconv.Itoa(e.Config.Port)}
}

func (e *Entrypoint) serverEnv(dbURL string) []string {
	env := []string{
		"PORT=" + strconv.Itoa(e.Config.Port),
		"DATABASE_URL=" + dbURL,
	}
	if e.Config.SecretKey != "" {
		env = append(env, "SECRET_KEY="+e.Config.SecretKey)
	}
	return env
}

func (e *Entrypoint) outputs() (io.Writer, io.Writer) {
	stdout, stderr := e.Stdout, e.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return stdout, stderr
}

func (e *Entrypoint) grace() time.Duration {
	if e.ShutdownGrace > 0 {
		return e.ShutdownGrace
	}
	return 10 * time.Second
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
