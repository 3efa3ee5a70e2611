// Package ingest wraps the macro-data ingestion command. Each run gets its
// own log file holding the command's stdout and stderr, and a non-zero exit
// sends the tail of that log to the configured notifiers.
package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"volaiops/internal/config"
	apierrors "volaiops/internal/errors"
	"volaiops/internal/infrastructure"
	"volaiops/internal/notify"
)

// DefaultTailLines is how much of the log a failure notice carries
const DefaultTailLines = 40

// Job runs one ingestion command
type Job struct {
	Name    string
	Command []string
	LogDir  string
	Dir     string
	Env     []string
	// Echo receives a copy of the command output when set
	Echo      io.Writer
	Notifier  notify.Notifier
	Logger    *slog.Logger
	Now       func() time.Time
	TailLines int
}

// NewJob builds a job from the ingest config section
func NewJob(cfg config.IngestConfig, notifier notify.Notifier, logger *slog.Logger) *Job {
	return &Job{
		Name:     cfg.Name,
		Command:  cfg.Command,
		LogDir:   cfg.LogDir,
		Notifier: notifier,
		Logger:   logger,
	}
}

// Result describes a finished run
type Result struct {
	RunID    string
	LogPath  string
	ExitCode int
	Duration time.Duration
	Notified bool
}

// ExitError reports a command that ran and exited non-zero
type ExitError struct {
	Name     string
	Code     int
	LogPath  string
	Notified bool
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("ingest %s exited with code %d (log: %s)", e.Name, e.Code, e.LogPath)
}

// LogFileName is the per-run log name for a start time
func LogFileName(started time.Time) string {
	return "ingest_" + started.Format("20060102_150405") + ".log"
}

// Run executes the command and waits for it
func (j *Job) Run(ctx context.Context) (*Result, error) {
	logger := infrastructure.WithComponent(j.Logger, "ingest")
	now := j.Now
	if now == nil {
		now = time.Now
	}
	ctx, runID := infrastructure.StartRun(ctx)
	started := now()

	if len(j.Command) == 0 {
		return nil, apierrors.ProcessStartFailed(nil, errors.New("no command configured"))
	}

	logDir := j.LogDir
	if logDir == "" {
		logDir = "logs"
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	logPath := filepath.Join(logDir, LogFileName(started))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	defer logFile.Close()

	fmt.Fprintf(logFile, "# run %s started %s\n# command: %s\n",
		runID, started.Format(time.RFC3339), strings.Join(j.Command, " "))

	result := &Result{RunID: runID, LogPath: logPath}
	logger.InfoContext(ctx, "ingest_started",
		slog.String("name", j.Name),
		slog.String("command", strings.Join(j.Command, " ")),
		slog.String("log_path", logPath))

	cmd := exec.CommandContext(ctx, j.Command[0], j.Command[1:]...)
	cmd.Dir = j.Dir
	if len(j.Env) > 0 {
		cmd.Env = append(os.Environ(), j.Env...)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		startErr := apierrors.ProcessStartFailed(j.Command, err)
		fmt.Fprintf(logFile, "# start failed: %v\n", err)
		result.ExitCode = -1
		result.Notified = j.notify(ctx, logger, fmt.Sprintf("[volaiops] ingest %s could not start", j.Name),
			j.failureBody(runID, logPath, startErr.Error()))
		return result, startErr
	}

	out := &lockedWriter{w: logFile}
	var sink io.Writer = out
	if j.Echo != nil {
		sink = io.MultiWriter(out, &lockedWriter{w: j.Echo})
	}

	var g errgroup.Group
	g.Go(func() error { return copyLines(sink, stdout, "") })
	g.Go(func() error { return copyLines(sink, stderr, "[stderr] ") })
	copyErr := g.Wait()
	waitErr := cmd.Wait()
	result.Duration = now().Sub(started)

	if copyErr != nil {
		logger.WarnContext(ctx, "ingest_output_copy_failed", slog.String("error", copyErr.Error()))
	}

	if waitErr == nil {
		fmt.Fprintf(logFile, "# exit 0 after %s\n", result.Duration)
		logger.InfoContext(ctx, "ingest_completed",
			slog.String("name", j.Name),
			slog.Duration("duration", result.Duration))
		return result, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) {
		return result, fmt.Errorf("wait for ingest: %w", waitErr)
	}
	result.ExitCode = exitErr.ExitCode()
	fmt.Fprintf(logFile, "# exit %d after %s\n", result.ExitCode, result.Duration)
	logger.ErrorContext(ctx, "ingest_failed",
		slog.String("name", j.Name),
		slog.Int("exit_code", result.ExitCode),
		slog.String("log_path", logPath))

	tail, err := Tail(logPath, j.tailLines())
	if err != nil {
		tail = "(log unreadable: " + err.Error() + ")"
	}
	result.Notified = j.notify(ctx, logger,
		fmt.Sprintf("[volaiops] ingest %s failed (exit %d)", j.Name, result.ExitCode),
		j.failureBody(runID, logPath, tail))

	return result, &ExitError{Name: j.Name, Code: result.ExitCode, LogPath: logPath, Notified: result.Notified}
}

func (j *Job) tailLines() int {
	if j.TailLines > 0 {
		return j.TailLines
	}
	return DefaultTailLines
}

func (j *Job) failureBody(runID, logPath, detail string) string {
	return fmt.Sprintf("run: %s\ncommand: %s\nlog: %s\n\n%s",
		runID, strings.Join(j.Command, " "), logPath, detail)
}

func (j *Job) notify(ctx context.Context, logger *slog.Logger, subject, body string) bool {
	if j.Notifier == nil {
		return false
	}
	if err := j.Notifier.Notify(ctx, subject, body); err != nil {
		logger.WarnContext(ctx, "ingest_notify_failed", slog.String("error", err.Error()))
		return false
	}
	return true
}

// maxTailLineBytes caps each line of a failure notice
const maxTailLineBytes = 4096

// Tail returns the last n lines of a file. Overlong lines are truncated.
func Tail(path string, n int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	ring := make([]string, 0, n)
	br := bufio.NewReader(f)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			line = strings.TrimRight(line, "\r\n")
			if len(line) > maxTailLineBytes {
				line = line[:maxTailLineBytes] + "..."
			}
			if len(ring) == n {
				ring = ring[1:]
			}
			ring = append(ring, line)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return strings.Join(ring, "\n"), nil
}

// copyLines prefixes each line of r onto w. It reads r to EOF even after a
// write error so the child never blocks on a full pipe.
func copyLines(w io.Writer, r io.Reader, prefix string) error {
	br := bufio.NewReader(r)
	var writeErr error
	for {
		line, err := br.ReadString('\n')
		if line != "" && writeErr == nil {
			if !strings.HasSuffix(line, "\n") {
				line += "\n"
			}
			_, writeErr = io.WriteString(w, prefix+line)
		}
		if err == io.EOF {
			return writeErr
		}
		if err != nil {
			return err
		}
	}
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
