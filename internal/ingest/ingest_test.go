package ingest

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "volaiops/internal/errors"
	"volaiops/internal/shared/testutil"
)

type captureNotifier struct {
	subject, body string
	calls         int
}

func (c *captureNotifier) Name() string { return "capture" }
func (c *captureNotifier) Notify(_ context.Context, subject, body string) error {
	c.calls++
	c.subject, c.body = subject, body
	return nil
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
}

func fixedNow() time.Time { return time.Date(2025, 8, 20, 6, 30, 0, 0, time.UTC) }

func TestJob_Success(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	n := &captureNotifier{}
	var echo bytes.Buffer
	job := &Job{
		Name:     "macro",
		Command:  []string{"sh", "-c", "echo fetched 12 series; echo slow source >&2"},
		LogDir:   dir,
		Notifier: n,
		Echo:     &echo,
		Now:      fixedNow,
	}

	res, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, filepath.Join(dir, "ingest_20250820_063000.log"), res.LogPath)
	assert.Zero(t, n.calls)

	data, err := os.ReadFile(res.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "fetched 12 series")
	assert.Contains(t, string(data), "[stderr] slow source")
	assert.Contains(t, string(data), "# exit 0")
	assert.Contains(t, echo.String(), "fetched 12 series")
}

func TestJob_FailureNotifiesWithTail(t *testing.T) {
	requireShell(t)
	n := &captureNotifier{}
	logger, logs := testutil.NewTestLogger(t)
	job := &Job{
		Logger:    logger,
		Name:      "macro",
		Command:   []string{"sh", "-c", "for i in 1 2 3 4 5; do echo line$i; done; echo FRED timeout >&2; exit 3"},
		LogDir:    t.TempDir(),
		Notifier:  n,
		Now:       fixedNow,
		TailLines: 3,
	}

	res, err := job.Run(context.Background())
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.Code)
	assert.True(t, exitErr.Notified)
	assert.Equal(t, 3, res.ExitCode)

	assert.Equal(t, 1, n.calls)
	testutil.AssertLogContains(t, logs, slog.LevelError, "ingest_failed")
	testutil.AssertLogAttr(t, logs, "component", "ingest")
	assert.Contains(t, n.subject, "exit 3")
	assert.Contains(t, n.body, res.RunID)
	assert.Contains(t, n.body, res.LogPath)
	assert.NotContains(t, n.body, "line1")
}

func TestJob_StartFailure(t *testing.T) {
	n := &captureNotifier{}
	job := &Job{
		Name:     "macro",
		Command:  []string{filepath.Join(t.TempDir(), "missing-binary")},
		LogDir:   t.TempDir(),
		Notifier: n,
		Now:      fixedNow,
	}
	_, err := job.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apierrors.ErrProcessStartFailed)
	assert.Equal(t, 1, n.calls)
	assert.Contains(t, n.subject, "could not start")
}

func TestJob_EmptyCommand(t *testing.T) {
	_, err := (&Job{LogDir: t.TempDir()}).Run(context.Background())
	assert.ErrorIs(t, err, apierrors.ErrProcessStartFailed)
}

func TestTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.log")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\nc\nd\n"), 0644))

	got, err := Tail(path, 2)
	require.NoError(t, err)
	assert.Equal(t, "c\nd", got)

	got, err = Tail(path, 10)
	require.NoError(t, err)
	assert.Equal(t, 4, len(strings.Split(got, "\n")))
}

func TestJob_LongOutputLine(t *testing.T) {
	requireShell(t)
	n := &captureNotifier{}
	job := &Job{
		Name:     "macro",
		Command:  []string{"sh", "-c", "head -c 2097152 /dev/zero | tr '\\0' x; echo; echo after long line; exit 4"},
		LogDir:   t.TempDir(),
		Notifier: n,
		Now:      fixedNow,
	}

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := job.Run(context.Background())
		done <- outcome{res, err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("ingest run did not finish")
	}

	var exitErr *ExitError
	require.ErrorAs(t, out.err, &exitErr)
	assert.Equal(t, 4, exitErr.Code)
	assert.Equal(t, 1, n.calls)
	assert.Contains(t, n.body, "after long line")
	assert.Less(t, len(n.body), 64*1024)

	info, err := os.Stat(out.res.LogPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(2097152))
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, os.ErrClosed }

func TestCopyLines_DrainsAfterWriteError(t *testing.T) {
	r := strings.NewReader(strings.Repeat("output line\n", 10000))
	err := copyLines(brokenWriter{}, r, "")
	assert.ErrorIs(t, err, os.ErrClosed)
	assert.Zero(t, r.Len())
}

func TestCopyLines_UnterminatedLastLine(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, copyLines(&buf, strings.NewReader("a\nb"), "> "))
	assert.Equal(t, "> a\n> b\n", buf.String())
}
