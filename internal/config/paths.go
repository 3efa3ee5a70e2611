package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Paths contains the directories the toolkit writes to
type Paths struct {
	WorkingDir string
	ExportsDir string
	LogsDir    string
	IngestLogs string
}

// GetPaths resolves the configured directories against the working directory.
// Unlike a desktop install, the toolkit always runs from a checkout or a
// container workdir, so cwd-relative paths are what cron and deploy expect.
func GetPaths(cfg *Config) (*Paths, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %v", err)
	}

	abs := func(p string) string {
		if filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		return filepath.Join(wd, p)
	}

	return &Paths{
		WorkingDir: wd,
		ExportsDir: abs(cfg.Export.Dir),
		LogsDir:    abs(filepath.Dir(cfg.Logging.FilePath)),
		IngestLogs: abs(cfg.Ingest.LogDir),
	}, nil
}

// EnsureDirectories creates all required directories if they don't exist
func (p *Paths) EnsureDirectories() error {
	logger := slog.Default()
	for _, dir := range []string{p.ExportsDir, p.LogsDir, p.IngestLogs} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %v", dir, err)
		}
		logger.Debug("Ensured directory exists", slog.String("directory", dir))
	}
	return nil
}
