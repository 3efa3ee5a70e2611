package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateEnv points Load at a non-existent file and unsets variables that a
// developer shell or CI runner might carry
func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("VOLAI_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	for _, name := range []string{
		"PORT", "DATABASE_URL", "LOCAL_DATABASE_URL", "VOLAI_DB_TARGET",
		"ADMIN_TOKEN", "SECRET_KEY", "VOLAI_EMAIL", "VOLAI_PASSWORD",
		"SMTP_HOST", "SMTP_PORT", "SMTP_USER", "SMTP_PASS", "SMTP_TO", "SMTP_SSL", "SMTP_SSL_VERIFY",
		"VOLAI_API_BASE_URL", "VOLAI_API_TOKEN", "VOLAI_RETRY_MAX_ATTEMPTS", "VOLAI_RETRY_BASE_DELAY_SECONDS",
		"VOLAI_EXPORT_FORMAT", "VOLAI_EXPORT_TZ_OFFSET_MINUTES",
	} {
		unsetEnv(t, name)
	}
}

func unsetEnv(t *testing.T, name string) {
	t.Helper()
	prev, ok := os.LookupEnv(name)
	require.NoError(t, os.Unsetenv(name))
	t.Cleanup(func() {
		if ok {
			os.Setenv(name, prev)
		} else {
			os.Unsetenv(name)
		}
	})
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		file        string
		wantErr     bool
		validateCfg func(*testing.T, *Config)
	}{
		{
			name: "defaults only",
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 3, cfg.Retry.MaxAttempts)
				assert.Equal(t, 2*time.Second, cfg.Retry.RetryBaseDelay())
				assert.Equal(t, 30*time.Second, cfg.Retry.RetryTimeout())
				assert.Equal(t, "exports", cfg.Export.Dir)
				assert.Equal(t, "xlsx", cfg.Export.Format)
				assert.Equal(t, 540, cfg.Export.TZOffsetMinutes)
				assert.Equal(t, "remote", cfg.Deploy.Target)
				assert.Equal(t, []string{"alembic", "upgrade", "head"}, cfg.Deploy.MigrateCommand)
				assert.Equal(t, 587, cfg.SMTP.Port)
				assert.Equal(t, "info", cfg.Logging.Level)
			},
		},
		{
			name: "prefixed env overrides defaults",
			env: map[string]string{
				"VOLAI_API_BASE_URL":       "https://api.example.com",
				"VOLAI_API_TOKEN":          "tok",
				"VOLAI_RETRY_MAX_ATTEMPTS": "5",
				"VOLAI_EXPORT_FORMAT":      "csv",
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "https://api.example.com", cfg.API.BaseURL)
				assert.Equal(t, "tok", cfg.API.Token)
				assert.Equal(t, 5, cfg.Retry.MaxAttempts)
				assert.Equal(t, "csv", cfg.Export.Format)
			},
		},
		{
			name: "legacy names are honoured",
			env: map[string]string{
				"VOLAI_EMAIL":     "ops@example.com",
				"DATABASE_URL":    "postgresql+psycopg://u:p@db/volai",
				"VOLAI_DB_TARGET": "local",
				"PORT":            "9001",
				"SMTP_SSL_VERIFY": "0",
				"SECRET_KEY":      "s3cret",
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "ops@example.com", cfg.API.Email)
				assert.Equal(t, "postgresql+psycopg://u:p@db/volai", cfg.Deploy.DatabaseURL)
				assert.Equal(t, "local", cfg.Deploy.Target)
				assert.Equal(t, 9001, cfg.Deploy.Port)
				assert.Equal(t, 9001, cfg.DevServer.Port)
				assert.True(t, cfg.SMTP.SkipVerify)
				assert.Equal(t, "s3cret", cfg.DevServer.SecretKey)
			},
		},
		{
			name: "file values sit between env and defaults",
			file: "retry:\n  max_attempts: 7\nexport:\n  dir: out\n  prefix: vx\n",
			env:  map[string]string{"VOLAI_RETRY_MAX_ATTEMPTS": "4"},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 4, cfg.Retry.MaxAttempts)
				assert.Equal(t, "out", cfg.Export.Dir)
				assert.Equal(t, "vx", cfg.Export.Prefix)
				assert.Equal(t, 2, cfg.Retry.BaseDelaySeconds)
			},
		},
		{
			name: "empty prefixed variables are ignored",
			env: map[string]string{
				"VOLAI_RETRY_MAX_ATTEMPTS":       "",
				"VOLAI_EXPORT_TZ_OFFSET_MINUTES": "",
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 3, cfg.Retry.MaxAttempts)
				assert.Equal(t, 540, cfg.Export.TZOffsetMinutes)
			},
		},
		{
			name: "explicit zero in file is kept",
			file: "retry:\n  base_delay_seconds: 0\nexport:\n  tz_offset_minutes: 0\n",
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 0, cfg.Export.TZOffsetMinutes)
				assert.Equal(t, 0, cfg.Retry.BaseDelaySeconds)
				assert.Equal(t, 3, cfg.Retry.MaxAttempts)
			},
		},
		{
			name: "explicit zero offset from env is kept",
			file: "export:\n  tz_offset_minutes: 60\n",
			env:  map[string]string{"VOLAI_EXPORT_TZ_OFFSET_MINUTES": "0"},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 0, cfg.Export.TZOffsetMinutes)
			},
		},
		{
			name:    "invalid base url",
			env:     map[string]string{"VOLAI_API_BASE_URL": "ftp//nope"},
			wantErr: true,
		},
		{
			name:    "invalid export format",
			env:     map[string]string{"VOLAI_EXPORT_FORMAT": "pdf"},
			wantErr: true,
		},
		{
			name:    "malformed legacy port",
			env:     map[string]string{"PORT": "eighty"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateEnv(t)
			if tt.file != "" {
				path := filepath.Join(t.TempDir(), "volaiops.yaml")
				require.NoError(t, os.WriteFile(path, []byte(tt.file), 0644))
				t.Setenv("VOLAI_CONFIG", path)
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.validateCfg != nil {
				tt.validateCfg(t, cfg)
			}
		})
	}
}

func TestSMTPConfig_Complete(t *testing.T) {
	s := SMTPConfig{Host: "smtp.example.com", User: "u", Password: "p"}
	assert.False(t, s.Complete())
	s.To = "a@example.com"
	assert.True(t, s.Complete())
}

func TestGetPaths(t *testing.T) {
	cfg := Default()
	cfg.Export.Dir = t.TempDir()

	paths, err := GetPaths(cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.Export.Dir, paths.ExportsDir)
	assert.True(t, filepath.IsAbs(paths.LogsDir))

	cfg.Logging.FilePath = filepath.Join(t.TempDir(), "nested", "volaiops.log")
	cfg.Ingest.LogDir = filepath.Join(t.TempDir(), "ingest")
	paths, err = GetPaths(cfg)
	require.NoError(t, err)
	require.NoError(t, paths.EnsureDirectories())
	assert.DirExists(t, paths.LogsDir)
	assert.DirExists(t, paths.IngestLogs)
}
