package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable
const EnvPrefix = "VOLAI"

// Config represents the complete toolkit configuration
type Config struct {
	API       APIConfig       `yaml:"api" envconfig:"API"`
	Retry     RetryConfig     `yaml:"retry" envconfig:"RETRY"`
	Export    ExportConfig    `yaml:"export" envconfig:"EXPORT"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	SMTP      SMTPConfig      `yaml:"smtp" envconfig:"SMTP"`
	Deploy    DeployConfig    `yaml:"deploy" envconfig:"DEPLOY"`
	Ingest    IngestConfig    `yaml:"ingest" envconfig:"INGEST"`
	DevServer DevServerConfig `yaml:"dev_server" envconfig:"DEV"`
	Sheets    SheetsConfig    `yaml:"sheets" envconfig:"SHEETS"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// APIConfig points at the hosted analytics API
type APIConfig struct {
	BaseURL    string `yaml:"base_url" split_words:"true"`
	Token      string `yaml:"token" split_words:"true"`
	Email      string `yaml:"email" split_words:"true"`
	Password   string `yaml:"password" split_words:"true"`
	AdminToken string `yaml:"admin_token" split_words:"true"`
	// LoginAttempts bounds the login retry loop
	LoginAttempts int `yaml:"login_attempts" split_words:"true"`
}

// RetryConfig is the default fetch retry policy, in seconds as the
// launcher scripts expressed it
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" split_words:"true"`
	BaseDelaySeconds int `yaml:"base_delay_seconds" split_words:"true"`
	TimeoutSeconds   int `yaml:"timeout_seconds" split_words:"true"`
}

// ExportConfig controls where and how reports are written
type ExportConfig struct {
	Dir             string `yaml:"dir" split_words:"true"`
	Prefix          string `yaml:"prefix" split_words:"true"`
	Format          string `yaml:"format" split_words:"true"`
	TZOffsetMinutes int    `yaml:"tz_offset_minutes" split_words:"true"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" split_words:"true"`
	Format   string `yaml:"format" split_words:"true"`
	Output   string `yaml:"output" split_words:"true"`
	FilePath string `yaml:"file_path" split_words:"true"`
}

// SMTPConfig is the failure-notification mail account
type SMTPConfig struct {
	Host       string `yaml:"host" split_words:"true"`
	Port       int    `yaml:"port" split_words:"true"`
	User       string `yaml:"user" split_words:"true"`
	Password   string `yaml:"password" split_words:"true"`
	From       string `yaml:"from" split_words:"true"`
	To         string `yaml:"to" split_words:"true"`
	SSL        bool   `yaml:"ssl" split_words:"true"`
	SkipVerify bool   `yaml:"skip_verify" split_words:"true"`
	CABundle   string `yaml:"ca_bundle" split_words:"true"`
	Timeout    int    `yaml:"timeout_seconds" split_words:"true"`
	// SlackWebhookURL is an optional second failure channel
	SlackWebhookURL string `yaml:"slack_webhook_url" split_words:"true"`
}

// DeployConfig drives the migrate-then-boot entrypoint
type DeployConfig struct {
	DatabaseURL      string   `yaml:"database_url" split_words:"true"`
	LocalDatabaseURL string   `yaml:"local_database_url" split_words:"true"`
	Target           string   `yaml:"target" split_words:"true"`
	MigrateCommand   []string `yaml:"migrate_command" split_words:"true"`
	ServerCommand    []string `yaml:"server_command" split_words:"true"`
	Port             int      `yaml:"port" split_words:"true"`
	SecretKey        string   `yaml:"secret_key" split_words:"true"`
	SkipDBPing       bool     `yaml:"skip_db_ping" split_words:"true"`
	ReadyTimeout     int      `yaml:"ready_timeout_seconds" split_words:"true"`
}

// IngestConfig describes the macro-data ingestion job
type IngestConfig struct {
	Command []string `yaml:"command" split_words:"true"`
	LogDir  string   `yaml:"log_dir" split_words:"true"`
	Name    string   `yaml:"name" split_words:"true"`
}

// DevServerConfig configures the local stand-in for the hosted API
type DevServerConfig struct {
	Port       int     `yaml:"port" split_words:"true"`
	Email      string  `yaml:"email" split_words:"true"`
	Password   string  `yaml:"password" split_words:"true"`
	SecretKey  string  `yaml:"secret_key" split_words:"true"`
	AdminToken string  `yaml:"admin_token" split_words:"true"`
	RateLimit  float64 `yaml:"rate_limit_rps" split_words:"true"`
	RateBurst  int     `yaml:"rate_limit_burst" split_words:"true"`
	SampleSize int     `yaml:"sample_size" split_words:"true"`
}

// SheetsConfig enables the Google Sheets export fallback
type SheetsConfig struct {
	CredentialsFile string `yaml:"credentials_file" split_words:"true"`
	SpreadsheetID   string `yaml:"spreadsheet_id" split_words:"true"`
}

// TelemetryConfig toggles OpenTelemetry
type TelemetryConfig struct {
	Enabled        bool    `yaml:"enabled" split_words:"true"`
	TraceExporter  string  `yaml:"trace_exporter" split_words:"true"`
	MetricExporter string  `yaml:"metric_exporter" split_words:"true"`
	SampleRatio    float64 `yaml:"sample_ratio" split_words:"true"`
	Environment    string  `yaml:"environment" split_words:"true"`
}

// Load starts from defaults, then overlays the optional YAML file and
// environment variables. Precedence is VOLAI_* env > legacy unprefixed env >
// file > default. Values set explicitly to zero, such as a UTC offset, are kept.
func Load() (*Config, error) {
	cfg := Default()

	configFile := getConfigFilePath()
	if _, err := os.Stat(configFile); err == nil {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := cfg.applyLegacyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("failed to load legacy env: %w", err)
	}

	clearEmptyEnv(EnvPrefix + "_")
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Default returns a configuration holding only defaults
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// clearEmptyEnv unsets prefixed variables exported with an empty value.
// envconfig would otherwise try to parse "" into numeric fields.
func clearEmptyEnv(prefix string) {
	for _, kv := range os.Environ() {
		name, value, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, prefix) && value == "" {
			os.Unsetenv(name)
		}
	}
}

// loadFromFile loads configuration from a YAML file into cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// getConfigFilePath returns VOLAI_CONFIG or volaiops.yaml in the working directory
func getConfigFilePath() string {
	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		return path
	}
	return "volaiops.yaml"
}

// applyLegacyEnv maps the variable names the deploy and cron scripts have
// always exported onto their config fields
func (c *Config) applyLegacyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst ...*string) {
		if v, ok := lookup(name); ok && v != "" {
			for _, d := range dst {
				*d = v
			}
		}
	}
	num := func(name string, dst ...*int) error {
		v, ok := lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		for _, d := range dst {
			*d = n
		}
		return nil
	}
	flag := func(name string) (bool, bool) {
		v, ok := lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			return false, false
		}
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			return true, true
		}
		return false, true
	}

	str("VOLAI_EMAIL", &c.API.Email)
	str("VOLAI_PASSWORD", &c.API.Password)
	str("ADMIN_TOKEN", &c.API.AdminToken, &c.DevServer.AdminToken)
	str("DATABASE_URL", &c.Deploy.DatabaseURL)
	str("LOCAL_DATABASE_URL", &c.Deploy.LocalDatabaseURL)
	str("VOLAI_DB_TARGET", &c.Deploy.Target)
	str("SECRET_KEY", &c.Deploy.SecretKey, &c.DevServer.SecretKey)
	str("SMTP_HOST", &c.SMTP.Host)
	str("SMTP_USER", &c.SMTP.User)
	str("SMTP_PASS", &c.SMTP.Password)
	str("SMTP_FROM", &c.SMTP.From)
	str("SMTP_TO", &c.SMTP.To)
	str("SMTP_CA_BUNDLE", &c.SMTP.CABundle)
	str("SLACK_WEBHOOK_URL", &c.SMTP.SlackWebhookURL)
	if v, ok := flag("SMTP_SSL"); ok {
		c.SMTP.SSL = v
	}
	if v, ok := flag("SMTP_SSL_VERIFY"); ok {
		c.SMTP.SkipVerify = !v
	}
	if err := num("SMTP_PORT", &c.SMTP.Port); err != nil {
		return err
	}
	return num("PORT", &c.Deploy.Port, &c.DevServer.Port)
}

func (c *Config) applyDefaults() {
	setDefault(&c.API.LoginAttempts, 3)

	setDefault(&c.Retry.MaxAttempts, 3)
	setDefault(&c.Retry.BaseDelaySeconds, 2)
	setDefault(&c.Retry.TimeoutSeconds, 30)

	setDefault(&c.Export.Dir, "exports")
	setDefault(&c.Export.Prefix, "volai")
	setDefault(&c.Export.Format, "xlsx")
	setDefault(&c.Export.TZOffsetMinutes, 540)

	setDefault(&c.Logging.Level, "info")
	setDefault(&c.Logging.Format, "json")
	setDefault(&c.Logging.Output, "console")
	setDefault(&c.Logging.FilePath, "logs/volaiops.log")

	setDefault(&c.SMTP.Port, 587)
	setDefault(&c.SMTP.Timeout, 20)

	setDefault(&c.Deploy.Target, "remote")
	setDefault(&c.Deploy.Port, 8000)
	setDefault(&c.Deploy.ReadyTimeout, 60)
	if len(c.Deploy.MigrateCommand) == 0 {
		c.Deploy.MigrateCommand = []string{"alembic", "upgrade", "head"}
	}
	if len(c.Deploy.ServerCommand) == 0 {
		c.Deploy.ServerCommand = []string{"uvicorn", "main_api:app", "--host", "0.0.0.0", "--port", "{port}"}
	}

	if len(c.Ingest.Command) == 0 {
		c.Ingest.Command = []string{"python", "scripts/ingest_macro.py"}
	}
	setDefault(&c.Ingest.LogDir, "logs")
	setDefault(&c.Ingest.Name, "macro")

	setDefault(&c.DevServer.Port, 8000)
	setDefault(&c.DevServer.Email, "test@example.com")
	setDefault(&c.DevServer.Password, "test1234")
	setDefault(&c.DevServer.SecretKey, "dev-secret-key")
	setDefault(&c.DevServer.AdminToken, "dev-admin-token")
	setDefault(&c.DevServer.RateLimit, 50.0)
	setDefault(&c.DevServer.RateBurst, 20)
	setDefault(&c.DevServer.SampleSize, 500)

	setDefault(&c.Telemetry.TraceExporter, "none")
	setDefault(&c.Telemetry.MetricExporter, "prometheus")
	setDefault(&c.Telemetry.SampleRatio, 1.0)
	setDefault(&c.Telemetry.Environment, "development")
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.API.BaseURL != "" {
		u, err := url.Parse(c.API.BaseURL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("invalid API base URL %q", c.API.BaseURL)
		}
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelaySeconds < 0 {
		return fmt.Errorf("retry base delay must not be negative")
	}
	switch strings.ToLower(c.Export.Format) {
	case "xlsx", "csv":
	default:
		return fmt.Errorf("invalid export format %q (want xlsx or csv)", c.Export.Format)
	}
	switch strings.ToLower(c.Deploy.Target) {
	case "local", "remote":
	default:
		return fmt.Errorf("invalid database target %q (want local or remote)", c.Deploy.Target)
	}
	if c.Deploy.Port <= 0 || c.Deploy.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Deploy.Port)
	}
	if c.DevServer.Port <= 0 || c.DevServer.Port > 65535 {
		return fmt.Errorf("invalid dev server port: %d", c.DevServer.Port)
	}
	return nil
}

// RetryBaseDelay returns the base delay as a duration
func (r RetryConfig) RetryBaseDelay() time.Duration {
	return time.Duration(r.BaseDelaySeconds) * time.Second
}

// RetryTimeout returns the per-attempt timeout as a duration
func (r RetryConfig) RetryTimeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// Complete reports whether enough SMTP settings are present to send mail
func (s SMTPConfig) Complete() bool {
	return s.Host != "" && s.User != "" && s.Password != "" && strings.TrimSpace(s.To) != ""
}

// Enabled reports whether the Sheets fallback is configured
func (s SheetsConfig) Enabled() bool {
	return s.CredentialsFile != "" && s.SpreadsheetID != ""
}
