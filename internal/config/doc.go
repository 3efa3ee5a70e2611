// Package config loads toolkit configuration.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//  1. VOLAI_* environment variables (highest priority)
//  2. Unprefixed variables the deploy and cron scripts export
//  3. A YAML file (VOLAI_CONFIG, default volaiops.yaml)
//  4. Default values (lowest priority)
//
// # Environment Variables
//
// Prefixed variables follow VOLAI_<SECTION>_<FIELD>:
//
//	VOLAI_API_BASE_URL=https://api.example.com
//	VOLAI_API_TOKEN=...
//	VOLAI_RETRY_MAX_ATTEMPTS=3
//	VOLAI_EXPORT_DIR=exports
//	VOLAI_LOGGING_LEVEL=debug
//
// Recognised unprefixed names:
//
//	VOLAI_EMAIL, VOLAI_PASSWORD, ADMIN_TOKEN, SECRET_KEY, PORT
//	DATABASE_URL, LOCAL_DATABASE_URL, VOLAI_DB_TARGET
//	SMTP_HOST, SMTP_PORT, SMTP_USER, SMTP_PASS, SMTP_FROM, SMTP_TO
//	SMTP_SSL, SMTP_SSL_VERIFY, SMTP_CA_BUNDLE, SLACK_WEBHOOK_URL
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	paths, err := config.GetPaths(cfg)
//	if err := paths.EnsureDirectories(); err != nil {
//	    log.Fatal(err)
//	}
package config
