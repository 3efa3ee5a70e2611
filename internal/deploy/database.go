package deploy

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"volaiops/internal/config"
)

// Deploy targets for the database URL switch
const (
	TargetLocal  = "local"
	TargetRemote = "remote"
)

// ResolveDatabaseURL picks the local or remote URL by target and normalises
// it for a plain Postgres driver
func ResolveDatabaseURL(cfg config.DeployConfig) (string, error) {
	target := strings.ToLower(strings.TrimSpace(cfg.Target))
	var raw string
	switch target {
	case TargetLocal:
		raw = cfg.LocalDatabaseURL
		if raw == "" {
			return "", fmt.Errorf("target %q selected but LOCAL_DATABASE_URL is empty", target)
		}
	case TargetRemote, "":
		raw = cfg.DatabaseURL
		if raw == "" {
			return "", fmt.Errorf("DATABASE_URL is empty")
		}
	default:
		return "", fmt.Errorf("unknown database target %q (want local or remote)", cfg.Target)
	}
	return NormalizeDatabaseURL(raw), nil
}

// NormalizeDatabaseURL drops a SQLAlchemy driver suffix such as
// postgresql+psycopg2:// from the scheme
func NormalizeDatabaseURL(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	if base, _, found := strings.Cut(scheme, "+"); found {
		scheme = base
	}
	return scheme + "://" + rest
}

// RedactURL hides the password of a connection URL for logging
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}

// DBInfo is what the connectivity probe reports
type DBInfo struct {
	User     string
	Database string
	Now      time.Time
}

// PingDatabase connects and reads the session user, database and clock
func PingDatabase(ctx context.Context, databaseURL string) (*DBInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", RedactURL(databaseURL), err)
	}
	defer conn.Close(context.Background())

	var info DBInfo
	err = conn.QueryRow(ctx, "select current_user, current_database(), now()").
		Scan(&info.User, &info.Database, &info.Now)
	if err != nil {
		return nil, fmt.Errorf("probe query: %w", err)
	}
	return &info, nil
}
