package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"volaiops/internal/app"
	"volaiops/internal/client"
	"volaiops/internal/deploy"
	"volaiops/internal/exporter"
	"volaiops/internal/period"
	"volaiops/internal/pipeline"
	"volaiops/pkg/contracts/domain"
)

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return usageError{fmt.Sprintf("%s: %v", fs.Name(), err)}
	}
	if fs.NArg() > 0 {
		return usageError{fmt.Sprintf("%s: unexpected argument %q", fs.Name(), fs.Arg(0))}
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// credentials reads -email and -password with config fallbacks
func credentials(fs *flag.FlagSet, a *app.Application) (email, password *string) {
	email = fs.String("email", a.Config.API.Email, "login email")
	password = fs.String("password", a.Config.API.Password, "login password")
	return email, password
}

// authenticate logs c in unless a token is already configured
func authenticate(ctx context.Context, a *app.Application, c *client.Client, email, password string) error {
	if a.Config.API.Token != "" {
		return nil
	}
	if email == "" || password == "" {
		return usageError{"no API token configured and no credentials given"}
	}
	_, err := c.Login(ctx, email, password)
	return err
}

func cmdLogin(ctx context.Context, a *app.Application, args []string, stdout io.Writer) error {
	fs := newFlagSet("login")
	email, password := credentials(fs, a)
	if err := parse(fs, args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return usageError{"login: -email and -password are required"}
	}
	c, err := a.Client()
	if err != nil {
		return err
	}
	token, err := c.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, token)
	return nil
}

func cmdMe(ctx context.Context, a *app.Application, args []string, stdout io.Writer) error {
	fs := newFlagSet("me")
	email, password := credentials(fs, a)
	if err := parse(fs, args); err != nil {
		return err
	}
	c, err := a.Client()
	if err != nil {
		return err
	}
	if err := authenticate(ctx, a, c, *email, *password); err != nil {
		return err
	}
	profile, err := c.Me(ctx)
	if err != nil {
		return err
	}
	return printJSON(stdout, profile.Raw)
}

func cmdHealth(ctx context.Context, a *app.Application, args []string, stdout io.Writer) error {
	if err := parse(newFlagSet("health"), args); err != nil {
		return err
	}
	c, err := a.Client()
	if err != nil {
		return err
	}
	status, err := c.Health(ctx)
	if err != nil {
		return err
	}
	return printJSON(stdout, status)
}

func cmdRefreshOpenAPI(ctx context.Context, a *app.Application, args []string, stdout io.Writer) error {
	fs := newFlagSet("refresh-openapi")
	token := fs.String("admin-token", a.Config.API.AdminToken, "value for X-Admin-Token")
	if err := parse(fs, args); err != nil {
		return err
	}
	c, err := a.Client()
	if err != nil {
		return err
	}
	out, err := c.RefreshOpenAPI(ctx, *token)
	if err != nil {
		return err
	}
	return printJSON(stdout, out)
}

// Report scenarios
const (
	scenarioSingle   = "single"
	scenarioAllAxes  = "all-axes"
	scenarioBands    = "bands"
	defaultBandsFlag = "morning=09:00-15:00,night=21:00-05:00"
)

func cmdReport(ctx context.Context, a *app.Application, args []string, stdout io.Writer) error {
	fs := newFlagSet("report")
	scenario := fs.String("scenario", scenarioSingle, "single, all-axes (last week, one sheet per axis) or bands (one sheet per band)")
	axisFlag := fs.String("axis", string(domain.AxisOwner), "grouping axis: owner, sector or size")
	owner := fs.String("owner", "", "restrict to one owner")
	periodFlag := fs.String("period", "yesterday", "today, yesterday, last-7-days or last-week")
	startFlag := fs.String("start", "", "explicit start date YYYY-MM-DD (with -end, overrides -period)")
	endFlag := fs.String("end", "", "explicit end date YYYY-MM-DD")
	timeStart := fs.String("time-start", "", "intraday band start HH:MM")
	timeEnd := fs.String("time-end", "", "intraday band end HH:MM")
	tzOffset := fs.Int("tz-offset", a.Config.Export.TZOffsetMinutes, "reporting timezone offset in minutes")
	format := fs.String("format", a.Config.Export.Format, "xlsx or csv")
	out := fs.String("out", "", "output path (derived from the query when empty)")
	bands := fs.String("bands", defaultBandsFlag, "label=HH:MM-HH:MM list for -scenario bands")
	attempts := fs.Int("attempts", 0, "fetch attempts (config default when 0)")
	email, password := credentials(fs, a)
	if err := parse(fs, args); err != nil {
		return err
	}

	axis, err := domain.ParseAxis(*axisFlag)
	if err != nil {
		return usageError{err.Error()}
	}
	shortcut, err := period.ParseShortcut(*periodFlag)
	if err != nil {
		return usageError{err.Error()}
	}
	fmtKind, err := exporter.ParseFormat(*format)
	if err != nil {
		return usageError{err.Error()}
	}
	start, end, err := explicitDates(*startFlag, *endFlag)
	if err != nil {
		return usageError{err.Error()}
	}

	c, err := a.Client()
	if err != nil {
		return err
	}
	if *email != "" && *password != "" {
		if err := authenticate(ctx, a, c, *email, *password); err != nil {
			return err
		}
	}
	runner, err := a.Runner(ctx, c)
	if err != nil {
		return err
	}
	runner.Format = fmtKind
	runner.TZOffsetMinutes = *tzOffset
	if *attempts > 0 {
		runner.Policy.MaxAttempts = *attempts
	}

	var results []pipeline.Result
	switch *scenario {
	case scenarioSingle:
		res, err := runner.Run(ctx, pipeline.Request{
			Axis:      axis,
			Owner:     *owner,
			Period:    shortcut,
			Start:     start,
			End:       end,
			TimeStart: *timeStart,
			TimeEnd:   *timeEnd,
			Path:      *out,
		})
		if err != nil {
			return err
		}
		results = append(results, res)
	case scenarioAllAxes:
		results, err = runner.LastWeekAllAxes(ctx, *owner)
		if err != nil {
			return err
		}
	case scenarioBands:
		parsed, err := parseBands(*bands)
		if err != nil {
			return usageError{err.Error()}
		}
		results, err = runner.MorningNight(ctx, axis, *owner, shortcut, parsed...)
		if err != nil {
			return err
		}
	default:
		return usageError{fmt.Sprintf("report: unknown scenario %q", *scenario)}
	}

	for _, res := range results {
		fmt.Fprintf(stdout, "%s\t%d records\t%s..%s\n",
			res.Path, res.Records, res.Query.StartString(), res.Query.EndString())
	}
	return nil
}

func explicitDates(start, end string) (*time.Time, *time.Time, error) {
	var s, e *time.Time
	if start != "" {
		t, err := period.ParseDate(start)
		if err != nil {
			return nil, nil, err
		}
		s = &t
	}
	if end != "" {
		t, err := period.ParseDate(end)
		if err != nil {
			return nil, nil, err
		}
		e = &t
	}
	return s, e, nil
}

// parseBands reads "label=HH:MM-HH:MM,..."
func parseBands(list string) ([]pipeline.Band, error) {
	var bands []pipeline.Band
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		label, window, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("band %q: want label=HH:MM-HH:MM", part)
		}
		from, to, ok := strings.Cut(window, "-")
		if !ok {
			return nil, fmt.Errorf("band %q: want label=HH:MM-HH:MM", part)
		}
		for _, clock := range []string{from, to} {
			if _, err := domain.ParseClock(clock); err != nil {
				return nil, fmt.Errorf("band %q: %w", part, err)
			}
		}
		bands = append(bands, pipeline.Band{Label: strings.TrimSpace(label), Start: from, End: to})
	}
	if len(bands) == 0 {
		return nil, fmt.Errorf("no bands given")
	}
	return bands, nil
}

func cmdIngest(ctx context.Context, a *app.Application, args []string, stdout io.Writer) error {
	fs := newFlagSet("ingest")
	name := fs.String("name", a.Config.Ingest.Name, "job name used in notices")
	logDir := fs.String("log-dir", a.Config.Ingest.LogDir, "directory for run logs")
	quiet := fs.Bool("quiet", false, "do not echo child output")
	if err := parse(fs, args); err != nil {
		return err
	}
	job := a.IngestJob()
	job.Name = *name
	job.LogDir = *logDir
	if !*quiet {
		job.Echo = stdout
	}
	res, err := job.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "ingest %s ok in %s (log: %s)\n", job.Name, res.Duration.Round(time.Millisecond), res.LogPath)
	return nil
}

func cmdDeploy(ctx context.Context, a *app.Application, args []string, stdout io.Writer) error {
	fs := newFlagSet("deploy")
	target := fs.String("target", a.Config.Deploy.Target, "database target: local or remote")
	port := fs.Int("port", a.Config.Deploy.Port, "server port")
	skipPing := fs.Bool("skip-db-ping", a.Config.Deploy.SkipDBPing, "skip the database connectivity check")
	if err := parse(fs, args); err != nil {
		return err
	}
	a.Config.Deploy.Target = *target
	a.Config.Deploy.Port = *port
	a.Config.Deploy.SkipDBPing = *skipPing
	e, err := a.Entrypoint()
	if err != nil {
		return err
	}
	e.Stdout = stdout
	return e.Run(ctx)
}

func cmdDBPing(ctx context.Context, a *app.Application, args []string, stdout io.Writer) error {
	fs := newFlagSet("dbping")
	target := fs.String("target", a.Config.Deploy.Target, "database target: local or remote")
	if err := parse(fs, args); err != nil {
		return err
	}
	cfg := a.Config.Deploy
	cfg.Target = *target
	dbURL, err := deploy.ResolveDatabaseURL(cfg)
	if err != nil {
		return err
	}
	info, err := deploy.PingDatabase(ctx, dbURL)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s\tuser=%s db=%s now=%s\n",
		deploy.RedactURL(dbURL), info.User, info.Database, info.Now.Format(time.RFC3339))
	return nil
}
