// Package quarryctl implements the quarry command line: a thin front end
// over the client library for running ad-hoc queries from a shell.
package quarryctl

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/quarrydb/quarry"
	"github.com/quarrydb/quarry/internal/observability"
)

// ConnectFunc opens a connection from resolved configuration. Injected so
// tests run against a fake gateway.
type ConnectFunc func(ctx context.Context, cfg quarry.Config) (*quarry.Connection, error)

type Options struct {
	Lookup  quarry.LookupFunc
	Connect ConnectFunc
	Stdout  io.Writer
	Stderr  io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}
	if defaults.Connect == nil {
		defaults.Connect = quarry.Open
	}

	fs := flag.NewFlagSet("quarry", flag.ContinueOnError)
	fs.SetOutput(stderr)

	database := fs.String("database", "", "database to resolve unqualified table names against")
	workgroup := fs.String("workgroup", "", "workgroup to submit under")
	format := fs.String("format", "", "result format: api, csv, or parquet")
	params := fs.String("params", "", "query parameters as a JSON object, bound to :name placeholders")
	timeout := fs.Duration("timeout", 0, "abort the query after this long (e.g. 5m)")
	verbose := fs.Bool("verbose", false, "log submission and polling progress to stderr")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	cfg, err := quarry.Load(lookupOr(defaults.Lookup))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "configuration: %v\n", err)
		return 2
	}
	if *database != "" {
		cfg.Database = *database
	}
	if *workgroup != "" {
		cfg.Workgroup = *workgroup
	}
	if *format != "" {
		cfg.ResultFormat = quarry.ResultFormat(strings.ToLower(*format))
	}
	if *timeout > 0 {
		cfg.QueryTimeout = *timeout
	}
	if *verbose {
		cfg.Logger = observability.NewLogger(stderr, slog.LevelDebug, false)
	}
	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintf(stderr, "configuration: %v\n", err)
		return 2
	}

	switch command := strings.TrimSpace(fs.Arg(0)); command {
	case "query":
		if fs.NArg() < 2 {
			_, _ = fmt.Fprintln(stderr, "query requires a SQL argument")
			return 2
		}
		return runQuery(ctx, cfg, defaults.Connect, fs.Arg(1), *params, stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}
}

func runQuery(ctx context.Context, cfg quarry.Config, connect ConnectFunc, sql, rawParams string, stdout, stderr io.Writer) int {
	params, err := parseParams(rawParams)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "params: %v\n", err)
		return 2
	}

	conn, err := connect(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "connect: %v\n", err)
		return 1
	}
	defer func() { _ = conn.Close() }()

	cur := conn.Cursor()
	defer func() { _ = cur.Close() }()

	started := time.Now()
	if err := cur.Execute(ctx, sql, params); err != nil {
		_, _ = fmt.Fprintf(stderr, "query failed: %v\n", err)
		return 1
	}

	names := make([]string, 0, len(cur.Description()))
	for _, col := range cur.Description() {
		names = append(names, col.Name)
	}

	encoder := json.NewEncoder(stdout)
	count := 0
	for {
		row, err := cur.FetchOne(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "fetch: %v\n", err)
			return 1
		}
		record := make(map[string]any, len(names))
		for i, name := range names {
			record[name] = row[i]
		}
		if err := encoder.Encode(record); err != nil {
			_, _ = fmt.Fprintf(stderr, "encode: %v\n", err)
			return 1
		}
		count++
	}

	_, _ = fmt.Fprintf(stderr, "%d row(s) in %s (query id %s)\n",
		count, time.Since(started).Round(time.Millisecond), cur.QueryID())
	return 0
}

func parseParams(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("not a JSON object: %w", err)
	}
	return params, nil
}

func lookupOr(lookup quarry.LookupFunc) quarry.LookupFunc {
	if lookup != nil {
		return lookup
	}
	return func(string) (string, bool) { return "", false }
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: quarry [flags] query <sql>")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "flags:")
	_, _ = fmt.Fprintln(w, "  -database   override QUARRY_DATABASE")
	_, _ = fmt.Fprintln(w, "  -workgroup  override QUARRY_WORKGROUP")
	_, _ = fmt.Fprintln(w, "  -format     result format: api, csv, or parquet")
	_, _ = fmt.Fprintln(w, "  -params     JSON object bound to :name placeholders")
	_, _ = fmt.Fprintln(w, "  -timeout    abort the query after this long")
	_, _ = fmt.Fprintln(w, "  -verbose    log submission and polling progress")
}
