// Package quarry is a client for an asynchronous cloud SQL query service.
// Queries are submitted to the service, executed out-of-process, and
// materialized to object storage; the client bridges that protocol onto a
// synchronous cursor with row-at-a-time and block fetches, plus an
// asynchronous variant for callers that manage their own concurrency.
package quarry

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/quarrydb/quarry/gateway"
	"github.com/quarrydb/quarry/gateway/athena"
	"github.com/quarrydb/quarry/internal/poll"
	"github.com/quarrydb/quarry/internal/results"
	"github.com/quarrydb/quarry/internal/retry"
	"github.com/quarrydb/quarry/qerror"
)

// Connection is a factory for cursors sharing one gateway and one
// configuration. Connections are safe for concurrent use; the cursors they
// produce are single-owner.
type Connection struct {
	cfg    Config
	gw     gateway.Gateway
	logger *slog.Logger

	mu      sync.Mutex
	closed  bool
	closers []interface{ Close() error }
}

// Open builds a Connection backed by the production gateway.
func Open(ctx context.Context, cfg Config) (*Connection, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	gw, err := athena.New(ctx, athena.Config{
		Region:          cfg.Region,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		SessionToken:    cfg.SessionToken,
		StorageEndpoint: cfg.StorageEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("open connection: %w", err)
	}
	return OpenWithGateway(cfg, gw)
}

// OpenWithGateway builds a Connection over a caller-supplied gateway. Tests
// and alternative service implementations use this.
func OpenWithGateway(cfg Config, gw gateway.Gateway) (*Connection, error) {
	if gw == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Connection{cfg: cfg, gw: gw, logger: cfg.Logger}, nil
}

// Cursor returns a new synchronous cursor bound to this connection.
func (c *Connection) Cursor() *Cursor {
	cur := &Cursor{conn: c}
	c.track(cur)
	return cur
}

// AsyncCursor returns a cursor whose Execute does not block on query
// completion.
func (c *Connection) AsyncCursor() *AsyncCursor {
	cur := &AsyncCursor{conn: c}
	c.track(cur)
	return cur
}

// Close closes the connection and every cursor it produced. Idempotent.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	closers := c.closers
	c.closers = nil
	c.mu.Unlock()

	for _, closer := range closers {
		if err := closer.Close(); err != nil && c.logger != nil {
			c.logger.Error("close cursor", slog.Any("error", err))
		}
	}
	return nil
}

func (c *Connection) track(closer interface{ Close() error }) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closers = append(c.closers, closer)
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Connection) retryPolicy() retry.Policy {
	return retry.New(c.cfg.Retry.MaxAttempts, c.cfg.Retry.BaseDelay, c.cfg.Retry.MaxDelay)
}

func (c *Connection) newPoller() *poll.Poller {
	return &poll.Poller{
		Gateway:     c.gw,
		Retry:       c.retryPolicy(),
		Interval:    c.cfg.PollInterval,
		MaxInterval: c.cfg.MaxPollInterval,
		Multiplier:  c.cfg.PollMultiplier,
		Timeout:     c.cfg.QueryTimeout,
		Logger:      c.logger,
	}
}

func (c *Connection) submitInput(sql string, requestToken string) gateway.SubmitInput {
	return gateway.SubmitInput{
		SQL:            sql,
		Workgroup:      c.cfg.Workgroup,
		Catalog:        c.cfg.Catalog,
		Database:       c.cfg.Database,
		OutputLocation: c.cfg.OutputLocation,
		RequestToken:   requestToken,
	}
}

// newResultSet selects the reader variant for a succeeded query per the
// configured result format and wraps it with type coercion.
func (c *Connection) newResultSet(ctx context.Context, queryID string, status gateway.Status) (*ResultSet, error) {
	schema, err := c.gw.ResultMetadata(ctx, queryID)
	if err != nil {
		return nil, &qerror.ResultReadError{Err: fmt.Errorf("result metadata: %w", err)}
	}

	var reader results.Reader
	switch c.cfg.ResultFormat {
	case FormatCSV:
		rc, err := c.gw.ReadObject(ctx, status.OutputLocation)
		if err != nil {
			return nil, &qerror.ResultReadError{Err: fmt.Errorf("open output object: %w", err)}
		}
		reader = results.NewCSVReader(rc, schema)

	case FormatParquet:
		uris, err := c.outputObjects(ctx, status)
		if err != nil {
			return nil, err
		}
		reader, err = results.NewParquetReader(ctx, c.gw.ReadObject, uris, schema)
		if err != nil {
			return nil, err
		}

	default:
		reader = results.NewPageReader(c.gw, queryID, schema, c.cfg.PageSize, c.retryPolicy())
	}

	return newResultSet(reader), nil
}

// outputObjects resolves the objects holding a query's materialized output.
// UNLOAD executions report a data manifest listing one object URI per line;
// plain executions materialize a single object at the output location.
func (c *Connection) outputObjects(ctx context.Context, status gateway.Status) ([]string, error) {
	if status.ManifestLocation == "" {
		return []string{status.OutputLocation}, nil
	}
	rc, err := c.gw.ReadObject(ctx, status.ManifestLocation)
	if err != nil {
		return nil, &qerror.ResultReadError{Err: fmt.Errorf("open data manifest: %w", err)}
	}
	defer rc.Close()

	var uris []string
	scanner := bufio.NewScanner(rc)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			uris = append(uris, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &qerror.ResultReadError{Err: fmt.Errorf("read data manifest: %w", err)}
	}
	if len(uris) == 0 {
		return nil, &qerror.ResultReadError{Err: fmt.Errorf("data manifest %q is empty", status.ManifestLocation)}
	}
	return uris, nil
}
