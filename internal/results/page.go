package results

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/quarrydb/quarry/gateway"
	"github.com/quarrydb/quarry/internal/observability"
	"github.com/quarrydb/quarry/internal/retry"
	"github.com/quarrydb/quarry/qerror"
)

// maxPageSize is the largest page the service will return in one call.
// Requesting more is never honored, so the reader does not try.
const maxPageSize = 1000

type pageFetcher interface {
	FetchResultPage(ctx context.Context, queryID, nextToken string, maxRows int) (gateway.Page, error)
}

// PageReader streams rows through the service's paginated result API,
// following continuation tokens until the service stops returning one.
type PageReader struct {
	gw       pageFetcher
	queryID  string
	schema   []gateway.Column
	policy   retry.Policy
	pageSize int
	sleep    func(ctx context.Context, d time.Duration) error

	token     string
	started   bool
	exhausted bool
	closed    bool
	buf       [][]gateway.Cell
	bufIdx    int
	seen      int64
}

// NewPageReader builds a reader over the paginated API. schema is the
// declared result schema; the first page's column metadata must agree with
// it.
func NewPageReader(gw pageFetcher, queryID string, schema []gateway.Column, pageSize int, policy retry.Policy) *PageReader {
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return &PageReader{
		gw:       gw,
		queryID:  queryID,
		schema:   schema,
		policy:   policy,
		pageSize: pageSize,
		sleep:    retry.Sleep,
	}
}

func (r *PageReader) Schema() []gateway.Column { return r.schema }

func (r *PageReader) Next(ctx context.Context) ([]gateway.Cell, error) {
	if r.closed {
		return nil, qerror.ErrClosed
	}
	for r.bufIdx >= len(r.buf) {
		if r.exhausted {
			return nil, io.EOF
		}
		if err := r.fetchPage(ctx); err != nil {
			return nil, err
		}
	}
	row := r.buf[r.bufIdx]
	r.bufIdx++
	r.seen++
	return row, nil
}

func (r *PageReader) fetchPage(ctx context.Context) error {
	page, err := r.fetchWithRetry(ctx)
	if err != nil {
		return err
	}
	observability.ObserveResultPage()

	if len(page.Columns) > 0 && len(page.Columns) != len(r.schema) {
		return &qerror.DecodeError{Err: fmt.Errorf(
			"result page has %d columns, schema declares %d", len(page.Columns), len(r.schema))}
	}

	rows := page.Rows
	if !r.started {
		r.started = true
		// For text-materialized results the service repeats the column
		// labels as the first row of the first page.
		if len(rows) > 0 && isHeaderRow(rows[0], r.schema) {
			rows = rows[1:]
		}
	}

	r.buf = rows
	r.bufIdx = 0
	r.token = page.NextToken
	if r.token == "" {
		r.exhausted = true
	}
	return nil
}

func (r *PageReader) fetchWithRetry(ctx context.Context) (gateway.Page, error) {
	attempt := 1
	for {
		page, err := r.gw.FetchResultPage(ctx, r.queryID, r.token, r.pageSize)
		if err == nil {
			return page, nil
		}
		if !r.policy.ShouldRetry(err, attempt) {
			if retry.Retryable(err) {
				return gateway.Page{}, &qerror.RetriesExhaustedError{
					Op:       "fetch result page",
					Attempts: attempt,
					Err:      err,
				}
			}
			return gateway.Page{}, &qerror.ResultReadError{Err: err}
		}
		observability.ObserveRetry("fetch_result_page")
		if sleepErr := r.sleep(ctx, r.policy.Delay(attempt)); sleepErr != nil {
			return gateway.Page{}, &qerror.ResultReadError{Err: sleepErr}
		}
		attempt++
	}
}

func (r *PageReader) Total() (int64, bool) {
	if r.exhausted && r.bufIdx >= len(r.buf) {
		return r.seen, true
	}
	return r.seen, false
}

func (r *PageReader) Close() error {
	r.closed = true
	r.buf = nil
	return nil
}

func isHeaderRow(row []gateway.Cell, schema []gateway.Column) bool {
	if len(row) != len(schema) {
		return false
	}
	for i, cell := range row {
		if cell.Null || cell.Data != schema[i].Name {
			return false
		}
	}
	return true
}
