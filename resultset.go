package quarry

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/quarrydb/quarry/gateway"
	"github.com/quarrydb/quarry/internal/convert"
	"github.com/quarrydb/quarry/internal/observability"
	"github.com/quarrydb/quarry/internal/results"
	"github.com/quarrydb/quarry/qerror"
)

// Row is one result row with cells coerced to native values. A nil cell is
// SQL NULL; an empty string cell is a zero-length string, not NULL.
type Row []any

// ResultSet delivers the rows of one completed query, in source order,
// decoded through the type coercion layer. It is forward-only; a fresh read
// requires re-executing the query.
type ResultSet struct {
	mu     sync.Mutex
	reader results.Reader
	pos    int64
	closed bool
}

func newResultSet(reader results.Reader) *ResultSet {
	return &ResultSet{reader: reader}
}

// Schema returns the declared column schema, fixed for the lifetime of the
// result set.
func (rs *ResultSet) Schema() []gateway.Column {
	return rs.reader.Schema()
}

// FetchOne returns the next row, or io.EOF after the last one.
func (rs *ResultSet) FetchOne(ctx context.Context) (Row, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.fetchLocked(ctx)
}

// FetchMany returns up to n rows. At the end of the sequence it returns the
// remaining rows without error; once exhausted it returns io.EOF.
func (rs *ResultSet) FetchMany(ctx context.Context, n int) ([]Row, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if n <= 0 {
		return nil, nil
	}
	rows := make([]Row, 0, n)
	for len(rows) < n {
		row, err := rs.fetchLocked(ctx)
		if err == io.EOF {
			if len(rows) == 0 {
				return nil, io.EOF
			}
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// FetchAll drains the remaining rows. An exhausted result set yields an
// empty slice, not an error.
func (rs *ResultSet) FetchAll(ctx context.Context) ([]Row, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	var rows []Row
	for {
		row, err := rs.fetchLocked(ctx)
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
}

func (rs *ResultSet) fetchLocked(ctx context.Context) (Row, error) {
	if rs.closed {
		return nil, qerror.ErrClosed
	}
	cells, err := rs.reader.Next(ctx)
	if err != nil {
		return nil, err
	}

	schema := rs.reader.Schema()
	if len(cells) != len(schema) {
		return nil, &qerror.DecodeError{Err: fmt.Errorf(
			"row has %d cells, schema declares %d columns", len(cells), len(schema))}
	}
	row := make(Row, len(cells))
	for i, cell := range cells {
		value, err := convert.Coerce(cell, schema[i])
		if err != nil {
			return nil, err
		}
		row[i] = value
	}
	rs.pos++
	observability.ObserveRowsFetched(1)
	return row, nil
}

// RowNumber is the count of rows delivered so far; it never decreases.
func (rs *ResultSet) RowNumber() int64 {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.pos
}

// TotalRows reports the total row count once it is known. For streaming
// readers it stays unknown until the end of the sequence is observed.
func (rs *ResultSet) TotalRows() (int64, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.reader.Total()
}

// Close releases the underlying reader. Idempotent.
func (rs *ResultSet) Close() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.closed {
		return nil
	}
	rs.closed = true
	return rs.reader.Close()
}
