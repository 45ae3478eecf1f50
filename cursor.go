package quarry

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/quarrydb/quarry/gateway"
	"github.com/quarrydb/quarry/internal/sqlfmt"
	"github.com/quarrydb/quarry/qerror"
)

// Cursor executes queries synchronously: Execute blocks through the whole
// submit/poll protocol and returns once the query is terminal. A cursor owns
// at most one in-flight query; starting a new Execute cancels the previous
// query if it is still running and closes its result set.
//
// A cursor is single-owner. The only methods safe to call from another
// goroutine while Execute blocks are Cancel and Close.
type Cursor struct {
	conn *Connection

	mu         sync.Mutex
	closed     bool
	queryID    string
	terminal   bool
	rs         *ResultSet
	cancelWait context.CancelFunc
}

// Execute formats, submits, and waits for one query. On success the cursor
// holds a fresh result set; on failure the typed error describes which stage
// failed.
func (cur *Cursor) Execute(ctx context.Context, sql string, params map[string]any) error {
	cur.mu.Lock()
	if cur.closed || cur.conn.isClosed() {
		cur.mu.Unlock()
		return qerror.ErrClosed
	}
	cur.abandonLocked(ctx)

	formatted, err := sqlfmt.Format(sql, params)
	if err != nil {
		cur.mu.Unlock()
		return &qerror.SubmissionError{Err: err}
	}
	if cur.conn.cfg.ResultFormat == FormatParquet {
		formatted, _, err = sqlfmt.WrapUnload(formatted, cur.conn.cfg.OutputLocation, "PARQUET", "SNAPPY")
		if err != nil {
			cur.mu.Unlock()
			return &qerror.SubmissionError{Err: err}
		}
	}

	waitCtx, cancel := context.WithCancel(ctx)
	cur.cancelWait = cancel
	cur.mu.Unlock()
	defer cancel()

	poller := cur.conn.newPoller()
	queryID, status, err := poller.Run(waitCtx, cur.conn.submitInput(formatted, uuid.NewString()))

	cur.mu.Lock()
	cur.queryID = queryID
	cur.terminal = status.State.Terminal()
	cur.cancelWait = nil
	cur.mu.Unlock()

	if err != nil {
		return err
	}

	rs, err := cur.conn.newResultSet(ctx, queryID, status)
	if err != nil {
		return err
	}
	cur.mu.Lock()
	// Close may have landed while the result set was being opened; a reader
	// installed now would never be released.
	if cur.closed {
		cur.mu.Unlock()
		_ = rs.Close()
		return qerror.ErrClosed
	}
	cur.rs = rs
	cur.mu.Unlock()
	return nil
}

// FetchOne returns the next row of the current result set, or io.EOF.
func (cur *Cursor) FetchOne(ctx context.Context) (Row, error) {
	rs, err := cur.resultSet()
	if err != nil {
		return nil, err
	}
	return rs.FetchOne(ctx)
}

// FetchMany returns up to n rows of the current result set.
func (cur *Cursor) FetchMany(ctx context.Context, n int) ([]Row, error) {
	rs, err := cur.resultSet()
	if err != nil {
		return nil, err
	}
	return rs.FetchMany(ctx, n)
}

// FetchAll drains the current result set.
func (cur *Cursor) FetchAll(ctx context.Context) ([]Row, error) {
	rs, err := cur.resultSet()
	if err != nil {
		return nil, err
	}
	return rs.FetchAll(ctx)
}

// Description returns the column schema of the current result set.
func (cur *Cursor) Description() []gateway.Column {
	cur.mu.Lock()
	defer cur.mu.Unlock()
	if cur.rs == nil {
		return nil
	}
	return cur.rs.Schema()
}

// QueryID returns the remote id of the most recent query, if any.
func (cur *Cursor) QueryID() string {
	cur.mu.Lock()
	defer cur.mu.Unlock()
	return cur.queryID
}

// RowNumber is the fetch position within the current result set.
func (cur *Cursor) RowNumber() int64 {
	cur.mu.Lock()
	defer cur.mu.Unlock()
	if cur.rs == nil {
		return 0
	}
	return cur.rs.RowNumber()
}

// TotalRows reports the result row count once known.
func (cur *Cursor) TotalRows() (int64, bool) {
	cur.mu.Lock()
	defer cur.mu.Unlock()
	if cur.rs == nil {
		return 0, false
	}
	return cur.rs.TotalRows()
}

// Cancel interrupts a blocked Execute and requests remote cancellation of
// the in-flight query. Safe to call from another goroutine.
func (cur *Cursor) Cancel(ctx context.Context) error {
	cur.mu.Lock()
	cancel := cur.cancelWait
	queryID := cur.queryID
	terminal := cur.terminal
	cur.mu.Unlock()

	if cancel != nil {
		// The poller observes the cancellation within one interval and
		// issues the best-effort remote cancel itself.
		cancel()
		return nil
	}
	if queryID != "" && !terminal {
		return cur.conn.gw.Cancel(ctx, queryID)
	}
	return nil
}

// Close cancels any non-terminal query, releases the result set, and marks
// the cursor unusable. Idempotent: closing twice is a no-op.
func (cur *Cursor) Close() error {
	cur.mu.Lock()
	defer cur.mu.Unlock()
	if cur.closed {
		return nil
	}
	cur.abandonLocked(context.Background())
	cur.closed = true
	return nil
}

func (cur *Cursor) resultSet() (*ResultSet, error) {
	cur.mu.Lock()
	defer cur.mu.Unlock()
	if cur.closed {
		return nil, qerror.ErrClosed
	}
	if cur.rs == nil {
		return nil, qerror.ErrNoQuery
	}
	return cur.rs, nil
}

// abandonLocked tears down the previous query: interrupts a blocked wait,
// requests remote cancellation if the query never reached a terminal state,
// and closes the prior result set.
func (cur *Cursor) abandonLocked(ctx context.Context) {
	if cur.cancelWait != nil {
		cur.cancelWait()
		cur.cancelWait = nil
	}
	if cur.queryID != "" && !cur.terminal {
		// Best effort; the session moves on regardless.
		_ = cur.conn.gw.Cancel(ctx, cur.queryID)
	}
	if cur.rs != nil {
		_ = cur.rs.Close()
		cur.rs = nil
	}
	cur.queryID = ""
	cur.terminal = false
}
