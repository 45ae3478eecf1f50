package quarry

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/quarrydb/quarry/gateway"
	"github.com/quarrydb/quarry/internal/sqlfmt"
	"github.com/quarrydb/quarry/qerror"
)

// AsyncCursor submits queries without blocking on their completion. Execute
// returns a QueryHandle as soon as the service accepts the submission; the
// handle is polled or awaited by the caller. The poll state machine is the
// same one the synchronous cursor uses, running in a goroutine instead of
// on the caller's stack.
type AsyncCursor struct {
	conn *Connection

	mu     sync.Mutex
	closed bool
	active *QueryHandle
}

// Execute formats and submits one query. Submission itself is synchronous
// (a single gateway call); the wait for completion is not.
func (cur *AsyncCursor) Execute(ctx context.Context, sql string, params map[string]any) (*QueryHandle, error) {
	cur.mu.Lock()
	if cur.closed || cur.conn.isClosed() {
		cur.mu.Unlock()
		return nil, qerror.ErrClosed
	}
	prior := cur.active
	cur.mu.Unlock()

	if prior != nil {
		prior.abandon()
	}

	formatted, err := sqlfmt.Format(sql, params)
	if err != nil {
		return nil, &qerror.SubmissionError{Err: err}
	}
	if cur.conn.cfg.ResultFormat == FormatParquet {
		formatted, _, err = sqlfmt.WrapUnload(formatted, cur.conn.cfg.OutputLocation, "PARQUET", "SNAPPY")
		if err != nil {
			return nil, &qerror.SubmissionError{Err: err}
		}
	}

	poller := cur.conn.newPoller()
	queryID, err := poller.Submit(ctx, cur.conn.submitInput(formatted, uuid.NewString()))
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithCancel(context.Background())
	handle := &QueryHandle{
		conn:    cur.conn,
		queryID: queryID,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go func() {
		status, waitErr := poller.Wait(waitCtx, queryID)
		handle.mu.Lock()
		handle.status = status
		handle.err = waitErr
		handle.mu.Unlock()
		close(handle.done)
	}()

	cur.mu.Lock()
	cur.active = handle
	cur.mu.Unlock()
	return handle, nil
}

// Close abandons the in-flight query, if any. Idempotent.
func (cur *AsyncCursor) Close() error {
	cur.mu.Lock()
	if cur.closed {
		cur.mu.Unlock()
		return nil
	}
	cur.closed = true
	active := cur.active
	cur.active = nil
	cur.mu.Unlock()

	if active != nil {
		active.abandon()
	}
	return nil
}

// QueryHandle tracks one asynchronous query execution.
type QueryHandle struct {
	conn    *Connection
	queryID string
	cancel  context.CancelFunc
	done    chan struct{}

	mu     sync.Mutex
	status gateway.Status
	err    error
	rsOnce sync.Once
	rs     *ResultSet
	rsErr  error
}

// QueryID returns the remote-assigned id.
func (h *QueryHandle) QueryID() string { return h.queryID }

// Done is closed once the query reaches a terminal outcome.
func (h *QueryHandle) Done() <-chan struct{} { return h.done }

// Status returns the terminal status and true once the wait has finished.
func (h *QueryHandle) Status() (gateway.Status, bool) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.status, true
	default:
		return gateway.Status{}, false
	}
}

// Wait blocks until the query is terminal or ctx is done.
func (h *QueryHandle) Wait(ctx context.Context) (gateway.Status, error) {
	select {
	case <-ctx.Done():
		return gateway.Status{}, ctx.Err()
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.status, h.err
	}
}

// Cancel stops the wait and requests remote cancellation.
func (h *QueryHandle) Cancel(ctx context.Context) error {
	h.cancel()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return nil
	}
}

// ResultSet waits for completion and opens the result reader. Subsequent
// calls return the same result set.
func (h *QueryHandle) ResultSet(ctx context.Context) (*ResultSet, error) {
	status, err := h.Wait(ctx)
	if err != nil {
		return nil, err
	}
	h.rsOnce.Do(func() {
		rs, rsErr := h.conn.newResultSet(ctx, h.queryID, status)
		h.mu.Lock()
		h.rs, h.rsErr = rs, rsErr
		h.mu.Unlock()
	})
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rs, h.rsErr
}

// abandon cancels the wait without blocking on remote acknowledgement.
func (h *QueryHandle) abandon() {
	h.cancel()
	h.mu.Lock()
	rs := h.rs
	h.mu.Unlock()
	if rs != nil {
		_ = rs.Close()
	}
}
