// Package qerror defines the typed failures the client surfaces to callers.
// Transient gateway faults are absorbed by the retry policy and never appear
// here unless the attempt ceiling is hit.
package qerror

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a closed cursor or connection.
// Close itself is idempotent and never returns ErrClosed.
var ErrClosed = errors.New("quarry: closed")

// ErrNoQuery is returned by fetch operations before any query has produced
// a result set on the cursor.
var ErrNoQuery = errors.New("quarry: no query results available")

// SubmissionError reports that a query was rejected at submission; the query
// never started on the remote service.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string { return fmt.Sprintf("quarry: submit query: %v", e.Err) }
func (e *SubmissionError) Unwrap() error { return e.Err }

// QueryFailureError carries the remote-reported failure of an execution,
// verbatim.
type QueryFailureError struct {
	QueryID string
	Code    string
	Message string
}

func (e *QueryFailureError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("quarry: query %s failed: %s: %s", e.QueryID, e.Code, e.Message)
	}
	return fmt.Sprintf("quarry: query %s failed: %s", e.QueryID, e.Message)
}

// CancelledError reports that the wait for a query was abandoned, either by
// the caller or by the configured deadline. The remote service may or may
// not have honored the cancel request; the session stops waiting regardless.
type CancelledError struct {
	QueryID string
	Cause   error
}

func (e *CancelledError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("quarry: query %s cancelled: %v", e.QueryID, e.Cause)
	}
	return fmt.Sprintf("quarry: query %s cancelled", e.QueryID)
}

func (e *CancelledError) Unwrap() error { return e.Cause }

// RetriesExhaustedError reports that a transient fault persisted through the
// configured attempt ceiling.
type RetriesExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("quarry: %s: giving up after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Err }

// ResultReadError reports a non-transient failure while fetching a result
// page or reading a materialized output object.
type ResultReadError struct {
	Err error
}

func (e *ResultReadError) Error() string { return fmt.Sprintf("quarry: read results: %v", e.Err) }
func (e *ResultReadError) Unwrap() error { return e.Err }

// DecodeError reports a malformed or type-mismatched result payload. Decode
// failures are never retried.
type DecodeError struct {
	Column string
	Type   string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("quarry: decode column %q (%s): %v", e.Column, e.Type, e.Err)
	}
	return fmt.Sprintf("quarry: decode results: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
