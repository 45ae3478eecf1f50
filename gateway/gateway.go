// Package gateway defines the request/response boundary between the client
// and the remote query service. The service executes SQL out-of-process and
// materializes results to object storage; everything the rest of the library
// does is expressed against the Gateway interface so it can run against a
// fake in tests.
package gateway

import (
	"context"
	"fmt"
	"io"
)

// ExecutionState is the remote execution status of a submitted query.
type ExecutionState string

const (
	StateQueued    ExecutionState = "QUEUED"
	StateRunning   ExecutionState = "RUNNING"
	StateSucceeded ExecutionState = "SUCCEEDED"
	StateFailed    ExecutionState = "FAILED"
	StateCancelled ExecutionState = "CANCELLED"
)

// Terminal reports whether no further state transition can occur.
func (s ExecutionState) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// Column describes one column of a result set as declared by the service.
type Column struct {
	Name      string
	Type      string
	Precision int32
	Scale     int32
	Nullable  bool
}

// Cell is one wire-level value. The service transmits every value as text
// plus a null marker; a null cell is distinct from an empty string.
type Cell struct {
	Data string
	Null bool
}

// NullCell returns the marker for a missing value.
func NullCell() Cell { return Cell{Null: true} }

// TextCell returns a non-null cell holding raw text.
func TextCell(data string) Cell { return Cell{Data: data} }

// Page is one slice of a paginated result. An empty NextToken means the
// sequence is complete.
type Page struct {
	Columns   []Column
	Rows      [][]Cell
	NextToken string
}

// Status is the remote execution status plus, on success, the locations of
// the materialized output.
type Status struct {
	State            ExecutionState
	OutputLocation   string
	ManifestLocation string
	ErrorCode        string
	ErrorMessage     string
}

// SubmitInput carries everything needed to start one query execution.
type SubmitInput struct {
	SQL            string
	Workgroup      string
	Catalog        string
	Database       string
	OutputLocation string
	// RequestToken makes submission idempotent across retries of the
	// submit call itself.
	RequestToken string
}

// Gateway is the boundary to the remote query service and its storage
// backend. Implementations must wrap failures in *Error so callers can
// classify them for retry decisions.
type Gateway interface {
	// SubmitQuery starts an execution and returns the remote-assigned
	// query id.
	SubmitQuery(ctx context.Context, in SubmitInput) (string, error)

	// GetStatus reports the current execution state of a query.
	GetStatus(ctx context.Context, queryID string) (Status, error)

	// Cancel requests termination of a running query. Best effort; the
	// caller does not depend on the remote honoring it.
	Cancel(ctx context.Context, queryID string) error

	// FetchResultPage returns one page of results. Pass an empty token
	// for the first page. maxRows bounds the page size; the service may
	// return fewer rows.
	FetchResultPage(ctx context.Context, queryID, nextToken string, maxRows int) (Page, error)

	// ResultMetadata returns the declared column schema of a completed
	// query without consuming result rows.
	ResultMetadata(ctx context.Context, queryID string) ([]Column, error)

	// ReadObject opens a materialized result object by its storage URI.
	ReadObject(ctx context.Context, uri string) (io.ReadCloser, error)
}

// ErrorKind classifies a gateway failure for retry decisions.
type ErrorKind string

const (
	// Retryable.
	KindThrottled   ErrorKind = "throttled"
	KindTimeout     ErrorKind = "timeout"
	KindUnavailable ErrorKind = "unavailable"
	KindInternal    ErrorKind = "internal"

	// Permanent.
	KindInvalidRequest   ErrorKind = "invalid_request"
	KindPermissionDenied ErrorKind = "permission_denied"
	KindNotFound         ErrorKind = "not_found"
)

// Retryable reports whether errors of this kind are worth repeating.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindThrottled, KindTimeout, KindUnavailable, KindInternal:
		return true
	default:
		return false
	}
}

// Error is a classified gateway failure.
type Error struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err as a classified gateway failure.
func NewError(op string, kind ErrorKind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}
