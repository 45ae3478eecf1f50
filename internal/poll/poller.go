// Package poll drives one query execution from submission to a terminal
// state. The remote service executes asynchronously; the poller hides that
// behind a blocking Wait whose sleeps are context-aware so cancellation is
// observed within one interval.
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quarrydb/quarry/gateway"
	"github.com/quarrydb/quarry/internal/observability"
	"github.com/quarrydb/quarry/internal/retry"
	"github.com/quarrydb/quarry/qerror"
)

const cancelGrace = 5 * time.Second

// Poller submits a query and tracks its remote execution state. One poller
// instance owns exactly one query at a time and is not shared across
// sessions.
type Poller struct {
	Gateway gateway.Gateway
	Retry   retry.Policy

	// Interval is the delay between status checks. When Multiplier is
	// greater than 1 the delay grows exponentially up to MaxInterval.
	Interval    time.Duration
	MaxInterval time.Duration
	Multiplier  float64

	// Timeout bounds the whole wait; zero means no deadline. Exceeding it
	// cancels the query and surfaces a CancelledError.
	Timeout time.Duration

	Logger *slog.Logger
	Clock  func() time.Time
	Sleep  func(ctx context.Context, d time.Duration) error
}

func (p *Poller) ensureDefaults() {
	if p.Interval <= 0 {
		p.Interval = 500 * time.Millisecond
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 30 * time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.Clock == nil {
		p.Clock = time.Now
	}
	if p.Sleep == nil {
		p.Sleep = retry.Sleep
	}
	if p.Retry.MaxAttempts == 0 {
		p.Retry = retry.New(0, 0, 0)
	}
}

// Submit starts the query execution. Submission failures are permanent: the
// query never started, so there is nothing to retry or cancel.
func (p *Poller) Submit(ctx context.Context, in gateway.SubmitInput) (string, error) {
	p.ensureDefaults()
	queryID, err := p.Gateway.SubmitQuery(ctx, in)
	if err != nil {
		return "", &qerror.SubmissionError{Err: err}
	}
	if p.Logger != nil {
		p.Logger.InfoContext(ctx, "query submitted", slog.String("query_id", queryID))
	}
	return queryID, nil
}

// Wait blocks until the query reaches a terminal state, the context is
// cancelled, or the configured timeout elapses. On FAILED the returned error
// carries the remote-reported code and message; only status checks are ever
// retried, never the query itself.
func (p *Poller) Wait(ctx context.Context, queryID string) (gateway.Status, error) {
	p.ensureDefaults()

	var deadline time.Time
	if p.Timeout > 0 {
		deadline = p.Clock().Add(p.Timeout)
	}

	interval := p.Interval
	attempt := 1
	for {
		if err := ctx.Err(); err != nil {
			return p.abandon(queryID, err)
		}
		if !deadline.IsZero() && p.Clock().After(deadline) {
			return p.abandon(queryID, fmt.Errorf("query timeout after %s", p.Timeout))
		}

		// The first check happens immediately; short queries finish without
		// paying a whole interval of latency.
		status, err := p.Gateway.GetStatus(ctx, queryID)
		observability.ObserveStatusPoll()
		if err != nil {
			if p.Retry.ShouldRetry(err, attempt) {
				observability.ObserveRetry("get_status")
				if p.Logger != nil {
					p.Logger.InfoContext(ctx, "status check failed, retrying",
						slog.String("query_id", queryID),
						slog.Int("attempt", attempt),
						slog.Any("error", err),
					)
				}
				if sleepErr := p.Sleep(ctx, p.Retry.Delay(attempt)); sleepErr != nil {
					return p.abandon(queryID, sleepErr)
				}
				attempt++
				continue
			}
			if retry.Retryable(err) {
				return gateway.Status{}, &qerror.RetriesExhaustedError{
					Op:       "get query status",
					Attempts: attempt,
					Err:      err,
				}
			}
			return gateway.Status{}, fmt.Errorf("get query status: %w", err)
		}
		attempt = 1

		if status.State.Terminal() {
			return p.terminal(ctx, queryID, status)
		}

		if err := p.Sleep(ctx, interval); err != nil {
			return p.abandon(queryID, err)
		}
		if interval = time.Duration(float64(interval) * p.Multiplier); interval > p.MaxInterval {
			interval = p.MaxInterval
		}
	}
}

// Run submits the query and waits for its terminal state.
func (p *Poller) Run(ctx context.Context, in gateway.SubmitInput) (string, gateway.Status, error) {
	p.ensureDefaults()
	started := p.Clock()
	queryID, err := p.Submit(ctx, in)
	if err != nil {
		return "", gateway.Status{}, err
	}
	status, err := p.Wait(ctx, queryID)
	observability.ObserveQuery(string(status.State), p.Clock().Sub(started))
	return queryID, status, err
}

func (p *Poller) terminal(ctx context.Context, queryID string, status gateway.Status) (gateway.Status, error) {
	switch status.State {
	case gateway.StateFailed:
		return status, &qerror.QueryFailureError{
			QueryID: queryID,
			Code:    status.ErrorCode,
			Message: status.ErrorMessage,
		}
	case gateway.StateCancelled:
		return status, &qerror.CancelledError{QueryID: queryID}
	default:
		if p.Logger != nil {
			p.Logger.InfoContext(ctx, "query succeeded",
				slog.String("query_id", queryID),
				slog.String("output_location", status.OutputLocation),
			)
		}
		return status, nil
	}
}

// abandon stops waiting and requests a best-effort remote cancel. The local
// transition to cancelled does not depend on the remote acknowledging it.
func (p *Poller) abandon(queryID string, cause error) (gateway.Status, error) {
	cancelCtx, cancel := context.WithTimeout(context.Background(), cancelGrace)
	defer cancel()
	if err := p.Gateway.Cancel(cancelCtx, queryID); err != nil && p.Logger != nil {
		p.Logger.Error("remote cancel failed", slog.String("query_id", queryID), slog.Any("error", err))
	}
	status := gateway.Status{State: gateway.StateCancelled}
	return status, &qerror.CancelledError{QueryID: queryID, Cause: cause}
}
