package catalog

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

// ErrTimeout indicates the request did not complete in time.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string { return fmt.Sprintf("timeout: %v", e.Err) }
func (e ErrTimeout) Unwrap() error { return e.Err }

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string { return fmt.Sprintf("connection: %v", e.Err) }
func (e ErrConnection) Unwrap() error { return e.Err }

// ErrUpstreamStatus is a non-2xx answer that is neither auth nor rate limit.
type ErrUpstreamStatus struct {
	StatusCode int
}

func (e ErrUpstreamStatus) Error() string { return fmt.Sprintf("catalog http %d", e.StatusCode) }

// ErrUnauthorized is returned for 401/403. It aborts the whole run.
type ErrUnauthorized struct {
	StatusCode int
}

func (e ErrUnauthorized) Error() string {
	return fmt.Sprintf("catalog rejected credentials (http %d)", e.StatusCode)
}

// ErrRateLimited indicates the upstream answered 429.
type ErrRateLimited struct {
	RetryAfter time.Duration
}

func (e ErrRateLimited) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("catalog rate limit (429), retry after %s", e.RetryAfter)
	}
	return "catalog rate limit (429)"
}

// ErrDecode means the body was not the JSON shape we expect.
type ErrDecode struct {
	Err error
}

func (e ErrDecode) Error() string { return fmt.Sprintf("decode: %v", e.Err) }
func (e ErrDecode) Unwrap() error { return e.Err }

// Outcome is the typed result of a single fetch attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	// OutcomeRetryable: try the same page again after backoff.
	OutcomeRetryable
	// OutcomePermanent: give up on this page, the run continues.
	OutcomePermanent
	// OutcomeFatal: give up on the whole run.
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomePermanent:
		return "permanent"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classify maps an attempt error onto an Outcome.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	var unauthorized ErrUnauthorized
	if errors.As(err, &unauthorized) {
		return OutcomeFatal
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return OutcomeRetryable
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return OutcomeRetryable
	}
	var rl ErrRateLimited
	if errors.As(err, &rl) {
		return OutcomeRetryable
	}
	var st ErrUpstreamStatus
	if errors.As(err, &st) {
		if st.StatusCode >= 500 {
			return OutcomeRetryable
		}
		return OutcomePermanent
	}
	return OutcomePermanent
}

// ClassifyTransport wraps an error returned by http.Client.Do into one of
// the typed errors above.
func ClassifyTransport(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && !errors.Is(err, context.Canceled) {
		return ErrConnection{Err: err}
	}
	return err
}

// ErrorLabel is a short label for logs and metrics.
func ErrorLabel(err error) string {
	var (
		timeout      ErrTimeout
		conn         ErrConnection
		unauthorized ErrUnauthorized
		rl           ErrRateLimited
		st           ErrUpstreamStatus
		dec          ErrDecode
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &unauthorized):
		return "unauthorized"
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &conn):
		return "connection"
	case errors.As(err, &rl):
		return "rate_limited"
	case errors.As(err, &st):
		return "http_status"
	case errors.As(err, &dec):
		return "decode"
	default:
		return "other"
	}
}

// PageError is returned by Client.FetchPage once it stops retrying a page.
type PageError struct {
	Page     int
	Attempts int
	Err      error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d failed after %d attempt(s): %v", e.Page, e.Attempts, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }

// Fatal reports whether the run must stop.
func (e *PageError) Fatal() bool {
	return Classify(e.Err) == OutcomeFatal
}
