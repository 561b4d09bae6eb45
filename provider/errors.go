package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"
)

// Kind is the provider error taxonomy.
type Kind string

const (
	Unauthorized       Kind = "unauthorized"
	RateLimited        Kind = "rate_limited"
	ServiceUnavailable Kind = "service_unavailable"
	Unknown            Kind = "unknown"
)

// Error is a classified provider failure. Callers use Retryable and
// NeedsReauth to choose between backoff, reconnect and giving up.
type Error struct {
	Kind        Kind          `json:"kind"`
	Retryable   bool          `json:"retryable"`
	NeedsReauth bool          `json:"needs_reauth"`
	Message     string        `json:"message"`
	Provider    ProviderKind  `json:"provider,omitempty"`
	Status      int           `json:"status,omitempty"`
	RetryAfter  time.Duration `json:"retry_after,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// AsError extracts a classified provider error from err.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// RawFailure is an unclassified adapter failure: an HTTP status, or a
// transport error when no response arrived.
type RawFailure struct {
	Status     int
	Transport  bool
	Timeout    bool
	RetryAfter time.Duration
	Body       string
	Err        error
}

func (f *RawFailure) Error() string {
	switch {
	case f.Err != nil:
		return f.Err.Error()
	case f.Status != 0:
		return fmt.Sprintf("http %d", f.Status)
	default:
		return "unknown failure"
	}
}

// Classify maps a raw failure onto the taxonomy:
//
//	401, 403                         -> Unauthorized       (reauth)
//	429                              -> RateLimited        (retry)
//	5xx, timeout, connection failure -> ServiceUnavailable (retry)
//	anything else                    -> Unknown
func Classify(raw *RawFailure) *Error {
	if raw == nil {
		return &Error{Kind: Unknown, Message: "unknown failure"}
	}
	e := &Error{Status: raw.Status, Message: failureMessage(raw), cause: raw.Err}
	switch {
	case raw.Status == http.StatusUnauthorized || raw.Status == http.StatusForbidden:
		e.Kind, e.NeedsReauth = Unauthorized, true
	case raw.Status == http.StatusTooManyRequests:
		e.Kind, e.Retryable = RateLimited, true
		e.RetryAfter = raw.RetryAfter
	case raw.Status >= 500 && raw.Status <= 599, raw.Timeout, raw.Transport:
		e.Kind, e.Retryable = ServiceUnavailable, true
	default:
		e.Kind = Unknown
	}
	return e
}

// FailureFromErr turns a transport-level error into a RawFailure.
func FailureFromErr(err error) *RawFailure {
	f := &RawFailure{Err: err}
	var ne net.Error
	var oe *net.OpError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		f.Timeout = true
	case errors.As(err, &ne) && ne.Timeout():
		f.Timeout = true
	case errors.As(err, &oe),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.ErrUnexpectedEOF):
		f.Transport = true
	}
	return f
}

// ClassifyErr classifies a Go error. Timeouts and connection failures become
// ServiceUnavailable; anything unrecognised is Unknown.
func ClassifyErr(err error) *Error {
	if pe, ok := AsError(err); ok {
		return pe
	}
	var raw *RawFailure
	if errors.As(err, &raw) {
		return Classify(raw)
	}
	return Classify(FailureFromErr(err))
}

func failureMessage(raw *RawFailure) string {
	switch {
	case raw.Body != "":
		return raw.Body
	case raw.Err != nil:
		return raw.Err.Error()
	case raw.Status != 0:
		if t := http.StatusText(raw.Status); t != "" {
			return t
		}
		return fmt.Sprintf("http %d", raw.Status)
	default:
		return "unknown failure"
	}
}

// NotConnectedError means no credentials are stored for the account. It is a
// precondition failure, not a provider error: the tenant has to connect first.
type NotConnectedError struct {
	Provider  ProviderKind
	AccountID string
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("%s is not connected for account %s", e.Provider, e.AccountID)
}

// IsNotConnected reports whether err is a NotConnectedError.
func IsNotConnected(err error) bool {
	var nc *NotConnectedError
	return errors.As(err, &nc)
}
