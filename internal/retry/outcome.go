package retry

import (
	"net/http"
	"net/url"
	"time"
)

// Kind tags an Outcome.
type Kind int

const (
	// KindSuccess means an HTTP exchange completed, whatever its status.
	KindSuccess Kind = iota
	// KindTransient means every attempt ended in a timeout or connection failure.
	KindTransient
	// KindFatal means the call failed for a reason retrying cannot fix.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Cause qualifies a transient failure.
type Cause int

const (
	CauseNone Cause = iota
	CauseTimeout
	CauseConnection
)

func (c Cause) String() string {
	switch c {
	case CauseTimeout:
		return "timeout"
	case CauseConnection:
		return "connection"
	default:
		return ""
	}
}

// Outcome is the single value a Caller returns. Exactly one of the kinds
// applies; StatusCode, Body and Header are only meaningful for KindSuccess
// and Cause only for KindTransient.
type Outcome struct {
	Kind       Kind
	StatusCode int
	Body       []byte
	Header     http.Header
	Cause      Cause
	Reason     string
	Attempts   int
	Elapsed    time.Duration
}

// Success builds a KindSuccess outcome.
func Success(status int, body []byte, header http.Header) Outcome {
	return Outcome{Kind: KindSuccess, StatusCode: status, Body: body, Header: header}
}

// Transient builds a KindTransient outcome.
func Transient(cause Cause, reason string) Outcome {
	return Outcome{Kind: KindTransient, Cause: cause, Reason: reason}
}

// Fatal builds a KindFatal outcome.
func Fatal(reason string) Outcome {
	return Outcome{Kind: KindFatal, Reason: reason}
}

func (o Outcome) IsSuccess() bool   { return o.Kind == KindSuccess }
func (o Outcome) IsTransient() bool { return o.Kind == KindTransient }
func (o Outcome) IsFatal() bool     { return o.Kind == KindFatal }

// Tag is the short label stored in run history and metrics:
// "success", "transient/timeout", "transient/connection" or "fatal".
func (o Outcome) Tag() string {
	if o.Kind == KindTransient && o.Cause != CauseNone {
		return o.Kind.String() + "/" + o.Cause.String()
	}
	return o.Kind.String()
}

// OutboundCall describes one request to a backend. It is never mutated; each
// attempt builds a fresh request from it.
type OutboundCall struct {
	// Service names the backend for logs and metrics.
	Service string
	Method  string
	URL     string
	Header  http.Header
	Query   url.Values
	Body    []byte
	// Timeout bounds a single attempt. Zero means the Caller's default.
	Timeout time.Duration
}
