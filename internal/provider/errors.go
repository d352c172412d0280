package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// Kind classifies a backend failure so callers can react the same way
// regardless of which variant produced it.
type Kind string

const (
	KindUnavailable   Kind = "unavailable"     // connection refused or host unreachable
	KindUnauthorized  Kind = "unauthorized"    // credential rejected
	KindModelNotFound Kind = "model_not_found" // unknown model or deployment
	KindRateLimited   Kind = "rate_limited"
	KindTimedOut      Kind = "timed_out"
	KindUnknown       Kind = "unknown"
)

// Error is the single failure type surfaced by the gateway. Detail is
// safe to show to an end user: it never carries credentials or raw
// response bodies.
type Error struct {
	Kind   Kind
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.cause }

// KindOf extracts the taxonomy kind from err, falling back to
// KindUnknown for anything that is not a gateway error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

func newError(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, cause: cause}
}

// classifyTransport maps a failed round trip (no HTTP response at all)
// onto the taxonomy by inspecting the error structurally.
func classifyTransport(err error, variant string) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindTimedOut, fmt.Sprintf("%s backend did not respond in time", variant), err)
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return newError(KindTimedOut, fmt.Sprintf("%s backend did not respond in time", variant), err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return newError(KindTimedOut, fmt.Sprintf("%s backend did not respond in time", variant), err)
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return newError(KindUnavailable, fmt.Sprintf("%s backend is unreachable", variant), err)
	}
	var de *net.DNSError
	if errors.As(err, &de) {
		return newError(KindUnavailable, fmt.Sprintf("%s backend is unreachable", variant), err)
	}
	return newError(KindUnknown, fmt.Sprintf("%s dispatch failed", variant), err)
}

// classifyStatus maps a non-2xx HTTP response onto the taxonomy. The
// apiMessage, when present, comes from the backend's error payload and
// is assumed printable; it is truncated by the callers before use.
func classifyStatus(status int, variant, apiMessage string) *Error {
	detail := func(fallback string) string {
		if apiMessage != "" {
			return apiMessage
		}
		return fallback
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return newError(KindUnauthorized, detail(fmt.Sprintf("%s credential was rejected", variant)), nil)
	case status == http.StatusNotFound:
		return newError(KindModelNotFound, detail(fmt.Sprintf("%s model or deployment not found", variant)), nil)
	case status == http.StatusTooManyRequests:
		return newError(KindRateLimited, detail(fmt.Sprintf("%s backend is rate limiting requests", variant)), nil)
	case status == http.StatusServiceUnavailable || status == http.StatusBadGateway:
		return newError(KindUnavailable, detail(fmt.Sprintf("%s backend is unavailable", variant)), nil)
	case status == http.StatusGatewayTimeout:
		return newError(KindTimedOut, detail(fmt.Sprintf("%s backend timed out upstream", variant)), nil)
	default:
		return newError(KindUnknown, detail(fmt.Sprintf("%s returned HTTP %d", variant, status)), nil)
	}
}
