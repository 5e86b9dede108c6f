// Package classify maps delivery failures onto a fixed error taxonomy with
// a retryable verdict per kind.
package classify

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind identifies one class of delivery failure.
type Kind string

const (
	KindCloudflareChallenge Kind = "cloudflare_challenge"
	KindCloudflareBlocked   Kind = "cloudflare_blocked"
	KindBadRequest          Kind = "api_bad_request"
	KindUnauthorized        Kind = "api_unauthorized"
	KindForbidden           Kind = "api_forbidden"
	KindNotFound            Kind = "api_not_found"
	KindConflict            Kind = "api_conflict"
	KindValidationError     Kind = "api_validation_error"
	KindRateLimited         Kind = "api_rate_limited"
	KindBadGateway          Kind = "server_bad_gateway"
	KindUnavailable         Kind = "server_unavailable"
	KindGatewayTimeout      Kind = "server_gateway_timeout"
	KindServerError         Kind = "server_error"
	KindRequestException    Kind = "request_exception"
	KindConnectionError     Kind = "connection_error"
	KindTimeoutError        Kind = "timeout_error"
	KindUnknown             Kind = "unknown"
)

// Classify maps an HTTP response to its error kind and retryable verdict.
// Client errors are not worth retrying (the request itself is bad); anything
// server-side, rate-limit, or edge-proxy related is transient. Unclassified
// failures default to retryable: over-retrying is safer than dropping a lead.
func Classify(statusCode int, header http.Header, body string) (Kind, bool) {
	if kind, ok := classifyCloudflare(statusCode, header, body); ok {
		return kind, true
	}

	switch statusCode {
	case http.StatusBadRequest:
		return KindBadRequest, false
	case http.StatusUnauthorized:
		return KindUnauthorized, false
	case http.StatusForbidden:
		return KindForbidden, false
	case http.StatusNotFound:
		return KindNotFound, false
	case http.StatusConflict:
		return KindConflict, false
	case http.StatusUnprocessableEntity:
		return KindValidationError, false
	case http.StatusTooManyRequests:
		return KindRateLimited, true
	case http.StatusBadGateway:
		return KindBadGateway, true
	case http.StatusServiceUnavailable:
		return KindUnavailable, true
	case http.StatusGatewayTimeout:
		return KindGatewayTimeout, true
	}

	if statusCode >= 500 && statusCode < 600 {
		return KindServerError, true
	}
	if statusCode >= 400 && statusCode < 500 {
		return KindUnknown, false
	}
	return KindUnknown, true
}

func classifyCloudflare(statusCode int, header http.Header, body string) (Kind, bool) {
	server := strings.ToLower(header.Get("Server"))
	fromCF := strings.Contains(server, "cloudflare") || header.Get("Cf-Ray") != ""

	lower := strings.ToLower(body)
	challenge := strings.Contains(lower, "cf-chl") ||
		strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "just a moment")
	blocked := strings.Contains(lower, "attention required") ||
		strings.Contains(lower, "access denied") && fromCF

	if challenge && (fromCF || statusCode == http.StatusForbidden || statusCode == 503) {
		return KindCloudflareChallenge, true
	}
	if blocked && fromCF {
		return KindCloudflareBlocked, true
	}
	// Edge 5xx pages from the proxy rather than the origin.
	if fromCF && (statusCode == 520 || statusCode == 521 || statusCode == 522 || statusCode == 524) {
		return KindCloudflareBlocked, true
	}
	return "", false
}

// ClassifyErr maps a transport-level error (no HTTP response at all) to its
// kind. All of these are retryable.
func ClassifyErr(err error) (Kind, bool) {
	if err == nil {
		return KindUnknown, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeoutError, true
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "broken pipe"):
		return KindConnectionError, true
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"):
		return KindTimeoutError, true
	default:
		return KindRequestException, true
	}
}

// RetryAfter parses a Retry-After header into a wait duration. Handles both
// delta-seconds and HTTP-date forms; returns 0 when absent or unparseable.
func RetryAfter(header http.Header, now time.Time) time.Duration {
	raw := strings.TrimSpace(header.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
