package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
)

// Classification buckets a backend or transport error for retry/notify
// decisions. Conflicts are benign duplicates, transient errors are
// retryable, permanent errors are not.
type Classification string

const (
	ClassificationConflict  Classification = "conflict"
	ClassificationTransient Classification = "transient"
	ClassificationPermanent Classification = "permanent"
	ClassificationUnknown   Classification = "unknown"
)

// APIError is the normalized form of a backend API failure. Response bodies
// are normalized to {message, statusCode?, code?, details?} before reaching
// the classifier.
type APIError struct {
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode,omitempty"`
	Code       string `json:"code,omitempty"`
	Details    any    `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("backend error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend error: %s", e.Message)
}

// newAPIError normalizes an HTTP error response into an *APIError. Bodies
// that aren't the expected JSON shape still produce a usable error.
func newAPIError(rsp *http.Response, body []byte) *APIError {
	apiErr := &APIError{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, apiErr); err != nil {
			apiErr.Message = strings.TrimSpace(string(body))
		}
	}
	// the response status is authoritative over anything in the body
	apiErr.StatusCode = rsp.StatusCode
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(rsp.StatusCode)
	}
	return apiErr
}

// errorStatusCode resolves a status-code-like field from an arbitrary
// error: a direct *APIError status, or one nested behind url.Error or
// error wrapping. Returns 0 when no status code is resolvable.
func errorStatusCode(err error) int {
	if err == nil {
		return 0
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode > 0 {
		return apiErr.StatusCode
	}
	return 0
}

// isNetworkError reports whether err looks like a network-level failure:
// timeout, connection reset/refused/aborted, or DNS resolution failure.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		// url.Error with no recognizable cause is still a transport
		// failure rather than a backend response
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// isConflict reports whether err resolves to an HTTP 409.
func isConflict(err error) bool {
	return errorStatusCode(err) == http.StatusConflict
}

// isTransient reports whether err is retryable: 5xx, 429, a network-level
// failure, or an error carrying no structured information at all (treated
// as a transient network failure, failing toward retryable).
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if code := errorStatusCode(err); code > 0 {
		return (code >= 500 && code <= 599) || code == http.StatusTooManyRequests
	}
	return true
}

// isPermanent reports whether err is a non-retryable client error: a 4xx
// status excluding 409 (conflict) and 429 (rate limit). Conflict is
// evaluated first; permanent explicitly excludes it.
func isPermanent(err error) bool {
	if isConflict(err) {
		return false
	}
	code := errorStatusCode(err)
	return code >= 400 && code <= 499 && code != http.StatusTooManyRequests
}

// classifyError buckets err into exactly one Classification. It never
// panics; unrecognized shapes fall through to transient.
func classifyError(err error) Classification {
	if err == nil {
		return ClassificationUnknown
	}
	switch {
	case isConflict(err):
		return ClassificationConflict
	case isPermanent(err):
		return ClassificationPermanent
	case isTransient(err):
		return ClassificationTransient
	default:
		return ClassificationUnknown
	}
}
