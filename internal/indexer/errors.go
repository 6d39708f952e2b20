package indexer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Error codes for categorizing indexer errors
const (
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeAuthRequired      = "AUTH_REQUIRED"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeMalformedResponse = "MALFORMED_RESPONSE"
	ErrCodeBackend           = "BACKEND_ERROR"
	ErrCodeLinkInvalid       = "LINK_INVALID"
)

// ErrBackendNotFound is returned when a backend id is not registered.
var ErrBackendNotFound = errors.New("indexer not found")

// Error represents a categorized error from an indexer operation.
type Error struct {
	Code        string        // Error category code
	Message     string        // Human-readable message
	BackendID   int64         // ID of the affected backend (0 if not applicable)
	BackendName string        // Name of the affected backend
	Retryable   bool          // Whether the operation can be retried
	RetryAfter  time.Duration // Backend-provided throttle hint
	Cause       error         // Underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.BackendName != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.BackendName, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements error matching for errors.Is().
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Common error instances for comparison
var (
	ErrInvalidRequest    = &Error{Code: ErrCodeInvalidRequest, Message: "invalid request"}
	ErrAuthRequired      = &Error{Code: ErrCodeAuthRequired, Message: "authentication required"}
	ErrRateLimited       = &Error{Code: ErrCodeRateLimited, Message: "rate limited"}
	ErrMalformedResponse = &Error{Code: ErrCodeMalformedResponse, Message: "malformed response"}
	ErrBackend           = &Error{Code: ErrCodeBackend, Message: "backend error"}
	ErrLinkInvalid       = &Error{Code: ErrCodeLinkInvalid, Message: "invalid link"}
)

// NewInvalidRequestError creates an error for bad caller input.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Code:    ErrCodeInvalidRequest,
		Message: message,
	}
}

// NewAuthRequiredError creates an error signalling an expired or invalid session.
func NewAuthRequiredError(backendID int64, backendName string, cause error) *Error {
	return &Error{
		Code:        ErrCodeAuthRequired,
		Message:     "authentication required",
		BackendID:   backendID,
		BackendName: backendName,
		Retryable:   true, // after one re-authentication
		Cause:       cause,
	}
}

// NewRateLimitedError creates a throttling error.
func NewRateLimitedError(backendID int64, backendName string, retryAfter time.Duration) *Error {
	return &Error{
		Code:        ErrCodeRateLimited,
		Message:     "rate limit exceeded",
		BackendID:   backendID,
		BackendName: backendName,
		RetryAfter:  retryAfter,
	}
}

// NewMalformedResponseError creates a parsing error.
func NewMalformedResponseError(backendID int64, backendName string, message string, cause error) *Error {
	return &Error{
		Code:        ErrCodeMalformedResponse,
		Message:     message,
		BackendID:   backendID,
		BackendName: backendName,
		Cause:       cause,
	}
}

// NewBackendError creates an error for non-2xx responses and transport failures.
func NewBackendError(backendID int64, backendName string, message string, cause error) *Error {
	return &Error{
		Code:        ErrCodeBackend,
		Message:     message,
		BackendID:   backendID,
		BackendName: backendName,
		Retryable:   true,
		Cause:       cause,
	}
}

// NewLinkInvalidError creates an error for malformed or foreign download tokens.
func NewLinkInvalidError(message string, cause error) *Error {
	return &Error{
		Code:    ErrCodeLinkInvalid,
		Message: message,
		Cause:   cause,
	}
}

// IsRetryable returns whether the error is retryable.
func IsRetryable(err error) bool {
	var indexerErr *Error
	if errors.As(err, &indexerErr) {
		return indexerErr.Retryable
	}
	return false
}

// IsAuthRequired returns whether the error asks for re-authentication.
func IsAuthRequired(err error) bool {
	return errors.Is(err, ErrAuthRequired)
}

// IsRateLimited returns whether the error is a throttling error.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsInvalidRequest returns whether the error is caused by caller input.
func IsInvalidRequest(err error) bool {
	return errors.Is(err, ErrInvalidRequest)
}

// IsLinkInvalid returns whether the error is a rejected download token.
func IsLinkInvalid(err error) bool {
	return errors.Is(err, ErrLinkInvalid)
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) string {
	var indexerErr *Error
	if errors.As(err, &indexerErr) {
		return indexerErr.Code
	}
	return ""
}

// RetryAfterOf returns the throttle hint carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var indexerErr *Error
	if errors.As(err, &indexerErr) {
		return indexerErr.RetryAfter
	}
	return 0
}

// Classify wraps err into the failure taxonomy. Typed errors keep their
// code; timeouts and network failures become backend errors; anything else
// is a backend error too.
func Classify(desc *BackendDescriptor, err error) *Error {
	if err == nil {
		return nil
	}
	var indexerErr *Error
	if errors.As(err, &indexerErr) {
		if indexerErr.BackendID == 0 && desc != nil {
			clone := *indexerErr
			clone.BackendID = desc.ID
			clone.BackendName = desc.Name
			return &clone
		}
		return indexerErr
	}

	err = StripURL(err)
	var id int64
	var name string
	if desc != nil {
		id, name = desc.ID, desc.Name
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewBackendError(id, name, "timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewBackendError(id, name, "network error", err)
	}
	return NewBackendError(id, name, "request failed", err)
}

// CheckResponse maps a backend HTTP status to the failure taxonomy. It
// returns nil for 2xx and 3xx responses.
func CheckResponse(desc *BackendDescriptor, resp *RawResponse) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return NewAuthRequiredError(desc.ID, desc.Name, fmt.Errorf("HTTP %d", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests:
		return NewRateLimitedError(desc.ID, desc.Name, ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()))
	case resp.StatusCode >= 400:
		return NewBackendError(desc.ID, desc.Name, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}
	return nil
}

// ParseRetryAfter reads a Retry-After header in seconds or HTTP-date form.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

// StripURL replaces a transport error carrying a request URL with one that
// names only the scheme and host. Any wrapping around the *url.Error is
// dropped with it. Backend URLs hold api keys and passkeys in
// their query or path; none of it may end up in error text.
func StripURL(err error) error {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return err
	}
	return &url.Error{Op: urlErr.Op, URL: originOf(urlErr.URL), Err: urlErr.Err}
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "backend"
	}
	return u.Scheme + "://" + u.Host
}
