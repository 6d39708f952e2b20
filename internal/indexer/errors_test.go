package indexer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_IsByCode(t *testing.T) {
	err := fmt.Errorf("search failed: %w", NewAuthRequiredError(3, "Site", errors.New("HTTP 403")))

	assert.True(t, IsAuthRequired(err))
	assert.False(t, IsRateLimited(err))
	assert.True(t, IsRetryable(err))
	assert.Equal(t, ErrCodeAuthRequired, GetErrorCode(err))
	assert.Equal(t, "", GetErrorCode(errors.New("plain")))
	assert.Equal(t, "[AUTH_REQUIRED] Site: authentication required: HTTP 403", errors.Unwrap(err).Error())

	assert.True(t, IsInvalidRequest(NewInvalidRequestError("bad")))
	assert.True(t, IsLinkInvalid(NewLinkInvalidError("bad token", nil)))
	assert.Equal(t, 90*time.Second, RetryAfterOf(NewRateLimitedError(1, "x", 90*time.Second)))
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	desc := &BackendDescriptor{ID: 4, Name: "Four"}

	assert.Nil(t, Classify(desc, nil))

	typed := Classify(desc, NewMalformedResponseError(0, "", "bad xml", nil))
	assert.Equal(t, ErrCodeMalformedResponse, typed.Code)
	assert.Equal(t, int64(4), typed.BackendID, "backend is filled in")

	tests := []struct {
		name    string
		err     error
		message string
	}{
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), "timed out"},
		{"network", timeoutErr{}, "network error"},
		{"other", errors.New("boom"), "request failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(desc, tt.err)
			assert.Equal(t, ErrCodeBackend, got.Code)
			assert.Equal(t, tt.message, got.Message)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestCheckResponse(t *testing.T) {
	desc := &BackendDescriptor{ID: 1, Name: "One"}
	tests := []struct {
		status int
		header string
		code   string
	}{
		{http.StatusOK, "", ""},
		{http.StatusFound, "", ""},
		{http.StatusUnauthorized, "", ErrCodeAuthRequired},
		{http.StatusForbidden, "", ErrCodeAuthRequired},
		{http.StatusTooManyRequests, "120", ErrCodeRateLimited},
		{http.StatusNotFound, "", ErrCodeBackend},
		{http.StatusBadGateway, "", ErrCodeBackend},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			resp := &RawResponse{StatusCode: tt.status, Header: http.Header{}}
			if tt.header != "" {
				resp.Header.Set("Retry-After", tt.header)
			}
			err := CheckResponse(desc, resp)
			if tt.code == "" {
				require.NoError(t, err)
				return
			}
			assert.Equal(t, tt.code, GetErrorCode(err))
		})
	}

	err := CheckResponse(desc, &RawResponse{StatusCode: http.StatusTooManyRequests, Header: http.Header{"Retry-After": {"120"}}})
	assert.Equal(t, 2*time.Minute, RetryAfterOf(err))
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Duration(0), ParseRetryAfter("", now))
	assert.Equal(t, 30*time.Second, ParseRetryAfter("30", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("-5", now))
	assert.Equal(t, time.Hour, ParseRetryAfter(now.Add(time.Hour).Format(http.TimeFormat), now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter(now.Add(-time.Hour).Format(http.TimeFormat), now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("soon", now))
}

func TestStripURL(t *testing.T) {
	plain := errors.New("boom")
	assert.Same(t, plain, StripURL(plain))

	cause := errors.New("connection refused")
	err := fmt.Errorf("query: %w", &url.Error{
		Op:  "Get",
		URL: "https://user:pw@tracker.example:8443/dl/SECRETPASSKEY/1?apikey=SECRETAPIKEY",
		Err: cause,
	})

	stripped := StripURL(err)
	assert.Equal(t, `Get "https://tracker.example:8443": connection refused`, stripped.Error())
	assert.ErrorIs(t, stripped, cause)

	classified := Classify(&BackendDescriptor{ID: 1, Name: "One"}, err)
	assert.NotContains(t, classified.Error(), "SECRET")
	assert.NotContains(t, classified.Error(), "pw@")
	assert.Equal(t, "network error", classified.Message)
}
