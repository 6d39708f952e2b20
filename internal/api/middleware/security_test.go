package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestRedactQuery(t *testing.T) {
	tests := []struct {
		name string
		uri  string
		want string
	}{
		{"no query", "/api/v1/search", "/api/v1/search"},
		{"nothing secret", "/1/api?t=caps", "/1/api?t=caps"},
		{"apikey", "/1/api?t=search&apikey=abc", "/1/api?apikey=REDACTED&t=search"},
		{"case insensitive", "/1/api?ApiKey=abc", "/1/api?ApiKey=REDACTED"},
		{"passkey", "/1/download?passkey=xyz", "/1/download?passkey=REDACTED"},
		{"broken", "/1/api?%zz", "/1/api?(unparsable)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RedactQuery(tt.uri))
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	e := echo.New()
	e.Use(SecurityHeaders())
	ok := func(c echo.Context) error { return c.NoContent(http.StatusOK) }
	e.GET("/api/v1/status", ok)
	e.GET("/1/api", ok)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/1/api", nil))
	assert.Equal(t, "SAMEORIGIN", rec.Header().Get("X-Frame-Options"))
	assert.Empty(t, rec.Header().Get("Cache-Control"))
}
