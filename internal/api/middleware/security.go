package middleware

import (
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
)

// redactedParams are query parameters whose values never reach the log.
var redactedParams = []string{"apikey", "passkey"}

func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()

			// Prevent MIME type sniffing
			h.Set("X-Content-Type-Options", "nosniff")

			// Prevent clickjacking
			h.Set("X-Frame-Options", "SAMEORIGIN")

			// Control referrer information
			h.Set("Referrer-Policy", "no-referrer")

			// Disable caching for API responses (can be overridden per-route if needed)
			if strings.HasPrefix(c.Request().URL.Path, "/api") {
				h.Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
				h.Set("Pragma", "no-cache")
			}

			return next(c)
		}
	}
}

// RedactQuery masks credential parameters in a request URI.
func RedactQuery(uri string) string {
	path, rawQuery, ok := strings.Cut(uri, "?")
	if !ok {
		return uri
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return path + "?(unparsable)"
	}
	changed := false
	for key := range values {
		for _, p := range redactedParams {
			if strings.EqualFold(key, p) {
				values.Set(key, "REDACTED")
				changed = true
			}
		}
	}
	if !changed {
		return uri
	}
	return path + "?" + values.Encode()
}
