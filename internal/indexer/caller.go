package indexer

import (
	"strings"

	"github.com/labstack/echo/v4"
)

const trustForwardedKey = "indexhub.trustForwarded"

// TrustForwarded lets CallerFromContext take the host and scheme from
// X-Forwarded-Host and X-Forwarded-Proto. Install it only behind a reverse
// proxy that overwrites those headers.
func TrustForwarded() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(trustForwardedKey, true)
			return next(c)
		}
	}
}

// CallerFromContext identifies the client of an API request. The server URL
// is built from the request scheme and host plus urlBase. Forwarded headers
// are ignored unless TrustForwarded ran for the request.
func CallerFromContext(c echo.Context, urlBase string) Caller {
	req := c.Request()
	host := req.Host
	scheme := "http"
	if req.TLS != nil {
		scheme = "https"
	}
	if trusted, _ := c.Get(trustForwardedKey).(bool); trusted {
		if fwd := req.Header.Get("X-Forwarded-Host"); fwd != "" {
			host = strings.TrimSpace(strings.Split(fwd, ",")[0])
		}
		scheme = c.Scheme()
	}

	serverURL := scheme + "://" + host
	if base := strings.Trim(urlBase, "/"); base != "" {
		serverURL += "/" + base
	}

	return Caller{
		Host:      host,
		ServerURL: serverURL,
		UserAgent: req.UserAgent(),
		Source:    SourceFromUserAgent(req.UserAgent()),
	}
}

// SourceFromUserAgent returns the first product token of a User-Agent,
// e.g. "Sonarr" for "Sonarr/4.0.1 (linux)".
func SourceFromUserAgent(ua string) string {
	ua = strings.TrimSpace(ua)
	if ua == "" {
		return "Unknown"
	}
	token := strings.Fields(ua)[0]
	if i := strings.IndexByte(token, '/'); i > 0 {
		token = token[:i]
	}
	return token
}
