package proxy

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/slipstream/indexhub/internal/indexer"
)

func newEcho(e *env) *echo.Echo {
	srv := echo.New()
	h := NewHandlers(e.service, nil, "")
	h.RegisterRoutes(srv.Group("/api/v1/indexer"))
	h.RegisterRoutes(srv.Group(""))
	h.RegisterHistoryRoutes(srv.Group("/api/v1/downloads"))
	return srv
}

func get(srv *echo.Echo, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Host = "api.example"
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHandlers_Download(t *testing.T) {
	body := torrentFile(t)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(body)
	}))
	defer upstream.Close()

	e := newTestEnv(t, torrentDesc(1))
	srv := newEcho(e)

	q := url.Values{}
	q.Set("link", e.token(t, upstream.URL, 1))
	q.Set("file", "Show S01E01")

	for _, prefix := range []string{"/api/v1/indexer", ""} {
		rec := get(srv, prefix+"/1/download?"+q.Encode())
		if rec.Code != http.StatusOK {
			t.Fatalf("%q: status = %d, body = %s", prefix, rec.Code, rec.Body.String())
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/x-bittorrent" {
			t.Errorf("Content-Type = %q", ct)
		}
		if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "Show S01E01.torrent") {
			t.Errorf("Content-Disposition = %q", cd)
		}
	}
}

func TestHandlers_DownloadRedirect(t *testing.T) {
	e := newTestEnv(t, torrentDesc(1))
	srv := newEcho(e)

	magnet := "magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567"
	q := url.Values{}
	q.Set("link", e.token(t, magnet, 1))
	q.Set("file", "f")

	rec := get(srv, "/api/v1/indexer/1/download?"+q.Encode())
	if rec.Code != http.StatusMovedPermanently {
		t.Fatalf("status = %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != magnet {
		t.Errorf("Location = %q", loc)
	}
}

func TestHandlers_DownloadErrors(t *testing.T) {
	e := newTestEnv(t, torrentDesc(1))
	srv := newEcho(e)
	tok := e.token(t, "http://tracker.example/1", 1)

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"missing link", "/api/v1/indexer/1/download?file=f", http.StatusBadRequest},
		{"missing file", "/api/v1/indexer/1/download?link=" + url.QueryEscape(tok), http.StatusBadRequest},
		{"bad id", "/api/v1/indexer/abc/download?file=f&link=x", http.StatusBadRequest},
		{"bad token", "/api/v1/indexer/1/download?file=f&link=garbage", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(srv, tt.target)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusBadRequest && tt.name != "bad id" && !strings.Contains(rec.Body.String(), "Invalid link") {
				t.Errorf("body = %s", rec.Body.String())
			}
		})
	}
}

func TestHandlers_HistoryWithoutStore(t *testing.T) {
	e := newTestEnv(t, torrentDesc(1))
	rec := get(newEcho(e), "/api/v1/downloads/history")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandlers_DownloadIgnoresForwardedHost(t *testing.T) {
	e := newTestEnv(t, torrentDesc(1))
	srv := newEcho(e)

	q := url.Values{}
	q.Set("link", e.token(t, "magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567", 1))
	q.Set("file", "f")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/indexer/1/download?"+q.Encode(), nil)
	req.Host = "evil.example"
	req.Header.Set("X-Forwarded-Host", "api.example")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Invalid link") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestHandlers_DownloadTrustsForwardedHostBehindProxy(t *testing.T) {
	e := newTestEnv(t, torrentDesc(1))
	srv := newEcho(e)
	srv.Use(indexer.TrustForwarded())

	magnet := "magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567"
	q := url.Values{}
	q.Set("link", e.token(t, magnet, 1))
	q.Set("file", "f")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/indexer/1/download?"+q.Encode(), nil)
	req.Host = "indexhub:9696"
	req.Header.Set("X-Forwarded-Host", "api.example")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusMovedPermanently {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandlers_DownloadFailureHidesLink(t *testing.T) {
	e := newTestEnv(t, torrentDesc(1))
	srv := newEcho(e)

	q := url.Values{}
	q.Set("link", e.token(t, closedServerURL(t)+"/dl?passkey=SECRETPASSKEY", 1))
	q.Set("file", "f")

	rec := get(srv, "/api/v1/indexer/1/download?"+q.Encode())
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "SECRETPASSKEY") || strings.Contains(body, "127.0.0.1") {
		t.Errorf("body leaks the backend link: %s", body)
	}
	if !strings.Contains(body, "Download failed") {
		t.Errorf("body = %s", body)
	}
}
