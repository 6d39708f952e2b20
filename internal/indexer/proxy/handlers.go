package proxy

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/slipstream/indexhub/internal/indexer"
)

// HistoryLister lists audited downloads.
type HistoryLister interface {
	List(ctx context.Context, limit, offset int) ([]HistoryItem, error)
}

// Handlers provides HTTP handlers for downloads.
type Handlers struct {
	service *Service
	history HistoryLister
	urlBase string
}

// NewHandlers creates new download handlers.
func NewHandlers(service *Service, history HistoryLister, urlBase string) *Handlers {
	return &Handlers{
		service: service,
		history: history,
		urlBase: urlBase,
	}
}

// RegisterRoutes registers the download route on an indexer group, giving
// /api/v1/indexer/:id/download and the short /:id/download form.
func (h *Handlers) RegisterRoutes(g *echo.Group) {
	g.GET("/:id/download", h.Download)
}

// RegisterHistoryRoutes registers the download history routes.
func (h *Handlers) RegisterHistoryRoutes(g *echo.Group) {
	g.GET("/history", h.GetHistory)
}

// Download resolves a mapped link.
// GET /api/v1/indexer/:id/download?link=...&file=...
func (h *Handlers) Download(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid indexer id",
		})
	}

	link := c.QueryParam("link")
	file := c.QueryParam("file")
	if link == "" || file == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid link",
		})
	}
	// Some clients encode the file name twice.
	if decoded, err := url.PathUnescape(file); err == nil {
		file = decoded
	}

	res, err := h.service.Resolve(c.Request().Context(), Request{
		IndexerID: id,
		Token:     link,
		File:      file,
		Caller:    indexer.CallerFromContext(c, h.urlBase),
	})
	if err != nil {
		return c.JSON(statusFor(err), map[string]string{
			"error": errorMessage(err),
		})
	}

	if res.Mode == ModeRedirect {
		return c.Redirect(http.StatusMovedPermanently, res.RedirectURL)
	}

	c.Response().Header().Set(echo.HeaderContentDisposition,
		mime.FormatMediaType("attachment", map[string]string{"filename": res.FileName}))
	return c.Blob(http.StatusOK, res.ContentType, res.Content)
}

// GetHistory returns recent downloads.
// GET /api/v1/downloads/history?limit=...&offset=...
func (h *Handlers) GetHistory(c echo.Context) error {
	if h.history == nil {
		return c.JSON(http.StatusOK, []HistoryItem{})
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}

	items, err := h.history.List(c.Request().Context(), limit, offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, items)
}

func statusFor(err error) int {
	switch {
	case indexer.IsLinkInvalid(err), indexer.IsInvalidRequest(err):
		return http.StatusBadRequest
	case errors.Is(err, indexer.ErrBackendNotFound):
		return http.StatusNotFound
	case indexer.IsRateLimited(err):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// errorMessage returns the text shown to the caller. Backend failures are
// reported by kind only; details stay in the log and the download history.
func errorMessage(err error) string {
	switch {
	case indexer.IsLinkInvalid(err):
		return "Invalid link"
	case indexer.IsInvalidRequest(err):
		return "Invalid request"
	case errors.Is(err, indexer.ErrBackendNotFound):
		return "Indexer Not Found"
	case indexer.IsRateLimited(err):
		return "Indexer rate limit reached"
	case indexer.IsAuthRequired(err):
		return "Indexer rejected the credentials"
	case indexer.GetErrorCode(err) == indexer.ErrCodeMalformedResponse:
		return "Indexer returned an invalid file"
	}
	return "Download failed"
}
