package search

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/slipstream/indexhub/internal/indexer"
)

// Handlers provides HTTP handlers for search operations.
type Handlers struct {
	service SearchService
	urlBase string
}

// NewHandlers creates new search handlers. urlBase is the path prefix the
// server is mounted under, used when mapping release links.
func NewHandlers(service SearchService, urlBase string) *Handlers {
	return &Handlers{
		service: service,
		urlBase: urlBase,
	}
}

// RegisterRoutes registers the search routes.
func (h *Handlers) RegisterRoutes(g *echo.Group) {
	g.GET("", h.Search)
}

// SearchRequest represents a search request.
type SearchRequest struct {
	Query      string `query:"query"`
	Type       string `query:"type"`       // search, tvsearch, movie, music, book
	Categories string `query:"categories"` // comma-separated category IDs
	IndexerIDs string `query:"indexerIds"` // comma-separated indexer IDs
	ImdbID     string `query:"imdbId"`
	TmdbID     int    `query:"tmdbId"`
	TvdbID     int    `query:"tvdbId"`
	Season     int    `query:"season"`
	Episode    string `query:"ep"`
	Year       int    `query:"year"`
	Artist     string `query:"artist"`
	Album      string `query:"album"`
	Author     string `query:"author"`
	Title      string `query:"title"`
	Limit      int    `query:"limit"`
	Offset     int    `query:"offset"`
}

// Search handles search requests.
// GET /api/v1/search?query=...&type=...&categories=...&indexerIds=...
func (h *Handlers) Search(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid request parameters",
		})
	}

	sreq, err := h.toSearchRequest(req)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	}
	sreq.Caller = indexer.CallerFromContext(c, h.urlBase)

	result, err := h.service.Search(c.Request().Context(), sreq)
	if err != nil {
		status := http.StatusInternalServerError
		if indexer.IsInvalidRequest(err) {
			status = http.StatusBadRequest
		}
		return c.JSON(status, map[string]string{
			"error": err.Error(),
		})
	}

	return c.JSON(http.StatusOK, result)
}

// toSearchRequest converts the query parameters to a search request.
func (h *Handlers) toSearchRequest(req SearchRequest) (*indexer.SearchRequest, error) {
	out := &indexer.SearchRequest{
		Kind:      indexer.QueryKind(req.Type),
		Query:     req.Query,
		ImdbID:    req.ImdbID,
		TmdbID:    req.TmdbID,
		TvdbID:    req.TvdbID,
		Season:    req.Season,
		Episode:   req.Episode,
		Year:      req.Year,
		Artist:    req.Artist,
		Album:     req.Album,
		Author:    req.Author,
		BookTitle: req.Title,
		Limit:     req.Limit,
		Offset:    req.Offset,
	}

	// Default search type
	if out.Kind == "" {
		out.Kind = indexer.KindSearch
	}

	cats, err := splitInts(req.Categories)
	if err != nil {
		return nil, indexer.NewInvalidRequestError("invalid categories")
	}
	out.Categories = cats

	ids, err := splitInts(req.IndexerIDs)
	if err != nil {
		return nil, indexer.NewInvalidRequestError("invalid indexerIds")
	}
	for _, id := range ids {
		out.BackendIDs = append(out.BackendIDs, int64(id))
	}

	// Default limit
	if out.Limit == 0 {
		out.Limit = 100
	}

	return out, nil
}

func splitInts(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
