// Package newznab serves the Newznab/Torznab XML API for configured
// indexers so download clients can use them as if they were the indexer.
package newznab

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/slipstream/indexhub/internal/indexer"
	"github.com/slipstream/indexhub/internal/indexer/search"
)

const (
	contentType  = "application/rss+xml"
	defaultLimit = 100
)

// Function names accepted in the "t" parameter besides the search kinds.
const functionCaps = "caps"

// Descriptors looks up indexers by id.
type Descriptors interface {
	Descriptor(id int64) (*indexer.BackendDescriptor, error)
}

// Handlers provides the Newznab API endpoints.
type Handlers struct {
	searcher search.SearchService
	indexers Descriptors
	urlBase  string
}

// NewHandlers creates new Newznab handlers.
func NewHandlers(searcher search.SearchService, indexers Descriptors, urlBase string) *Handlers {
	return &Handlers{
		searcher: searcher,
		indexers: indexers,
		urlBase:  urlBase,
	}
}

// RegisterRoutes registers /:id/newznab on the indexer group.
func (h *Handlers) RegisterRoutes(g *echo.Group) {
	g.GET("/:id/newznab", h.API)
}

// RegisterShortRoutes registers the /:id/api form used by download clients.
func (h *Handlers) RegisterShortRoutes(g *echo.Group) {
	g.GET("/:id/api", h.API)
}

// apiError is answered as an <error/> document.
type apiError struct {
	status      int
	code        int
	description string
}

func badParam(name string) *apiError {
	return &apiError{http.StatusBadRequest, codeIncorrectParameter, "Invalid Value for " + name}
}

// API handles every Newznab function for one indexer.
// GET /api/v1/indexer/:id/newznab?t=...
func (h *Handlers) API(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 0 {
		return h.writeError(c, &apiError{http.StatusNotFound, codeNoSuchItem, "Indexer Not Found"})
	}

	fn := strings.ToLower(strings.TrimSpace(c.QueryParam("t")))
	if fn == "" {
		return h.writeError(c, &apiError{http.StatusBadRequest, codeMissingParameter, "Missing Function Parameter"})
	}

	req, apiErr := parseRequest(c)
	if apiErr != nil {
		return h.writeError(c, apiErr)
	}
	req.Caller = indexer.CallerFromContext(c, h.urlBase)

	kind := indexer.QueryKind(fn)
	if id == 0 {
		switch {
		case fn == functionCaps:
			return h.writeCaps(c, indexer.Capabilities{
				Kinds:      allKinds(),
				Categories: indexer.AllCategories(),
			})
		case kind.Valid():
			return h.writeTestRelease(c, req.Caller)
		}
	}

	desc, err := h.indexers.Descriptor(id)
	if err != nil {
		if errors.Is(err, indexer.ErrBackendNotFound) {
			return h.writeError(c, &apiError{http.StatusNotFound, codeNoSuchItem, "Indexer Not Found"})
		}
		return h.writeError(c, &apiError{http.StatusInternalServerError, codeUnknownError, err.Error()})
	}

	switch {
	case fn == functionCaps:
		return h.writeCaps(c, desc.Capabilities)
	case kind.Valid():
		if !desc.Capabilities.Supports(kind) {
			return h.writeError(c, &apiError{http.StatusBadRequest, codeFunctionNotAvail, "Function Not Available"})
		}
		req.Kind = kind
		req.BackendIDs = []int64{id}
		return h.search(c, desc, req)
	}
	return h.writeError(c, &apiError{http.StatusBadRequest, codeFunctionNotAvail, "Function Not Available"})
}

func (h *Handlers) search(c echo.Context, desc *indexer.BackendDescriptor, req *indexer.SearchRequest) error {
	result, err := h.searcher.Search(c.Request().Context(), req)
	if err != nil {
		if indexer.IsInvalidRequest(err) {
			return h.writeError(c, &apiError{http.StatusBadRequest, codeIncorrectParameter, err.Error()})
		}
		return h.writeError(c, &apiError{http.StatusInternalServerError, codeUnknownError, err.Error()})
	}

	// A lone indexer that failed is reported as an error rather than as an
	// empty feed.
	if len(result.Releases) == 0 && len(result.IndexerErrors) > 0 {
		return h.writeError(c, indexerError(result.IndexerErrors[0]))
	}

	body, err := renderResults(result.Releases, desc.Protocol, desc.Privacy, req.Offset, result.TotalResults)
	if err != nil {
		return h.writeError(c, &apiError{http.StatusInternalServerError, codeUnknownError, err.Error()})
	}
	return c.Blob(http.StatusOK, contentType, body)
}

func indexerError(e search.SearchIndexerError) *apiError {
	switch e.Code {
	case indexer.ErrCodeRateLimited:
		return &apiError{http.StatusTooManyRequests, codeRequestLimit, "Request limit reached"}
	case indexer.ErrCodeAuthRequired:
		return &apiError{http.StatusInternalServerError, codeUnknownError, "Indexer authentication failed: " + e.Error}
	}
	return &apiError{http.StatusInternalServerError, codeUnknownError, e.Error}
}

func (h *Handlers) writeCaps(c echo.Context, caps indexer.Capabilities) error {
	body, err := renderCaps(caps)
	if err != nil {
		return h.writeError(c, &apiError{http.StatusInternalServerError, codeUnknownError, err.Error()})
	}
	return c.Blob(http.StatusOK, contentType, body)
}

// writeTestRelease answers searches against id 0, which clients use to test
// the connection.
func (h *Handlers) writeTestRelease(c echo.Context, caller indexer.Caller) error {
	link := caller.ServerURL
	if link == "" {
		link = "http://localhost"
	}
	body, err := renderResults([]indexer.Release{{
		GUID:        link,
		Title:       "Test Release",
		DownloadURL: link,
		PublishDate: time.Now(),
		Protocol:    indexer.ProtocolUsenet,
	}}, indexer.ProtocolUsenet, "", 0, 1)
	if err != nil {
		return h.writeError(c, &apiError{http.StatusInternalServerError, codeUnknownError, err.Error()})
	}
	return c.Blob(http.StatusOK, contentType, body)
}

func (h *Handlers) writeError(c echo.Context, e *apiError) error {
	return c.Blob(e.status, contentType, renderError(e.code, e.description))
}

func allKinds() map[indexer.QueryKind][]string {
	return map[indexer.QueryKind][]string{
		indexer.KindSearch: {indexer.ParamQ},
		indexer.KindTV:     {indexer.ParamQ, indexer.ParamSeason, indexer.ParamEpisode, indexer.ParamImdbID, indexer.ParamTvdbID, indexer.ParamTmdbID},
		indexer.KindMovie:  {indexer.ParamQ, indexer.ParamImdbID, indexer.ParamTmdbID, indexer.ParamYear},
		indexer.KindMusic:  {indexer.ParamQ, indexer.ParamArtist, indexer.ParamAlbum, indexer.ParamYear},
		indexer.KindBook:   {indexer.ParamQ, indexer.ParamAuthor, indexer.ParamTitle},
	}
}

// parseRequest reads the Newznab query parameters.
func parseRequest(c echo.Context) (*indexer.SearchRequest, *apiError) {
	req := &indexer.SearchRequest{
		Query:     strings.TrimSpace(c.QueryParam("q")),
		Episode:   strings.TrimSpace(c.QueryParam("ep")),
		Artist:    c.QueryParam("artist"),
		Album:     c.QueryParam("album"),
		Author:    c.QueryParam("author"),
		BookTitle: c.QueryParam("title"),
		Limit:     defaultLimit,
	}

	if raw := strings.TrimLeft(strings.TrimSpace(c.QueryParam("imdbid")), "t"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, badParam("ImdbId")
		}
		req.ImdbID = "tt" + raw
	}

	ints := []struct {
		param string
		name  string
		dst   *int
	}{
		{"tvdbid", "TvdbId", &req.TvdbID},
		{"tmdbid", "TmdbId", &req.TmdbID},
		{"season", "Season", &req.Season},
		{"year", "Year", &req.Year},
		{"limit", "Limit", &req.Limit},
		{"offset", "Offset", &req.Offset},
	}
	for _, p := range ints {
		raw := strings.TrimSpace(c.QueryParam(p.param))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, badParam(p.name)
		}
		*p.dst = n
	}
	if req.Limit == 0 {
		req.Limit = defaultLimit
	}

	if raw := c.QueryParam("cat"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			n, err := strconv.Atoi(part)
			if err != nil {
				return nil, badParam("Cat")
			}
			req.Categories = append(req.Categories, n)
		}
	}
	return req, nil
}
