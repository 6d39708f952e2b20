// Package mock provides an in-process backend with a fixed catalog for
// development and tests.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/slipstream/indexhub/internal/indexer"
)

// Failure modes selectable through the "failure" setting.
const (
	FailureNone      = ""
	FailureError     = "error"
	FailureAuth      = "auth"
	FailureRateLimit = "ratelimit"
	FailureMalformed = "malformed"
)

func init() {
	indexer.RegisterFactory(indexer.TypeMock, New)
}

// Backend answers searches from the built-in catalog.
type Backend struct {
	desc    *indexer.BackendDescriptor
	failure string
	latency time.Duration
	logger  zerolog.Logger

	movies map[int][]indexer.Release
	tv     map[int][]indexer.Release

	// loggedIn is cleared by the "auth" failure mode until ReAuthenticate.
	loggedIn atomic.Bool
	queries  atomic.Int64
}

// Ensure Backend implements the optional backend interfaces.
var (
	_ indexer.Executor      = (*Backend)(nil)
	_ indexer.Authenticator = (*Backend)(nil)
)

// New creates a mock backend.
func New(def indexer.Definition, opts indexer.FactoryOptions) (indexer.Backend, error) {
	b := &Backend{
		failure: def.Settings["failure"],
		logger:  opts.Logger.With().Str("component", "mock-indexer").Int64("indexerId", def.ID).Logger(),
		movies:  make(map[int][]indexer.Release),
		tv:      make(map[int][]indexer.Release),
	}
	if v := def.Settings["latency"]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("indexer %d: invalid latency: %w", def.ID, err)
		}
		b.latency = d
	}
	switch b.failure {
	case FailureNone, FailureError, FailureAuth, FailureRateLimit, FailureMalformed:
	default:
		return nil, fmt.Errorf("indexer %d: unknown failure mode %q", def.ID, b.failure)
	}

	b.desc = def.Descriptor(indexer.BackendDescriptor{
		BaseURLs: []string{"mock://" + strconv.FormatInt(def.ID, 10)},
		Protocol: indexer.ProtocolTorrent,
		Capabilities: indexer.Capabilities{
			Kinds: map[indexer.QueryKind][]string{
				indexer.KindSearch: {indexer.ParamQ},
				indexer.KindTV:     {indexer.ParamQ, indexer.ParamTvdbID, indexer.ParamImdbID, indexer.ParamSeason, indexer.ParamEpisode},
				indexer.KindMovie:  {indexer.ParamQ, indexer.ParamTmdbID, indexer.ParamImdbID},
			},
			Categories:   append(indexer.MovieCategories(), indexer.TVCategories()...),
			DefaultLimit: 100,
			MaxLimit:     100,
		},
		SupportsRedirect: true,
	})

	for _, m := range movieCatalog {
		b.movies[m.TmdbID] = movieReleases(m)
	}
	for _, m := range tvCatalog {
		b.tv[m.TvdbID] = tvReleases(m)
	}
	b.loggedIn.Store(b.failure != FailureAuth)
	return b, nil
}

// Descriptor returns the backend descriptor.
func (b *Backend) Descriptor() *indexer.BackendDescriptor {
	return b.desc
}

// Parser returns the backend itself.
func (b *Backend) Parser() indexer.Parser {
	return b
}

// Queries returns how many queries the backend has answered.
func (b *Backend) Queries() int64 {
	return b.queries.Load()
}

// NewGenerator yields a single catalog lookup.
func (b *Backend) NewGenerator(req *indexer.SearchRequest) indexer.Generator {
	if !b.desc.Capabilities.Supports(req.Kind) {
		return indexer.EmptyGenerator{}
	}
	q := url.Values{}
	q.Set("t", string(req.Kind))
	if req.Query != "" {
		q.Set("q", req.Query)
	}
	if req.TmdbID > 0 {
		q.Set("tmdbid", strconv.Itoa(req.TmdbID))
	}
	if req.TvdbID > 0 {
		q.Set("tvdbid", strconv.Itoa(req.TvdbID))
	}
	if req.ImdbID != "" {
		q.Set("imdbid", strings.TrimLeft(req.ImdbID, "t"))
	}
	if req.Season > 0 {
		q.Set("season", strconv.Itoa(req.Season))
	}
	if req.Episode != "" {
		q.Set("ep", req.Episode)
	}
	return indexer.NewSliceGenerator(&indexer.OutboundQuery{
		Method: http.MethodGet,
		URL:    b.desc.BaseURL() + "/api?" + q.Encode(),
		Stage:  "results",
	})
}

// Execute answers a query from the catalog.
func (b *Backend) Execute(ctx context.Context, q *indexer.OutboundQuery) (*indexer.RawResponse, error) {
	b.queries.Add(1)

	if b.latency > 0 {
		select {
		case <-time.After(b.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	resp := &indexer.RawResponse{StatusCode: http.StatusOK, Header: http.Header{}, URL: q.URL, Query: q}
	switch {
	case b.failure == FailureError:
		resp.StatusCode = http.StatusInternalServerError
		return resp, nil
	case b.failure == FailureRateLimit:
		resp.StatusCode = http.StatusTooManyRequests
		resp.Header.Set("Retry-After", "3600")
		return resp, nil
	case b.failure == FailureMalformed:
		resp.Body = []byte("<html>maintenance</html>")
		return resp, nil
	case !b.loggedIn.Load():
		resp.StatusCode = http.StatusUnauthorized
		return resp, nil
	}

	u, err := url.Parse(q.URL)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(b.search(u.Query()))
	if err != nil {
		return nil, err
	}
	resp.Header.Set("Content-Type", "application/json")
	resp.Body = body
	return resp, nil
}

// ReAuthenticate restores the session.
func (b *Backend) ReAuthenticate(_ context.Context, _ int64) error {
	b.loggedIn.Store(true)
	b.logger.Debug().Msg("Mock login succeeded")
	return nil
}

// Parse decodes the JSON produced by Execute.
func (b *Backend) Parse(pctx indexer.ParseContext, resp *indexer.RawResponse) ([]indexer.Release, error) {
	desc := pctx.Descriptor
	if err := indexer.CheckResponse(desc, resp); err != nil {
		return nil, err
	}

	var releases []indexer.Release
	if err := json.Unmarshal(resp.Body, &releases); err != nil {
		return nil, indexer.NewMalformedResponseError(desc.ID, desc.Name, "failed to decode mock results", err)
	}
	for i := range releases {
		r := &releases[i]
		r.BackendID = desc.ID
		r.BackendName = desc.Name
		r.Protocol = desc.Protocol
		seeders, peers := 100+i*10, 5+i
		r.Seeders = &seeders
		r.Peers = &peers
		r.DownloadVolumeFactor = 0
		r.UploadVolumeFactor = 1
	}
	return releases, nil
}

func (b *Backend) search(params url.Values) []indexer.Release {
	var results []indexer.Release

	if id, _ := strconv.Atoi(params.Get("tmdbid")); id > 0 {
		results = append(results, b.movies[id]...)
	}
	if id, _ := strconv.Atoi(params.Get("tvdbid")); id > 0 {
		results = append(results, b.tv[id]...)
	}
	if id, _ := strconv.Atoi(params.Get("imdbid")); id > 0 && len(results) == 0 {
		results = append(results, b.byImdb(id)...)
	}

	// Fall back to query search if no id matched.
	if len(results) == 0 {
		results = b.byQuery(params.Get("t"), params.Get("q"))
	}

	season, _ := strconv.Atoi(params.Get("season"))
	episode, _ := strconv.Atoi(params.Get("ep"))
	if season > 0 {
		tag := fmt.Sprintf("S%02d", season)
		if episode > 0 {
			tag += fmt.Sprintf("E%02d", episode)
		}
		filtered := results[:0]
		for _, r := range results {
			if strings.Contains(r.Title, tag) {
				filtered = append(filtered, r)
			}
		}
		results = filtered
	}
	return results
}

func (b *Backend) byImdb(id int) []indexer.Release {
	var out []indexer.Release
	for _, m := range movieCatalog {
		if m.ImdbID == id {
			out = append(out, b.movies[m.TmdbID]...)
		}
	}
	for _, m := range tvCatalog {
		if m.ImdbID == id {
			out = append(out, b.tv[m.TvdbID]...)
		}
	}
	return out
}

func (b *Backend) byQuery(kind, query string) []indexer.Release {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}
	needle := strings.ReplaceAll(query, " ", ".")

	var out []indexer.Release
	if kind != string(indexer.KindTV) {
		for _, m := range movieCatalog {
			for _, r := range b.movies[m.TmdbID] {
				if strings.Contains(strings.ToLower(r.Title), needle) {
					out = append(out, r)
				}
			}
		}
	}
	if kind != string(indexer.KindMovie) {
		for _, m := range tvCatalog {
			for _, r := range b.tv[m.TvdbID] {
				if strings.Contains(strings.ToLower(r.Title), needle) {
					out = append(out, r)
				}
			}
		}
	}
	return out
}
