package newznab

import (
	"context"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream/indexhub/internal/indexer"
	"github.com/slipstream/indexhub/internal/indexer/linkmap"
	"github.com/slipstream/indexhub/internal/indexer/mock"
	"github.com/slipstream/indexhub/internal/indexer/search"
	"github.com/slipstream/indexhub/internal/indexer/torznab"
)

type fakeSearcher struct {
	got    *indexer.SearchRequest
	result *search.SearchResult
	err    error
}

func (f *fakeSearcher) Search(_ context.Context, req *indexer.SearchRequest) (*search.SearchResult, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	if f.result == nil {
		return &search.SearchResult{Releases: []indexer.Release{}}, nil
	}
	return f.result, nil
}

type stubBackend struct {
	desc *indexer.BackendDescriptor
}

func (b *stubBackend) Descriptor() *indexer.BackendDescriptor { return b.desc }
func (b *stubBackend) NewGenerator(*indexer.SearchRequest) indexer.Generator {
	return indexer.EmptyGenerator{}
}
func (b *stubBackend) Parser() indexer.Parser { return nil }

func newRegistry(t *testing.T, descs ...*indexer.BackendDescriptor) *indexer.Service {
	t.Helper()
	registry := indexer.NewService(zerolog.Nop())
	for _, d := range descs {
		require.NoError(t, registry.Register(&stubBackend{desc: d}))
	}
	return registry
}

func torrentIndexer(id int64) *indexer.BackendDescriptor {
	return &indexer.BackendDescriptor{
		ID:       id,
		Name:     "Tracker",
		Protocol: indexer.ProtocolTorrent,
		Privacy:  indexer.PrivacyPrivate,
		Capabilities: indexer.Capabilities{
			Kinds: map[indexer.QueryKind][]string{
				indexer.KindSearch: {indexer.ParamQ},
				indexer.KindTV:     {indexer.ParamQ, indexer.ParamSeason, indexer.ParamEpisode},
			},
			Categories:   []int{5000, 5040},
			DefaultLimit: 50,
			MaxLimit:     200,
		},
	}
}

func serve(h *Handlers, target string) *httptest.ResponseRecorder {
	e := echo.New()
	h.RegisterRoutes(e.Group("/api/v1/indexer"))
	h.RegisterShortRoutes(e.Group(""))

	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Host = "hub.example"
	req.Header.Set("User-Agent", "Sonarr/4.0.0")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) torznab.ErrorResponse {
	t.Helper()
	var e torznab.ErrorResponse
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &e), rec.Body.String())
	return e
}

func TestAPI_Errors(t *testing.T) {
	h := NewHandlers(&fakeSearcher{}, newRegistry(t, torrentIndexer(1)), "")

	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantCode   int
		wantDesc   string
	}{
		{"missing function", "/api/v1/indexer/1/newznab", http.StatusBadRequest, 200, "Missing Function Parameter"},
		{"blank function", "/1/api?t=%20", http.StatusBadRequest, 200, "Missing Function Parameter"},
		{"bad imdb", "/1/api?t=movie&imdbid=ttabc", http.StatusBadRequest, 201, "Invalid Value for ImdbId"},
		{"zero imdb", "/1/api?t=movie&imdbid=tt0000000", http.StatusBadRequest, 201, "Invalid Value for ImdbId"},
		{"imdb checked before id 0", "/0/api?t=search&imdbid=x", http.StatusBadRequest, 201, "Invalid Value for ImdbId"},
		{"unknown indexer", "/api/v1/indexer/9/newznab?t=caps", http.StatusNotFound, 300, "Indexer Not Found"},
		{"unknown function", "/1/api?t=details", http.StatusBadRequest, 203, "Function Not Available"},
		{"unknown function on id 0", "/0/api?t=details", http.StatusNotFound, 300, "Indexer Not Found"},
		{"unsupported kind", "/1/api?t=movie", http.StatusBadRequest, 203, "Function Not Available"},
		{"bad season", "/1/api?t=tvsearch&season=x", http.StatusBadRequest, 201, "Invalid Value for Season"},
		{"bad category", "/1/api?t=search&cat=5000,tv", http.StatusBadRequest, 201, "Invalid Value for Cat"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, tt.target)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, contentType, rec.Header().Get(echo.HeaderContentType))

			e := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, e.Code)
			assert.Equal(t, tt.wantDesc, e.Description)
		})
	}
}

func TestAPI_AggregateCaps(t *testing.T) {
	h := NewHandlers(&fakeSearcher{}, newRegistry(t), "")

	rec := serve(h, "/0/api?t=caps")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, contentType, rec.Header().Get(echo.HeaderContentType))

	var caps torznab.Caps
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &caps))
	assert.Equal(t, "yes", caps.Searching.BookSearch.Available)

	var count int
	for _, c := range caps.Categories.Categories {
		count += 1 + len(c.Subcategories)
	}
	assert.Equal(t, len(indexer.AllCategories()), count)
}

func TestAPI_IndexerCaps(t *testing.T) {
	h := NewHandlers(&fakeSearcher{}, newRegistry(t, torrentIndexer(1)), "")

	rec := serve(h, "/api/v1/indexer/1/newznab?t=caps")
	require.Equal(t, http.StatusOK, rec.Code)

	var caps torznab.Caps
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &caps))
	assert.Equal(t, 200, caps.Limits.Max)
	assert.Equal(t, 50, caps.Limits.Default)
	assert.Equal(t, "yes", caps.Searching.TVSearch.Available)
	assert.Equal(t, "q,season,ep", caps.Searching.TVSearch.SupportedParams)
	assert.Equal(t, "no", caps.Searching.MovieSearch.Available)

	require.Len(t, caps.Categories.Categories, 1)
	tv := caps.Categories.Categories[0]
	assert.Equal(t, 5000, tv.ID)
	require.Len(t, tv.Subcategories, 1)
	assert.Equal(t, 5040, tv.Subcategories[0].ID)
}

func TestAPI_TestRelease(t *testing.T) {
	searcher := &fakeSearcher{}
	h := NewHandlers(searcher, newRegistry(t), "")

	for _, fn := range []string{"search", "tvsearch", "movie", "music", "book"} {
		rec := serve(h, "/0/api?t="+fn)
		require.Equal(t, http.StatusOK, rec.Code, fn)

		var feed torznab.Feed
		require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &feed))
		require.Len(t, feed.Channel.Items, 1)
		assert.Equal(t, "Test Release", feed.Channel.Items[0].Title)
		assert.Equal(t, "http://hub.example", feed.Channel.Items[0].Link)
	}
	assert.Nil(t, searcher.got, "id 0 never searches")
}

func TestAPI_SearchRequest(t *testing.T) {
	searcher := &fakeSearcher{}
	h := NewHandlers(searcher, newRegistry(t, torrentIndexer(3)), "/hub")

	q := url.Values{}
	q.Set("t", "tvsearch")
	q.Set("q", "Breaking Bad")
	q.Set("season", "2")
	q.Set("ep", "5")
	q.Set("cat", "5000,5040")
	q.Set("imdbid", "0903747")
	q.Set("offset", "10")
	rec := serve(h, "/3/api?"+q.Encode())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := searcher.got
	require.NotNil(t, got)
	assert.Equal(t, indexer.KindTV, got.Kind)
	assert.Equal(t, "Breaking Bad", got.Query)
	assert.Equal(t, 2, got.Season)
	assert.Equal(t, "5", got.Episode)
	assert.Equal(t, []int{5000, 5040}, got.Categories)
	assert.Equal(t, "tt0903747", got.ImdbID)
	assert.Equal(t, []int64{3}, got.BackendIDs)
	assert.Equal(t, 10, got.Offset)
	assert.Equal(t, defaultLimit, got.Limit)
	assert.Equal(t, "http://hub.example/hub", got.Caller.ServerURL)
	assert.Equal(t, "Sonarr", got.Caller.Source)
}

func TestAPI_RendersTorznabAttributes(t *testing.T) {
	seeders, peers := 42, 50
	searcher := &fakeSearcher{result: &search.SearchResult{
		TotalResults: 7,
		Releases: []indexer.Release{{
			GUID:        "https://tracker.example/t/1",
			Title:       "Show.S01E01.1080p",
			DownloadURL: "http://hub.example/api/v1/indexer/1/download?file=x&link=y",
			Categories:  []int{5040},
			Size:        1 << 30,
			PublishDate: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
			Protocol:    indexer.ProtocolTorrent,
			BackendID:   1,
			BackendName: "Tracker",
			Seeders:     &seeders,
			Peers:       &peers,
			InfoHash:    "abcdef",
			TvdbID:      81189,
		}},
	}}
	h := NewHandlers(searcher, newRegistry(t, torrentIndexer(1)), "")

	rec := serve(h, "/1/api?t=search&q=show")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `xmlns:torznab="http://torznab.com/schemas/2015/feed"`)
	assert.Contains(t, body, `<torznab:attr name="seeders" value="42"></torznab:attr>`)
	assert.Contains(t, body, `<newznab:response offset="0" total="7"></newznab:response>`)
	assert.Contains(t, body, "<type>private</type>")
	assert.NotContains(t, body, "newznab:attr")

	var feed torznab.Feed
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &feed))
	require.Len(t, feed.Channel.Items, 1)
	item := feed.Channel.Items[0]
	assert.Equal(t, "Sat, 01 Jun 2024 12:00:00 +0000", item.PubDate)
	assert.Equal(t, "application/x-bittorrent", item.Enclosure.Type)
	assert.Equal(t, "42", item.Attribute("seeders"))
	assert.Equal(t, "50", item.Attribute("peers"))
	assert.Equal(t, "abcdef", item.Attribute("infohash"))
	assert.Equal(t, "81189", item.Attribute("tvdbid"))
	assert.Equal(t, "1", item.Attribute("downloadvolumefactor"))
}

func TestAPI_UsenetUsesNewznabAttributes(t *testing.T) {
	desc := torrentIndexer(2)
	desc.Protocol = indexer.ProtocolUsenet
	searcher := &fakeSearcher{result: &search.SearchResult{
		TotalResults: 1,
		Releases: []indexer.Release{{
			GUID:        "nzb-1",
			Title:       "Show.S01E01",
			DownloadURL: "http://hub.example/api/v1/indexer/2/download?file=x&link=y",
			Protocol:    indexer.ProtocolUsenet,
			Grabs:       12,
			Group:       "alt.binaries.test",
		}},
	}}
	h := NewHandlers(searcher, newRegistry(t, desc), "")

	rec := serve(h, "/2/api?t=search")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `<newznab:attr name="grabs" value="12"></newznab:attr>`)
	assert.Contains(t, body, `type="application/x-nzb"`)
	assert.NotContains(t, body, "torznab")
}

func TestAPI_SearchFailures(t *testing.T) {
	tests := []struct {
		name       string
		searcher   *fakeSearcher
		wantStatus int
		wantCode   int
	}{
		{
			name:       "invalid request",
			searcher:   &fakeSearcher{err: indexer.NewInvalidRequestError("bad")},
			wantStatus: http.StatusBadRequest,
			wantCode:   201,
		},
		{
			name: "rate limited indexer",
			searcher: &fakeSearcher{result: &search.SearchResult{
				Releases:      []indexer.Release{},
				IndexerErrors: []search.SearchIndexerError{{IndexerID: 1, Code: indexer.ErrCodeRateLimited, Error: "rate limited"}},
			}},
			wantStatus: http.StatusTooManyRequests,
			wantCode:   500,
		},
		{
			name: "failed indexer",
			searcher: &fakeSearcher{result: &search.SearchResult{
				Releases:      []indexer.Release{},
				IndexerErrors: []search.SearchIndexerError{{IndexerID: 1, Code: indexer.ErrCodeBackend, Error: "boom"}},
			}},
			wantStatus: http.StatusInternalServerError,
			wantCode:   900,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandlers(tt.searcher, newRegistry(t, torrentIndexer(1)), "")
			rec := serve(h, "/1/api?t=search&q=x")
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)
		})
	}
}

func TestAPI_MapsLinksThroughSearch(t *testing.T) {
	backend, err := mock.New(indexer.Definition{ID: 4, Name: "Mock", Type: indexer.TypeMock},
		indexer.FactoryOptions{Logger: zerolog.Nop()})
	require.NoError(t, err)

	registry := indexer.NewService(zerolog.Nop())
	require.NoError(t, registry.Register(backend))

	mapper, err := linkmap.New("newznab-secret")
	require.NoError(t, err)

	svc := search.NewService(registry, search.NewHTTPExecutor(nil, ""), zerolog.Nop())
	svc.SetLinkMapper(mapper)

	h := NewHandlers(svc, registry, "")
	rec := serve(h, "/api/v1/indexer/4/newznab?t=movie&tmdbid=603")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var feed torznab.Feed
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &feed))
	require.NotEmpty(t, feed.Channel.Items)

	for _, item := range feed.Channel.Items {
		require.True(t, strings.HasPrefix(item.Link, "http://hub.example/api/v1/indexer/4/download?"), item.Link)

		u, err := url.Parse(item.Link)
		require.NoError(t, err)
		payload, err := mapper.Decode(u.Query().Get("link"), "hub.example")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(payload.Link, "https://mockindexer.org/torrent/603/"))
	}
}
