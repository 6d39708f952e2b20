package search

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream/indexhub/internal/indexer"
	"github.com/slipstream/indexhub/internal/indexer/linkmap"
	"github.com/slipstream/indexhub/internal/indexer/mock"
	"github.com/slipstream/indexhub/internal/indexer/status"
)

// stubBackend answers every query with a fixed list of releases.
type stubBackend struct {
	desc     *indexer.BackendDescriptor
	releases []indexer.Release
	status   int
	delay    time.Duration
	block    chan struct{}
	panics   bool

	needsLogin atomic.Bool
	reauthErr  error
	queries    atomic.Int32
	reauths    atomic.Int32
}

func newStub(id int64, releases ...indexer.Release) *stubBackend {
	for i := range releases {
		releases[i].BackendID = id
		releases[i].BackendName = "Stub " + strconv.FormatInt(id, 10)
	}
	return &stubBackend{
		desc: &indexer.BackendDescriptor{
			ID:       id,
			Name:     "Stub " + strconv.FormatInt(id, 10),
			Type:     "stub",
			Protocol: indexer.ProtocolTorrent,
			Capabilities: indexer.Capabilities{
				Kinds: map[indexer.QueryKind][]string{
					indexer.KindSearch: {indexer.ParamQ},
					indexer.KindTV:     {indexer.ParamQ, indexer.ParamSeason, indexer.ParamEpisode},
					indexer.KindMovie:  {indexer.ParamQ, indexer.ParamImdbID},
				},
			},
		},
		releases: releases,
	}
}

func (b *stubBackend) Descriptor() *indexer.BackendDescriptor { return b.desc }
func (b *stubBackend) Parser() indexer.Parser                 { return b }

func (b *stubBackend) NewGenerator(req *indexer.SearchRequest) indexer.Generator {
	if !b.desc.Capabilities.Supports(req.Kind) {
		return indexer.EmptyGenerator{}
	}
	return indexer.NewSliceGenerator(&indexer.OutboundQuery{
		Method: http.MethodGet,
		URL:    "stub://" + strconv.FormatInt(b.desc.ID, 10) + "?q=" + req.Query,
	})
}

func (b *stubBackend) Execute(ctx context.Context, q *indexer.OutboundQuery) (*indexer.RawResponse, error) {
	b.queries.Add(1)
	if b.block != nil {
		select {
		case <-b.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	resp := &indexer.RawResponse{StatusCode: http.StatusOK, Header: http.Header{}, URL: q.URL, Query: q}
	switch {
	case b.needsLogin.Load():
		resp.StatusCode = http.StatusUnauthorized
	case b.status != 0:
		resp.StatusCode = b.status
	}
	return resp, nil
}

func (b *stubBackend) Parse(pctx indexer.ParseContext, resp *indexer.RawResponse) ([]indexer.Release, error) {
	if b.panics {
		panic("parser bug")
	}
	if err := indexer.CheckResponse(pctx.Descriptor, resp); err != nil {
		return nil, err
	}
	out := make([]indexer.Release, len(b.releases))
	copy(out, b.releases)
	return out, nil
}

func (b *stubBackend) ReAuthenticate(_ context.Context, _ int64) error {
	b.reauths.Add(1)
	if b.reauthErr != nil {
		return b.reauthErr
	}
	b.needsLogin.Store(false)
	return nil
}

type testEnv struct {
	registry *indexer.Service
	health   *status.Service
	service  *Service
}

func newEnv(t *testing.T, backends ...indexer.Backend) *testEnv {
	t.Helper()
	registry := indexer.NewService(zerolog.Nop())
	health := status.NewService(zerolog.Nop())
	registry.SetHealthTracker(health)
	for _, b := range backends {
		require.NoError(t, registry.Register(b))
	}
	svc := NewService(registry, NewHTTPExecutor(nil, ""), zerolog.Nop())
	return &testEnv{registry: registry, health: health, service: svc}
}

func release(title string, date time.Time) indexer.Release {
	return indexer.Release{
		GUID:        title,
		Title:       title,
		DownloadURL: "https://tracker.example/dl/" + title + ".torrent",
		Categories:  []int{5040},
		Size:        1 << 30,
		PublishDate: date,
		Protocol:    indexer.ProtocolTorrent,
	}
}

var day = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func TestService_Search_PartialFailure(t *testing.T) {
	b1 := newStub(1, release("Show.S02E05.1080p", day), release("Show.S02E05.720p", day.Add(-time.Hour)))
	b2 := newStub(2)
	b2.status = http.StatusInternalServerError
	env := newEnv(t, b1, b2)

	result, err := env.service.Search(context.Background(), &indexer.SearchRequest{Kind: indexer.KindTV, Query: "Show"})
	require.NoError(t, err)

	assert.Equal(t, 2, result.TotalResults)
	assert.Len(t, result.Releases, 2)
	assert.Equal(t, 2, result.IndexersUsed)
	assert.NotEmpty(t, result.SearchID)

	require.Len(t, result.IndexerErrors, 1)
	assert.Equal(t, int64(2), result.IndexerErrors[0].IndexerID)
	assert.Equal(t, indexer.ErrCodeBackend, result.IndexerErrors[0].Code)

	require.Len(t, result.Diagnostics, 2)
	assert.Equal(t, OutcomeSuccess, result.Diagnostics[0].Outcome)
	assert.Equal(t, 2, result.Diagnostics[0].Results)
	assert.Equal(t, OutcomeFailed, result.Diagnostics[1].Outcome)

	assert.Equal(t, indexer.StateHealthy, env.health.Get(1).State)
	h2 := env.health.Get(2)
	assert.Equal(t, indexer.StateDegraded, h2.State)
	assert.Equal(t, 1, h2.ConsecutiveFailures)
}

func TestService_Search_SkipsSuspended(t *testing.T) {
	b1 := newStub(1, release("Movie.2024.1080p", day))
	b2 := newStub(2, release("Movie.2024.2160p", day))
	env := newEnv(t, b1, b2)

	for i := 0; i < env.health.GetConfig().FailureThreshold; i++ {
		env.health.RecordFailure(2, indexer.NewBackendError(2, "Stub 2", "unexpected status 500", nil))
	}
	require.Equal(t, indexer.StateSuspended, env.health.Get(2).State)

	result, err := env.service.Search(context.Background(), &indexer.SearchRequest{Kind: indexer.KindMovie, Query: "Movie"})
	require.NoError(t, err)

	assert.Equal(t, int32(0), b2.queries.Load(), "suspended indexer must not be queried")
	assert.Equal(t, 1, result.TotalResults)
	assert.Equal(t, 1, result.IndexersUsed)
	require.Len(t, result.Diagnostics, 2)
	assert.Equal(t, OutcomeSkipped, result.Diagnostics[1].Outcome)
	assert.Contains(t, result.Diagnostics[1].Error, "suspended")
}

func TestService_Search_AllSuspendedStillSucceeds(t *testing.T) {
	b1 := newStub(1, release("Movie.2024.1080p", day))
	env := newEnv(t, b1)
	env.health.RecordFailure(1, indexer.NewRateLimitedError(1, "Stub 1", time.Hour))

	result, err := env.service.Search(context.Background(), &indexer.SearchRequest{Kind: indexer.KindSearch, Query: "Movie"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.TotalResults)
	assert.Empty(t, result.Releases)
	assert.Equal(t, 0, result.IndexersUsed)
}

func TestService_Search_SortOrder(t *testing.T) {
	b1 := newStub(1,
		release("Beta", day),
		release("Alpha", day),
		release("Old", day.Add(-48*time.Hour)),
	)
	b2 := newStub(2,
		release("Alpha", day),
		release("Newest", day.Add(time.Hour)),
	)
	env := newEnv(t, b2, b1)

	result, err := env.service.Search(context.Background(), &indexer.SearchRequest{Kind: indexer.KindSearch, Query: "x"})
	require.NoError(t, err)

	type key struct {
		id    int64
		title string
	}
	var got []key
	for _, r := range result.Releases {
		got = append(got, key{r.BackendID, r.Title})
	}
	want := []key{
		{2, "Newest"},
		{1, "Alpha"},
		{1, "Beta"},
		{2, "Alpha"},
		{1, "Old"},
	}
	assert.Equal(t, want, got)
}

func TestService_Search_OffsetAndLimit(t *testing.T) {
	var releases []indexer.Release
	for i := 0; i < 10; i++ {
		releases = append(releases, release("R"+strconv.Itoa(i), day.Add(-time.Duration(i)*time.Hour)))
	}
	env := newEnv(t, newStub(1, releases...))

	result, err := env.service.Search(context.Background(), &indexer.SearchRequest{Kind: indexer.KindSearch, Offset: 3, Limit: 4})
	require.NoError(t, err)
	assert.Equal(t, 10, result.TotalResults)
	require.Len(t, result.Releases, 4)
	assert.Equal(t, "R3", result.Releases[0].Title)
	assert.Equal(t, "R6", result.Releases[3].Title)

	result, err = env.service.Search(context.Background(), &indexer.SearchRequest{Kind: indexer.KindSearch, Offset: 50})
	require.NoError(t, err)
	assert.Empty(t, result.Releases)
	assert.Equal(t, 10, result.TotalResults)
}

func TestService_Search_ResultCap(t *testing.T) {
	var releases []indexer.Release
	for i := 0; i < 20; i++ {
		releases = append(releases, release("R"+strconv.Itoa(i), day))
	}
	stub := newStub(1, releases...)
	stub.desc.Limits.MaxResults = 5
	env := newEnv(t, stub)

	result, err := env.service.Search(context.Background(), &indexer.SearchRequest{Kind: indexer.KindSearch})
	require.NoError(t, err)
	assert.Equal(t, 5, result.TotalResults)
}

func TestService_Search_CategoryFilter(t *testing.T) {
	movie := release("Movie.2024", day)
	movie.Categories = []int{2040}
	env := newEnv(t, newStub(1, release("Show.S01E01", day), movie))

	result, err := env.service.Search(context.Background(), &indexer.SearchRequest{Kind: indexer.KindSearch, Categories: []int{5000}})
	require.NoError(t, err)
	require.Len(t, result.Releases, 1)
	assert.Equal(t, "Show.S01E01", result.Releases[0].Title)
}

func TestService_Search_CancellationKeepsCompleted(t *testing.T) {
	fast := newStub(1, release("Fast", day))
	slow := newStub(2, release("Slow", day))
	slow.delay = 5 * time.Second
	env := newEnv(t, fast, slow)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	result, err := env.service.Search(ctx, &indexer.SearchRequest{Kind: indexer.KindSearch})
	require.NoError(t, err)

	require.Len(t, result.Releases, 1)
	assert.Equal(t, "Fast", result.Releases[0].Title)
	require.Len(t, result.Diagnostics, 2)
	assert.Equal(t, OutcomeCancelled, result.Diagnostics[1].Outcome)
	assert.Empty(t, result.IndexerErrors)

	h := env.health.Get(2)
	assert.Equal(t, indexer.StateHealthy, h.State)
	assert.Zero(t, h.ConsecutiveFailures, "cancellation must not count as failure")
}

func TestService_Search_PerIndexerTimeout(t *testing.T) {
	slow := newStub(1, release("Slow", day))
	slow.delay = 2 * time.Second
	slow.desc.Limits.Timeout = 50 * time.Millisecond
	env := newEnv(t, slow)

	result, err := env.service.Search(context.Background(), &indexer.SearchRequest{Kind: indexer.KindSearch})
	require.NoError(t, err)

	assert.Empty(t, result.Releases)
	require.Len(t, result.IndexerErrors, 1)
	assert.Equal(t, indexer.ErrCodeBackend, result.IndexerErrors[0].Code)
	assert.Contains(t, result.IndexerErrors[0].Error, "timed out")
	assert.Equal(t, 1, env.health.Get(1).ConsecutiveFailures)
}

func TestService_Search_ReauthenticatesOnce(t *testing.T) {
	stub := newStub(1, release("Private.Release", day))
	stub.needsLogin.Store(true)
	env := newEnv(t, stub)

	result, err := env.service.Search(context.Background(), &indexer.SearchRequest{Kind: indexer.KindSearch})
	require.NoError(t, err)

	assert.Equal(t, int32(1), stub.reauths.Load())
	assert.Equal(t, int32(2), stub.queries.Load())
	assert.Len(t, result.Releases, 1)
	assert.Equal(t, OutcomeSuccess, result.Diagnostics[0].Outcome)
	assert.Equal(t, 2, result.Diagnostics[0].Queries)
}

func TestService_Search_ReauthFailureIsBackendError(t *testing.T) {
	stub := newStub(1, release("Private.Release", day))
	stub.needsLogin.Store(true)
	stub.reauthErr = errors.New("bad credentials")
	env := newEnv(t, stub)

	result, err := env.service.Search(context.Background(), &indexer.SearchRequest{Kind: indexer.KindSearch})
	require.NoError(t, err)

	assert.Equal(t, int32(1), stub.reauths.Load())
	assert.Equal(t, int32(1), stub.queries.Load())
	require.Len(t, result.IndexerErrors, 1)
	assert.Equal(t, indexer.ErrCodeBackend, result.IndexerErrors[0].Code)
	assert.Equal(t, 1, env.health.Get(1).ConsecutiveFailures)
}

func TestService_Search_PanickingIndexerIsIsolated(t *testing.T) {
	good := newStub(1, release("Good", day))
	bad := newStub(2, release("Bad", day))
	bad.panics = true
	env := newEnv(t, good, bad)

	result, err := env.service.Search(context.Background(), &indexer.SearchRequest{Kind: indexer.KindSearch})
	require.NoError(t, err)
	assert.Len(t, result.Releases, 1)
	require.Len(t, result.IndexerErrors, 1)
	assert.Equal(t, int64(2), result.IndexerErrors[0].IndexerID)
}

func TestService_Search_Validation(t *testing.T) {
	env := newEnv(t, newStub(1))

	tests := []struct {
		name string
		req  *indexer.SearchRequest
	}{
		{"unknown kind", &indexer.SearchRequest{Kind: "anime"}},
		{"unknown indexer", &indexer.SearchRequest{Kind: indexer.KindSearch, BackendIDs: []int64{99}}},
		{"unsupported kind", &indexer.SearchRequest{Kind: indexer.KindMusic, Artist: "Someone"}},
		{"bad imdb id", &indexer.SearchRequest{Kind: indexer.KindMovie, ImdbID: "tt12ab"}},
		{"zero imdb id", &indexer.SearchRequest{Kind: indexer.KindMovie, ImdbID: "tt0000"}},
		{"negative offset", &indexer.SearchRequest{Kind: indexer.KindSearch, Offset: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.service.Search(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, indexer.IsInvalidRequest(err), "got %v", err)
		})
	}
}

func TestService_Search_MapsLinks(t *testing.T) {
	env := newEnv(t, newStub(1, release("Show.S01E01", day)))
	mapper, err := linkmap.New("test-secret")
	require.NoError(t, err)
	env.service.SetLinkMapper(mapper)

	caller := indexer.Caller{Host: "api.example", ServerURL: "http://api.example"}
	result, err := env.service.Search(context.Background(), &indexer.SearchRequest{Kind: indexer.KindSearch, Caller: caller})
	require.NoError(t, err)
	require.Len(t, result.Releases, 1)

	link := result.Releases[0].DownloadURL
	assert.True(t, strings.HasPrefix(link, "http://api.example/api/v1/indexer/1/download?"), link)

	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "Show.S01E01", u.Query().Get("file"))
	payload, err := mapper.Decode(u.Query().Get("link"), "api.example")
	require.NoError(t, err)
	assert.Equal(t, "https://tracker.example/dl/Show.S01E01.torrent", payload.Link)
}

type recordingBroadcaster struct {
	events []string
}

func (r *recordingBroadcaster) Broadcast(msgType string, _ interface{}) error {
	r.events = append(r.events, msgType)
	return nil
}

func TestService_Search_BroadcastsEvents(t *testing.T) {
	env := newEnv(t, newStub(1, release("A", day)))
	b := &recordingBroadcaster{}
	env.service.SetBroadcaster(b)

	_, err := env.service.Search(context.Background(), &indexer.SearchRequest{Kind: indexer.KindSearch})
	require.NoError(t, err)
	assert.Equal(t, []string{indexer.EventSearchStarted, indexer.EventSearchCompleted}, b.events)
}

func TestService_Search_MockTVScenario(t *testing.T) {
	b, err := mock.New(indexer.Definition{ID: 7, Name: "Mock", Type: indexer.TypeMock},
		indexer.FactoryOptions{Logger: zerolog.Nop()})
	require.NoError(t, err)
	env := newEnv(t, b)

	result, err := env.service.Search(context.Background(), &indexer.SearchRequest{
		Kind:    indexer.KindTV,
		TvdbID:  81189,
		Season:  2,
		Episode: "5",
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Releases)

	for i, r := range result.Releases {
		assert.Contains(t, r.Title, "S02E05")
		assert.Equal(t, int64(7), r.BackendID)
		if i > 0 {
			assert.False(t, r.PublishDate.After(result.Releases[i-1].PublishDate), "releases not sorted by date")
		}
	}
}

func TestService_Search_MockAuthFailureRecovers(t *testing.T) {
	b, err := mock.New(indexer.Definition{
		ID: 3, Name: "Mock", Type: indexer.TypeMock,
		Settings: map[string]string{"failure": mock.FailureAuth},
	}, indexer.FactoryOptions{Logger: zerolog.Nop()})
	require.NoError(t, err)
	env := newEnv(t, b)

	result, err := env.service.Search(context.Background(), &indexer.SearchRequest{Kind: indexer.KindMovie, TmdbID: 603})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Releases)
	assert.Equal(t, int64(2), b.(*mock.Backend).Queries())
}

func TestService_Search_NormalizesParserOutput(t *testing.T) {
	good := release("Show.S01E01.720p", day)
	good.BackendID = 777
	good.BackendName = "Somebody Else"
	good.Protocol = indexer.ProtocolUsenet
	good.Categories = nil

	bad := release("Show.S01E01.Broken", day)
	bad.Size = -42
	bad.BackendID = 777

	b3 := newStub(3)
	b3.releases = []indexer.Release{good, bad}
	env := newEnv(t, b3)

	result, err := env.service.Search(context.Background(), &indexer.SearchRequest{Kind: indexer.KindSearch, Query: "Show"})
	require.NoError(t, err)

	require.Len(t, result.Releases, 1)
	got := result.Releases[0]
	assert.Equal(t, "Show.S01E01.720p", got.Title)
	assert.Equal(t, int64(3), got.BackendID)
	assert.Equal(t, "Stub 3", got.BackendName)
	assert.Equal(t, indexer.ProtocolTorrent, got.Protocol)
	assert.Equal(t, []int{indexer.CategoryOther}, got.Categories)

	require.Len(t, result.Diagnostics, 1)
	assert.Equal(t, OutcomeSuccess, result.Diagnostics[0].Outcome)
	assert.Equal(t, 1, result.Diagnostics[0].Results)
	assert.Equal(t, 1, result.Diagnostics[0].Rejected)
}

func TestService_Search_UncategorizedReleaseMatchesOtherFilter(t *testing.T) {
	r := release("Misc.Thing", day)
	r.Categories = nil
	b1 := newStub(1, r)
	env := newEnv(t, b1)

	result, err := env.service.Search(context.Background(), &indexer.SearchRequest{
		Kind: indexer.KindSearch, Query: "Misc", Categories: []int{indexer.CategoryOther},
	})
	require.NoError(t, err)
	assert.Len(t, result.Releases, 1)
}

func TestService_Search_SingleAttemptAfterBackoff(t *testing.T) {
	b1 := newStub(1, release("Show.S01E01", day))
	env := newEnv(t, b1)

	now := day
	var clockMu sync.Mutex
	env.health.SetClock(func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	})
	for i := 0; i < 3; i++ {
		env.health.RecordFailure(1, indexer.NewBackendError(1, "Stub 1", "unexpected status 500", nil))
	}
	require.Equal(t, indexer.StateSuspended, env.health.Get(1).State)

	clockMu.Lock()
	now = now.Add(6 * time.Minute)
	clockMu.Unlock()

	b1.block = make(chan struct{})
	results := make(chan *SearchResult, 5)
	for i := 0; i < 5; i++ {
		go func() {
			result, err := env.service.Search(context.Background(), &indexer.SearchRequest{Kind: indexer.KindSearch, Query: "Show"})
			assert.NoError(t, err)
			results <- result
		}()
	}

	skipped := 0
	for i := 0; i < 4; i++ {
		r := <-results
		require.Len(t, r.Diagnostics, 1)
		if r.Diagnostics[0].Outcome == OutcomeSkipped {
			skipped++
		}
	}
	close(b1.block)
	last := <-results

	assert.Equal(t, 4, skipped)
	assert.Equal(t, int32(1), b1.queries.Load(), "only one search may reach the recovering indexer")
	require.Len(t, last.Diagnostics, 1)
	assert.Equal(t, OutcomeSuccess, last.Diagnostics[0].Outcome)
	assert.Equal(t, indexer.StateHealthy, env.health.Get(1).State)
}

func TestService_Search_CancelledAttemptReleasesClaim(t *testing.T) {
	b1 := newStub(1, release("Show.S01E01", day))
	env := newEnv(t, b1)

	now := day
	env.health.SetClock(func() time.Time { return now })
	for i := 0; i < 3; i++ {
		env.health.RecordFailure(1, indexer.NewBackendError(1, "Stub 1", "unexpected status 500", nil))
	}
	now = now.Add(6 * time.Minute)

	b1.block = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := env.service.Search(ctx, &indexer.SearchRequest{Kind: indexer.KindSearch, Query: "Show"})
	require.NoError(t, err)
	require.Len(t, result.Diagnostics, 1)
	assert.Equal(t, OutcomeCancelled, result.Diagnostics[0].Outcome)

	b1.block = nil
	result, err = env.service.Search(context.Background(), &indexer.SearchRequest{Kind: indexer.KindSearch, Query: "Show"})
	require.NoError(t, err)
	require.Len(t, result.Diagnostics, 1)
	assert.Equal(t, OutcomeSuccess, result.Diagnostics[0].Outcome)
}
