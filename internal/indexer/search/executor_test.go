package search

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream/indexhub/internal/indexer"
)

// httpBackend sends one GET to a fixed URL and accepts any 2xx answer.
type httpBackend struct {
	desc *indexer.BackendDescriptor
	url  string
}

func (b *httpBackend) Descriptor() *indexer.BackendDescriptor { return b.desc }
func (b *httpBackend) Parser() indexer.Parser                 { return b }

func (b *httpBackend) NewGenerator(*indexer.SearchRequest) indexer.Generator {
	return indexer.NewSliceGenerator(&indexer.OutboundQuery{Method: http.MethodGet, URL: b.url})
}

func (b *httpBackend) Parse(pctx indexer.ParseContext, resp *indexer.RawResponse) ([]indexer.Release, error) {
	return nil, indexer.CheckResponse(pctx.Descriptor, resp)
}

func newHTTPBackend(id int64, url string) *httpBackend {
	return &httpBackend{
		desc: &indexer.BackendDescriptor{
			ID:       id,
			Name:     "Remote",
			Protocol: indexer.ProtocolTorrent,
			Capabilities: indexer.Capabilities{
				Kinds: map[indexer.QueryKind][]string{indexer.KindSearch: {indexer.ParamQ}},
			},
		},
		url: url,
	}
}

func closedServerURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	u := srv.URL
	srv.Close()
	return u
}

func TestService_Search_TransportErrorHidesCredentials(t *testing.T) {
	backend := newHTTPBackend(9, closedServerURL(t)+"/api?t=search&apikey=SECRETAPIKEY")
	env := newEnv(t, backend)

	result, err := env.service.Search(context.Background(), &indexer.SearchRequest{Kind: indexer.KindSearch, Query: "x"})
	require.NoError(t, err)

	require.Len(t, result.IndexerErrors, 1)
	assert.Equal(t, indexer.ErrCodeBackend, result.IndexerErrors[0].Code)
	assert.NotContains(t, result.IndexerErrors[0].Error, "SECRETAPIKEY")
	assert.NotContains(t, result.IndexerErrors[0].Error, "/api")
	for _, d := range result.Diagnostics {
		assert.NotContains(t, d.Error, "SECRETAPIKEY")
	}

	health := env.health.Get(9)
	assert.Equal(t, indexer.StateDegraded, health.State)
	assert.NotContains(t, health.LastFailureMessage, "SECRETAPIKEY")
}

func TestHTTPExecutor_RejectsOversizedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("a"), maxResponseSize+1))
	}))
	defer srv.Close()

	backend := newHTTPBackend(1, srv.URL)
	q := &indexer.OutboundQuery{Method: http.MethodGet, URL: srv.URL}

	_, err := NewHTTPExecutor(nil, "").Execute(context.Background(), backend, q)
	require.Error(t, err)
	assert.Equal(t, indexer.ErrCodeBackend, indexer.GetErrorCode(err))
	assert.Contains(t, err.Error(), "too large")
}

func TestHTTPExecutor_AcceptsResponseAtLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("a"), maxResponseSize))
	}))
	defer srv.Close()

	resp, err := NewHTTPExecutor(nil, "").Execute(context.Background(), newHTTPBackend(1, srv.URL),
		&indexer.OutboundQuery{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	assert.Len(t, resp.Body, maxResponseSize)
}
