package jsonapi

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream/indexhub/internal/indexer"
)

const apiDefinition = `
url: "{{ .BaseURL }}/api/list.json?query_term={{ .Query }}&page={{ .Page }}&limit={{ .Limit }}"
pageSize: 3
list: data.movies
kinds: [search, movie]
trackers:
  - udp://tracker.example:1337/announce
fields:
  title: title_long
  infohash: torrents.0.hash
  sizeText: torrents.0.size
  seeders: torrents.0.seeds
  peers: torrents.0.peers
  date: date_uploaded_unix
  imdb: imdb_code
  infoUrl: url
`

const apiResponse = `{
  "status": "ok",
  "data": {
    "movies": [
      {"title_long": "Some Movie (2024)", "url": "https://api.example/m/1", "imdb_code": "tt0111161",
       "date_uploaded_unix": 1714989600,
       "torrents": [{"hash": "0123456789ABCDEF0123456789ABCDEF01234567", "size": "1.5 GB", "seeds": 40, "peers": 3}]},
      {"title_long": "", "torrents": [{"hash": "0123456789abcdef0123456789abcdef01234567"}]},
      {"title_long": "Bad Hash", "torrents": [{"hash": "zz"}]}
    ]
  }
}`

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	cfg, err := ParseConfig([]byte(apiDefinition))
	require.NoError(t, err)

	b, err := NewWithConfig(indexer.Definition{
		ID: 4, Name: "API", Type: indexer.TypeJSONAPI, BaseURLs: []string{"https://api.example"},
	}, cfg, indexer.FactoryOptions{Logger: zerolog.Nop()})
	require.NoError(t, err)
	return b
}

func TestGenerator_RendersTemplate(t *testing.T) {
	b := newTestBackend(t)
	gen := b.NewGenerator(&indexer.SearchRequest{Kind: indexer.KindMovie, Query: "some movie"})

	q, ok, err := gen.Next(nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://api.example/api/list.json?query_term=some+movie&page=1&limit=3", q.URL)

	// A short page ends the sequence.
	_, ok, _ = gen.Next(&indexer.RawResponse{Body: []byte(apiResponse)})
	assert.True(t, ok, "a full page of three rows asks for the next page")

	_, ok, _ = gen.Next(&indexer.RawResponse{Body: []byte(`{"data":{"movies":[]}}`)})
	assert.False(t, ok)
}

func TestGenerator_UnsupportedKind(t *testing.T) {
	b := newTestBackend(t)
	_, ok, _ := b.NewGenerator(&indexer.SearchRequest{Kind: indexer.KindTV}).Next(nil)
	assert.False(t, ok)
}

func TestParse(t *testing.T) {
	b := newTestBackend(t)
	pctx := indexer.ParseContext{Descriptor: b.Descriptor(), Logger: zerolog.Nop()}

	releases, err := b.Parse(pctx, &indexer.RawResponse{StatusCode: 200, Body: []byte(apiResponse)})
	require.NoError(t, err)
	require.Len(t, releases, 1)

	r := releases[0]
	assert.Equal(t, "Some Movie (2024)", r.Title)
	assert.Equal(t, "0123456789abcdef0123456789abcdef01234567", r.InfoHash)
	assert.True(t, strings.HasPrefix(r.MagnetURL, "magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567"))
	assert.Contains(t, r.MagnetURL, "tr=udp")
	assert.Equal(t, int64(1500000000), r.Size)
	assert.Equal(t, time.Unix(1714989600, 0).UTC(), r.PublishDate)
	assert.Equal(t, 111161, r.ImdbID)
	require.NotNil(t, r.Seeders)
	assert.Equal(t, 40, *r.Seeders)
	assert.Equal(t, []int{indexer.CategoryOther}, r.Categories)
}

func TestParse_Failures(t *testing.T) {
	b := newTestBackend(t)
	pctx := indexer.ParseContext{Descriptor: b.Descriptor(), Logger: zerolog.Nop()}

	_, err := b.Parse(pctx, &indexer.RawResponse{StatusCode: 200, Body: []byte(`<html>`)})
	assert.Equal(t, indexer.ErrCodeMalformedResponse, indexer.GetErrorCode(err))

	_, err = b.Parse(pctx, &indexer.RawResponse{StatusCode: 403, Body: nil})
	assert.True(t, indexer.IsAuthRequired(err))

	releases, err := b.Parse(pctx, &indexer.RawResponse{StatusCode: 200, Body: []byte(`{"status":"ok","data":{}}`)})
	assert.NoError(t, err)
	assert.Empty(t, releases)
}

func TestParseConfig_Validation(t *testing.T) {
	_, err := ParseConfig([]byte(`fields: {title: name, link: url}`))
	assert.Error(t, err)

	_, err = ParseConfig([]byte(`url: "x"
fields: {title: name}`))
	assert.Error(t, err)
}
