package indexer

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Backend is one indexer variant. The federation core only talks to a
// backend through its descriptor, its request generator and its parser.
type Backend interface {
	// Descriptor returns the static capability description.
	Descriptor() *BackendDescriptor

	// NewGenerator returns a fresh query sequence for one search.
	NewGenerator(req *SearchRequest) Generator

	// Parser returns the response parser.
	Parser() Parser
}

// Generator produces the outbound queries of one search against one
// backend. Next is called with nil first and then with the response to the
// previously returned query; it returns false once the sequence is
// exhausted. Next never performs network I/O.
type Generator interface {
	Next(prev *RawResponse) (*OutboundQuery, bool, error)
}

// Parser converts one raw response into normalized releases. A malformed
// row is skipped; a response that cannot be understood at all yields a
// typed error (AuthRequired, RateLimited, MalformedResponse, BackendError).
type Parser interface {
	Parse(pctx ParseContext, resp *RawResponse) ([]Release, error)
}

// ParseContext carries what a parser needs besides the response itself.
type ParseContext struct {
	Descriptor *BackendDescriptor
	Request    *SearchRequest
	Categories *CategoryMap
	Logger     zerolog.Logger
}

// HTTPClientProvider is implemented by backends that need their own HTTP
// client, e.g. to keep a cookie session.
type HTTPClientProvider interface {
	HTTPClient() *http.Client
}

// Executor is implemented by backends that answer their own queries
// without HTTP, such as the in-process mock.
type Executor interface {
	Execute(ctx context.Context, q *OutboundQuery) (*RawResponse, error)
}

// Authenticator re-establishes a backend session after AuthRequired.
type Authenticator interface {
	ReAuthenticate(ctx context.Context, backendID int64) error
}

// Registry is the view of configured backends consumed by the core.
type Registry interface {
	ListBackends() []*BackendDescriptor
	Backend(id int64) (Backend, error)
	GetHealth(backendID int64) BackendHealth
	RecordOutcome(backendID int64, outcome Outcome)
}

// Outcome is the terminal result of one backend's part in a search.
type Outcome struct {
	Err error
	At  time.Time
}

// Succeeded reports whether the outcome carries no error.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// SliceGenerator yields a fixed list of queries, ignoring responses.
type SliceGenerator struct {
	queries []*OutboundQuery
	pos     int
}

// NewSliceGenerator creates a generator over queries.
func NewSliceGenerator(queries ...*OutboundQuery) *SliceGenerator {
	return &SliceGenerator{queries: queries}
}

// Next returns the next query of the list.
func (g *SliceGenerator) Next(_ *RawResponse) (*OutboundQuery, bool, error) {
	if g.pos >= len(g.queries) {
		return nil, false, nil
	}
	q := g.queries[g.pos]
	g.pos++
	return q, true, nil
}

// PagedGenerator asks for pages until a page comes back short or the
// page builder declines.
type PagedGenerator struct {
	build    func(page int) *OutboundQuery
	pageSize int
	page     int
	count    func(resp *RawResponse) int
}

// NewPagedGenerator creates a generator that calls build for pages 0,1,...
// count reports the number of rows of a response; a page with fewer than
// pageSize rows ends the sequence.
func NewPagedGenerator(pageSize int, build func(page int) *OutboundQuery, count func(resp *RawResponse) int) *PagedGenerator {
	return &PagedGenerator{build: build, pageSize: pageSize, count: count}
}

// Next returns the query for the next page.
func (g *PagedGenerator) Next(prev *RawResponse) (*OutboundQuery, bool, error) {
	if prev != nil {
		if g.count == nil || g.pageSize <= 0 || g.count(prev) < g.pageSize {
			return nil, false, nil
		}
	}
	q := g.build(g.page)
	if q == nil {
		return nil, false, nil
	}
	q.Page = g.page
	g.page++
	return q, true, nil
}

// EmptyGenerator yields nothing. Generators return it for unsupported kinds.
type EmptyGenerator struct{}

// Next always reports exhaustion.
func (EmptyGenerator) Next(_ *RawResponse) (*OutboundQuery, bool, error) {
	return nil, false, nil
}
