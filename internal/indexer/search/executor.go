package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/slipstream/indexhub/internal/indexer"
)

// DefaultUserAgent is sent to backends that do not configure their own.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// maxResponseSize bounds how much of a backend response is read.
const maxResponseSize = 16 << 20

// QueryExecutor runs one outbound query against a backend.
type QueryExecutor interface {
	Execute(ctx context.Context, backend indexer.Backend, q *indexer.OutboundQuery) (*indexer.RawResponse, error)
}

// HTTPExecutor executes queries over HTTP. Backends implementing
// indexer.Executor answer their own queries; backends implementing
// indexer.HTTPClientProvider get their own client.
type HTTPExecutor struct {
	client    *http.Client
	userAgent string
}

// NewHTTPExecutor creates an executor around a shared client.
func NewHTTPExecutor(client *http.Client, userAgent string) *HTTPExecutor {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &HTTPExecutor{client: client, userAgent: userAgent}
}

// Execute performs q and returns the unparsed response. Non-2xx statuses
// are returned as responses, not errors; parsers classify them.
func (e *HTTPExecutor) Execute(ctx context.Context, backend indexer.Backend, q *indexer.OutboundQuery) (*indexer.RawResponse, error) {
	if ex, ok := backend.(indexer.Executor); ok {
		return ex.Execute(ctx, q)
	}

	client := e.client
	if p, ok := backend.(indexer.HTTPClientProvider); ok {
		if c := p.HTTPClient(); c != nil {
			client = c
		}
	}

	method := q.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader = http.NoBody
	if q.Body != "" {
		body = strings.NewReader(q.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.URL, body)
	if err != nil {
		return nil, errors.New("failed to create request: invalid query URL")
	}
	for k, vs := range q.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", e.userAgent)
	}
	if q.Body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, indexer.StripURL(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", indexer.StripURL(err))
	}
	if len(data) > maxResponseSize {
		desc := backend.Descriptor()
		return nil, indexer.NewBackendError(desc.ID, desc.Name,
			fmt.Sprintf("response too large (over %d bytes)", maxResponseSize), nil)
	}

	return &indexer.RawResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		URL:        resp.Request.URL.String(),
		Query:      q,
	}, nil
}
