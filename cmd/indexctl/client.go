package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/slipstream/indexhub/internal/indexer"
	"github.com/slipstream/indexhub/internal/indexer/proxy"
	"github.com/slipstream/indexhub/internal/indexer/search"
	"github.com/slipstream/indexhub/internal/scheduler"
)

// client talks to the REST API of a running server.
type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// indexerInfo is one entry of the indexer list.
type indexerInfo struct {
	indexer.BackendDescriptor
	Health indexer.BackendHealth `json:"health"`
}

func (c *client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "indexctl")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &apiErr) == nil {
			if apiErr.Error != "" {
				return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
			}
			if apiErr.Message != "" {
				return fmt.Errorf("%s: %s", resp.Status, apiErr.Message)
			}
		}
		return fmt.Errorf("%s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

func (c *client) indexers(ctx context.Context) ([]indexerInfo, error) {
	var out []indexerInfo
	return out, c.do(ctx, http.MethodGet, "/api/v1/indexer", nil, &out)
}

func (c *client) health(ctx context.Context) (*indexer.HealthReport, error) {
	var out indexer.HealthReport
	return &out, c.do(ctx, http.MethodGet, "/api/v1/health", nil, &out)
}

func (c *client) resetHealth(ctx context.Context, id string) (*indexer.BackendHealth, error) {
	var out indexer.BackendHealth
	return &out, c.do(ctx, http.MethodPost, "/api/v1/health/"+url.PathEscape(id)+"/reset", nil, &out)
}

func (c *client) search(ctx context.Context, query url.Values) (*search.SearchResult, error) {
	var out search.SearchResult
	return &out, c.do(ctx, http.MethodGet, "/api/v1/search", query, &out)
}

func (c *client) tasks(ctx context.Context) ([]scheduler.TaskInfo, error) {
	var out []scheduler.TaskInfo
	return out, c.do(ctx, http.MethodGet, "/api/v1/system/tasks", nil, &out)
}

func (c *client) runTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/system/tasks/"+url.PathEscape(id)+"/run", nil, nil)
}

func (c *client) history(ctx context.Context, limit int) ([]proxy.HistoryItem, error) {
	var out []proxy.HistoryItem
	q := url.Values{}
	q.Set("limit", fmt.Sprint(limit))
	return out, c.do(ctx, http.MethodGet, "/api/v1/downloads/history", q, &out)
}
