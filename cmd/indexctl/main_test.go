package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream/indexhub/internal/indexer"
	"github.com/slipstream/indexhub/internal/scheduler"
)

func TestSearchQuery(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    map[string]string
		wantErr bool
	}{
		{
			name: "free text",
			args: []string{"ubuntu", "iso"},
			want: map[string]string{"type": "search", "query": "ubuntu iso", "limit": "50"},
		},
		{
			name: "tv by id",
			args: []string{"-t", "tvsearch", "--tvdb", "81189", "--season", "2", "--ep", "5", "-i", "1,3"},
			want: map[string]string{"type": "tvsearch", "tvdbId": "81189", "season": "2", "ep": "5", "indexerIds": "1,3", "limit": "50"},
		},
		{
			name: "movie by imdb",
			args: []string{"-t", "movie", "--imdb", "tt0133093", "-n", "10", "-c", "2000"},
			want: map[string]string{"type": "movie", "imdbId": "tt0133093", "limit": "10", "categories": "2000"},
		},
		{name: "nothing to search", args: nil, wantErr: true},
		{name: "bad flag", args: []string{"--nope"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := searchQuery(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			got := map[string]string{}
			for k := range q {
				got[k] = q.Get(k)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClient(t *testing.T) {
	var ran string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/api/v1/indexer":
			_, _ = w.Write([]byte(`[{"id":1,"name":"Mock","type":"mock","protocol":"torrent","health":{"indexerId":1,"state":"degraded"}}]`))
		case r.URL.Path == "/api/v1/health":
			_, _ = w.Write([]byte(`{"summary":{"total":1,"healthy":0,"degraded":0,"suspended":1},"indexers":[{"indexerId":2,"name":"Broken","state":"suspended","consecutiveFailures":3,"retryInSeconds":120}]}`))
		case r.URL.Path == "/api/v1/search":
			assert.Equal(t, "matrix", r.URL.Query().Get("query"))
			_, _ = w.Write([]byte(`{"searchId":"x","releases":[{"title":"The.Matrix.1999.1080p","size":1073741824}],"total":1,"indexersSearched":1}`))
		case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/api/v1/system/tasks/"):
			ran = r.URL.Path
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"task is already running: audit-prune"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newClient(srv.URL + "/")
	ctx := context.Background()

	list, err := c.indexers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Mock", list[0].Name)
	assert.Equal(t, indexer.StateDegraded, list[0].Health.State)

	result, err := c.search(ctx, map[string][]string{"query": {"matrix"}})
	require.NoError(t, err)
	require.Len(t, result.Releases, 1)

	err = c.runTask(ctx, "audit-prune")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
	assert.Equal(t, "/api/v1/system/tasks/audit-prune/run", ran)

	report, err := c.health(ctx)
	require.NoError(t, err)
	require.NotNil(t, report.Summary)
	assert.Equal(t, 1, report.Summary.Suspended)
	require.Len(t, report.Indexers, 1)
	assert.Equal(t, "Broken", report.Indexers[0].Name)
	assert.Equal(t, int64(120), report.Indexers[0].RetryInSeconds)
	assert.Equal(t, indexer.StateSuspended, report.Indexers[0].State)

	_, err = c.history(ctx, 10)
	assert.ErrorContains(t, err, "404")
}

func TestTables(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	until := now.Add(time.Hour)
	failed := now.Add(-time.Minute)

	health := healthTable([]indexer.HealthReportEntry{
		{BackendHealth: indexer.BackendHealth{BackendID: 1, State: indexer.StateHealthy}, Name: "Mock"},
		{
			BackendHealth: indexer.BackendHealth{
				BackendID: 2, State: indexer.StateSuspended, ConsecutiveFailures: 3,
				BackoffUntil: &until, LastFailure: &failed, LastFailureMessage: "HTTP 500",
			},
			Name:           "Broken",
			RetryInSeconds: 3600,
		},
	}, now)
	require.Len(t, health, 3)
	assert.Equal(t, "Mock", health[1][1])
	assert.Equal(t, "-", health[1][4])
	assert.Equal(t, "until 1 hour from now", health[2][4])
	assert.Equal(t, "1 minute ago: HTTP 500", health[2][5])

	seeders := 12
	releases := releasesTable([]indexer.Release{{Title: "A", BackendName: "Mock", Size: 1536 << 20, Seeders: &seeders}})
	require.Len(t, releases, 2)
	assert.Equal(t, "1.5 GiB", releases[1][2])
	assert.Equal(t, "12", releases[1][3])

	tasks := tasksTable([]scheduler.TaskInfo{{ID: "a", Cron: "0 3 * * *", LastError: "boom"}})
	assert.Equal(t, "failed: boom", tasks[1][4])
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}

func TestIndexerInfoDecodes(t *testing.T) {
	var info indexerInfo
	require.NoError(t, json.Unmarshal([]byte(`{"id":4,"name":"X","health":{"state":"healthy"}}`), &info))
	assert.Equal(t, int64(4), info.ID)
	assert.Equal(t, indexer.StateHealthy, info.Health.State)
}
