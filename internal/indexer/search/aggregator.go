package search

import (
	"sort"
	"time"

	"github.com/slipstream/indexhub/internal/indexer"
)

// Outcome is how one indexer's part in a search ended.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeThrottled Outcome = "throttled"
)

// SearchResult contains aggregated search results.
type SearchResult struct {
	SearchID      string               `json:"searchId"`
	Releases      []indexer.Release    `json:"releases"`
	TotalResults  int                  `json:"total"`
	IndexersUsed  int                  `json:"indexersSearched"`
	IndexerErrors []SearchIndexerError `json:"errors,omitempty"`
	Diagnostics   []Diagnostic         `json:"diagnostics"`
}

// SearchIndexerError represents an error from a specific indexer during search.
type SearchIndexerError struct {
	IndexerID   int64  `json:"indexerId"`
	IndexerName string `json:"indexerName"`
	Code        string `json:"code,omitempty"`
	Error       string `json:"error"`
}

// Diagnostic describes what happened with one indexer.
type Diagnostic struct {
	IndexerID   int64   `json:"indexerId"`
	IndexerName string  `json:"indexerName"`
	Outcome     Outcome `json:"outcome"`
	Code        string  `json:"code,omitempty"`
	Error       string  `json:"error,omitempty"`
	Results     int     `json:"results"`
	Rejected    int     `json:"rejected,omitempty"`
	Queries     int     `json:"queries"`
	ElapsedMs   int64   `json:"elapsedMs"`
}

// taskResult is the result of a single indexer search.
type taskResult struct {
	desc     *indexer.BackendDescriptor
	releases []indexer.Release
	outcome  Outcome
	err      error
	queries  int
	rejected int
	elapsed  time.Duration
}

// aggregateResults merges the per-indexer results. Releases are not
// deduplicated. TotalResults counts the merged releases before offset and
// limit are applied.
func aggregateResults(results []taskResult, skipped []Diagnostic, offset, limit int) *SearchResult {
	result := &SearchResult{
		Releases:     []indexer.Release{},
		IndexersUsed: len(results),
		Diagnostics:  make([]Diagnostic, 0, len(results)+len(skipped)),
	}

	var all []indexer.Release
	for _, r := range results {
		all = append(all, r.releases...)

		d := Diagnostic{
			IndexerID:   r.desc.ID,
			IndexerName: r.desc.Name,
			Outcome:     r.outcome,
			Results:     len(r.releases),
			Rejected:    r.rejected,
			Queries:     r.queries,
			ElapsedMs:   r.elapsed.Milliseconds(),
		}
		if r.err != nil {
			d.Code = indexer.GetErrorCode(r.err)
			d.Error = r.err.Error()
		}
		if r.outcome == OutcomeFailed {
			result.IndexerErrors = append(result.IndexerErrors, SearchIndexerError{
				IndexerID:   r.desc.ID,
				IndexerName: r.desc.Name,
				Code:        d.Code,
				Error:       d.Error,
			})
		}
		result.Diagnostics = append(result.Diagnostics, d)
	}
	result.Diagnostics = append(result.Diagnostics, skipped...)
	sort.Slice(result.Diagnostics, func(i, j int) bool {
		return result.Diagnostics[i].IndexerID < result.Diagnostics[j].IndexerID
	})
	sort.Slice(result.IndexerErrors, func(i, j int) bool {
		return result.IndexerErrors[i].IndexerID < result.IndexerErrors[j].IndexerID
	})

	sortReleases(all)
	result.TotalResults = len(all)
	result.Releases = paginate(all, offset, limit)
	return result
}

// sortReleases orders by publish date (newest first), then indexer id, then
// title.
func sortReleases(releases []indexer.Release) {
	sort.SliceStable(releases, func(i, j int) bool {
		a, b := releases[i], releases[j]
		if !a.PublishDate.Equal(b.PublishDate) {
			return a.PublishDate.After(b.PublishDate)
		}
		if a.BackendID != b.BackendID {
			return a.BackendID < b.BackendID
		}
		return a.Title < b.Title
	})
}

// paginate applies offset and limit. A limit of zero means no limit.
func paginate(releases []indexer.Release, offset, limit int) []indexer.Release {
	if offset >= len(releases) {
		return []indexer.Release{}
	}
	if offset > 0 {
		releases = releases[offset:]
	}
	if limit > 0 && limit < len(releases) {
		releases = releases[:limit]
	}
	if releases == nil {
		return []indexer.Release{}
	}
	return releases
}
