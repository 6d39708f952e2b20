package search

import (
	"errors"
	"fmt"
	"time"

	"github.com/slipstream/indexhub/internal/indexer"
)

// validateRequest checks caller input and returns a normalized copy.
func validateRequest(req *indexer.SearchRequest) (*indexer.SearchRequest, error) {
	if req == nil {
		return nil, indexer.NewInvalidRequestError("search request is required")
	}
	out := *req
	if out.Kind == "" {
		out.Kind = indexer.KindSearch
	}
	if !out.Kind.Valid() {
		return nil, indexer.NewInvalidRequestError(fmt.Sprintf("unknown search type %q", req.Kind))
	}
	if out.Limit < 0 || out.Offset < 0 {
		return nil, indexer.NewInvalidRequestError("limit and offset must not be negative")
	}
	if out.Season < 0 || out.TvdbID < 0 || out.TmdbID < 0 || out.Year < 0 {
		return nil, indexer.NewInvalidRequestError("numeric identifiers must not be negative")
	}
	if out.ImdbID != "" {
		id, ok := normalizeImdbID(out.ImdbID)
		if !ok {
			return nil, indexer.NewInvalidRequestError(fmt.Sprintf("invalid imdb id %q", req.ImdbID))
		}
		out.ImdbID = id
	}
	return &out, nil
}

// resolveTargets picks the indexers a search goes to. Indexers that do not
// support the kind are left out; suspended ones are reported as skipped, as
// are ones whose single post-suspension attempt is already in flight.
func (s *Service) resolveTargets(req *indexer.SearchRequest) ([]indexer.Backend, []Diagnostic, error) {
	var candidates []indexer.Backend
	if len(req.BackendIDs) > 0 {
		for _, id := range req.BackendIDs {
			b, err := s.registry.Backend(id)
			if err != nil {
				if errors.Is(err, indexer.ErrBackendNotFound) {
					return nil, nil, indexer.NewInvalidRequestError(fmt.Sprintf("unknown indexer id %d", id))
				}
				return nil, nil, err
			}
			candidates = append(candidates, b)
		}
	} else {
		for _, desc := range s.registry.ListBackends() {
			b, err := s.registry.Backend(desc.ID)
			if err != nil {
				continue
			}
			candidates = append(candidates, b)
		}
	}

	var (
		targets   []indexer.Backend
		skipped   []Diagnostic
		supported int
		seen      = make(map[int64]bool)
	)
	for _, b := range candidates {
		desc := b.Descriptor()
		if seen[desc.ID] || !desc.Capabilities.Supports(req.Kind) {
			continue
		}
		seen[desc.ID] = true
		supported++

		health := s.registry.GetHealth(desc.ID)
		if health.State == indexer.StateSuspended {
			d := Diagnostic{
				IndexerID:   desc.ID,
				IndexerName: desc.Name,
				Outcome:     OutcomeSkipped,
				Error:       "indexer is suspended",
			}
			if health.BackoffUntil != nil {
				d.Error = fmt.Sprintf("indexer is suspended until %s", health.BackoffUntil.UTC().Format(time.RFC3339))
			}
			skipped = append(skipped, d)
			continue
		}
		if !s.registry.AcquireAttempt(desc.ID) {
			skipped = append(skipped, Diagnostic{
				IndexerID:   desc.ID,
				IndexerName: desc.Name,
				Outcome:     OutcomeSkipped,
				Error:       "indexer is being retried after a suspension",
			})
			continue
		}
		targets = append(targets, b)
	}

	if supported == 0 {
		return nil, nil, indexer.NewInvalidRequestError(fmt.Sprintf("no indexer supports %s searches", req.Kind))
	}
	return targets, skipped, nil
}
