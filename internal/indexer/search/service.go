// Package search provides search orchestration across multiple indexers.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	"github.com/slipstream/indexhub/internal/indexer"
	"github.com/slipstream/indexhub/internal/indexer/ratelimit"
)

// Config bounds the work done for one search.
type Config struct {
	// Timeout applies to each indexer unless its descriptor sets one.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxPages caps the queries sent to one indexer.
	MaxPages int `mapstructure:"maxPages"`
	// MaxResults caps the releases kept from one indexer.
	MaxResults int `mapstructure:"maxResults"`
}

// DefaultConfig returns the default search limits.
func DefaultConfig() Config {
	return Config{
		Timeout:    30 * time.Second,
		MaxPages:   5,
		MaxResults: 1000,
	}
}

// Registry is the view of the indexer registry used by searches.
type Registry interface {
	indexer.Registry
	Normalizer() *indexer.Normalizer
	AcquireAttempt(backendID int64) bool
	ReleaseAttempt(backendID int64)
}

// LinkMapper rewrites the links of a release to point at this server.
type LinkMapper interface {
	MapRelease(r *indexer.Release, caller indexer.Caller) error
}

// Service orchestrates searches across multiple indexers.
type Service struct {
	registry      Registry
	executor      QueryExecutor
	authenticator indexer.Authenticator
	rateLimiter   *ratelimit.Limiter
	mapper        LinkMapper
	broadcaster   Broadcaster
	config        Config
	logger        zerolog.Logger
}

// NewService creates a new search service. When the registry can
// re-authenticate backends it is used for AuthRequired recovery.
func NewService(registry Registry, executor QueryExecutor, logger zerolog.Logger) *Service {
	s := &Service{
		registry: registry,
		executor: executor,
		config:   DefaultConfig(),
		logger:   logger.With().Str("component", "search").Logger(),
	}
	if auth, ok := registry.(indexer.Authenticator); ok {
		s.authenticator = auth
	}
	return s
}

// SetConfig replaces the search limits. Zero fields keep their defaults.
func (s *Service) SetConfig(cfg Config) {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = def.MaxResults
	}
	s.config = cfg
}

// SetAuthenticator sets the collaborator used to renew expired sessions.
func (s *Service) SetAuthenticator(auth indexer.Authenticator) {
	s.authenticator = auth
}

// SetRateLimiter sets the rate limiter for controlling query rates.
func (s *Service) SetRateLimiter(limiter *ratelimit.Limiter) {
	s.rateLimiter = limiter
}

// SetLinkMapper enables rewriting of release links.
func (s *Service) SetLinkMapper(mapper LinkMapper) {
	s.mapper = mapper
}

// SetBroadcaster sets the WebSocket broadcaster for real-time events.
func (s *Service) SetBroadcaster(broadcaster Broadcaster) {
	s.broadcaster = broadcaster
}

// Search executes a search across every eligible indexer. Failures of
// single indexers are reported in the diagnostics; only an invalid request
// fails the search as a whole.
func (s *Service) Search(ctx context.Context, req *indexer.SearchRequest) (*SearchResult, error) {
	startTime := time.Now()

	req, err := validateRequest(req)
	if err != nil {
		return nil, err
	}
	targets, skipped, err := s.resolveTargets(req)
	if err != nil {
		return nil, err
	}

	searchID := uuid.NewString()
	indexerIDs := make([]int64, len(targets))
	for i, b := range targets {
		indexerIDs[i] = b.Descriptor().ID
	}
	s.broadcastSearchStarted(searchID, req, indexerIDs)

	s.logger.Info().
		Str("searchId", searchID).
		Int("indexerCount", len(targets)).
		Int("skipped", len(skipped)).
		Str("query", req.Query).
		Str("type", string(req.Kind)).
		Msg("Starting search across indexers")

	results := s.dispatchSearches(ctx, targets, req)

	result := aggregateResults(results, skipped, req.Offset, req.Limit)
	result.SearchID = searchID
	s.mapLinks(result.Releases, req.Caller)

	elapsed := time.Since(startTime)
	s.broadcastSearchCompleted(searchID, req, result, elapsed)

	s.logger.Info().
		Str("searchId", searchID).
		Int("totalResults", result.TotalResults).
		Int("indexersUsed", result.IndexersUsed).
		Int("errors", len(result.IndexerErrors)).
		Dur("elapsed", elapsed).
		Msg("Search completed")

	return result, nil
}

// dispatchSearches runs one task per indexer and waits for all of them.
func (s *Service) dispatchSearches(ctx context.Context, targets []indexer.Backend, req *indexer.SearchRequest) []taskResult {
	p := pool.NewWithResults[taskResult]()
	for _, backend := range targets {
		p.Go(func() taskResult {
			var res taskResult
			var pc panics.Catcher
			pc.Try(func() {
				res = s.searchIndexer(ctx, backend, req)
			})
			if r := pc.Recovered(); r != nil {
				desc := backend.Descriptor()
				err := indexer.NewBackendError(desc.ID, desc.Name, "indexer panicked", r.AsError())
				s.logger.Error().Err(err).Int64("indexerId", desc.ID).Msg("Indexer search panicked")
				s.registry.RecordOutcome(desc.ID, indexer.Outcome{Err: err, At: time.Now()})
				res = taskResult{desc: desc, outcome: OutcomeFailed, err: err}
			}
			return res
		})
	}
	return p.Wait()
}

// searchIndexer runs the query chain of one indexer and records its outcome.
func (s *Service) searchIndexer(ctx context.Context, backend indexer.Backend, req *indexer.SearchRequest) taskResult {
	desc := backend.Descriptor()
	start := time.Now()
	limits := s.limitsFor(desc)

	logger := s.logger.With().Int64("indexerId", desc.ID).Str("indexerName", desc.Name).Logger()

	bctx, cancel := context.WithTimeout(ctx, limits.Timeout)
	defer cancel()

	res := taskResult{desc: desc}
	pctx := indexer.ParseContext{
		Descriptor: desc,
		Request:    req,
		Categories: s.registry.Normalizer().For(desc.ID),
		Logger:     logger,
	}
	gen := backend.NewGenerator(req)
	parser := backend.Parser()

	var prev *indexer.RawResponse
	for page := 0; page < limits.MaxPages; page++ {
		q, ok, err := gen.Next(prev)
		if err != nil {
			res.err = err
			break
		}
		if !ok {
			break
		}

		resp, releases, err := s.runQuery(bctx, backend, parser, pctx, q, &res)
		if err != nil {
			res.err = err
			break
		}

		releases, rejected := normalizeReleases(desc, releases)
		if rejected > 0 {
			logger.Warn().Int("rejected", rejected).Msg("Dropped releases with a negative size")
			res.rejected += rejected
		}
		res.releases = append(res.releases, filterCategories(releases, req.Categories)...)
		if len(res.releases) >= limits.MaxResults {
			res.releases = res.releases[:limits.MaxResults]
			break
		}
		prev = resp
	}
	res.elapsed = time.Since(start)

	s.finish(ctx, bctx, &res)

	event := logger.Debug()
	if res.outcome == OutcomeFailed {
		event = logger.Warn().Err(res.err)
	}
	event.
		Str("outcome", string(res.outcome)).
		Int("results", len(res.releases)).
		Int("queries", res.queries).
		Dur("elapsed", res.elapsed).
		Msg("Indexer search finished")

	return res
}

// runQuery executes and parses one query. An AuthRequired failure triggers
// one re-authentication followed by one retry of the same query.
func (s *Service) runQuery(ctx context.Context, backend indexer.Backend, parser indexer.Parser, pctx indexer.ParseContext, q *indexer.OutboundQuery, res *taskResult) (*indexer.RawResponse, []indexer.Release, error) {
	desc := pctx.Descriptor
	reauthenticated := false

	for {
		if s.rateLimiter != nil {
			if err := s.rateLimiter.WaitQuery(ctx, desc.ID); err != nil {
				return nil, nil, err
			}
		}

		res.queries++
		resp, err := s.executor.Execute(ctx, backend, q)
		var releases []indexer.Release
		if err == nil {
			releases, err = parser.Parse(pctx, resp)
		}
		if err == nil {
			return resp, releases, nil
		}

		if !indexer.IsAuthRequired(err) {
			return nil, nil, err
		}
		if reauthenticated {
			return nil, nil, indexer.NewBackendError(desc.ID, desc.Name, "still unauthorized after re-authentication", err)
		}
		reauthenticated = true

		if aerr := s.reauthenticate(ctx, desc.ID); aerr != nil {
			return nil, nil, indexer.NewBackendError(desc.ID, desc.Name, "re-authentication failed", aerr)
		}
	}
}

func (s *Service) reauthenticate(ctx context.Context, id int64) error {
	if s.authenticator == nil {
		return indexer.ErrReauthUnsupported
	}
	return s.authenticator.ReAuthenticate(ctx, id)
}

// finish decides the outcome of one indexer and reports it to the health
// tracker. Cancellation by the caller and local quota exhaustion are not
// the indexer's fault and are not recorded.
func (s *Service) finish(ctx, bctx context.Context, res *taskResult) {
	desc := res.desc
	switch {
	case res.err == nil:
		res.outcome = OutcomeSuccess
		s.registry.RecordOutcome(desc.ID, indexer.Outcome{At: time.Now()})

	case ctx.Err() != nil:
		res.outcome = OutcomeCancelled
		s.registry.ReleaseAttempt(desc.ID)

	case errors.Is(res.err, ratelimit.ErrLimitReached):
		res.outcome = OutcomeThrottled
		s.registry.ReleaseAttempt(desc.ID)

	default:
		res.outcome = OutcomeFailed
		if errors.Is(bctx.Err(), context.DeadlineExceeded) {
			res.err = indexer.NewBackendError(desc.ID, desc.Name,
				fmt.Sprintf("timed out after %s", s.limitsFor(desc).Timeout), indexer.StripURL(res.err))
		} else {
			res.err = indexer.Classify(desc, res.err)
		}
		res.releases = nil
		s.registry.RecordOutcome(desc.ID, indexer.Outcome{Err: res.err, At: time.Now()})
	}
}

// limitsFor merges a descriptor's limits with the service defaults.
func (s *Service) limitsFor(desc *indexer.BackendDescriptor) indexer.Limits {
	limits := indexer.Limits{
		Timeout:    s.config.Timeout,
		MaxPages:   s.config.MaxPages,
		MaxResults: s.config.MaxResults,
	}
	if desc.Limits.Timeout > 0 {
		limits.Timeout = desc.Limits.Timeout
	}
	if desc.Limits.MaxPages > 0 {
		limits.MaxPages = desc.Limits.MaxPages
	}
	if desc.Limits.MaxResults > 0 {
		limits.MaxResults = desc.Limits.MaxResults
	}
	return limits
}

// mapLinks rewrites download and magnet links. A release whose link cannot
// be mapped keeps no link at all rather than leaking the original.
func (s *Service) mapLinks(releases []indexer.Release, caller indexer.Caller) {
	if s.mapper == nil || caller.ServerURL == "" {
		return
	}
	for i := range releases {
		if err := s.mapper.MapRelease(&releases[i], caller); err != nil {
			s.logger.Warn().Err(err).Str("title", releases[i].Title).Msg("Failed to map release link")
			releases[i].DownloadURL = ""
			releases[i].MagnetURL = ""
		}
	}
}

// normalizeReleases stamps the indexer identity onto what a parser returned
// and drops rows that cannot be served. Releases without categories fall
// into Other.
func normalizeReleases(desc *indexer.BackendDescriptor, releases []indexer.Release) ([]indexer.Release, int) {
	out := releases[:0]
	for _, r := range releases {
		if r.Size < 0 {
			continue
		}
		r.BackendID = desc.ID
		r.BackendName = desc.Name
		r.Protocol = desc.Protocol
		if len(r.Categories) == 0 {
			r.Categories = []int{indexer.CategoryOther}
		}
		out = append(out, r)
	}
	return out, len(releases) - len(out)
}

func filterCategories(releases []indexer.Release, requested []int) []indexer.Release {
	if len(requested) == 0 {
		return releases
	}
	out := releases[:0]
	for _, r := range releases {
		if indexer.MatchesCategories(r.Categories, requested) {
			out = append(out, r)
		}
	}
	return out
}

// broadcastSearchStarted sends a search started event.
func (s *Service) broadcastSearchStarted(searchID string, req *indexer.SearchRequest, indexerIDs []int64) {
	if s.broadcaster == nil {
		return
	}
	_ = s.broadcaster.Broadcast(indexer.EventSearchStarted, indexer.SearchStartedPayload{
		SearchID:   searchID,
		Query:      req.Query,
		Type:       string(req.Kind),
		IndexerIDs: indexerIDs,
	})
}

// broadcastSearchCompleted sends a search completed event.
func (s *Service) broadcastSearchCompleted(searchID string, req *indexer.SearchRequest, result *SearchResult, elapsed time.Duration) {
	if s.broadcaster == nil {
		return
	}
	errs := make([]string, len(result.IndexerErrors))
	for i, e := range result.IndexerErrors {
		errs[i] = e.Error
	}
	_ = s.broadcaster.Broadcast(indexer.EventSearchCompleted, indexer.SearchCompletedPayload{
		SearchID:     searchID,
		Query:        req.Query,
		Type:         string(req.Kind),
		TotalResults: result.TotalResults,
		IndexersUsed: result.IndexersUsed,
		Errors:       errs,
		ElapsedMs:    elapsed.Milliseconds(),
	})
}

// normalizeImdbID trims the "tt" prefix and reports whether the rest is a
// positive number.
func normalizeImdbID(id string) (string, bool) {
	trimmed := strings.TrimLeft(strings.TrimSpace(id), "t")
	if trimmed == "" {
		return "", false
	}
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	if strings.Trim(trimmed, "0") == "" {
		return "", false
	}
	return "tt" + trimmed, true
}
