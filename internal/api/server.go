package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/slipstream/indexhub/internal/config"
	"github.com/slipstream/indexhub/internal/indexer"
	"github.com/slipstream/indexhub/internal/indexer/linkmap"
	"github.com/slipstream/indexhub/internal/indexer/proxy"
	"github.com/slipstream/indexhub/internal/indexer/ratelimit"
	"github.com/slipstream/indexhub/internal/indexer/search"
	"github.com/slipstream/indexhub/internal/indexer/status"
	"github.com/slipstream/indexhub/internal/logger"
	"github.com/slipstream/indexhub/internal/scheduler"
	"github.com/slipstream/indexhub/internal/scheduler/tasks"
	"github.com/slipstream/indexhub/internal/websocket"

	// Backend variants register their factories on import.
	_ "github.com/slipstream/indexhub/internal/indexer/cardigann"
	_ "github.com/slipstream/indexhub/internal/indexer/jsonapi"
	_ "github.com/slipstream/indexhub/internal/indexer/mock"
	_ "github.com/slipstream/indexhub/internal/indexer/torznab"
)

// Version is reported by the status endpoint.
var Version = "0.1.0-dev"

// Server handles HTTP requests for the IndexHub API.
type Server struct {
	echo      *echo.Echo
	hub       *websocket.Hub
	cfg       *config.Config
	recorder  *logger.Recorder
	logger    zerolog.Logger
	startedAt time.Time

	httpClient     *http.Client
	indexerService *indexer.Service
	statusService  *status.Service
	statusStore    *status.Store
	rateLimiter    *ratelimit.Limiter
	searchService  *search.Service
	proxyService   *proxy.Service
	historyStore   *proxy.HistoryStore
	scheduler      *scheduler.Scheduler
}

// NewServer creates the API server and the services behind it. The link
// secret in cfg must already be set.
func NewServer(db *sql.DB, hub *websocket.Hub, cfg *config.Config, recorder *logger.Recorder, logger zerolog.Logger) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		hub:       hub,
		cfg:       cfg,
		recorder:  recorder,
		logger:    logger,
		startedAt: time.Now(),
		// Searches and downloads bound each request with their own deadline.
		httpClient: &http.Client{},
	}

	mapper, err := linkmap.New(cfg.Links.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to create link mapper: %w", err)
	}

	// Health state machine, persisted on every transition
	s.statusService = status.NewServiceWithConfig(cfg.Health, logger)
	s.statusStore = status.NewStore(db)
	s.statusService.Persist(s.statusStore)
	s.statusService.AddListener(s.broadcastStatus)

	s.indexerService = indexer.NewService(logger)
	s.indexerService.SetHealthTracker(s.statusService)

	s.rateLimiter = ratelimit.NewLimiter(cfg.RateLimit, logger)

	s.searchService = search.NewService(s.indexerService, search.NewHTTPExecutor(s.httpClient, ""), logger)
	s.searchService.SetConfig(cfg.Search)
	s.searchService.SetRateLimiter(s.rateLimiter)
	s.searchService.SetLinkMapper(mapper)
	s.searchService.SetBroadcaster(hub)

	s.historyStore = proxy.NewHistoryStore(db)
	s.proxyService = proxy.NewService(s.indexerService, mapper, s.httpClient, logger)
	s.proxyService.SetConfig(cfg.Proxy)
	s.proxyService.SetRateLimiter(s.rateLimiter)
	s.proxyService.SetHistory(s.historyStore)
	s.proxyService.SetBroadcaster(hub)

	if recorder != nil {
		recorder.SetBroadcaster(hub)
	}

	s.scheduler, err = scheduler.New(logger)
	if err != nil {
		return nil, err
	}
	err = tasks.Register(s.scheduler, tasks.Deps{
		Health:      s.statusService,
		HealthStore: s.statusStore,
		Searcher:    s.searchService,
		Audit:       s.historyStore,
	}, tasks.Config{
		HealthSnapshot: cfg.Scheduler.HealthSnapshot,
		HealthProbe:    cfg.Scheduler.HealthProbe,
		AuditPrune:     cfg.Scheduler.AuditPrune,
		AuditRetention: cfg.Scheduler.AuditRetention,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to register tasks: %w", err)
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// LoadBackends registers a backend for every enabled definition.
func (s *Server) LoadBackends(defs []indexer.Definition, secrets indexer.SecretResolver) error {
	return s.indexerService.LoadDefinitions(defs, indexer.FactoryOptions{
		Logger:     s.logger,
		HTTPClient: s.httpClient,
		Secrets:    secrets,
	})
}

// RestoreHealth loads the persisted health of every indexer.
func (s *Server) RestoreHealth(ctx context.Context) error {
	states, err := s.statusStore.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load indexer health: %w", err)
	}
	n := s.statusService.Restore(states)
	s.logger.Info().Int("count", n).Msg("Restored indexer health")
	return nil
}

// broadcastStatus publishes health state transitions.
func (s *Server) broadcastStatus(prev, next indexer.BackendHealth) {
	if prev.State == next.State {
		return
	}
	payload := indexer.IndexerStatusPayload{
		IndexerID: next.BackendID,
		Status:    string(next.State),
		Message:   next.LastFailureMessage,
	}
	if desc, err := s.indexerService.Descriptor(next.BackendID); err == nil {
		payload.IndexerName = desc.Name
	}
	if err := s.hub.Broadcast(indexer.EventIndexerStatus, payload); err != nil {
		s.logger.Debug().Err(err).Msg("Dropped indexer status event")
	}
}

// Start runs the scheduler and begins listening for HTTP requests.
func (s *Server) Start(address string) error {
	s.scheduler.Start()
	s.logger.Info().Str("address", address).Msg("starting HTTP server")
	return s.echo.Start(address)
}

// Shutdown stops the HTTP server and the scheduler, then saves a final
// health snapshot.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")

	err := s.echo.Shutdown(ctx)
	if stopErr := s.scheduler.Stop(); stopErr != nil {
		s.logger.Warn().Err(stopErr).Msg("Failed to stop scheduler")
	}
	if saveErr := s.statusStore.SaveAll(ctx, s.statusService.Snapshot()); saveErr != nil {
		s.logger.Warn().Err(saveErr).Msg("Failed to save indexer health")
	}
	return err
}

// ServeHTTP lets the server be driven directly by tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Scheduler returns the task scheduler.
func (s *Server) Scheduler() *scheduler.Scheduler {
	return s.scheduler
}
