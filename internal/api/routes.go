package api

import (
	"net/http"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/slipstream/indexhub/internal/api/handlers"
	apimw "github.com/slipstream/indexhub/internal/api/middleware"
	"github.com/slipstream/indexhub/internal/indexer"
	"github.com/slipstream/indexhub/internal/indexer/newznab"
	"github.com/slipstream/indexhub/internal/indexer/proxy"
	"github.com/slipstream/indexhub/internal/indexer/search"
	"github.com/slipstream/indexhub/internal/logger"
)

func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.echo.Use(middleware.Recover())

	// Forwarded headers only count behind a trusted reverse proxy
	if s.cfg.Server.TrustProxy {
		s.echo.IPExtractor = echo.ExtractIPFromXFFHeader()
		s.echo.Use(indexer.TrustForwarded())
	} else {
		s.echo.IPExtractor = echo.ExtractIPDirect()
	}

	// Request ID
	s.echo.Use(middleware.RequestID())

	// Security headers
	s.echo.Use(apimw.SecurityHeaders())

	// Request body size limit (2MB)
	s.echo.Use(middleware.BodyLimit("2M"))

	// Request logging
	reqLogger := s.logger.With().Str("component", "http").Logger()
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogMethod:   true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			// apikey values must not reach the log
			uri := apimw.RedactQuery(v.URI)
			if v.Error != nil {
				reqLogger.Error().
					Str("method", v.Method).
					Str("uri", uri).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Err(v.Error).
					Msg("request error")
			} else {
				reqLogger.Debug().
					Str("method", v.Method).
					Str("uri", uri).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Msg("request")
			}
			return nil
		},
	}))

	// Gzip compression
	s.echo.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level: 5,
		Skipper: func(c echo.Context) bool {
			// Skip compression for WebSocket
			return c.Request().Header.Get("Upgrade") == "websocket"
		},
	}))
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/ws", s.hub.HandleWebSocket)

	urlBase := s.cfg.Server.URLBase
	newznabHandlers := newznab.NewHandlers(s.searchService, s.indexerService, urlBase)
	proxyHandlers := proxy.NewHandlers(s.proxyService, s.historyStore, urlBase)

	// Short per-indexer routes used by the *arr applications
	root := s.echo.Group("")
	newznabHandlers.RegisterShortRoutes(root)
	proxyHandlers.RegisterRoutes(root)

	api := s.echo.Group("/api/v1")
	api.GET("/status", s.getStatus)

	search.NewHandlers(s.searchService, urlBase).RegisterRoutes(api.Group("/search"))

	indexerHandlers := indexer.NewHandlers(s.indexerService)
	indexerHandlers.SetHealthReporter(s.statusService)
	indexerGroup := api.Group("/indexer")
	indexerHandlers.RegisterRoutes(indexerGroup)
	newznabHandlers.RegisterRoutes(indexerGroup)
	proxyHandlers.RegisterRoutes(indexerGroup)
	indexerHandlers.RegisterHealthRoutes(api.Group("/health"))
	api.GET("/capabilities", indexerHandlers.GetAggregateCapabilities)

	proxyHandlers.RegisterHistoryRoutes(api.Group("/downloads"))

	system := api.Group("/system")
	logFile := ""
	if s.cfg.Logging.Path != "" {
		logFile = filepath.Join(s.cfg.Logging.Path, logger.FileName)
	}
	if s.recorder != nil {
		NewLogsHandlers(s.recorder, logFile).RegisterRoutes(system.Group("/logs"))
	}
	handlers.NewSchedulerHandler(s.scheduler).RegisterRoutes(system.Group("/tasks"))
}

// --- Handler implementations ---

func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// StatusResponse summarizes the running server.
type StatusResponse struct {
	Version   string         `json:"version"`
	StartTime string         `json:"startTime"`
	Uptime    string         `json:"uptime"`
	Indexers  int            `json:"indexers"`
	Health    map[string]int `json:"health"`
	Clients   int            `json:"websocketClients"`
}

func (s *Server) getStatus(c echo.Context) error {
	backends := s.indexerService.ListBackends()
	health := map[string]int{
		string(indexer.StateHealthy):   0,
		string(indexer.StateDegraded):  0,
		string(indexer.StateSuspended): 0,
	}
	for _, desc := range backends {
		health[string(s.statusService.Get(desc.ID).State)]++
	}

	return c.JSON(http.StatusOK, StatusResponse{
		Version:   Version,
		StartTime: s.startedAt.Format(time.RFC3339),
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		Indexers:  len(backends),
		Health:    health,
		Clients:   s.hub.ClientCount(),
	})
}
