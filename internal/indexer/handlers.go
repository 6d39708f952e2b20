package indexer

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

// HealthReporter summarizes and clears backend health.
type HealthReporter interface {
	Reset(backendID int64) BackendHealth
	GetStats(backendIDs []int64) HealthSummary
	RemainingBackoff(backendID int64) time.Duration
}

// HealthSummary counts backends per health state.
type HealthSummary struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Degraded  int `json:"degraded"`
	Suspended int `json:"suspended"`
}

// HealthReport is the health of every configured backend.
type HealthReport struct {
	Summary  *HealthSummary      `json:"summary,omitempty"`
	Indexers []HealthReportEntry `json:"indexers"`
}

// HealthReportEntry is the health of one backend.
type HealthReportEntry struct {
	BackendHealth
	Name string `json:"name"`
	// RetryInSeconds is how long a suspended backend stays out of searches.
	RetryInSeconds int64 `json:"retryInSeconds,omitempty"`
}

// Handlers provides HTTP handlers for indexer operations.
type Handlers struct {
	service *Service
	health  HealthReporter
}

// NewHandlers creates new indexer handlers.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// SetHealthReporter enables the health summary and reset endpoints.
func (h *Handlers) SetHealthReporter(r HealthReporter) {
	h.health = r
}

// RegisterRoutes registers the indexer routes.
func (h *Handlers) RegisterRoutes(g *echo.Group) {
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.GET("/:id/capabilities", h.GetCapabilities)
}

// RegisterHealthRoutes registers the health routes.
func (h *Handlers) RegisterHealthRoutes(g *echo.Group) {
	g.GET("", h.ListHealth)
	g.GET("/:id", h.GetHealth)
	g.POST("/:id/reset", h.ResetHealth)
}

// indexerResponse is a descriptor together with its current health.
type indexerResponse struct {
	*BackendDescriptor
	Health BackendHealth `json:"health"`
}

// List returns all indexers.
// GET /api/v1/indexer
func (h *Handlers) List(c echo.Context) error {
	descs := h.service.ListBackends()
	out := make([]indexerResponse, 0, len(descs))
	for _, d := range descs {
		out = append(out, indexerResponse{BackendDescriptor: d, Health: h.service.GetHealth(d.ID)})
	}
	return c.JSON(http.StatusOK, out)
}

// Get returns a single indexer.
// GET /api/v1/indexer/:id
func (h *Handlers) Get(c echo.Context) error {
	desc, err := h.descriptor(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, indexerResponse{BackendDescriptor: desc, Health: h.service.GetHealth(desc.ID)})
}

// GetCapabilities returns the capabilities of one indexer.
// GET /api/v1/indexer/:id/capabilities
func (h *Handlers) GetCapabilities(c echo.Context) error {
	desc, err := h.descriptor(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, desc.Capabilities)
}

// GetAggregateCapabilities returns the merged capabilities of all indexers.
// GET /api/v1/capabilities
func (h *Handlers) GetAggregateCapabilities(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.AggregateCapabilities())
}

// ListHealth returns the health of every indexer.
// GET /api/v1/health
func (h *Handlers) ListHealth(c echo.Context) error {
	descs := h.service.ListBackends()
	report := HealthReport{Indexers: make([]HealthReportEntry, 0, len(descs))}
	ids := make([]int64, 0, len(descs))
	for _, d := range descs {
		entry := HealthReportEntry{BackendHealth: h.service.GetHealth(d.ID), Name: d.Name}
		if h.health != nil {
			entry.RetryInSeconds = int64((h.health.RemainingBackoff(d.ID) + time.Second - 1) / time.Second)
		}
		report.Indexers = append(report.Indexers, entry)
		ids = append(ids, d.ID)
	}
	if h.health != nil {
		summary := h.health.GetStats(ids)
		report.Summary = &summary
	}
	return c.JSON(http.StatusOK, report)
}

// GetHealth returns the health of one indexer.
// GET /api/v1/health/:id
func (h *Handlers) GetHealth(c echo.Context) error {
	desc, err := h.descriptor(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.service.GetHealth(desc.ID))
}

// ResetHealth clears failures and any backoff of one indexer.
// POST /api/v1/health/:id/reset
func (h *Handlers) ResetHealth(c echo.Context) error {
	if h.health == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "health tracking is disabled")
	}
	desc, err := h.descriptor(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.health.Reset(desc.ID))
}

func (h *Handlers) descriptor(c echo.Context) (*BackendDescriptor, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	desc, err := h.service.Descriptor(id)
	if err != nil {
		if errors.Is(err, ErrBackendNotFound) {
			return nil, echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return desc, nil
}
