package indexer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrReauthUnsupported is returned when a backend has no login flow.
var ErrReauthUnsupported = errors.New("indexer does not support re-authentication")

// HealthTracker is the health state machine consumed by the registry.
type HealthTracker interface {
	Get(backendID int64) BackendHealth
	Record(backendID int64, outcome Outcome) BackendHealth
}

// AttemptGate is implemented by trackers that admit a single attempt once
// a suspension has elapsed.
type AttemptGate interface {
	TryAcquire(backendID int64) bool
	Release(backendID int64)
}

// Service is the registry of configured backends.
type Service struct {
	mu         sync.RWMutex
	backends   map[int64]Backend
	normalizer *Normalizer
	health     HealthTracker
	logger     *zerolog.Logger
}

// NewService creates an empty registry.
func NewService(logger zerolog.Logger) *Service {
	subLogger := logger.With().Str("component", "indexer").Logger()
	return &Service{
		backends:   make(map[int64]Backend),
		normalizer: NewNormalizer(nil),
		logger:     &subLogger,
	}
}

// SetHealthTracker sets the tracker that owns backend health state.
func (s *Service) SetHealthTracker(h HealthTracker) {
	s.health = h
}

// LoadDefinitions builds and registers a backend for every enabled
// definition. A definition whose factory fails is logged and skipped.
func (s *Service) LoadDefinitions(defs []Definition, opts FactoryOptions) error {
	loaded := 0
	for _, def := range defs {
		if !def.IsEnabled() {
			s.logger.Debug().Int64("indexerId", def.ID).Str("name", def.Name).Msg("Skipping disabled indexer")
			continue
		}

		factory, ok := LookupFactory(def.Type)
		if !ok {
			s.logger.Error().
				Int64("indexerId", def.ID).
				Str("type", def.Type).
				Strs("known", FactoryTypes()).
				Msg("Unknown indexer type")
			continue
		}

		backend, err := factory(def, opts)
		if err != nil {
			s.logger.Error().Err(err).Int64("indexerId", def.ID).Str("name", def.Name).Msg("Failed to create indexer")
			continue
		}

		if err := s.Register(backend); err != nil {
			return err
		}
		loaded++
	}

	s.logger.Info().Int("count", loaded).Int("configured", len(defs)).Msg("Loaded indexers")
	return nil
}

// Register adds a backend to the registry.
func (s *Service) Register(b Backend) error {
	desc := b.Descriptor()
	if desc == nil || desc.ID <= 0 {
		return fmt.Errorf("indexer has no valid id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.backends[desc.ID]; exists {
		return fmt.Errorf("indexer %d already registered", desc.ID)
	}
	s.backends[desc.ID] = b
	s.rebuildNormalizer()

	s.logger.Debug().
		Int64("indexerId", desc.ID).
		Str("name", desc.Name).
		Str("type", desc.Type).
		Str("protocol", string(desc.Protocol)).
		Msg("Registered indexer")
	return nil
}

func (s *Service) rebuildNormalizer() {
	descs := make([]*BackendDescriptor, 0, len(s.backends))
	for _, b := range s.backends {
		descs = append(descs, b.Descriptor())
	}
	s.normalizer = NewNormalizer(descs)
}

// ListBackends returns the descriptors of all backends ordered by id.
func (s *Service) ListBackends() []*BackendDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	descs := make([]*BackendDescriptor, 0, len(s.backends))
	for _, b := range s.backends {
		descs = append(descs, b.Descriptor())
	}
	sort.Slice(descs, func(i, j int) bool {
		return descs[i].ID < descs[j].ID
	})
	return descs
}

// Backend returns a registered backend.
func (s *Service) Backend(id int64) (Backend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.backends[id]
	if !ok {
		return nil, ErrBackendNotFound
	}
	return b, nil
}

// Descriptor returns the descriptor of a registered backend.
func (s *Service) Descriptor(id int64) (*BackendDescriptor, error) {
	b, err := s.Backend(id)
	if err != nil {
		return nil, err
	}
	return b.Descriptor(), nil
}

// Normalizer returns the category normalizer over all registered backends.
func (s *Service) Normalizer() *Normalizer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.normalizer
}

// GetHealth returns the health of a backend. Without a tracker every
// backend reports healthy.
func (s *Service) GetHealth(backendID int64) BackendHealth {
	if s.health == nil {
		return BackendHealth{BackendID: backendID, State: StateHealthy}
	}
	return s.health.Get(backendID)
}

// RecordOutcome forwards a query outcome to the health tracker.
func (s *Service) RecordOutcome(backendID int64, outcome Outcome) {
	if s.health == nil {
		return
	}
	if outcome.At.IsZero() {
		outcome.At = time.Now()
	}
	s.health.Record(backendID, outcome)
}

// AcquireAttempt claims an attempt against a backend. Without a gating
// tracker every attempt is admitted.
func (s *Service) AcquireAttempt(backendID int64) bool {
	if g, ok := s.health.(AttemptGate); ok {
		return g.TryAcquire(backendID)
	}
	return true
}

// ReleaseAttempt gives back a claim whose attempt recorded no outcome.
func (s *Service) ReleaseAttempt(backendID int64) {
	if g, ok := s.health.(AttemptGate); ok {
		g.Release(backendID)
	}
}

// ReAuthenticate asks the backend to log in again.
func (s *Service) ReAuthenticate(ctx context.Context, backendID int64) error {
	b, err := s.Backend(backendID)
	if err != nil {
		return err
	}

	auth, ok := b.(Authenticator)
	if !ok {
		return ErrReauthUnsupported
	}

	s.logger.Info().Int64("indexerId", backendID).Msg("Re-authenticating indexer")
	if err := auth.ReAuthenticate(ctx, backendID); err != nil {
		s.logger.Warn().Err(err).Int64("indexerId", backendID).Msg("Re-authentication failed")
		return err
	}
	return nil
}

// AggregateCapabilities merges the capabilities of all backends.
func (s *Service) AggregateCapabilities() Capabilities {
	caps := Capabilities{Kinds: make(map[QueryKind][]string)}
	seenCats := make(map[int]bool)

	for _, desc := range s.ListBackends() {
		for kind, params := range desc.Capabilities.Kinds {
			caps.Kinds[kind] = mergeParams(caps.Kinds[kind], params)
		}
		for _, c := range desc.Capabilities.Categories {
			if !seenCats[c] {
				seenCats[c] = true
				caps.Categories = append(caps.Categories, c)
			}
		}
	}
	sort.Ints(caps.Categories)
	return caps
}

func mergeParams(have, add []string) []string {
	for _, p := range add {
		found := false
		for _, h := range have {
			if h == p {
				found = true
				break
			}
		}
		if !found {
			have = append(have, p)
		}
	}
	return have
}
