package status

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/slipstream/indexhub/internal/indexer"
)

// Listener is notified when the health state of an indexer changes. It is
// called while that indexer's lock is held and must not call back into the
// Service for the same indexer.
type Listener func(prev, next indexer.BackendHealth)

// entry guards the health record of one indexer.
type entry struct {
	mu    sync.Mutex
	state indexer.BackendHealth

	// halfOpen is set when a suspension elapses and cleared by the next
	// recorded outcome. While it is set only one attempt may be in flight.
	halfOpen bool
	probing  bool
}

// Service tracks indexer health. Each indexer has its own lock; no lock
// spans more than one indexer.
type Service struct {
	entries   sync.Map // int64 -> *entry
	config    BackoffConfig
	now       func() time.Time
	listeners []Listener
	logger    zerolog.Logger
}

// NewService creates a new status service with default configuration.
func NewService(logger zerolog.Logger) *Service {
	return NewServiceWithConfig(DefaultBackoffConfig(), logger)
}

// NewServiceWithConfig creates a new status service with custom configuration.
func NewServiceWithConfig(config BackoffConfig, logger zerolog.Logger) *Service {
	return &Service{
		config: config,
		now:    time.Now,
		logger: logger.With().Str("component", "indexer-status").Logger(),
	}
}

// SetClock replaces the time source. Intended for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// AddListener registers a state change listener. Listeners must be added
// before the service is used concurrently.
func (s *Service) AddListener(l Listener) {
	s.listeners = append(s.listeners, l)
}

// GetConfig returns the current backoff configuration.
func (s *Service) GetConfig() BackoffConfig {
	return s.config
}

func (s *Service) entryFor(id int64) *entry {
	if e, ok := s.entries.Load(id); ok {
		return e.(*entry)
	}
	e, _ := s.entries.LoadOrStore(id, &entry{
		state: indexer.BackendHealth{BackendID: id, State: indexer.StateHealthy},
	})
	return e.(*entry)
}

// Get returns the current health of an indexer. An elapsed suspension is
// moved to degraded here, so the indexer becomes eligible for one attempt.
func (s *Service) Get(id int64) indexer.BackendHealth {
	e := s.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	s.expireLocked(e)
	return copyHealth(e.state)
}

// Eligible reports whether searches may use the indexer.
func (s *Service) Eligible(id int64) bool {
	return s.Get(id).State != indexer.StateSuspended
}

func (s *Service) expireLocked(e *entry) {
	if e.state.State != indexer.StateSuspended || e.state.BackoffUntil == nil {
		return
	}
	if s.now().Before(*e.state.BackoffUntil) {
		return
	}
	prev := copyHealth(e.state)
	e.state.State = indexer.StateDegraded
	e.state.BackoffUntil = nil
	e.halfOpen = true
	s.logger.Info().
		Int64("indexerId", e.state.BackendID).
		Int("failures", e.state.ConsecutiveFailures).
		Msg("Indexer backoff elapsed, marking degraded")
	s.notify(prev, e.state)
}

// TryAcquire claims an attempt against the indexer. It fails while the
// indexer is suspended, and after a suspension has elapsed it succeeds for
// one caller only until an outcome is recorded or the claim is released.
func (s *Service) TryAcquire(id int64) bool {
	e := s.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	s.expireLocked(e)
	if e.state.State == indexer.StateSuspended {
		return false
	}
	if e.halfOpen {
		if e.probing {
			return false
		}
		e.probing = true
	}
	return true
}

// Release gives back a claim whose attempt ended without an outcome.
func (s *Service) Release(id int64) {
	e := s.entryFor(id)
	e.mu.Lock()
	e.probing = false
	e.mu.Unlock()
}

// Record applies the outcome of one query to the indexer's state.
func (s *Service) Record(id int64, outcome indexer.Outcome) indexer.BackendHealth {
	e := s.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	at := outcome.At
	if at.IsZero() {
		at = s.now()
	}

	s.expireLocked(e)
	prev := copyHealth(e.state)
	e.probing = false

	if outcome.Succeeded() {
		s.recordSuccessLocked(e, at)
	} else {
		switch indexer.GetErrorCode(outcome.Err) {
		case indexer.ErrCodeAuthRequired, indexer.ErrCodeInvalidRequest:
			// Only a failed re-authentication counts; the caller records it
			// as a backend error.
			return copyHealth(e.state)
		case indexer.ErrCodeRateLimited:
			e.halfOpen = false
			s.recordRateLimitLocked(e, at, outcome.Err)
		default:
			e.halfOpen = false
			s.recordFailureLocked(e, at, outcome.Err)
		}
	}

	if prev.State != e.state.State {
		s.notify(prev, e.state)
	}
	return copyHealth(e.state)
}

// RecordSuccess records a successful query and clears any failure state.
func (s *Service) RecordSuccess(id int64) indexer.BackendHealth {
	return s.Record(id, indexer.Outcome{})
}

// RecordFailure records a failed query.
func (s *Service) RecordFailure(id int64, err error) indexer.BackendHealth {
	return s.Record(id, indexer.Outcome{Err: err})
}

func (s *Service) recordSuccessLocked(e *entry, at time.Time) {
	e.halfOpen = false
	if e.state.ConsecutiveFailures > 0 {
		s.logger.Debug().
			Int64("indexerId", e.state.BackendID).
			Int("failures", e.state.ConsecutiveFailures).
			Msg("Recorded successful indexer operation, clearing failures")
	}
	e.state.State = indexer.StateHealthy
	e.state.ConsecutiveFailures = 0
	e.state.BackoffUntil = nil
	e.state.LastSuccess = &at
}

func (s *Service) recordRateLimitLocked(e *entry, at time.Time, err error) {
	backoff := s.config.RateLimitBackoffFor(e.state.ConsecutiveFailures, indexer.RetryAfterOf(err))
	until := at.Add(backoff)

	e.state.State = indexer.StateSuspended
	e.state.BackoffUntil = &until
	e.state.LastFailure = &at
	e.state.LastFailureKind = indexer.ErrCodeRateLimited
	e.state.LastFailureMessage = err.Error()

	s.logger.Warn().
		Int64("indexerId", e.state.BackendID).
		Dur("backoff", backoff).
		Time("backoffUntil", until).
		Err(err).
		Msg("Indexer rate limited, suspending")
}

func (s *Service) recordFailureLocked(e *entry, at time.Time, err error) {
	e.state.ConsecutiveFailures++
	e.state.LastFailure = &at
	e.state.LastFailureKind = indexer.GetErrorCode(err)
	if e.state.LastFailureKind == "" {
		e.state.LastFailureKind = indexer.ErrCodeBackend
	}
	e.state.LastFailureMessage = err.Error()

	backoff := s.config.FailureBackoff(e.state.ConsecutiveFailures)
	if backoff == 0 {
		e.state.State = indexer.StateDegraded
		s.logger.Debug().
			Int64("indexerId", e.state.BackendID).
			Int("failures", e.state.ConsecutiveFailures).
			Err(err).
			Msg("Recorded indexer failure")
		return
	}

	until := at.Add(backoff)
	e.state.State = indexer.StateSuspended
	e.state.BackoffUntil = &until

	s.logger.Warn().
		Int64("indexerId", e.state.BackendID).
		Int("failures", e.state.ConsecutiveFailures).
		Dur("backoff", backoff).
		Time("backoffUntil", until).
		Err(err).
		Msg("Recorded indexer failure, applying backoff")
}

// Reset clears all failure state of an indexer.
func (s *Service) Reset(id int64) indexer.BackendHealth {
	e := s.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := copyHealth(e.state)
	e.state = indexer.BackendHealth{
		BackendID:   id,
		State:       indexer.StateHealthy,
		LastSuccess: prev.LastSuccess,
	}
	e.halfOpen = false
	e.probing = false

	s.logger.Info().Int64("indexerId", id).Msg("Cleared indexer status")
	if prev.State != e.state.State {
		s.notify(prev, e.state)
	}
	return copyHealth(e.state)
}

// Snapshot returns the state of every tracked indexer ordered by id.
func (s *Service) Snapshot() []indexer.BackendHealth {
	var ids []int64
	s.entries.Range(func(k, _ any) bool {
		ids = append(ids, k.(int64))
		return true
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]indexer.BackendHealth, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.Get(id))
	}
	return out
}

// Restore loads previously persisted states. Indexers already tracked keep
// their live state.
func (s *Service) Restore(states []indexer.BackendHealth) int {
	restored := 0
	for _, st := range states {
		st := copyHealth(st)
		if st.State == "" {
			st.State = indexer.StateHealthy
		}
		if _, loaded := s.entries.LoadOrStore(st.BackendID, &entry{state: st}); !loaded {
			restored++
		}
	}
	s.logger.Debug().Int("count", restored).Msg("Restored indexer statuses")
	return restored
}

// GetStats counts the given indexers per health state.
func (s *Service) GetStats(ids []int64) indexer.HealthSummary {
	stats := indexer.HealthSummary{Total: len(ids)}
	for _, id := range ids {
		switch s.Get(id).State {
		case indexer.StateSuspended:
			stats.Suspended++
		case indexer.StateDegraded:
			stats.Degraded++
		default:
			stats.Healthy++
		}
	}
	return stats
}

// RemainingBackoff returns how long an indexer stays suspended.
func (s *Service) RemainingBackoff(id int64) time.Duration {
	h := s.Get(id)
	if h.State != indexer.StateSuspended || h.BackoffUntil == nil {
		return 0
	}
	return h.BackoffUntil.Sub(s.now())
}

func (s *Service) notify(prev, next indexer.BackendHealth) {
	for _, l := range s.listeners {
		l(prev, copyHealth(next))
	}
}

func copyHealth(h indexer.BackendHealth) indexer.BackendHealth {
	out := h
	if h.BackoffUntil != nil {
		t := *h.BackoffUntil
		out.BackoffUntil = &t
	}
	if h.LastFailure != nil {
		t := *h.LastFailure
		out.LastFailure = &t
	}
	if h.LastSuccess != nil {
		t := *h.LastSuccess
		out.LastSuccess = &t
	}
	return out
}
