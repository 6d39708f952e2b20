// Package ratelimit provides rate limiting for indexer operations.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Config defines rate limit configuration.
type Config struct {
	// QueryInterval is the minimum spacing between queries to one indexer
	QueryInterval time.Duration `mapstructure:"queryInterval"`
	// QueryBurst is the number of queries allowed back to back
	QueryBurst int `mapstructure:"queryBurst"`
	// QueryLimit is the maximum number of queries allowed in the period (0 = unlimited)
	QueryLimit int `mapstructure:"queryLimit"`
	// QueryPeriod is the time period for query limiting
	QueryPeriod time.Duration `mapstructure:"queryPeriod"`
	// GrabLimit is the maximum number of downloads allowed in the period (0 = unlimited)
	GrabLimit int `mapstructure:"grabLimit"`
	// GrabPeriod is the time period for grab limiting
	GrabPeriod time.Duration `mapstructure:"grabPeriod"`
}

// DefaultConfig returns the default rate limit configuration.
func DefaultConfig() Config {
	return Config{
		QueryInterval: 2 * time.Second,
		QueryBurst:    2,
		QueryLimit:    100,
		QueryPeriod:   time.Hour,
		GrabLimit:     25,
		GrabPeriod:    time.Hour,
	}
}

// ErrLimitReached is returned when an indexer exhausted its period quota.
var ErrLimitReached = errors.New("indexer rate limit reached")

// Limiter paces and counts queries and grabs per indexer.
type Limiter struct {
	logger zerolog.Logger
	config Config

	mu      sync.Mutex
	buckets map[int64]*indexerBucket
}

// indexerBucket holds the rate limit state of one indexer.
type indexerBucket struct {
	pacer *rate.Limiter

	mu      sync.Mutex
	queries periodCount
	grabs   periodCount
}

// periodCount tracks a count that resets after a fixed period.
type periodCount struct {
	count     int
	resetTime time.Time
}

func (p *periodCount) roll(now time.Time, period time.Duration) {
	if now.After(p.resetTime) {
		p.count = 0
		p.resetTime = now.Add(period)
	}
}

// NewLimiter creates a new rate limiter.
func NewLimiter(config Config, logger zerolog.Logger) *Limiter {
	return &Limiter{
		logger:  logger.With().Str("component", "rate-limiter").Logger(),
		config:  config,
		buckets: make(map[int64]*indexerBucket),
	}
}

func (l *Limiter) bucket(indexerID int64) *indexerBucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[indexerID]
	if !ok {
		limit := rate.Inf
		if l.config.QueryInterval > 0 {
			limit = rate.Every(l.config.QueryInterval)
		}
		burst := l.config.QueryBurst
		if burst < 1 {
			burst = 1
		}
		b = &indexerBucket{pacer: rate.NewLimiter(limit, burst)}
		l.buckets[indexerID] = b
	}
	return b
}

// WaitQuery blocks until the indexer may be queried again and counts the
// query against its period quota. It fails when the quota is exhausted or
// ctx ends first.
func (l *Limiter) WaitQuery(ctx context.Context, indexerID int64) error {
	b := l.bucket(indexerID)

	b.mu.Lock()
	now := time.Now()
	b.queries.roll(now, l.config.QueryPeriod)
	if l.config.QueryLimit > 0 && b.queries.count >= l.config.QueryLimit {
		count := b.queries.count
		b.mu.Unlock()
		l.logger.Warn().
			Int64("indexerId", indexerID).
			Int("count", count).
			Int("limit", l.config.QueryLimit).
			Msg("Query rate limit reached")
		return ErrLimitReached
	}
	b.queries.count++
	count := b.queries.count
	b.mu.Unlock()

	if err := b.pacer.Wait(ctx); err != nil {
		return err
	}

	l.logger.Debug().
		Int64("indexerId", indexerID).
		Int("queryCount", count).
		Int("queryLimit", l.config.QueryLimit).
		Msg("Recorded query")
	return nil
}

// CheckQueryLimit returns whether the indexer has reached its query limit.
func (l *Limiter) CheckQueryLimit(indexerID int64) bool {
	if l.config.QueryLimit <= 0 {
		return false
	}
	b := l.bucket(indexerID)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queries.roll(time.Now(), l.config.QueryPeriod)
	return b.queries.count >= l.config.QueryLimit
}

// AcquireGrab counts one download against the grab quota.
func (l *Limiter) AcquireGrab(indexerID int64) error {
	b := l.bucket(indexerID)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.grabs.roll(time.Now(), l.config.GrabPeriod)
	if l.config.GrabLimit > 0 && b.grabs.count >= l.config.GrabLimit {
		l.logger.Warn().
			Int64("indexerId", indexerID).
			Int("count", b.grabs.count).
			Int("limit", l.config.GrabLimit).
			Msg("Grab rate limit reached")
		return ErrLimitReached
	}
	b.grabs.count++
	return nil
}

// Stats is the current usage of one indexer.
type Stats struct {
	Queries int `json:"queries"`
	Grabs   int `json:"grabs"`
}

// GetStats returns the usage counters of an indexer.
func (l *Limiter) GetStats(indexerID int64) Stats {
	b := l.bucket(indexerID)
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	b.queries.roll(now, l.config.QueryPeriod)
	b.grabs.roll(now, l.config.GrabPeriod)
	return Stats{Queries: b.queries.count, Grabs: b.grabs.count}
}
