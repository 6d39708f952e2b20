// Package tasks holds the maintenance jobs run by the scheduler.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/slipstream/indexhub/internal/indexer"
	"github.com/slipstream/indexhub/internal/indexer/search"
	"github.com/slipstream/indexhub/internal/scheduler"
)

// Task ids.
const (
	HealthSnapshotTaskID = "health-snapshot"
	HealthProbeTaskID    = "health-probe"
	AuditPruneTaskID     = "audit-prune"
)

// HealthSource exposes the live health of every tracked indexer.
type HealthSource interface {
	Snapshot() []indexer.BackendHealth
}

// HealthStore persists health snapshots.
type HealthStore interface {
	SaveAll(ctx context.Context, states []indexer.BackendHealth) error
}

// Searcher runs searches against selected indexers.
type Searcher interface {
	Search(ctx context.Context, req *indexer.SearchRequest) (*search.SearchResult, error)
}

// AuditPruner deletes old download history.
type AuditPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// HealthSnapshotTask saves the health of every indexer.
type HealthSnapshotTask struct {
	source HealthSource
	store  HealthStore
	logger zerolog.Logger
}

// NewHealthSnapshotTask creates the snapshot task.
func NewHealthSnapshotTask(source HealthSource, store HealthStore, logger zerolog.Logger) *HealthSnapshotTask {
	return &HealthSnapshotTask{
		source: source,
		store:  store,
		logger: logger.With().Str("task", HealthSnapshotTaskID).Logger(),
	}
}

// Run saves the current snapshot.
func (t *HealthSnapshotTask) Run(ctx context.Context) error {
	states := t.source.Snapshot()
	if len(states) == 0 {
		return nil
	}
	if err := t.store.SaveAll(ctx, states); err != nil {
		return err
	}
	t.logger.Debug().Int("count", len(states)).Msg("Saved indexer health snapshot")
	return nil
}

// HealthProbeTask sends an empty search to degraded indexers so a healthy
// indexer recovers without waiting for user traffic.
type HealthProbeTask struct {
	source   HealthSource
	searcher Searcher
	logger   zerolog.Logger
}

// NewHealthProbeTask creates the probe task.
func NewHealthProbeTask(source HealthSource, searcher Searcher, logger zerolog.Logger) *HealthProbeTask {
	return &HealthProbeTask{
		source:   source,
		searcher: searcher,
		logger:   logger.With().Str("task", HealthProbeTaskID).Logger(),
	}
}

// Run probes every degraded indexer. Suspended indexers are left alone
// until their backoff elapses.
func (t *HealthProbeTask) Run(ctx context.Context) error {
	var ids []int64
	for _, h := range t.source.Snapshot() {
		if h.State == indexer.StateDegraded {
			ids = append(ids, h.BackendID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	result, err := t.searcher.Search(ctx, &indexer.SearchRequest{
		Kind:       indexer.KindSearch,
		BackendIDs: ids,
		Limit:      1,
	})
	if err != nil {
		if indexer.IsInvalidRequest(err) {
			// None of them supports free-text search.
			t.logger.Debug().Err(err).Msg("Degraded indexers cannot be probed")
			return nil
		}
		return fmt.Errorf("probe search failed: %w", err)
	}

	t.logger.Info().
		Int("probed", len(ids)).
		Int("failed", len(result.IndexerErrors)).
		Msg("Probed degraded indexers")
	return nil
}

// AuditPruneTask deletes download history older than the retention.
type AuditPruneTask struct {
	pruner    AuditPruner
	retention time.Duration
	now       func() time.Time
	logger    zerolog.Logger
}

// NewAuditPruneTask creates the prune task.
func NewAuditPruneTask(pruner AuditPruner, retention time.Duration, logger zerolog.Logger) *AuditPruneTask {
	return &AuditPruneTask{
		pruner:    pruner,
		retention: retention,
		now:       time.Now,
		logger:    logger.With().Str("task", AuditPruneTaskID).Logger(),
	}
}

// Run deletes expired history.
func (t *AuditPruneTask) Run(ctx context.Context) error {
	if t.retention <= 0 {
		return nil
	}
	n, err := t.pruner.Prune(ctx, t.now().Add(-t.retention))
	if err != nil {
		return err
	}
	if n > 0 {
		t.logger.Info().Int64("deleted", n).Msg("Pruned download history")
	}
	return nil
}

// Config holds the schedules of the maintenance tasks.
type Config struct {
	HealthSnapshot string
	HealthProbe    string
	AuditPrune     string
	AuditRetention time.Duration
}

// Deps are the collaborators of the maintenance tasks. Nil collaborators
// leave their task unregistered.
type Deps struct {
	Health      HealthSource
	HealthStore HealthStore
	Searcher    Searcher
	Audit       AuditPruner
}

// Register adds every task whose collaborators are present.
func Register(sched *scheduler.Scheduler, deps Deps, cfg Config, logger zerolog.Logger) error {
	var errs []error
	if deps.Health != nil && deps.HealthStore != nil && cfg.HealthSnapshot != "" {
		errs = append(errs, sched.RegisterTask(scheduler.TaskConfig{
			ID:          HealthSnapshotTaskID,
			Name:        "Health Snapshot",
			Description: "Saves indexer health so suspensions survive restarts",
			Cron:        cfg.HealthSnapshot,
			Func:        NewHealthSnapshotTask(deps.Health, deps.HealthStore, logger).Run,
			Timeout:     time.Minute,
		}))
	}
	if deps.Health != nil && deps.Searcher != nil && cfg.HealthProbe != "" {
		errs = append(errs, sched.RegisterTask(scheduler.TaskConfig{
			ID:          HealthProbeTaskID,
			Name:        "Health Probe",
			Description: "Sends a test search to degraded indexers",
			Cron:        cfg.HealthProbe,
			Func:        NewHealthProbeTask(deps.Health, deps.Searcher, logger).Run,
			Timeout:     2 * time.Minute,
		}))
	}
	if deps.Audit != nil && cfg.AuditPrune != "" {
		errs = append(errs, sched.RegisterTask(scheduler.TaskConfig{
			ID:          AuditPruneTaskID,
			Name:        "Download History Cleanup",
			Description: "Deletes download history older than the retention period",
			Cron:        cfg.AuditPrune,
			Func:        NewAuditPruneTask(deps.Audit, cfg.AuditRetention, logger).Run,
			Timeout:     time.Minute,
		}))
	}
	return errors.Join(errs...)
}
