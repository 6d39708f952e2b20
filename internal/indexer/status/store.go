package status

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/slipstream/indexhub/internal/database/sqlc"
	"github.com/slipstream/indexhub/internal/indexer"
)

// Store persists indexer health so suspensions survive restarts.
type Store struct {
	db      *sql.DB
	queries *sqlc.Queries
}

// NewStore creates a store over a migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, queries: sqlc.New(db)}
}

func upsert(ctx context.Context, q *sqlc.Queries, h indexer.BackendHealth) error {
	err := q.UpsertBackendHealth(ctx, sqlc.UpsertBackendHealthParams{
		BackendID:           h.BackendID,
		State:               string(h.State),
		ConsecutiveFailures: int64(h.ConsecutiveFailures),
		BackoffUntil:        toNullTime(h.BackoffUntil),
		LastFailureKind:     h.LastFailureKind,
		LastFailureMessage:  h.LastFailureMessage,
		LastFailure:         toNullTime(h.LastFailure),
		LastSuccess:         toNullTime(h.LastSuccess),
		UpdatedAt:           time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to save indexer status: %w", err)
	}
	return nil
}

// Save upserts one health record.
func (st *Store) Save(ctx context.Context, h indexer.BackendHealth) error {
	return upsert(ctx, st.queries, h)
}

// SaveAll persists a snapshot in one transaction.
func (st *Store) SaveAll(ctx context.Context, states []indexer.BackendHealth) error {
	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	q := st.queries.WithTx(tx)
	for _, h := range states {
		if err := upsert(ctx, q, h); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadAll reads every persisted health record.
func (st *Store) LoadAll(ctx context.Context) ([]indexer.BackendHealth, error) {
	rows, err := st.queries.ListBackendHealth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexer statuses: %w", err)
	}

	out := make([]indexer.BackendHealth, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToHealth(row))
	}
	return out, nil
}

func rowToHealth(row *sqlc.BackendHealth) indexer.BackendHealth {
	return indexer.BackendHealth{
		BackendID:           row.BackendID,
		State:               indexer.HealthState(row.State),
		ConsecutiveFailures: int(row.ConsecutiveFailures),
		BackoffUntil:        fromNullTime(row.BackoffUntil),
		LastFailureKind:     row.LastFailureKind,
		LastFailureMessage:  row.LastFailureMessage,
		LastFailure:         fromNullTime(row.LastFailure),
		LastSuccess:         fromNullTime(row.LastSuccess),
	}
}

// Persist saves every state change of the service to the store.
func (s *Service) Persist(store *Store) {
	s.AddListener(func(_, next indexer.BackendHealth) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Save(ctx, next); err != nil {
			s.logger.Warn().Err(err).Int64("indexerId", next.BackendID).Msg("Failed to persist indexer status")
		}
	})
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
