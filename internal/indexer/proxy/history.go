package proxy

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/slipstream/indexhub/internal/database/sqlc"
)

// Download modes.
const (
	ModeRedirect = "redirect"
	ModeDownload = "download"
)

// HistoryItem is one audited download.
type HistoryItem struct {
	ID         string    `json:"id"`
	IndexerID  int64     `json:"indexerId"`
	Mode       string    `json:"mode"`
	Host       string    `json:"host,omitempty"`
	Source     string    `json:"source,omitempty"`
	File       string    `json:"file,omitempty"`
	Successful bool      `json:"successful"`
	InfoHash   string    `json:"infoHash,omitempty"`
	Size       int64     `json:"size,omitempty"`
	Error      string    `json:"error,omitempty"`
	ElapsedMs  int64     `json:"elapsedMs"`
	CreatedAt  time.Time `json:"createdAt"`
}

// HistoryStore records downloads in the download_history table.
type HistoryStore struct {
	queries *sqlc.Queries
}

// NewHistoryStore creates a store over a migrated database.
func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{queries: sqlc.New(db)}
}

// Record inserts one history item. Missing ids and timestamps are filled in.
func (h *HistoryStore) Record(ctx context.Context, item *HistoryItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	var successful int64
	if item.Successful {
		successful = 1
	}
	err := h.queries.CreateDownloadHistory(ctx, sqlc.CreateDownloadHistoryParams{
		ID:         item.ID,
		BackendID:  item.IndexerID,
		Mode:       item.Mode,
		Host:       item.Host,
		Source:     item.Source,
		File:       item.File,
		Successful: successful,
		InfoHash:   item.InfoHash,
		Size:       item.Size,
		Error:      item.Error,
		ElapsedMs:  item.ElapsedMs,
		CreatedAt:  item.CreatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to record download history: %w", err)
	}
	return nil
}

// List returns the most recent history items.
func (h *HistoryStore) List(ctx context.Context, limit, offset int) ([]HistoryItem, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := h.queries.ListDownloadHistory(ctx, sqlc.ListDownloadHistoryParams{
		Limit:  int64(limit),
		Offset: int64(offset),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list download history: %w", err)
	}

	items := make([]HistoryItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, rowToItem(row))
	}
	return items, nil
}

// Prune deletes history items created before cutoff.
func (h *HistoryStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := h.queries.DeleteDownloadHistoryBefore(ctx, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune download history: %w", err)
	}
	return n, nil
}

func rowToItem(row *sqlc.DownloadHistory) HistoryItem {
	return HistoryItem{
		ID:         row.ID,
		IndexerID:  row.BackendID,
		Mode:       row.Mode,
		Host:       row.Host,
		Source:     row.Source,
		File:       row.File,
		Successful: row.Successful == 1,
		InfoHash:   row.InfoHash,
		Size:       row.Size,
		Error:      row.Error,
		ElapsedMs:  row.ElapsedMs,
		CreatedAt:  row.CreatedAt,
	}
}
