package search

import (
	"context"

	"github.com/slipstream/indexhub/internal/indexer"
)

// Broadcaster interface for sending events to clients.
type Broadcaster interface {
	Broadcast(msgType string, payload interface{}) error
}

// SearchService defines the interface for search operations used by handlers.
type SearchService interface {
	Search(ctx context.Context, req *indexer.SearchRequest) (*SearchResult, error)
}

var _ SearchService = (*Service)(nil)
