package indexer

// WebSocket event types for indexer operations.
const (
	EventSearchStarted    = "search:started"
	EventSearchCompleted  = "search:completed"
	EventDownloadResolved = "download:resolved"
	EventIndexerStatus    = "indexer:status"
)

// SearchStartedPayload is sent when a search begins.
type SearchStartedPayload struct {
	SearchID   string  `json:"searchId"`
	Query      string  `json:"query,omitempty"`
	Type       string  `json:"type"`
	IndexerIDs []int64 `json:"indexerIds,omitempty"`
}

// SearchCompletedPayload is sent when a search finishes.
type SearchCompletedPayload struct {
	SearchID     string   `json:"searchId"`
	Query        string   `json:"query,omitempty"`
	Type         string   `json:"type"`
	TotalResults int      `json:"totalResults"`
	IndexersUsed int      `json:"indexersUsed"`
	Errors       []string `json:"errors,omitempty"`
	ElapsedMs    int64    `json:"elapsedMs"`
}

// DownloadResolvedPayload is sent when a mapped link has been served.
type DownloadResolvedPayload struct {
	IndexerID int64  `json:"indexerId"`
	File      string `json:"file"`
	Mode      string `json:"mode"` // redirect, download
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// IndexerStatusPayload is sent when indexer health changes state.
type IndexerStatusPayload struct {
	IndexerID   int64  `json:"indexerId"`
	IndexerName string `json:"indexerName,omitempty"`
	Status      string `json:"status"` // healthy, degraded, suspended
	Message     string `json:"message,omitempty"`
}
