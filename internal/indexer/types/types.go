// Package types contains shared type definitions for indexer packages.
package types

import (
	"net/http"
	"time"
)

// Protocol represents the download protocol.
type Protocol string

const (
	ProtocolTorrent Protocol = "torrent"
	ProtocolUsenet  Protocol = "usenet"
)

// Privacy represents indexer privacy level.
type Privacy string

const (
	PrivacyPublic      Privacy = "public"
	PrivacySemiPrivate Privacy = "semi-private"
	PrivacyPrivate     Privacy = "private"
)

// QueryKind is the kind of search a caller asks for. The values match the
// Newznab "t" parameter.
type QueryKind string

const (
	KindSearch QueryKind = "search"
	KindTV     QueryKind = "tvsearch"
	KindMovie  QueryKind = "movie"
	KindMusic  QueryKind = "music"
	KindBook   QueryKind = "book"
)

// Valid reports whether k is one of the known query kinds.
func (k QueryKind) Valid() bool {
	switch k {
	case KindSearch, KindTV, KindMovie, KindMusic, KindBook:
		return true
	}
	return false
}

// Search parameters a capability can advertise.
const (
	ParamQ       = "q"
	ParamSeason  = "season"
	ParamEpisode = "ep"
	ParamImdbID  = "imdbid"
	ParamTvdbID  = "tvdbid"
	ParamTmdbID  = "tmdbid"
	ParamYear    = "year"
	ParamArtist  = "artist"
	ParamAlbum   = "album"
	ParamAuthor  = "author"
	ParamTitle   = "title"
)

// CategoryMapping maps a backend's native category to a standard category.
type CategoryMapping struct {
	Native      string `json:"native" yaml:"native"`
	Standard    int    `json:"standard" yaml:"standard"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Capabilities describes what a backend supports.
type Capabilities struct {
	// Kinds maps each supported query kind to the parameters it accepts.
	Kinds      map[QueryKind][]string `json:"kinds"`
	Categories []int                  `json:"categories"`

	// DefaultLimit is the page size used when the caller did not ask for one.
	DefaultLimit int `json:"defaultLimit,omitempty"`
	MaxLimit     int `json:"maxLimit,omitempty"`
}

// Supports reports whether the backend accepts queries of the given kind.
func (c Capabilities) Supports(kind QueryKind) bool {
	_, ok := c.Kinds[kind]
	return ok
}

// SupportsParam reports whether a kind accepts a given parameter.
func (c Capabilities) SupportsParam(kind QueryKind, param string) bool {
	for _, p := range c.Kinds[kind] {
		if p == param {
			return true
		}
	}
	return false
}

// Limits bounds the work done against one backend during one search.
type Limits struct {
	MaxPages   int           `json:"maxPages"`
	MaxResults int           `json:"maxResults"`
	Timeout    time.Duration `json:"timeout"`
}

// BackendDescriptor is the static description of one backend instance.
type BackendDescriptor struct {
	ID               int64             `json:"id"`
	Name             string            `json:"name"`
	Type             string            `json:"type"`
	BaseURLs         []string          `json:"baseUrls"`
	Protocol         Protocol          `json:"protocol"`
	Privacy          Privacy           `json:"privacy"`
	Capabilities     Capabilities      `json:"capabilities"`
	CategoryMap      []CategoryMapping `json:"categoryMap,omitempty"`
	Encoding         string            `json:"encoding,omitempty"`
	SupportsRedirect bool              `json:"supportsRedirect"`
	Redirect         bool              `json:"redirect"`
	MinimumSeeders   int               `json:"minimumSeeders,omitempty"`
	Limits           Limits            `json:"limits"`
}

// BaseURL returns the primary base URL.
func (d *BackendDescriptor) BaseURL() string {
	if len(d.BaseURLs) == 0 {
		return ""
	}
	return d.BaseURLs[0]
}

// ShouldRedirect reports whether downloads are answered with a redirect
// instead of being fetched server-side.
func (d *BackendDescriptor) ShouldRedirect() bool {
	return d.SupportsRedirect && d.Redirect
}

// Caller identifies who issued a request.
type Caller struct {
	Host      string `json:"host"`
	ServerURL string `json:"serverUrl"`
	UserAgent string `json:"userAgent,omitempty"`
	Source    string `json:"source,omitempty"`
}

// SearchRequest defines a search across backends.
type SearchRequest struct {
	Kind       QueryKind `json:"type"`
	Query      string    `json:"query,omitempty"`
	Categories []int     `json:"categories,omitempty"`
	BackendIDs []int64   `json:"indexerIds,omitempty"`

	// TV
	Season  int    `json:"season,omitempty"`
	Episode string `json:"episode,omitempty"`
	TvdbID  int    `json:"tvdbId,omitempty"`

	// Movie
	ImdbID string `json:"imdbId,omitempty"`
	TmdbID int    `json:"tmdbId,omitempty"`
	Year   int    `json:"year,omitempty"`

	// Music
	Artist string `json:"artist,omitempty"`
	Album  string `json:"album,omitempty"`

	// Book
	Author    string `json:"author,omitempty"`
	BookTitle string `json:"bookTitle,omitempty"`

	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`

	Caller Caller `json:"-"`
}

// HasStructuredFields reports whether any kind-specific field is set.
func (r *SearchRequest) HasStructuredFields() bool {
	return r.Season > 0 || r.Episode != "" || r.TvdbID > 0 || r.ImdbID != "" ||
		r.TmdbID > 0 || r.Year > 0 || r.Artist != "" || r.Album != "" ||
		r.Author != "" || r.BookTitle != ""
}

// OutboundQuery is one concrete request to a backend.
type OutboundQuery struct {
	Method string      `json:"method"`
	URL    string      `json:"url"`
	Header http.Header `json:"-"`
	Body   string      `json:"-"`
	Page   int         `json:"page"`

	// Stage labels the step of a chain, e.g. "landing" or "results".
	Stage string `json:"stage,omitempty"`
}

// RawResponse is the unparsed outcome of executing one OutboundQuery.
type RawResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        string
	Query      *OutboundQuery
}

// Release is a normalized search result.
type Release struct {
	GUID        string    `json:"guid"`
	Title       string    `json:"title"`
	DownloadURL string    `json:"downloadUrl,omitempty"`
	MagnetURL   string    `json:"magnetUrl,omitempty"`
	InfoURL     string    `json:"infoUrl,omitempty"`
	Categories  []int     `json:"categories"`
	Size        int64     `json:"size"`
	PublishDate time.Time `json:"publishDate"`
	Protocol    Protocol  `json:"protocol"`

	BackendID   int64  `json:"indexerId"`
	BackendName string `json:"indexer"`

	ImdbID int `json:"imdbId,omitempty"`
	TvdbID int `json:"tvdbId,omitempty"`

	// Torrent
	Seeders              *int    `json:"seeders,omitempty"`
	Peers                *int    `json:"peers,omitempty"`
	InfoHash             string  `json:"infoHash,omitempty"`
	DownloadVolumeFactor float64 `json:"downloadVolumeFactor,omitempty"`
	UploadVolumeFactor   float64 `json:"uploadVolumeFactor,omitempty"`
	MinimumRatio         float64 `json:"minimumRatio,omitempty"`
	MinimumSeedTime      int64   `json:"minimumSeedTime,omitempty"`

	// Usenet
	Grabs  int    `json:"grabs,omitempty"`
	Poster string `json:"poster,omitempty"`
	Group  string `json:"group,omitempty"`
}

// HealthState is the state of a backend's circuit breaker.
type HealthState string

const (
	StateHealthy   HealthState = "healthy"
	StateDegraded  HealthState = "degraded"
	StateSuspended HealthState = "suspended"
)

// BackendHealth is the mutable health record of one backend.
type BackendHealth struct {
	BackendID           int64       `json:"indexerId"`
	State               HealthState `json:"state"`
	ConsecutiveFailures int         `json:"consecutiveFailures"`
	BackoffUntil        *time.Time  `json:"backoffUntil,omitempty"`
	LastFailureKind     string      `json:"lastFailureKind,omitempty"`
	LastFailureMessage  string      `json:"lastFailureMessage,omitempty"`
	LastFailure         *time.Time  `json:"lastFailure,omitempty"`
	LastSuccess         *time.Time  `json:"lastSuccess,omitempty"`
}
