package indexer

import (
	"github.com/slipstream/indexhub/internal/indexer/types"
)

// Re-export types from the types package for convenience.
// This allows external packages to use indexer.Release instead of types.Release.

type (
	Protocol          = types.Protocol
	Privacy           = types.Privacy
	QueryKind         = types.QueryKind
	CategoryMapping   = types.CategoryMapping
	Capabilities      = types.Capabilities
	Limits            = types.Limits
	BackendDescriptor = types.BackendDescriptor
	Caller            = types.Caller
	SearchRequest     = types.SearchRequest
	OutboundQuery     = types.OutboundQuery
	RawResponse       = types.RawResponse
	Release           = types.Release
	HealthState       = types.HealthState
	BackendHealth     = types.BackendHealth
)

// Re-export constants.
const (
	ProtocolTorrent    = types.ProtocolTorrent
	ProtocolUsenet     = types.ProtocolUsenet
	PrivacyPublic      = types.PrivacyPublic
	PrivacySemiPrivate = types.PrivacySemiPrivate
	PrivacyPrivate     = types.PrivacyPrivate

	KindSearch = types.KindSearch
	KindTV     = types.KindTV
	KindMovie  = types.KindMovie
	KindMusic  = types.KindMusic
	KindBook   = types.KindBook

	StateHealthy   = types.StateHealthy
	StateDegraded  = types.StateDegraded
	StateSuspended = types.StateSuspended

	ParamQ       = types.ParamQ
	ParamSeason  = types.ParamSeason
	ParamEpisode = types.ParamEpisode
	ParamImdbID  = types.ParamImdbID
	ParamTvdbID  = types.ParamTvdbID
	ParamTmdbID  = types.ParamTmdbID
	ParamYear    = types.ParamYear
	ParamArtist  = types.ParamArtist
	ParamAlbum   = types.ParamAlbum
	ParamAuthor  = types.ParamAuthor
	ParamTitle   = types.ParamTitle
)

// AllKinds lists the query kinds in Newznab order.
func AllKinds() []QueryKind {
	return []QueryKind{KindSearch, KindTV, KindMovie, KindMusic, KindBook}
}
