package torznab

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/slipstream/indexhub/internal/indexer"
)

const (
	defaultAPIPath  = "/api"
	defaultPageSize = 100
)

func init() {
	indexer.RegisterFactory(indexer.TypeTorznab, New)
	indexer.RegisterFactory(indexer.TypeNewznab, New)
	indexer.RegisterFactory(indexer.TypeRSS, NewFeed)
}

// Backend queries a Torznab or Newznab API.
type Backend struct {
	desc       *indexer.BackendDescriptor
	apiPath    string
	apiKey     string
	categories *indexer.CategoryMap
	parser     *Parser
	logger     zerolog.Logger
}

// DefaultCapabilities is what a Torznab/Newznab API is assumed to support
// when the definition does not say otherwise.
func DefaultCapabilities() indexer.Capabilities {
	return indexer.Capabilities{
		Kinds: map[indexer.QueryKind][]string{
			indexer.KindSearch: {indexer.ParamQ},
			indexer.KindTV:     {indexer.ParamQ, indexer.ParamSeason, indexer.ParamEpisode, indexer.ParamImdbID, indexer.ParamTvdbID},
			indexer.KindMovie:  {indexer.ParamQ, indexer.ParamImdbID, indexer.ParamTmdbID},
			indexer.KindMusic:  {indexer.ParamQ, indexer.ParamArtist, indexer.ParamAlbum},
			indexer.KindBook:   {indexer.ParamQ, indexer.ParamAuthor, indexer.ParamTitle},
		},
		DefaultLimit: defaultPageSize,
		MaxLimit:     defaultPageSize,
	}
}

// New creates a Torznab or Newznab backend from its definition.
func New(def indexer.Definition, opts indexer.FactoryOptions) (indexer.Backend, error) {
	if len(def.BaseURLs) == 0 {
		return nil, fmt.Errorf("indexer %d: baseUrls is required", def.ID)
	}

	defaults := indexer.BackendDescriptor{
		Protocol:         indexer.ProtocolTorrent,
		Capabilities:     DefaultCapabilities(),
		SupportsRedirect: true,
	}
	if def.Type == indexer.TypeNewznab {
		defaults.Protocol = indexer.ProtocolUsenet
	}
	desc := def.Descriptor(defaults)
	if len(desc.Capabilities.Categories) == 0 {
		desc.Capabilities.Categories = indexer.AllCategories()
	}

	apiKey := def.APIKey
	if opts.Secrets != nil && apiKey != "" {
		resolved, err := opts.Secrets.Resolve(apiKey)
		if err != nil {
			return nil, fmt.Errorf("indexer %d: api key: %w", def.ID, err)
		}
		apiKey = resolved
	}

	apiPath := def.APIPath
	if apiPath == "" {
		apiPath = defaultAPIPath
	}

	return &Backend{
		desc:       desc,
		apiPath:    "/" + strings.TrimLeft(apiPath, "/"),
		apiKey:     apiKey,
		categories: indexer.NewCategoryMap(desc.CategoryMap),
		parser:     &Parser{},
		logger:     opts.Logger.With().Str("component", "torznab").Int64("indexerId", def.ID).Logger(),
	}, nil
}

// Descriptor returns the backend descriptor.
func (b *Backend) Descriptor() *indexer.BackendDescriptor {
	return b.desc
}

// Parser returns the feed parser.
func (b *Backend) Parser() indexer.Parser {
	return b.parser
}

// NewGenerator returns a paged query sequence for req. Unsupported kinds
// yield no queries.
func (b *Backend) NewGenerator(req *indexer.SearchRequest) indexer.Generator {
	if !b.desc.Capabilities.Supports(req.Kind) {
		return indexer.EmptyGenerator{}
	}

	params := b.searchParams(req)
	pageSize := b.pageSize(req)

	return indexer.NewPagedGenerator(pageSize, func(page int) *indexer.OutboundQuery {
		q := cloneValues(params)
		q.Set("limit", strconv.Itoa(pageSize))
		q.Set("offset", strconv.Itoa(page*pageSize))
		return &indexer.OutboundQuery{
			Method: http.MethodGet,
			URL:    b.desc.BaseURL() + b.apiPath + "?" + q.Encode(),
			Stage:  "results",
		}
	}, CountItems)
}

func (b *Backend) pageSize(req *indexer.SearchRequest) int {
	size := b.desc.Capabilities.DefaultLimit
	if size <= 0 {
		size = defaultPageSize
	}
	if req.Limit > 0 && req.Limit < size {
		size = req.Limit
	}
	if maxLimit := b.desc.Capabilities.MaxLimit; maxLimit > 0 && size > maxLimit {
		size = maxLimit
	}
	return size
}

// searchParams builds the query parameters shared by all pages.
func (b *Backend) searchParams(req *indexer.SearchRequest) url.Values {
	caps := b.desc.Capabilities
	kind := req.Kind
	q := url.Values{}
	q.Set("t", string(kind))
	if b.apiKey != "" {
		q.Set("apikey", b.apiKey)
	}
	q.Set("extended", "1")

	term := strings.TrimSpace(req.Query)

	switch kind {
	case indexer.KindTV:
		if req.Season > 0 {
			if caps.SupportsParam(kind, indexer.ParamSeason) {
				q.Set("season", strconv.Itoa(req.Season))
				if req.Episode != "" && caps.SupportsParam(kind, indexer.ParamEpisode) {
					q.Set("ep", req.Episode)
				}
			} else {
				term = strings.TrimSpace(term + " " + episodeToken(req.Season, req.Episode))
			}
		}
		if req.TvdbID > 0 && caps.SupportsParam(kind, indexer.ParamTvdbID) {
			q.Set("tvdbid", strconv.Itoa(req.TvdbID))
		}
		if req.ImdbID != "" && caps.SupportsParam(kind, indexer.ParamImdbID) {
			q.Set("imdbid", imdbWithPrefix(req.ImdbID))
		}
	case indexer.KindMovie:
		if req.ImdbID != "" && caps.SupportsParam(kind, indexer.ParamImdbID) {
			q.Set("imdbid", imdbWithPrefix(req.ImdbID))
		}
		if req.TmdbID > 0 && caps.SupportsParam(kind, indexer.ParamTmdbID) {
			q.Set("tmdbid", strconv.Itoa(req.TmdbID))
		}
		if req.Year > 0 {
			if caps.SupportsParam(kind, indexer.ParamYear) {
				q.Set("year", strconv.Itoa(req.Year))
			} else if term != "" {
				term = fmt.Sprintf("%s %d", term, req.Year)
			}
		}
	case indexer.KindMusic:
		if req.Artist != "" && caps.SupportsParam(kind, indexer.ParamArtist) {
			q.Set("artist", req.Artist)
		}
		if req.Album != "" && caps.SupportsParam(kind, indexer.ParamAlbum) {
			q.Set("album", req.Album)
		}
	case indexer.KindBook:
		if req.Author != "" && caps.SupportsParam(kind, indexer.ParamAuthor) {
			q.Set("author", req.Author)
		}
		if req.BookTitle != "" && caps.SupportsParam(kind, indexer.ParamTitle) {
			q.Set("title", req.BookTitle)
		}
	}

	if term != "" {
		q.Set("q", term)
	}

	if cats := b.nativeCategories(req.Categories); len(cats) > 0 {
		q.Set("cat", strings.Join(cats, ","))
	}
	return q
}

// nativeCategories translates requested standard categories. Backends
// without a category map take standard ids as they are.
func (b *Backend) nativeCategories(requested []int) []string {
	if len(requested) == 0 {
		return nil
	}
	if b.categories.IsEmpty() {
		out := make([]string, 0, len(requested))
		for _, c := range requested {
			out = append(out, strconv.Itoa(c))
		}
		return out
	}
	return b.categories.NativeCodes(indexer.ExpandCategories(requested))
}

func episodeToken(season int, episode string) string {
	if episode == "" {
		return fmt.Sprintf("S%02d", season)
	}
	if ep, err := strconv.Atoi(episode); err == nil {
		return fmt.Sprintf("S%02dE%02d", season, ep)
	}
	return fmt.Sprintf("S%02d %s", season, episode)
}

func imdbWithPrefix(id string) string {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(id, "tt") {
		return id
	}
	return "tt" + id
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
