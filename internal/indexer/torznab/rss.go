package torznab

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/slipstream/indexhub/internal/indexer"
)

// FeedSettings holds the per-indexer configuration of a generic RSS feed.
type FeedSettings struct {
	URL         string
	Cookie      string
	ContentType string // "movies", "tv", "both"
}

// FeedBackend reads a plain RSS, EzRSS or TorrentPotato feed. The feed
// cannot search, so the term is matched against titles locally.
type FeedBackend struct {
	desc     *indexer.BackendDescriptor
	settings FeedSettings
	logger   zerolog.Logger
}

// NewFeed creates a generic RSS backend.
func NewFeed(def indexer.Definition, opts indexer.FactoryOptions) (indexer.Backend, error) {
	settings, err := indexer.ResolveSettings(opts.Secrets, def.Settings)
	if err != nil {
		return nil, fmt.Errorf("indexer %d: %w", def.ID, err)
	}

	s := FeedSettings{
		URL:         settings["url"],
		Cookie:      settings["cookie"],
		ContentType: settings["contentType"],
	}
	if s.URL == "" && len(def.BaseURLs) > 0 {
		s.URL = def.BaseURLs[0]
	}
	if s.URL == "" {
		return nil, fmt.Errorf("indexer %d: feed url is required", def.ID)
	}
	if s.ContentType == "" {
		s.ContentType = "both"
	}

	kinds := map[indexer.QueryKind][]string{indexer.KindSearch: {indexer.ParamQ}}
	var categories []indexer.CategoryMapping
	if s.ContentType == "movies" || s.ContentType == "both" {
		kinds[indexer.KindMovie] = []string{indexer.ParamQ}
		categories = append(categories, indexer.CategoryMapping{Native: "movies", Standard: indexer.CategoryMovies})
	}
	if s.ContentType == "tv" || s.ContentType == "both" {
		kinds[indexer.KindTV] = []string{indexer.ParamQ}
		categories = append(categories, indexer.CategoryMapping{Native: "tv", Standard: indexer.CategoryTV})
	}

	desc := def.Descriptor(indexer.BackendDescriptor{
		Protocol:     indexer.ProtocolTorrent,
		Capabilities: indexer.Capabilities{Kinds: kinds},
		CategoryMap:  categories,
	})

	return &FeedBackend{
		desc:     desc,
		settings: s,
		logger:   opts.Logger.With().Str("component", "rss").Int64("indexerId", def.ID).Logger(),
	}, nil
}

// Descriptor returns the backend descriptor.
func (b *FeedBackend) Descriptor() *indexer.BackendDescriptor {
	return b.desc
}

// Parser returns the feed parser.
func (b *FeedBackend) Parser() indexer.Parser {
	return b
}

// NewGenerator yields a single fetch of the feed.
func (b *FeedBackend) NewGenerator(req *indexer.SearchRequest) indexer.Generator {
	if !b.desc.Capabilities.Supports(req.Kind) {
		return indexer.EmptyGenerator{}
	}
	header := http.Header{}
	if b.settings.Cookie != "" {
		header.Set("Cookie", b.settings.Cookie)
	}
	return indexer.NewSliceGenerator(&indexer.OutboundQuery{
		Method: http.MethodGet,
		URL:    b.settings.URL,
		Header: header,
		Stage:  "feed",
	})
}

// Parse auto-detects the feed format and keeps items matching the term.
func (b *FeedBackend) Parse(pctx indexer.ParseContext, resp *indexer.RawResponse) ([]indexer.Release, error) {
	desc := pctx.Descriptor
	if err := indexer.CheckResponse(desc, resp); err != nil {
		return nil, err
	}
	body, err := indexer.DecodeBody(desc, resp)
	if err != nil {
		return nil, indexer.NewMalformedResponseError(desc.ID, desc.Name, "failed to decode response", err)
	}

	releases, err := ParseFeed(body, desc)
	if err != nil {
		return nil, indexer.NewMalformedResponseError(desc.ID, desc.Name, "unrecognized feed", err)
	}

	term := ""
	if pctx.Request != nil {
		term = pctx.Request.Query
	}
	cats := b.contentCategories()

	out := releases[:0]
	for _, r := range releases {
		if !MatchesTerm(r.Title, term) {
			continue
		}
		if desc.MinimumSeeders > 0 && r.Seeders != nil && *r.Seeders < desc.MinimumSeeders {
			continue
		}
		r.Categories = cats
		out = append(out, r)
	}
	return out, nil
}

func (b *FeedBackend) contentCategories() []int {
	switch b.settings.ContentType {
	case "movies":
		return []int{indexer.CategoryMovies}
	case "tv":
		return []int{indexer.CategoryTV}
	}
	return []int{indexer.CategoryMovies, indexer.CategoryTV}
}

// MatchesTerm reports whether every word of term appears in title. Dots,
// underscores and dashes in the title count as spaces.
func MatchesTerm(title, term string) bool {
	words := strings.Fields(strings.ToLower(term))
	if len(words) == 0 {
		return true
	}
	normalized := strings.NewReplacer(".", " ", "_", " ", "-", " ").Replace(strings.ToLower(title))
	for _, w := range words {
		if !strings.Contains(normalized, w) {
			return false
		}
	}
	return true
}

// ParseFeed tries standard RSS, EzRSS and TorrentPotato in turn.
func ParseFeed(data []byte, desc *indexer.BackendDescriptor) ([]indexer.Release, error) {
	if results, err := parseStandardRSS(data, desc); err == nil && len(results) > 0 {
		return results, nil
	}
	if results, err := parseTorrentPotato(data, desc); err == nil && len(results) > 0 {
		return results, nil
	}

	// An empty but well formed RSS document is a valid empty feed.
	var feed rssFeed
	if err := xml.Unmarshal(data, &feed); err == nil {
		return nil, nil
	}
	return nil, fmt.Errorf("unable to parse feed: unrecognized format")
}

type rssFeed struct {
	XMLName xml.Name   `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	Title     string       `xml:"title"`
	Link      string       `xml:"link"`
	GUID      string       `xml:"guid"`
	PubDate   string       `xml:"pubDate"`
	Size      int64        `xml:"size"`
	Enclosure Enclosure    `xml:"enclosure"`
	Comments  string       `xml:"comments"`
	Torrent   ezrssTorrent `xml:"torrent"`
}

// ezrssTorrent is the torrent namespace of EzRSS feeds.
type ezrssTorrent struct {
	InfoHash      string `xml:"infoHash"`
	MagnetURI     string `xml:"magnetURI"`
	Seeds         *int   `xml:"seeds"`
	Peers         *int   `xml:"peers"`
	ContentLength int64  `xml:"contentLength"`
}

func parseStandardRSS(data []byte, desc *indexer.BackendDescriptor) ([]indexer.Release, error) {
	var feed rssFeed
	if err := xml.Unmarshal(data, &feed); err != nil {
		return nil, err
	}

	var results []indexer.Release
	for _, item := range feed.Channel.Items {
		downloadURL := item.Link
		if downloadURL == "" {
			downloadURL = item.Enclosure.URL
		}
		magnet := item.Torrent.MagnetURI
		if strings.HasPrefix(downloadURL, "magnet:") {
			magnet, downloadURL = downloadURL, ""
		}
		if downloadURL == "" && magnet == "" {
			continue
		}

		size := item.Size
		if size == 0 {
			size = item.Torrent.ContentLength
		}
		if size == 0 {
			size = item.Enclosure.Length
		}

		guid := item.GUID
		if guid == "" {
			guid = downloadURL + magnet
		}

		published, _ := ParseDate(strings.TrimSpace(item.PubDate))

		results = append(results, indexer.Release{
			GUID:        guid,
			Title:       item.Title,
			DownloadURL: downloadURL,
			MagnetURL:   magnet,
			InfoURL:     item.Comments,
			Size:        size,
			PublishDate: published,
			BackendID:   desc.ID,
			BackendName: desc.Name,
			Protocol:    inferProtocol(downloadURL, item.Enclosure.Type),
			Seeders:     item.Torrent.Seeds,
			Peers:       item.Torrent.Peers,
			InfoHash:    strings.ToLower(item.Torrent.InfoHash),
		})
	}
	return results, nil
}

type torrentPotatoResponse struct {
	Results []torrentPotatoItem `json:"results"`
}

type torrentPotatoItem struct {
	ReleaseName string `json:"release_name"`
	TorrentID   string `json:"torrent_id"`
	DownloadURL string `json:"download_url"`
	ImdbID      string `json:"imdb_id"`
	Freeleech   bool   `json:"freeleech"`
	Size        int64  `json:"size"`
	Leechers    int    `json:"leechers"`
	Seeders     int    `json:"seeders"`
}

func parseTorrentPotato(data []byte, desc *indexer.BackendDescriptor) ([]indexer.Release, error) {
	var resp torrentPotatoResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("no results")
	}

	var results []indexer.Release
	for _, item := range resp.Results {
		if item.DownloadURL == "" {
			continue
		}

		guid := item.TorrentID
		if guid == "" {
			guid = item.DownloadURL
		}

		imdbID, _ := strconv.Atoi(strings.TrimPrefix(item.ImdbID, "tt"))

		dvf := 1.0
		if item.Freeleech {
			dvf = 0
		}
		seeders, peers := item.Seeders, item.Leechers

		results = append(results, indexer.Release{
			GUID:                 guid,
			Title:                item.ReleaseName,
			DownloadURL:          item.DownloadURL,
			Size:                 item.Size * 1024 * 1024,
			BackendID:            desc.ID,
			BackendName:          desc.Name,
			Protocol:             indexer.ProtocolTorrent,
			ImdbID:               imdbID,
			Seeders:              &seeders,
			Peers:                &peers,
			DownloadVolumeFactor: dvf,
			UploadVolumeFactor:   1,
		})
	}
	return results, nil
}

func inferProtocol(link, enclosureType string) indexer.Protocol {
	if enclosureType == "application/x-nzb" || strings.Contains(link, ".nzb") {
		return indexer.ProtocolUsenet
	}
	return indexer.ProtocolTorrent
}
