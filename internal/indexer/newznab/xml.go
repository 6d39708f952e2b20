package newznab

import (
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/slipstream/indexhub/internal/indexer"
	"github.com/slipstream/indexhub/internal/indexer/torznab"
)

const (
	torznabNamespace = "http://torznab.com/schemas/2015/feed"
	newznabNamespace = "http://www.newznab.com/DTD/2010/feeds/attributes/"
	atomNamespace    = "http://www.w3.org/2005/Atom"

	serverTitle   = "IndexHub"
	serverVersion = "1.0"
)

// Newznab error codes.
const (
	codeMissingParameter   = 200
	codeIncorrectParameter = 201
	codeFunctionNotAvail   = 203
	codeNoSuchItem         = 300
	codeRequestLimit       = 500
	codeUnknownError       = 900
)

type rssDocument struct {
	XMLName   xml.Name   `xml:"rss"`
	Version   string     `xml:"version,attr"`
	AtomNS    string     `xml:"xmlns:atom,attr"`
	TorznabNS string     `xml:"xmlns:torznab,attr,omitempty"`
	NewznabNS string     `xml:"xmlns:newznab,attr,omitempty"`
	Channel   rssChannel `xml:"channel"`
}

type rssChannel struct {
	AtomLink    rssAtomLink `xml:"atom:link"`
	Title       string      `xml:"title"`
	Description string      `xml:"description"`
	Link        string      `xml:"link,omitempty"`
	Response    rssResponse `xml:"newznab:response"`
	Items       []rssItem   `xml:"item"`
}

type rssAtomLink struct {
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

type rssResponse struct {
	Offset int `xml:"offset,attr"`
	Total  int `xml:"total,attr"`
}

type rssGUID struct {
	IsPermaLink bool   `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

type rssIndexer struct {
	ID   int64  `xml:"id,attr"`
	Name string `xml:",chardata"`
}

type rssEnclosure struct {
	URL    string `xml:"url,attr"`
	Length int64  `xml:"length,attr"`
	Type   string `xml:"type,attr"`
}

// rssAttr is written as torznab:attr or newznab:attr depending on the
// feed's protocol.
type rssAttr struct {
	XMLName xml.Name
	Name    string `xml:"name,attr"`
	Value   string `xml:"value,attr"`
}

type rssItem struct {
	Title      string        `xml:"title"`
	GUID       rssGUID       `xml:"guid"`
	Type       string        `xml:"type,omitempty"`
	Indexer    rssIndexer    `xml:"indexer"`
	Comments   string        `xml:"comments,omitempty"`
	PubDate    string        `xml:"pubDate"`
	Size       int64         `xml:"size"`
	Link       string        `xml:"link,omitempty"`
	Categories []int         `xml:"category"`
	Enclosure  *rssEnclosure `xml:"enclosure,omitempty"`
	Attrs      []rssAttr
}

// renderResults writes releases as a Torznab feed for torrent backends and
// as a Newznab feed for usenet backends.
func renderResults(releases []indexer.Release, protocol indexer.Protocol, privacy indexer.Privacy, offset, total int) ([]byte, error) {
	doc := rssDocument{
		Version: "2.0",
		AtomNS:  atomNamespace,
		Channel: rssChannel{
			AtomLink:    rssAtomLink{Rel: "self", Type: contentType},
			Title:       serverTitle,
			Description: serverTitle + " feed",
			Response:    rssResponse{Offset: offset, Total: total},
			Items:       make([]rssItem, 0, len(releases)),
		},
	}

	// newznab:response is written for both protocols.
	doc.NewznabNS = newznabNamespace
	prefix := "newznab:attr"
	if protocol != indexer.ProtocolUsenet {
		doc.TorznabNS = torznabNamespace
		prefix = "torznab:attr"
	}

	for i := range releases {
		doc.Channel.Items = append(doc.Channel.Items, toItem(&releases[i], prefix, privacy))
	}
	return marshal(doc)
}

func toItem(r *indexer.Release, attrName string, privacy indexer.Privacy) rssItem {
	link := r.DownloadURL
	if link == "" {
		link = r.MagnetURL
	}

	item := rssItem{
		Title:      r.Title,
		GUID:       rssGUID{IsPermaLink: strings.HasPrefix(r.GUID, "http"), Value: r.GUID},
		Type:       string(privacy),
		Indexer:    rssIndexer{ID: r.BackendID, Name: r.BackendName},
		Comments:   r.InfoURL,
		PubDate:    r.PublishDate.UTC().Format(time.RFC1123Z),
		Size:       r.Size,
		Link:       link,
		Categories: r.Categories,
	}
	if item.GUID.Value == "" {
		item.GUID.Value = link
	}
	if link != "" {
		item.Enclosure = &rssEnclosure{URL: link, Length: r.Size, Type: enclosureType(r.Protocol)}
	}

	add := func(name, value string) {
		item.Attrs = append(item.Attrs, rssAttr{XMLName: xml.Name{Local: attrName}, Name: name, Value: value})
	}
	for _, cat := range r.Categories {
		add("category", strconv.Itoa(cat))
	}
	if r.Size > 0 {
		add("size", strconv.FormatInt(r.Size, 10))
	}
	if r.ImdbID > 0 {
		add("imdb", fmt.Sprintf("%07d", r.ImdbID))
		add("imdbid", fmt.Sprintf("tt%07d", r.ImdbID))
	}
	if r.TvdbID > 0 {
		add("tvdbid", strconv.Itoa(r.TvdbID))
	}

	if r.Protocol == indexer.ProtocolUsenet {
		if r.Grabs > 0 {
			add("grabs", strconv.Itoa(r.Grabs))
		}
		if r.Poster != "" {
			add("poster", r.Poster)
		}
		if r.Group != "" {
			add("group", r.Group)
		}
		return item
	}

	if r.Seeders != nil {
		add("seeders", strconv.Itoa(*r.Seeders))
	}
	if r.Peers != nil {
		add("peers", strconv.Itoa(*r.Peers))
	}
	if r.InfoHash != "" {
		add("infohash", r.InfoHash)
	}
	if r.MagnetURL != "" {
		add("magneturl", r.MagnetURL)
	}
	if r.Grabs > 0 {
		add("grabs", strconv.Itoa(r.Grabs))
	}
	add("downloadvolumefactor", formatFloat(r.DownloadVolumeFactor, 1))
	add("uploadvolumefactor", formatFloat(r.UploadVolumeFactor, 1))
	if r.MinimumRatio > 0 {
		add("minimumratio", formatFloat(r.MinimumRatio, 0))
	}
	if r.MinimumSeedTime > 0 {
		add("minimumseedtime", strconv.FormatInt(r.MinimumSeedTime, 10))
	}
	return item
}

func enclosureType(p indexer.Protocol) string {
	if p == indexer.ProtocolUsenet {
		return "application/x-nzb"
	}
	return "application/x-bittorrent"
}

// formatFloat renders f, using def for an unset factor.
func formatFloat(f, def float64) string {
	if f == 0 {
		f = def
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// renderCaps writes the capabilities document for a set of capabilities.
func renderCaps(caps indexer.Capabilities) ([]byte, error) {
	doc := torznab.Caps{
		Server: torznab.CapsServer{Title: serverTitle, Version: serverVersion},
		Limits: torznab.CapsLimits{Max: caps.MaxLimit, Default: caps.DefaultLimit},
		Searching: torznab.CapsSearching{
			Search:      searchType(caps, indexer.KindSearch),
			TVSearch:    searchType(caps, indexer.KindTV),
			MovieSearch: searchType(caps, indexer.KindMovie),
			MusicSearch: searchType(caps, indexer.KindMusic),
			BookSearch:  searchType(caps, indexer.KindBook),
		},
		Categories: torznab.CapsCategories{Categories: capsCategories(caps.Categories)},
	}
	if doc.Limits.Max <= 0 {
		doc.Limits.Max = defaultLimit
	}
	if doc.Limits.Default <= 0 {
		doc.Limits.Default = defaultLimit
	}
	return marshal(doc)
}

func searchType(caps indexer.Capabilities, kind indexer.QueryKind) torznab.CapsSearchType {
	params, ok := caps.Kinds[kind]
	if !ok {
		return torznab.CapsSearchType{Available: "no", SupportedParams: indexer.ParamQ}
	}
	if len(params) == 0 {
		params = []string{indexer.ParamQ}
	}
	return torznab.CapsSearchType{Available: "yes", SupportedParams: strings.Join(params, ",")}
}

// capsCategories groups standard categories under their parents. A
// subcategory whose parent is not listed brings the parent in.
func capsCategories(ids []int) []torznab.CapsCategory {
	children := make(map[int][]int)
	for _, id := range ids {
		parent := indexer.ParentCategory(id)
		if _, ok := children[parent]; !ok {
			children[parent] = nil
		}
		if parent != id {
			children[parent] = append(children[parent], id)
		}
	}

	parents := make([]int, 0, len(children))
	for p := range children {
		parents = append(parents, p)
	}
	sort.Ints(parents)

	out := make([]torznab.CapsCategory, 0, len(parents))
	for _, p := range parents {
		subs := children[p]
		sort.Ints(subs)
		cat := torznab.CapsCategory{ID: p, Name: indexer.CategoryName(p)}
		for _, s := range subs {
			cat.Subcategories = append(cat.Subcategories, torznab.CapsCategory{ID: s, Name: indexer.CategoryName(s)})
		}
		out = append(out, cat)
	}
	return out
}

// renderError writes a Newznab error document.
func renderError(code int, description string) []byte {
	body, err := marshal(torznab.ErrorResponse{Code: code, Description: description})
	if err != nil {
		return []byte(xml.Header + `<error code="900" description="Unknown error"/>`)
	}
	return body
}

func marshal(v interface{}) ([]byte, error) {
	body, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode xml: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
