package torznab

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/slipstream/indexhub/internal/indexer"
)

// Parser parses Torznab and Newznab result feeds.
type Parser struct{}

// Parse converts a feed into releases. Rows without a title or a link, or
// with an unreadable date, are skipped.
func (p *Parser) Parse(pctx indexer.ParseContext, resp *indexer.RawResponse) ([]indexer.Release, error) {
	desc := pctx.Descriptor
	if err := indexer.CheckResponse(desc, resp); err != nil {
		return nil, err
	}

	body, err := indexer.DecodeBody(desc, resp)
	if err != nil {
		return nil, indexer.NewMalformedResponseError(desc.ID, desc.Name, "failed to decode response", err)
	}

	if apiErr := parseError(body); apiErr != nil {
		return nil, classifyAPIError(desc, apiErr)
	}

	var feed Feed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, indexer.NewMalformedResponseError(desc.ID, desc.Name, "failed to parse feed", err)
	}

	releases := make([]indexer.Release, 0, len(feed.Channel.Items))
	for i := range feed.Channel.Items {
		item := &feed.Channel.Items[i]
		r, err := toRelease(pctx, item)
		if err != nil {
			pctx.Logger.Debug().Err(err).Int("row", i).Str("title", item.Title).Msg("Skipping malformed item")
			continue
		}
		if desc.MinimumSeeders > 0 && r.Seeders != nil && *r.Seeders < desc.MinimumSeeders {
			continue
		}
		releases = append(releases, r)
	}
	return releases, nil
}

// CountItems returns the number of items of a feed page without parsing it.
func CountItems(resp *indexer.RawResponse) int {
	return bytes.Count(resp.Body, []byte("<item>")) + bytes.Count(resp.Body, []byte("<item "))
}

func parseError(body []byte) *ErrorResponse {
	trimmed := bytes.TrimSpace(body)
	if idx := bytes.Index(trimmed, []byte("<error")); idx < 0 || idx > 128 {
		return nil
	}
	var apiErr ErrorResponse
	if err := xml.Unmarshal(trimmed, &apiErr); err != nil {
		return nil
	}
	return &apiErr
}

// classifyAPIError maps Newznab error codes: 100-102 are credential
// problems, 429 and limit messages are throttling.
func classifyAPIError(desc *indexer.BackendDescriptor, apiErr *ErrorResponse) error {
	cause := fmt.Errorf("error %d: %s", apiErr.Code, apiErr.Description)
	switch {
	case apiErr.Code >= 100 && apiErr.Code <= 102:
		return indexer.NewAuthRequiredError(desc.ID, desc.Name, cause)
	case apiErr.Code == 429:
		return indexer.NewRateLimitedError(desc.ID, desc.Name, 0)
	case apiErr.Code == 500 && strings.Contains(strings.ToLower(apiErr.Description), "limit"):
		return indexer.NewRateLimitedError(desc.ID, desc.Name, 0)
	}
	return indexer.NewBackendError(desc.ID, desc.Name, "indexer returned an error", cause)
}

func toRelease(pctx indexer.ParseContext, item *Item) (indexer.Release, error) {
	desc := pctx.Descriptor
	title := strings.TrimSpace(item.Title)
	if title == "" {
		return indexer.Release{}, fmt.Errorf("missing title")
	}

	link := item.Enclosure.URL
	if link == "" {
		link = item.Link
	}
	magnet := item.Attribute("magneturl")
	if strings.HasPrefix(link, "magnet:") {
		magnet, link = link, ""
	}
	if link == "" && magnet == "" {
		return indexer.Release{}, fmt.Errorf("missing download link")
	}

	var published time.Time
	if s := strings.TrimSpace(item.PubDate); s != "" {
		t, ok := ParseDate(s)
		if !ok {
			return indexer.Release{}, fmt.Errorf("invalid pubDate %q", s)
		}
		published = t
	}

	size := item.Size
	if size == 0 {
		size = item.Enclosure.Length
	}
	if size == 0 {
		if v, err := strconv.ParseInt(item.Attribute("size"), 10, 64); err == nil {
			size = v
		}
	}
	if size < 0 {
		return indexer.Release{}, fmt.Errorf("negative size %d", size)
	}

	guid := item.GUID
	if guid == "" {
		guid = link
		if guid == "" {
			guid = magnet
		}
	}

	r := indexer.Release{
		GUID:        guid,
		Title:       title,
		DownloadURL: link,
		MagnetURL:   magnet,
		InfoURL:     item.Comments,
		Categories:  releaseCategories(pctx, item),
		Size:        size,
		PublishDate: published,
		Protocol:    desc.Protocol,
		BackendID:   desc.ID,
		BackendName: desc.Name,
		InfoHash:    strings.ToLower(item.Attribute("infohash")),
		Poster:      item.Attribute("poster"),
		Group:       item.Attribute("group"),
	}

	if v, ok := item.IntAttribute("seeders"); ok {
		r.Seeders = &v
	}
	if v, ok := item.IntAttribute("peers"); ok {
		r.Peers = &v
	}
	if v, ok := item.IntAttribute("grabs"); ok {
		r.Grabs = v
	}
	if v, ok := item.IntAttribute("tvdbid"); ok {
		r.TvdbID = v
	}
	if imdb := strings.TrimLeft(item.Attribute("imdb"), "t"); imdb != "" {
		r.ImdbID, _ = strconv.Atoi(imdb)
	} else if imdb := strings.TrimLeft(item.Attribute("imdbid"), "t"); imdb != "" {
		r.ImdbID, _ = strconv.Atoi(imdb)
	}

	if desc.Protocol == indexer.ProtocolTorrent {
		r.DownloadVolumeFactor = item.FloatAttribute("downloadvolumefactor", 1)
		r.UploadVolumeFactor = item.FloatAttribute("uploadvolumefactor", 1)
		r.MinimumRatio = item.FloatAttribute("minimumratio", 0)
		if v, ok := item.IntAttribute("minimumseedtime"); ok {
			r.MinimumSeedTime = int64(v)
		}
	}
	return r, nil
}

// releaseCategories reads category attributes and elements. Backends
// without a category map report standard ids.
func releaseCategories(pctx indexer.ParseContext, item *Item) []int {
	codes := item.AttributeValues("category")
	if len(codes) == 0 {
		codes = item.Category
	}

	var out []int
	seen := make(map[int]bool)
	add := func(id int) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}

	for _, code := range codes {
		code = strings.TrimSpace(code)
		if pctx.Categories.IsEmpty() {
			if id, err := strconv.Atoi(code); err == nil && indexer.IsStandardCategory(id) {
				add(id)
				continue
			}
		}
		for _, id := range pctx.Categories.ToStandard(code) {
			add(id)
		}
	}
	if len(out) == 0 {
		out = []int{indexer.CategoryOther}
	}
	return out
}

var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	time.RFC3339Nano,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 02 Jan 2006 15:04:05 -0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseDate parses the date formats seen in RSS feeds.
func ParseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
