// Package jsonapi implements backends that expose a JSON search API
// described by a small YAML definition.
package jsonapi

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/slipstream/indexhub/internal/indexer"
)

func init() {
	indexer.RegisterFactory(indexer.TypeJSONAPI, New)
}

// Backend queries a JSON API.
type Backend struct {
	desc       *indexer.BackendDescriptor
	cfg        *Config
	urlTmpl    *template.Template
	categories *indexer.CategoryMap
	logger     zerolog.Logger
}

// New creates a JSON API backend from the definition file it points at.
func New(def indexer.Definition, opts indexer.FactoryOptions) (indexer.Backend, error) {
	if def.Definition == "" {
		return nil, fmt.Errorf("indexer %d: definition is required", def.ID)
	}
	cfg, err := LoadConfig(def.Definition)
	if err != nil {
		return nil, fmt.Errorf("indexer %d: %w", def.ID, err)
	}
	return NewWithConfig(def, cfg, opts)
}

// NewWithConfig creates a backend from an already parsed API definition.
func NewWithConfig(def indexer.Definition, cfg *Config, opts indexer.FactoryOptions) (*Backend, error) {
	tmpl, err := template.New("url").Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("indexer %d: invalid url template: %w", def.ID, err)
	}

	kinds := make(map[indexer.QueryKind][]string)
	for _, k := range cfg.Kinds {
		kinds[indexer.QueryKind(k)] = []string{indexer.ParamQ}
	}
	if len(kinds) == 0 {
		kinds[indexer.KindSearch] = []string{indexer.ParamQ}
	}

	desc := def.Descriptor(indexer.BackendDescriptor{
		Protocol:     indexer.ProtocolTorrent,
		Capabilities: indexer.Capabilities{Kinds: kinds, DefaultLimit: cfg.PageSize},
	})

	return &Backend{
		desc:       desc,
		cfg:        cfg,
		urlTmpl:    tmpl,
		categories: indexer.NewCategoryMap(desc.CategoryMap),
		logger:     opts.Logger.With().Str("component", "jsonapi").Int64("indexerId", def.ID).Logger(),
	}, nil
}

// Descriptor returns the backend descriptor.
func (b *Backend) Descriptor() *indexer.BackendDescriptor {
	return b.desc
}

// Parser returns the backend itself.
func (b *Backend) Parser() indexer.Parser {
	return b
}

type urlData struct {
	BaseURL    string
	Query      string
	Page       int
	Offset     int
	Limit      int
	Categories string
	ImdbID     string
	TvdbID     int
	Season     int
	Episode    string
}

// NewGenerator renders the URL template per page. Without a page size a
// single request is made.
func (b *Backend) NewGenerator(req *indexer.SearchRequest) indexer.Generator {
	if !b.desc.Capabilities.Supports(req.Kind) {
		return indexer.EmptyGenerator{}
	}

	query := strings.TrimSpace(req.Query)
	if b.cfg.QueryInPath {
		query = url.PathEscape(query)
	} else {
		query = url.QueryEscape(query)
	}
	data := urlData{
		BaseURL:    b.desc.BaseURL(),
		Query:      query,
		Limit:      b.cfg.PageSize,
		Categories: strings.Join(b.categories.NativeCodes(indexer.ExpandCategories(req.Categories)), ","),
		ImdbID:     req.ImdbID,
		TvdbID:     req.TvdbID,
		Season:     req.Season,
		Episode:    req.Episode,
	}

	build := func(page int) *indexer.OutboundQuery {
		d := data
		d.Page = page + 1
		d.Offset = page * b.cfg.PageSize
		var buf bytes.Buffer
		if err := b.urlTmpl.Execute(&buf, d); err != nil {
			b.logger.Error().Err(err).Msg("Failed to render url template")
			return nil
		}
		return &indexer.OutboundQuery{
			Method: http.MethodGet,
			URL:    buf.String(),
			Header: http.Header{"Accept": []string{"application/json"}},
			Stage:  "results",
		}
	}

	if b.cfg.PageSize <= 0 {
		q := build(0)
		if q == nil {
			return indexer.EmptyGenerator{}
		}
		return indexer.NewSliceGenerator(q)
	}
	return indexer.NewPagedGenerator(b.cfg.PageSize, build, b.countRows)
}

func (b *Backend) countRows(resp *indexer.RawResponse) int {
	return len(b.rows(resp.Body))
}

func (b *Backend) rows(body []byte) []gjson.Result {
	doc := gjson.ParseBytes(body)
	if b.cfg.List != "" {
		doc = doc.Get(b.cfg.List)
	}
	return doc.Array()
}

// Parse extracts releases from the configured list. Rows lacking a title
// or any link are skipped.
func (b *Backend) Parse(pctx indexer.ParseContext, resp *indexer.RawResponse) ([]indexer.Release, error) {
	desc := pctx.Descriptor
	if err := indexer.CheckResponse(desc, resp); err != nil {
		return nil, err
	}
	body, err := indexer.DecodeBody(desc, resp)
	if err != nil {
		return nil, indexer.NewMalformedResponseError(desc.ID, desc.Name, "failed to decode response", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, indexer.NewMalformedResponseError(desc.ID, desc.Name, "response is not valid JSON", nil)
	}
	if b.cfg.List != "" && !gjson.GetBytes(body, b.cfg.List).Exists() {
		// APIs commonly drop the list entirely when nothing matched.
		return nil, nil
	}

	rows := b.rows(body)
	releases := make([]indexer.Release, 0, len(rows))
	for i, row := range rows {
		r, err := b.toRelease(pctx, row)
		if err != nil {
			pctx.Logger.Debug().Err(err).Int("row", i).Msg("Skipping malformed row")
			continue
		}
		if desc.MinimumSeeders > 0 && r.Seeders != nil && *r.Seeders < desc.MinimumSeeders {
			continue
		}
		releases = append(releases, r)
	}
	return releases, nil
}

func (b *Backend) toRelease(pctx indexer.ParseContext, row gjson.Result) (indexer.Release, error) {
	f := b.cfg.Fields
	desc := pctx.Descriptor

	title := strings.TrimSpace(field(row, f.Title).String())
	if title == "" {
		return indexer.Release{}, fmt.Errorf("missing title")
	}

	link := field(row, f.Link).String()
	magnet := field(row, f.Magnet).String()
	hash := strings.ToLower(field(row, f.InfoHash).String())
	if magnet == "" && hash != "" {
		m, err := b.magnet(hash, title)
		if err != nil {
			return indexer.Release{}, err
		}
		magnet = m
	}
	if link == "" && magnet == "" {
		return indexer.Release{}, fmt.Errorf("missing download link")
	}

	var size int64
	switch {
	case field(row, f.Size).Exists():
		size = field(row, f.Size).Int()
	case field(row, f.SizeText).String() != "":
		n, err := humanize.ParseBytes(field(row, f.SizeText).String())
		if err != nil {
			return indexer.Release{}, fmt.Errorf("invalid size: %w", err)
		}
		size = int64(n)
	}

	published, err := parseDate(field(row, f.Date), f.DateFormat)
	if err != nil {
		return indexer.Release{}, err
	}

	guid := field(row, f.GUID).String()
	if guid == "" {
		guid = link + magnet
	}

	var cats []int
	if c := field(row, f.Category); c.Exists() {
		cats = pctx.Categories.ToStandard(c.String())
	} else {
		cats = []int{indexer.CategoryOther}
	}

	r := indexer.Release{
		GUID:                 guid,
		Title:                title,
		DownloadURL:          link,
		MagnetURL:            magnet,
		InfoURL:              field(row, f.InfoURL).String(),
		Categories:           cats,
		Size:                 size,
		PublishDate:          published,
		Protocol:             desc.Protocol,
		BackendID:            desc.ID,
		BackendName:          desc.Name,
		InfoHash:             hash,
		DownloadVolumeFactor: 1,
		UploadVolumeFactor:   1,
	}
	if field(row, f.Freeleech).Bool() {
		r.DownloadVolumeFactor = 0
	}
	if s := field(row, f.Seeders); s.Exists() {
		v := int(s.Int())
		r.Seeders = &v
	}
	if p := field(row, f.Peers); p.Exists() {
		v := int(p.Int())
		r.Peers = &v
	}
	if imdb := strings.TrimLeft(field(row, f.Imdb).String(), "t"); imdb != "" {
		r.ImdbID, _ = strconv.Atoi(imdb)
	}
	return r, nil
}

func (b *Backend) magnet(hash, name string) (string, error) {
	var h metainfo.Hash
	if err := h.FromHexString(hash); err != nil {
		return "", fmt.Errorf("invalid info hash %q: %w", hash, err)
	}
	m := metainfo.Magnet{InfoHash: h, DisplayName: name, Trackers: b.cfg.Trackers}
	return m.String(), nil
}

// field returns an empty result for an unset path.
func field(row gjson.Result, path string) gjson.Result {
	if path == "" {
		return gjson.Result{}
	}
	return row.Get(path)
}

func parseDate(v gjson.Result, format string) (time.Time, error) {
	if !v.Exists() || v.String() == "" {
		return time.Time{}, nil
	}
	if format == "" || format == "unix" {
		if v.Type == gjson.Number {
			return time.Unix(v.Int(), 0).UTC(), nil
		}
		if n, err := strconv.ParseInt(v.String(), 10, 64); err == nil {
			return time.Unix(n, 0).UTC(), nil
		}
		if format == "unix" {
			return time.Time{}, fmt.Errorf("invalid unix date %q", v.String())
		}
		format = time.RFC3339
	}
	t, err := time.Parse(format, v.String())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", v.String(), err)
	}
	return t.UTC(), nil
}
