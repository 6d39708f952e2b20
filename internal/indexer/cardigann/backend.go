package cardigann

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/slipstream/indexhub/internal/indexer"
)

// Chain stages of a search path.
const (
	stageLanding = "landing"
	stageResults = "results"
)

func init() {
	indexer.RegisterFactory(indexer.TypeCardigann, New)
}

// Backend scrapes one site described by a definition.
type Backend struct {
	desc       *indexer.BackendDescriptor
	def        *Definition
	settings   map[string]string
	engine     *TemplateEngine
	categories *indexer.CategoryMap
	session    *session
	logger     zerolog.Logger
}

// New creates a scraper backend from the definition file it points at.
func New(def indexer.Definition, opts indexer.FactoryOptions) (indexer.Backend, error) {
	if def.Definition == "" {
		return nil, fmt.Errorf("indexer %d: definition is required", def.ID)
	}
	site, err := ParseDefinitionFile(def.Definition)
	if err != nil {
		return nil, fmt.Errorf("indexer %d: %w", def.ID, err)
	}
	return NewWithDefinition(def, site, opts)
}

// NewWithDefinition creates a backend from a parsed site definition.
// Settings are resolved through opts.Secrets so credentials may live in
// the OS keyring.
func NewWithDefinition(def indexer.Definition, site *Definition, opts indexer.FactoryOptions) (*Backend, error) {
	settings, err := indexer.ResolveSettings(opts.Secrets, def.Settings)
	if err != nil {
		return nil, fmt.Errorf("indexer %d: %w", def.ID, err)
	}

	desc := def.Descriptor(indexer.BackendDescriptor{
		BaseURLs:     trimLinks(site.Links),
		Protocol:     indexer.ProtocolTorrent,
		Privacy:      site.Privacy(),
		Encoding:     site.Encoding,
		CategoryMap:  site.CategoryMap(),
		Capabilities: indexer.Capabilities{Kinds: site.Kinds()},
	})
	if desc.BaseURL() == "" {
		return nil, fmt.Errorf("indexer %d: no base URL", def.ID)
	}

	logger := opts.Logger.With().Str("component", "cardigann").Int64("indexerId", def.ID).Str("site", site.ID).Logger()
	engine := NewTemplateEngine()

	var transport http.RoundTripper
	if opts.HTTPClient != nil {
		transport = opts.HTTPClient.Transport
	}
	var login *LoginBlock
	if site.HasLogin() {
		login = site.Login
	}
	merged := site.mergeSettings(settings)
	sess, err := newSession(desc.BaseURL(), login, merged, engine, transport, logger)
	if err != nil {
		return nil, fmt.Errorf("indexer %d: %w", def.ID, err)
	}

	return &Backend{
		desc:       desc,
		def:        site,
		settings:   merged,
		engine:     engine,
		categories: indexer.NewCategoryMap(desc.CategoryMap),
		session:    sess,
		logger:     logger,
	}, nil
}

func trimLinks(links []string) []string {
	out := make([]string, len(links))
	for i, l := range links {
		out[i] = strings.TrimRight(l, "/")
	}
	return out
}

// Descriptor returns the backend descriptor.
func (b *Backend) Descriptor() *indexer.BackendDescriptor {
	return b.desc
}

// Parser returns the backend itself.
func (b *Backend) Parser() indexer.Parser {
	return b
}

// HTTPClient returns the client holding the site's cookies.
func (b *Backend) HTTPClient() *http.Client {
	return b.session.client
}

// ReAuthenticate logs in again. Sites without a login block cannot
// recover from AuthRequired.
func (b *Backend) ReAuthenticate(ctx context.Context, _ int64) error {
	if !b.def.HasLogin() {
		return indexer.ErrReauthUnsupported
	}
	if err := b.session.authenticate(ctx); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	return nil
}

// NewGenerator returns one query per search path matching the requested
// categories. Paths with a follow selector add a second query read from
// the landing page.
func (b *Backend) NewGenerator(req *indexer.SearchRequest) indexer.Generator {
	if !b.desc.Capabilities.Supports(req.Kind) {
		return indexer.EmptyGenerator{}
	}

	cats := b.categories.NativeCodes(indexer.ExpandCategories(req.Categories))
	tctx := newSearchContext(req, b.settings, cats)
	keywords := b.keywords(req, tctx)
	tctx.Keywords, tctx.Query.Keywords = keywords, keywords

	g := &generator{b: b, tctx: tctx}
	for i := range b.def.Search.Paths {
		if p := &b.def.Search.Paths[i]; pathMatches(p, cats) {
			g.paths = append(g.paths, p)
		}
	}
	return g
}

// keywords builds the search terms. Id searches the site understands go
// without keywords.
func (b *Backend) keywords(req *indexer.SearchRequest, tctx *TemplateContext) string {
	caps := b.desc.Capabilities
	if (req.ImdbID != "" && caps.SupportsParam(req.Kind, indexer.ParamImdbID)) ||
		(req.TmdbID > 0 && caps.SupportsParam(req.Kind, indexer.ParamTmdbID)) ||
		(req.TvdbID > 0 && caps.SupportsParam(req.Kind, indexer.ParamTvdbID)) {
		return ""
	}

	kw := searchTerms(req)
	if len(b.def.Search.KeywordsFilters) == 0 {
		return kw
	}
	filtered, err := ApplyFilters(kw, b.def.Search.KeywordsFilters, b.engine, tctx)
	if err != nil {
		b.logger.Warn().Err(err).Msg("Failed to apply keyword filters")
		return kw
	}
	return filtered
}

// searchTerms appends the episode or year to the query text so sites
// without structured search can narrow results.
func searchTerms(req *indexer.SearchRequest) string {
	q := strings.TrimSpace(req.Query)
	if q == "" {
		return ""
	}
	switch req.Kind {
	case indexer.KindTV:
		if req.Season <= 0 {
			return q
		}
		if req.Episode == "" {
			return fmt.Sprintf("%s S%02d", q, req.Season)
		}
		if ep, err := strconv.Atoi(req.Episode); err == nil {
			return fmt.Sprintf("%s S%02dE%02d", q, req.Season, ep)
		}
		// Daily shows use the season as year and "MM/DD" as episode.
		return fmt.Sprintf("%s %d %s", q, req.Season, strings.ReplaceAll(req.Episode, "/", " "))
	case indexer.KindMovie:
		if req.Year > 0 {
			return fmt.Sprintf("%s %d", q, req.Year)
		}
	}
	return q
}

func pathMatches(p *SearchPath, cats []string) bool {
	if len(p.Categories) == 0 || len(cats) == 0 {
		return true
	}
	for _, c := range cats {
		for _, pc := range p.Categories {
			if c == pc {
				return true
			}
		}
	}
	return false
}

type generator struct {
	b       *Backend
	tctx    *TemplateContext
	paths   []*SearchPath
	next    int
	current *SearchPath
}

// Next yields the landing query of each path and, after a landing page,
// the result page it links to. A landing page without the link moves on
// to the next path.
func (g *generator) Next(prev *indexer.RawResponse) (*indexer.OutboundQuery, bool, error) {
	if prev != nil && prev.Query != nil && prev.Query.Stage == stageLanding && g.current != nil {
		q, err := g.b.followQuery(g.current, g.tctx, prev)
		if err != nil {
			return nil, false, err
		}
		if q != nil {
			return q, true, nil
		}
	}

	if g.next >= len(g.paths) {
		return nil, false, nil
	}
	p := g.paths[g.next]
	g.next++
	q, err := g.b.searchQuery(p, g.tctx)
	if err != nil {
		return nil, false, indexer.NewBackendError(g.b.desc.ID, g.b.desc.Name, "failed to build search query", err)
	}
	g.current = p
	return q, true, nil
}

func (b *Backend) searchQuery(p *SearchPath, tctx *TemplateContext) (*indexer.OutboundQuery, error) {
	path, err := b.engine.Evaluate(p.Path, tctx)
	if err != nil {
		return nil, err
	}
	target := b.absoluteURL(path)

	inputs := make(map[string]string, len(b.def.Search.Inputs)+len(p.Inputs))
	for k, v := range b.def.Search.Inputs {
		inputs[k] = v
	}
	for k, v := range p.Inputs {
		inputs[k] = v
	}
	values := url.Values{}
	var raw string
	for k, tmpl := range inputs {
		v, err := b.engine.Evaluate(tmpl, tctx)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", k, err)
		}
		switch {
		case k == "$raw":
			raw = v
		case v == "" || v == "0":
			// Unset numeric parameters render as 0.
		default:
			values.Set(k, v)
		}
	}

	q := &indexer.OutboundQuery{
		Method: http.MethodGet,
		Header: b.headers(tctx),
		Stage:  stageResults,
	}
	if p.Follow != nil {
		q.Stage = stageLanding
	}
	if p.Response != nil && strings.EqualFold(p.Response.Type, responseJSON) {
		q.Header.Set("Accept", "application/json")
	}

	if strings.EqualFold(p.Method, http.MethodPost) {
		q.Method = http.MethodPost
		q.URL = target
		q.Body = joinQuery(values.Encode(), raw)
		return q, nil
	}

	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid search URL %q: %w", target, err)
	}
	merged := u.Query()
	for k := range values {
		merged.Set(k, values.Get(k))
	}
	u.RawQuery = joinQuery(merged.Encode(), raw)
	q.URL = u.String()
	return q, nil
}

func joinQuery(encoded, raw string) string {
	switch {
	case raw == "":
		return encoded
	case encoded == "":
		return strings.TrimPrefix(raw, "&")
	default:
		return encoded + "&" + strings.TrimPrefix(raw, "&")
	}
}

func (b *Backend) headers(tctx *TemplateContext) http.Header {
	h := http.Header{}
	for k, v := range b.def.Search.Headers {
		hv, err := b.engine.Evaluate(string(v), tctx)
		if err != nil {
			b.logger.Warn().Err(err).Str("header", k).Msg("Failed to evaluate header template")
			continue
		}
		h.Set(k, hv)
	}
	return h
}

// absoluteURL joins a definition path onto the base URL. Paths keep the
// base URL's own path prefix.
func (b *Backend) absoluteURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return b.desc.BaseURL() + "/" + strings.TrimPrefix(path, "/")
}

// followQuery reads the result page link from a landing page.
func (b *Backend) followQuery(p *SearchPath, tctx *TemplateContext, landing *indexer.RawResponse) (*indexer.OutboundQuery, error) {
	body, err := indexer.DecodeBody(b.desc, landing)
	if err != nil {
		return nil, indexer.NewMalformedResponseError(b.desc.ID, b.desc.Name, "failed to decode landing page", err)
	}

	var r row
	if gjson.ValidBytes(body) && looksLikeJSON(body) {
		r = jsonRow{res: gjson.ParseBytes(body)}
	} else {
		doc, err := parseHTML(body)
		if err != nil {
			return nil, indexer.NewMalformedResponseError(b.desc.ID, b.desc.Name, "failed to parse landing page", err)
		}
		r = htmlRow{sel: doc.Selection}
	}

	attr := p.Follow.Attribute
	if attr == "" {
		attr = "href"
	}
	link, ok := r.lookup(p.Follow.Selector, attr, "")
	if ok {
		link, err = ApplyFilters(link, p.Follow.Filters, b.engine, tctx)
		if err != nil {
			return nil, indexer.NewMalformedResponseError(b.desc.ID, b.desc.Name, "failed to filter follow link", err)
		}
	}
	if link == "" {
		b.logger.Debug().Str("selector", p.Follow.Selector).Msg("Landing page has no result link")
		return nil, nil
	}

	return &indexer.OutboundQuery{
		Method: http.MethodGet,
		URL:    resolveAgainst(landing.URL, b.desc.BaseURL(), link),
		Header: landing.Query.Header,
		Page:   landing.Query.Page,
		Stage:  stageResults,
	}, nil
}

func looksLikeJSON(body []byte) bool {
	s := strings.TrimSpace(string(body))
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}

// resolveAgainst resolves ref against the page it was found on.
func resolveAgainst(page, base, ref string) string {
	if ref == "" || strings.HasPrefix(ref, "magnet:") {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if page == "" {
		page = base + "/"
	}
	p, err := url.Parse(page)
	if err != nil {
		return ref
	}
	return p.ResolveReference(r).String()
}

// Parse reads releases from a result page. Landing pages yield nothing.
func (b *Backend) Parse(pctx indexer.ParseContext, resp *indexer.RawResponse) ([]indexer.Release, error) {
	desc := pctx.Descriptor
	if err := indexer.CheckResponse(desc, resp); err != nil {
		return nil, err
	}
	if b.onLoginPage(resp) {
		return nil, indexer.NewAuthRequiredError(desc.ID, desc.Name, errors.New("redirected to login page"))
	}
	if resp.Query != nil && resp.Query.Stage == stageLanding {
		return nil, nil
	}

	body, err := indexer.DecodeBody(desc, resp)
	if err != nil {
		return nil, indexer.NewMalformedResponseError(desc.ID, desc.Name, "failed to decode response", err)
	}
	if b.noResults(body) {
		return nil, nil
	}

	rows, err := b.rows(desc, body)
	if err != nil {
		return nil, err
	}

	tctx := newSearchContext(pctx.Request, b.settings, nil)
	releases := make([]indexer.Release, 0, len(rows))
	for i, r := range rows {
		rel, err := b.toRelease(pctx, resp, r, tctx)
		if err != nil {
			pctx.Logger.Debug().Err(err).Int("row", i).Msg("Skipping malformed row")
			continue
		}
		if desc.MinimumSeeders > 0 && rel.Seeders != nil && *rel.Seeders < desc.MinimumSeeders {
			continue
		}
		releases = append(releases, rel)
	}
	return releases, nil
}

// onLoginPage reports whether a search was answered with the login page.
func (b *Backend) onLoginPage(resp *indexer.RawResponse) bool {
	if !b.def.HasLogin() || b.def.Login.Path == "" || resp.URL == "" {
		return false
	}
	got, err := url.Parse(resp.URL)
	if err != nil {
		return false
	}
	want, err := url.Parse(b.session.resolve(b.def.Login.Path))
	if err != nil {
		return false
	}
	if resp.Query != nil {
		if asked, err := url.Parse(resp.Query.URL); err == nil && asked.Path == want.Path {
			return false
		}
	}
	return got.Path == want.Path
}

func (b *Backend) noResults(body []byte) bool {
	for _, p := range b.def.Search.Paths {
		if p.Response != nil && p.Response.NoResultsMessage != "" &&
			strings.Contains(string(body), p.Response.NoResultsMessage) {
			return true
		}
	}
	return false
}

func (b *Backend) rows(desc *indexer.BackendDescriptor, body []byte) ([]row, error) {
	if looksLikeJSON(body) {
		if !gjson.ValidBytes(body) {
			return nil, indexer.NewMalformedResponseError(desc.ID, desc.Name, "response is not valid JSON", nil)
		}
		rows, _ := jsonRows(body, b.def.Search.Rows)
		return rows, nil
	}

	doc, err := parseHTML(body)
	if err != nil {
		return nil, indexer.NewMalformedResponseError(desc.ID, desc.Name, "failed to parse HTML", err)
	}
	if b.def.HasLogin() && b.def.Login.Test.Selector != "" && doc.Find(b.def.Login.Test.Selector).Length() == 0 {
		return nil, indexer.NewAuthRequiredError(desc.ID, desc.Name, errors.New("session test selector not found"))
	}
	if msg, found := pageError(doc, b.def.Search.Error); found {
		return nil, indexer.NewBackendError(desc.ID, desc.Name, msg, nil)
	}
	return htmlRows(doc, b.def.Search.Rows), nil
}

// fieldNames orders fields so that text templates referencing .Result run
// after the fields they read.
func fieldNames(fields map[string]Field) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.SliceStable(names, func(i, j int) bool {
		ri := strings.Contains(fields[names[i]].Text, ".Result")
		rj := strings.Contains(fields[names[j]].Text, ".Result")
		if ri != rj {
			return !ri
		}
		return names[i] < names[j]
	})
	return names
}

func (b *Backend) toRelease(pctx indexer.ParseContext, resp *indexer.RawResponse, r row, base *TemplateContext) (indexer.Release, error) {
	tctx := base.withResult()
	for _, name := range fieldNames(b.def.Search.Fields) {
		f := b.def.Search.Fields[name]
		v, err := b.engine.extractField(r, f, tctx)
		if err != nil {
			if f.Optional {
				continue
			}
			return indexer.Release{}, fmt.Errorf("field %s: %w", name, err)
		}
		tctx.Result[name] = v
	}
	return b.buildRelease(pctx, resp, tctx.Result)
}

func (b *Backend) buildRelease(pctx indexer.ParseContext, resp *indexer.RawResponse, vals map[string]string) (indexer.Release, error) {
	desc := pctx.Descriptor
	title := strings.TrimSpace(vals["title"])
	if title == "" {
		return indexer.Release{}, errors.New("missing title")
	}

	page := resp.URL
	link := resolveAgainst(page, desc.BaseURL(), vals["download"])
	magnet := vals["magnet"]
	if magnet == "" {
		magnet = vals["magneturl"]
	}
	if strings.HasPrefix(link, "magnet:") {
		magnet, link = link, ""
	}
	hash := strings.ToLower(vals["infohash"])
	if magnet == "" && hash != "" {
		var h metainfo.Hash
		if err := h.FromHexString(hash); err != nil {
			return indexer.Release{}, fmt.Errorf("invalid info hash %q: %w", hash, err)
		}
		magnet = metainfo.Magnet{InfoHash: h, DisplayName: title}.String()
	}
	if link == "" && magnet == "" {
		return indexer.Release{}, errors.New("missing download link")
	}

	size, err := parseSize(vals["size"])
	if err != nil {
		return indexer.Release{}, err
	}
	published, err := parseDate(firstOf(vals, "date", "publishdate"))
	if err != nil {
		return indexer.Release{}, err
	}

	info := resolveAgainst(page, desc.BaseURL(), firstOf(vals, "details", "comments"))
	guid := firstOf(vals, "guid")
	if guid == "" {
		guid = firstNonEmpty(info, link, magnet)
	}

	cats := []int{indexer.CategoryOther}
	if c := firstOf(vals, "category", "cat"); c != "" {
		cats = pctx.Categories.ToStandard(c)
	}

	rel := indexer.Release{
		GUID:                 guid,
		Title:                title,
		DownloadURL:          link,
		MagnetURL:            magnet,
		InfoURL:              info,
		Categories:           cats,
		Size:                 size,
		PublishDate:          published,
		Protocol:             desc.Protocol,
		BackendID:            desc.ID,
		BackendName:          desc.Name,
		InfoHash:             hash,
		Grabs:                parseInt(firstOf(vals, "grabs", "snatched")),
		DownloadVolumeFactor: parseFloat(vals["downloadvolumefactor"], 1),
		UploadVolumeFactor:   parseFloat(vals["uploadvolumefactor"], 1),
		MinimumRatio:         parseFloat(vals["minimumratio"], 0),
		MinimumSeedTime:      int64(parseInt(vals["minimumseedtime"])),
		TvdbID:               parseInt(vals["tvdbid"]),
	}
	if imdb := strings.TrimLeft(firstOf(vals, "imdbid", "imdb"), "t"); imdb != "" {
		rel.ImdbID = parseInt(imdb)
	}
	if s, ok := vals["seeders"]; ok && s != "" {
		n := parseInt(s)
		rel.Seeders = &n
	}
	switch {
	case vals["peers"] != "":
		n := parseInt(vals["peers"])
		rel.Peers = &n
	case vals["leechers"] != "":
		n := parseInt(vals["leechers"])
		if rel.Seeders != nil {
			n += *rel.Seeders
		}
		rel.Peers = &n
	}
	return rel, nil
}

func firstOf(vals map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(vals[k]); v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// parseDate reads the dates produced by the date filters, plain unix
// timestamps and the usual absolute layouts. An empty value is the zero
// time.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if t, ok := parseTimeAgo(s, time.Now()); ok {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

func parseInt(s string) int {
	n, _ := strconv.Atoi(strings.ReplaceAll(strings.TrimSpace(s), ",", ""))
	return n
}

func parseFloat(s string, def float64) float64 {
	f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", ""), 64)
	if err != nil {
		return def
	}
	return f
}
