package cardigann

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/slipstream/indexhub/internal/indexer"
)

// TemplateContext is the data available to definition templates.
type TemplateContext struct {
	Config     map[string]string
	Query      QueryContext
	Keywords   string
	Categories []string // site category ids
	Result     map[string]string
	Today      TimeContext
}

// QueryContext holds the search parameters.
type QueryContext struct {
	Q           string
	Keywords    string
	Year        int
	Season      int
	Ep          string
	IMDBID      string // with the "tt" prefix
	IMDBIDShort string
	TMDBID      int
	TVDBID      int
	Album       string
	Artist      string
	Author      string
	Title       string
	Limit       int
	Offset      int
}

// TimeContext is the current date.
type TimeContext struct {
	Year  int
	Month int
	Day   int
}

// NewTemplateContext creates an empty context dated today.
func NewTemplateContext() *TemplateContext {
	now := time.Now()
	return &TemplateContext{
		Config: make(map[string]string),
		Result: make(map[string]string),
		Today:  TimeContext{Year: now.Year(), Month: int(now.Month()), Day: now.Day()},
	}
}

// newSearchContext fills a context from a search request.
func newSearchContext(req *indexer.SearchRequest, settings map[string]string, categories []string) *TemplateContext {
	ctx := NewTemplateContext()
	ctx.Config = settings
	ctx.Categories = categories
	ctx.Keywords = req.Query
	ctx.Query = QueryContext{
		Q:        req.Query,
		Keywords: req.Query,
		Year:     req.Year,
		Season:   req.Season,
		Ep:       req.Episode,
		TMDBID:   req.TmdbID,
		TVDBID:   req.TvdbID,
		Album:    req.Album,
		Artist:   req.Artist,
		Author:   req.Author,
		Title:    req.BookTitle,
		Limit:    req.Limit,
		Offset:   req.Offset,
	}
	if req.ImdbID != "" {
		short := strings.TrimPrefix(req.ImdbID, "tt")
		ctx.Query.IMDBID = "tt" + short
		ctx.Query.IMDBIDShort = short
	}
	return ctx
}

// withResult returns a copy of ctx with an empty result map.
func (c *TemplateContext) withResult() *TemplateContext {
	clone := *c
	clone.Result = make(map[string]string)
	return &clone
}

// TemplateEngine evaluates the text/template expressions of definitions.
// Parsed templates are cached by source.
type TemplateEngine struct {
	funcs template.FuncMap
	cache sync.Map // string -> *template.Template
}

// NewTemplateEngine creates an engine with the Cardigann helper functions.
func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{funcs: template.FuncMap{
		"join":       funcJoin,
		"re_replace": funcReReplace,
		"replace":    strings.ReplaceAll,
		"split":      strings.Split,
		"trim":       funcTrim,
		"trimleft":   funcTrimLeft,
		"trimright":  funcTrimRight,
		"tolower":    strings.ToLower,
		"toupper":    strings.ToUpper,
		"prepend":    func(s, prefix string) string { return prefix + s },
		"append":     func(s, suffix string) string { return s + suffix },
		"default":    funcDefault,
	}}
}

// Evaluate renders tmpl. Strings without "{{" are returned unchanged.
func (e *TemplateEngine) Evaluate(tmpl string, ctx *TemplateContext) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := e.parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("template execute error: %w", err)
	}
	return buf.String(), nil
}

func (e *TemplateEngine) parse(tmpl string) (*template.Template, error) {
	if t, ok := e.cache.Load(tmpl); ok {
		return t.(*template.Template), nil
	}
	t, err := template.New("").Funcs(e.funcs).Option("missingkey=zero").Parse(expandShortcuts(tmpl))
	if err != nil {
		return nil, fmt.Errorf("template parse error: %w", err)
	}
	e.cache.Store(tmpl, t)
	return t, nil
}

// shortcutPattern matches bare query variables such as {{ .Season }}.
var shortcutPattern = regexp.MustCompile(`(^|[^\w.])\.(Keywords|IMDBID|IMDBIDShort|TMDBID|TVDBID|Season|Ep|Year|Album|Artist|Author|Title)\b`)

// expandShortcuts rewrites bare query variables to their .Query form.
// Qualified references such as .Query.Season or .Today.Year are left alone.
func expandShortcuts(tmpl string) string {
	return shortcutPattern.ReplaceAllString(tmpl, "${1}.Query.${2}")
}

func funcJoin(arr interface{}, sep string) string {
	switch v := arr.(type) {
	case []string:
		return strings.Join(v, sep)
	case []interface{}:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = fmt.Sprint(item)
		}
		return strings.Join(parts, sep)
	default:
		return fmt.Sprint(arr)
	}
}

func funcReReplace(input, pattern, replacement string) string {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return input
	}
	return re.ReplaceAllString(input, replacement)
}

func funcTrim(input string, cutset ...string) string {
	if len(cutset) > 0 {
		return strings.Trim(input, cutset[0])
	}
	return strings.TrimSpace(input)
}

func funcTrimLeft(input string, cutset ...string) string {
	if len(cutset) > 0 {
		return strings.TrimLeft(input, cutset[0])
	}
	return strings.TrimLeft(input, " \t\n\r")
}

func funcTrimRight(input string, cutset ...string) string {
	if len(cutset) > 0 {
		return strings.TrimRight(input, cutset[0])
	}
	return strings.TrimRight(input, " \t\n\r")
}

func funcDefault(value, fallback interface{}) interface{} {
	if value == nil || value == "" {
		return fallback
	}
	return value
}
