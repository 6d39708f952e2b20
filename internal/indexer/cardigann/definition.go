// Package cardigann scrapes HTML and JSON indexer sites described by
// Cardigann-style YAML definitions.
package cardigann

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/slipstream/indexhub/internal/indexer"
)

// Response types of a search path.
const (
	responseHTML = "html"
	responseJSON = "json"
)

// StringOrArray unmarshals from a string or a list of strings. Lists are
// joined with ", ".
type StringOrArray string

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *StringOrArray) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*s = StringOrArray(value.Value)
		return nil
	case yaml.SequenceNode:
		var arr []string
		if err := value.Decode(&arr); err != nil {
			return err
		}
		*s = StringOrArray(strings.Join(arr, ", "))
		return nil
	default:
		return fmt.Errorf("cannot unmarshal %v into StringOrArray", value.Kind)
	}
}

// Definition describes one scraped site.
type Definition struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Language    string   `yaml:"language"`
	Type        string   `yaml:"type"` // public, semi-private, private
	Encoding    string   `yaml:"encoding"`
	Links       []string `yaml:"links"`

	Caps     Caps        `yaml:"caps"`
	Settings []Setting   `yaml:"settings"`
	Login    *LoginBlock `yaml:"login"`
	Search   SearchBlock `yaml:"search"`
}

// Caps lists the site's search modes and categories.
type Caps struct {
	CategoryMappings []CategoryMapping   `yaml:"categorymappings"`
	Modes            map[string][]string `yaml:"modes"`
}

// CategoryMapping maps a site category to a standard category name such
// as "Movies/HD".
type CategoryMapping struct {
	ID   string `yaml:"id"`
	Cat  string `yaml:"cat"`
	Desc string `yaml:"desc"`
}

// Setting is a user-configurable value referenced as .Config.<name>.
type Setting struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"` // text, password, checkbox, select
	Label   string `yaml:"label"`
	Default string `yaml:"default"`
}

// LoginBlock describes how to open a session.
type LoginBlock struct {
	Path           string                   `yaml:"path"`
	Method         string                   `yaml:"method"` // post, form, cookie, get
	Form           string                   `yaml:"form"`
	Inputs         map[string]string        `yaml:"inputs"`
	SelectorInputs map[string]SelectorDef   `yaml:"selectorinputs"`
	Error          []ErrorSelector          `yaml:"error"`
	Test           TestBlock                `yaml:"test"`
	Headers        map[string]StringOrArray `yaml:"headers"`
}

// SelectorDef reads one value from a page.
type SelectorDef struct {
	Selector  string   `yaml:"selector"`
	Attribute string   `yaml:"attribute"`
	Filters   []Filter `yaml:"filters"`
}

// ErrorSelector marks a page as an error page when Selector matches.
type ErrorSelector struct {
	Selector string          `yaml:"selector"`
	Message  *TextOrSelector `yaml:"message"`
}

// TextOrSelector is either a fixed text or a selector to read it from.
type TextOrSelector struct {
	Text     string `yaml:"text"`
	Selector string `yaml:"selector"`
}

// TestBlock verifies a session. Selector must match on logged-in pages.
type TestBlock struct {
	Path     string `yaml:"path"`
	Selector string `yaml:"selector"`
}

// SearchBlock describes the search requests and how to read results.
type SearchBlock struct {
	Paths           []SearchPath             `yaml:"paths"`
	Inputs          map[string]string        `yaml:"inputs"`
	KeywordsFilters []Filter                 `yaml:"keywordsfilters"`
	Headers         map[string]StringOrArray `yaml:"headers"`
	Rows            RowSelector              `yaml:"rows"`
	Fields          map[string]Field         `yaml:"fields"`
	Error           []ErrorSelector          `yaml:"error"`
}

// SearchPath is one search endpoint, optionally limited to some site
// categories. With Follow set the path returns a landing page and the
// results are read from the page the follow selector points at.
type SearchPath struct {
	Path       string            `yaml:"path"`
	Categories []string          `yaml:"categories"`
	Inputs     map[string]string `yaml:"inputs"`
	Method     string            `yaml:"method"`
	Response   *ResponseConfig   `yaml:"response"`
	Follow     *SelectorDef      `yaml:"follow"`
}

// ResponseConfig describes the response format of a path.
type ResponseConfig struct {
	Type             string `yaml:"type"` // html (default) or json
	NoResultsMessage string `yaml:"noresultsmessage"`
}

// RowSelector finds result rows. For JSON responses Selector is a gjson
// path to the row array and Attribute an optional nested object per row.
type RowSelector struct {
	Selector  string `yaml:"selector"`
	Attribute string `yaml:"attribute"`
	After     int    `yaml:"after"`
	Remove    string `yaml:"remove"`
}

// Field reads one release field from a row.
type Field struct {
	Selector  string            `yaml:"selector"`
	Attribute string            `yaml:"attribute"`
	Text      string            `yaml:"text"`
	Remove    string            `yaml:"remove"`
	Optional  bool              `yaml:"optional"`
	Default   string            `yaml:"default"`
	Filters   []Filter          `yaml:"filters"`
	Case      map[string]string `yaml:"case"`
}

// Filter transforms an extracted value. Args is a string, a list or nil.
type Filter struct {
	Name string      `yaml:"name"`
	Args interface{} `yaml:"args"`
}

// ParseDefinition parses and validates a definition.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse definition YAML: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// ParseDefinitionFile parses a definition from a file.
func ParseDefinitionFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file: %w", err)
	}
	return ParseDefinition(data)
}

// Validate checks that the definition can produce releases.
func (d *Definition) Validate() error {
	if len(d.Search.Paths) == 0 {
		return fmt.Errorf("definition %q: no search paths", d.ID)
	}
	if d.Search.Rows.Selector == "" {
		return fmt.Errorf("definition %q: rows selector is required", d.ID)
	}
	if _, ok := d.Search.Fields["title"]; !ok {
		return fmt.Errorf("definition %q: title field is required", d.ID)
	}
	_, hasDownload := d.Search.Fields["download"]
	_, hasMagnet := d.Search.Fields["magnet"]
	_, hasHash := d.Search.Fields["infohash"]
	if !hasDownload && !hasMagnet && !hasHash {
		return fmt.Errorf("definition %q: download, magnet or infohash field is required", d.ID)
	}
	for i, p := range d.Search.Paths {
		if p.Follow != nil && p.Follow.Selector == "" {
			return fmt.Errorf("definition %q: path %d: follow selector is required", d.ID, i)
		}
	}
	for mode := range d.Caps.Modes {
		if _, ok := modeKinds[mode]; !ok {
			return fmt.Errorf("definition %q: unknown search mode %q", d.ID, mode)
		}
	}
	return nil
}

// HasLogin reports whether the site needs a session.
func (d *Definition) HasLogin() bool {
	return d.Login != nil && d.Login.Method != ""
}

// Privacy returns the privacy level declared by the definition.
func (d *Definition) Privacy() indexer.Privacy {
	switch strings.ToLower(d.Type) {
	case "private":
		return indexer.PrivacyPrivate
	case "semi-private":
		return indexer.PrivacySemiPrivate
	default:
		return indexer.PrivacyPublic
	}
}

var modeKinds = map[string]indexer.QueryKind{
	"search":       indexer.KindSearch,
	"tv-search":    indexer.KindTV,
	"movie-search": indexer.KindMovie,
	"music-search": indexer.KindMusic,
	"book-search":  indexer.KindBook,
}

// Kinds converts the definition's search modes to query kinds. A
// definition without modes supports free-text search only.
func (d *Definition) Kinds() map[indexer.QueryKind][]string {
	kinds := make(map[indexer.QueryKind][]string, len(d.Caps.Modes))
	for mode, params := range d.Caps.Modes {
		kinds[modeKinds[mode]] = params
	}
	if len(kinds) == 0 {
		kinds[indexer.KindSearch] = []string{indexer.ParamQ}
	}
	return kinds
}

// CategoryMap converts the definition's category names into backend
// category mappings. Names outside the standard taxonomy map to Other.
func (d *Definition) CategoryMap() []indexer.CategoryMapping {
	out := make([]indexer.CategoryMapping, 0, len(d.Caps.CategoryMappings))
	for _, m := range d.Caps.CategoryMappings {
		id, ok := indexer.CategoryByName(m.Cat)
		if !ok {
			id = indexer.CategoryOther
		}
		out = append(out, indexer.CategoryMapping{Native: m.ID, Standard: id, Description: m.Desc})
	}
	return out
}

// mergeSettings layers configured settings over the definition defaults.
// Unchecked checkboxes are left out so templates can test them with "if".
func (d *Definition) mergeSettings(configured map[string]string) map[string]string {
	merged := make(map[string]string, len(d.Settings)+len(configured))
	checkbox := make(map[string]bool)
	for _, s := range d.Settings {
		if s.Type == "checkbox" {
			checkbox[s.Name] = true
			continue
		}
		if s.Default != "" {
			merged[s.Name] = s.Default
		}
	}
	for k, v := range configured {
		if checkbox[k] && v != "true" {
			continue
		}
		merged[k] = v
	}
	return merged
}
