package indexer

import (
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Backend types understood by the registry.
const (
	TypeTorznab   = "torznab"
	TypeNewznab   = "newznab"
	TypeRSS       = "rss"
	TypeCardigann = "cardigann"
	TypeJSONAPI   = "jsonapi"
	TypeMock      = "mock"
)

// Definition is one configured backend as read from the backends file.
type Definition struct {
	ID             int64               `yaml:"id"`
	Name           string              `yaml:"name"`
	Type           string              `yaml:"type"`
	Enabled        *bool               `yaml:"enabled"`
	BaseURLs       []string            `yaml:"baseUrls"`
	APIPath        string              `yaml:"apiPath"`
	APIKey         string              `yaml:"apiKey"`
	Protocol       Protocol            `yaml:"protocol"`
	Privacy        Privacy             `yaml:"privacy"`
	Encoding       string              `yaml:"encoding"`
	Redirect       bool                `yaml:"redirect"`
	MinimumSeeders int                 `yaml:"minimumSeeders"`
	Categories     []CategoryMapping   `yaml:"categories"`
	Capabilities   map[string][]string `yaml:"capabilities"`
	Limits         DefinitionLimits    `yaml:"limits"`

	// Definition points at a scraper or API definition file for
	// cardigann and jsonapi backends.
	Definition string `yaml:"definition"`

	// Settings holds free-form backend settings such as credentials.
	// A value of the form "keyring:service/user" is read from the OS keyring.
	Settings map[string]string `yaml:"settings"`
}

// DefinitionLimits is the YAML form of Limits.
type DefinitionLimits struct {
	MaxPages   int           `yaml:"maxPages"`
	MaxResults int           `yaml:"maxResults"`
	Timeout    time.Duration `yaml:"timeout"`
}

// IsEnabled reports whether the backend should be registered.
func (d *Definition) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// Validate checks the fields every backend type needs.
func (d *Definition) Validate() error {
	if d.ID <= 0 {
		return fmt.Errorf("indexer %q: id must be positive", d.Name)
	}
	if d.Name == "" {
		return fmt.Errorf("indexer %d: name is required", d.ID)
	}
	if d.Type == "" {
		return fmt.Errorf("indexer %d: type is required", d.ID)
	}
	switch d.Protocol {
	case "", ProtocolTorrent, ProtocolUsenet:
	default:
		return fmt.Errorf("indexer %d: unknown protocol %q", d.ID, d.Protocol)
	}
	for kind := range d.Capabilities {
		if !QueryKind(kind).Valid() {
			return fmt.Errorf("indexer %d: unknown query kind %q", d.ID, kind)
		}
	}
	return nil
}

// Descriptor builds the immutable descriptor for the definition. Fields left
// empty in the definition fall back to the variant's defaults.
func (d *Definition) Descriptor(defaults BackendDescriptor) *BackendDescriptor {
	desc := defaults
	desc.ID = d.ID
	desc.Name = d.Name
	desc.Type = d.Type
	if len(d.BaseURLs) > 0 {
		desc.BaseURLs = make([]string, len(d.BaseURLs))
		for i, u := range d.BaseURLs {
			desc.BaseURLs[i] = strings.TrimRight(u, "/")
		}
	}
	if d.Protocol != "" {
		desc.Protocol = d.Protocol
	}
	if desc.Protocol == "" {
		desc.Protocol = ProtocolTorrent
	}
	if d.Privacy != "" {
		desc.Privacy = d.Privacy
	}
	if desc.Privacy == "" {
		desc.Privacy = PrivacyPublic
	}
	if d.Encoding != "" {
		desc.Encoding = d.Encoding
	}
	desc.Redirect = d.Redirect
	desc.MinimumSeeders = d.MinimumSeeders
	if len(d.Categories) > 0 {
		desc.CategoryMap = d.Categories
	}
	if len(d.Capabilities) > 0 {
		kinds := make(map[QueryKind][]string, len(d.Capabilities))
		for k, params := range d.Capabilities {
			kinds[QueryKind(k)] = params
		}
		desc.Capabilities.Kinds = kinds
	}
	if len(desc.Capabilities.Categories) == 0 {
		desc.Capabilities.Categories = NewCategoryMap(desc.CategoryMap).StandardCategories()
	}
	if d.Limits.MaxPages > 0 {
		desc.Limits.MaxPages = d.Limits.MaxPages
	}
	if d.Limits.MaxResults > 0 {
		desc.Limits.MaxResults = d.Limits.MaxResults
	}
	if d.Limits.Timeout > 0 {
		desc.Limits.Timeout = d.Limits.Timeout
	}
	return &desc
}

// DefinitionsFile is the top-level layout of the backends file.
type DefinitionsFile struct {
	Indexers []Definition `yaml:"indexers"`
}

// LoadDefinitions reads backend definitions from a YAML file.
func LoadDefinitions(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read indexers file: %w", err)
	}
	return ParseDefinitions(data)
}

// ParseDefinitions parses backend definitions from YAML.
func ParseDefinitions(data []byte) ([]Definition, error) {
	var file DefinitionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse indexers file: %w", err)
	}

	seen := make(map[int64]bool, len(file.Indexers))
	for i := range file.Indexers {
		def := &file.Indexers[i]
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("indexer %d: duplicate id", def.ID)
		}
		seen[def.ID] = true
	}
	return file.Indexers, nil
}

// FactoryOptions carries shared collaborators handed to backend factories.
type FactoryOptions struct {
	Logger     zerolog.Logger
	HTTPClient *http.Client
	Secrets    SecretResolver
}

// Factory builds a backend from its definition.
type Factory func(def Definition, opts FactoryOptions) (Backend, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// RegisterFactory makes a backend type available to the registry. It is
// called from the init function of each variant package.
func RegisterFactory(typ string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if f == nil {
		panic("indexer: RegisterFactory factory is nil")
	}
	if _, dup := factories[typ]; dup {
		panic("indexer: RegisterFactory called twice for " + typ)
	}
	factories[typ] = f
}

// LookupFactory returns the factory of a backend type.
func LookupFactory(typ string) (Factory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[typ]
	return f, ok
}

// FactoryTypes returns the registered backend types in sorted order.
func FactoryTypes() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
