package jsonapi

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config describes how to query a JSON API and where each release field
// lives in its response. Paths use gjson syntax.
type Config struct {
	// URL is a text/template with .BaseURL, .Query, .Page, .Offset, .Limit,
	// .Categories, .ImdbID, .TvdbID, .Season and .Episode.
	URL         string `yaml:"url"`
	QueryInPath bool   `yaml:"queryInPath"`
	PageSize    int    `yaml:"pageSize"`

	// List is the path of the result array; empty means the document root.
	List   string   `yaml:"list"`
	Fields Fields   `yaml:"fields"`
	Kinds  []string `yaml:"kinds"`

	// Trackers are added to synthesized magnet links.
	Trackers []string `yaml:"trackers"`
}

// Fields maps release fields to gjson paths.
type Fields struct {
	Title      string `yaml:"title"`
	GUID       string `yaml:"guid"`
	Link       string `yaml:"link"`
	Magnet     string `yaml:"magnet"`
	InfoHash   string `yaml:"infohash"`
	InfoURL    string `yaml:"infoUrl"`
	Size       string `yaml:"size"`
	SizeText   string `yaml:"sizeText"`
	Seeders    string `yaml:"seeders"`
	Peers      string `yaml:"peers"`
	Date       string `yaml:"date"`
	DateFormat string `yaml:"dateFormat"`
	Category   string `yaml:"category"`
	Imdb       string `yaml:"imdb"`
	Freeleech  string `yaml:"freeleech"`
}

// LoadConfig reads an API definition from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read api definition: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates an API definition.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse api definition: %w", err)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("api definition: url is required")
	}
	if cfg.Fields.Title == "" {
		return nil, fmt.Errorf("api definition: fields.title is required")
	}
	if cfg.Fields.Link == "" && cfg.Fields.Magnet == "" && cfg.Fields.InfoHash == "" {
		return nil, fmt.Errorf("api definition: one of fields.link, fields.magnet or fields.infohash is required")
	}
	return &cfg, nil
}
