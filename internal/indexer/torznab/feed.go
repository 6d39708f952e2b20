// Package torznab implements Torznab and Newznab API backends and the
// generic RSS feed backend.
package torznab

import (
	"encoding/xml"
	"strconv"
	"strings"
)

// Feed represents the root RSS feed of a Torznab response.
type Feed struct {
	XMLName xml.Name `xml:"rss"`
	Channel Channel  `xml:"channel"`
}

// Channel represents the channel element.
type Channel struct {
	Title       string `xml:"title"`
	Description string `xml:"description,omitempty"`
	Link        string `xml:"link,omitempty"`
	Items       []Item `xml:"item"`
}

// Item represents a single release.
type Item struct {
	Title       string      `xml:"title"`
	GUID        string      `xml:"guid"`
	Link        string      `xml:"link"`
	Comments    string      `xml:"comments,omitempty"`
	PubDate     string      `xml:"pubDate"`
	Size        int64       `xml:"size,omitempty"`
	Description string      `xml:"description,omitempty"`
	Category    []string    `xml:"category,omitempty"`
	Enclosure   Enclosure   `xml:"enclosure"`
	Attributes  []Attribute `xml:"attr"`
}

// Enclosure carries the download link.
type Enclosure struct {
	URL    string `xml:"url,attr"`
	Length int64  `xml:"length,attr"`
	Type   string `xml:"type,attr"`
}

// Attribute represents a torznab:attr or newznab:attr element.
type Attribute struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// ErrorResponse is the <error code=".." description=".."/> document.
type ErrorResponse struct {
	XMLName     xml.Name `xml:"error"`
	Code        int      `xml:"code,attr"`
	Description string   `xml:"description,attr"`
}

// Attribute returns the first value of the named attribute.
func (item *Item) Attribute(name string) string {
	for _, attr := range item.Attributes {
		if attr.Name == name {
			return attr.Value
		}
	}
	return ""
}

// AttributeValues returns every value of the named attribute.
func (item *Item) AttributeValues(name string) []string {
	var vals []string
	for _, attr := range item.Attributes {
		if attr.Name == name {
			vals = append(vals, attr.Value)
		}
	}
	return vals
}

// IntAttribute returns the integer value of an attribute.
func (item *Item) IntAttribute(name string) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(item.Attribute(name)))
	if err != nil {
		return 0, false
	}
	return v, true
}

// FloatAttribute returns the float value of an attribute.
func (item *Item) FloatAttribute(name string, defaultVal float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(item.Attribute(name)), 64)
	if err != nil {
		return defaultVal
	}
	return v
}

// Caps represents the capabilities document.
type Caps struct {
	XMLName    xml.Name       `xml:"caps"`
	Server     CapsServer     `xml:"server"`
	Limits     CapsLimits     `xml:"limits"`
	Searching  CapsSearching  `xml:"searching"`
	Categories CapsCategories `xml:"categories"`
}

// CapsServer represents server info in capabilities.
type CapsServer struct {
	Title   string `xml:"title,attr"`
	Version string `xml:"version,attr,omitempty"`
}

// CapsLimits represents limits in capabilities.
type CapsLimits struct {
	Max     int `xml:"max,attr"`
	Default int `xml:"default,attr"`
}

// CapsSearching lists the search functions.
type CapsSearching struct {
	Search      CapsSearchType `xml:"search"`
	TVSearch    CapsSearchType `xml:"tv-search"`
	MovieSearch CapsSearchType `xml:"movie-search"`
	MusicSearch CapsSearchType `xml:"music-search"`
	BookSearch  CapsSearchType `xml:"book-search"`
}

// CapsSearchType represents one search function.
type CapsSearchType struct {
	Available       string `xml:"available,attr"`
	SupportedParams string `xml:"supportedParams,attr"`
}

// CapsCategories is a container for category elements.
type CapsCategories struct {
	Categories []CapsCategory `xml:"category"`
}

// CapsCategory represents a category in capabilities.
type CapsCategory struct {
	ID            int            `xml:"id,attr"`
	Name          string         `xml:"name,attr"`
	Subcategories []CapsCategory `xml:"subcat"`
}
