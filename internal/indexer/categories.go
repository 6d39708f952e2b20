package indexer

import (
	"sort"
	"strings"
)

// Standard Newznab Categories
// https://newznab.readthedocs.io/en/latest/misc/api/#predefined-categories
const (
	// Main categories
	CategoryConsole = 1000
	CategoryMovies  = 2000
	CategoryAudio   = 3000
	CategoryPC      = 4000
	CategoryTV      = 5000
	CategoryXXX     = 6000
	CategoryBooks   = 7000
	CategoryOther   = 8000

	// Console subcategories
	CategoryConsoleNDS     = 1010
	CategoryConsolePSP     = 1020
	CategoryConsoleWii     = 1030
	CategoryConsoleXBox    = 1040
	CategoryConsoleXBox360 = 1050
	CategoryConsolePS3     = 1080
	CategoryConsoleOther   = 1090
	CategoryConsolePS4     = 1180

	// Movies subcategories
	CategoryMoviesForeign = 2010
	CategoryMoviesOther   = 2020
	CategoryMoviesSD      = 2030
	CategoryMoviesHD      = 2040
	CategoryMoviesUHD     = 2045
	CategoryMoviesBluRay  = 2050
	CategoryMovies3D      = 2060
	CategoryMoviesDVD     = 2070
	CategoryMoviesWebDL   = 2080

	// Audio subcategories
	CategoryAudioMP3       = 3010
	CategoryAudioVideo     = 3020
	CategoryAudioAudiobook = 3030
	CategoryAudioLossless  = 3040
	CategoryAudioOther     = 3050
	CategoryAudioForeign   = 3060

	// PC subcategories
	CategoryPC0day    = 4010
	CategoryPCISO     = 4020
	CategoryPCMac     = 4030
	CategoryPCMobile  = 4040
	CategoryPCGames   = 4050
	CategoryPCIOS     = 4060
	CategoryPCAndroid = 4070

	// TV subcategories
	CategoryTVForeign = 5010
	CategoryTVOther   = 5020
	CategoryTVSD      = 5030
	CategoryTVHD      = 5040
	CategoryTVUHD     = 5045
	CategoryTVSport   = 5060
	CategoryTVAnime   = 5070
	CategoryTVDoc     = 5080
	CategoryTVWebDL   = 5090

	// XXX subcategories
	CategoryXXXDVD   = 6010
	CategoryXXXWMV   = 6020
	CategoryXXXXviD  = 6030
	CategoryXXXx264  = 6040
	CategoryXXXOther = 6070

	// Books subcategories
	CategoryBooksMags      = 7010
	CategoryBooksEBook     = 7020
	CategoryBooksComics    = 7030
	CategoryBooksTechnical = 7040
	CategoryBooksOther     = 7050
	CategoryBooksForeign   = 7060

	// Other subcategories
	CategoryOtherMisc   = 8010
	CategoryOtherHashed = 8020
)

var categoryNames = map[int]string{
	CategoryConsole:        "Console",
	CategoryConsoleNDS:     "Console/NDS",
	CategoryConsolePSP:     "Console/PSP",
	CategoryConsoleWii:     "Console/Wii",
	CategoryConsoleXBox:    "Console/XBox",
	CategoryConsoleXBox360: "Console/XBox 360",
	CategoryConsolePS3:     "Console/PS3",
	CategoryConsoleOther:   "Console/Other",
	CategoryConsolePS4:     "Console/PS4",
	CategoryMovies:         "Movies",
	CategoryMoviesForeign:  "Movies/Foreign",
	CategoryMoviesOther:    "Movies/Other",
	CategoryMoviesSD:       "Movies/SD",
	CategoryMoviesHD:       "Movies/HD",
	CategoryMoviesUHD:      "Movies/UHD",
	CategoryMoviesBluRay:   "Movies/BluRay",
	CategoryMovies3D:       "Movies/3D",
	CategoryMoviesDVD:      "Movies/DVD",
	CategoryMoviesWebDL:    "Movies/WEB-DL",
	CategoryAudio:          "Audio",
	CategoryAudioMP3:       "Audio/MP3",
	CategoryAudioVideo:     "Audio/Video",
	CategoryAudioAudiobook: "Audio/Audiobook",
	CategoryAudioLossless:  "Audio/Lossless",
	CategoryAudioOther:     "Audio/Other",
	CategoryAudioForeign:   "Audio/Foreign",
	CategoryPC:             "PC",
	CategoryPC0day:         "PC/0day",
	CategoryPCISO:          "PC/ISO",
	CategoryPCMac:          "PC/Mac",
	CategoryPCMobile:       "PC/Mobile-Other",
	CategoryPCGames:        "PC/Games",
	CategoryPCIOS:          "PC/Mobile-iOS",
	CategoryPCAndroid:      "PC/Mobile-Android",
	CategoryTV:             "TV",
	CategoryTVForeign:      "TV/Foreign",
	CategoryTVOther:        "TV/Other",
	CategoryTVSD:           "TV/SD",
	CategoryTVHD:           "TV/HD",
	CategoryTVUHD:          "TV/UHD",
	CategoryTVSport:        "TV/Sport",
	CategoryTVAnime:        "TV/Anime",
	CategoryTVDoc:          "TV/Documentary",
	CategoryTVWebDL:        "TV/WEB-DL",
	CategoryXXX:            "XXX",
	CategoryXXXDVD:         "XXX/DVD",
	CategoryXXXWMV:         "XXX/WMV",
	CategoryXXXXviD:        "XXX/XviD",
	CategoryXXXx264:        "XXX/x264",
	CategoryXXXOther:       "XXX/Other",
	CategoryBooks:          "Books",
	CategoryBooksMags:      "Books/Mags",
	CategoryBooksEBook:     "Books/EBook",
	CategoryBooksComics:    "Books/Comics",
	CategoryBooksTechnical: "Books/Technical",
	CategoryBooksOther:     "Books/Other",
	CategoryBooksForeign:   "Books/Foreign",
	CategoryOther:          "Other",
	CategoryOtherMisc:      "Other/Misc",
	CategoryOtherHashed:    "Other/Hashed",
}

// CategoryName returns a human-readable name for a category.
func CategoryName(id int) string {
	if name, ok := categoryNames[id]; ok {
		return name
	}
	return "Unknown"
}

// CategoryByName returns the standard category with the given name, e.g.
// "Movies/HD". Matching ignores case.
func CategoryByName(name string) (int, bool) {
	for id, n := range categoryNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return id, true
		}
	}
	return 0, false
}

// IsStandardCategory reports whether id belongs to the standard taxonomy.
func IsStandardCategory(id int) bool {
	_, ok := categoryNames[id]
	return ok
}

// ParentCategory returns the top-level category of id.
func ParentCategory(id int) int {
	return id - id%1000
}

// AllCategories returns every standard category in ascending order.
func AllCategories() []int {
	ids := make([]int, 0, len(categoryNames))
	for id := range categoryNames {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// SubCategories returns the subcategories of a top-level category.
func SubCategories(parent int) []int {
	var subs []int
	for _, id := range AllCategories() {
		if id != parent && ParentCategory(id) == parent {
			subs = append(subs, id)
		}
	}
	return subs
}

// MovieCategories returns all movie-related categories.
func MovieCategories() []int {
	return append([]int{CategoryMovies}, SubCategories(CategoryMovies)...)
}

// TVCategories returns all TV-related categories.
func TVCategories() []int {
	return append([]int{CategoryTV}, SubCategories(CategoryTV)...)
}

// DefaultCategories returns the categories implied by a query kind when the
// caller did not name any.
func DefaultCategories(kind QueryKind) []int {
	switch kind {
	case KindTV:
		return TVCategories()
	case KindMovie:
		return MovieCategories()
	case KindMusic:
		return append([]int{CategoryAudio}, SubCategories(CategoryAudio)...)
	case KindBook:
		return append([]int{CategoryBooks}, SubCategories(CategoryBooks)...)
	default:
		return nil
	}
}

// CategoryMap is the category mapping of a single backend.
type CategoryMap struct {
	toStandard map[string][]int
	toNative   map[int]string
	entries    []CategoryMapping
}

// NewCategoryMap builds a backend-scoped map from mapping entries. A native
// code may appear several times to map onto several standard categories.
func NewCategoryMap(entries []CategoryMapping) *CategoryMap {
	m := &CategoryMap{
		toStandard: make(map[string][]int),
		toNative:   make(map[int]string),
		entries:    entries,
	}
	for _, e := range entries {
		key := normalizeNative(e.Native)
		if !containsInt(m.toStandard[key], e.Standard) {
			m.toStandard[key] = append(m.toStandard[key], e.Standard)
		}
		if _, exists := m.toNative[e.Standard]; !exists {
			m.toNative[e.Standard] = e.Native
		}
	}
	return m
}

// ToStandard maps a native category code to standard categories. Unknown
// codes map to Other; the result is never empty.
func (m *CategoryMap) ToStandard(native string) []int {
	if m != nil {
		if ids, ok := m.toStandard[normalizeNative(native)]; ok && len(ids) > 0 {
			out := make([]int, len(ids))
			copy(out, ids)
			return out
		}
	}
	return []int{CategoryOther}
}

// ToNative maps a standard category to the backend's native code. A
// subcategory without its own mapping falls back to its parent's code.
func (m *CategoryMap) ToNative(standard int) (string, bool) {
	if m == nil {
		return "", false
	}
	if native, ok := m.toNative[standard]; ok {
		return native, true
	}
	if native, ok := m.toNative[ParentCategory(standard)]; ok {
		return native, true
	}
	return "", false
}

// NativeCodes maps a list of standard categories to distinct native codes,
// dropping categories the backend cannot express.
func (m *CategoryMap) NativeCodes(standard []int) []string {
	seen := make(map[string]bool)
	var codes []string
	for _, id := range standard {
		native, ok := m.ToNative(id)
		if !ok || seen[native] {
			continue
		}
		seen[native] = true
		codes = append(codes, native)
	}
	return codes
}

// StandardCategories returns the distinct standard categories covered by
// the map in ascending order.
func (m *CategoryMap) StandardCategories() []int {
	if m == nil {
		return nil
	}
	ids := make([]int, 0, len(m.toNative))
	for id := range m.toNative {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// IsEmpty reports whether the map has no entries. Backends without a map
// report standard category ids directly.
func (m *CategoryMap) IsEmpty() bool {
	return m == nil || len(m.entries) == 0
}

// Normalizer routes category lookups to the backend-scoped map.
type Normalizer struct {
	maps map[int64]*CategoryMap
}

// NewNormalizer creates a normalizer over the given descriptors.
func NewNormalizer(descriptors []*BackendDescriptor) *Normalizer {
	n := &Normalizer{maps: make(map[int64]*CategoryMap, len(descriptors))}
	for _, d := range descriptors {
		n.maps[d.ID] = NewCategoryMap(d.CategoryMap)
	}
	return n
}

// For returns the map of one backend, or nil when it is unknown.
func (n *Normalizer) For(backendID int64) *CategoryMap {
	if n == nil {
		return nil
	}
	return n.maps[backendID]
}

// ToStandard maps a backend's native code to standard categories.
func (n *Normalizer) ToStandard(backendID int64, native string) []int {
	return n.For(backendID).ToStandard(native)
}

// ToNative maps a standard category to a backend's native code.
func (n *Normalizer) ToNative(backendID int64, standard int) (string, bool) {
	return n.For(backendID).ToNative(standard)
}

// ExpandCategories adds the subcategories of any top-level category in ids.
func ExpandCategories(ids []int) []int {
	seen := make(map[int]bool)
	var out []int
	add := func(id int) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range ids {
		add(id)
		if id%1000 == 0 {
			for _, sub := range SubCategories(id) {
				add(sub)
			}
		}
	}
	return out
}

// MatchesCategories reports whether any of a release's categories falls in
// the requested set. An empty request matches everything.
func MatchesCategories(releaseCats, requested []int) bool {
	if len(requested) == 0 {
		return true
	}
	want := ExpandCategories(requested)
	for _, c := range releaseCats {
		if containsInt(want, c) || containsInt(want, ParentCategory(c)) {
			return true
		}
	}
	return false
}

func normalizeNative(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

func containsInt(ids []int, id int) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
