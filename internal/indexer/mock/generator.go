package mock

import (
	"fmt"
	"strings"
	"time"

	"github.com/slipstream/indexhub/internal/indexer"
)

// epoch anchors generated publish dates so results are stable.
var epoch = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

type variant struct {
	key      string
	label    string
	size     int64
	category int
}

var movieVariants = []variant{
	{"2160p-remux", "2160p.UHD.BluRay.REMUX.HDR.HEVC.TrueHD.7.1.Atmos-MOCK", 65_000_000_000, indexer.CategoryMoviesUHD},
	{"2160p-webdl", "2160p.WEB-DL.DDP5.1.DV.HDR.H.265-MOCK", 25_000_000_000, indexer.CategoryMoviesUHD},
	{"1080p-bluray", "1080p.BluRay.x264.DTS-HD.MA.5.1-MOCK", 12_000_000_000, indexer.CategoryMoviesHD},
	{"1080p-webdl", "1080p.WEB-DL.DDP5.1.H.264-MOCK", 8_000_000_000, indexer.CategoryMoviesHD},
}

var tvVariants = []variant{
	{"2160p-webdl", "2160p.WEB-DL.DDP5.1.DV.HDR.H.265-MOCK", 4_500_000_000, indexer.CategoryTVUHD},
	{"1080p-webdl", "1080p.WEB-DL.DDP5.1.H.264-MOCK", 1_800_000_000, indexer.CategoryTVHD},
	{"720p-hdtv", "720p.HDTV.x264-MOCK", 900_000_000, indexer.CategoryTVHD},
}

// movieReleases creates the releases of a movie.
func movieReleases(m Media) []indexer.Release {
	base := fmt.Sprintf("https://mockindexer.org/torrent/%d", m.TmdbID)
	out := make([]indexer.Release, 0, len(movieVariants))
	for i, v := range movieVariants {
		out = append(out, indexer.Release{
			GUID:        base + "/" + v.key,
			Title:       fmt.Sprintf("%s.%d.%s", sanitizeTitle(m.Title), m.Year, v.label),
			DownloadURL: base + "/" + v.key + "/download",
			InfoURL:     base + "/" + v.key,
			Size:        v.size,
			Categories:  []int{v.category},
			PublishDate: epoch.Add(-time.Duration(m.TmdbID%97+i) * time.Hour),
			ImdbID:      m.ImdbID,
		})
	}
	return out
}

// tvReleases creates episode releases for seasons 1-3, episodes 1-6.
func tvReleases(m Media) []indexer.Release {
	base := fmt.Sprintf("https://mockindexer.org/torrent/tv/%d", m.TvdbID)
	var out []indexer.Release
	for season := 1; season <= 3; season++ {
		for episode := 1; episode <= 6; episode++ {
			tag := fmt.Sprintf("S%02dE%02d", season, episode)
			for i, v := range tvVariants {
				key := strings.ToLower(tag) + "-" + v.key
				out = append(out, indexer.Release{
					GUID:        base + "/" + key,
					Title:       fmt.Sprintf("%s.%s.%s", sanitizeTitle(m.Title), tag, v.label),
					DownloadURL: base + "/" + key + "/download",
					InfoURL:     base + "/" + key,
					Size:        v.size,
					Categories:  []int{v.category},
					PublishDate: epoch.Add(-time.Duration((3-season)*200+(6-episode)*24+i) * time.Hour),
					ImdbID:      m.ImdbID,
					TvdbID:      m.TvdbID,
				})
			}
		}
	}
	return out
}

// sanitizeTitle converts a title to release format (dots instead of spaces, no special chars).
func sanitizeTitle(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteByte('.')
		}
	}
	return b.String()
}
