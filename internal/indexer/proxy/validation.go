package proxy

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/gabriel-vasile/mimetype"
	"github.com/javi11/nzbparser"
)

var (
	ErrEmptyContent   = errors.New("empty content")
	ErrHTMLResponse   = errors.New("received HTML instead of torrent/nzb")
	ErrInvalidTorrent = errors.New("invalid torrent file")
	ErrInvalidNZB     = errors.New("invalid NZB file")
	ErrTooLarge       = errors.New("download exceeds size limit")
)

// ExtractMagnet returns the magnet URI when content is a magnet link
// rather than a file.
func ExtractMagnet(content []byte) (string, bool) {
	trimmed := bytes.TrimSpace(content)
	if !bytes.HasPrefix(trimmed, []byte("magnet:")) {
		return "", false
	}
	magnetURL := string(trimmed)
	if idx := strings.IndexAny(magnetURL, "\r\n"); idx != -1 {
		magnetURL = magnetURL[:idx]
	}
	return strings.TrimSpace(magnetURL), true
}

// IsHTML reports whether content sniffs as an HTML page, which is what
// indexers send instead of a file when a session expired or a link died.
func IsHTML(content []byte) bool {
	return mimetype.Detect(content).Is("text/html")
}

// ValidateTorrent checks that content is bencoded metainfo and returns its
// info hash.
func ValidateTorrent(content []byte) (string, error) {
	if len(content) == 0 {
		return "", ErrEmptyContent
	}
	if IsHTML(content) {
		return "", ErrHTMLResponse
	}

	mi, err := metainfo.Load(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTorrent, err)
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTorrent, err)
	}
	if info.Name == "" && len(info.Files) == 0 {
		return "", fmt.Errorf("%w: missing info dictionary", ErrInvalidTorrent)
	}
	return mi.HashInfoBytes().HexString(), nil
}

// ValidateNZB checks that content is an NZB document with at least one
// segment.
func ValidateNZB(content []byte) error {
	if len(content) == 0 {
		return ErrEmptyContent
	}
	if IsHTML(content) {
		return ErrHTMLResponse
	}

	nzb, err := nzbparser.Parse(bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidNZB, err)
	}
	if len(nzb.Files) == 0 {
		return fmt.Errorf("%w: no files in NZB", ErrInvalidNZB)
	}
	for _, f := range nzb.Files {
		if len(f.Segments) > 0 {
			return nil
		}
	}
	return fmt.Errorf("%w: no segments in NZB files", ErrInvalidNZB)
}

// MagnetInfoHash returns the info hash of a magnet URI, or "" when it
// cannot be parsed.
func MagnetInfoHash(uri string) string {
	m, err := metainfo.ParseMagnetUri(uri)
	if err != nil {
		return ""
	}
	return m.InfoHash.HexString()
}
