package indexer

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

// DecodeBody converts a response body to UTF-8. The descriptor's Encoding
// wins over the Content-Type header; without either the body is returned
// unchanged.
func DecodeBody(desc *BackendDescriptor, resp *RawResponse) ([]byte, error) {
	label := ""
	if desc != nil {
		label = desc.Encoding
	}
	if label == "" && resp.Header != nil {
		if _, params, ok := strings.Cut(resp.Header.Get("Content-Type"), "charset="); ok {
			params, _, _ = strings.Cut(params, ";")
			label = strings.Trim(params, `"' `)
		}
	}
	if label == "" || strings.EqualFold(label, "utf-8") || strings.EqualFold(label, "utf8") {
		return resp.Body, nil
	}

	r, err := charset.NewReaderLabel(label, bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("unsupported encoding %q: %w", label, err)
	}
	return io.ReadAll(r)
}
