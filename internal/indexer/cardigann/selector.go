package cardigann

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
)

// row is one result row of an HTML or JSON response.
type row interface {
	// lookup returns the value at selector, reading attribute for HTML
	// elements. ok is false when nothing matched.
	lookup(selector, attribute, remove string) (value string, ok bool)

	// match picks the value of the first case that applies. HTML rows treat
	// case keys as selectors; JSON rows compare them with value. "*" is the
	// fallback.
	match(cases map[string]string, value string) (string, bool)
}

func sortedCases(cases map[string]string) []string {
	keys := make([]string, 0, len(cases))
	for k := range cases {
		if k != "*" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

type htmlRow struct {
	sel *goquery.Selection
}

func (r htmlRow) lookup(selector, attribute, remove string) (string, bool) {
	target := r.sel
	if selector != "" {
		target = r.sel.Find(selector).First()
	}
	if target.Length() == 0 {
		return "", false
	}
	if remove != "" {
		target = target.Clone()
		target.Find(remove).Remove()
	}
	if attribute != "" {
		v, ok := target.Attr(attribute)
		return strings.TrimSpace(v), ok
	}
	return strings.TrimSpace(target.Text()), true
}

func (r htmlRow) match(cases map[string]string, _ string) (string, bool) {
	for _, k := range sortedCases(cases) {
		if r.sel.Is(k) || r.sel.Find(k).Length() > 0 {
			return cases[k], true
		}
	}
	v, ok := cases["*"]
	return v, ok
}

type jsonRow struct {
	res gjson.Result
}

func (r jsonRow) lookup(selector, _, _ string) (string, bool) {
	v := r.res
	if selector != "" {
		v = r.res.Get(selector)
	}
	if !v.Exists() {
		return "", false
	}
	return strings.TrimSpace(v.String()), true
}

func (r jsonRow) match(cases map[string]string, value string) (string, bool) {
	if v, ok := cases[value]; ok {
		return v, true
	}
	v, ok := cases["*"]
	return v, ok
}

// parseHTML parses a decoded HTML page.
func parseHTML(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}

// htmlRows returns the rows matching sel after skipping the first After.
func htmlRows(doc *goquery.Document, sel RowSelector) []row {
	found := doc.Find(sel.Selector)
	if sel.Remove != "" {
		found.Find(sel.Remove).Remove()
	}
	var rows []row
	found.Each(func(i int, s *goquery.Selection) {
		if i >= sel.After {
			rows = append(rows, htmlRow{sel: s})
		}
	})
	return rows
}

// jsonRows returns the rows of the array at sel.Selector. With Attribute
// set every row is replaced by its nested object; rows without it are
// dropped.
func jsonRows(body []byte, sel RowSelector) ([]row, bool) {
	list := gjson.GetBytes(body, sel.Selector)
	if !list.Exists() {
		return nil, false
	}
	var rows []row
	for i, item := range list.Array() {
		if i < sel.After {
			continue
		}
		if sel.Attribute != "" {
			item = item.Get(sel.Attribute)
			if !item.Exists() {
				continue
			}
		}
		rows = append(rows, jsonRow{res: item})
	}
	return rows, true
}

// extractField reads one field from r. Text fields are templates over ctx,
// which lets them reference fields read earlier through .Result.
func (e *TemplateEngine) extractField(r row, f Field, ctx *TemplateContext) (string, error) {
	var value string
	if f.Text != "" {
		v, err := e.Evaluate(f.Text, ctx)
		if err != nil {
			return "", err
		}
		value = v
	} else {
		v, ok := r.lookup(f.Selector, f.Attribute, f.Remove)
		if !ok {
			if f.Optional || f.Default != "" {
				return e.Evaluate(f.Default, ctx)
			}
			return "", fmt.Errorf("selector %q matched nothing", f.Selector)
		}
		value = v
	}

	if len(f.Case) > 0 {
		if v, ok := r.match(f.Case, value); ok {
			value = v
		}
	}

	value, err := ApplyFilters(value, f.Filters, e, ctx)
	if err != nil {
		return "", err
	}
	if value == "" && f.Default != "" {
		return e.Evaluate(f.Default, ctx)
	}
	return value, nil
}

// selectText returns the trimmed text or attribute of the first match.
func selectText(doc *goquery.Document, selector, attribute string) string {
	v, _ := htmlRow{sel: doc.Selection}.lookup(selector, attribute, "")
	return v
}

// pageError returns the message of the first error selector that matches.
func pageError(doc *goquery.Document, selectors []ErrorSelector) (string, bool) {
	for _, es := range selectors {
		if doc.Find(es.Selector).Length() == 0 {
			continue
		}
		msg := selectText(doc, es.Selector, "")
		if es.Message != nil {
			if es.Message.Text != "" {
				msg = es.Message.Text
			} else if es.Message.Selector != "" {
				msg = selectText(doc, es.Message.Selector, "")
			}
		}
		if msg == "" {
			msg = "error page returned"
		}
		return msg, true
	}
	return "", false
}
