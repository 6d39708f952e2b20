package cardigann

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// FilterFunc transforms one extracted value.
type FilterFunc func(value string, args []string) (string, error)

var filters = map[string]FilterFunc{
	"replace":     filterReplace,
	"re_replace":  filterReReplace,
	"split":       filterSplit,
	"trim":        filterTrim,
	"prepend":     filterPrepend,
	"append":      filterAppend,
	"tolower":     func(v string, _ []string) (string, error) { return strings.ToLower(v), nil },
	"toupper":     func(v string, _ []string) (string, error) { return strings.ToUpper(v), nil },
	"dateparse":   filterDateParse,
	"timeago":     filterTimeAgo,
	"fuzzytime":   filterFuzzyTime,
	"urldecode":   filterURLDecode,
	"urlencode":   func(v string, _ []string) (string, error) { return url.QueryEscape(v), nil },
	"querystring": filterQueryString,
	"htmldecode":  func(v string, _ []string) (string, error) { return html.UnescapeString(v), nil },
	"striptags":   func(v string, _ []string) (string, error) { return tagPattern.ReplaceAllString(v, ""), nil },
	"regexp":      filterRegexp,
	"validate":    filterValidate,
	"size":        filterSize,
	"multiply":    filterMultiply,
	"normalize":   func(v string, _ []string) (string, error) { return strings.Join(strings.Fields(v), " "), nil },
}

var (
	tagPattern     = regexp.MustCompile(`<[^>]*>`)
	timeAgoPattern = regexp.MustCompile(`(\d+)\s*(sec|second|min|minute|hour|day|week|month|year)s?\.?\s*ago`)
)

// ApplyFilters runs filterList over value. Template expressions in filter
// arguments are evaluated against ctx when an engine is given. Unknown
// filters are skipped.
func ApplyFilters(value string, filterList []Filter, engine *TemplateEngine, ctx *TemplateContext) (string, error) {
	for _, f := range filterList {
		fn, ok := filters[f.Name]
		if !ok {
			continue
		}
		args := filterArgs(f.Args)
		if engine != nil && ctx != nil {
			for i, arg := range args {
				if evaluated, err := engine.Evaluate(arg, ctx); err == nil {
					args[i] = evaluated
				}
			}
		}
		var err error
		if value, err = fn(value, args); err != nil {
			return "", fmt.Errorf("filter %s failed: %w", f.Name, err)
		}
	}
	return value, nil
}

func filterArgs(args interface{}) []string {
	switch v := args.(type) {
	case nil:
		return nil
	case string:
		return []string{v}
	case []string:
		return append([]string(nil), v...)
	case []interface{}:
		out := make([]string, len(v))
		for i, item := range v {
			out[i] = fmt.Sprint(item)
		}
		return out
	default:
		return []string{fmt.Sprint(v)}
	}
}

func filterReplace(value string, args []string) (string, error) {
	if len(args) < 2 {
		return value, nil
	}
	return strings.ReplaceAll(value, args[0], args[1]), nil
}

func filterReReplace(value string, args []string) (string, error) {
	if len(args) < 2 {
		return value, nil
	}
	re, err := regexp.Compile(args[0])
	if err != nil {
		return "", fmt.Errorf("invalid pattern %q: %w", args[0], err)
	}
	return re.ReplaceAllString(value, args[1]), nil
}

// filterSplit returns the args[1]-th part of value split by args[0].
// Negative positions count from the end.
func filterSplit(value string, args []string) (string, error) {
	if len(args) < 2 {
		return value, nil
	}
	idx, err := strconv.Atoi(args[1])
	if err != nil {
		return "", fmt.Errorf("invalid split position %q", args[1])
	}
	parts := strings.Split(value, args[0])
	if idx < 0 {
		idx += len(parts)
	}
	if idx < 0 || idx >= len(parts) {
		return "", nil
	}
	return parts[idx], nil
}

func filterTrim(value string, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Trim(value, args[0]), nil
	}
	return strings.TrimSpace(value), nil
}

func filterPrepend(value string, args []string) (string, error) {
	if len(args) == 0 {
		return value, nil
	}
	return args[0] + value, nil
}

func filterAppend(value string, args []string) (string, error) {
	if len(args) == 0 {
		return value, nil
	}
	return value + args[0], nil
}

// Layouts tried when a date does not match the definition's layout.
var dateLayouts = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02.01.2006 15:04",
	"Jan 2 2006",
	"2 Jan 2006",
	"January 2, 2006",
}

// filterDateParse parses value with the layout in args[0] and renders it
// as RFC 3339. Layouts may use Go reference dates or yyyy-MM-dd tokens.
func filterDateParse(value string, args []string) (string, error) {
	value = strings.TrimSpace(value)
	layouts := dateLayouts
	if len(args) > 0 {
		layouts = append([]string{convertDateLayout(args[0])}, dateLayouts...)
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format(time.RFC3339), nil
		}
	}
	return "", fmt.Errorf("unrecognized date %q", value)
}

var dateTokens = strings.NewReplacer(
	"yyyy", "2006", "yy", "06",
	"MMMM", "January", "MMM", "Jan", "MM", "01",
	"dd", "02", "HH", "15", "hh", "03", "mm", "04", "ss", "05", "tt", "PM",
)

func convertDateLayout(layout string) string {
	if strings.Contains(layout, "2006") {
		return layout
	}
	return dateTokens.Replace(layout)
}

// filterTimeAgo turns "3 hours ago", "today" or "yesterday" into a date.
func filterTimeAgo(value string, _ []string) (string, error) {
	t, ok := parseTimeAgo(value, time.Now())
	if !ok {
		return "", fmt.Errorf("unrecognized relative date %q", value)
	}
	return t.Format(time.RFC3339), nil
}

func parseTimeAgo(value string, now time.Time) (time.Time, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	switch value {
	case "now", "just now", "today":
		return now, true
	case "yesterday":
		return now.AddDate(0, 0, -1), true
	}

	m := timeAgoPattern.FindStringSubmatch(value)
	if m == nil {
		return time.Time{}, false
	}
	n, _ := strconv.Atoi(m[1])
	switch m[2] {
	case "sec", "second":
		return now.Add(-time.Duration(n) * time.Second), true
	case "min", "minute":
		return now.Add(-time.Duration(n) * time.Minute), true
	case "hour":
		return now.Add(-time.Duration(n) * time.Hour), true
	case "day":
		return now.AddDate(0, 0, -n), true
	case "week":
		return now.AddDate(0, 0, -7*n), true
	case "month":
		return now.AddDate(0, -n, 0), true
	default:
		return now.AddDate(-n, 0, 0), true
	}
}

// filterFuzzyTime accepts relative and absolute dates.
func filterFuzzyTime(value string, args []string) (string, error) {
	if t, ok := parseTimeAgo(value, time.Now()); ok {
		return t.Format(time.RFC3339), nil
	}
	return filterDateParse(value, args)
}

func filterURLDecode(value string, _ []string) (string, error) {
	decoded, err := url.QueryUnescape(value)
	if err != nil {
		return value, nil
	}
	return decoded, nil
}

// filterQueryString reads parameter args[0] from a URL or query string.
func filterQueryString(value string, args []string) (string, error) {
	if len(args) == 0 {
		return value, nil
	}
	if u, err := url.Parse(value); err == nil && u.RawQuery != "" {
		return u.Query().Get(args[0]), nil
	}
	values, err := url.ParseQuery(value)
	if err != nil {
		return "", nil
	}
	return values.Get(args[0]), nil
}

// filterRegexp returns the first capture group, or the whole match for a
// pattern without groups.
func filterRegexp(value string, args []string) (string, error) {
	if len(args) == 0 {
		return value, nil
	}
	re, err := regexp.Compile(args[0])
	if err != nil {
		return "", fmt.Errorf("invalid pattern %q: %w", args[0], err)
	}
	m := re.FindStringSubmatch(value)
	switch {
	case m == nil:
		return "", nil
	case len(m) > 1:
		return m[1], nil
	default:
		return m[0], nil
	}
}

// filterValidate keeps the words of value found in the comma separated
// list args[0].
func filterValidate(value string, args []string) (string, error) {
	if len(args) == 0 {
		return value, nil
	}
	allowed := make(map[string]bool)
	for _, a := range strings.FieldsFunc(strings.ToLower(args[0]), isListSeparator) {
		allowed[a] = true
	}
	var kept []string
	for _, w := range strings.FieldsFunc(value, isListSeparator) {
		if allowed[strings.ToLower(w)] {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, ","), nil
}

func isListSeparator(r rune) bool {
	return r == ',' || r == '|' || r == ' '
}

// filterSize converts "1.5 GB" or "700 MiB" into bytes. Unit-less values
// are bytes; KB, MB and GB are read as binary multiples like most trackers
// display them.
func filterSize(value string, _ []string) (string, error) {
	n, err := parseSize(value)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n, 10), nil
}

func parseSize(value string) (int64, error) {
	value = strings.TrimSpace(strings.ReplaceAll(value, ",", ""))
	if value == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return n, nil
	}
	upper := strings.ToUpper(value)
	if !strings.Contains(upper, "IB") {
		for _, unit := range []string{"KB", "MB", "GB", "TB", "PB"} {
			if strings.HasSuffix(upper, unit) {
				value = value[:len(value)-2] + unit[:1] + "iB"
				break
			}
		}
	}
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", value, err)
	}
	return int64(n), nil
}

func filterMultiply(value string, args []string) (string, error) {
	if len(args) == 0 {
		return value, nil
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return "", fmt.Errorf("invalid number %q", value)
	}
	factor, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return "", fmt.Errorf("invalid factor %q", args[0])
	}
	return strconv.FormatFloat(n*factor, 'f', -1, 64), nil
}
