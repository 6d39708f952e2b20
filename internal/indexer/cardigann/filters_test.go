package cardigann

import (
	"testing"
	"time"
)

func TestApplyFilters(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		filters []Filter
		want    string
		wantErr bool
	}{
		{name: "no filters", value: "hello", want: "hello"},
		{
			name:    "chained",
			value:   "  Hello World  ",
			filters: []Filter{{Name: "trim"}, {Name: "tolower"}, {Name: "replace", Args: []interface{}{"world", "there"}}},
			want:    "hello there",
		},
		{name: "unknown filter skipped", value: "x", filters: []Filter{{Name: "nope"}}, want: "x"},
		{name: "split negative index", value: "a/b/c", filters: []Filter{{Name: "split", Args: []interface{}{"/", -1}}}, want: "c"},
		{name: "split out of range", value: "a/b", filters: []Filter{{Name: "split", Args: []interface{}{"/", 5}}}, want: ""},
		{name: "regexp group", value: "Size: 1.5 GB", filters: []Filter{{Name: "regexp", Args: `([\d.]+ GB)`}}, want: "1.5 GB"},
		{name: "regexp no match", value: "abc", filters: []Filter{{Name: "regexp", Args: `(\d+)`}}, want: ""},
		{name: "re_replace", value: "a1b22c", filters: []Filter{{Name: "re_replace", Args: []interface{}{`\d+`, "-"}}}, want: "a-b-c"},
		{name: "invalid pattern", value: "a", filters: []Filter{{Name: "re_replace", Args: []interface{}{`(`, ""}}}, wantErr: true},
		{name: "querystring", value: "/download.php?id=42&name=x", filters: []Filter{{Name: "querystring", Args: "id"}}, want: "42"},
		{name: "urldecode", value: "a%20b", filters: []Filter{{Name: "urldecode"}}, want: "a b"},
		{name: "htmldecode", value: "Tom &amp; Jerry", filters: []Filter{{Name: "htmldecode"}}, want: "Tom & Jerry"},
		{name: "striptags", value: "<b>bold</b> text", filters: []Filter{{Name: "striptags"}}, want: "bold text"},
		{name: "normalize", value: " a \n\t b ", filters: []Filter{{Name: "normalize"}}, want: "a b"},
		{name: "validate", value: "1080p, x264, Foo", filters: []Filter{{Name: "validate", Args: "1080p,x264"}}, want: "1080p,x264"},
		{name: "multiply", value: "1.5", filters: []Filter{{Name: "multiply", Args: 2}}, want: "3"},
		{name: "prepend and append", value: "b", filters: []Filter{{Name: "prepend", Args: "a"}, {Name: "append", Args: "c"}}, want: "abc"},
		{name: "size", value: "1.5 GB", filters: []Filter{{Name: "size"}}, want: "1610612736"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ApplyFilters(tt.value, tt.filters, nil, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ApplyFilters() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ApplyFilters() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestApplyFilters_TemplateArgs(t *testing.T) {
	engine := NewTemplateEngine()
	ctx := NewTemplateContext()
	ctx.Config["sitelink"] = "https://site.example/"

	got, err := ApplyFilters("details.php?id=1", []Filter{{Name: "prepend", Args: "{{ .Config.sitelink }}"}}, engine, ctx)
	if err != nil {
		t.Fatalf("ApplyFilters() error = %v", err)
	}
	if got != "https://site.example/details.php?id=1" {
		t.Errorf("ApplyFilters() = %q", got)
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		value   string
		want    int64
		wantErr bool
	}{
		{value: "", want: 0},
		{value: "100", want: 100},
		{value: "1,024", want: 1024},
		{value: "1 KB", want: 1024},
		{value: "5 MB", want: 5 << 20},
		{value: "2 GB", want: 2 << 30},
		{value: "1.5 GiB", want: 3 << 29},
		{value: "700 mb", want: 700 << 20},
		{value: "1 TB", want: 1 << 40},
		{value: "lots", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := parseSize(tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseSize() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseSize() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseTimeAgo(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		value string
		want  time.Time
		ok    bool
	}{
		{"today", now, true},
		{"Yesterday", now.AddDate(0, 0, -1), true},
		{"2 hours ago", now.Add(-2 * time.Hour), true},
		{"1 day ago", now.AddDate(0, 0, -1), true},
		{"3 weeks ago", now.AddDate(0, 0, -21), true},
		{"5 mins ago", now.Add(-5 * time.Minute), true},
		{"1 year ago", now.AddDate(-1, 0, 0), true},
		{"2024-01-01", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, ok := parseTimeAgo(tt.value, now)
			if ok != tt.ok {
				t.Fatalf("parseTimeAgo() ok = %v, want %v", ok, tt.ok)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("parseTimeAgo() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterDateParse(t *testing.T) {
	tests := []struct {
		name  string
		value string
		args  []string
		want  string
	}{
		{"go layout", "15/06/2024", []string{"02/01/2006"}, "2024-06-15T00:00:00Z"},
		{"token layout", "2024.06.15 10:30", []string{"yyyy.MM.dd HH:mm"}, "2024-06-15T10:30:00Z"},
		{"fallback layout", "2024-06-15 10:30:00", nil, "2024-06-15T10:30:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := filterDateParse(tt.value, tt.args)
			if err != nil {
				t.Fatalf("filterDateParse() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("filterDateParse() = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := filterDateParse("not a date", nil); err == nil {
		t.Error("expected an error for an unrecognized date")
	}
}
