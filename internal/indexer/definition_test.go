package indexer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const definitionsYAML = `
indexers:
  - id: 1
    name: Local Torznab
    type: torznab
    baseUrls: ["http://localhost:9117/api/v2.0/indexers/x/results/torznab/"]
    apiKey: keyring:jackett/x
    categories:
      - {native: "2000", standard: 2000}
      - {native: "5000", standard: 5000}
    limits: {maxPages: 2, timeout: 10s}
  - id: 2
    name: Disabled
    type: rss
    enabled: false
    protocol: usenet
    capabilities:
      search: [q]
`

func TestParseDefinitions(t *testing.T) {
	defs, err := ParseDefinitions([]byte(definitionsYAML))
	require.NoError(t, err)
	require.Len(t, defs, 2)

	assert.True(t, defs[0].IsEnabled())
	assert.False(t, defs[1].IsEnabled())
	assert.Equal(t, "keyring:jackett/x", defs[0].APIKey)
	assert.Equal(t, 10*time.Second, defs[0].Limits.Timeout)

	desc := defs[0].Descriptor(BackendDescriptor{Limits: Limits{MaxPages: 5, MaxResults: 100}})
	assert.Equal(t, "http://localhost:9117/api/v2.0/indexers/x/results/torznab", desc.BaseURLs[0])
	assert.Equal(t, ProtocolTorrent, desc.Protocol)
	assert.Equal(t, PrivacyPublic, desc.Privacy)
	assert.Equal(t, 2, desc.Limits.MaxPages)
	assert.Equal(t, 100, desc.Limits.MaxResults)
	assert.Equal(t, []int{2000, 5000}, desc.Capabilities.Categories)

	rss := defs[1].Descriptor(BackendDescriptor{})
	assert.Equal(t, ProtocolUsenet, rss.Protocol)
	assert.Equal(t, []string{ParamQ}, rss.Capabilities.Kinds[KindSearch])
}

func TestParseDefinitions_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"not yaml", "indexers: [::"},
		{"missing id", "indexers: [{name: a, type: mock}]"},
		{"missing name", "indexers: [{id: 1, type: mock}]"},
		{"missing type", "indexers: [{id: 1, name: a}]"},
		{"bad protocol", "indexers: [{id: 1, name: a, type: mock, protocol: ftp}]"},
		{"bad kind", "indexers: [{id: 1, name: a, type: mock, capabilities: {radio: [q]}}]"},
		{"duplicate id", "indexers: [{id: 1, name: a, type: mock}, {id: 1, name: b, type: mock}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDefinitions([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadDefinitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backends.yaml")
	require.NoError(t, os.WriteFile(path, []byte(definitionsYAML), 0o600))

	defs, err := LoadDefinitions(path)
	require.NoError(t, err)
	assert.Len(t, defs, 2)

	_, err = LoadDefinitions(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFactories(t *testing.T) {
	RegisterFactory("test-factory", func(Definition, FactoryOptions) (Backend, error) { return nil, nil })
	_, ok := LookupFactory("test-factory")
	assert.True(t, ok)
	_, ok = LookupFactory("nope")
	assert.False(t, ok)
	assert.Contains(t, FactoryTypes(), "test-factory")
}
