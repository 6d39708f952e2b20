package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", secretFileName)

	first, created, err := loadOrCreateSecret(path)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, first, 64)

	again, created, err := loadOrCreateSecret(path)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, again, "the secret survives restarts")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadOrCreateSecret_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), secretFileName)
	require.NoError(t, os.WriteFile(path, []byte("\n"), 0o600))

	secret, created, err := loadOrCreateSecret(path)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, secret)
}
