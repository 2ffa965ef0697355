package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doodlesbykumbi/vaultsweep/pkg/config"
)

func TestFilterInclude(t *testing.T) {
	f := NewFilter(config.DefaultCandidateExtensions, config.DefaultAllowedDotfiles, []string{"fixtures/", "*.secret.json"})

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{".", true, true},
		{"config", true, true},
		{".git", true, false},
		{".windsurf", true, false},
		{"fixtures", true, false},
		{"config/.env", false, true},
		{".env.local", false, true},
		{".envrc", false, false},
		{"app.JSON", false, true},
		{"main.go", false, true},
		{"README.md", false, false},
		{"Makefile", false, false},
		{"keys.secret.json", false, false},
		{"config/settings.yml", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, f.Include(tt.path, tt.isDir))
		})
	}
}

func TestLoadIgnoreFile(t *testing.T) {
	dir := t.TempDir()

	lines, err := LoadIgnoreFile(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Nil(t, lines)

	path := filepath.Join(dir, ".secretignore")
	require.NoError(t, os.WriteFile(path, []byte("vendor/\n*.bak\n"), 0o644))
	lines, err = LoadIgnoreFile(path)
	require.NoError(t, err)
	assert.Contains(t, lines, "vendor/")
	assert.Contains(t, lines, "*.bak")
}
