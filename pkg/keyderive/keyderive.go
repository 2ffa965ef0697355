// Package keyderive turns a detection's file and identifier into the key it
// is stored under.
package keyderive

import (
	"path/filepath"
	"regexp"
	"strings"
)

var (
	suffixRgx  = regexp.MustCompile(`(?i)[_-]?(key|secret|token|password)$`)
	illegalRgx = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
)

// Derive returns "<dir>_<file>_<identifier>" where dir is the base name of
// the file's parent directory. Characters outside [A-Za-z0-9_-] become "_",
// the identifier first loses one trailing key/secret/token/password suffix and
// is lowercased last. The result is deterministic for equal inputs.
func Derive(filePath, identifier string) string {
	dir := filepath.Base(filepath.Dir(filePath))
	if dir == "." || dir == string(filepath.Separator) {
		dir = "root"
	}
	file := filepath.Base(filePath)

	return sanitize(dir) + "_" + sanitize(file) + "_" + CleanIdentifier(identifier)
}

// CleanIdentifier applies the identifier part of Derive on its own. When the
// suffix is the whole identifier, the suffix is kept.
func CleanIdentifier(identifier string) string {
	cleaned := identifier
	if stripped := suffixRgx.ReplaceAllString(identifier, ""); stripped != "" {
		cleaned = stripped
	}
	return strings.ToLower(sanitize(cleaned))
}

func sanitize(s string) string {
	return illegalRgx.ReplaceAllString(s, "_")
}
