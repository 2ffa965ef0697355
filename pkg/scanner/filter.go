package scanner

import (
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// Filter decides which paths the scanner visits. It is independent of the
// traversal so it can be exercised on its own.
type Filter struct {
	extensions map[string]struct{}
	dotfiles   []string
	ignore     *ignore.GitIgnore
}

// NewFilter builds a Filter from candidate extensions, dot-prefixed names
// that are still allowed, and optional gitignore-style exclusion lines.
func NewFilter(extensions, allowedDotfiles, ignoreLines []string) *Filter {
	f := &Filter{
		extensions: make(map[string]struct{}, len(extensions)),
		dotfiles:   allowedDotfiles,
	}
	for _, ext := range extensions {
		f.extensions[strings.ToLower(ext)] = struct{}{}
	}
	if len(ignoreLines) > 0 {
		f.ignore = ignore.CompileIgnoreLines(ignoreLines...)
	}
	return f
}

// LoadIgnoreFile reads gitignore-style lines from path. A missing file yields
// no lines.
func LoadIgnoreFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return strings.Split(string(data), "\n"), nil
}

// Include reports whether relPath, relative to the scan root, should be
// visited. For directories this means descending into it.
func (f *Filter) Include(relPath string, isDir bool) bool {
	if relPath == "." || relPath == "" {
		return true
	}
	name := filepath.Base(relPath)

	if f.ignore != nil {
		slashed := filepath.ToSlash(relPath)
		if f.ignore.MatchesPath(slashed) || (isDir && f.ignore.MatchesPath(slashed+"/")) {
			return false
		}
	}

	if isDir {
		return !strings.HasPrefix(name, ".") || f.allowedDotfile(name)
	}

	if f.allowedDotfile(name) {
		return true
	}
	_, ok := f.extensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

func (f *Filter) allowedDotfile(name string) bool {
	for _, d := range f.dotfiles {
		if name == d || strings.HasPrefix(name, d+".") {
			return true
		}
	}
	return false
}
