// Package patterns compiles the configured secret types into a registry and
// matches them against file content.
package patterns

import (
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/doodlesbykumbi/vaultsweep/pkg/config"
	"github.com/doodlesbykumbi/vaultsweep/pkg/reference"
)

// Descriptor is one compiled matching rule.
type Descriptor struct {
	Regex           *regexp.Regexp
	IdentifierGroup int
	ValueGroup      int
}

// SecretPattern is the compiled form of one configured secret type.
type SecretPattern struct {
	Type        string
	Descriptors []Descriptor
	// Subpath is appended to the store root; it defaults to Type.
	Subpath string
}

// Match is a single regex hit in some content. Offsets are byte offsets.
type Match struct {
	Type       string
	Subpath    string
	Identifier string
	Value      string
	Start      int
	End        int
	ValueStart int
	ValueEnd   int
}

// Registry holds every secret type for a run. It is not modified after Load.
type Registry struct {
	patterns []SecretPattern
}

// Load compiles the secret patterns of cfg.
func Load(cfg *config.Config) (*Registry, error) {
	return New(cfg.SecretPatterns)
}

// New compiles a type to pattern mapping.
func New(types map[string]config.PatternConfig) (*Registry, error) {
	if len(types) == 0 {
		return nil, &config.Error{Field: "secret_patterns", Err: errors.New("at least one secret type is required")}
	}

	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	sort.Strings(names)

	r := &Registry{}
	for _, name := range names {
		pc := types[name]
		if len(pc.Patterns) == 0 {
			return nil, &config.Error{Field: "secret_patterns." + name, Err: errors.New("patterns are required")}
		}

		sp := SecretPattern{Type: name, Subpath: pc.VaultPath}
		if sp.Subpath == "" {
			sp.Subpath = name
		}
		for i, entry := range pc.Patterns {
			field := fmt.Sprintf("secret_patterns.%s.patterns[%d]", name, i)
			rgx, err := regexp.Compile(entry.Regex)
			if err != nil {
				return nil, &config.Error{Field: field, Err: err}
			}
			d := Descriptor{
				Regex:           rgx,
				IdentifierGroup: entry.IdentifierGroup,
				ValueGroup:      entry.ValueGroup,
			}
			if d.IdentifierGroup < 0 || d.ValueGroup < 0 {
				return nil, &config.Error{Field: field, Err: errors.New("capture group indexes must not be negative")}
			}
			if err := checkGroup(rgx, "identifier_group", d.IdentifierGroup, entry.IdentifierDefaulted); err != nil {
				return nil, &config.Error{Field: field, Err: err}
			}
			if err := checkGroup(rgx, "value_group", d.ValueGroup, entry.ValueDefaulted); err != nil {
				return nil, &config.Error{Field: field, Err: err}
			}
			sp.Descriptors = append(sp.Descriptors, d)
		}
		r.patterns = append(r.patterns, sp)
	}
	return r, nil
}

// checkGroup rejects an explicit group index the regex does not have.
func checkGroup(rgx *regexp.Regexp, name string, n int, defaulted bool) error {
	if defaulted || n <= rgx.NumSubexp() {
		return nil
	}
	return fmt.Errorf("%s %d exceeds the %d capture groups of the regex", name, n, rgx.NumSubexp())
}

// Types returns the secret type names in sorted order.
func (r *Registry) Types() []string {
	names := make([]string, len(r.patterns))
	for i, p := range r.patterns {
		names[i] = p.Type
	}
	return names
}

// Get returns the pattern for a type.
func (r *Registry) Get(typ string) (SecretPattern, bool) {
	for _, p := range r.patterns {
		if p.Type == typ {
			return p, true
		}
	}
	return SecretPattern{}, false
}

// Match applies every descriptor to content. Each descriptor finds all
// non-overlapping matches independently. Results are ordered by type, then
// descriptor, then offset. A value that overlaps a reference token has
// already been replaced and is not reported.
func (r *Registry) Match(content []byte) []Match {
	tokens := reference.DecodeAll(content)

	var matches []Match
	for _, p := range r.patterns {
		for _, d := range p.Descriptors {
			for _, loc := range d.Regex.FindAllSubmatchIndex(content, -1) {
				m := d.match(p, content, loc)
				if overlapsToken(tokens, m.ValueStart, m.ValueEnd) {
					continue
				}
				matches = append(matches, m)
			}
		}
	}
	return matches
}

func overlapsToken(tokens []reference.Token, start, end int) bool {
	for _, t := range tokens {
		if start < t.End && t.Start < end {
			return true
		}
	}
	return false
}

func (d Descriptor) match(p SecretPattern, content []byte, loc []int) Match {
	m := Match{
		Type:       p.Type,
		Subpath:    p.Subpath,
		Start:      loc[0],
		End:        loc[1],
		ValueStart: loc[0],
		ValueEnd:   loc[1],
		Identifier: p.Type,
	}
	if start, end, ok := group(loc, d.IdentifierGroup); ok && end > start {
		m.Identifier = string(content[start:end])
	}
	if start, end, ok := group(loc, d.ValueGroup); ok && end > start {
		m.ValueStart, m.ValueEnd = start, end
	}
	m.Value = string(content[m.ValueStart:m.ValueEnd])
	return m
}

// group returns the span of capture group n, if it exists and participated.
func group(loc []int, n int) (int, int, bool) {
	if n <= 0 || 2*n+1 >= len(loc) {
		return 0, 0, false
	}
	start, end := loc[2*n], loc[2*n+1]
	if start < 0 {
		return 0, 0, false
	}
	return start, end, true
}
