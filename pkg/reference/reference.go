// Package reference encodes and decodes the {{vault:<path>:<key>}} tokens
// that stand in for secret values in rewritten files.
package reference

import (
	"errors"
	"fmt"
	"iter"
	"regexp"
	"strings"
)

const (
	prefix = "{{vault:"
	suffix = "}}"
)

var tokenRgx = regexp.MustCompile(`\{\{vault:([^:}]+):([^}]+)\}\}`)

// ErrInvalid is returned by Encode for a path or key that cannot be
// represented in a token.
var ErrInvalid = errors.New("invalid reference")

// Token is a decoded reference and the byte span it occupies in the content.
type Token struct {
	Path  string
	Key   string
	Start int
	End   int
}

// String re-encodes the token.
func (t Token) String() string {
	return prefix + t.Path + ":" + t.Key + suffix
}

// Encode returns the token for path and key. The path must not contain ':'
// or '}' and the key must not contain '}'.
func Encode(path, key string) (string, error) {
	switch {
	case path == "" || key == "":
		return "", fmt.Errorf("%w: path and key are required", ErrInvalid)
	case strings.ContainsAny(path, ":}"):
		return "", fmt.Errorf("%w: path %q contains ':' or '}'", ErrInvalid, path)
	case strings.Contains(key, "}"):
		return "", fmt.Errorf("%w: key %q contains '}'", ErrInvalid, key)
	}
	return prefix + path + ":" + key + suffix, nil
}

// Decode yields every well-formed token in content in order of appearance.
// Malformed tokens are skipped. The sequence can be ranged over repeatedly
// and yields the same tokens each time.
func Decode(content []byte) iter.Seq[Token] {
	return func(yield func(Token) bool) {
		offset := 0
		for offset < len(content) {
			loc := tokenRgx.FindSubmatchIndex(content[offset:])
			if loc == nil {
				return
			}
			tok := Token{
				Path:  string(content[offset+loc[2] : offset+loc[3]]),
				Key:   string(content[offset+loc[4] : offset+loc[5]]),
				Start: offset + loc[0],
				End:   offset + loc[1],
			}
			if !yield(tok) {
				return
			}
			offset = tok.End
		}
	}
}

// DecodeAll collects Decode into a slice.
func DecodeAll(content []byte) []Token {
	var tokens []Token
	for tok := range Decode(content) {
		tokens = append(tokens, tok)
	}
	return tokens
}
