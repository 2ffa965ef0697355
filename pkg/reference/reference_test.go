package reference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	tok, err := Encode("secret/windsurf-projects/myproj/api_key", "config__env_api")
	require.NoError(t, err)
	assert.Equal(t, "{{vault:secret/windsurf-projects/myproj/api_key:config__env_api}}", tok)
}

func TestEncodeInvalid(t *testing.T) {
	tests := []struct {
		name string
		path string
		key  string
	}{
		{"empty path", "", "k"},
		{"empty key", "p", ""},
		{"colon in path", "a:b", "k"},
		{"brace in path", "a}b", "k"},
		{"brace in key", "p", "k}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.path, tt.key)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestDecode(t *testing.T) {
	content := []byte("A={{vault:secret/p:one}}\nB=plain\nC={{vault:secret/q:two}}")

	tokens := DecodeAll(content)
	require.Len(t, tokens, 2)

	assert.Equal(t, "secret/p", tokens[0].Path)
	assert.Equal(t, "one", tokens[0].Key)
	assert.Equal(t, "{{vault:secret/p:one}}", string(content[tokens[0].Start:tokens[0].End]))

	assert.Equal(t, "secret/q", tokens[1].Path)
	assert.Equal(t, "two", tokens[1].Key)
	assert.Equal(t, "{{vault:secret/q:two}}", string(content[tokens[1].Start:tokens[1].End]))
}

func TestDecodeRejectsMalformed(t *testing.T) {
	for _, content := range []string{
		"{{vault:nokey}}",
		"{{vault::k}}",
		"{{vault:p:}}",
		"{vault:p:k}",
		"{{vault:p}x:k}}",
	} {
		assert.Empty(t, DecodeAll([]byte(content)), content)
	}
}

func TestDecodeRestartable(t *testing.T) {
	seq := Decode([]byte("{{vault:a:b}} {{vault:c:d}}"))

	var first, second []Token
	for tok := range seq {
		first = append(first, tok)
	}
	for tok := range seq {
		second = append(second, tok)
	}
	assert.Equal(t, first, second)
	assert.Len(t, first, 2)
}

func TestDecodeStopsEarly(t *testing.T) {
	n := 0
	for range Decode([]byte("{{vault:a:b}}{{vault:c:d}}{{vault:e:f}}")) {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestRoundTrip(t *testing.T) {
	pairs := [][2]string{
		{"secret/windsurf-projects/myproj/api_key", "config__env_api"},
		{"kv/a/b/c", "key:with:colons"},
		{"x", "y"},
	}
	for _, pair := range pairs {
		tok, err := Encode(pair[0], pair[1])
		require.NoError(t, err)

		decoded := DecodeAll([]byte(tok))
		require.Len(t, decoded, 1)
		assert.Equal(t, pair[0], decoded[0].Path)
		assert.Equal(t, pair[1], decoded[0].Key)
		assert.Equal(t, tok, decoded[0].String())
	}
}
