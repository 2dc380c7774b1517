package corpus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jsonCorpus = `{
  "language": "c",
  "entries": [
    {"text": "printf", "type": "function", "description": "formatted output"},
    {"text": "int", "type": "keyword"},
    {"text": "", "type": "keyword"},
    {"text": "size_t", "type": "macro"}
  ]
}`

const yamlCorpus = `language: c
entries:
  - text: printf
    type: function
  - text: int
    type: keyword
`

const tomlCorpus = `language = "c"

[[entries]]
text = "printf"
type = "function"

[[entries]]
text = "int"
type = "keyword"
`

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		ok     bool
	}{
		{"c.json", FormatJSON, true},
		{"cpp.YAML", FormatYAML, true},
		{"go.yml", FormatYAML, true},
		{"rust.toml", FormatTOML, true},
		{"python.msgpack", FormatMsgpack, true},
		{"python.mpk", FormatMsgpack, true},
		{"notes.txt", FormatUnknown, false},
		{"README", FormatUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, _, err := DetectFormat(tt.name)
			assert.Equal(t, tt.format, f)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrUnknownFormat)
			}
		})
	}
}

func TestParseFormats(t *testing.T) {
	packed, err := Encode(&Resource{
		Language: "c",
		Entries: []ResourceEntry{
			{Text: "printf", Type: "function"},
			{Text: "int", Type: "keyword"},
		},
	}, FormatMsgpack)
	require.NoError(t, err)

	tests := []struct {
		name   string
		data   []byte
		format Format
	}{
		{"json", []byte(jsonCorpus), FormatJSON},
		{"yaml", []byte(yamlCorpus), FormatYAML},
		{"toml", []byte(tomlCorpus), FormatTOML},
		{"msgpack", packed, FormatMsgpack},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Parse(tt.data, tt.format, "c")
			require.NoError(t, err)
			assert.Equal(t, "c", c.Language)

			found := c.Trie().FindByPrefix("pri", 10)
			require.Len(t, found, 1)
			assert.Equal(t, "printf", found[0].Text)
			assert.Equal(t, KindFunction, found[0].Kind)
		})
	}
}

func TestParseSkipsEmptyTextAndDefaultsKind(t *testing.T) {
	c, err := Parse([]byte(jsonCorpus), FormatJSON, "c")
	require.NoError(t, err)

	assert.Equal(t, 3, c.Len())
	found := c.Trie().FindByPrefix("size", 1)
	require.Len(t, found, 1)
	assert.Equal(t, KindKeyword, found[0].Kind)
	assert.Equal(t, "formatted output", c.Entries[0].Description)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		format Format
		lang   string
		err    error
	}{
		{"truncated json", `{"language": "c", "entries": [`, FormatJSON, "c", ErrMalformed},
		{"wrong shape", `{"entries": "printf"}`, FormatJSON, "c", ErrMalformed},
		{"trailing json", `{"language": "c", "entries": [{"text": "printf", "type": "function"}]} }}garbage{{`, FormatJSON, "c", ErrMalformed},
		{"bad yaml", "language: c\nentries: [unclosed", FormatYAML, "c", ErrMalformed},
		{"bad toml", "entries = [[", FormatTOML, "c", ErrMalformed},
		{"language mismatch", jsonCorpus, FormatJSON, "rust", ErrLanguageMismatch},
		{"unknown format", jsonCorpus, FormatUnknown, "c", ErrUnknownFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Parse([]byte(tt.data), tt.format, tt.lang)
			assert.Nil(t, c)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	// mismatch is a kind of malformed
	_, err := Parse([]byte(jsonCorpus), FormatJSON, "rust")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestEncodeRoundTripsThroughParse(t *testing.T) {
	res := &Resource{Language: "go", Entries: []ResourceEntry{{Text: "defer", Type: "keyword"}}}
	for _, f := range []Format{FormatJSON, FormatYAML, FormatTOML} {
		data, err := Encode(res, f)
		require.NoError(t, err, f.String())
		c, err := Parse(data, f, "go")
		require.NoError(t, err, f.String())
		assert.Equal(t, 1, c.Len(), f.String())
	}
}
