package corpus

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"
)

var (
	// ErrNotFound is returned when no resource exists for a language.
	ErrNotFound = errors.New("corpus resource not found")
	// ErrMalformed is returned when a resource cannot be decoded.
	ErrMalformed = errors.New("malformed corpus resource")
	// ErrLanguageMismatch is returned when a resource declares another language.
	// It wraps ErrMalformed.
	ErrLanguageMismatch = fmt.Errorf("%w: language mismatch", ErrMalformed)
	// ErrUnknownFormat is returned for files whose extension has no decoder.
	ErrUnknownFormat = errors.New("unknown corpus format")
)

// Format identifies a resource encoding.
type Format int

const (
	FormatUnknown Format = iota
	FormatJSON
	FormatYAML
	FormatTOML
	FormatMsgpack
)

// FormatInfo describes one supported resource encoding.
type FormatInfo struct {
	Format      Format
	Description string
	Extensions  []string
}

// formatOrder is the lookup order when a language exists in several encodings.
var formatOrder = []Format{FormatMsgpack, FormatJSON, FormatYAML, FormatTOML}

var supportedFormats = map[Format]FormatInfo{
	FormatJSON: {
		Format:      FormatJSON,
		Description: "JSON corpus",
		Extensions:  []string{".json"},
	},
	FormatYAML: {
		Format:      FormatYAML,
		Description: "YAML corpus",
		Extensions:  []string{".yaml", ".yml"},
	},
	FormatTOML: {
		Format:      FormatTOML,
		Description: "TOML corpus",
		Extensions:  []string{".toml"},
	},
	FormatMsgpack: {
		Format:      FormatMsgpack,
		Description: "MessagePack corpus",
		Extensions:  []string{".msgpack", ".mpk"},
	},
}

func (f Format) String() string {
	if info, ok := supportedFormats[f]; ok {
		return info.Description
	}
	return "unknown"
}

// Resource is the on-disk shape of a language corpus.
type Resource struct {
	Language string          `json:"language" yaml:"language" toml:"language" msgpack:"language"`
	Entries  []ResourceEntry `json:"entries" yaml:"entries" toml:"entries" msgpack:"entries"`
}

// ResourceEntry is one entry as written in a resource file.
type ResourceEntry struct {
	Text        string `json:"text" yaml:"text" toml:"text" msgpack:"text"`
	Type        string `json:"type" yaml:"type" toml:"type" msgpack:"type"`
	Description string `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty" msgpack:"description,omitempty"`
	Category    string `json:"category,omitempty" yaml:"category,omitempty" toml:"category,omitempty" msgpack:"category,omitempty"`
}

// DetectFormat returns the format matching the extension of name.
func DetectFormat(name string) (Format, string, error) {
	ext := strings.ToLower(path.Ext(name))
	for _, f := range formatOrder {
		for _, e := range supportedFormats[f].Extensions {
			if e == ext {
				return f, ext, nil
			}
		}
	}
	return FormatUnknown, ext, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// ListSupportedFormats returns all supported formats in lookup order.
func ListSupportedFormats() []FormatInfo {
	formats := make([]FormatInfo, 0, len(formatOrder))
	for _, f := range formatOrder {
		formats = append(formats, supportedFormats[f])
	}
	return formats
}

// Decode parses raw resource bytes.
func Decode(data []byte, format Format) (*Resource, error) {
	var res Resource
	var err error

	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &res)
	case FormatYAML:
		err = yaml.Unmarshal(data, &res)
	case FormatTOML:
		_, err = toml.Decode(string(data), &res)
	case FormatMsgpack:
		err = msgpack.Unmarshal(data, &res)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &res, nil
}

// Encode writes a resource in the given format.
func Encode(res *Resource, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(res, "", "  ")
	case FormatYAML:
		return yaml.Marshal(res)
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(res); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatMsgpack:
		return msgpack.Marshal(res)
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, format)
}

// ToResource converts a corpus back into its file shape, keeping entry order.
func ToResource(c *Corpus) *Resource {
	res := &Resource{Language: c.Language, Entries: make([]ResourceEntry, 0, c.Len())}
	for _, e := range c.Entries {
		res.Entries = append(res.Entries, ResourceEntry{
			Text:        e.Text,
			Type:        e.Kind.String(),
			Description: e.Description,
			Category:    e.Category,
		})
	}
	return res
}

// Parse decodes data and builds the corpus for language.
// A resource naming a different language is rejected. Entries without text
// are skipped and unknown types fall back to keyword.
func Parse(data []byte, format Format, language string) (*Corpus, error) {
	res, err := Decode(data, format)
	if err != nil {
		return nil, err
	}
	if res.Language != "" && !strings.EqualFold(res.Language, language) {
		return nil, fmt.Errorf("%w: resource declares %q, expected %q", ErrLanguageMismatch, res.Language, language)
	}
	return fromResource(language, res), nil
}

func fromResource(language string, res *Resource) *Corpus {
	entries := make([]Entry, 0, len(res.Entries))
	skipped := 0
	for _, re := range res.Entries {
		text := strings.TrimSpace(re.Text)
		if text == "" {
			skipped++
			continue
		}
		kind, ok := ParseKind(re.Type)
		if !ok && re.Type != "" {
			log.Debugf("Unknown entry type %q for %q in %s, using keyword", re.Type, text, language)
		}
		entries = append(entries, Entry{
			Text:        text,
			Kind:        kind,
			Description: re.Description,
			Category:    re.Category,
		})
	}
	if skipped > 0 {
		log.Warnf("Skipped %d entries without text in %s corpus", skipped, language)
	}
	return New(language, entries)
}
