package corpus

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"
)

//go:embed builtin/*.json
var builtinFS embed.FS

var languageID = regexp.MustCompile(`^[a-z0-9][a-z0-9_+#-]*$`)

// ValidLanguage reports whether id can name a corpus resource.
func ValidLanguage(id string) bool {
	return languageID.MatchString(id)
}

// Source provides raw corpus resources by language id.
type Source interface {
	// Read returns the resource bytes for language and their encoding.
	// It returns an error wrapping ErrNotFound when there is none.
	Read(language string) ([]byte, Format, error)
	// Languages lists every language the source can provide.
	Languages() ([]string, error)
}

// FSSource reads `<language>.<ext>` files from a directory of an fs.FS.
type FSSource struct {
	name string
	fsys fs.FS
	dir  string
}

// NewFSSource creates a source over dir in fsys.
func NewFSSource(name string, fsys fs.FS, dir string) *FSSource {
	if dir == "" {
		dir = "."
	}
	return &FSSource{name: name, fsys: fsys, dir: dir}
}

// NewDirSource creates a source over a directory on disk.
func NewDirSource(dir string) *FSSource {
	return NewFSSource(dir, os.DirFS(dir), ".")
}

// Builtin returns the corpora compiled into the binary.
func Builtin() *FSSource {
	return NewFSSource("builtin", builtinFS, "builtin")
}

func (s *FSSource) String() string {
	return s.name
}

func (s *FSSource) Read(language string) ([]byte, Format, error) {
	if !ValidLanguage(language) {
		return nil, FormatUnknown, fmt.Errorf("%w: invalid language id %q", ErrNotFound, language)
	}

	for _, f := range formatOrder {
		for _, ext := range supportedFormats[f].Extensions {
			name := path.Join(s.dir, language+ext)
			data, err := fs.ReadFile(s.fsys, name)
			if err == nil {
				return data, f, nil
			}
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, FormatUnknown, fmt.Errorf("failed to read %s from %s: %w", name, s.name, err)
		}
	}
	return nil, FormatUnknown, fmt.Errorf("%w: %s in %s", ErrNotFound, language, s.name)
}

func (s *FSSource) Languages() ([]string, error) {
	entries, err := fs.ReadDir(s.fsys, s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", s.name, err)
	}

	seen := make(map[string]struct{})
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if lang, ok := languageFromFile(e.Name()); ok {
			seen[lang] = struct{}{}
		}
	}
	return sortedKeys(seen), nil
}

// languageFromFile maps "cpp.json" to "cpp".
func languageFromFile(name string) (string, bool) {
	if _, _, err := DetectFormat(name); err != nil {
		return "", false
	}
	lang := strings.TrimSuffix(name, path.Ext(name))
	if !ValidLanguage(lang) {
		return "", false
	}
	return lang, true
}

// Layered tries each source in order; the first one holding a language wins.
type Layered []Source

func (l Layered) Read(language string) ([]byte, Format, error) {
	for _, src := range l {
		data, format, err := src.Read(language)
		if err == nil {
			return data, format, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, FormatUnknown, err
		}
	}
	return nil, FormatUnknown, fmt.Errorf("%w: %s", ErrNotFound, language)
}

func (l Layered) Languages() ([]string, error) {
	seen := make(map[string]struct{})
	var errs []error
	for _, src := range l {
		langs, err := src.Languages()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, lang := range langs {
			seen[lang] = struct{}{}
		}
	}
	return sortedKeys(seen), errors.Join(errs...)
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
