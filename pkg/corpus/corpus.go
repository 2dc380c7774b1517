/*
Package corpus stores the per-language vocabularies that back code completion.

A Corpus is built once from a language resource (keywords, builtin functions,
types, constants) and indexed by a prefix trie. Once built it is never mutated,
which lets the Store hand the same value to any number of readers.

The Store loads corpora lazily from a Source, shares in-flight loads between
concurrent callers, and evicts the least recently used corpora when the
estimated memory held by the cache goes over budget:

	store := corpus.NewStore(corpus.Layered{corpus.NewDirSource(dir), corpus.Builtin()}, corpus.DefaultOptions())
	store.PreloadCommon(ctx)
	c := store.GetCorpus("cpp") // never blocks, empty until the load lands

Resources are decoded by file extension, see formats.go.
*/
package corpus

import (
	"strings"
)

// Kind classifies a corpus entry.
type Kind uint8

const (
	KindKeyword Kind = iota
	KindFunction
	KindType
	KindConstant
	KindVariable
)

var kindNames = [...]string{
	KindKeyword:  "keyword",
	KindFunction: "function",
	KindType:     "type",
	KindConstant: "constant",
	KindVariable: "variable",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// ParseKind maps a resource "type" field to a Kind.
func ParseKind(s string) (Kind, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range kindNames {
		if name == s {
			return Kind(i), true
		}
	}
	return KindKeyword, false
}

// Entry is one completion candidate of a language vocabulary.
type Entry struct {
	Text        string
	Kind        Kind
	Description string
	Category    string
}

// Corpus is the vocabulary of one language plus its prefix index.
type Corpus struct {
	Language string
	Entries  []Entry

	trie  *Trie
	lower []string
}

// New builds a corpus. Entries whose lowercased text was already seen are
// dropped, so every indexed key maps to exactly one entry.
func New(language string, entries []Entry) *Corpus {
	trie, kept := buildTrie(entries)
	lower := make([]string, len(kept))
	for i, e := range kept {
		lower[i] = strings.ToLower(e.Text)
	}
	return &Corpus{
		Language: language,
		Entries:  kept,
		trie:     trie,
		lower:    lower,
	}
}

// Empty returns a corpus without entries. Searching it always yields nothing.
func Empty(language string) *Corpus {
	return &Corpus{Language: language, trie: emptyTrie()}
}

// Len returns the number of entries.
func (c *Corpus) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Entries)
}

// IsEmpty reports whether the corpus has no entries.
func (c *Corpus) IsEmpty() bool {
	return c.Len() == 0
}

// Trie returns the prefix index. It is never nil.
func (c *Corpus) Trie() *Trie {
	if c == nil || c.trie == nil {
		return emptyTrie()
	}
	return c.trie
}

// LowerText returns the lowercased text of entry i.
func (c *Corpus) LowerText(i int) string {
	return c.lower[i]
}

// MemoryEstimate returns textBytes + nodes*nodeOverhead.
func (c *Corpus) MemoryEstimate(nodeOverhead int64) int64 {
	t := c.Trie()
	return int64(t.textBytes) + int64(t.nodes)*nodeOverhead
}
