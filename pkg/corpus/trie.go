package corpus

import (
	"errors"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/tchap/go-patricia/v2/patricia"
)

// errStopWalk ends a subtree visit once the visitor is satisfied.
var errStopWalk = errors.New("stop walk")

// Trie is a prefix index over lowercased entry texts.
// It is written only while building and is read-only afterwards.
type Trie struct {
	root      *patricia.Trie
	size      int
	nodes     int
	textBytes int
}

func emptyTrie() *Trie {
	return &Trie{root: patricia.NewTrie()}
}

// NewTrie indexes entries. Later entries colliding with an earlier one
// (case-insensitively) are skipped.
func NewTrie(entries []Entry) *Trie {
	t, _ := buildTrie(entries)
	return t
}

func buildTrie(entries []Entry) (*Trie, []Entry) {
	t := emptyTrie()
	kept := make([]Entry, 0, len(entries))
	keys := make([]string, 0, len(entries))

	for _, e := range entries {
		key := strings.ToLower(e.Text)
		if key == "" {
			continue
		}
		if !t.insert(key, e) {
			log.Debugf("Skipping duplicate corpus entry %q", e.Text)
			continue
		}
		kept = append(kept, e)
		keys = append(keys, key)
		t.textBytes += len(e.Text)
	}
	t.size = len(kept)
	t.nodes = countNodes(keys)
	return t, kept
}

// insert adds one path. Returns false if the key is already present.
func (t *Trie) insert(key string, e Entry) bool {
	return t.root.Insert(patricia.Prefix(key), e)
}

// Len returns the number of indexed entries.
func (t *Trie) Len() int {
	return t.size
}

// Nodes returns the node count of the equivalent one-character-per-node trie.
func (t *Trie) Nodes() int {
	return t.nodes
}

// FindByPrefix collects up to limit entries whose lowercased text starts with
// the lowercased prefix. Order is undefined. It is the bounded form of Walk;
// callers that must stop on their own condition, like the engine's latency
// budget, walk directly.
func (t *Trie) FindByPrefix(prefix string, limit int) []Entry {
	if limit <= 0 {
		return nil
	}
	results := make([]Entry, 0, min(limit, 16))
	t.Walk(prefix, func(_ string, e Entry) bool {
		results = append(results, e)
		return len(results) < limit
	})
	return results
}

// Walk visits every entry under prefix until visit returns false.
// The key passed to visit is the lowercased entry text.
// An empty prefix visits nothing.
func (t *Trie) Walk(prefix string, visit func(key string, e Entry) bool) {
	lower := strings.ToLower(prefix)
	if lower == "" || t.size == 0 {
		return
	}

	err := t.root.VisitSubtree(patricia.Prefix(lower), func(p patricia.Prefix, item patricia.Item) error {
		e, ok := item.(Entry)
		if !ok {
			log.Errorf("Unknown item type: %T for key %s", item, p)
			return nil
		}
		if !visit(string(p), e) {
			return errStopWalk
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		log.Errorf("Error visiting trie subtree: %v", err)
	}
}

// countNodes sizes the uncompressed character trie holding keys:
// after sorting, each key adds the characters it does not share with its
// predecessor.
func countNodes(keys []string) int {
	if len(keys) == 0 {
		return 0
	}
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)

	nodes := 0
	prev := ""
	for _, k := range sorted {
		nodes += len(k) - commonPrefixLen(prev, k)
		prev = k
	}
	return nodes
}

func commonPrefixLen(a, b string) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}
