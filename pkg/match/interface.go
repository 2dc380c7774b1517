// Package match ranks corpus entries against the prefix being typed.
package match

import "github.com/bastiangx/codeserve/pkg/corpus"

// Matcher defines the interface for completion matchers
type Matcher interface {
	// Match returns at most maxResults suggestions for prefix, best first.
	Match(prefix string, c *corpus.Corpus, maxResults int) []Suggestion
}
