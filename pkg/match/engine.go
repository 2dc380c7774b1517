package match

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/facebookgo/clock"

	"github.com/bastiangx/codeserve/internal/metrics"
	"github.com/bastiangx/codeserve/pkg/corpus"
)

// Scores by match tier.
const (
	ScoreExact    = 100
	ScorePrefix   = 90
	ScoreContains = 70
)

// Suggestion is a ranked completion candidate.
type Suggestion struct {
	Text          string
	Kind          corpus.Kind
	Score         int
	MatchedPrefix string
}

// Result is a match pass with its diagnostics.
type Result struct {
	Suggestions []Suggestion
	// Partial is set when the latency budget ran out before collection finished.
	Partial bool
	Elapsed time.Duration
}

// Options configures an Engine.
type Options struct {
	MaxResults int
	// InternalLimit caps candidates collected before ranking.
	InternalLimit int
	// Budget bounds the time spent collecting candidates.
	Budget time.Duration
	// CheckEvery is how many candidates are visited between clock reads.
	CheckEvery int
	// SubstringTier enables the contains tier when prefix tiers come up short.
	SubstringTier bool
	Clock         clock.Clock
	Metrics       *metrics.Metrics
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		MaxResults:    10,
		InternalLimit: 200,
		Budget:        16 * time.Millisecond,
		CheckEvery:    64,
		SubstringTier: true,
	}
}

// Engine scores and ranks corpus entries. It holds no per-call state and is
// safe for concurrent use.
type Engine struct {
	opts Options
}

// New creates an engine. Zero numeric fields take their defaults; SubstringTier
// is taken as given.
func New(opts Options) *Engine {
	d := DefaultOptions()
	if opts.MaxResults <= 0 {
		opts.MaxResults = d.MaxResults
	}
	if opts.InternalLimit <= 0 {
		opts.InternalLimit = d.InternalLimit
	}
	if opts.Budget <= 0 {
		opts.Budget = d.Budget
	}
	if opts.CheckEvery <= 0 {
		opts.CheckEvery = d.CheckEvery
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Default()
	}
	return &Engine{opts: opts}
}

// Options returns the effective options.
func (e *Engine) Options() Options {
	return e.opts
}

// Match implements Matcher. A non-positive maxResults uses the engine default.
func (e *Engine) Match(prefix string, c *corpus.Corpus, maxResults int) []Suggestion {
	return e.MatchDetailed(prefix, c, maxResults).Suggestions
}

// MatchDetailed ranks the entries of c against prefix.
//
// Tiers: exact (case-insensitive) match 100, starts-with 90 and, when
// enabled and the first two tiers produce fewer than maxResults, contains 70.
// Ties break on shorter text, then lexicographic order, so identical inputs
// always give identical output.
func (e *Engine) MatchDetailed(prefix string, c *corpus.Corpus, maxResults int) Result {
	if maxResults <= 0 {
		maxResults = e.opts.MaxResults
	}
	lower := strings.ToLower(prefix)
	if lower == "" || c.IsEmpty() {
		return Result{}
	}

	start := e.opts.Clock.Now()
	deadline := start.Add(e.opts.Budget)
	visited := 0
	partial := false
	overBudget := func() bool {
		visited++
		if visited%e.opts.CheckEvery == 0 && !e.opts.Clock.Now().Before(deadline) {
			partial = true
		}
		return partial
	}

	candidates := make([]Suggestion, 0, min(e.opts.InternalLimit, 32))
	c.Trie().Walk(lower, func(key string, entry corpus.Entry) bool {
		score := ScorePrefix
		if key == lower {
			score = ScoreExact
		}
		candidates = append(candidates, Suggestion{
			Text:          entry.Text,
			Kind:          entry.Kind,
			Score:         score,
			MatchedPrefix: lower,
		})
		if len(candidates) >= e.opts.InternalLimit {
			return false
		}
		return !overBudget()
	})

	if e.opts.SubstringTier && !partial && len(candidates) < maxResults {
		candidates = e.collectContains(lower, c, candidates, overBudget)
	}

	sortSuggestions(candidates)
	if len(candidates) > maxResults {
		candidates = candidates[:maxResults]
	}

	elapsed := e.opts.Clock.Now().Sub(start)
	e.opts.Metrics.RecordMatch(elapsed, partial)
	if partial {
		log.Warnf("Match budget of %v exceeded for prefix %q in %s corpus (%d candidates, %v)",
			e.opts.Budget, prefix, c.Language, len(candidates), elapsed)
	}

	return Result{Suggestions: candidates, Partial: partial, Elapsed: elapsed}
}

// collectContains appends entries containing lower past their first byte.
// Starts-with entries are already in candidates and are skipped by the index check.
func (e *Engine) collectContains(lower string, c *corpus.Corpus, candidates []Suggestion, overBudget func() bool) []Suggestion {
	for i := 0; i < c.Len(); i++ {
		if len(candidates) >= e.opts.InternalLimit {
			break
		}
		if strings.Index(c.LowerText(i), lower) > 0 {
			entry := c.Entries[i]
			candidates = append(candidates, Suggestion{
				Text:          entry.Text,
				Kind:          entry.Kind,
				Score:         ScoreContains,
				MatchedPrefix: lower,
			})
		}
		if overBudget() {
			break
		}
	}
	return candidates
}

func sortSuggestions(s []Suggestion) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Score != s[j].Score {
			return s[i].Score > s[j].Score
		}
		li, lj := utf8.RuneCountInString(s[i].Text), utf8.RuneCountInString(s[j].Text)
		if li != lj {
			return li < lj
		}
		return s[i].Text < s[j].Text
	})
}
