package match

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bastiangx/codeserve/pkg/corpus"
)

func newCorpus(words ...string) *corpus.Corpus {
	entries := make([]corpus.Entry, len(words))
	for i, w := range words {
		entries[i] = corpus.Entry{Text: w, Kind: corpus.KindKeyword}
	}
	return corpus.New("test", entries)
}

func suggestionTexts(s []Suggestion) []string {
	out := make([]string, len(s))
	for i, sg := range s {
		out[i] = sg.Text
	}
	return out
}

// steppingClock advances by step every time it is read.
type steppingClock struct {
	*clock.Mock
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.Mock.Add(c.step)
	return c.Mock.Now()
}

func TestMatchRanking(t *testing.T) {
	c := newCorpus("the", "then", "that", "cat")
	engine := New(Options{SubstringTier: false})

	tests := []struct {
		name   string
		prefix string
		want   []string
		scores []int
	}{
		{"ties break on length then text", "th", []string{"the", "that", "then"}, []int{90, 90, 90}},
		{"exact match ranks first", "the", []string{"the", "then"}, []int{100, 90}},
		{"case insensitive", "TH", []string{"the", "that", "then"}, []int{90, 90, 90}},
		{"no match", "xyz", []string{}, []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.Match(tt.prefix, c, 10)
			assert.Equal(t, tt.want, suggestionTexts(got))
			scores := make([]int, len(got))
			for i, s := range got {
				scores[i] = s.Score
				assert.Equal(t, strings.ToLower(tt.prefix), s.MatchedPrefix)
			}
			assert.Equal(t, tt.scores, scores)
		})
	}
}

func TestMatchEmptyInputs(t *testing.T) {
	engine := New(DefaultOptions())
	assert.Empty(t, engine.Match("", newCorpus("a", "b"), 10))
	assert.Empty(t, engine.Match("a", corpus.Empty("x"), 10))
	assert.Empty(t, engine.Match("a", nil, 10))
}

func TestMatchRespectsMaxResults(t *testing.T) {
	words := make([]string, 50)
	for i := range words {
		words[i] = fmt.Sprintf("item%02d", i)
	}
	c := newCorpus(words...)
	engine := New(DefaultOptions())

	got := engine.Match("item", c, 5)
	assert.Equal(t, []string{"item00", "item01", "item02", "item03", "item04"}, suggestionTexts(got))

	// default applies when unset
	assert.Len(t, engine.Match("item", c, 0), 10)
}

func TestMatchIsDeterministic(t *testing.T) {
	c := newCorpus("printf", "print", "println", "sprintf", "fprintf", "PRINT_MAX", "puts")
	engine := New(DefaultOptions())

	first := engine.Match("print", c, 10)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, engine.Match("print", c, 10))
	}
}

func TestMatchContainsTier(t *testing.T) {
	c := newCorpus("printf", "sprintf", "fprintf", "vsnprintf", "puts")

	t.Run("fills up after prefix tiers", func(t *testing.T) {
		engine := New(DefaultOptions())
		got := engine.Match("printf", c, 10)
		require.Len(t, got, 4)
		assert.Equal(t, "printf", got[0].Text)
		assert.Equal(t, ScoreExact, got[0].Score)
		assert.Equal(t, []string{"fprintf", "sprintf", "vsnprintf"}, suggestionTexts(got[1:]))
		for _, s := range got[1:] {
			assert.Equal(t, ScoreContains, s.Score)
		}
	})

	t.Run("skipped when prefix tiers fill the results", func(t *testing.T) {
		engine := New(DefaultOptions())
		got := engine.Match("printf", c, 1)
		assert.Equal(t, []string{"printf"}, suggestionTexts(got))
	})

	t.Run("disabled", func(t *testing.T) {
		engine := New(Options{SubstringTier: false})
		got := engine.Match("printf", c, 10)
		assert.Equal(t, []string{"printf"}, suggestionTexts(got))
	})
}

func TestMatchProperties(t *testing.T) {
	c := newCorpus("alpha", "alphabet", "Alpine", "also", "halo", "bald", "al", "algebra", "ALGOL")
	prefixes := []string{"a", "al", "AL", "alp", "alpha", "l", "zz"}

	engine := New(Options{SubstringTier: false})
	for _, p := range prefixes {
		got := engine.Match(p, c, 4)
		assert.LessOrEqual(t, len(got), 4, p)
		for i, s := range got {
			assert.True(t, strings.HasPrefix(strings.ToLower(s.Text), strings.ToLower(p)), "%q does not start with %q", s.Text, p)
			if i > 0 {
				assert.GreaterOrEqual(t, got[i-1].Score, s.Score, p)
			}
		}
	}
}

func TestMatchBudget(t *testing.T) {
	words := make([]string, 500)
	for i := range words {
		words[i] = fmt.Sprintf("name%03d", i)
	}
	c := newCorpus(words...)

	clk := &steppingClock{Mock: clock.NewMock(), step: 10 * time.Millisecond}
	engine := New(Options{
		Budget:     16 * time.Millisecond,
		CheckEvery: 1,
		Clock:      clk,
	})

	res := engine.MatchDetailed("name", c, 10)
	assert.True(t, res.Partial)
	assert.Len(t, res.Suggestions, 2, "collection stops once the budget is spent")
	assert.Greater(t, res.Elapsed, 16*time.Millisecond)

	fast := New(Options{Clock: clock.NewMock()})
	res = fast.MatchDetailed("name", c, 10)
	assert.False(t, res.Partial)
	assert.Len(t, res.Suggestions, 10)
}

func TestMatchInternalLimit(t *testing.T) {
	words := make([]string, 300)
	for i := range words {
		words[i] = fmt.Sprintf("v%03d", i)
	}
	engine := New(Options{InternalLimit: 20, Clock: clock.NewMock()})
	res := engine.MatchDetailed("v", newCorpus(words...), 100)
	assert.Len(t, res.Suggestions, 20)
	assert.False(t, res.Partial)
}

func BenchmarkMatch(b *testing.B) {
	words := make([]string, 10000)
	for i := range words {
		words[i] = fmt.Sprintf("ident_%05d", i)
	}
	c := newCorpus(words...)
	engine := New(DefaultOptions())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		engine.Match("ident_0", c, 10)
	}
}
