package completion

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bastiangx/codeserve/internal/metrics"
	"github.com/bastiangx/codeserve/pkg/corpus"
	"github.com/bastiangx/codeserve/pkg/match"
	"github.com/bastiangx/codeserve/pkg/trigger"
)

const debounce = 50 * time.Millisecond

// fakeStore serves fixed corpora. Languages in pending only become loaded
// once gate is closed.
type fakeStore struct {
	mu      sync.Mutex
	corpora map[string]*corpus.Corpus
	loaded  map[string]bool
	gate    chan struct{}
	loads   atomic.Int32
	active  string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		corpora: make(map[string]*corpus.Corpus),
		loaded:  make(map[string]bool),
	}
}

func (s *fakeStore) add(lang string, loaded bool, words ...string) {
	entries := make([]corpus.Entry, len(words))
	for i, w := range words {
		entries[i] = corpus.Entry{Text: w, Kind: corpus.KindKeyword}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corpora[lang] = corpus.New(lang, entries)
	s.loaded[lang] = loaded
}

func (s *fakeStore) LoadCorpus(ctx context.Context, lang string) *corpus.Corpus {
	s.loads.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return corpus.Empty(lang)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.corpora[lang]
	if !ok || c.IsEmpty() {
		return corpus.Empty(lang)
	}
	s.loaded[lang] = true
	return c
}

func (s *fakeStore) GetCorpus(lang string) *corpus.Corpus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded[lang] {
		return s.corpora[lang]
	}
	return corpus.Empty(lang)
}

func (s *fakeStore) IsLoaded(lang string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded[lang]
}

func (s *fakeStore) Supports(lang string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.corpora[lang]
	return ok
}

func (s *fakeStore) SetActive(lang string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = lang
}

// countingMatcher records every prefix it is asked about.
type countingMatcher struct {
	inner   match.Matcher
	mu      sync.Mutex
	calls   []string
	onMatch func(prefix string)
}

func (m *countingMatcher) Match(prefix string, c *corpus.Corpus, maxResults int) []match.Suggestion {
	m.mu.Lock()
	m.calls = append(m.calls, prefix)
	hook := m.onMatch
	m.mu.Unlock()
	if hook != nil {
		hook(prefix)
	}
	return m.inner.Match(prefix, c, maxResults)
}

func (m *countingMatcher) prefixes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

type fixture struct {
	store   *fakeStore
	matcher *countingMatcher
	clock   *clock.Mock
	ctrl    *Controller
	changes atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   newFakeStore(),
		matcher: &countingMatcher{inner: match.New(match.Options{Clock: clock.NewMock()})},
		clock:   clock.NewMock(),
	}
	f.store.add("lang", true, "the", "then", "that", "cat")
	f.ctrl = New(f.store, f.matcher, Options{
		Debounce: debounce,
		Clock:    f.clock,
		OnChange: func(State) { f.changes.Add(1) },
	})
	t.Cleanup(f.ctrl.Destroy)
	return f
}

// typeWord sends one keystroke per character of word, with the context an
// editor would report after each one.
func (f *fixture) typeWord(word string, gap time.Duration) {
	for i, r := range word {
		f.ctrl.HandleInput(trigger.Key(string(r)), trigger.Context{
			Prefix:       word[:i+1],
			Language:     "lang",
			CursorOffset: i + 1,
		})
		if gap > 0 {
			f.clock.Add(gap)
		}
	}
}

func texts(s []match.Suggestion) []string {
	out := make([]string, len(s))
	for i, sg := range s {
		out[i] = sg.Text
	}
	return out
}

func TestShowAfterDebounce(t *testing.T) {
	f := newFixture(t)

	f.typeWord("th", 0)
	assert.False(t, f.ctrl.State().Visible, "nothing before the debounce window closes")
	assert.Empty(t, f.matcher.prefixes())

	f.clock.Add(debounce)
	st := f.ctrl.State()
	require.True(t, st.Visible)
	assert.Equal(t, []string{"the", "that", "then"}, texts(st.Suggestions))
	assert.Equal(t, 0, st.ActiveIndex)
	assert.Equal(t, "th", st.Prefix)
	assert.Equal(t, "lang", f.store.active)
	assert.Equal(t, int32(1), f.changes.Load())
}

// Keystrokes 10ms apart coalesce into a single pass for the last prefix.
func TestDebounceCoalescesBurst(t *testing.T) {
	f := newFixture(t)
	superseded := testutil.ToFloat64(metrics.Default().SupersededTotal)

	f.typeWord("the", 10*time.Millisecond)
	f.clock.Add(debounce)

	assert.Equal(t, []string{"the"}, f.matcher.prefixes())
	st := f.ctrl.State()
	require.True(t, st.Visible)
	assert.Equal(t, "the", st.Suggestions[0].Text)
	assert.Equal(t, match.ScoreExact, st.Suggestions[0].Score)
	assert.Equal(t, superseded+2, testutil.ToFloat64(metrics.Default().SupersededTotal))
}

// A prefix without matches hides the popup.
func TestNoMatchesHides(t *testing.T) {
	f := newFixture(t)

	f.typeWord("th", 0)
	f.clock.Add(debounce)
	require.True(t, f.ctrl.State().Visible)

	f.ctrl.HandleInput(trigger.Key("x"), trigger.Context{Prefix: "thx", Language: "lang", CursorOffset: 3})
	f.clock.Add(debounce)
	st := f.ctrl.State()
	assert.False(t, st.Visible)
	assert.Empty(t, st.Suggestions)

	f2 := newFixture(t)
	f2.typeWord("xyz", 0)
	f2.clock.Add(debounce)
	assert.False(t, f2.ctrl.State().Visible)
}

func TestNavigateWraps(t *testing.T) {
	f := newFixture(t)
	f.typeWord("th", 0)
	f.clock.Add(debounce)
	require.Len(t, f.ctrl.State().Suggestions, 3)

	f.ctrl.Navigate(trigger.Up)
	assert.Equal(t, 2, f.ctrl.State().ActiveIndex, "up from the first wraps to the last")

	f.ctrl.Navigate(trigger.Down)
	assert.Equal(t, 0, f.ctrl.State().ActiveIndex, "down from the last wraps to the first")

	res := f.ctrl.HandleInput(trigger.Key(trigger.KeyArrowDown), trigger.Context{Language: "lang"})
	assert.True(t, res.Consumed)
	assert.Equal(t, trigger.Navigate, res.Decision.Action)
	assert.Equal(t, 1, f.ctrl.State().ActiveIndex)
}

func TestNavigateWhileHidden(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Navigate(trigger.Down)
	assert.Equal(t, State{}, f.ctrl.State())

	res := f.ctrl.HandleInput(trigger.Key(trigger.KeyArrowDown), trigger.Context{Language: "lang"})
	assert.False(t, res.Consumed)
	assert.Equal(t, trigger.PassThrough, res.Decision.Action)
}

func TestAcceptInsertion(t *testing.T) {
	f := newFixture(t)
	f.ctrl.HandleInput(trigger.Key("t"), trigger.Context{Prefix: "t", Language: "lang", CursorOffset: 11})
	f.ctrl.HandleInput(trigger.Key("h"), trigger.Context{Prefix: "th", Language: "lang", CursorOffset: 12})
	f.clock.Add(debounce)
	require.True(t, f.ctrl.State().Visible)

	ins, ok := f.ctrl.Accept(2)
	require.True(t, ok)
	assert.Equal(t, Insertion{
		Text:            "then",
		Replace:         Range{Start: 10, End: 12},
		NewCursorOffset: 14,
	}, ins)
	assert.False(t, f.ctrl.State().Visible)

	_, ok = f.ctrl.Accept(0)
	assert.False(t, ok, "nothing to accept while hidden")
}

func TestAcceptOutOfRange(t *testing.T) {
	f := newFixture(t)
	f.typeWord("th", 0)
	f.clock.Add(debounce)

	_, ok := f.ctrl.Accept(3)
	assert.False(t, ok)
	_, ok = f.ctrl.Accept(-1)
	assert.False(t, ok)
	assert.True(t, f.ctrl.State().Visible)
}

func TestTabAcceptsSelection(t *testing.T) {
	f := newFixture(t)
	f.typeWord("th", 0)
	f.clock.Add(debounce)
	f.ctrl.Navigate(trigger.Down)

	res := f.ctrl.HandleInput(trigger.Key(trigger.KeyTab), trigger.Context{Prefix: "th", Language: "lang", CursorOffset: 2})
	assert.True(t, res.Consumed)
	require.NotNil(t, res.Insertion)
	assert.Equal(t, "that", res.Insertion.Text)
	assert.Equal(t, Range{Start: 0, End: 2}, res.Insertion.Replace)
	assert.False(t, f.ctrl.State().Visible)
}

func TestDismissKeys(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		consumed bool
	}{
		{"escape", trigger.KeyEscape, true},
		{"enter", trigger.KeyEnter, false},
		{"space", " ", false},
		{"paren", "(", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.typeWord("th", 0)
			f.clock.Add(debounce)
			require.True(t, f.ctrl.State().Visible)

			res := f.ctrl.HandleInput(trigger.Key(tt.key), trigger.Context{Language: "lang"})
			assert.Equal(t, trigger.Dismiss, res.Decision.Action)
			assert.Equal(t, tt.consumed, res.Consumed)
			assert.False(t, f.ctrl.State().Visible)
		})
	}
}

func TestDismissCancelsPendingPass(t *testing.T) {
	f := newFixture(t)
	f.typeWord("th", 0)
	f.ctrl.HandleInput(trigger.Key(trigger.KeyEscape), trigger.Context{Language: "lang"})
	f.clock.Add(debounce)

	assert.Empty(t, f.matcher.prefixes())
	assert.False(t, f.ctrl.State().Visible)
}

func TestBackspaceRefilters(t *testing.T) {
	f := newFixture(t)
	f.typeWord("the", 0)
	f.clock.Add(debounce)
	require.Equal(t, []string{"the", "then"}, texts(f.ctrl.State().Suggestions))

	f.ctrl.HandleInput(trigger.Key(trigger.KeyBackspace), trigger.Context{Prefix: "th", Language: "lang", CursorOffset: 2})
	f.clock.Add(debounce)
	assert.Equal(t, []string{"the", "that", "then"}, texts(f.ctrl.State().Suggestions))

	f.ctrl.HandleInput(trigger.Key(trigger.KeyBackspace), trigger.Context{Prefix: "", Language: "lang"})
	assert.False(t, f.ctrl.State().Visible)
}

func TestStaleResultDiscarded(t *testing.T) {
	f := newFixture(t)
	stale := testutil.ToFloat64(metrics.Default().StaleDiscardedTotal)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.matcher.onMatch = func(prefix string) {
		if prefix == "th" {
			once.Do(func() {
				close(entered)
				<-release
			})
		}
	}

	f.typeWord("th", 0)
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.clock.Add(debounce)
	}()

	<-entered
	// the slow "th" pass is still running when the user types on
	f.ctrl.HandleInput(trigger.Key("e"), trigger.Context{Prefix: "the", Language: "lang", CursorOffset: 3})
	close(release)
	<-done
	f.clock.Add(debounce)

	st := f.ctrl.State()
	require.True(t, st.Visible)
	assert.Equal(t, "the", st.Prefix)
	assert.Equal(t, []string{"the", "then"}, texts(st.Suggestions))
	assert.Equal(t, stale+1, testutil.ToFloat64(metrics.Default().StaleDiscardedTotal))
}

func TestUnsupportedLanguageStaysHidden(t *testing.T) {
	f := newFixture(t)
	f.ctrl.HandleInput(trigger.Key("x"), trigger.Context{Prefix: "x", Language: "cobol"})
	f.clock.Add(debounce)

	assert.False(t, f.ctrl.State().Visible)
	assert.Empty(t, f.matcher.prefixes())
	assert.Equal(t, int32(0), f.store.loads.Load())
}

func TestPassRunsAgainWhenCorpusArrives(t *testing.T) {
	f := newFixture(t)
	f.store.add("go", false, "defer", "delete")
	f.store.gate = make(chan struct{})

	f.ctrl.HandleInput(trigger.Key("d"), trigger.Context{Prefix: "d", Language: "go", CursorOffset: 1})
	f.clock.Add(debounce)
	assert.False(t, f.ctrl.State().Visible, "corpus still loading")

	close(f.store.gate)
	require.Eventually(t, func() bool {
		f.clock.Add(debounce)
		return f.ctrl.State().Visible
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"defer", "delete"}, texts(f.ctrl.State().Suggestions))
	assert.Equal(t, int32(1), f.store.loads.Load())
}

func TestFailedLoadIsNotRetried(t *testing.T) {
	f := newFixture(t)
	f.store.add("broken", false)

	f.ctrl.HandleInput(trigger.Key("a"), trigger.Context{Prefix: "a", Language: "broken"})
	require.Eventually(t, func() bool {
		f.clock.Add(debounce)
		return f.store.loads.Load() == 1
	}, time.Second, 5*time.Millisecond)

	f.ctrl.HandleInput(trigger.Key("b"), trigger.Context{Prefix: "ab", Language: "broken"})
	f.clock.Add(debounce)
	time.Sleep(20 * time.Millisecond)

	assert.False(t, f.ctrl.State().Visible)
	assert.Equal(t, int32(1), f.store.loads.Load())
}

func TestPanicInMatcherIsContained(t *testing.T) {
	f := newFixture(t)
	f.typeWord("th", 0)
	f.clock.Add(debounce)
	require.True(t, f.ctrl.State().Visible)

	f.matcher.onMatch = func(string) { panic("boom") }
	f.ctrl.HandleInput(trigger.Key("e"), trigger.Context{Prefix: "the", Language: "lang", CursorOffset: 3})

	assert.NotPanics(t, func() { f.clock.Add(debounce) })
	st := f.ctrl.State()
	assert.False(t, st.Visible)
	assert.Empty(t, st.Suggestions)

	// still usable afterwards
	f.matcher.onMatch = nil
	f.ctrl.HandleInput(trigger.Key("n"), trigger.Context{Prefix: "then", Language: "lang", CursorOffset: 4})
	f.clock.Add(debounce)
	assert.True(t, f.ctrl.State().Visible)
}

func TestDestroy(t *testing.T) {
	f := newFixture(t)
	f.typeWord("th", 0)
	f.ctrl.Destroy()
	f.clock.Add(debounce)

	assert.Empty(t, f.matcher.prefixes())
	assert.Equal(t, State{}, f.ctrl.State())

	res := f.ctrl.HandleInput(trigger.Key("e"), trigger.Context{Prefix: "the", Language: "lang"})
	assert.Equal(t, trigger.PassThrough, res.Decision.Action)
	_, ok := f.ctrl.Accept(0)
	assert.False(t, ok)
	assert.NotPanics(t, f.ctrl.Destroy)
}

func TestSessionIDs(t *testing.T) {
	a := New(newFakeStore(), &countingMatcher{}, Options{})
	b := New(newFakeStore(), &countingMatcher{}, Options{SessionID: "fixed"})
	defer a.Destroy()
	defer b.Destroy()

	assert.Len(t, a.ID(), 36)
	assert.Equal(t, "fixed", b.ID())
}

// Sessions that come and go must not leave goroutines behind.
func TestNoGoroutineLeak(t *testing.T) {
	store := newFakeStore()
	store.add("lang", false, "alpha", "beta")
	engine := match.New(match.DefaultOptions())

	runtime.GC()
	base := runtime.NumGoroutine()

	for i := 0; i < 100; i++ {
		ctrl := New(store, engine, Options{Debounce: time.Millisecond})
		ctrl.HandleInput(trigger.Key("a"), trigger.Context{Prefix: "a", Language: "lang", CursorOffset: 1})
		ctrl.HandleInput(trigger.Key("l"), trigger.Context{Prefix: "al", Language: "lang", CursorOffset: 2})
		ctrl.Destroy()
	}

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= base+2
	}, 2*time.Second, 10*time.Millisecond)
}
