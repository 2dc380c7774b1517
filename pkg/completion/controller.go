/*
Package completion holds the per-session completion controller.

A Controller turns editor events into popup state. It asks the trigger policy
what an event means, debounces match passes so a burst of keystrokes costs a
single pass against the last prefix, and hands the host an insertion when a
suggestion is accepted.

All state mutation happens under one mutex. Match passes run outside it and
are applied only if the prefix they were computed for is still current.
*/
package completion

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/facebookgo/clock"
	"github.com/google/uuid"

	"github.com/bastiangx/codeserve/internal/logger"
	"github.com/bastiangx/codeserve/internal/metrics"
	"github.com/bastiangx/codeserve/pkg/corpus"
	"github.com/bastiangx/codeserve/pkg/match"
	"github.com/bastiangx/codeserve/pkg/trigger"
)

// Store is the part of corpus.Store the controller needs.
type Store interface {
	LoadCorpus(ctx context.Context, language string) *corpus.Corpus
	GetCorpus(language string) *corpus.Corpus
	IsLoaded(language string) bool
	Supports(language string) bool
	SetActive(language string)
}

// State is a snapshot of the popup. Either hidden with no suggestions, or
// visible with a non-empty list and a valid ActiveIndex.
type State struct {
	Visible     bool
	Suggestions []match.Suggestion
	ActiveIndex int
	Prefix      string
	Language    string
}

// Range is a span of rune offsets, end exclusive.
type Range struct {
	Start int
	End   int
}

// Insertion is the edit the host applies, as one undoable step, on accept.
type Insertion struct {
	Text            string
	Replace         Range
	NewCursorOffset int
}

// Result is the outcome of HandleInput.
type Result struct {
	Decision trigger.Decision
	// Consumed tells the host not to apply the key itself.
	Consumed bool
	// Insertion is set when the key accepted a suggestion.
	Insertion *Insertion
}

// Options configures a Controller.
type Options struct {
	Debounce   time.Duration
	MaxResults int
	Policy     *trigger.Policy
	Clock      clock.Clock
	Metrics    *metrics.Metrics
	// OnChange receives a snapshot after every visible change of state.
	// It is called without the controller lock held.
	OnChange func(State)
	// SessionID overrides the generated session id.
	SessionID string
}

// DefaultOptions returns a 50ms debounce, ten results and the default triggers.
func DefaultOptions() Options {
	return Options{
		Debounce:   50 * time.Millisecond,
		MaxResults: 10,
	}
}

type loadState uint8

const (
	loadInFlight loadState = iota + 1
	loadDone
	loadFailed
)

// Controller is the completion state machine of one editor session.
type Controller struct {
	id      string
	log     *log.Logger
	opts    Options
	clock   clock.Clock
	metrics *metrics.Metrics
	policy  *trigger.Policy

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	store       Store
	matcher     match.Matcher
	onChange    func(State)
	state       State
	cursor      int
	pending     bool
	timer       *clock.Timer
	seq         uint64
	version     uint64
	loads       map[string]loadState
	unsupported map[string]bool
	destroyed   bool
}

// New creates a controller for one session.
func New(store Store, matcher match.Matcher, opts Options) *Controller {
	d := DefaultOptions()
	if opts.Debounce <= 0 {
		opts.Debounce = d.Debounce
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = d.MaxResults
	}
	if opts.Policy == nil {
		opts.Policy = trigger.NewPolicy(trigger.DefaultTriggers())
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Default()
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		id:          opts.SessionID,
		log:         logger.New("session " + shortID(opts.SessionID)),
		opts:        opts,
		clock:       opts.Clock,
		metrics:     opts.Metrics,
		policy:      opts.Policy,
		ctx:         ctx,
		cancel:      cancel,
		store:       store,
		matcher:     matcher,
		onChange:    opts.OnChange,
		loads:       make(map[string]loadState),
		unsupported: make(map[string]bool),
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// ID returns the session id.
func (c *Controller) ID() string {
	return c.id
}

// HandleInput applies one editor event.
func (c *Controller) HandleInput(ev trigger.Event, ctx trigger.Context) (res Result) {
	defer c.recoverTo("HandleInput")

	var snap *State
	res, snap = c.handleInput(ev, ctx)
	c.notify(snap)
	return res
}

func (c *Controller) handleInput(ev trigger.Event, ctx trigger.Context) (Result, *State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return Result{Decision: trigger.Decision{Action: trigger.PassThrough}}, nil
	}

	before := c.version
	wasVisible := c.state.Visible
	d := c.policy.Decide(ev, ctx, wasVisible)
	res := Result{Decision: d}

	switch d.Action {
	case trigger.Show, trigger.UpdateFilter:
		c.startPassLocked(ctx)
	case trigger.Dismiss:
		c.hideLocked()
		res.Consumed = wasVisible && ev.Key == trigger.KeyEscape
	case trigger.Navigate:
		c.navigateLocked(d.Direction)
		res.Consumed = true
	case trigger.Accept:
		if ins, ok := c.acceptLocked(c.state.ActiveIndex); ok {
			res.Insertion = &ins
			res.Consumed = true
		}
	}

	return res, c.snapshotIfChangedLocked(before)
}

// startPassLocked records the new prefix and schedules a debounced pass.
func (c *Controller) startPassLocked(ctx trigger.Context) {
	lang := ctx.Language
	if !c.store.Supports(lang) {
		if !c.unsupported[lang] {
			c.unsupported[lang] = true
			c.log.Debugf("No corpus for language %q, completion stays hidden", lang)
		}
		c.hideLocked()
		return
	}

	c.state.Prefix = ctx.Prefix
	c.state.Language = lang
	c.cursor = ctx.CursorOffset
	c.pending = true
	c.store.SetActive(lang)
	if !c.store.IsLoaded(lang) {
		c.ensureLoadLocked(lang)
	}
	c.scheduleLocked()
}

// scheduleLocked replaces any pending pass with a new one.
func (c *Controller) scheduleLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
		c.metrics.RecordSuperseded()
	}
	c.seq++
	seq := c.seq
	c.timer = c.clock.AfterFunc(c.opts.Debounce, func() {
		c.runPass(seq)
	})
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.seq++
}

func (c *Controller) runPass(seq uint64) {
	defer c.recoverTo("match pass")

	p, ok := c.beginPass(seq)
	if !ok {
		return
	}
	suggestions := p.matcher.Match(p.tag, p.corpus, c.opts.MaxResults)
	c.notify(c.applyPass(seq, p.tag, p.lang, suggestions, p.loading))
}

type pass struct {
	tag     string
	lang    string
	corpus  *corpus.Corpus
	loading bool
	matcher match.Matcher
}

func (c *Controller) beginPass(seq uint64) (pass, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed || seq != c.seq || !c.pending {
		return pass{}, false
	}
	c.timer = nil
	return pass{
		tag:     c.state.Prefix,
		lang:    c.state.Language,
		corpus:  c.store.GetCorpus(c.state.Language),
		loading: c.loads[c.state.Language] == loadInFlight,
		matcher: c.matcher,
	}, true
}

func (c *Controller) applyPass(seq uint64, tag, lang string, suggestions []match.Suggestion, loading bool) *State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return nil
	}
	if seq != c.seq || c.state.Prefix != tag || c.state.Language != lang {
		c.metrics.RecordStale()
		c.log.Debugf("Discarding stale results for %q", tag)
		return nil
	}
	if len(suggestions) == 0 && loading {
		// corpusReady schedules another pass once the load lands
		return nil
	}

	before := c.version
	c.pending = false
	if len(suggestions) == 0 {
		c.hideLocked()
	} else {
		c.state.Visible = true
		c.state.Suggestions = suggestions
		c.state.ActiveIndex = 0
		c.version++
	}
	return c.snapshotIfChangedLocked(before)
}

// ensureLoadLocked starts one background load per language. Failed languages
// are not retried for the rest of the session.
func (c *Controller) ensureLoadLocked(lang string) {
	switch c.loads[lang] {
	case loadInFlight, loadFailed:
		return
	}
	c.loads[lang] = loadInFlight
	store := c.store
	go func() {
		defer c.recoverTo("corpus load")
		corp := store.LoadCorpus(c.ctx, lang)
		c.corpusReady(lang, !corp.IsEmpty() || store.IsLoaded(lang))
	}()
}

func (c *Controller) corpusReady(lang string, ok bool) {
	defer c.recoverTo("corpus ready")

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	if ok {
		c.loads[lang] = loadDone
	} else {
		c.loads[lang] = loadFailed
		c.log.Warnf("Corpus for %s failed to load, completion stays hidden", lang)
	}
	if c.pending && c.state.Language == lang && c.timer == nil {
		c.scheduleLocked()
	}
}

func (c *Controller) hideLocked() {
	c.stopTimerLocked()
	c.pending = false
	if c.state.Visible || len(c.state.Suggestions) > 0 {
		c.version++
	}
	c.state.Visible = false
	c.state.Suggestions = nil
	c.state.ActiveIndex = 0
}

// Navigate moves the selection, wrapping at both ends. No-op while hidden.
func (c *Controller) Navigate(dir trigger.Direction) {
	defer c.recoverTo("Navigate")
	c.notify(c.navigate(dir))
}

func (c *Controller) navigate(dir trigger.Direction) *State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return nil
	}
	before := c.version
	c.navigateLocked(dir)
	return c.snapshotIfChangedLocked(before)
}

func (c *Controller) navigateLocked(dir trigger.Direction) {
	n := len(c.state.Suggestions)
	if !c.state.Visible || n == 0 {
		return
	}
	if dir == trigger.Up {
		c.state.ActiveIndex = (c.state.ActiveIndex - 1 + n) % n
	} else {
		c.state.ActiveIndex = (c.state.ActiveIndex + 1) % n
	}
	c.version++
}

// Accept returns the insertion for suggestion index and hides the popup.
// It returns false, changing nothing, when hidden or index is out of range.
func (c *Controller) Accept(index int) (ins Insertion, ok bool) {
	defer c.recoverTo("Accept")

	var snap *State
	ins, ok, snap = c.accept(index)
	c.notify(snap)
	return ins, ok
}

func (c *Controller) accept(index int) (Insertion, bool, *State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return Insertion{}, false, nil
	}
	before := c.version
	ins, ok := c.acceptLocked(index)
	return ins, ok, c.snapshotIfChangedLocked(before)
}

func (c *Controller) acceptLocked(index int) (Insertion, bool) {
	if !c.state.Visible || index < 0 || index >= len(c.state.Suggestions) {
		return Insertion{}, false
	}
	text := c.state.Suggestions[index].Text
	start := max(c.cursor-utf8.RuneCountInString(c.state.Prefix), 0)
	ins := Insertion{
		Text:            text,
		Replace:         Range{Start: start, End: c.cursor},
		NewCursorOffset: start + utf8.RuneCountInString(text),
	}
	c.log.Debugf("Accepted %q replacing %q", text, c.state.Prefix)
	c.hideLocked()
	return ins, true
}

// State returns a snapshot of the popup state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Destroy cancels pending work and drops references. Later calls are no-ops.
func (c *Controller) Destroy() {
	defer c.recoverTo("Destroy")

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	c.destroyed = true
	c.stopTimerLocked()
	c.cancel()
	c.state = State{}
	c.pending = false
	c.store = nil
	c.matcher = nil
	c.onChange = nil
	c.log.Debug("Session closed")
}

func (c *Controller) snapshotLocked() State {
	s := c.state
	s.Suggestions = append([]match.Suggestion(nil), c.state.Suggestions...)
	return s
}

func (c *Controller) snapshotIfChangedLocked(before uint64) *State {
	if c.version == before || c.onChange == nil {
		return nil
	}
	s := c.snapshotLocked()
	return &s
}

func (c *Controller) notify(snap *State) {
	if snap == nil {
		return
	}
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn(*snap)
	}
}

// recoverTo keeps panics inside the controller and falls back to hidden.
// Every locked section unlocks in a defer, so the lock is free here.
func (c *Controller) recoverTo(op string) {
	r := recover()
	if r == nil {
		return
	}
	c.log.Error("Recovered from panic", "op", op, "panic", fmt.Sprint(r))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimerLocked()
	c.pending = false
	c.state.Visible = false
	c.state.Suggestions = nil
	c.state.ActiveIndex = 0
}
