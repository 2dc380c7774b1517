package corpus

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/bastiangx/codeserve/internal/metrics"
)

// maxCachedLanguages bounds the LRU by count. Memory is the real limit.
const maxCachedLanguages = 4096

// Options configures a Store.
type Options struct {
	// MemoryBudget is the soft cap on the summed estimates of cached corpora.
	MemoryBudget int64
	// NodeOverhead is the per-node byte cost used by the estimate.
	NodeOverhead int64
	// Preload lists the languages PreloadCommon warms up.
	Preload []string
	// PreloadParallelism caps concurrent preload reads.
	PreloadParallelism int
	Metrics            *metrics.Metrics
}

// DefaultOptions returns a 50 MB budget and the common-language preload set.
func DefaultOptions() Options {
	return Options{
		MemoryBudget:       50 * 1024 * 1024,
		NodeOverhead:       64,
		Preload:            []string{"c", "cpp", "python", "rust", "javascript"},
		PreloadParallelism: 4,
	}
}

// Stats is a snapshot of the cache.
type Stats struct {
	Cached       []string
	Active       string
	MemoryBytes  int64
	MemoryBudget int64
	Failed       map[string]string
}

// Store owns every loaded corpus. Safe for concurrent use.
type Store struct {
	source  Source
	opts    Options
	metrics *metrics.Metrics

	cache *lru.Cache[string, *Corpus]
	group singleflight.Group

	mu          sync.Mutex
	active      string
	generations map[string]uint64
	diagnostics map[string]error
	languages   map[string]struct{}

	preloading sync.WaitGroup
}

// NewStore creates a store reading from source.
func NewStore(source Source, opts Options) *Store {
	defaults := DefaultOptions()
	if opts.MemoryBudget <= 0 {
		opts.MemoryBudget = defaults.MemoryBudget
	}
	if opts.NodeOverhead <= 0 {
		opts.NodeOverhead = defaults.NodeOverhead
	}
	if opts.PreloadParallelism <= 0 {
		opts.PreloadParallelism = defaults.PreloadParallelism
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Default()
	}

	cache, err := lru.New[string, *Corpus](maxCachedLanguages)
	if err != nil {
		// only fails on a non-positive size
		panic(err)
	}

	return &Store{
		source:      source,
		opts:        opts,
		metrics:     opts.Metrics,
		cache:       cache,
		generations: make(map[string]uint64),
		diagnostics: make(map[string]error),
	}
}

// LoadCorpus returns the corpus for language, reading it on first use.
// Concurrent calls for the same language share one read. When the read
// fails, or ctx is done first, an empty corpus is returned and the failure
// is kept in Diagnostics. Failures are not cached.
func (s *Store) LoadCorpus(ctx context.Context, language string) *Corpus {
	if c, ok := s.cache.Get(language); ok {
		return c
	}

	ch := s.group.DoChan(language, func() (any, error) {
		return s.load(language), nil
	})

	select {
	case res := <-ch:
		return res.Val.(*Corpus)
	case <-ctx.Done():
		log.Debugf("Stopped waiting for %s corpus: %v", language, ctx.Err())
		return Empty(language)
	}
}

func (s *Store) load(language string) *Corpus {
	if c, ok := s.cache.Peek(language); ok {
		return c
	}

	s.mu.Lock()
	gen := s.generations[language]
	s.mu.Unlock()

	start := time.Now()
	c, err := s.read(language)
	if err != nil {
		log.Warnf("Failed to load %s corpus: %v", language, err)
		s.metrics.RecordLoad(false)
		s.mu.Lock()
		s.diagnostics[language] = err
		s.mu.Unlock()
		return Empty(language)
	}

	s.metrics.RecordLoad(true)
	log.Debugf("Loaded %s corpus: %d entries, %d nodes in %v",
		language, c.Len(), c.Trie().Nodes(), time.Since(start))
	s.publish(language, c, gen)
	return c
}

func (s *Store) read(language string) (*Corpus, error) {
	data, format, err := s.source.Read(language)
	if err != nil {
		return nil, err
	}
	return Parse(data, format, language)
}

// publish caches c unless the language was invalidated mid-load, then
// enforces the memory budget.
func (s *Store) publish(language string, c *Corpus, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generations[language] != gen {
		log.Debugf("Dropping %s corpus: invalidated while loading", language)
		return
	}
	s.cache.Add(language, c)
	delete(s.diagnostics, language)
	s.evictLocked()
}

// evictLocked removes least recently used corpora, never the active one,
// until the estimate fits the budget or only the active corpus is left.
func (s *Store) evictLocked() {
	usage := s.usageLocked()
	for usage > s.opts.MemoryBudget {
		victim := ""
		for _, lang := range s.cache.Keys() {
			if lang != s.active {
				victim = lang
				break
			}
		}
		if victim == "" {
			log.Warnf("Active corpus %s alone exceeds the memory budget (%d > %d bytes)",
				s.active, usage, s.opts.MemoryBudget)
			break
		}
		if c, ok := s.cache.Peek(victim); ok {
			usage -= c.MemoryEstimate(s.opts.NodeOverhead)
		}
		s.cache.Remove(victim)
		s.metrics.RecordEviction()
		log.Debugf("Evicted %s corpus, estimated usage now %d bytes", victim, usage)
	}
	s.metrics.SetCacheState(usage, s.cache.Len())
}

func (s *Store) usageLocked() int64 {
	var total int64
	for _, c := range s.cache.Values() {
		total += c.MemoryEstimate(s.opts.NodeOverhead)
	}
	return total
}

// GetCorpus returns the cached corpus or an empty one. It never blocks on I/O.
func (s *Store) GetCorpus(language string) *Corpus {
	if c, ok := s.cache.Get(language); ok {
		return c
	}
	return Empty(language)
}

// IsLoaded reports whether language is in the cache.
func (s *Store) IsLoaded(language string) bool {
	return s.cache.Contains(language)
}

// Supports reports whether the source has a resource for language.
func (s *Store) Supports(language string) bool {
	if !ValidLanguage(language) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.languageSetLocked()[language]
	return ok
}

// Languages lists the languages the source provides.
func (s *Store) Languages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.languageSetLocked())
}

func (s *Store) languageSetLocked() map[string]struct{} {
	if s.languages != nil {
		return s.languages
	}
	langs, err := s.source.Languages()
	if err != nil {
		log.Warnf("Failed to list corpus languages: %v", err)
	}
	s.languages = make(map[string]struct{}, len(langs))
	for _, lang := range langs {
		s.languages[lang] = struct{}{}
	}
	return s.languages
}

// SetActive marks the corpus of the focused editor. It is exempt from eviction.
func (s *Store) SetActive(language string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = language
}

// Active returns the language passed to the last SetActive call.
func (s *Store) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// PreloadCommon loads the configured preload set in the background.
// Languages the source does not provide are skipped.
func (s *Store) PreloadCommon(ctx context.Context) {
	var langs []string
	for _, lang := range s.opts.Preload {
		if s.Supports(lang) {
			langs = append(langs, lang)
		} else {
			log.Debugf("Skipping preload of unsupported language %s", lang)
		}
	}
	if len(langs) == 0 {
		return
	}

	s.preloading.Add(1)
	go func() {
		defer s.preloading.Done()
		start := time.Now()

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.opts.PreloadParallelism)
		for _, lang := range langs {
			g.Go(func() error {
				s.LoadCorpus(gctx, lang)
				return nil
			})
		}
		_ = g.Wait()
		log.Debugf("Preloaded %d corpora in %v", len(langs), time.Since(start))
	}()
}

// Wait blocks until background preloads have finished.
func (s *Store) Wait() {
	s.preloading.Wait()
}

// Invalidate drops the cached corpus and the failure record for language,
// so the next LoadCorpus reads it again.
func (s *Store) Invalidate(language string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generations[language]++
	s.cache.Remove(language)
	delete(s.diagnostics, language)
	s.languages = nil
	s.group.Forget(language)
	s.metrics.SetCacheState(s.usageLocked(), s.cache.Len())
	log.Debugf("Invalidated %s corpus", language)
}

// MemoryUsage returns the summed estimate of all cached corpora.
func (s *Store) MemoryUsage() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usageLocked()
}

// MemoryBudget returns the configured soft cap.
func (s *Store) MemoryBudget() int64 {
	return s.opts.MemoryBudget
}

// LastError returns the last load failure for language, if any.
func (s *Store) LastError(language string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.diagnostics[language]
}

// Diagnostics returns the recorded load failures by language.
func (s *Store) Diagnostics() map[string]error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]error, len(s.diagnostics))
	for lang, err := range s.diagnostics {
		out[lang] = err
	}
	return out
}

// Stats returns a snapshot of the cache.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	cached := s.cache.Keys()
	sort.Strings(cached)
	failed := make(map[string]string, len(s.diagnostics))
	for lang, err := range s.diagnostics {
		failed[lang] = err.Error()
	}
	return Stats{
		Cached:       cached,
		Active:       s.active,
		MemoryBytes:  s.usageLocked(),
		MemoryBudget: s.opts.MemoryBudget,
		Failed:       failed,
	}
}
