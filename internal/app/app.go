// Package app wires the config into a corpus store, a matching engine and a
// trigger policy, the pieces every command shares.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/bastiangx/codeserve/internal/metrics"
	"github.com/bastiangx/codeserve/internal/utils"
	"github.com/bastiangx/codeserve/pkg/completion"
	"github.com/bastiangx/codeserve/pkg/config"
	"github.com/bastiangx/codeserve/pkg/corpus"
	"github.com/bastiangx/codeserve/pkg/match"
	"github.com/bastiangx/codeserve/pkg/server"
	"github.com/bastiangx/codeserve/pkg/trigger"
)

// Name is used for the config directory and log prefixes.
const Name = "codeserve"

// App holds the shared components of one process.
type App struct {
	Config  *config.Config
	Store   *corpus.Store
	Engine  *match.Engine
	Policy  *trigger.Policy
	Metrics *metrics.Metrics
	// CorpusDir is the resolved user corpus directory, empty when only the
	// builtin corpora are used.
	CorpusDir string
}

// New builds the components from cfg. dataDir, when set, overrides the
// configured corpus directory.
func New(cfg *config.Config, dataDir string) *App {
	m := metrics.Default()

	dir := cfg.Corpus.Dir
	if dataDir != "" {
		dir = dataDir
	}
	corpusDir := resolveCorpusDir(dir)

	store := corpus.NewStore(sourceFor(corpusDir), corpus.Options{
		MemoryBudget: cfg.Corpus.MemoryBudget(),
		Preload:      cfg.Corpus.Preload,
		Metrics:      m,
	})
	engine := match.New(match.Options{
		MaxResults:    cfg.Engine.MaxResults,
		InternalLimit: cfg.Engine.InternalLimit,
		Budget:        cfg.Engine.Budget(),
		SubstringTier: cfg.Engine.SubstringTier,
		Metrics:       m,
	})

	return &App{
		Config:    cfg,
		Store:     store,
		Engine:    engine,
		Policy:    trigger.NewPolicy(cfg.Triggers),
		Metrics:   m,
		CorpusDir: corpusDir,
	}
}

// sourceFor layers a user directory over the builtin corpora.
func sourceFor(dir string) corpus.Source {
	if dir == "" {
		return corpus.Builtin()
	}
	return corpus.Layered{corpus.NewDirSource(dir), corpus.Builtin()}
}

// resolveCorpusDir finds dir relative to the usual places and checks that it
// holds at least one corpus file.
func resolveCorpusDir(dir string) string {
	if dir == "" {
		return ""
	}
	pr, err := utils.NewPathResolver(Name)
	if err != nil {
		log.Warnf("Could not resolve corpus directory %s: %v. Using builtin corpora only.", dir, err)
		return ""
	}
	var exts []string
	for _, f := range corpus.ListSupportedFormats() {
		exts = append(exts, f.Extensions...)
	}
	found, ok := pr.FindDir(dir, func(d string) bool { return utils.HasFileWithExt(d, exts) })
	if !ok {
		log.Warnf("No corpus files found in %s. Using builtin corpora only.", dir)
		return ""
	}
	log.Debugf("Using corpus dir at: %s", found)
	return found
}

// SessionOptions returns the controller template for IPC sessions.
func (a *App) SessionOptions() completion.Options {
	return completion.Options{
		Debounce:   a.Config.Controller.Debounce(),
		MaxResults: a.Config.Engine.MaxResults,
		Policy:     a.Policy,
		Metrics:    a.Metrics,
	}
}

// ServerOptions returns the IPC server options.
func (a *App) ServerOptions() server.Options {
	opts := server.DefaultOptions()
	opts.Session = a.SessionOptions()
	return opts
}

// Watch starts invalidating cached corpora when files in the corpus
// directory change. It returns nil when watching is off or there is no
// user directory.
func (a *App) Watch(ctx context.Context) (*corpus.Watcher, error) {
	if !a.Config.Corpus.Watch || a.CorpusDir == "" {
		return nil, nil
	}
	return corpus.Watch(ctx, a.CorpusDir, a.Store)
}

// Export encodes the corpus of language in the format matching ext, such as
// "yaml" or ".msgpack". The result is what a corpus directory file holds.
func (a *App) Export(ctx context.Context, language, ext string) ([]byte, error) {
	if !a.Store.Supports(language) {
		return nil, fmt.Errorf("no corpus for language %q", language)
	}
	format, _, err := corpus.DetectFormat(language + "." + strings.TrimPrefix(ext, "."))
	if err != nil {
		return nil, err
	}
	c := a.Store.LoadCorpus(ctx, language)
	if c.IsEmpty() {
		if err := a.Store.LastError(language); err != nil {
			return nil, fmt.Errorf("loading %s corpus: %w", language, err)
		}
	}
	data, err := corpus.Encode(corpus.ToResource(c), format)
	if err != nil {
		return nil, fmt.Errorf("encoding %s corpus: %w", language, err)
	}
	return data, nil
}

// ServeMetrics serves /metrics on addr until ctx is done.
func (a *App) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.Metrics.Handler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Metrics server stopped: %v", err)
		}
	}()
	log.Debugf("Serving metrics on http://%s/metrics", ln.Addr())
	return nil
}
