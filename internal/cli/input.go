// Package cli is an interactive console for trying the matching engine
// against the loaded corpora, mostly for debugging.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/bastiangx/codeserve/internal/logger"
	"github.com/bastiangx/codeserve/internal/utils"
	"github.com/bastiangx/codeserve/pkg/corpus"
	"github.com/bastiangx/codeserve/pkg/match"
)

// Store is the part of the corpus store the console uses.
type Store interface {
	LoadCorpus(ctx context.Context, language string) *corpus.Corpus
	Supports(language string) bool
	Languages() []string
	SetActive(language string)
	Stats() corpus.Stats
}

// Matcher ranks corpus entries for a prefix.
type Matcher interface {
	MatchDetailed(prefix string, c *corpus.Corpus, maxResults int) match.Result
}

// InputHandler reads prefixes and commands line by line and prints ranked
// suggestions for the current language.
type InputHandler struct {
	store    Store
	matcher  Matcher
	language string
	limit    int
	in       io.Reader
	out      io.Writer
	styles   styles
	log      *log.Logger
}

// NewInputHandler creates a console starting in language.
func NewInputHandler(store Store, matcher Matcher, language string, limit int, in io.Reader, out io.Writer) *InputHandler {
	return &InputHandler{
		store:    store,
		matcher:  matcher,
		language: language,
		limit:    limit,
		in:       in,
		out:      out,
		styles:   newStyles(out),
		log:      logger.NewWithConfig("console", log.GetLevel(), false, false, log.TextFormatter),
	}
}

// Start runs the loop until the input ends or ctx is cancelled.
func (h *InputHandler) Start(ctx context.Context) error {
	fmt.Fprintf(h.out, "codeserve console, language %s (:help for commands, Ctrl+D to exit)\n", h.language)

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines := make(chan string)
	errc := make(chan error, 1)
	go h.readLines(readCtx, lines, errc)

	for {
		fmt.Fprint(h.out, "> ")
		select {
		case <-ctx.Done():
			fmt.Fprintln(h.out)
			if c, ok := h.in.(io.Closer); ok {
				c.Close()
			}
			return nil
		case err := <-errc:
			fmt.Fprintln(h.out)
			return err
		case line := <-lines:
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			h.handleLine(ctx, line)
		}
	}
}

// readLines feeds scanned lines to out and reports the scanner's final error.
func (h *InputHandler) readLines(ctx context.Context, out chan<- string, errc chan<- error) {
	scanner := bufio.NewScanner(h.in)
	for scanner.Scan() {
		select {
		case out <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
	errc <- scanner.Err()
}

func (h *InputHandler) handleLine(ctx context.Context, line string) {
	if !strings.HasPrefix(line, ":") {
		h.complete(ctx, line)
		return
	}

	cmd, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "lang":
		if arg == "" {
			fmt.Fprintln(h.out, h.language)
			return
		}
		if !h.store.Supports(arg) {
			h.log.Errorf("No corpus for language %q", arg)
			return
		}
		h.language = arg
		h.store.SetActive(arg)
		fmt.Fprintf(h.out, "language %s\n", arg)
	case "langs":
		fmt.Fprintln(h.out, strings.Join(h.store.Languages(), " "))
	case "limit":
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			h.log.Errorf("Invalid limit %q", arg)
			return
		}
		h.limit = n
	case "mem":
		h.styles.memory(h.out, h.store.Stats())
	case "trie":
		h.lookup(ctx, arg)
	case "help":
		h.styles.help(h.out)
	default:
		h.log.Errorf("Unknown command %q, try :help", cmd)
	}
}

// lookup prints the index entries under prefix in trie order, skipping the
// ranking.
func (h *InputHandler) lookup(ctx context.Context, prefix string) {
	if !utils.IsValidPrefix(prefix) {
		h.log.Warnf("Not an identifier prefix: %q", prefix)
		return
	}
	c := h.store.LoadCorpus(ctx, h.language)
	h.styles.entries(h.out, prefix, c.Trie().FindByPrefix(prefix, h.limit))
}

func (h *InputHandler) complete(ctx context.Context, prefix string) {
	if !utils.IsValidPrefix(prefix) {
		h.log.Warnf("Not an identifier prefix: %q", prefix)
		return
	}
	if !h.store.Supports(h.language) {
		h.log.Errorf("No corpus for language %q, use :lang", h.language)
		return
	}

	c := h.store.LoadCorpus(ctx, h.language)
	res := h.matcher.MatchDetailed(prefix, c, h.limit)
	h.log.Debug("Matched", "prefix", prefix, "language", h.language, "results", len(res.Suggestions), "elapsed", res.Elapsed)
	if len(res.Suggestions) == 0 {
		h.log.Warnf("No suggestions found for prefix: %q", prefix)
		return
	}
	h.styles.suggestions(h.out, prefix, h.language, res)
}
