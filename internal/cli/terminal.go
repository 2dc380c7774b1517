package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/bastiangx/codeserve/internal/utils"
	"github.com/bastiangx/codeserve/pkg/corpus"
	"github.com/bastiangx/codeserve/pkg/match"
)

// styles are bound to the output's renderer, so piping to a file or a test
// buffer drops the colors.
type styles struct {
	word    lipgloss.Style
	kind    lipgloss.Style
	score   lipgloss.Style
	muted   lipgloss.Style
	heading lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		word:    r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#286983", Dark: "#9ccfd8"}),
		kind:    r.NewStyle().Italic(true).Foreground(lipgloss.AdaptiveColor{Light: "#907aa9", Dark: "#c4a7e7"}),
		score:   r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#797593", Dark: "#908caa"}),
		muted:   r.NewStyle().Faint(true),
		heading: r.NewStyle().Bold(true),
	}
}

func (s styles) suggestions(w io.Writer, prefix, language string, res match.Result) {
	fmt.Fprintln(w, s.heading.Render(fmt.Sprintf("%d suggestions for %q in %s", len(res.Suggestions), prefix, language)))
	for i, sg := range res.Suggestions {
		fmt.Fprintf(w, "%2d. %s %s %s\n", i+1,
			s.word.Render(fmt.Sprintf("%-32s", sg.Text)),
			s.kind.Render(fmt.Sprintf("%-9s", sg.Kind)),
			s.score.Render(fmt.Sprintf("%3d", sg.Score)))
	}
	took := fmt.Sprintf("took %v", res.Elapsed.Round(time.Microsecond))
	if res.Partial {
		took += ", budget exceeded"
	}
	fmt.Fprintln(w, s.muted.Render(took))
}

func (s styles) entries(w io.Writer, prefix string, entries []corpus.Entry) {
	fmt.Fprintln(w, s.heading.Render(fmt.Sprintf("%d index entries under %q", len(entries), prefix)))
	for _, e := range entries {
		fmt.Fprintf(w, "    %s %s\n", s.word.Render(fmt.Sprintf("%-32s", e.Text)), s.kind.Render(e.Kind.String()))
	}
}

func (s styles) memory(w io.Writer, stats corpus.Stats) {
	fmt.Fprintln(w, s.heading.Render("corpus cache"))
	fmt.Fprintf(w, "  used    %s of %s %s\n", utils.FormatBytes(stats.MemoryBytes), utils.FormatBytes(stats.MemoryBudget),
		s.muted.Render("("+utils.FormatWithCommas(stats.MemoryBytes)+" bytes)"))
	fmt.Fprintf(w, "  cached  %s\n", orNone(strings.Join(stats.Cached, ", ")))
	fmt.Fprintf(w, "  active  %s\n", orNone(stats.Active))
	for lang, reason := range stats.Failed {
		fmt.Fprintf(w, "  failed  %s: %s\n", lang, s.muted.Render(reason))
	}
}

func (s styles) help(w io.Writer) {
	fmt.Fprintln(w, s.heading.Render("commands"))
	for _, line := range [][2]string{
		{":lang <id>", "switch language"},
		{":langs", "list languages with a corpus"},
		{":limit <n>", "number of suggestions"},
		{":mem", "corpus cache usage"},
		{":trie <p>", "raw index entries under a prefix, unranked"},
		{":help", "this text"},
	} {
		fmt.Fprintf(w, "  %-12s %s\n", line[0], s.muted.Render(line[1]))
	}
	fmt.Fprintln(w, s.muted.Render("anything else is matched as a prefix"))
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
