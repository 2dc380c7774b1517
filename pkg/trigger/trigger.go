/*
Package trigger decides what a keystroke means for the completion popup.

Decide is a pure function of the event, the editor context and whether the
popup is currently visible. It never touches controller state, so a host can
also use it to predict whether a key will be consumed.

Rules, first match wins:

	ctrl, meta or alt held  PassThrough
	Escape                  Dismiss
	ArrowUp/Down            Navigate when visible, otherwise PassThrough
	Tab                     Accept when visible, otherwise PassThrough
	Enter                   Dismiss, the host inserts its newline
	identifier character    Show when hidden, UpdateFilter when visible
	trigger sequence        same as an identifier character (".", "->", "::" per language)
	other character         Dismiss
	blur                    Dismiss
	scroll                  NoOp with Reposition set

Backspace refilters while a prefix remains and dismisses once it is gone.
Horizontal movement keys dismiss. Other named keys are ignored.
*/
package trigger

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/charmbracelet/log"
)

// Action is the outcome of a policy decision.
type Action uint8

const (
	NoOp Action = iota
	Show
	UpdateFilter
	Dismiss
	Navigate
	Accept
	PassThrough
)

var actionNames = [...]string{
	NoOp:         "noop",
	Show:         "show",
	UpdateFilter: "update",
	Dismiss:      "dismiss",
	Navigate:     "navigate",
	Accept:       "accept",
	PassThrough:  "pass",
}

func (a Action) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return "unknown"
}

// Direction is the navigation direction.
type Direction int8

const (
	Down Direction = 1
	Up   Direction = -1
)

func (d Direction) String() string {
	if d == Up {
		return "up"
	}
	return "down"
}

// ParseDirection accepts "up" and "down".
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToLower(s) {
	case "up":
		return Up, true
	case "down":
		return Down, true
	}
	return Down, false
}

// EventType is the kind of editor event.
type EventType uint8

const (
	EventKey EventType = iota
	EventBlur
	EventScroll
)

// Named keys.
const (
	KeyEscape     = "Escape"
	KeyEnter      = "Enter"
	KeyTab        = "Tab"
	KeyArrowUp    = "ArrowUp"
	KeyArrowDown  = "ArrowDown"
	KeyArrowLeft  = "ArrowLeft"
	KeyArrowRight = "ArrowRight"
	KeyBackspace  = "Backspace"
	KeyHome       = "Home"
	KeyEnd        = "End"
	KeyPageUp     = "PageUp"
	KeyPageDown   = "PageDown"
)

// Event is a raw editor event.
type Event struct {
	Type EventType
	// Key is a named key or a single typed character.
	Key  string
	Ctrl bool
	Meta bool
	Alt  bool
}

// Key builds a plain key event.
func Key(k string) Event {
	return Event{Type: EventKey, Key: k}
}

// Context is the editor state at the time of an event.
type Context struct {
	// Prefix is the identifier fragment before the cursor, after the keystroke.
	Prefix   string
	Language string
	LineText string
	// CharBefore is the character before the one just typed.
	CharBefore   string
	CharAfter    string
	CursorOffset int
}

// Decision is what the controller should do with an event.
type Decision struct {
	Action    Action
	Direction Direction
	// Reposition asks the host to move a visible popup.
	Reposition bool
}

// DefaultTriggers returns the built-in trigger sequences.
func DefaultTriggers() map[string][]string {
	return map[string][]string{
		"c":          {".", "->"},
		"cpp":        {".", "->", "::"},
		"rust":       {".", "::"},
		"python":     {"."},
		"javascript": {"."},
		"typescript": {"."},
		"go":         {"."},
	}
}

// Policy maps events to decisions using a per-language trigger table.
// It is immutable after construction.
type Policy struct {
	triggers map[string][]string
}

// NewPolicy creates a policy. Sequences longer than two characters, or empty,
// are dropped.
func NewPolicy(triggers map[string][]string) *Policy {
	table := make(map[string][]string, len(triggers))
	for lang, seqs := range triggers {
		for _, seq := range seqs {
			n := utf8.RuneCountInString(seq)
			if n == 0 || n > 2 {
				log.Warnf("Ignoring trigger sequence %q for %s: must be one or two characters", seq, lang)
				continue
			}
			table[lang] = append(table[lang], seq)
		}
	}
	return &Policy{triggers: table}
}

// Triggers returns the sequences for language.
func (p *Policy) Triggers(language string) []string {
	return append([]string(nil), p.triggers[language]...)
}

// Decide maps an event to a decision.
func (p *Policy) Decide(ev Event, ctx Context, visible bool) Decision {
	switch ev.Type {
	case EventBlur:
		return Decision{Action: Dismiss}
	case EventScroll:
		return Decision{Action: NoOp, Reposition: true}
	}

	if ev.Ctrl || ev.Meta || ev.Alt {
		return Decision{Action: PassThrough}
	}

	switch ev.Key {
	case KeyEscape:
		return Decision{Action: Dismiss}
	case KeyArrowUp:
		if visible {
			return Decision{Action: Navigate, Direction: Up}
		}
		return Decision{Action: PassThrough}
	case KeyArrowDown:
		if visible {
			return Decision{Action: Navigate, Direction: Down}
		}
		return Decision{Action: PassThrough}
	case KeyTab:
		if visible {
			return Decision{Action: Accept}
		}
		return Decision{Action: PassThrough}
	case KeyEnter:
		return Decision{Action: Dismiss}
	case KeyBackspace:
		if !visible {
			return Decision{Action: NoOp}
		}
		if ctx.Prefix == "" {
			return Decision{Action: Dismiss}
		}
		return Decision{Action: UpdateFilter}
	case KeyArrowLeft, KeyArrowRight, KeyHome, KeyEnd, KeyPageUp, KeyPageDown:
		return Decision{Action: Dismiss}
	}

	r, ok := singleRune(ev.Key)
	if !ok {
		// Shift, CapsLock, F-keys and the like
		return Decision{Action: NoOp}
	}

	if IsIdentRune(r) || p.isTrigger(r, ctx) {
		if visible {
			return Decision{Action: UpdateFilter}
		}
		return Decision{Action: Show}
	}
	return Decision{Action: Dismiss}
}

func (p *Policy) isTrigger(r rune, ctx Context) bool {
	for _, seq := range p.triggers[ctx.Language] {
		runes := []rune(seq)
		if runes[len(runes)-1] != r {
			continue
		}
		if len(runes) == 1 {
			return true
		}
		if before, ok := singleRune(ctx.CharBefore); ok && before == runes[0] {
			return true
		}
	}
	return false
}

// IsIdentRune reports whether r can be part of an identifier.
func IsIdentRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func singleRune(s string) (rune, bool) {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 || size != len(s) || r == utf8.RuneError {
		return 0, false
	}
	return r, true
}
