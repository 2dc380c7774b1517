package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecide(t *testing.T) {
	policy := NewPolicy(DefaultTriggers())
	cpp := Context{Language: "cpp", Prefix: "st"}

	tests := []struct {
		name    string
		event   Event
		ctx     Context
		visible bool
		want    Decision
	}{
		{"ctrl passes through", Event{Key: "a", Ctrl: true}, cpp, true, Decision{Action: PassThrough}},
		{"alt passes through even for escape", Event{Key: KeyEscape, Alt: true}, cpp, true, Decision{Action: PassThrough}},
		{"escape dismisses", Key(KeyEscape), cpp, true, Decision{Action: Dismiss}},
		{"escape while hidden", Key(KeyEscape), cpp, false, Decision{Action: Dismiss}},
		{"arrow down navigates", Key(KeyArrowDown), cpp, true, Decision{Action: Navigate, Direction: Down}},
		{"arrow up navigates", Key(KeyArrowUp), cpp, true, Decision{Action: Navigate, Direction: Up}},
		{"arrow while hidden", Key(KeyArrowUp), cpp, false, Decision{Action: PassThrough}},
		{"tab accepts", Key(KeyTab), cpp, true, Decision{Action: Accept}},
		{"tab while hidden inserts a tab", Key(KeyTab), cpp, false, Decision{Action: PassThrough}},
		{"enter dismisses", Key(KeyEnter), cpp, true, Decision{Action: Dismiss}},
		{"letter shows", Key("s"), cpp, false, Decision{Action: Show}},
		{"letter refilters", Key("t"), cpp, true, Decision{Action: UpdateFilter}},
		{"digit refilters", Key("2"), cpp, true, Decision{Action: UpdateFilter}},
		{"underscore shows", Key("_"), cpp, false, Decision{Action: Show}},
		{"unicode letter shows", Key("é"), cpp, false, Decision{Action: Show}},
		{"dot triggers", Key("."), cpp, false, Decision{Action: Show}},
		{"arrow operator triggers", Key(">"), Context{Language: "cpp", CharBefore: "-"}, false, Decision{Action: Show}},
		{"scope operator triggers", Key(":"), Context{Language: "cpp", CharBefore: ":"}, false, Decision{Action: Show}},
		{"lone colon dismisses", Key(":"), Context{Language: "cpp", CharBefore: "a"}, true, Decision{Action: Dismiss}},
		{"greater than alone dismisses", Key(">"), Context{Language: "cpp", CharBefore: " "}, true, Decision{Action: Dismiss}},
		{"scope operator is not a python trigger", Key(":"), Context{Language: "python", CharBefore: ":"}, false, Decision{Action: Dismiss}},
		{"dot in unknown language", Key("."), Context{Language: "cobol"}, false, Decision{Action: Dismiss}},
		{"space dismisses", Key(" "), cpp, true, Decision{Action: Dismiss}},
		{"paren dismisses", Key("("), cpp, true, Decision{Action: Dismiss}},
		{"backspace refilters", Key(KeyBackspace), Context{Language: "cpp", Prefix: "s"}, true, Decision{Action: UpdateFilter}},
		{"backspace to empty prefix dismisses", Key(KeyBackspace), Context{Language: "cpp"}, true, Decision{Action: Dismiss}},
		{"backspace while hidden", Key(KeyBackspace), cpp, false, Decision{Action: NoOp}},
		{"cursor movement dismisses", Key(KeyArrowLeft), cpp, true, Decision{Action: Dismiss}},
		{"unknown named key", Key("Shift"), cpp, true, Decision{Action: NoOp}},
		{"blur dismisses", Event{Type: EventBlur}, cpp, true, Decision{Action: Dismiss}},
		{"scroll repositions", Event{Type: EventScroll}, cpp, true, Decision{Action: NoOp, Reposition: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.Decide(tt.event, tt.ctx, tt.visible))
		})
	}
}

func TestNewPolicyDropsInvalidSequences(t *testing.T) {
	policy := NewPolicy(map[string][]string{"lua": {":", "", "..."}})
	assert.Equal(t, []string{":"}, policy.Triggers("lua"))
	assert.Empty(t, policy.Triggers("go"))
}

func TestParseDirection(t *testing.T) {
	d, ok := ParseDirection("UP")
	assert.True(t, ok)
	assert.Equal(t, Up, d)

	_, ok = ParseDirection("left")
	assert.False(t, ok)
	assert.Equal(t, "down", Down.String())
	assert.Equal(t, "accept", Accept.String())
}
