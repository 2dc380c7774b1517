package utils

import (
	"github.com/bastiangx/codeserve/pkg/trigger"
)

// IdentPrefix returns the identifier fragment ending at cursor (a rune offset
// into line) and the rune offset where it starts. Offsets past the end of the
// line are clamped.
func IdentPrefix(line string, cursor int) (string, int) {
	runes := []rune(line)
	cursor = max(0, min(cursor, len(runes)))
	start := cursor
	for start > 0 && trigger.IsIdentRune(runes[start-1]) {
		start--
	}
	return string(runes[start:cursor]), start
}

// RuneAt returns the character at rune offset i, or "" when out of range.
func RuneAt(line string, i int) string {
	if i < 0 {
		return ""
	}
	for j, r := range []rune(line) {
		if j == i {
			return string(r)
		}
	}
	return ""
}
