package utils

import (
	"unicode"
	"unicode/utf8"

	"github.com/bastiangx/codeserve/pkg/trigger"
)

// MaxPrefixLength bounds prefixes accepted from one-shot requests.
const MaxPrefixLength = 64

// IsOnlyNumbers checks if a string consists entirely of numeric digits
func IsOnlyNumbers(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// IsValidPrefix checks if a prefix is worth matching: non-empty, made of
// identifier characters, not a number literal and not absurdly long.
func IsValidPrefix(s string) bool {
	if s == "" || utf8.RuneCountInString(s) > MaxPrefixLength {
		return false
	}
	if IsOnlyNumbers(s) {
		return false
	}
	for _, r := range s {
		if !trigger.IsIdentRune(r) {
			return false
		}
	}
	return true
}
