package util

import (
	"strings"
	"unicode/utf8"
)

// TrimmedLength counts characters (not bytes) after trimming surrounding whitespace
func TrimmedLength(s string) int {
	return utf8.RuneCountInString(strings.TrimSpace(s))
}

// StringPtr returns a pointer to a copy of v
func StringPtr(v string) *string {
	return &v
}
