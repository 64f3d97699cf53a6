// Package sanitize strips markup from incident summaries.
package sanitize

import (
	"regexp"
	"strings"
)

// MaxStatusLength is the display limit for a record's status text.
const MaxStatusLength = 200

var tagPattern = regexp.MustCompile(`<[^>]+>`)

// HTML removes every angle-bracket tag from s and trims surrounding whitespace.
// It is not a parser: unbalanced markup is passed through as-is.
func HTML(s string) string {
	return strings.TrimSpace(tagPattern.ReplaceAllString(s, ""))
}

// Truncate cuts s to at most n characters.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// Status sanitizes and truncates a summary for storage.
func Status(summary string) string {
	return Truncate(HTML(summary), MaxStatusLength)
}
