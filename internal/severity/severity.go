// Package severity maps incident titles to a color tier.
package severity

import (
	"strings"

	"github.com/bryan-buckman/statuspulse/internal/model"
)

// Keyword sets, checked in order. The first set with a match wins.
var (
	RedKeywords    = []string{"down", "outage", "critical"}
	YellowKeywords = []string{"latency", "degraded", "issue"}
)

// Classify returns the severity for an incident title.
// Matching is case-insensitive and substring based.
func Classify(title string) model.Severity {
	t := strings.ToLower(title)
	if containsAny(t, RedKeywords) {
		return model.Red
	}
	if containsAny(t, YellowKeywords) {
		return model.Yellow
	}
	return model.Green
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
