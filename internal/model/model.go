// Package model defines shared data structures.
package model

import (
	"strconv"
	"time"
)

// Layouts used when stamping records at ingestion time.
const (
	DateLayout      = "02012006"            // DDMMYYYY
	TimestampLayout = "2006-01-02 15:04:05" // local, second precision
)

// Severity is the derived color tier of an incident.
type Severity string

// Severity tiers.
const (
	Green  Severity = "green"
	Yellow Severity = "yellow"
	Red    Severity = "red"
)

// Severities lists every valid tier.
var Severities = []Severity{Green, Yellow, Red}

// Valid reports whether s is one of the three tiers.
func (s Severity) Valid() bool {
	switch s {
	case Green, Yellow, Red:
		return true
	}
	return false
}

// IncidentRecord is a single persisted incident entry.
type IncidentRecord struct {
	ID        string   `json:"id" yaml:"id"`
	Date      string   `json:"date" yaml:"date"`           // DDMMYYYY
	Timestamp string   `json:"timestamp" yaml:"timestamp"` // YYYY-MM-DD HH:MM:SS
	Title     string   `json:"title" yaml:"title"`
	Status    string   `json:"status" yaml:"status"` // sanitized, at most 200 chars
	Color     Severity `json:"color" yaml:"color"`
}

// DateNumber returns the record date as an integer for range comparisons.
func (r IncidentRecord) DateNumber() (int, bool) {
	n, err := strconv.Atoi(r.Date)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Stamp fills Date and Timestamp from t in its own location.
func (r *IncidentRecord) Stamp(t time.Time) {
	r.Date = t.Format(DateLayout)
	r.Timestamp = t.Format(TimestampLayout)
}

// FeedEntry is a single entry parsed from an upstream feed.
type FeedEntry struct {
	ID      string
	Title   string
	Summary string // may contain HTML
}

// FeedCacheEntry holds per-endpoint revalidation state for the process lifetime.
type FeedCacheEntry struct {
	Endpoint string
	ETag     string // empty if no token has been obtained yet
}
