// Package query exposes read-only views over the incident history.
package query

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/bryan-buckman/statuspulse/internal/model"
)

// Errors returned for invalid query arguments.
var (
	ErrInvalidDate     = errors.New("invalid date, want DDMMYYYY")
	ErrInvalidSeverity = errors.New("invalid severity, want green, yellow or red")
)

// Source is the read side of the history.
type Source interface {
	All() []model.IncidentRecord
	Range(start, end int) []model.IncidentRecord
	BySeverity(sev model.Severity) []model.IncidentRecord
}

// Service answers queries from the CLI and HTTP surfaces.
type Service struct {
	src Source
}

// New returns a query service over src.
func New(src Source) *Service {
	return &Service{src: src}
}

// All returns every record in insertion order.
func (s *Service) All() []model.IncidentRecord {
	return s.src.All()
}

// Range returns records dated between start and end inclusive.
// Both bounds are DDMMYYYY strings compared as integers.
func (s *Service) Range(start, end string) ([]model.IncidentRecord, error) {
	lo, err := ParseDate(start)
	if err != nil {
		return nil, err
	}
	hi, err := ParseDate(end)
	if err != nil {
		return nil, err
	}
	return s.src.Range(lo, hi), nil
}

// Filter returns records of the given color.
func (s *Service) Filter(color string) ([]model.IncidentRecord, error) {
	sev, err := ParseSeverity(color)
	if err != nil {
		return nil, err
	}
	return s.src.BySeverity(sev), nil
}

// ParseDate validates a DDMMYYYY numeral and returns its integer value.
func ParseDate(s string) (int, error) {
	s = strings.TrimSpace(s)
	if len(s) != 8 {
		return 0, errors.Wrapf(ErrInvalidDate, "%q", s)
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errors.Wrapf(ErrInvalidDate, "%q", s)
		}
	}
	return strconv.Atoi(s)
}

// ParseSeverity accepts green, yellow or red in any case.
func ParseSeverity(s string) (model.Severity, error) {
	sev := model.Severity(strings.ToLower(strings.TrimSpace(s)))
	if !sev.Valid() {
		return "", errors.Wrapf(ErrInvalidSeverity, "%q", s)
	}
	return sev, nil
}
