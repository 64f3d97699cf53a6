// Package history holds the append-only incident history in memory and keeps
// it in step with a durable database.Store.
//
// Records are kept in insertion order. A record is visible to Contains and the
// query methods only after the backend accepted it.
package history

import (
	"sync"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"

	"github.com/bryan-buckman/statuspulse/internal/database"
	"github.com/bryan-buckman/statuspulse/internal/model"
)

// ErrDuplicate is returned when appending a record whose id is already stored.
var ErrDuplicate = errors.New("incident already recorded")

// ErrMissingID is returned when appending a record without an id.
var ErrMissingID = errors.New("incident has no id")

// History is the in-memory view of the durable store.
type History struct {
	store  database.Store
	logger *log.Logger

	mu      sync.RWMutex
	records []model.IncidentRecord
	seen    map[string]struct{}
}

// New returns an empty history backed by store. Call Load to replay it.
func New(store database.Store, logger *log.Logger) *History {
	if logger == nil {
		logger = log.Default()
	}
	return &History{
		store:  store,
		logger: logger,
		seen:   make(map[string]struct{}),
	}
}

// Load replays the durable store into memory, replacing any current state.
// A corrupt store is treated as empty history.
func (h *History) Load() error {
	records, err := h.store.Load()
	if err != nil {
		if !errors.Is(err, database.ErrCorrupt) {
			return errors.Wrap(err, "load history")
		}
		h.logger.Warn("History store unreadable, starting empty", "backend", h.store.DatabaseType(), "err", err)
		records = nil
	}

	// Records with a repeated id are kept; the id is marked seen once.
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if _, dup := seen[r.ID]; dup {
			h.logger.Warn("Duplicate record id in store", "id", r.ID)
			continue
		}
		seen[r.ID] = struct{}{}
	}

	h.mu.Lock()
	h.records = records
	h.seen = seen
	h.mu.Unlock()

	h.logger.Debug("History loaded", "backend", h.store.DatabaseType(), "records", len(records))
	return nil
}

// Append adds rec to the end of the history and persists it.
// If the backend fails, the in-memory state is left unchanged and the error
// is returned.
func (h *History) Append(rec model.IncidentRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.appendLocked(rec)
}

// AppendIfAbsent appends rec unless its id is already known.
// It reports whether the record was added.
func (h *History) AppendIfAbsent(rec model.IncidentRecord) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.seen[rec.ID]; ok {
		return false, nil
	}
	if err := h.appendLocked(rec); err != nil {
		return false, err
	}
	return true, nil
}

func (h *History) appendLocked(rec model.IncidentRecord) error {
	if rec.ID == "" {
		return ErrMissingID
	}
	if _, ok := h.seen[rec.ID]; ok {
		return errors.Wrapf(ErrDuplicate, "id %s", rec.ID)
	}

	next := append(h.records, rec)
	if err := h.store.Append(next); err != nil {
		// next may share its backing array with h.records; h.records itself
		// still has the old length, so nothing leaks into reads.
		return errors.Wrapf(err, "persist incident %s", rec.ID)
	}
	h.records = next
	h.seen[rec.ID] = struct{}{}
	return nil
}

// Contains reports whether id has been recorded.
func (h *History) Contains(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.seen[id]
	return ok
}

// Len returns the number of records.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

// All returns a copy of every record in insertion order.
func (h *History) All() []model.IncidentRecord {
	return h.filter(func(model.IncidentRecord) bool { return true })
}

// Range returns records whose DDMMYYYY date, read as an integer, lies in
// [start, end]. Records with a non-numeric date are skipped.
func (h *History) Range(start, end int) []model.IncidentRecord {
	return h.filter(func(r model.IncidentRecord) bool {
		n, ok := r.DateNumber()
		return ok && start <= n && n <= end
	})
}

// BySeverity returns records with the given color.
func (h *History) BySeverity(sev model.Severity) []model.IncidentRecord {
	return h.filter(func(r model.IncidentRecord) bool { return r.Color == sev })
}

func (h *History) filter(keep func(model.IncidentRecord) bool) []model.IncidentRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]model.IncidentRecord, 0, len(h.records))
	for _, r := range h.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}
