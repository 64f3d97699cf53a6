package database

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/bryan-buckman/statuspulse/internal/model"
)

// JSONStore keeps the full history as a single JSON array on disk.
type JSONStore struct {
	path string
}

// Ensure JSONStore implements Store interface.
var _ Store = (*JSONStore)(nil)

// NewJSON returns a store backed by the document at path.
// The file is created on the first Append.
func NewJSON(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Path returns the document location.
func (s *JSONStore) Path() string {
	return s.path
}

// Close is a no-op; the document is not held open between writes.
func (s *JSONStore) Close() error {
	return nil
}

// DatabaseType returns the database backend name.
func (s *JSONStore) DatabaseType() string {
	return "JSON"
}

// Load reads the document. A missing file is an empty history.
func (s *JSONStore) Load() ([]model.IncidentRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "read %s", s.path)
	}
	var records []model.IncidentRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "decode %s", s.path), ErrCorrupt)
	}
	return records, nil
}

// Append rewrites the whole document with history.
// The new content is written to a temporary file and renamed over the old one.
func (s *JSONStore) Append(history []model.IncidentRecord) error {
	if history == nil {
		history = []model.IncidentRecord{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(history); err != nil {
		return errors.Wrap(err, "encode history")
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "create temp file in %s", dir)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		cleanup()
		return errors.Wrapf(err, "write %s", tmpName)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return errors.Wrapf(err, "sync %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return errors.Wrapf(err, "close %s", tmpName)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return errors.Wrapf(err, "replace %s", s.path)
	}
	return nil
}
