// Package database provides durable backends for the incident history.
package database

import (
	"github.com/cockroachdb/errors"

	"github.com/bryan-buckman/statuspulse/internal/model"
)

// ErrCorrupt marks a store that exists but cannot be decoded.
var ErrCorrupt = errors.New("history store is corrupt")

// Supported driver names.
const (
	DriverJSON     = "json"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store defines the interface for durable history operations.
// The JSON, SQLite and PostgreSQL implementations satisfy this interface.
type Store interface {
	Close() error

	// DatabaseType returns the name of the backend ("JSON", "SQLite" or "PostgreSQL").
	DatabaseType() string

	// Load returns every persisted record in insertion order.
	// A store that does not exist yet yields an empty slice and no error.
	Load() ([]model.IncidentRecord, error)

	// Append persists history, the complete record sequence whose last
	// element is the record just accepted. Backends may rewrite the whole
	// sequence or write only the last element.
	Append(history []model.IncidentRecord) error
}

// Open returns the backend selected by driver.
// path is used by the JSON and SQLite backends, dsn by PostgreSQL.
func Open(driver, path, dsn string) (Store, error) {
	switch driver {
	case DriverJSON, "":
		return NewJSON(path), nil
	case DriverSQLite:
		return New(path)
	case DriverPostgres:
		return NewPostgres(dsn)
	default:
		return nil, errors.Newf("unknown store driver %q", driver)
	}
}
