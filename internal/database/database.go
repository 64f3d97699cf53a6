package database

import (
	"database/sql"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"github.com/bryan-buckman/statuspulse/internal/model"
)

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
}

// Ensure DB implements Store interface.
var _ Store = (*DB)(nil)

// New opens or creates an SQLite database at the given path.
func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open db")
	}
	// A single writer; avoids SQLITE_BUSY between pooled connections.
	conn.SetMaxOpenConns(1)
	// Enable WAL mode for better concurrency.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "set wal mode")
	}
	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "migrate")
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// DatabaseType returns the database backend name.
func (db *DB) DatabaseType() string {
	return "SQLite"
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS incidents (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		observed_date TEXT NOT NULL,
		observed_at TEXT NOT NULL,
		title TEXT NOT NULL,
		status TEXT NOT NULL,
		color TEXT NOT NULL
	);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// Load returns all incidents in insertion order.
func (db *DB) Load() ([]model.IncidentRecord, error) {
	rows, err := db.conn.Query("SELECT id, observed_date, observed_at, title, status, color FROM incidents ORDER BY seq")
	if err != nil {
		return nil, errors.Wrap(err, "query incidents")
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Append inserts the last record of history.
func (db *DB) Append(history []model.IncidentRecord) error {
	if len(history) == 0 {
		return nil
	}
	r := history[len(history)-1]
	_, err := db.conn.Exec(`
		INSERT INTO incidents (id, observed_date, observed_at, title, status, color)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Date, r.Timestamp, r.Title, r.Status, string(r.Color))
	if err != nil {
		return errors.Wrapf(err, "insert incident %s", r.ID)
	}
	return nil
}

func scanRecords(rows *sql.Rows) ([]model.IncidentRecord, error) {
	var records []model.IncidentRecord
	for rows.Next() {
		var r model.IncidentRecord
		var color string
		if err := rows.Scan(&r.ID, &r.Date, &r.Timestamp, &r.Title, &r.Status, &color); err != nil {
			return nil, errors.Wrap(err, "scan incident")
		}
		r.Color = model.Severity(color)
		records = append(records, r)
	}
	return records, rows.Err()
}
