package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend keeps programs in a single SQLite database file.
type SQLiteBackend struct {
	db *sql.DB
}

func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS programs (
		name     TEXT PRIMARY KEY,
		code     BLOB,
		locked   INTEGER NOT NULL DEFAULT 0,
		created  INTEGER NOT NULL,
		modified INTEGER NOT NULL,
		checksum TEXT NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Load() ([]Entry, error) {
	rows, err := b.db.Query("SELECT name, code, locked, created, modified, checksum FROM programs ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("querying programs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                 Entry
			created, modified int64
		)
		if err := rows.Scan(&e.Name, &e.Code, &e.Locked, &created, &modified, &e.Checksum); err != nil {
			return nil, fmt.Errorf("scanning program: %w", err)
		}
		e.Created = time.Unix(0, created)
		e.Modified = time.Unix(0, modified)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (b *SQLiteBackend) Save(changed []Entry, deleted []string) error {
	tx, err := b.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, name := range deleted {
		if _, err := tx.Exec("DELETE FROM programs WHERE name = ?", name); err != nil {
			return fmt.Errorf("deleting %q: %w", name, err)
		}
	}
	for _, e := range changed {
		_, err := tx.Exec(
			"INSERT OR REPLACE INTO programs (name, code, locked, created, modified, checksum) VALUES (?, ?, ?, ?, ?, ?)",
			e.Name, e.Code, e.Locked, e.Created.UnixNano(), e.Modified.UnixNano(), e.Checksum,
		)
		if err != nil {
			return fmt.Errorf("saving %q: %w", e.Name, err)
		}
	}
	return tx.Commit()
}

func (b *SQLiteBackend) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}
