package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists filter records in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string

	put *sql.Stmt
	del *sql.Stmt
}

// OpenSQLite opens (creating if needed) the filter database at dbPath.
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s := &SQLiteStore{db: db, dbPath: dbPath}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS filters (
		session     TEXT NOT NULL,
		channel     TEXT NOT NULL,
		event       TEXT NOT NULL,
		expression  TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		bytecode    BLOB NOT NULL,
		attached_at INTEGER NOT NULL,
		PRIMARY KEY (session, channel, event)
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	if s.put, err = db.Prepare(`INSERT OR REPLACE INTO filters
		(session, channel, event, expression, fingerprint, bytecode, attached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("preparing insert: %w", err)
	}
	if s.del, err = db.Prepare(`DELETE FROM filters WHERE session = ? AND channel = ? AND event = ?`); err != nil {
		s.put.Close()
		db.Close()
		return nil, fmt.Errorf("preparing delete: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.dbPath }

func (s *SQLiteStore) Put(ctx context.Context, r Record) error {
	_, err := s.put.ExecContext(ctx,
		r.Key.Session, r.Key.Channel, r.Key.Event,
		r.Expression, r.Fingerprint, r.Bytecode, r.AttachedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("saving filter %s: %w", r.Key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key Key) error {
	res, err := s.del.ExecContext(ctx, key.Session, key.Channel, key.Event)
	if err != nil {
		return fmt.Errorf("deleting filter %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting filter %s: %w", key, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) All(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session, channel, event, expression, fingerprint, bytecode, attached_at
		FROM filters ORDER BY session, channel, event`)
	if err != nil {
		return nil, fmt.Errorf("querying filters: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var nanos int64
		if err := rows.Scan(&r.Key.Session, &r.Key.Channel, &r.Key.Event,
			&r.Expression, &r.Fingerprint, &r.Bytecode, &nanos); err != nil {
			return nil, fmt.Errorf("scanning filter: %w", err)
		}
		r.AttachedAt = time.Unix(0, nanos).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating filters: %w", err)
	}
	return out, nil
}

// Close releases the prepared statements and the database connection.
func (s *SQLiteStore) Close() error {
	var errs *multierror.Error
	for _, stmt := range []*sql.Stmt{s.put, s.del} {
		if err := stmt.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := s.db.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("closing database: %w", err))
	}
	return errs.ErrorOrNil()
}
