// Package cellstore persists lookup results in a local SQLite file so that
// cells seen in earlier runs are not requested again.
package cellstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rotisserie/eris"

	"github.com/jalad-shrimali/cdr-trace/cdr"
)

const schema = `
CREATE TABLE IF NOT EXISTS cells (
	lac     TEXT    NOT NULL,
	ci      TEXT    NOT NULL,
	code    INTEGER NOT NULL,
	lat     REAL    NOT NULL DEFAULT 0,
	lon     REAL    NOT NULL DEFAULT 0,
	radius  REAL    NOT NULL DEFAULT 0,
	address TEXT    NOT NULL DEFAULT '',
	PRIMARY KEY (lac, ci)
)`

// Store is a locate.Cache backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the cache file at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path))
	if err != nil {
		return nil, eris.Wrapf(err, "open cell cache %s", path)
	}
	// single connection; the resolver pool writes concurrently
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "migrate cell cache")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Get returns the stored result for key.
func (s *Store) Get(ctx context.Context, key cdr.Key) (cdr.Resolution, bool, error) {
	const q = `
        SELECT code, lat, lon, radius, address
          FROM cells
         WHERE lac=? AND ci=?
         LIMIT 1`
	var res cdr.Resolution
	err := s.db.QueryRowContext(ctx, q, key.LAC, key.CI).
		Scan(&res.Code, &res.Lat, &res.Lon, &res.Radius, &res.Address)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return cdr.Resolution{}, false, nil
	case err != nil:
		return cdr.Resolution{}, false, eris.Wrap(err, "read cell cache")
	}
	return res, true, nil
}

// Put stores res for key. Failed resolutions are not cached.
func (s *Store) Put(ctx context.Context, key cdr.Key, res cdr.Resolution) error {
	if res.Failed {
		return nil
	}
	const q = `
        INSERT INTO cells (lac, ci, code, lat, lon, radius, address)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(lac, ci) DO UPDATE SET
            code=excluded.code, lat=excluded.lat, lon=excluded.lon,
            radius=excluded.radius, address=excluded.address`
	if _, err := s.db.ExecContext(ctx, q, key.LAC, key.CI, res.Code, res.Lat, res.Lon, res.Radius, res.Address); err != nil {
		return eris.Wrap(err, "write cell cache")
	}
	return nil
}
