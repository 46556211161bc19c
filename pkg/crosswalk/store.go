// Package crosswalk persists the Production → Integration id mapping.
//
// The mapping lives in a single SQLite table shared with external audit
// tooling, so the schema is a compatibility contract:
//
//	id_map(kind TEXT, prod_id TEXT, int_id TEXT, created_at REAL,
//	       PRIMARY KEY(kind, prod_id))
//
// The store opens and closes the database around every operation; no
// connection is held across a run. Writes are upsert-by-primary-key,
// last-write-wins, and entries are never deleted.
package crosswalk

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Kind is the entity namespace of a crosswalk entry. Each kind maps
// independently; there is no cross-kind collision.
type Kind string

const (
	KindItems      Kind = "items"
	KindPOs        Kind = "pos"
	KindJobs       Kind = "jobs"
	KindVendors    Kind = "vendors"
	KindWarehouses Kind = "warehouses"
)

const schema = `CREATE TABLE IF NOT EXISTS id_map(
	kind TEXT NOT NULL,
	prod_id TEXT NOT NULL,
	int_id TEXT NOT NULL,
	created_at REAL NOT NULL,
	PRIMARY KEY(kind, prod_id)
)`

// Store is the on-disk id crosswalk.
type Store struct {
	path   string
	logger *zap.Logger
}

// Open ensures the database file and schema exist and returns the store.
func Open(path string, logger *zap.Logger) (*Store, error) {
	s := &Store{path: path, logger: logger}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open crosswalk db %s: %w", path, err)
	}
	defer db.Close()

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize crosswalk schema: %w", err)
	}

	return s, nil
}

// Get returns the Integration id mapped to (kind, prodID), if any.
func (s *Store) Get(kind Kind, prodID string) (string, bool, error) {
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return "", false, fmt.Errorf("failed to open crosswalk db: %w", err)
	}
	defer db.Close()

	var intID string
	err = db.QueryRow(
		"SELECT int_id FROM id_map WHERE kind=? AND prod_id=?", string(kind), prodID,
	).Scan(&intID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read crosswalk entry: %w", err)
	}
	return intID, true, nil
}

// Put records (kind, prodID) → intID, replacing any earlier mapping.
func (s *Store) Put(kind Kind, prodID, intID string) error {
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("failed to open crosswalk db: %w", err)
	}
	defer db.Close()

	createdAt := float64(time.Now().UnixNano()) / 1e9
	_, err = db.Exec(
		"INSERT OR REPLACE INTO id_map(kind, prod_id, int_id, created_at) VALUES(?,?,?,?)",
		string(kind), prodID, intID, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to write crosswalk entry: %w", err)
	}

	s.logger.Debug("Recorded id mapping",
		zap.String("kind", string(kind)),
		zap.String("prod_id", prodID),
		zap.String("int_id", intID))
	return nil
}

// Exists reports whether (kind, prodID) is already mapped.
func (s *Store) Exists(kind Kind, prodID string) (bool, error) {
	_, ok, err := s.Get(kind, prodID)
	return ok, err
}
