// Package sqlite provides a durable ledger backed by an embedded SQLite
// database. It keeps live state in the memory ledger and mirrors the atom
// journal and economic state to disk.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"podium/internal/ledger/memory"
	"podium/pkg/domain"
)

// Store is the SQLite-backed ledger. Atoms are appended to an ordered journal
// table as they are written; tokens, balances, and transfers are snapshotted
// as JSON blobs after every economic mutation.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string
}

// NewStore opens (or creates) the database at path and replays the persisted
// journal into memory.
func NewStore(namespace, path string) (*Store, error) {
	if path == "" {
		path = "podium.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS atoms (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		address TEXT NOT NULL,
		namespace TEXT NOT NULL,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create atoms table: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS economy (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create economy table: %w", err)
	}
	s := &Store{Store: memory.NewStore(namespace), db: db, path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	s.SetHooks(s.appendAtom, s.persistEconomy)
	return s, nil
}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT payload FROM atoms ORDER BY seq`)
	if err != nil {
		return fmt.Errorf("select atoms: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var envs []domain.Envelope
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("scan atom: %w", err)
		}
		var env domain.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return fmt.Errorf("decode atom: %w", err)
		}
		envs = append(envs, env)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate atoms: %w", err)
	}
	s.ImportJournal(envs)

	var raw []byte
	err = s.db.QueryRow(`SELECT payload FROM economy WHERE bucket = 'state'`).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return fmt.Errorf("select economy: %w", err)
	}
	var snap memory.EconomySnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("decode economy: %w", err)
	}
	s.ImportEconomy(snap)
	return nil
}

func (s *Store) appendAtom(env domain.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode atom: %w", err)
	}
	if _, err := s.db.Exec(`INSERT INTO atoms(address, namespace, payload) VALUES(?,?,?)`,
		env.Address, env.Namespace, raw); err != nil {
		return fmt.Errorf("insert atom: %w", err)
	}
	return nil
}

func (s *Store) persistEconomy() error {
	raw, err := json.Marshal(s.ExportEconomy())
	if err != nil {
		return fmt.Errorf("encode economy: %w", err)
	}
	if _, err := s.db.Exec(`INSERT INTO economy(bucket,payload) VALUES('state',?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, raw); err != nil {
		return fmt.Errorf("upsert economy: %w", err)
	}
	return nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
