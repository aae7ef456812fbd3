// Package postgres provides a durable ledger backed by PostgreSQL, mirroring
// the sqlite driver's journal layout over the pgx stdlib driver.
package postgres

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver registration

	"podium/internal/ledger/memory"
	"podium/pkg/domain"
)

// Store is the PostgreSQL-backed ledger. Live state lives in the embedded
// memory ledger; the atom journal and economic state persist in two tables.
type Store struct {
	*memory.Store
	db *sql.DB
}

// NewStore connects with dsn, prepares the schema, and replays the persisted
// journal into memory.
func NewStore(namespace, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS atoms (
		seq BIGSERIAL PRIMARY KEY,
		address TEXT NOT NULL,
		namespace TEXT NOT NULL,
		payload JSONB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create atoms table: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS economy (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create economy table: %w", err)
	}
	s := &Store{Store: memory.NewStore(namespace), db: db}
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
	if _, err := s.db.Exec(`INSERT INTO atoms(address, namespace, payload) VALUES($1,$2,$3)`,
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
	if _, err := s.db.Exec(`INSERT INTO economy(bucket,payload) VALUES('state',$1) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, raw); err != nil {
		return fmt.Errorf("upsert economy: %w", err)
	}
	return nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }
