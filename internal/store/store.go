// Package store is the SQLite implementation of swarm.Repository.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mtzanidakis/swarmhub/internal/config"
	"github.com/mtzanidakis/swarmhub/internal/swarm"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type Store struct {
	db *sql.DB
}

// dsn builds the connection string. Pragmas go in the DSN so every pooled
// connection gets them, and _txlock=immediate makes each transaction take the
// write lock up front: two units of work that read-then-write the same swarm
// are serialized instead of failing on upgrade.
func dsn(path string) string {
	return "file:" + path +
		"?_txlock=immediate" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)"
}

func New(cfg config.StoreConfig) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id               TEXT PRIMARY KEY,
			name             TEXT NOT NULL,
			name_key         TEXT NOT NULL UNIQUE,
			description      TEXT NOT NULL DEFAULT '',
			skills           TEXT NOT NULL DEFAULT '[]',
			reputation       INTEGER NOT NULL DEFAULT 0 CHECK (reputation >= 0),
			completed_swarms INTEGER NOT NULL DEFAULT 0,
			failed_swarms    INTEGER NOT NULL DEFAULT 0,
			available        BOOLEAN NOT NULL DEFAULT TRUE,
			rate             TEXT NOT NULL DEFAULT '',
			key_hash         TEXT UNIQUE,
			created_at       INTEGER NOT NULL,
			last_active      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_reputation ON agents(reputation DESC)`,
		`CREATE TABLE IF NOT EXISTS swarms (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL,
			description     TEXT NOT NULL DEFAULT '',
			creator_id      TEXT NOT NULL REFERENCES agents(id),
			status          TEXT NOT NULL DEFAULT 'recruiting'
				CHECK (status IN ('recruiting', 'active', 'completed', 'failed')),
			required_skills TEXT NOT NULL DEFAULT '[]',
			max_members     INTEGER NOT NULL DEFAULT 5,
			payment_total   INTEGER NOT NULL DEFAULT 0,
			deliverable     TEXT NOT NULL DEFAULT '',
			deadline        INTEGER,
			created_at      INTEGER NOT NULL,
			completed_at    INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_swarms_status ON swarms(status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_swarms_deadline ON swarms(deadline) WHERE deadline IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS swarm_members (
			swarm_id      TEXT NOT NULL REFERENCES swarms(id),
			agent_id      TEXT NOT NULL REFERENCES agents(id),
			role          TEXT NOT NULL CHECK (role IN ('creator', 'member')),
			share_percent INTEGER NOT NULL DEFAULT 0,
			status        TEXT NOT NULL
				CHECK (status IN ('pending', 'accepted', 'completed', 'failed')),
			joined_at     INTEGER NOT NULL,
			PRIMARY KEY (swarm_id, agent_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_members_agent ON swarm_members(agent_id, status)`,
		`CREATE TABLE IF NOT EXISTS reviews (
			id          TEXT PRIMARY KEY,
			reviewer_id TEXT NOT NULL REFERENCES agents(id),
			reviewee_id TEXT NOT NULL REFERENCES agents(id),
			swarm_id    TEXT REFERENCES swarms(id),
			rating      INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
			comment     TEXT NOT NULL DEFAULT '',
			created_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reviews_reviewee ON reviews(reviewee_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	return nil
}

// Update runs fn in one write transaction and commits only if fn succeeds.
func (s *Store) Update(ctx context.Context, fn func(tx swarm.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(&tx{ctx: ctx, q: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// View runs fn in a transaction that is always rolled back.
func (s *Store) View(ctx context.Context, fn func(tx swarm.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()
	return fn(&tx{ctx: ctx, q: sqlTx})
}

// Backup writes a consistent snapshot of the database to path.
func (s *Store) Backup(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("backup target %s already exists", path)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("vacuum into: %w", err)
	}
	return nil
}

type tx struct {
	ctx context.Context
	q   *sql.Tx
}

func (t *tx) exec(query string, args ...any) (sql.Result, error) {
	return t.q.ExecContext(t.ctx, query, args...)
}

func (t *tx) query(query string, args ...any) (*sql.Rows, error) {
	return t.q.QueryContext(t.ctx, query, args...)
}

func (t *tx) queryRow(query string, args ...any) *sql.Row {
	return t.q.QueryRowContext(t.ctx, query, args...)
}

type scanner interface {
	Scan(dest ...any) error
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY failure.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	default:
		return false
	}
}
