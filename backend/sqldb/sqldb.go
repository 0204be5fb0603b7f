// Package sqldb provides a store.Backend over SQLite or PostgreSQL. Each
// database named in store.Config is a table of JSON documents with
// CouchDB-style revisions and tombstones.
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/jacentio/sofa/internal/revision"
	"github.com/jacentio/sofa/store"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Backend stores documents through database/sql.
type Backend struct {
	db      *sql.DB
	dialect Dialect
}

// Open opens dsn with the dialect's driver and verifies the connection.
func Open(dialect Dialect, dsn string) (*Backend, error) {
	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", dialect.Name, err)
	}
	if dialect.Name == SQLite.Name {
		// One writer at a time; concurrent connections only produce SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: ping: %w", dialect.Name, err)
	}
	return New(db, dialect), nil
}

// New wraps an open *sql.DB.
func New(db *sql.DB, dialect Dialect) *Backend {
	return &Backend{db: db, dialect: dialect}
}

// Close closes the underlying database handle.
func (b *Backend) Close() error {
	return b.db.Close()
}

// EnsureTable creates the document table for a database if it does not exist.
func (b *Backend) EnsureTable(ctx context.Context, name string) error {
	if !tableName.MatchString(name) {
		return invalidName()
	}
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
		id         TEXT PRIMARY KEY,
		rev        TEXT NOT NULL,
		body       TEXT NOT NULL,
		deleted    INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	)`, name)
	if _, err := b.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("%s: create table %s: %w", b.dialect.Name, name, err)
	}
	return nil
}

// Connect opens a session on the table named by cfg.Database.
func (b *Backend) Connect(_ context.Context, cfg store.Config) (store.Session, error) {
	if !tableName.MatchString(cfg.Database) {
		return nil, invalidName()
	}
	return &session{backend: b, table: cfg.Database}, nil
}

func invalidName() error {
	return &store.Error{
		Kind:     store.KindConfiguration,
		Status:   store.StatusConfiguration,
		Subject:  "database",
		Expected: "SQL identifier",
	}
}

type session struct {
	backend *Backend
	table   string
}

func (s *session) q(query string) string {
	return s.backend.dialect.rebind(fmt.Sprintf(query, fmt.Sprintf("%q", s.table)))
}

func (s *session) DatabaseExists(ctx context.Context) (bool, error) {
	var n int
	query := s.backend.dialect.rebind(s.backend.dialect.tableExists)
	if err := s.backend.db.QueryRowContext(ctx, query, s.table).Scan(&n); err != nil {
		return false, fmt.Errorf("%s: table exists: %w", s.backend.dialect.Name, err)
	}
	return n > 0, nil
}

func (s *session) Revision(ctx context.Context, id string) (string, bool, error) {
	var rev string
	err := s.backend.db.QueryRowContext(ctx, s.q("SELECT rev FROM %s WHERE id = ? AND deleted = 0"), id).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%s: revision %q: %w", s.backend.dialect.Name, id, err)
	}
	return rev, true, nil
}

func (s *session) Fetch(ctx context.Context, id string) (store.Record, bool, error) {
	var rev, body string
	err := s.backend.db.QueryRowContext(ctx, s.q("SELECT rev, body FROM %s WHERE id = ? AND deleted = 0"), id).Scan(&rev, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, false, nil
	}
	if err != nil {
		return store.Record{}, false, fmt.Errorf("%s: fetch %q: %w", s.backend.dialect.Name, id, err)
	}
	fields, err := store.DecodeObject([]byte(body))
	if err != nil {
		return store.Record{}, false, fmt.Errorf("%s: decode %q: %w", s.backend.dialect.Name, id, err)
	}
	return store.Record{ID: id, Rev: rev, Fields: fields}, true, nil
}

func (s *session) Create(ctx context.Context, id string, fields map[string]any) (store.Record, error) {
	if id == "" {
		id = revision.NewID()
	}
	if fields == nil {
		fields = map[string]any{}
	}
	body, err := json.Marshal(fields)
	if err != nil {
		return store.Record{}, fmt.Errorf("%s: encode %q: %w", s.backend.dialect.Name, id, err)
	}
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.backend.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Record{}, fmt.Errorf("%s: begin: %w", s.backend.dialect.Name, err)
	}
	defer tx.Rollback()

	var prev string
	var deleted int
	err = tx.QueryRowContext(ctx, s.q("SELECT rev, deleted FROM %s WHERE id = ?"), id).Scan(&prev, &deleted)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		rev := revision.Next("", fields)
		_, err = tx.ExecContext(ctx, s.q("INSERT INTO %s (id, rev, body, deleted, updated_at) VALUES (?, ?, ?, 0, ?)"),
			id, rev, string(body), now)
		if s.backend.dialect.isUniqueViolation(err) {
			return store.Record{}, store.Errorf(http.StatusConflict, "document %q already exists", id)
		}
		if err != nil {
			return store.Record{}, fmt.Errorf("%s: insert %q: %w", s.backend.dialect.Name, id, err)
		}
		if err := tx.Commit(); err != nil {
			return store.Record{}, fmt.Errorf("%s: commit: %w", s.backend.dialect.Name, err)
		}
		return store.Record{ID: id, Rev: rev, Fields: fields}, nil

	case err != nil:
		return store.Record{}, fmt.Errorf("%s: lookup %q: %w", s.backend.dialect.Name, id, err)

	case deleted == 0:
		return store.Record{}, store.Errorf(http.StatusConflict, "document %q already exists", id)
	}

	rec, err := s.revive(ctx, tx, id, prev, fields, string(body), now)
	if err != nil {
		return store.Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return store.Record{}, fmt.Errorf("%s: commit: %w", s.backend.dialect.Name, err)
	}
	return rec, nil
}

// revive replaces the tombstone of id at revision prev. A row that is no
// longer that tombstone was revived or rewritten concurrently; the create
// then fails with status 409.
func (s *session) revive(ctx context.Context, tx *sql.Tx, id, prev string, fields map[string]any, body, now string) (store.Record, error) {
	rev := revision.Next(prev, fields)
	res, err := tx.ExecContext(ctx,
		s.q("UPDATE %s SET rev = ?, body = ?, deleted = 0, updated_at = ? WHERE id = ? AND rev = ? AND deleted = 1"),
		rev, body, now, id, prev)
	if err != nil {
		return store.Record{}, fmt.Errorf("%s: revive %q: %w", s.backend.dialect.Name, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return store.Record{}, fmt.Errorf("%s: revive %q: %w", s.backend.dialect.Name, id, err)
	}
	if n != 1 {
		return store.Record{}, store.Errorf(http.StatusConflict, "document %q already exists", id)
	}
	return store.Record{ID: id, Rev: rev, Fields: fields}, nil
}

func (s *session) Delete(ctx context.Context, id, rev string) (string, error) {
	tombstone := revision.Tombstone(rev)
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.backend.db.ExecContext(ctx,
		s.q("UPDATE %s SET rev = ?, body = '{}', deleted = 1, updated_at = ? WHERE id = ? AND rev = ? AND deleted = 0"),
		tombstone, now, id, rev)
	if err != nil {
		return "", fmt.Errorf("%s: delete %q: %w", s.backend.dialect.Name, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("%s: delete %q: %w", s.backend.dialect.Name, id, err)
	}
	if n == 1 {
		return tombstone, nil
	}

	current, ok, err := s.Revision(ctx, id)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", store.Errorf(http.StatusNotFound, "document %q not found", id)
	}
	return "", store.Errorf(http.StatusConflict, "document %q is at revision %s, not %s", id, current, rev)
}

func (s *session) Close() error { return nil }
