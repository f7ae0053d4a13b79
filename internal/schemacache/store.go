// Package schemacache keeps reflected schema documents in SQLite so that a
// service does not have to download and parse $metadata on every start.
//
// Entries are keyed by service root URL and carry a content fingerprint of
// the schema, which changes whenever the schema does.
package schemacache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/odatalink/internal/edm"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - no tables
// 1 - schemas table
const currentSchemaVersion = 1

// fingerprintDomain separates schema fingerprints from other hashes.
// The version suffix allows the algorithm to change.
const fingerprintDomain = "odatalink/schema/v1"

// Entry is one cached schema.
type Entry struct {
	ServiceURL  string
	Fingerprint string
	Version     string
	Schema      *edm.Schema
	CachedAt    time.Time
}

// Store is a SQLite-backed schema cache.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now for the cached_at column.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open creates or opens a cache database at path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//
// Open is idempotent.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("cache schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Fingerprint returns the content hash of schema.
// Format: hex(SHA256(domain + 0x00 + json(schema))).
func Fingerprint(schema *edm.Schema) (string, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(fingerprintDomain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Save stores schema for serviceURL, replacing any previous entry.
func (s *Store) Save(ctx context.Context, serviceURL, version string, schema *edm.Schema) (*Entry, error) {
	doc, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("save schema: %w", err)
	}
	fp, err := Fingerprint(schema)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schemas (service_url, fingerprint, version, document, cached_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(service_url) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			version     = excluded.version,
			document    = excluded.document,
			cached_at   = excluded.cached_at
	`, serviceURL, fp, version, string(doc), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("save schema: %w", err)
	}
	return &Entry{
		ServiceURL:  serviceURL,
		Fingerprint: fp,
		Version:     version,
		Schema:      schema,
		CachedAt:    now,
	}, nil
}

// Load returns the cached entry for serviceURL. The boolean is false when
// nothing is cached.
func (s *Store) Load(ctx context.Context, serviceURL string) (*Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT service_url, fingerprint, version, document, cached_at
		FROM schemas
		WHERE service_url = ?
	`, serviceURL)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load schema %s: %w", serviceURL, err)
	}
	return e, true, nil
}

// List returns every cached entry ordered by service URL.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT service_url, fingerprint, version, document, cached_at
		FROM schemas
		ORDER BY service_url COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("list schemas: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	return out, nil
}

// Invalidate removes the entry for serviceURL and reports whether one
// existed.
func (s *Store) Invalidate(ctx context.Context, serviceURL string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schemas WHERE service_url = ?`, serviceURL)
	if err != nil {
		return false, fmt.Errorf("invalidate %s: %w", serviceURL, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("invalidate %s: %w", serviceURL, err)
	}
	return n > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e        Entry
		doc      string
		cachedAt string
	)
	if err := row.Scan(&e.ServiceURL, &e.Fingerprint, &e.Version, &doc, &cachedAt); err != nil {
		return nil, err
	}
	e.Schema = &edm.Schema{}
	dec := json.NewDecoder(strings.NewReader(doc))
	dec.UseNumber()
	if err := dec.Decode(e.Schema); err != nil {
		return nil, fmt.Errorf("decode cached schema: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, cachedAt)
	if err != nil {
		return nil, fmt.Errorf("decode cached_at: %w", err)
	}
	e.CachedAt = t
	return &e, nil
}
