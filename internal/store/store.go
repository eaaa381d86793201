// Package store persists the single most recent artifact reference.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no artifact has been recorded yet.
var ErrNotFound = errors.New("no artifact recorded")

// ArtifactRecord is the persisted reference to the latest materialized image.
type ArtifactRecord struct {
	Ref         string    `json:"ref"`
	SourceURL   string    `json:"sourceUrl"`
	ContentType string    `json:"contentType,omitempty"`
	Size        int       `json:"size"`
	Normalized  bool      `json:"normalized"`
	Prompt      string    `json:"prompt,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Store wraps the SQL database used for persistence.
type Store struct {
	db     *sql.DB
	driver string
}

// Open initializes the datastore. Driver "sqlite" treats dsn as a file path;
// driver "postgres" passes dsn to pgx.
func Open(dsn string, driver string) (*Store, error) {
	if driver == "" {
		driver = "sqlite"
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("datastore DSN is required")
	}

	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create datastore directory: %w", err)
		}
		db, err = sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dsn))
		if err == nil {
			// SQLite serializes writers; one connection avoids busy errors.
			db.SetMaxOpenConns(1)
		}
	case "postgres":
		db, err = sql.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("unsupported datastore driver: %s", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s datastore: %w", driver, err)
	}

	s := &Store{db: db, driver: driver}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	ts := "TIMESTAMP"
	if s.driver == "postgres" {
		ts = "TIMESTAMPTZ"
	}
	stmt := `CREATE TABLE IF NOT EXISTS artifacts (
		id INTEGER PRIMARY KEY,
		ref TEXT NOT NULL,
		source_url TEXT NOT NULL,
		content_type TEXT,
		size INTEGER NOT NULL DEFAULT 0,
		normalized BOOLEAN NOT NULL DEFAULT FALSE,
		prompt TEXT,
		updated_at ` + ts + ` NOT NULL
	);`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("schema apply failed: %w", err)
	}
	return nil
}

// Close shuts down the datastore.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SaveArtifact replaces the stored reference.
func (s *Store) SaveArtifact(ctx context.Context, rec *ArtifactRecord) error {
	if rec == nil || rec.Ref == "" {
		return errors.New("artifact ref required")
	}
	rec.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO artifacts (id, ref, source_url, content_type, size, normalized, prompt, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET ref=excluded.ref, source_url=excluded.source_url, content_type=excluded.content_type,
			size=excluded.size, normalized=excluded.normalized, prompt=excluded.prompt, updated_at=excluded.updated_at`),
		rec.Ref, rec.SourceURL, rec.ContentType, rec.Size, rec.Normalized, rec.Prompt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save artifact: %w", err)
	}
	return nil
}

// LatestArtifact loads the stored reference or ErrNotFound.
func (s *Store) LatestArtifact(ctx context.Context) (*ArtifactRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT ref, source_url, content_type, size, normalized, prompt, updated_at FROM artifacts WHERE id = 1`)
	var (
		rec         ArtifactRecord
		contentType sql.NullString
		prompt      sql.NullString
	)
	if err := row.Scan(&rec.Ref, &rec.SourceURL, &contentType, &rec.Size, &rec.Normalized, &prompt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load artifact: %w", err)
	}
	rec.ContentType = contentType.String
	rec.Prompt = prompt.String
	return &rec, nil
}
