package uploadcache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// ErrSchemaMismatch indicates the database was created by an incompatible version.
var ErrSchemaMismatch = errors.New("upload cache schema version mismatch")

// Entry describes a remote asset that can be reused.
type Entry struct {
	Hash      string
	Name      string
	URI       string
	MIMEType  string
	SizeBytes int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store persists upload handles in SQLite.
type Store struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// Open creates or connects to the cache database at path.
func Open(path string, ttl time.Duration) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("upload cache path not configured")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("upload cache ttl must be positive, got %s", ttl)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	store := &Store{db: db, ttl: ttl, now: time.Now}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin schema tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return tx.Commit()
	}
	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete the cache database)",
			ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

// Lookup returns the live entry for hash. Expired entries are deleted and
// reported as absent.
func (s *Store) Lookup(ctx context.Context, hash string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT content_hash, name, uri, mime_type, size_bytes, created_at, expires_at
         FROM remote_assets WHERE content_hash = ?`, hash)
	var (
		entry              Entry
		created, expiresAt string
	)
	err := row.Scan(&entry.Hash, &entry.Name, &entry.URI, &entry.MIMEType, &entry.SizeBytes, &created, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup upload: %w", err)
	}
	entry.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	entry.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiresAt)
	if err != nil || !s.now().Before(entry.ExpiresAt) {
		if delErr := s.Invalidate(ctx, hash); delErr != nil {
			return nil, delErr
		}
		return nil, nil
	}
	return &entry, nil
}

// Put records a freshly uploaded asset; the entry expires after the store TTL.
func (s *Store) Put(ctx context.Context, entry Entry) error {
	if strings.TrimSpace(entry.Hash) == "" || strings.TrimSpace(entry.Name) == "" {
		return errors.New("upload cache entry requires hash and name")
	}
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO remote_assets (content_hash, name, uri, mime_type, size_bytes, created_at, expires_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(content_hash) DO UPDATE SET
             name = excluded.name, uri = excluded.uri, mime_type = excluded.mime_type,
             size_bytes = excluded.size_bytes, created_at = excluded.created_at,
             expires_at = excluded.expires_at`,
		entry.Hash, entry.Name, entry.URI, entry.MIMEType, entry.SizeBytes,
		now.Format(time.RFC3339Nano), now.Add(s.ttl).Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store upload: %w", err)
	}
	return nil
}

// Invalidate drops the entry for hash.
func (s *Store) Invalidate(ctx context.Context, hash string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM remote_assets WHERE content_hash = ?", hash); err != nil {
		return fmt.Errorf("invalidate upload: %w", err)
	}
	return nil
}

// InvalidateName drops every entry pointing at the remote asset name.
func (s *Store) InvalidateName(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM remote_assets WHERE name = ?", name); err != nil {
		return fmt.Errorf("invalidate upload: %w", err)
	}
	return nil
}

// PurgeExpired removes expired entries and returns how many were removed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM remote_assets WHERE expires_at <= ?",
		s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("purge uploads: %w", err)
	}
	return res.RowsAffected()
}

// HashFile returns the hex SHA-256 of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
