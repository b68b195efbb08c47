package artifacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"truthlens/internal/logging"
)

// URLPrefix is the path under which artifacts are served.
const URLPrefix = "/generated/"

const lockName = ".truthlens.lock"

// Store hands out artifact paths inside one directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

// New ensures dir exists and returns a Store rooted at it.
func New(dir string, logger *slog.Logger) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("artifacts: directory not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifacts: create %q: %w", dir, err)
	}
	return &Store{dir: dir, logger: logging.NewComponentLogger(logger, "artifacts")}, nil
}

// Dir returns the artifact directory.
func (s *Store) Dir() string {
	return s.dir
}

// NewBase returns a unique extension-less path for a new artifact, e.g.
// <dir>/heatmap_<uuid>. The writer appends the negotiated extension.
func (s *Store) NewBase(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "_")
	if prefix == "" {
		prefix = "artifact"
	}
	return filepath.Join(s.dir, prefix+"_"+uuid.NewString())
}

// URL maps an artifact path inside the store to its public URL. Paths outside
// the store, and empty paths, map to "".
func (s *Store) URL(path string) string {
	if strings.TrimSpace(path) == "" {
		return ""
	}
	rel, err := filepath.Rel(s.dir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || strings.ContainsRune(rel, filepath.Separator) {
		return ""
	}
	return URLPrefix + rel
}

// PruneResult reports the outcome of a Prune pass.
type PruneResult struct {
	Removed []string
	Errors  []PruneError
}

// PruneError pairs an artifact path with its removal error.
type PruneError struct {
	Path  string
	Error error
}

// Prune removes artifacts older than maxAge. It holds an exclusive lock on
// the directory for the duration; when another process holds it the pass is
// skipped and (PruneResult{}, false) is returned.
func (s *Store) Prune(ctx context.Context, maxAge time.Duration) (PruneResult, bool, error) {
	var result PruneResult
	if maxAge <= 0 {
		return result, true, nil
	}
	lock := flock.New(filepath.Join(s.dir, lockName))
	locked, err := lock.TryLock()
	if err != nil {
		return result, false, fmt.Errorf("artifacts: lock: %w", err)
	}
	if !locked {
		s.logger.Debug("artifact prune skipped; directory locked elsewhere")
		return result, false, nil
	}
	defer func() { _ = lock.Unlock() }()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return result, true, fmt.Errorf("artifacts: read dir: %w", err)
	}
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if ctx.Err() != nil {
			return result, true, ctx.Err()
		}
		if entry.IsDir() || entry.Name() == lockName {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, PruneError{Path: path, Error: err})
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			result.Errors = append(result.Errors, PruneError{Path: path, Error: err})
			s.logger.Warn("failed to remove expired artifact",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldEventType, "artifact_prune_failed"),
				logging.String(logging.FieldErrorHint, "check artifact_dir permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, path)
		s.logger.Info("removed expired artifact",
			logging.String("path", path),
			logging.Duration("age", time.Since(info.ModTime())),
			logging.String(logging.FieldEventType, "artifact_prune"),
		)
	}
	return result, true, nil
}
