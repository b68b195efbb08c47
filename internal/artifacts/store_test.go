package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"truthlens/internal/logging"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "generated"), logging.NewNop())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return store
}

func TestNewBaseAndURL(t *testing.T) {
	store := newStore(t)
	base := store.NewBase("heatmap")
	if filepath.Dir(base) != store.Dir() || !strings.HasPrefix(filepath.Base(base), "heatmap_") {
		t.Fatalf("unexpected base %q", base)
	}
	if other := store.NewBase("heatmap"); other == base {
		t.Fatal("expected unique bases")
	}
	url := store.URL(base + ".webm")
	if url != "/generated/"+filepath.Base(base)+".webm" {
		t.Fatalf("unexpected url %q", url)
	}
	if store.URL("/etc/passwd") != "" || store.URL("") != "" {
		t.Fatal("expected empty url for paths outside the store")
	}
}

func TestPruneRemovesExpired(t *testing.T) {
	store := newStore(t)
	oldPath := filepath.Join(store.Dir(), "heatmap_old.mp4")
	newPath := filepath.Join(store.Dir(), "heatmap_new.mp4")
	for _, p := range []string{oldPath, newPath} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	past := time.Now().Add(-3 * time.Hour)
	if err := os.Chtimes(oldPath, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	result, ran, err := store.Prune(context.Background(), time.Hour)
	if err != nil || !ran {
		t.Fatalf("Prune returned ran=%v err=%v", ran, err)
	}
	if len(result.Removed) != 1 || result.Removed[0] != oldPath {
		t.Fatalf("unexpected removals %v", result.Removed)
	}
	if _, err := os.Stat(newPath); err != nil {
		t.Fatalf("expected fresh artifact kept: %v", err)
	}
}

func TestPruneSkipsWhenLocked(t *testing.T) {
	store := newStore(t)
	other := flock.New(filepath.Join(store.Dir(), lockName))
	locked, err := other.TryLock()
	if err != nil || !locked {
		t.Fatalf("expected to take lock: %v", err)
	}
	defer other.Unlock()

	_, ran, err := store.Prune(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Prune returned error: %v", err)
	}
	if ran {
		t.Fatal("expected prune to be skipped while locked")
	}
}
