package preflight

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"truthlens/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if result := CheckFreeSpace("space", dir, 1); !result.Passed {
		t.Fatalf("expected pass with 1 byte threshold, got: %s", result.Detail)
	}
	result := CheckFreeSpace("space", dir, 1<<62)
	if result.Passed || !strings.Contains(result.Detail, "need") {
		t.Fatalf("expected shortfall detail, got %+v", result)
	}
	if CheckFreeSpace("space", filepath.Join(dir, "missing"), 1).Passed {
		t.Fatal("expected failure for missing path")
	}
}

func TestFormatBytes(t *testing.T) {
	cases := map[uint64]string{512: "512 B", 2048: "2.0 KiB", 3 << 30: "3.0 GiB"}
	for in, want := range cases {
		if got := formatBytes(in); got != want {
			t.Fatalf("formatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}

// fakeGemini answers countTokens, rejecting payloads with tools when
// grounding is unsupported.
func fakeGemini(t *testing.T, key string, groundingOK bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-goog-api-key") != key {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if !strings.HasSuffix(r.URL.Path, ":countTokens") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var payload map[string]map[string]any
		_ = json.Unmarshal(body, &payload)
		if _, hasTools := payload["generateContentRequest"]["tools"]; hasTools && !groundingOK {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"tools not supported"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"totalTokens": 3}`))
	}))
}

func TestCheckGemini(t *testing.T) {
	srv := fakeGemini(t, "good-key", true)
	defer srv.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithGeminiKey("good-key", srv.URL))
	result := CheckGemini(context.Background(), cfg)
	if !result.Passed || !strings.Contains(result.Detail, cfg.Gemini.Model) {
		t.Fatalf("expected pass, got %+v", result)
	}
}

func TestCheckGemini_GroundingFallback(t *testing.T) {
	srv := fakeGemini(t, "good-key", false)
	defer srv.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithGeminiKey("good-key", srv.URL))
	cfg.Gemini.Grounding = true
	result := CheckGemini(context.Background(), cfg)
	if !result.Passed || !strings.Contains(result.Detail, "grounding unavailable") {
		t.Fatalf("expected pass without grounding, got %+v", result)
	}
}

func TestCheckGemini_BadKey(t *testing.T) {
	srv := fakeGemini(t, "good-key", true)
	defer srv.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithGeminiKey("bad-key", srv.URL))
	result := CheckGemini(context.Background(), cfg)
	if result.Passed || !strings.Contains(result.Detail, "403") {
		t.Fatalf("expected rejection, got %+v", result)
	}
}

func TestCheckGemini_MissingKey(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if CheckGemini(context.Background(), cfg).Passed {
		t.Fatal("expected failure for missing key")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_MinimalConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	cfg.Uploads.CacheEnabled = false

	results := RunAll(context.Background(), cfg)
	// artifact dir, work dir, work dir space
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for _, r := range results[:2] {
		if !r.Passed {
			t.Errorf("check %q failed: %s", r.Name, r.Detail)
		}
	}
}

func TestRunAll_IncludesGeminiWhenKeyed(t *testing.T) {
	srv := fakeGemini(t, "k", true)
	defer srv.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithGeminiKey("k", srv.URL))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	results := RunAll(context.Background(), cfg)
	found := false
	for _, r := range results {
		if r.Name == "Gemini API" {
			found = true
			if !r.Passed {
				t.Errorf("Gemini check failed: %s", r.Detail)
			}
		}
	}
	if !found {
		t.Fatal("expected Gemini check in results")
	}
}

func TestCheckSystemDeps_MissingFFmpegSkipsEncoders(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	t.Setenv("PATH", t.TempDir())
	results := CheckSystemDeps(context.Background(), cfg)
	if len(results) != 3 {
		t.Fatalf("expected binaries only, got %d results", len(results))
	}
	for _, status := range results {
		if status.Available {
			t.Fatalf("expected %s unavailable", status.Name)
		}
	}
}
