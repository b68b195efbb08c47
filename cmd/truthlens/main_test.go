package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"truthlens/internal/api"
	"truthlens/internal/artifacts"
	"truthlens/internal/config"
	"truthlens/internal/engine"
	"truthlens/internal/ensemble"
	"truthlens/internal/logging"
	"truthlens/internal/services"
	"truthlens/internal/testsupport"
)

type stubEngine struct {
	name   string
	result engine.Result
	err    error
}

func (s *stubEngine) Name() string { return s.name }

func (s *stubEngine) Analyze(context.Context, string) (engine.Result, error) {
	return s.result, s.err
}

// writeTestConfig marshals cfg to a TOML file and isolates the environment
// from real credentials.
func writeTestConfig(t *testing.T, cfg *config.Config) string {
	t.Helper()
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	configPath := writeTestConfig(t, cfg)

	out, _, err := runCLI(t, []string{"config", "validate"}, configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	if _, err := os.Stat(cfg.Paths.WorkDir); err != nil {
		t.Fatalf("expected work dir created: %v", err)
	}

	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected refusal to overwrite existing config")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, ""); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestStatusReportsEnginesAndDependencies(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries("ffmpeg", "ffprobe", "python3"))
	configPath := writeTestConfig(t, cfg)

	out, _, err := runCLI(t, []string{"status"}, configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "== Dependencies ==")
	requireContains(t, out, "FFmpeg:")
	requireContains(t, out, "Heatmap encoders:")
	requireContains(t, out, "disabled (no API key)")
	requireContains(t, out, "demo mode (pretrained resnet18")
	requireContains(t, out, "Artifact directory:")
	if strings.Contains(out, "\x1b[") {
		t.Fatal("expected no colour codes when writing to a buffer")
	}
}

func TestAnalyzeRejectsMissingFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	configPath := writeTestConfig(t, cfg)

	_, _, err := runCLI(t, []string{"analyze", filepath.Join(t.TempDir(), "missing.mp4")}, configPath)
	if err == nil || !strings.Contains(err.Error(), "open video") {
		t.Fatalf("expected open video error, got %v", err)
	}
}

func newTestApp(t *testing.T, engines api.Engines) *app {
	t.Helper()
	store, err := artifacts.New(t.TempDir(), logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return &app{
		artifacts: store,
		engines:   engines,
		runner: ensemble.New(ensemble.Options{
			Cloud:       engines.Cloud,
			Saliency:    engines.Saliency,
			Lightweight: engines.Lightweight,
			Artifacts:   store,
		}),
	}
}

func TestRunAnalysisEnsemble(t *testing.T) {
	a := newTestApp(t, api.Engines{
		Cloud:       &stubEngine{name: "cloud", err: errors.New("quota exceeded")},
		Saliency:    &stubEngine{name: "saliency", result: engine.Result{Score: 90, Label: engine.LabelFake, Degraded: true}},
		Lightweight: &stubEngine{name: "lightweight", result: engine.Result{Score: 10, Label: engine.LabelReal}},
	})

	report, err := runAnalysis(context.Background(), a, "", "clip.mp4")
	if err != nil {
		t.Fatalf("runAnalysis: %v", err)
	}
	// 0.6*50 + 0.3*90 + 0.1*10
	if report.Response.ConfidenceScore != 58 || !report.Response.IsDemo {
		t.Fatalf("unexpected response %+v", report.Response)
	}

	text := renderReport(report, false)
	requireContains(t, text, engine.LabelDeepfake)
	requireContains(t, text, "58.00% likely synthetic")
	requireContains(t, text, "failed: quota exceeded")
	requireContains(t, text, "degraded (FAKE)")
	requireContains(t, text, "0.6")
	requireContains(t, text, "Cloud analysis unavailable")
}

func TestRunAnalysisSingleMode(t *testing.T) {
	a := newTestApp(t, api.Engines{
		Lightweight: &stubEngine{name: "lightweight", result: engine.Result{
			Score: 12.5, Label: engine.LabelReal, Evidence: []string{"Mean deepfake score: 12.50"},
		}},
	})

	report, err := runAnalysis(context.Background(), a, "neural", "clip.mp4")
	if err != nil {
		t.Fatalf("runAnalysis: %v", err)
	}
	if report.Mode != api.ModeLightweight || report.Response.ConfidenceScore != 12.5 {
		t.Fatalf("unexpected report %+v", report)
	}
	text := renderReport(report, false)
	requireContains(t, text, "Mean deepfake score: 12.50")
	if strings.Contains(text, "0.1 ") {
		t.Fatal("single mode must not show ensemble weights")
	}

	if _, err := runAnalysis(context.Background(), a, "local", "clip.mp4"); err == nil {
		t.Fatal("expected error for unavailable engine")
	}
	if _, err := runAnalysis(context.Background(), a, "oracle", "clip.mp4"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestRenderStatusLineColour(t *testing.T) {
	plain := renderStatusLine("Title", statusError, "FAKE", false)
	if !strings.HasPrefix(plain, "  Title:") || !strings.HasSuffix(plain, " [ALERT] FAKE") {
		t.Fatalf("unexpected plain line %q", plain)
	}
	coloured := renderStatusLine("Title", statusError, "FAKE", true)
	if !strings.HasPrefix(coloured, ansiRed) || !strings.HasSuffix(coloured, ansiReset) {
		t.Fatalf("expected red line, got %q", coloured)
	}
}

func TestRenderTablePadsRows(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"only"}}, []columnAlignment{alignLeft, alignRight})
	requireContains(t, out, "only")
	if renderTable(nil, nil, nil) != "" {
		t.Fatal("expected empty table without headers")
	}
}

func TestLogsCommandFiltersByRequest(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	configPath := writeTestConfig(t, cfg)
	if err := os.MkdirAll(cfg.Paths.LogDir, 0o755); err != nil {
		t.Fatalf("mkdir log dir: %v", err)
	}
	content := strings.Join([]string{
		`{"ts":"2026-10-17T09:30:00Z","level":"info","msg":"analysis started","correlation_id":"req-a"}`,
		`{"ts":"2026-10-17T09:30:01Z","level":"warn","msg":"engine unavailable","engine":"cloud","correlation_id":"req-b"}`,
		`{"ts":"2026-10-17T09:30:02Z","level":"info","msg":"analysis complete","correlation_id":"req-a","final_score":70}`,
	}, "\n") + "\n"
	if err := os.WriteFile(filepath.Join(cfg.Paths.LogDir, "truthlens.log"), []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	out, _, err := runCLI(t, []string{"logs", "--request", "req-a"}, configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "analysis started")
	requireContains(t, out, "final_score=70")
	if strings.Contains(out, "engine unavailable") {
		t.Fatalf("unexpected entry from another request:\n%s", out)
	}

	out, _, err = runCLI(t, []string{"logs", "--lines", "1", "--raw"}, configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if strings.Count(out, "\n") != 1 || !strings.HasPrefix(out, `{"ts"`) {
		t.Fatalf("expected one raw line, got:\n%s", out)
	}

	if _, _, err := runCLI(t, []string{"logs", "--level", "loud"}, configPath); err == nil {
		t.Fatal("expected invalid level error")
	}
}

func TestBootstrapFailsWhenGeminiKeyRejected(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"API key not valid"}}`))
	}))
	t.Cleanup(srv.Close)

	cfg := testsupport.NewConfig(t, testsupport.WithGeminiKey("bad-key", srv.URL))
	cfg.Inference.Command = ""
	cfg.Uploads.CacheEnabled = false

	a, err := bootstrap(context.Background(), cfg, logging.NewNop())
	if err == nil {
		_ = a.Close()
		t.Fatal("expected bootstrap to fail with a rejected key")
	}
	requireContains(t, err.Error(), "cloud engine")
	if hits.Load() == 0 {
		t.Fatal("expected the key to be verified against the service")
	}
}

func TestBootstrapWithoutGeminiKeyDisablesCloud(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Inference.Command = ""

	a, err := bootstrap(context.Background(), cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	if a.engines.Cloud != nil {
		t.Fatal("cloud engine should be disabled without a key")
	}
	if a.engines.Lightweight == nil || a.runner == nil {
		t.Fatal("expected lightweight engine and runner to be wired")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{services.Wrap(services.ErrConfiguration, "cloud", "verify model", "gemini-2.5-flash", errors.New("403")), 2},
		{services.Wrap(services.ErrValidation, "cli", "analyze", "unknown mode", nil), 2},
		{errors.New("boom"), 1},
		{context.Canceled, 1},
	}
	for _, tc := range tests {
		if got := exitCode(tc.err); got != tc.want {
			t.Fatalf("exitCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
