package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"truthlens/internal/artifacts"
	"truthlens/internal/config"
	"truthlens/internal/engine"
	"truthlens/internal/ensemble"
	"truthlens/internal/logging"
	"truthlens/internal/metrics"
	"truthlens/internal/testsupport"
)

type stubEngine struct {
	name     string
	result   engine.Result
	err      error
	gotPath  string
	gotBytes []byte
}

func (s *stubEngine) Name() string { return s.name }

func (s *stubEngine) Analyze(_ context.Context, path string) (engine.Result, error) {
	s.gotPath = path
	s.gotBytes, _ = os.ReadFile(path)
	return s.result, s.err
}

type fixture struct {
	cfg         *config.Config
	store       *artifacts.Store
	cloud       *stubEngine
	saliency    *stubEngine
	lightweight *stubEngine
	server      *Server
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}
	store, err := artifacts.New(cfg.Paths.ArtifactDir, logging.NewNop())
	if err != nil {
		t.Fatalf("artifacts: %v", err)
	}
	heatmap := store.NewBase("heatmap") + ".mp4"
	if err := os.WriteFile(heatmap, []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		cfg:   cfg,
		store: store,
		cloud: &stubEngine{name: "cloud", result: engine.Result{
			Score: 80, Label: "BIOMETRIC MISMATCH",
			VisualEvidence: []string{"At 00:03 - reflection mismatch"},
			AudioEvidence:  []string{"lip closure fails"},
			FactCheck:      "No matching source found.",
		}},
		saliency: &stubEngine{name: "saliency", result: engine.Result{
			Score: 60, Label: engine.LabelFake, Evidence: []string{"Grad-CAM analyzed 4 frames."},
			ArtifactPath: heatmap,
		}},
		lightweight: &stubEngine{name: "lightweight", result: engine.Result{Score: 40, Label: engine.LabelReal}},
	}
	rec := metrics.New()
	runner := ensemble.New(ensemble.Options{
		Cloud:       f.cloud,
		Saliency:    f.saliency,
		Lightweight: f.lightweight,
		Artifacts:   store,
		Metrics:     rec,
	})
	srv, err := New(Options{
		Config:    cfg,
		Runner:    runner,
		Engines:   Engines{Cloud: f.cloud, Saliency: f.saliency, Lightweight: f.lightweight},
		Artifacts: store,
		Metrics:   rec,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	f.server = srv
	return f
}

func uploadRequest(t *testing.T, filename string, content []byte, mode string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if mode != "" {
		if err := mw.WriteField("mode", mode); err != nil {
			t.Fatal(err)
		}
	}
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(content); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/analyze", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return out
}

func TestAnalyzeEnsemble(t *testing.T) {
	f := newFixture(t)
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, uploadRequest(t, "clip.MP4", []byte("frames"), ""))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("expected CORS header")
	}
	resp := decode[AnalysisResponse](t, w)
	if resp.ConfidenceScore != 70 || resp.FinalVerdict != 70 {
		t.Fatalf("expected fused score 70, got %+v", resp)
	}
	if resp.Breakdown["api"] != 80 || resp.Breakdown["heatmap"] != 60 || resp.Breakdown["neural"] != 40 {
		t.Fatalf("unexpected breakdown %v", resp.Breakdown)
	}
	if resp.VideoURL == nil || filepath.Dir(*resp.VideoURL) != "/generated" {
		t.Fatalf("expected artifact url, got %v", resp.VideoURL)
	}
	if resp.VerdictTitle != "BIOMETRIC MISMATCH" || resp.FactCheck != "No matching source found." {
		t.Fatalf("expected cloud title and fact check, got %+v", resp)
	}
	if resp.RequestID == "" || resp.RequestID != w.Header().Get("X-Request-ID") {
		t.Fatalf("expected request id echoed, got %q", resp.RequestID)
	}

	if string(f.cloud.gotBytes) != "frames" {
		t.Fatalf("engine saw %q", f.cloud.gotBytes)
	}
	if filepath.Ext(f.cloud.gotPath) != ".mp4" || filepath.Dir(f.cloud.gotPath) != f.cfg.Paths.WorkDir {
		t.Fatalf("unexpected upload path %q", f.cloud.gotPath)
	}
	if _, err := os.Stat(f.cloud.gotPath); !os.IsNotExist(err) {
		t.Fatalf("expected upload removed, stat err=%v", err)
	}
}

func TestAnalyzeSingleEngineFailureKeepsShape(t *testing.T) {
	f := newFixture(t)
	f.cloud.err = errors.New("upload rejected")

	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, uploadRequest(t, "clip.webm", []byte("x"), "api"))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for engine failure, got %d", w.Code)
	}
	resp := decode[AnalysisResponse](t, w)
	if resp.VerdictTitle != engine.LabelSystemError || resp.ConfidenceScore != 0 {
		t.Fatalf("expected SYSTEM ERROR, got %+v", resp)
	}
	if len(resp.VisualEvidence) != 1 || resp.VisualEvidence[0] != "upload rejected" {
		t.Fatalf("expected error message as evidence, got %v", resp.VisualEvidence)
	}
	if resp.AudioEvidence == nil || resp.VideoURL != nil {
		t.Fatalf("unexpected shape %+v", resp)
	}
	if f.saliency.gotPath != "" {
		t.Fatal("single mode must not run other engines")
	}
}

func TestAnalyzeSingleSaliencyReportsArtifact(t *testing.T) {
	f := newFixture(t)
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, uploadRequest(t, "clip.mp4", []byte("x"), "heatmap"))

	resp := decode[AnalysisResponse](t, w)
	if resp.VerdictTitle != engine.LabelFake || resp.Breakdown["saliency"] != 60 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.VideoURL == nil {
		t.Fatal("expected video url")
	}
	if len(resp.VisualEvidence) != 1 || resp.VisualEvidence[0] != "Grad-CAM analyzed 4 frames." {
		t.Fatalf("expected engine evidence, got %v", resp.VisualEvidence)
	}
}

func TestAnalyzeDisabledEngine(t *testing.T) {
	f := newFixture(t)
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, uploadRequest(t, "clip.mp4", []byte("x"), "local"))

	resp := decode[AnalysisResponse](t, w)
	if resp.VerdictTitle != engine.LabelSystemError {
		t.Fatalf("expected SYSTEM ERROR for disabled engine, got %+v", resp)
	}
}

func TestAnalyzeRejectsBadRequests(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name string
		req  *http.Request
		want int
	}{
		{"missing file", uploadRequest(t, "", nil, ""), http.StatusBadRequest},
		{"empty file", uploadRequest(t, "clip.mp4", nil, ""), http.StatusBadRequest},
		{"unknown mode", uploadRequest(t, "clip.mp4", []byte("x"), "oracle"), http.StatusBadRequest},
		{"not multipart", httptest.NewRequest(http.MethodPost, "/analyze", bytes.NewReader([]byte("{}"))), http.StatusBadRequest},
		{"wrong method", httptest.NewRequest(http.MethodGet, "/analyze", nil), http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		f.server.Handler().ServeHTTP(w, tc.req)
		if w.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d (%s)", tc.name, tc.want, w.Code, w.Body.String())
		}
		if decode[ErrorResponse](t, w).Error == "" {
			t.Fatalf("%s: expected error message", tc.name)
		}
	}

	entries, err := os.ReadDir(f.cfg.Paths.WorkDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected work dir cleaned, found %d entries", len(entries))
	}
}

func TestAnalyzeUploadLimit(t *testing.T) {
	f := newFixture(t)
	f.server.maxUpload = 1024

	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, uploadRequest(t, "clip.mp4", bytes.Repeat([]byte("a"), 4096), ""))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
	if f.cloud.gotPath != "" {
		t.Fatal("engines must not run for rejected uploads")
	}
}

func TestStatusAndArtifacts(t *testing.T) {
	f := newFixture(t)

	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	status := decode[StatusResponse](t, w)
	if status.Model != f.cfg.Gemini.Model || status.Engines[ModeLocal] != "disabled" || status.Engines[ModeCloud] != "ready" {
		t.Fatalf("unexpected status %+v", status)
	}

	w = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, uploadRequest(t, "clip.mp4", []byte("x"), ""))
	resp := decode[AnalysisResponse](t, w)

	w = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, *resp.VideoURL, nil))
	if w.Code != http.StatusOK || w.Body.String() != "video" {
		t.Fatalf("expected artifact served, got %d %q", w.Code, w.Body.String())
	}

	for _, path := range []string{"/generated/", "/generated/.truthlens.lock", "/metrics"} {
		w = httptest.NewRecorder()
		f.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, w.Code)
		}
	}
}

func TestMetricsEndpointWhenEnabled(t *testing.T) {
	f := newFixture(t, testsupport.WithConfig(func(cfg *config.Config) { cfg.Metrics.Enabled = true }))
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, uploadRequest(t, "clip.mp4", []byte("x"), ""))

	w = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte("truthlens_engine_runs_total")) {
		t.Fatalf("expected metrics exposition, got %d", w.Code)
	}
}

func TestPreflightOptions(t *testing.T) {
	f := newFixture(t)
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/analyze", nil))
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Fatalf("expected CORS preflight response, got %d", w.Code)
	}
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := f.server.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	resp, err := http.Get("http://" + f.server.Addr() + "/")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	f.server.Stop()
	if f.server.Addr() != "" {
		t.Fatal("expected listener released")
	}
}
