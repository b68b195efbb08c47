package cloud

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"truthlens/internal/config"
	"truthlens/internal/engine"
	"truthlens/internal/logging"
	"truthlens/internal/services"
	"truthlens/internal/services/gemini"
	"truthlens/internal/testsupport"
)

type fakeService struct {
	mu           sync.Mutex
	verifyErrs   []error
	verified     []gemini.GenerationOptions
	uploads      []string
	uploadMIMEs  []string
	states       []gemini.FileState
	stateErr     error
	response     string
	generateErr  error
	generated    []gemini.File
	deleted      []string
}

func (s *fakeService) Verify(_ context.Context, opts gemini.GenerationOptions) error {
	s.verified = append(s.verified, opts)
	if len(s.verifyErrs) > 0 {
		err := s.verifyErrs[0]
		s.verifyErrs = s.verifyErrs[1:]
		return err
	}
	return nil
}

func (s *fakeService) Upload(_ context.Context, path, mimeType string) (gemini.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads = append(s.uploads, path)
	s.uploadMIMEs = append(s.uploadMIMEs, mimeType)
	name := "files/" + filepath.Base(path)
	state := gemini.FileStateActive
	if strings.HasPrefix(mimeType, "video/") {
		state = gemini.FileStateProcessing
	}
	return gemini.File{Name: name, URI: "https://remote/" + name, MIMEType: mimeType, State: state}, nil
}

func (s *fakeService) State(context.Context, gemini.File) (gemini.FileState, error) {
	if s.stateErr != nil {
		return "", s.stateErr
	}
	if len(s.states) == 0 {
		return gemini.FileStateProcessing, nil
	}
	state := s.states[0]
	s.states = s.states[1:]
	return state, nil
}

func (s *fakeService) Generate(_ context.Context, _ string, files []gemini.File, _ gemini.GenerationOptions) (string, error) {
	s.generated = files
	return s.response, s.generateErr
}

func (s *fakeService) Delete(_ context.Context, file gemini.File) error {
	s.deleted = append(s.deleted, file.Name)
	return nil
}

func newEngine(t *testing.T, svc *fakeService, mutate func(*config.Config)) *Engine {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithGeminiKey("key", ""))
	cfg.Uploads.CacheEnabled = false
	if mutate != nil {
		mutate(cfg)
	}
	if err := os.MkdirAll(cfg.Paths.WorkDir, 0o755); err != nil {
		t.Fatalf("mkdir work dir: %v", err)
	}
	eng, err := New(context.Background(), svc, cfg, testsupport.NewFakeDecoder(32, 32, 100, 25), logging.NewNop())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	eng.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return eng
}

const validReport = "```json\n" + `{"confidence_score": 87, "verdict_title": "temporal warping detected",
 "visual_evidence": ["At 00:03 - jawline blur", " "], "audio_evidence": ["At 00:05 - lip closure fails"],
 "fact_check_analysis": "No matching broadcast found."}` + "\n```"

func TestNewFallsBackWithoutGrounding(t *testing.T) {
	svc := &fakeService{verifyErrs: []error{errors.New("tool unsupported")}}
	eng := newEngine(t, svc, nil)
	if eng.Grounded() {
		t.Fatal("expected grounding disabled after rejection")
	}
	if len(svc.verified) != 2 || !svc.verified[0].Grounding || svc.verified[1].Grounding {
		t.Fatalf("unexpected verification sequence %+v", svc.verified)
	}
}

func TestNewFailsWhenModelUnusable(t *testing.T) {
	svc := &fakeService{verifyErrs: []error{errors.New("bad key"), errors.New("bad key")}}
	cfg := testsupport.NewConfig(t, testsupport.WithGeminiKey("key", ""))
	if _, err := New(context.Background(), svc, cfg, nil, logging.NewNop()); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestAnalyzeProducesReport(t *testing.T) {
	svc := &fakeService{states: []gemini.FileState{gemini.FileStateProcessing, gemini.FileStateActive}, response: validReport}
	eng := newEngine(t, svc, nil)
	clip := testsupport.WriteVideoFile(t, t.TempDir(), "clip.mp4", 64)

	result, err := eng.Analyze(context.Background(), clip)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if result.Score != 87 || result.Label != "TEMPORAL WARPING DETECTED" {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(result.VisualEvidence) != 1 || len(result.AudioEvidence) != 1 || result.FactCheck != "No matching broadcast found." {
		t.Fatalf("unexpected evidence %+v", result)
	}
	// video plus five percentile keyframes
	if len(svc.uploads) != 6 || svc.uploadMIMEs[0] != "video/mp4" || svc.uploadMIMEs[1] != "image/jpeg" {
		t.Fatalf("unexpected uploads %v %v", svc.uploads, svc.uploadMIMEs)
	}
	if len(svc.generated) != 6 {
		t.Fatalf("expected all assets passed to generate, got %d", len(svc.generated))
	}
	if len(svc.deleted) != 6 {
		t.Fatalf("expected remote cleanup, got %v", svc.deleted)
	}
	if _, err := os.Stat(filepath.Dir(svc.uploads[1])); !os.IsNotExist(err) {
		t.Fatalf("expected keyframe dir removed, stat err=%v", err)
	}
}

func TestAnalyzeKeepsCachedVideo(t *testing.T) {
	svc := &fakeService{states: []gemini.FileState{gemini.FileStateActive}, response: validReport}
	eng := newEngine(t, svc, func(c *config.Config) {
		c.Uploads.CacheEnabled = true
		c.Gemini.Keyframes = 0
	})
	clip := testsupport.WriteVideoFile(t, t.TempDir(), "clip.webm", 64)
	if _, err := eng.Analyze(context.Background(), clip); err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if svc.uploadMIMEs[0] != "video/webm" {
		t.Fatalf("unexpected mime %q", svc.uploadMIMEs[0])
	}
	if len(svc.deleted) != 0 {
		t.Fatalf("cached video must not be deleted, got %v", svc.deleted)
	}
}

func TestAnalyzeFormatError(t *testing.T) {
	svc := &fakeService{states: []gemini.FileState{gemini.FileStateActive}, response: "I cannot analyze this video."}
	eng := newEngine(t, svc, nil)
	result, err := eng.Analyze(context.Background(), testsupport.WriteVideoFile(t, t.TempDir(), "clip.mp4", 64))
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if result.Label != engine.LabelFormatError || result.Score != 0 || result.FactCheck != "I cannot analyze this video." {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestAnalyzeRemoteFailure(t *testing.T) {
	svc := &fakeService{states: []gemini.FileState{gemini.FileStateFailed}}
	eng := newEngine(t, svc, nil)
	_, err := eng.Analyze(context.Background(), testsupport.WriteVideoFile(t, t.TempDir(), "clip.mp4", 64))
	if !errors.Is(err, services.ErrRemoteProcessing) {
		t.Fatalf("expected ErrRemoteProcessing, got %v", err)
	}
	if len(svc.deleted) == 0 {
		t.Fatal("expected uploaded assets cleaned up after failure")
	}
}

func TestAnalyzePollingBudget(t *testing.T) {
	svc := &fakeService{}
	eng := newEngine(t, svc, nil)
	eng.budget = 20 * time.Millisecond
	eng.sleep = sleepContext
	eng.interval = 5 * time.Millisecond
	_, err := eng.Analyze(context.Background(), testsupport.WriteVideoFile(t, t.TempDir(), "clip.mp4", 64))
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestParseReportClampsScore(t *testing.T) {
	result, err := parseReport(`{"confidence_score": 140, "verdict_title": "", "visual_evidence": [], "audio_evidence": [], "fact_check_analysis": ""}`)
	if err != nil {
		t.Fatalf("parseReport returned error: %v", err)
	}
	if result.Score != 100 || result.Label != engine.LabelDeepfake {
		t.Fatalf("unexpected result %+v", result)
	}
}
