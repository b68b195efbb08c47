package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"truthlens/internal/artifacts"
	"truthlens/internal/config"
	"truthlens/internal/engine"
	"truthlens/internal/ensemble"
	"truthlens/internal/inference"
	"truthlens/internal/logging"
	"truthlens/internal/metrics"
	"truthlens/internal/services"
)

// Analysis modes accepted by POST /analyze.
const (
	ModeEnsemble    = "ensemble"
	ModeCloud       = "cloud"
	ModeSaliency    = "saliency"
	ModeLocal       = "local"
	ModeLightweight = "lightweight"
)

// modeAliases maps breakdown keys onto modes so clients can use either.
var modeAliases = map[string]string{
	ensemble.KeyCloud:       ModeCloud,
	ensemble.KeySaliency:    ModeSaliency,
	ensemble.KeyLightweight: ModeLightweight,
}

// multipartOverhead is allowed on top of the upload limit for form framing.
const multipartOverhead = 1 << 20

// Engines are the individually addressable engines. Nil entries are disabled.
type Engines struct {
	Cloud       engine.Engine
	Saliency    engine.Engine
	Local       engine.Engine
	Lightweight engine.Engine
}

// Options wires a Server.
type Options struct {
	Config    *config.Config
	Runner    *ensemble.Runner
	Engines   Engines
	Artifacts *artifacts.Store
	Metrics   *metrics.Recorder
	Logger    *slog.Logger
}

// Server is the TruthLens HTTP API.
type Server struct {
	bind      string
	workDir   string
	maxUpload int64
	model     string
	runner    *ensemble.Runner
	engines   Engines
	artifacts *artifacts.Store
	metrics   *metrics.Recorder
	logger    *slog.Logger

	handler http.Handler
	server  *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// New builds a Server. Start must be called to begin listening.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, errors.New("api server requires config")
	}
	if opts.Runner == nil {
		return nil, errors.New("api server requires an ensemble runner")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		bind:      strings.TrimSpace(opts.Config.Paths.APIBind),
		workDir:   opts.Config.Paths.WorkDir,
		maxUpload: opts.Config.UploadLimit(),
		model:     opts.Config.Gemini.Model,
		runner:    opts.Runner,
		engines:   opts.Engines,
		artifacts: opts.Artifacts,
		logger:    logging.NewComponentLogger(logger, "api-server"),
	}
	if opts.Config.Metrics.Enabled {
		s.metrics = opts.Metrics
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", s.handleStatus)
	mux.HandleFunc("/analyze", s.handleAnalyze)
	if s.artifacts != nil {
		files := http.StripPrefix(artifacts.URLPrefix, http.FileServer(http.Dir(s.artifacts.Dir())))
		mux.Handle(artifacts.URLPrefix, artifactGuard(files))
	}
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	s.handler = corsMiddleware(mux)

	// WriteTimeout is left unset: an ensemble run blocks on remote
	// processing for minutes.
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// Handler exposes the routed handler, used directly by tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	if s.bind == "" {
		return services.Wrap(services.ErrConfiguration, "api", "listen", "api_bind is empty", nil)
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "api", "listen", fmt.Sprintf("bind %s", s.bind), err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "api_server_failed", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, waiting up to five seconds for in-flight requests.
func (s *Server) Stop() {
	s.mu.Lock()
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()
	if listener == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("api server shutdown incomplete", logging.Error(err))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	engines := map[string]string{
		ModeCloud:       engineStatus(s.engines.Cloud),
		ModeSaliency:    engineStatus(s.engines.Saliency),
		ModeLocal:       engineStatus(s.engines.Local),
		ModeLightweight: engineStatus(s.engines.Lightweight),
	}
	s.writeJSON(w, http.StatusOK, StatusResponse{
		Status:  "TruthLens backend is running",
		Model:   s.model,
		Engines: engines,
	})
}

// engineStatus reports "disabled", "demo", "degraded" or "ready".
func engineStatus(eng engine.Engine) string {
	if eng == nil {
		return "disabled"
	}
	if st, ok := eng.(interface{ State() inference.ModelState }); ok {
		return st.State().String()
	}
	if av, ok := eng.(interface{ Available() bool }); ok && !av.Available() {
		return "degraded"
	}
	return "ready"
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	requestID := uuid.NewString()
	ctx := services.WithRequestID(r.Context(), requestID)
	logger := logging.WithContext(ctx, s.logger)
	w.Header().Set("X-Request-ID", requestID)

	if s.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+multipartOverhead)
	}
	up, err := s.receive(r)
	if up.path != "" {
		defer func() {
			if rmErr := os.Remove(up.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				logger.Warn("upload cleanup failed", logging.String("path", up.path), logging.Error(rmErr))
			}
		}()
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d MB", s.maxUpload>>20))
			return
		}
		s.writeError(w, services.HTTPStatus(err), err.Error())
		return
	}

	mode, eng, err := s.engines.Select(up.mode)
	if err != nil {
		s.writeError(w, services.HTTPStatus(err), err.Error())
		return
	}

	logger.Info("analysis started",
		logging.String("filename", up.filename),
		logging.String("mode", mode),
		logging.Int("size_bytes", int(up.size)),
	)
	start := time.Now()

	var resp AnalysisResponse
	if mode == ModeEnsemble {
		resp = FromVerdict(s.runner.Run(ctx, up.path))
	} else {
		res := s.runner.RunSingle(ctx, eng, up.path)
		url := ""
		if s.artifacts != nil && res.ArtifactPath != "" {
			url = s.artifacts.URL(res.ArtifactPath)
		}
		resp = FromResult(mode, res, url)
	}
	resp.RequestID = requestID

	logger.Info("analysis complete",
		logging.String("mode", mode),
		logging.Float64("confidence_score", resp.ConfidenceScore),
		logging.String("verdict_title", resp.VerdictTitle),
		logging.Duration("elapsed", time.Since(start)),
	)
	s.writeJSON(w, http.StatusOK, resp)
}

type upload struct {
	path     string
	filename string
	mode     string
	size     int64
}

// receive streams the multipart body, writing the "file" part into the work
// directory. The returned path is set whenever a file was created, even on
// error, so the caller can remove it.
func (s *Server) receive(r *http.Request) (upload, error) {
	var out upload
	reader, err := r.MultipartReader()
	if err != nil {
		return out, services.Wrap(services.ErrValidation, "api", "analyze", "expected multipart/form-data body", err)
	}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, wrapBodyError(err)
		}
		switch part.FormName() {
		case "file":
			if out.path != "" {
				part.Close()
				return out, services.Wrap(services.ErrValidation, "api", "analyze", "only one file may be uploaded", nil)
			}
			out.filename = filepath.Base(part.FileName())
			out.path, out.size, err = s.saveUpload(part, out.filename)
		case "mode":
			var raw []byte
			raw, err = io.ReadAll(io.LimitReader(part, 64))
			out.mode = strings.ToLower(strings.TrimSpace(string(raw)))
		}
		part.Close()
		if err != nil {
			return out, wrapBodyError(err)
		}
	}
	if out.path == "" {
		return out, services.Wrap(services.ErrValidation, "api", "analyze", "missing form field \"file\"", nil)
	}
	if out.size == 0 {
		return out, services.Wrap(services.ErrValidation, "api", "analyze", "uploaded file is empty", nil)
	}
	return out, nil
}

func (s *Server) saveUpload(part *multipart.Part, filename string) (string, int64, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) > 8 || strings.ContainsAny(ext, `/\`) {
		ext = ""
	}
	path := filepath.Join(s.workDir, "upload_"+uuid.NewString()+ext)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", 0, services.Wrap(services.ErrConfiguration, "api", "analyze", "create upload file", err)
	}
	size, copyErr := io.Copy(file, part)
	closeErr := file.Close()
	if copyErr != nil {
		return path, size, copyErr
	}
	if closeErr != nil {
		return path, size, services.Wrap(services.ErrTransient, "api", "analyze", "write upload file", closeErr)
	}
	if s.maxUpload > 0 && size > s.maxUpload {
		return path, size, &http.MaxBytesError{Limit: s.maxUpload}
	}
	return path, size, nil
}

func wrapBodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	if errors.Is(err, services.ErrValidation) || errors.Is(err, services.ErrConfiguration) || errors.Is(err, services.ErrTransient) {
		return err
	}
	return services.Wrap(services.ErrValidation, "api", "analyze", "read request body", err)
}

// Select resolves a mode or breakdown key to the engine it runs. The
// ensemble mode returns a nil engine.
func (e Engines) Select(mode string) (string, engine.Engine, error) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if alias, ok := modeAliases[mode]; ok {
		mode = alias
	}
	switch mode {
	case "", ModeEnsemble:
		return ModeEnsemble, nil, nil
	case ModeCloud:
		return mode, e.Cloud, nil
	case ModeSaliency:
		return mode, e.Saliency, nil
	case ModeLocal:
		return mode, e.Local, nil
	case ModeLightweight:
		return mode, e.Lightweight, nil
	default:
		return "", nil, services.Wrap(services.ErrValidation, "api", "analyze", fmt.Sprintf("unknown mode %q", mode), nil)
	}
}

// artifactGuard hides directory listings and dotfiles such as the prune lock.
func artifactGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, artifacts.URLPrefix)
		if name == "" || strings.HasSuffix(name, "/") || strings.HasPrefix(filepath.Base(name), ".") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
