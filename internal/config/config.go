package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	ArtifactDir string `toml:"artifact_dir"`
	WorkDir     string `toml:"work_dir"`
	CacheDir    string `toml:"cache_dir"`
	LogDir      string `toml:"log_dir"`
	APIBind     string `toml:"api_bind"`
}

// Gemini contains configuration for the remote multimodal forensic engine.
type Gemini struct {
	APIKey                   string `toml:"api_key"`
	BaseURL                  string `toml:"base_url"`
	Model                    string `toml:"model"`
	Grounding                bool   `toml:"grounding"`
	TimeoutSeconds           int    `toml:"timeout_seconds"`
	PollIntervalSeconds      int    `toml:"poll_interval_seconds"`
	ProcessingTimeoutSeconds int    `toml:"processing_timeout_seconds"`
	Keyframes                int    `toml:"keyframes"`
}

// Inference describes how the model sidecar process is launched.
type Inference struct {
	Command               string   `toml:"command"`
	Args                  []string `toml:"args"`
	Device                string   `toml:"device"`
	StartupTimeoutSeconds int      `toml:"startup_timeout_seconds"`
}

// Saliency contains configuration for the gradient-weighted heatmap engine.
type Saliency struct {
	WeightsPath string   `toml:"weights_path"`
	Backbone    string   `toml:"backbone"`
	FrameStep   int      `toml:"frame_step"`
	MaxFrames   int      `toml:"max_frames"`
	Alpha       float64  `toml:"alpha"`
	Codecs      []string `toml:"codecs"`
}

// Frame sampling modes for the local engine.
const (
	SamplingPercentile = "percentile"
	SamplingStride     = "stride"
)

// Local contains configuration for the face-localized frame classifier.
type Local struct {
	WeightsPath string `toml:"weights_path"`
	NumFrames   int    `toml:"num_frames"`
	Sampling    string `toml:"sampling"`
}

// Lightweight contains configuration for the label-based frame classifier.
type Lightweight struct {
	Enabled       bool   `toml:"enabled"`
	Model         string `toml:"model"`
	InspectFrames int    `toml:"inspect_frames"`
	Stride        int    `toml:"stride"`
}

// Uploads bounds accepted uploads and controls the remote asset cache.
type Uploads struct {
	MaxMB         int  `toml:"max_mb"`
	CacheEnabled  bool `toml:"cache_enabled"`
	CacheTTLHours int  `toml:"cache_ttl_hours"`
}

// Artifacts controls retention of generated heatmap videos.
type Artifacts struct {
	RetentionHours int `toml:"retention_hours"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Metrics toggles the Prometheus endpoint.
type Metrics struct {
	Enabled bool `toml:"enabled"`
}

// Config encapsulates all configuration values for TruthLens.
//
// Configuration sections by subsystem:
//   - Paths: artifact, work, cache and log directories plus the API bind address
//   - Gemini: remote forensic engine credentials, model and polling budget
//   - Inference: model sidecar launch command
//   - Saliency, Local, Lightweight: per-engine sampling and weights
//   - Uploads: size limit and remote asset cache
//   - Artifacts: heatmap retention
//   - Logging, Metrics: observability
type Config struct {
	Paths       Paths       `toml:"paths"`
	Gemini      Gemini      `toml:"gemini"`
	Inference   Inference   `toml:"inference"`
	Saliency    Saliency    `toml:"saliency"`
	Local       Local       `toml:"local"`
	Lightweight Lightweight `toml:"lightweight"`
	Uploads     Uploads     `toml:"uploads"`
	Artifacts   Artifacts   `toml:"artifacts"`
	Logging     Logging     `toml:"logging"`
	Metrics     Metrics     `toml:"metrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("truthlens.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the artifact, work, cache and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.ArtifactDir, c.Paths.WorkDir, c.Paths.CacheDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// FFprobeBinary returns the ffprobe executable name used for video inspection.
func (c *Config) FFprobeBinary() string {
	return "ffprobe"
}

// FFmpegBinary returns the ffmpeg executable name used for decoding and encoding.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// PollInterval returns the remote asset polling interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Gemini.PollIntervalSeconds) * time.Second
}

// ProcessingTimeout returns the total budget for remote asset processing.
func (c *Config) ProcessingTimeout() time.Duration {
	return time.Duration(c.Gemini.ProcessingTimeoutSeconds) * time.Second
}

// UploadLimit returns the maximum accepted upload size in bytes.
func (c *Config) UploadLimit() int64 {
	return int64(c.Uploads.MaxMB) << 20
}

// UploadCachePath returns the SQLite path for the remote asset cache.
func (c *Config) UploadCachePath() string {
	return filepath.Join(c.Paths.CacheDir, "uploads.db")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
