package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeGemini()
	c.normalizeInference()
	if err := c.normalizeEngines(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		name     string
		value    *string
		fallback string
	}{
		{"paths.artifact_dir", &c.Paths.ArtifactDir, defaultArtifactDir},
		{"paths.work_dir", &c.Paths.WorkDir, defaultWorkDir},
		{"paths.cache_dir", &c.Paths.CacheDir, defaultCacheDir},
		{"paths.log_dir", &c.Paths.LogDir, ""},
	}
	for _, field := range fields {
		if strings.TrimSpace(*field.value) == "" {
			*field.value = field.fallback
		}
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.value = expanded
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeGemini() {
	c.Gemini.APIKey = strings.TrimSpace(c.Gemini.APIKey)
	if c.Gemini.APIKey == "" {
		for _, name := range []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"} {
			if value, ok := os.LookupEnv(name); ok && strings.TrimSpace(value) != "" {
				c.Gemini.APIKey = strings.TrimSpace(value)
				break
			}
		}
	}
	c.Gemini.BaseURL = strings.TrimRight(strings.TrimSpace(c.Gemini.BaseURL), "/")
	if c.Gemini.BaseURL == "" {
		c.Gemini.BaseURL = defaultGeminiBaseURL
	}
	c.Gemini.Model = strings.TrimPrefix(strings.TrimSpace(c.Gemini.Model), "models/")
	if c.Gemini.Model == "" {
		c.Gemini.Model = defaultGeminiModel
	}
}

func (c *Config) normalizeInference() {
	c.Inference.Command = strings.TrimSpace(c.Inference.Command)
	if c.Inference.Command == "" {
		c.Inference.Command = defaultInferenceCommand
		if len(c.Inference.Args) == 0 {
			c.Inference.Args = append([]string(nil), defaultInferenceArgs...)
		}
	}
	c.Inference.Device = strings.ToLower(strings.TrimSpace(c.Inference.Device))
	if c.Inference.Device == "" {
		c.Inference.Device = defaultInferenceDevice
	}
}

func (c *Config) normalizeEngines() error {
	var err error
	if c.Saliency.WeightsPath, err = expandPath(strings.TrimSpace(c.Saliency.WeightsPath)); err != nil {
		return fmt.Errorf("saliency.weights_path: %w", err)
	}
	if c.Local.WeightsPath, err = expandPath(strings.TrimSpace(c.Local.WeightsPath)); err != nil {
		return fmt.Errorf("local.weights_path: %w", err)
	}
	codecs := make([]string, 0, len(c.Saliency.Codecs))
	for _, codec := range c.Saliency.Codecs {
		if codec = strings.ToLower(strings.TrimSpace(codec)); codec != "" {
			codecs = append(codecs, codec)
		}
	}
	if len(codecs) == 0 {
		codecs = append(codecs, defaultSaliencyCodecs...)
	}
	c.Saliency.Codecs = codecs
	c.Local.Sampling = strings.ToLower(strings.TrimSpace(c.Local.Sampling))
	if c.Local.Sampling == "" {
		c.Local.Sampling = defaultLocalSampling
	}
	c.Lightweight.Model = strings.TrimSpace(c.Lightweight.Model)
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
