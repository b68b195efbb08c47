package config

import (
	"errors"
	"fmt"
	"slices"
)

var knownCodecs = []string{"avc1", "vp09", "mp4v"}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateGemini(); err != nil {
		return err
	}
	if err := c.validateSaliency(); err != nil {
		return err
	}
	if err := c.validateLocal(); err != nil {
		return err
	}
	if err := c.validateLightweight(); err != nil {
		return err
	}
	if err := c.validateUploads(); err != nil {
		return err
	}
	return c.validateLogging()
}

// validateGemini does not require an API key: the cloud engine is disabled
// without one and the ensemble scores it neutrally.
func (c *Config) validateGemini() error {
	if c.Gemini.PollIntervalSeconds <= 0 {
		return errors.New("gemini.poll_interval_seconds must be positive")
	}
	if c.Gemini.ProcessingTimeoutSeconds < c.Gemini.PollIntervalSeconds {
		return errors.New("gemini.processing_timeout_seconds must be at least gemini.poll_interval_seconds")
	}
	if c.Gemini.TimeoutSeconds <= 0 {
		return errors.New("gemini.timeout_seconds must be positive")
	}
	if c.Gemini.Keyframes < 0 {
		return errors.New("gemini.keyframes must be zero or positive")
	}
	return nil
}

func (c *Config) validateSaliency() error {
	if c.Saliency.FrameStep <= 0 {
		return errors.New("saliency.frame_step must be positive")
	}
	if c.Saliency.MaxFrames < 0 {
		return errors.New("saliency.max_frames must be zero (unlimited) or positive")
	}
	if c.Saliency.Alpha <= 0 || c.Saliency.Alpha > 1 {
		return errors.New("saliency.alpha must be in (0, 1]")
	}
	for _, codec := range c.Saliency.Codecs {
		if !slices.Contains(knownCodecs, codec) {
			return fmt.Errorf("saliency.codecs: unsupported codec %q (expected one of %v)", codec, knownCodecs)
		}
	}
	return nil
}

func (c *Config) validateLocal() error {
	if c.Local.NumFrames <= 0 {
		return errors.New("local.num_frames must be positive")
	}
	switch c.Local.Sampling {
	case SamplingPercentile, SamplingStride:
		return nil
	default:
		return fmt.Errorf("local.sampling: unsupported value %q (expected percentile or stride)", c.Local.Sampling)
	}
}

func (c *Config) validateLightweight() error {
	if c.Lightweight.Stride <= 0 {
		return errors.New("lightweight.stride must be positive")
	}
	if c.Lightweight.InspectFrames <= 0 {
		return errors.New("lightweight.inspect_frames must be positive")
	}
	if c.Lightweight.Enabled && c.Lightweight.Model == "" {
		return errors.New("lightweight.model must be set when the lightweight engine is enabled")
	}
	return nil
}

func (c *Config) validateUploads() error {
	if c.Uploads.MaxMB <= 0 {
		return errors.New("uploads.max_mb must be positive")
	}
	if c.Uploads.CacheEnabled && c.Uploads.CacheTTLHours <= 0 {
		return errors.New("uploads.cache_ttl_hours must be positive when the cache is enabled")
	}
	if c.Artifacts.RetentionHours < 0 {
		return errors.New("artifacts.retention_hours must be zero (keep forever) or positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json", "color":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}
