package config

const (
	defaultConfigPath                = "~/.config/truthlens/config.toml"
	defaultArtifactDir               = "~/.local/share/truthlens/generated"
	defaultWorkDir                   = "~/.local/share/truthlens/work"
	defaultCacheDir                  = "~/.cache/truthlens"
	defaultLogDir                    = "~/.local/share/truthlens/logs"
	defaultAPIBind                   = "127.0.0.1:8000"
	defaultGeminiBaseURL             = "https://generativelanguage.googleapis.com"
	defaultGeminiModel               = "gemini-2.5-pro"
	defaultGeminiTimeoutSeconds      = 120
	defaultPollIntervalSeconds       = 2
	defaultProcessingTimeoutSeconds  = 600
	defaultKeyframes                 = 5
	defaultInferenceCommand          = "python3"
	defaultInferenceDevice           = "cpu"
	defaultInferenceStartupSeconds   = 60
	defaultSaliencyBackbone          = "resnet18"
	defaultSaliencyFrameStep         = 5
	defaultSaliencyMaxFrames         = 150
	defaultSaliencyAlpha             = 0.5
	defaultLocalNumFrames            = 10
	defaultLocalSampling             = SamplingPercentile
	defaultLightweightModel          = "dima806/deepfake_vs_real_image_detection"
	defaultLightweightInspectFrames  = 40
	defaultLightweightStride         = 5
	defaultUploadMaxMB               = 512
	defaultUploadCacheTTLHours       = 46
	defaultArtifactRetentionHours    = 72
	defaultLogFormat                 = "console"
	defaultLogLevel                  = "info"
)

var (
	defaultInferenceArgs  = []string{"-m", "truthlens_worker"}
	defaultSaliencyCodecs = []string{"avc1", "vp09", "mp4v"}
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			ArtifactDir: defaultArtifactDir,
			WorkDir:     defaultWorkDir,
			CacheDir:    defaultCacheDir,
			LogDir:      defaultLogDir,
			APIBind:     defaultAPIBind,
		},
		Gemini: Gemini{
			BaseURL:                  defaultGeminiBaseURL,
			Model:                    defaultGeminiModel,
			Grounding:                true,
			TimeoutSeconds:           defaultGeminiTimeoutSeconds,
			PollIntervalSeconds:      defaultPollIntervalSeconds,
			ProcessingTimeoutSeconds: defaultProcessingTimeoutSeconds,
			Keyframes:                defaultKeyframes,
		},
		Inference: Inference{
			Command:               defaultInferenceCommand,
			Args:                  append([]string(nil), defaultInferenceArgs...),
			Device:                defaultInferenceDevice,
			StartupTimeoutSeconds: defaultInferenceStartupSeconds,
		},
		Saliency: Saliency{
			Backbone:  defaultSaliencyBackbone,
			FrameStep: defaultSaliencyFrameStep,
			MaxFrames: defaultSaliencyMaxFrames,
			Alpha:     defaultSaliencyAlpha,
			Codecs:    append([]string(nil), defaultSaliencyCodecs...),
		},
		Local: Local{
			NumFrames: defaultLocalNumFrames,
			Sampling:  defaultLocalSampling,
		},
		Lightweight: Lightweight{
			Enabled:       true,
			Model:         defaultLightweightModel,
			InspectFrames: defaultLightweightInspectFrames,
			Stride:        defaultLightweightStride,
		},
		Uploads: Uploads{
			MaxMB:         defaultUploadMaxMB,
			CacheEnabled:  true,
			CacheTTLHours: defaultUploadCacheTTLHours,
		},
		Artifacts: Artifacts{
			RetentionHours: defaultArtifactRetentionHours,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
