package deps

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"truthlens/internal/config"
	"truthlens/internal/media/video"
)

// Requirement defines an external executable TruthLens relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Requirements lists the executables the configured engines invoke.
func Requirements(cfg *config.Config) []Requirement {
	return []Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.FFmpegBinary(),
			Description: "Required for frame decoding and heatmap encoding",
		},
		{
			Name:        "FFprobe",
			Command:     cfg.FFprobeBinary(),
			Description: "Required for video inspection",
		},
		{
			Name:        "Inference worker",
			Command:     cfg.Inference.Command,
			Description: "Runs the saliency, local and lightweight models",
		},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		switch path, err := exec.LookPath(cmd); {
		case cmd == "":
			status.Detail = "command not configured"
		case err != nil:
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
		default:
			status.Command = path
			status.Available = true
		}
		results = append(results, status)
	}
	return results
}

// CheckEncoders reports which heatmap codecs the ffmpeg build can encode.
// The check passes when at least one candidate is available, since the
// saliency engine falls through the list in order.
func CheckEncoders(ctx context.Context, ffmpeg *video.FFmpeg, codecs []video.Codec) Status {
	status := Status{
		Name:        "Heatmap encoders",
		Command:     ffmpeg.FFmpegBinary,
		Description: "Encoders tried in order for annotated output",
		Optional:    true,
	}
	available, err := ffmpeg.Encoders(ctx)
	if err != nil {
		status.Detail = err.Error()
		return status
	}
	var usable, missing []string
	for _, codec := range codecs {
		if _, ok := available[codec.Encoder]; ok {
			usable = append(usable, codec.Encoder)
		} else {
			missing = append(missing, codec.Encoder)
		}
	}
	status.Available = len(usable) > 0
	switch {
	case len(usable) == 0:
		status.Detail = "no candidate encoder available; heatmap videos will not be produced"
	case len(missing) > 0:
		status.Detail = fmt.Sprintf("using %s (missing %s)", usable[0], strings.Join(missing, ", "))
	default:
		status.Detail = "using " + usable[0]
	}
	return status
}
