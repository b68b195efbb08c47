package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"truthlens/internal/config"
	"truthlens/internal/deps"
	"truthlens/internal/media/video"
	"truthlens/internal/services/gemini"
)

// CheckGemini verifies that the Gemini API is reachable, the key is valid
// and the model accepts the configured tools. It uses a 30-second timeout
// and a single attempt (no retries).
func CheckGemini(ctx context.Context, cfg *config.Config) Result {
	const name = "Gemini API"
	if cfg.Gemini.APIKey == "" {
		return Result{Name: name, Detail: "API key missing"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client := gemini.NewClient(gemini.Config{
		APIKey:  cfg.Gemini.APIKey,
		BaseURL: cfg.Gemini.BaseURL,
		Model:   cfg.Gemini.Model,
	}, gemini.WithRetryMaxAttempts(1))

	err := client.Verify(checkCtx, gemini.GenerationOptions{Grounding: cfg.Gemini.Grounding})
	if err == nil {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable", client.Model())}
	}
	if cfg.Gemini.Grounding {
		if plainErr := client.Verify(checkCtx, gemini.GenerationOptions{}); plainErr == nil {
			return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable (grounding unavailable)", client.Model())}
		}
	}
	return Result{Name: name, Detail: summarizeGeminiError(err)}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace verifies the filesystem holding path has at least minBytes free.
func CheckFreeSpace(name, path string, minBytes uint64) Result {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	free := st.Bavail * uint64(st.Bsize)
	detail := fmt.Sprintf("%s (%s free)", path, formatBytes(free))
	if free < minBytes {
		return Result{Name: name, Detail: fmt.Sprintf("%s, need %s", detail, formatBytes(minBytes))}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckSystemDeps evaluates the executables and encoders for the given
// config. Both serve and the CLI status command use this to avoid
// duplicating the requirements list.
func CheckSystemDeps(ctx context.Context, cfg *config.Config) []deps.Status {
	results := deps.CheckBinaries(deps.Requirements(cfg))
	if !results[0].Available {
		return results
	}
	codecs, err := video.LookupCodecs(cfg.Saliency.Codecs)
	if err != nil {
		return append(results, deps.Status{Name: "Heatmap encoders", Detail: err.Error(), Optional: true})
	}
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	ffmpeg := video.NewFFmpeg(results[0].Command, cfg.FFprobeBinary())
	return append(results, deps.CheckEncoders(checkCtx, ffmpeg, codecs))
}

// summarizeGeminiError produces a human-readable summary for verification failures.
func summarizeGeminiError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "verification timed out (Gemini API unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "verification timed out (Gemini API unreachable)"
	}
	var statusErr *gemini.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case 400, 401, 403:
			return fmt.Sprintf("rejected (%d): check api_key and model", statusErr.StatusCode)
		case 404:
			return "model not found"
		}
	}
	return err.Error()
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
