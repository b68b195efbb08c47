package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"truthlens/internal/api"
	"truthlens/internal/ensemble"
	"truthlens/internal/logging"
	"truthlens/internal/services"
)

// analysisReport is what analyze renders: the API response plus the
// per-engine detail only a local caller needs.
type analysisReport struct {
	Response     api.AnalysisResponse
	Mode         string
	Outcomes     []ensemble.Outcome
	ArtifactPath string
}

func newAnalyzeCommand(ctx *commandContext) *cobra.Command {
	var mode string
	var jsonOutput bool
	var verbose bool

	cmd := &cobra.Command{
		Use:   "analyze <video>",
		Short: "Analyze a video file and print the verdict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve video path: %w", err)
			}
			if info, err := os.Stat(path); err != nil {
				return fmt.Errorf("open video: %w", err)
			} else if info.IsDir() {
				return fmt.Errorf("open video: %s is a directory", path)
			}

			level := "warn"
			if verbose {
				level = cfg.Logging.Level
			}
			logger, err := logging.New(logging.Options{
				Level:       level,
				Format:      cfg.Logging.Format,
				OutputPaths: []string{"stderr"},
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := bootstrap(signalCtx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := runAnalysis(signalCtx, a, mode, path)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, report.Response)
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, renderReport(report, shouldColorize(out)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", api.ModeEnsemble, "Engine to run: ensemble, cloud, saliency, local or lightweight")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the API response as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log engine progress to stderr")
	return cmd
}

func runAnalysis(ctx context.Context, a *app, mode, path string) (analysisReport, error) {
	mode, eng, err := a.engines.Select(mode)
	if err != nil {
		return analysisReport{}, err
	}
	ctx = services.WithRequestID(ctx, uuid.NewString())

	if mode == api.ModeEnsemble {
		verdict := a.runner.Run(ctx, path)
		return analysisReport{
			Response:     api.FromVerdict(verdict),
			Mode:         mode,
			Outcomes:     verdict.Outcomes,
			ArtifactPath: verdict.ArtifactPath,
		}, nil
	}
	if eng == nil {
		return analysisReport{}, fmt.Errorf("%s engine is not available; run `truthlens status` for details", mode)
	}
	res := a.runner.RunSingle(ctx, eng, path)
	return analysisReport{
		Response:     api.FromResult(mode, res, a.artifacts.URL(res.ArtifactPath)),
		Mode:         mode,
		Outcomes:     []ensemble.Outcome{{Key: mode, Engine: eng.Name(), Result: res, Score: res.Score}},
		ArtifactPath: res.ArtifactPath,
	}, nil
}

func renderReport(r analysisReport, colorize bool) string {
	resp := r.Response
	var b strings.Builder

	kind := statusOK
	if resp.ConfidenceScore > 50 {
		kind = statusError
	}
	for _, line := range renderSectionHeader("Verdict", colorize) {
		b.WriteString(line + "\n")
	}
	b.WriteString(renderStatusLine("Title", kind, resp.VerdictTitle, colorize) + "\n")
	b.WriteString(renderStatusLine("Confidence", kind, fmt.Sprintf("%.2f%% likely synthetic", resp.ConfidenceScore), colorize) + "\n")
	if resp.IsDemo {
		b.WriteString(renderStatusLine("Reliability", statusWarn, "degraded: demo model or engine failure", colorize) + "\n")
	}
	if r.ArtifactPath != "" {
		b.WriteString(renderStatusLine("Heatmap", statusInfo, r.ArtifactPath, colorize) + "\n")
	}
	b.WriteString("\n")

	rows := make([][]string, 0, len(r.Outcomes))
	for _, out := range r.Outcomes {
		weight := "-"
		if w, ok := ensembleWeights[out.Key]; ok && r.Mode == api.ModeEnsemble {
			weight = fmt.Sprintf("%.1f", w)
		}
		rows = append(rows, []string{out.Key, out.Engine, fmt.Sprintf("%.2f", out.Score), weight, outcomeStatus(out)})
	}
	b.WriteString(renderTable(
		[]string{"Key", "Engine", "Score", "Weight", "Status"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	))
	b.WriteString("\n")

	writeList(&b, "Visual evidence", resp.VisualEvidence, colorize)
	writeList(&b, "Audio evidence", resp.AudioEvidence, colorize)
	if resp.FactCheck != "" {
		for _, line := range renderSectionHeader("Fact check", colorize) {
			b.WriteString("\n" + line)
		}
		b.WriteString("\n" + statusIndent + resp.FactCheck + "\n")
	}
	return b.String()
}

var ensembleWeights = map[string]float64{
	ensemble.KeyCloud:       ensemble.WeightCloud,
	ensemble.KeySaliency:    ensemble.WeightSaliency,
	ensemble.KeyLightweight: ensemble.WeightLightweight,
}

func outcomeStatus(out ensemble.Outcome) string {
	switch {
	case out.Failed():
		return "failed: " + out.Err.Error()
	case out.Result.Degraded:
		return "degraded (" + out.Result.Label + ")"
	default:
		return out.Result.Label
	}
}

func writeList(b *strings.Builder, title string, items []string, colorize bool) {
	if len(items) == 0 {
		return
	}
	for _, line := range renderSectionHeader(title, colorize) {
		b.WriteString("\n" + line)
	}
	b.WriteString("\n")
	for _, item := range items {
		b.WriteString(statusIndent + "- " + item + "\n")
	}
}
