package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"truthlens/internal/config"
	"truthlens/internal/deps"
	"truthlens/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check dependencies, directories and remote services",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			configDetail := ctx.configPath
			if !ctx.configSeen {
				configDetail += " (not found; defaults in use)"
			}
			writeSection(out, "Configuration", colorize, []string{
				renderStatusLine("Config file", statusInfo, configDetail, colorize),
				renderStatusLine("API bind", statusInfo, cfg.Paths.APIBind, colorize),
			})

			var depLines []string
			for _, status := range preflight.CheckSystemDeps(cmd.Context(), cfg) {
				depLines = append(depLines, renderDependency(status, colorize))
			}
			writeSection(out, "Dependencies", colorize, depLines)

			writeSection(out, "Engines", colorize, engineLines(cfg, colorize))

			var checkLines []string
			for _, result := range preflight.RunAll(cmd.Context(), cfg) {
				kind := statusOK
				if !result.Passed {
					kind = statusError
				}
				checkLines = append(checkLines, renderStatusLine(result.Name, kind, result.Detail, colorize))
			}
			writeSection(out, "Checks", colorize, checkLines)
			return nil
		},
	}
}

func writeSection(out io.Writer, title string, colorize bool, lines []string) {
	for _, line := range renderSectionHeader(title, colorize) {
		fmt.Fprintln(out, line)
	}
	for _, line := range lines {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out)
}

func renderDependency(status deps.Status, colorize bool) string {
	switch {
	case status.Available:
		msg := status.Command
		if status.Detail != "" {
			msg = status.Detail
		}
		return renderStatusLine(status.Name, statusOK, msg, colorize)
	case status.Optional:
		return renderStatusLine(status.Name, statusWarn, status.Detail, colorize)
	default:
		return renderStatusLine(status.Name, statusError, status.Detail, colorize)
	}
}

// engineLines summarizes how each engine is expected to start, without
// launching the inference worker.
func engineLines(cfg *config.Config, colorize bool) []string {
	cloud := renderStatusLine("Cloud", statusWarn, "disabled (no API key)", colorize)
	if cfg.Gemini.APIKey != "" {
		mode := "grounded"
		if !cfg.Gemini.Grounding {
			mode = "ungrounded"
		}
		cloud = renderStatusLine("Cloud", statusOK, fmt.Sprintf("%s, %s", cfg.Gemini.Model, mode), colorize)
	}
	lightweight := renderStatusLine("Lightweight", statusWarn, "disabled", colorize)
	if cfg.Lightweight.Enabled {
		lightweight = renderStatusLine("Lightweight", statusOK, cfg.Lightweight.Model, colorize)
	}
	return []string{
		cloud,
		weightsLine("Saliency", cfg.Saliency.WeightsPath, cfg.Saliency.Backbone, colorize),
		weightsLine("Local", cfg.Local.WeightsPath, cfg.Saliency.Backbone, colorize),
		lightweight,
	}
}

func weightsLine(name, weightsPath, backbone string, colorize bool) string {
	if strings.TrimSpace(weightsPath) == "" {
		return renderStatusLine(name, statusWarn, fmt.Sprintf("demo mode (pretrained %s, no weights configured)", backbone), colorize)
	}
	if _, err := os.Stat(weightsPath); err != nil {
		return renderStatusLine(name, statusWarn, fmt.Sprintf("demo mode (weights %s unreadable)", weightsPath), colorize)
	}
	return renderStatusLine(name, statusOK, "trained weights "+weightsPath, colorize)
}
