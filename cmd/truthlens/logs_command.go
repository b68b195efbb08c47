package main

import (
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"truthlens/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines     int
		follow    bool
		raw       bool
		requestID string
		engine    string
		level     string
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent log entries",
		Long: "Show entries from truthlens.log. Use --request with the X-Request-ID of an\n" +
			"analysis to see every engine's log lines for that upload.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			filter := logs.Filter{CorrelationID: requestID, Engine: engine}
			if level != "" {
				var lvl slog.Level
				if err := lvl.UnmarshalText([]byte(level)); err != nil {
					return fmt.Errorf("invalid --level %q", level)
				}
				filter.MinLevel = lvl
			}

			path := filepath.Join(cfg.Paths.LogDir, "truthlens.log")
			out := cmd.OutOrStdout()
			emit := func(line string) {
				if !filter.Match(line) {
					return
				}
				printLogLine(out, line, raw)
			}

			// a filtered view scans the whole file, then keeps the last matches
			limit := lines
			if filter != (logs.Filter{}) {
				limit = -1
			}
			result, err := readLog(cmd, path, limit)
			if err != nil {
				return err
			}
			var matched []string
			for _, line := range result.Lines {
				if filter.Match(line) {
					matched = append(matched, line)
				}
			}
			if lines > 0 && len(matched) > lines {
				matched = matched[len(matched)-lines:]
			}
			for _, line := range matched {
				printLogLine(out, line, raw)
			}
			if !follow {
				return nil
			}

			signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return logs.Follow(signalCtx, path, result.Offset, emit)
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show (0 for all)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new entries")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print JSON lines unformatted")
	cmd.Flags().StringVar(&requestID, "request", "", "Only entries for this request id")
	cmd.Flags().StringVar(&engine, "engine", "", "Only entries from this engine")
	cmd.Flags().StringVar(&level, "level", "", "Minimum level (debug, info, warn, error)")
	return cmd
}

// readLog returns the last limit lines, or the whole file when limit is not
// positive.
func readLog(cmd *cobra.Command, path string, limit int) (logs.TailResult, error) {
	if limit > 0 {
		return logs.Tail(cmd.Context(), path, logs.TailOptions{Offset: -1, Limit: limit})
	}
	return logs.Tail(cmd.Context(), path, logs.TailOptions{Offset: 0})
}

func printLogLine(out io.Writer, line string, raw bool) {
	if !raw {
		if rec, ok := logs.Parse(line); ok {
			line = logs.Format(rec)
		}
	}
	fmt.Fprintln(out, line)
}
