package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"truthlens/internal/api"
	"truthlens/internal/logging"
	"truthlens/internal/preflight"
)

const maintenanceInterval = time.Hour

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analysis HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if bind != "" {
				cfg.Paths.APIBind = bind
			}
			logger, err := ctx.logger()
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			for _, status := range preflight.CheckSystemDeps(signalCtx, cfg) {
				if !status.Available {
					logger.Warn("dependency unavailable",
						logging.String("dependency", status.Name),
						logging.String("detail", status.Detail),
						logging.Bool("optional", status.Optional),
					)
				}
			}
			for _, result := range preflight.RunAll(signalCtx, cfg) {
				if !result.Passed {
					logger.Warn("preflight check failed",
						logging.String("check", result.Name),
						logging.String("detail", result.Detail),
					)
				}
			}

			a, err := bootstrap(signalCtx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			server, err := api.New(api.Options{
				Config:    cfg,
				Runner:    a.runner,
				Engines:   a.engines,
				Artifacts: a.artifacts,
				Metrics:   a.metrics,
				Logger:    logger,
			})
			if err != nil {
				return err
			}
			if err := server.Start(signalCtx); err != nil {
				return err
			}
			defer server.Stop()

			go a.maintain(signalCtx, maintenanceInterval)

			<-signalCtx.Done()
			logger.Info("truthlens shutting down")
			return nil
		},
	}

	cmd.Flags().StringVar(&bind, "bind", "", "Override paths.api_bind")
	return cmd
}
