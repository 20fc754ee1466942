package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"missioncontrol/internal/kernel"
	"missioncontrol/pkg/config"
	"missioncontrol/pkg/logx"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var noAPI bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the queue controller and the control API until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadProject(opts.projectDir)
			if err != nil {
				return err
			}
			if err := logx.InitializeLogFile(config.ResolvePath(cfg.Logs.Dir), cfg.Logs.Keep, opts.tee); err != nil {
				return fmt.Errorf("failed to initialize log file: %w", err)
			}
			defer func() {
				if err := logx.CloseLogFile(); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
				}
			}()

			if noAPI {
				cfg.Server.Enabled = false
			}
			k, err := kernel.New(cfg, kernel.Options{})
			if err != nil {
				return err
			}
			defer func() { _ = k.Close() }()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			config.LogInfo("🚀 Mission Control starting in %s", config.ProjectDir())
			if cfg.Server.Enabled {
				config.LogInfo("🌐 Control API on http://%s (user %s)", cfg.Server.Addr, cfg.Server.User)
			}
			if err := k.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noAPI, "no-api", false, "Do not start the control API")
	return cmd
}

func newQueueCmd(opts *globalOptions) *cobra.Command {
	queue := &cobra.Command{
		Use:   "queue",
		Short: "Queue operations",
	}
	queue.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Execute todo tasks until none are eligible, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return withKernel(ctx, opts, func(ctx context.Context, k *kernel.Kernel) error {
				n, err := k.Queue.Drain(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "Processed %d task(s).\n", n)
				if err != nil && ctx.Err() == nil {
					return err
				}
				return nil
			})
		},
	})
	return queue
}
