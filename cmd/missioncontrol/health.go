package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"missioncontrol/internal/kernel"
	"missioncontrol/pkg/loopctl"
	"missioncontrol/pkg/metrics"
)

func newHealthCmd(opts *globalOptions) *cobra.Command {
	var (
		asJSON        bool
		prometheusURL string
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Report loop health for the last 7 days",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withKernel(cmd.Context(), opts, func(ctx context.Context, k *kernel.Kernel) error {
				h, err := loopctl.ComputeHealth(ctx, k.Store)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(w)
					enc.SetIndent("", "  ")
					return enc.Encode(h)
				}
				printHealth(w, h)

				if prometheusURL == "" {
					return nil
				}
				q, err := metrics.NewQueryService(prometheusURL, k.Config.Metrics.Namespace)
				if err != nil {
					return err
				}
				qctx, cancel := context.WithTimeout(ctx, 10*time.Second)
				defer cancel()
				usage, err := q.UsageByAgent(qctx)
				if err != nil {
					return fmt.Errorf("failed to query usage: %w", err)
				}
				fmt.Fprintln(w, "\nLLM usage by agent:")
				for _, u := range usage {
					fmt.Fprintf(w, "  %-14s %10d tokens  $%.4f\n", u.Agent, u.TotalTokens, u.TotalCost)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the health report as JSON")
	cmd.Flags().StringVar(&prometheusURL, "prometheus", "", "Prometheus server to read LLM usage from")
	return cmd
}

func printHealth(w io.Writer, h *loopctl.Health) {
	fmt.Fprintf(w, "Avg cycle time:     %s\n", time.Duration(h.AvgCycleMs)*time.Millisecond)
	fmt.Fprintf(w, "Avg review wait:    %s\n", time.Duration(h.AvgReviewWaitMs)*time.Millisecond)
	fmt.Fprintf(w, "Auto-approved:      %d%%\n", h.AutoApprovedPct)
	fmt.Fprintf(w, "Human revised:      %d%%\n", h.HumanRevisedPct)
	fmt.Fprintf(w, "Duplicates blocked: %d\n", h.DedupBlocked)
	for _, d := range h.CreatedVsCompleted {
		fmt.Fprintf(w, "  %s  created %3d  completed %3d\n", d.Day, d.Created, d.Completed)
	}
}
