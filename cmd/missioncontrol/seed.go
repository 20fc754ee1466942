package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"missioncontrol/internal/kernel"
	"missioncontrol/pkg/roster"
)

func newSeedCmd(opts *globalOptions) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert the agent roster and add missing providers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				r   *roster.Roster
				err error
			)
			if path != "" {
				r, err = roster.Load(path)
			} else {
				r, err = roster.Default()
			}
			if err != nil {
				return err
			}
			return withKernel(cmd.Context(), opts, func(ctx context.Context, k *kernel.Kernel) error {
				sum, err := roster.Apply(ctx, k.Store, r)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d agent(s); providers: %d added, %d already present.\n",
					sum.Agents, sum.ProvidersAdded, sum.ProvidersSkipped)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&path, "roster", "", "Roster YAML file (default: built-in roster)")
	return cmd
}
