package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"missioncontrol/internal/kernel"
	"missioncontrol/pkg/intake"
)

func newProduceCmd(opts *globalOptions) *cobra.Command {
	var (
		taskID string
		file   string
		auto   bool
	)
	cmd := &cobra.Command{
		Use:   "produce",
		Short: "Fan a Producer batch out into tasks, or queue a Producer planning task",
		Long: `produce creates tasks from a Producer batch.

  --task <id>    use the latest completed result of a Producer task
  --file <path>  read a JSON batch from a file ("-" for stdin)
  --auto         queue a Producer planning task describing the board`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			set := 0
			for _, b := range []bool{taskID != "", file != "", auto} {
				if b {
					set++
				}
			}
			if set != 1 {
				return errors.New("exactly one of --task, --file or --auto is required")
			}

			return withKernel(cmd.Context(), opts, func(ctx context.Context, k *kernel.Kernel) error {
				w := cmd.OutOrStdout()
				if auto {
					task, err := k.Intake.AutoProduce(ctx)
					if err != nil {
						return err
					}
					if task == nil {
						fmt.Fprintln(w, "Producer already has queued work.")
						return nil
					}
					fmt.Fprintf(w, "Queued %s %s\n", task.ID, task.Title)
					return nil
				}

				var (
					res *intake.BatchResult
					err error
				)
				if taskID != "" {
					res, err = k.Intake.Produce(ctx, taskID)
				} else {
					res, err = produceFromFile(ctx, k, file, cmd.InOrStdin())
				}
				if err != nil {
					return err
				}
				printBatch(w, res)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "Producer task id")
	cmd.Flags().StringVar(&file, "file", "", "JSON batch file")
	cmd.Flags().BoolVar(&auto, "auto", false, "Queue a Producer planning task")
	return cmd
}

func produceFromFile(ctx context.Context, k *kernel.Kernel, path string, stdin io.Reader) (*intake.BatchResult, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read batch: %w", err)
	}
	specs, err := intake.ParseBatch(string(data))
	if err != nil {
		return nil, err
	}
	return k.Intake.ProduceSpecs(ctx, specs, "")
}

func printBatch(w io.Writer, res *intake.BatchResult) {
	fmt.Fprintf(w, "Created %d task(s), skipped %d.\n", len(res.Created), len(res.Skipped))
	for _, t := range res.Created {
		fmt.Fprintf(w, "  + %s [%s] %s\n", t.ID, t.Status, t.Title)
	}
	for _, s := range res.Skipped {
		fmt.Fprintf(w, "  - %s: %s\n", s.Title, s.Reason)
	}
}
