package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"missioncontrol/internal/kernel"
	"missioncontrol/pkg/intake"
	"missioncontrol/pkg/persistence"
)

type taskAddOptions struct {
	description string
	agent       string
	priority    string
	tags        []string
	dependsOn   []string
	todo        bool
}

func newTaskCmd(opts *globalOptions) *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Task board operations",
	}

	add := &taskAddOptions{}
	addCmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a task through the loop guards",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.Join(args, " ")
			return withKernel(cmd.Context(), opts, func(ctx context.Context, k *kernel.Kernel) error {
				return addTask(ctx, cmd, k, title, add)
			})
		},
	}
	addCmd.Flags().StringVarP(&add.description, "description", "d", "", "Task description")
	addCmd.Flags().StringVarP(&add.agent, "agent", "a", "", "Assignee codename (auto-assigned by the queue when empty)")
	addCmd.Flags().StringVarP(&add.priority, "priority", "p", string(persistence.PriorityMedium), "low, medium, high or critical")
	addCmd.Flags().StringSliceVarP(&add.tags, "tag", "t", nil, "Tag (repeatable)")
	addCmd.Flags().StringSliceVar(&add.dependsOn, "depends-on", nil, "Id of a task this one waits for (repeatable)")
	addCmd.Flags().BoolVar(&add.todo, "todo", false, "Request todo status instead of backlog")

	task.AddCommand(addCmd)
	return task
}

func addTask(ctx context.Context, cmd *cobra.Command, k *kernel.Kernel, title string, o *taskAddOptions) error {
	t := &persistence.Task{
		Title:       title,
		Description: o.description,
		Priority:    persistence.ParsePriority(o.priority),
		Tags:        o.tags,
		DependsOn:   o.dependsOn,
		Status:      persistence.TaskBacklog,
	}
	if o.todo {
		t.Status = persistence.TaskTodo
	}
	if o.agent != "" {
		agent, err := k.Store.GetAgentByCodename(ctx, strings.ToUpper(o.agent))
		if err != nil {
			return fmt.Errorf("unknown agent %s: %w", o.agent, err)
		}
		t.AssigneeID = agent.ID
	}

	out, err := k.Intake.Create(ctx, t)
	var dup *intake.DuplicateError
	if errors.As(err, &dup) {
		fmt.Fprintf(cmd.OutOrStdout(), "Duplicate of %s (%s); nothing created.\n", dup.ExistingID, dup.ExistingStatus)
		return nil
	}
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Created %s [%s] %s\n", out.Task.ID, out.Task.Status, out.Task.Title)
	if out.Held() {
		fmt.Fprintf(w, "Held in backlog: %s\n", out.Reason)
	}
	return nil
}
