package cli

import (
	"context"
	"fmt"

	"github.com/quietgrid/tasksync/internal/app"
	"github.com/quietgrid/tasksync/internal/model"
	"github.com/spf13/cobra"
)

var doneCmd = &cobra.Command{
	Use:   "done [id]",
	Short: "Mark a task as completed",
	Args:  cobra.ExactArgs(1),
	RunE:  runDone,
}

func runDone(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		tasks, err := a.Store.ListTasks(ctx)
		if err != nil {
			return err
		}
		task, err := resolveTask(tasks, args[0])
		if err != nil {
			return err
		}

		status := model.StatusCompleted
		updated, err := a.Service.Update(ctx, task.LocalID, model.Patch{Status: &status})
		if err != nil {
			return fmt.Errorf("failed to complete task: %w", err)
		}

		fmt.Printf("✓ Completed %s: %q\n", shortID(updated.LocalID), updated.Title)
		return nil
	})
}
