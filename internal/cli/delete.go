package cli

import (
	"context"
	"fmt"

	"github.com/quietgrid/tasksync/internal/app"
	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:     "delete [id]",
	Aliases: []string{"rm"},
	Short:   "Delete a task",
	Long: `Delete a task. A task that never reached the server disappears
immediately; a synced task stays visible as pending-delete until the
server confirms.`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func runDelete(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		tasks, err := a.Store.ListTasks(ctx)
		if err != nil {
			return err
		}
		task, err := resolveTask(tasks, args[0])
		if err != nil {
			return err
		}

		if err := a.Service.Delete(ctx, task.LocalID); err != nil {
			return fmt.Errorf("failed to delete task: %w", err)
		}

		if task.ServerID == nil {
			fmt.Printf("✓ Deleted %s: %q\n", shortID(task.LocalID), task.Title)
		} else {
			fmt.Printf("✓ Marked %s for deletion: %q (removed after sync)\n", shortID(task.LocalID), task.Title)
		}
		return nil
	})
}
