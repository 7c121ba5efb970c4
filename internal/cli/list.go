package cli

import (
	"context"
	"fmt"

	"github.com/quietgrid/tasksync/internal/app"
	"github.com/quietgrid/tasksync/internal/model"
	"github.com/quietgrid/tasksync/internal/service"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Long: `List tasks from the local store, newest first. When online, a
best-effort sync runs first so the listing reflects the latest merge.`,
	RunE: runList,
}

var (
	listStatus   string
	listPriority string
	listSearch   string
)

func init() {
	listCmd.Flags().StringVarP(&listStatus, "status", "s", "", "Filter by status")
	listCmd.Flags().StringVarP(&listPriority, "priority", "p", "", "Filter by priority")
	listCmd.Flags().StringVar(&listSearch, "search", "", "Search in title and description")
}

func runList(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		tasks, err := a.Service.List(ctx, service.Filters{
			Status:   listStatus,
			Priority: listPriority,
			Search:   listSearch,
		})
		if err != nil {
			return fmt.Errorf("failed to list tasks: %w", err)
		}

		if len(tasks) == 0 {
			fmt.Println("No tasks.")
			return nil
		}

		for _, t := range tasks {
			fmt.Println(formatTask(&t))
		}

		pending, err := a.Service.PendingSyncCount(ctx)
		if err == nil && pending > 0 {
			fmt.Printf("\n%d change(s) waiting to sync\n", pending)
		}
		return nil
	})
}

func formatTask(t *model.Task) string {
	mark := " "
	if t.Status == model.StatusCompleted {
		mark = "x"
	}

	line := fmt.Sprintf("[%s] %s  %s (%s, %s)", mark, shortID(t.LocalID), t.Title, t.Status, t.Priority)
	if t.DueDate != nil {
		line += fmt.Sprintf(" due %s", t.DueDate.Format("2006-01-02"))
	}
	if t.NeedsSync {
		line += fmt.Sprintf(" [pending %s]", t.PendingAction)
	}
	return line
}
