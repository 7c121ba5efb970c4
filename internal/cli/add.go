package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/quietgrid/tasksync/internal/app"
	"github.com/quietgrid/tasksync/internal/model"
	"github.com/spf13/cobra"
)

var addCmd = &cobra.Command{
	Use:   "add [title]",
	Short: "Add a new task",
	Long: `Add a new task. Works fully offline: the task is stored locally and
uploaded in the background once a connection is available.

Examples:
  tasksync add "Buy groceries"
  tasksync add "Quarterly report" -p high -d "Q3 numbers" --due 2026-09-15`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAdd,
}

var (
	addDescription string
	addPriority    string
	addStatus      string
	addDue         string
)

func init() {
	addCmd.Flags().StringVarP(&addDescription, "desc", "d", "", "Task description")
	addCmd.Flags().StringVarP(&addPriority, "priority", "p", model.PriorityMedium, "Priority (low, medium, high)")
	addCmd.Flags().StringVarP(&addStatus, "status", "s", model.StatusPending, "Status (pending, in_progress, completed, cancelled)")
	addCmd.Flags().StringVar(&addDue, "due", "", "Due date (2006-01-02)")
}

func runAdd(cmd *cobra.Command, args []string) error {
	title := strings.Join(args, " ")

	var dueDate *time.Time
	if addDue != "" {
		parsed, err := time.Parse("2006-01-02", addDue)
		if err != nil {
			return fmt.Errorf("invalid due date %q: %w", addDue, err)
		}
		dueDate = &parsed
	}

	return withApp(func(ctx context.Context, a *app.App) error {
		task, err := a.Service.Create(ctx, model.Draft{
			Title:       title,
			Description: addDescription,
			Status:      addStatus,
			Priority:    addPriority,
			DueDate:     dueDate,
		})
		if err != nil {
			return fmt.Errorf("failed to create task: %w", err)
		}

		state := "will sync"
		if !a.Monitor.Status().Connected {
			state = "offline, queued"
		}
		fmt.Printf("✓ Added %s: %q (%s, %s)\n", shortID(task.LocalID), task.Title, task.Priority, state)
		return nil
	})
}

func shortID(localID string) string {
	if len(localID) > 8 {
		return localID[:8]
	}
	return localID
}
