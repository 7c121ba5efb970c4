package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/quietgrid/tasksync/internal/app"
	syncengine "github.com/quietgrid/tasksync/internal/sync"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync with the server now",
	RunE:  runSync,
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status",
	RunE:  runSyncStatus,
}

func init() {
	syncCmd.AddCommand(syncStatusCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		fmt.Println("Syncing...")
		result, err := a.Engine.AttemptSync(ctx)
		switch {
		case errors.Is(err, syncengine.ErrNoSuitableConnection):
			fmt.Println("Offline - changes stay queued until a connection is available.")
			return nil
		case errors.Is(err, syncengine.ErrAlreadyInProgress):
			fmt.Println("A sync is already running.")
			return nil
		case err != nil:
			return fmt.Errorf("sync failed: %w", err)
		}

		fmt.Printf("✓ Synced (↑%d ↓%d)\n", result.SyncedActions, result.DownloadedTasks)
		for _, msg := range result.Errors {
			fmt.Printf("⚠ %s\n", msg)
		}
		return nil
	})
}

func runSyncStatus(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		status := a.Engine.Status(ctx)
		net := a.Monitor.Status()

		if net.Connected {
			fmt.Printf("Network:  connected (%s)\n", net.Kind)
		} else {
			fmt.Println("Network:  offline")
		}
		if status.LastSync.IsZero() {
			fmt.Println("Last sync: never")
		} else {
			fmt.Printf("Last sync: %s\n", status.LastSync.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("Pending:  %d\n", status.PendingActions)
		for _, msg := range status.SyncErrors {
			fmt.Printf("⚠ %s\n", msg)
		}
		return nil
	})
}
