package cli

import (
	"context"
	"fmt"

	"github.com/quietgrid/tasksync/internal/app"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show task counts",
	Long:  `Show counts derived from the local snapshot. Never touches the network.`,
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		stats, err := a.Service.Stats(ctx)
		if err != nil {
			return fmt.Errorf("failed to compute stats: %w", err)
		}

		fmt.Printf("Total:     %d\n", stats.Total)
		fmt.Printf("Completed: %d\n", stats.Completed)
		fmt.Printf("Open:      %d\n", stats.Pending)
		fmt.Printf("Unsynced:  %d\n", stats.Offline)
		for status, count := range stats.ByStatus {
			fmt.Printf("  %-12s %d\n", status, count)
		}
		return nil
	})
}
