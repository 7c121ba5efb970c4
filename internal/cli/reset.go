package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/quietgrid/tasksync/internal/app"
	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Wipe all local data",
	Long:  `Wipe tasks and the sync journal. Server data is not touched.`,
	RunE:  runReset,
}

var resetForce bool

func init() {
	resetCmd.Flags().BoolVarP(&resetForce, "force", "f", false, "Skip confirmation")
}

func runReset(cmd *cobra.Command, args []string) error {
	if !resetForce {
		fmt.Print("This wipes all local tasks and queued changes. Continue? [y/N] ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.TrimSpace(strings.ToLower(answer)) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	return withApp(func(ctx context.Context, a *app.App) error {
		if err := a.Store.ClearAll(ctx); err != nil {
			return fmt.Errorf("failed to reset: %w", err)
		}
		fmt.Println("✓ Local data cleared")
		return nil
	})
}
