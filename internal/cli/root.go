package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/quietgrid/tasksync/internal/app"
	"github.com/quietgrid/tasksync/internal/config"
	"github.com/quietgrid/tasksync/internal/logger"
	"github.com/quietgrid/tasksync/internal/model"
	"github.com/spf13/cobra"
)

var (
	logLevel   string
	logFile    string
	logConsole bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "tasksync",
	Short: "TaskSync - offline-first task list with background sync",
	Long: `TaskSync keeps a task list fully usable while disconnected and
reconciles local changes with the backend once connectivity returns.

Every mutation commits to the local store before the command returns;
uploads happen in the background and retry until confirmed.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			logger.Warn("Failed to load config, using defaults", logger.F("error", err))
			loaded = config.DefaultConfig()
		}
		cfg = loaded

		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		if cmd.Flags().Changed("log-file") {
			cfg.LogFile = logFile
		}
		if cmd.Flags().Changed("log-console") {
			cfg.LogConsole = logConsole
		}

		logConfig := logger.Config{
			Level:      logger.ParseLevel(cfg.LogLevel),
			FilePath:   cfg.LogFile,
			MaxSizeMB:  10,
			MaxAge:     7,
			MaxBackups: 5,
			Console:    cfg.LogConsole,
		}
		if err := logger.Init(logConfig); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		logger.Info("TaskSync started", logger.F("command", cmd.Name()))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Info("TaskSync exiting", logger.F("command", cmd.Name()))
		logger.Close()
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Path to log file")
	rootCmd.PersistentFlags().BoolVar(&logConsole, "log-console", false, "Enable console logging")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(doneCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(resetCmd)
}

// withApp builds the application context for one command invocation and
// tears it down afterwards. Engine shutdown waits for in-flight background
// syncs, so the store closes only after they finish.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	ctx := context.Background()
	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer a.Close()
	return fn(ctx, a)
}

// resolveTask finds the single task whose local id starts with prefix.
func resolveTask(tasks []model.Task, prefix string) (*model.Task, error) {
	var match *model.Task
	for i := range tasks {
		if strings.HasPrefix(tasks[i].LocalID, prefix) {
			if match != nil {
				return nil, fmt.Errorf("id %q is ambiguous", prefix)
			}
			match = &tasks[i]
		}
	}
	if match == nil {
		return nil, fmt.Errorf("no task matches id %q", prefix)
	}
	return match, nil
}
