package cli

import (
	"fmt"

	"github.com/quietgrid/tasksync/internal/config"
	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the API token",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store the API token used for sync",
	RunE:  runAuthLogin,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored API token",
	RunE:  runAuthLogout,
}

var (
	authToken  string
	authUserID int64
)

func init() {
	authLoginCmd.Flags().StringVarP(&authToken, "token", "t", "", "Bearer token (required)")
	authLoginCmd.Flags().Int64VarP(&authUserID, "user", "u", 0, "User id the token belongs to")
	_ = authLoginCmd.MarkFlagRequired("token")

	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	creds := &config.Credentials{Token: authToken, UserID: authUserID}
	if err := creds.Save(); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}
	fmt.Println("✓ Token stored")
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	if err := config.ClearCredentials(); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	fmt.Println("✓ Token cleared")
	return nil
}
