package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crosstalkhq/crosstalk/internal/config"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Leave the team and clear saved credentials",
	Long: `Remove the saved credentials from ~/.crosstalk.

The team itself keeps existing; other members are unaffected. Running
reset when no credentials are saved is not an error.

Examples:
  crosstalk reset`,
	RunE: runReset,
}

func runReset(cmd *cobra.Command, args []string) error {
	if err := config.ClearCredentials(); err != nil {
		return err
	}
	fmt.Println("Credentials cleared.")
	return nil
}
