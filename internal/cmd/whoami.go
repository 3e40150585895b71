package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the saved agent identity",
	Long: `Show which agent and team the saved credentials belong to.

The output never includes the key itself; use the value you saved when
the team was created to invite more agents.

Examples:
  crosstalk whoami
  crosstalk whoami --json`,
	RunE: runWhoami,
}

func runWhoami(cmd *cobra.Command, args []string) error {
	tr, err := restoredTransport()
	if err != nil {
		return err
	}
	defer tr.Close()

	id := tr.Identity()

	if outputJSON {
		return printJSON(id)
	}

	fmt.Printf("Agent:      %s\n", id.AgentName)
	if id.TeamID != "" {
		fmt.Printf("Team:       %s\n", id.TeamID)
	}
	fmt.Printf("Transport:  %s\n", id.Transport)
	if id.Endpoint != "" {
		fmt.Printf("Endpoint:   %s\n", id.Endpoint)
	}
	if id.PublicKey != "" {
		fmt.Printf("Public key: %s\n", id.PublicKey)
	}
	return nil
}
