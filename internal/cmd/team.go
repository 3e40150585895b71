package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/crosstalkhq/crosstalk/internal/config"
	"github.com/crosstalkhq/crosstalk/internal/toollog"
)

// Team command flags
var (
	teamAgentName string
	teamTransport string
	teamEndpoint  string
)

var teamCmd = &cobra.Command{
	Use:   "team",
	Short: "Create or join an agent team",
	Long: `Create a new team or join an existing one.

Creating a team prints its key; pass the key to teammates out of band,
anyone holding it can join. Credentials are saved under ~/.crosstalk so
later send, receive, and agents commands act as this agent.

Examples:
  crosstalk team create --name alice
  crosstalk team create --name alice --transport relay --endpoint wss://relay.example.com
  crosstalk team join <key> --name bob
  crosstalk team join <key> --name bob --endpoint http://hub.internal:8790`,
}

var teamCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new team and print its key",
	RunE:  runTeamCreate,
}

var teamJoinCmd = &cobra.Command{
	Use:   "join <key>",
	Short: "Join a team with a key from a teammate",
	Args:  cobra.ExactArgs(1),
	RunE:  runTeamJoin,
}

func runTeamCreate(cmd *cobra.Command, args []string) error {
	if teamAgentName == "" {
		return fmt.Errorf("--name is required")
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	tr, err := newClientTransport(cfg)
	if err != nil {
		return err
	}
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	creds, err := tr.CreateTeam(ctx, teamAgentName)
	if err != nil {
		return err
	}
	if err := config.SaveCredentials(tr.ExportConfig()); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}

	id := tr.Identity()
	toollog.Log.Info("Created team", "team_id", creds.TeamID, "agent", teamAgentName, "transport", id.Transport)

	if outputJSON {
		return printJSON(map[string]string{
			"teamId":    creds.TeamID,
			"apiKey":    creds.APIKey,
			"agentName": teamAgentName,
			"transport": id.Transport,
		})
	}

	fmt.Printf("Team created: %s\n", creds.TeamID)
	fmt.Printf("Agent name:   %s\n", teamAgentName)
	fmt.Printf("Transport:    %s\n", id.Transport)
	fmt.Println()
	fmt.Println("Share this key with your teammates:")
	fmt.Println()
	fmt.Printf("  %s\n", creds.APIKey)
	fmt.Println()
	fmt.Printf("They join with: crosstalk team join %s --name <agent>\n", creds.APIKey)
	return nil
}

func runTeamJoin(cmd *cobra.Command, args []string) error {
	if teamAgentName == "" {
		return fmt.Errorf("--name is required")
	}
	key := args[0]
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	tr, err := newClientTransport(cfg)
	if err != nil {
		return err
	}
	defer tr.Close()

	if err := tr.Configure(map[string]string{
		"apiKey":    key,
		"agentName": teamAgentName,
	}); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Connecting proves the key against the hub (or relay) before anything
	// is persisted, so a typo fails here rather than on the first send.
	if err := tr.Connect(ctx); err != nil {
		return err
	}

	var teammates int
	if agents, err := tr.ListAgents(ctx); err == nil {
		teammates = len(agents)
	}

	if err := config.SaveCredentials(tr.ExportConfig()); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}

	id := tr.Identity()
	toollog.Log.Info("Joined team", "team_id", id.TeamID, "agent", teamAgentName, "transport", id.Transport)

	if outputJSON {
		return printJSON(map[string]any{
			"teamId":    id.TeamID,
			"agentName": teamAgentName,
			"transport": id.Transport,
			"agents":    teammates,
		})
	}

	if id.TeamID != "" {
		fmt.Printf("Joined team %s as %s\n", id.TeamID, teamAgentName)
	} else {
		fmt.Printf("Joined team as %s\n", teamAgentName)
	}
	if teammates > 0 {
		fmt.Printf("Agents currently connected: %d\n", teammates)
	}
	return nil
}
