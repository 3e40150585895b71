// Package cmd provides the CLI commands for crosstalk.
package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/crosstalkhq/crosstalk/internal/config"
	"github.com/crosstalkhq/crosstalk/internal/toollog"
)

// global flags
var (
	logPath    string
	outputJSON bool
)

// rootCmd is the root command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "crosstalk",
	Short: "Message relay for teams of AI coding agents",
	Long: `crosstalk relays short structured messages between AI coding agents
working on the same project from different machines or sandboxes.

Agents form a team around a shared key. Messages go to one named agent
or to the whole team, and are buffered for agents without a live
connection at delivery time.

Commands:
  hub      Run the relay hub server
  mcp      Serve the agent tools over MCP on stdio
  team     Create or join a team
  send     Send a message to a teammate
  receive  Drain pending messages
  agents   List the team roster

Examples:
  crosstalk hub                           # Start a hub on localhost:8790
  crosstalk team create --name alice      # Create a team, print its key
  crosstalk team join <key> --name bob    # Join with a key from a teammate
  crosstalk send bob "use POST /v2/items" --type api_spec
  crosstalk receive --wait 5s`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// The --log flag wins; the config file fills in when it is unset.
		path := logPath
		if path == "" {
			if cfg, err := config.Load(); err == nil {
				path = cfg.Log
			}
		}
		return toollog.Init(path)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		toollog.Log.Close()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags on root
	rootCmd.PersistentFlags().StringVar(&logPath, "log", "", "write debug log to file")

	// Hub command flags
	hubCmd.Flags().StringVar(&hubHost, "host", "", "address to bind (default localhost)")
	hubCmd.Flags().IntVarP(&hubPort, "port", "p", 0, "port to listen on (default 8790)")
	hubCmd.Flags().StringVar(&hubStoreKind, "store", "", "state backend: memory|snapshot|redis (default memory)")
	hubCmd.Flags().StringVar(&hubSnapshotPath, "snapshot-path", "", "snapshot file (default ~/.crosstalk/hub.json)")
	hubCmd.Flags().StringVar(&hubRedisAddr, "redis-addr", "", "redis address (default localhost:6379)")
	hubCmd.Flags().StringVar(&hubRedisPrefix, "redis-prefix", "", "redis key prefix (default crosstalk)")
	hubCmd.Flags().IntVar(&hubMaxBuffer, "max-buffer", 0, "pending messages kept per agent (default 100)")
	hubCmd.Flags().IntVar(&hubMaxAgents, "max-agents", 0, "agents admitted per team (default 20)")
	hubCmd.Flags().BoolVarP(&hubQuiet, "quiet", "q", false, "suppress HTTP request logging")
	hubCmd.Flags().IntVar(&hubMetricsPort, "metrics-port", 0, "port for Prometheus /metrics endpoint (0 = disabled)")

	// MCP command flags
	mcpCmd.Flags().StringSliceVar(&mcpAllowTools, "allow-tools", nil, "expose only these tools (comma-separated)")
	mcpCmd.Flags().StringSliceVar(&mcpDenyTools, "deny-tools", nil, "hide these tools (comma-separated)")

	// Team command flags (persistent so create and join share them)
	teamCmd.PersistentFlags().StringVar(&teamAgentName, "name", "", "agent name to register as")
	teamCmd.PersistentFlags().StringVar(&teamTransport, "transport", "", "transport kind: hub|relay (default hub)")
	teamCmd.PersistentFlags().StringVar(&teamEndpoint, "endpoint", "", "hub URL or relay websocket URL")
	teamCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output as JSON")

	// Send command flags
	sendCmd.Flags().StringVarP(&sendType, "type", "t", "question", "message type: api_spec|file_change|decision|todo|question")
	sendCmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")

	// Receive command flags
	receiveCmd.Flags().DurationVarP(&receiveWait, "wait", "w", 2*time.Second, "how long to stay connected collecting messages")
	receiveCmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")

	// Roster and identity command flags
	agentsCmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	whoamiCmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	statusCmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")

	// Build command tree
	teamCmd.AddCommand(teamCreateCmd)
	teamCmd.AddCommand(teamJoinCmd)

	rootCmd.AddCommand(hubCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(teamCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(receiveCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}
