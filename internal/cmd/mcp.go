package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/crosstalkhq/crosstalk/internal/config"
	"github.com/crosstalkhq/crosstalk/internal/toollog"
	"github.com/crosstalkhq/crosstalk/internal/tools"
)

// MCP command flags
var (
	mcpAllowTools []string
	mcpDenyTools  []string
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the agent tools over MCP on stdio",
	Long: `Serve the crosstalk tools over MCP (Model Context Protocol) on stdio.

Register this command with an agent runner so the agent can call
create_team, join_team, send, receive, list_agents, whoami, and reset.
stdout and stdin carry the protocol; diagnostics go to the --log file.

Tool filtering:
  --allow-tools send,receive    # expose only these tools
  --deny-tools reset            # expose everything but these
  Env fallbacks: CROSSTALK_MCP_ALLOW_TOOLS, CROSSTALK_MCP_DENY_TOOLS

Examples:
  crosstalk mcp
  crosstalk mcp --log /tmp/crosstalk-mcp.log
  crosstalk mcp --deny-tools reset`,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		toollog.Log.Info("Received interrupt signal, shutting down")
		cancel()
	}()

	allowTools := mcpAllowTools
	if envAllow := os.Getenv("CROSSTALK_MCP_ALLOW_TOOLS"); envAllow != "" && len(allowTools) == 0 {
		allowTools = strings.Split(envAllow, ",")
	}
	denyTools := mcpDenyTools
	if envDeny := os.Getenv("CROSSTALK_MCP_DENY_TOOLS"); envDeny != "" && len(denyTools) == 0 {
		denyTools = strings.Split(envDeny, ",")
	}

	srv := tools.NewMCPServer(cfg)
	srv.SetToolFilters(allowTools, denyTools)
	defer srv.Close()

	inst := config.Instance{
		Type:      tools.InstanceMCP,
		PID:       os.Getpid(),
		StartedAt: time.Now(),
	}
	if err := config.RegisterInstance(inst); err != nil {
		toollog.Log.Warn("Failed to register MCP instance", "error", err)
	}
	defer config.UnregisterInstance(os.Getpid())

	toollog.Log.Info("Running MCP server on stdio")
	err = srv.RunStdio(ctx)
	toollog.Log.Info("MCP server exited", "error", err)
	// EOF on stdin is the client disconnecting, which is normal termination.
	if err != nil {
		if errors.Is(err, io.EOF) || strings.Contains(err.Error(), "EOF") {
			toollog.Log.Info("EOF received, treating as normal termination")
			return nil
		}
		return err
	}
	return nil
}
