// Package tools exposes crosstalk to coding agents as MCP tools over
// stdio. One tool server speaks for one agent; the active transport and
// its credentials persist under ~/.crosstalk so a restarted agent process
// rejoins its team without re-running create_team or join_team.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/crosstalkhq/crosstalk/internal/config"
	"github.com/crosstalkhq/crosstalk/internal/crosstalk"
	"github.com/crosstalkhq/crosstalk/internal/toollog"
	"github.com/crosstalkhq/crosstalk/internal/transport"
	"github.com/crosstalkhq/crosstalk/internal/version"
)

// InstanceMCP is the instance registry type for tool server processes.
const InstanceMCP config.InstanceType = "mcp"

// errNotInTeam is returned by tools that need a team before one exists.
var errNotInTeam = errors.New("not in a team; use create_team or join_team first")

// MCPServer wraps an MCP server exposing the crosstalk tools.
type MCPServer struct {
	server     *mcp.Server
	cfg        config.Config
	allowTools map[string]bool
	denyTools  map[string]bool

	mu        sync.Mutex
	transport transport.Transport
}

// NewMCPServer creates an MCP server for one agent. cfg supplies the
// default transport kind and endpoints; saved credentials are picked up
// lazily on the first tool call that needs a team.
func NewMCPServer(cfg config.Config) *MCPServer {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "crosstalk",
		Version: version.Get(),
	}, nil)

	return &MCPServer{
		server: server,
		cfg:    cfg,
	}
}

// SetToolFilters configures which tools are allowed or denied and then
// registers the tools.
func (ms *MCPServer) SetToolFilters(allow, deny []string) {
	if len(allow) > 0 {
		ms.allowTools = make(map[string]bool)
		for _, t := range allow {
			ms.allowTools[strings.TrimSpace(t)] = true
		}
	}
	if len(deny) > 0 {
		ms.denyTools = make(map[string]bool)
		for _, t := range deny {
			ms.denyTools[strings.TrimSpace(t)] = true
		}
	}

	ms.registerTools()
}

// isToolAllowed checks if a tool should be registered.
func (ms *MCPServer) isToolAllowed(name string) bool {
	if ms.denyTools != nil && ms.denyTools[name] {
		return false
	}
	if ms.allowTools != nil && !ms.allowTools[name] {
		return false
	}
	return true
}

// registerTools adds allowed crosstalk tools to the MCP server.
func (ms *MCPServer) registerTools() {
	if ms.isToolAllowed("create_team") {
		mcp.AddTool(ms.server, &mcp.Tool{
			Name:        "create_team",
			Description: "Create a new team and join it. Returns the api_key teammates pass to join_team.",
		}, ms.handleCreateTeam)
	}

	if ms.isToolAllowed("join_team") {
		mcp.AddTool(ms.server, &mcp.Tool{
			Name:        "join_team",
			Description: "Join an existing team using the api_key from create_team.",
		}, ms.handleJoinTeam)
	}

	if ms.isToolAllowed("send") {
		mcp.AddTool(ms.server, &mcp.Tool{
			Name: "send",
			Description: fmt.Sprintf(
				"Send a message to a named teammate, or to %q for everyone else on the team. Valid types: %v.",
				crosstalk.Broadcast, crosstalk.MessageTypes()),
		}, ms.handleSend)
	}

	if ms.isToolAllowed("receive") {
		mcp.AddTool(ms.server, &mcp.Tool{
			Name:        "receive",
			Description: "Drain and return all pending messages for this agent, oldest first.",
		}, ms.handleReceive)
	}

	if ms.isToolAllowed("list_agents") {
		mcp.AddTool(ms.server, &mcp.Tool{
			Name:        "list_agents",
			Description: "List the agents currently on this team.",
		}, ms.handleListAgents)
	}

	if ms.isToolAllowed("whoami") {
		mcp.AddTool(ms.server, &mcp.Tool{
			Name:        "whoami",
			Description: "Show this agent's name, team, and transport.",
		}, ms.handleWhoami)
	}

	if ms.isToolAllowed("reset") {
		mcp.AddTool(ms.server, &mcp.Tool{
			Name:        "reset",
			Description: "Leave the team and clear saved credentials.",
		}, ms.handleReset)
	}
}

// Tool input/output types

type createTeamInput struct {
	AgentName string `json:"agent_name"`
	Transport string `json:"transport,omitempty"` // "hub" (default) or "relay"
	Endpoint  string `json:"endpoint,omitempty"`
}

type createTeamOutput struct {
	TeamID    string `json:"team_id"`
	APIKey    string `json:"api_key"`
	AgentName string `json:"agent_name"`
	Transport string `json:"transport"`
}

type joinTeamInput struct {
	APIKey    string `json:"api_key"`
	AgentName string `json:"agent_name"`
	Transport string `json:"transport,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
}

type joinTeamOutput struct {
	TeamID    string `json:"team_id"`
	AgentName string `json:"agent_name"`
	Transport string `json:"transport"`
	Agents    int    `json:"agents,omitempty"`
}

type sendInput struct {
	To      string `json:"to"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

type sendOutput struct {
	OK          bool   `json:"ok"`
	MessageID   string `json:"message_id"`
	DeliveredTo int    `json:"delivered_to"`
}

type receiveInput struct{}

type messageInfo struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

type receiveOutput struct {
	Messages []messageInfo `json:"messages"`
	Count    int           `json:"count"`
}

type listAgentsInput struct{}

type agentInfo struct {
	Name            string `json:"name"`
	ConnectedAt     string `json:"connected_at,omitempty"`
	LastSeen        string `json:"last_seen,omitempty"`
	PendingMessages int    `json:"pending_messages,omitempty"`
}

type listAgentsOutput struct {
	Agents []agentInfo `json:"agents"`
}

type whoamiInput struct{}

type whoamiOutput struct {
	AgentName string `json:"agent_name"`
	TeamID    string `json:"team_id"`
	Transport string `json:"transport"`
	Endpoint  string `json:"endpoint,omitempty"`
	PublicKey string `json:"public_key,omitempty"`
}

type resetInput struct{}

type resetOutput struct {
	OK bool `json:"ok"`
}

// Tool handlers

func (ms *MCPServer) handleCreateTeam(ctx context.Context, req *mcp.CallToolRequest, input createTeamInput) (*mcp.CallToolResult, createTeamOutput, error) {
	if input.AgentName == "" {
		return nil, createTeamOutput{}, fmt.Errorf("agent_name is required")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.transport != nil {
		return nil, createTeamOutput{}, fmt.Errorf(
			"already in team %s; call reset first", ms.transport.Identity().TeamID)
	}

	tr, err := ms.newTransportLocked(input.Transport, input.Endpoint)
	if err != nil {
		return nil, createTeamOutput{}, err
	}
	creds, err := tr.CreateTeam(ctx, input.AgentName)
	if err != nil {
		tr.Close()
		return nil, createTeamOutput{}, err
	}
	if err := tr.Connect(ctx); err != nil {
		tr.Close()
		return nil, createTeamOutput{}, err
	}
	if err := config.SaveCredentials(tr.ExportConfig()); err != nil {
		tr.Close()
		return nil, createTeamOutput{}, fmt.Errorf("save credentials: %w", err)
	}
	ms.transport = tr

	id := tr.Identity()
	toollog.Log.Info("Created team", "team_id", creds.TeamID, "agent", input.AgentName, "transport", id.Transport)
	output := createTeamOutput{
		TeamID:    creds.TeamID,
		APIKey:    creds.APIKey,
		AgentName: input.AgentName,
		Transport: id.Transport,
	}
	return textResult(output), output, nil
}

func (ms *MCPServer) handleJoinTeam(ctx context.Context, req *mcp.CallToolRequest, input joinTeamInput) (*mcp.CallToolResult, joinTeamOutput, error) {
	if input.APIKey == "" {
		return nil, joinTeamOutput{}, fmt.Errorf("api_key is required")
	}
	if input.AgentName == "" {
		return nil, joinTeamOutput{}, fmt.Errorf("agent_name is required")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.transport != nil {
		return nil, joinTeamOutput{}, fmt.Errorf(
			"already in team %s; call reset first", ms.transport.Identity().TeamID)
	}

	tr, err := ms.newTransportLocked(input.Transport, input.Endpoint)
	if err != nil {
		return nil, joinTeamOutput{}, err
	}
	err = tr.Configure(map[string]string{
		"apiKey":    input.APIKey,
		"agentName": input.AgentName,
	})
	if err != nil {
		tr.Close()
		return nil, joinTeamOutput{}, err
	}
	if err := tr.Connect(ctx); err != nil {
		tr.Close()
		return nil, joinTeamOutput{}, err
	}
	if err := config.SaveCredentials(tr.ExportConfig()); err != nil {
		tr.Close()
		return nil, joinTeamOutput{}, fmt.Errorf("save credentials: %w", err)
	}
	ms.transport = tr

	id := tr.Identity()
	toollog.Log.Info("Joined team", "team_id", id.TeamID, "agent", input.AgentName, "transport", id.Transport)
	output := joinTeamOutput{
		TeamID:    id.TeamID,
		AgentName: input.AgentName,
		Transport: id.Transport,
	}
	if agents, err := tr.ListAgents(ctx); err == nil {
		output.Agents = len(agents)
	}
	return textResult(output), output, nil
}

func (ms *MCPServer) handleSend(ctx context.Context, req *mcp.CallToolRequest, input sendInput) (*mcp.CallToolResult, sendOutput, error) {
	if input.To == "" {
		return nil, sendOutput{}, fmt.Errorf("to is required (an agent name or %q)", crosstalk.Broadcast)
	}
	if input.Type == "" {
		return nil, sendOutput{}, fmt.Errorf("type is required (one of %v)", crosstalk.MessageTypes())
	}

	tr, err := ms.activeTransport(ctx)
	if err != nil {
		return nil, sendOutput{}, err
	}
	res, err := tr.Send(ctx, input.To, input.Type, input.Content)
	if err != nil {
		return nil, sendOutput{}, err
	}

	output := sendOutput{OK: res.OK, MessageID: res.MessageID, DeliveredTo: res.DeliveredTo}
	return textResult(output), output, nil
}

func (ms *MCPServer) handleReceive(ctx context.Context, req *mcp.CallToolRequest, _ receiveInput) (*mcp.CallToolResult, receiveOutput, error) {
	tr, err := ms.activeTransport(ctx)
	if err != nil {
		return nil, receiveOutput{}, err
	}
	msgs, err := tr.FlushMessages(ctx)
	if err != nil {
		return nil, receiveOutput{}, err
	}

	infos := make([]messageInfo, len(msgs))
	for i, m := range msgs {
		infos[i] = messageInfo{
			ID:        m.ID,
			From:      m.From,
			To:        m.To,
			Type:      string(m.Type),
			Content:   m.Content,
			CreatedAt: m.CreatedAt.Format(time.RFC3339),
		}
	}
	output := receiveOutput{Messages: infos, Count: len(infos)}
	return textResult(output), output, nil
}

func (ms *MCPServer) handleListAgents(ctx context.Context, req *mcp.CallToolRequest, _ listAgentsInput) (*mcp.CallToolResult, listAgentsOutput, error) {
	tr, err := ms.activeTransport(ctx)
	if err != nil {
		return nil, listAgentsOutput{}, err
	}
	agents, err := tr.ListAgents(ctx)
	if err != nil {
		return nil, listAgentsOutput{}, err
	}

	infos := make([]agentInfo, len(agents))
	for i, a := range agents {
		infos[i] = agentInfo{Name: a.Name, PendingMessages: a.PendingMessages}
		if !a.ConnectedAt.IsZero() {
			infos[i].ConnectedAt = a.ConnectedAt.Format(time.RFC3339)
		}
		if !a.LastSeen.IsZero() {
			infos[i].LastSeen = a.LastSeen.Format(time.RFC3339)
		}
	}
	output := listAgentsOutput{Agents: infos}
	return textResult(output), output, nil
}

func (ms *MCPServer) handleWhoami(ctx context.Context, req *mcp.CallToolRequest, _ whoamiInput) (*mcp.CallToolResult, whoamiOutput, error) {
	tr, err := ms.activeTransport(ctx)
	if err != nil {
		return nil, whoamiOutput{}, err
	}

	id := tr.Identity()
	output := whoamiOutput{
		AgentName: id.AgentName,
		TeamID:    id.TeamID,
		Transport: id.Transport,
		Endpoint:  id.Endpoint,
		PublicKey: id.PublicKey,
	}
	return textResult(output), output, nil
}

func (ms *MCPServer) handleReset(ctx context.Context, req *mcp.CallToolRequest, _ resetInput) (*mcp.CallToolResult, resetOutput, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.transport != nil {
		if err := ms.transport.Close(); err != nil {
			toollog.Log.Warn("Failed to close transport during reset", "error", err)
		}
		ms.transport = nil
	}
	if err := config.ClearCredentials(); err != nil {
		return nil, resetOutput{}, fmt.Errorf("clear credentials: %w", err)
	}

	toollog.Log.Info("Reset: left team and cleared credentials")
	output := resetOutput{OK: true}
	return textResult(output), output, nil
}

// newTransportLocked builds an unconnected transport of the requested
// kind, falling back to the configured default.
func (ms *MCPServer) newTransportLocked(kind, endpoint string) (transport.Transport, error) {
	if kind == "" {
		kind = ms.cfg.Transport.Kind
	}
	if kind == "" {
		kind = transport.KindHub
	}

	conf := map[string]string{"transport": kind}
	switch kind {
	case transport.KindRelay:
		if ms.cfg.Transport.RelayURL != "" {
			conf["endpoint"] = ms.cfg.Transport.RelayURL
		}
	default:
		if ms.cfg.Transport.HubURL != "" {
			conf["endpoint"] = ms.cfg.Transport.HubURL
		}
	}
	if endpoint != "" {
		conf["endpoint"] = endpoint
	}
	return transport.FromConfig(conf)
}

// activeTransport returns the connected transport, restoring one from
// saved credentials when this process has none yet.
func (ms *MCPServer) activeTransport(ctx context.Context) (transport.Transport, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.transport != nil {
		return ms.transport, nil
	}

	creds, err := config.LoadCredentials()
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if len(creds) == 0 {
		return nil, errNotInTeam
	}
	tr, err := transport.FromConfig(creds)
	if err != nil {
		return nil, err
	}
	if !tr.IsConfigured() {
		tr.Close()
		return nil, errNotInTeam
	}
	if err := tr.Connect(ctx); err != nil {
		tr.Close()
		return nil, err
	}

	toollog.Log.Info("Restored transport from saved credentials",
		"transport", tr.Identity().Transport, "agent", tr.Identity().AgentName)
	ms.transport = tr
	return tr, nil
}

// Close shuts down the active transport, if any.
func (ms *MCPServer) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.transport == nil {
		return nil
	}
	err := ms.transport.Close()
	ms.transport = nil
	return err
}

// RunStdio serves MCP over stdin/stdout until ctx is cancelled. Protocol
// frames are mirrored to the tool log when one is configured; stdout
// itself belongs to the protocol.
func (ms *MCPServer) RunStdio(ctx context.Context) error {
	var tr mcp.Transport = &mcp.StdioTransport{}
	if toollog.Log.Enabled() {
		tr = &mcp.LoggingTransport{Transport: tr, Writer: toollog.Log.Writer()}
	}
	return ms.server.Run(ctx, tr)
}

// Server exposes the underlying MCP server.
func (ms *MCPServer) Server() *mcp.Server { return ms.server }

func textResult(v any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: formatJSON(v)}},
	}
}

func formatJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
