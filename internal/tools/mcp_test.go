package tools

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/crosstalkhq/crosstalk/internal/config"
	"github.com/crosstalkhq/crosstalk/internal/hub"
	"github.com/crosstalkhq/crosstalk/internal/store"
)

// newTestHub starts an in-process hub and returns its base URL.
func newTestHub(t *testing.T) string {
	t.Helper()
	srv := hub.NewServer(hub.ServerConfig{Quiet: true}, store.NewMemory())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

// newTestMCPServer creates a tool server pointed at the given hub, with an
// isolated HOME so credential files do not leak between tests.
func newTestMCPServer(t *testing.T, hubURL string) *MCPServer {
	t.Helper()
	cfg := config.Default()
	cfg.Transport.HubURL = hubURL
	ms := NewMCPServer(cfg)
	ms.SetToolFilters(nil, nil)
	t.Cleanup(func() { ms.Close() })
	return ms
}

// callTool invokes an MCP tool through an in-memory client session.
func callTool(t *testing.T, ms *MCPServer, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	result := callToolMayError(t, ms, name, args)
	if result == nil {
		t.Fatalf("CallTool(%s): no result", name)
	}
	if result.IsError {
		t.Fatalf("CallTool(%s) failed: %s", name, resultText(t, result))
	}
	return result
}

// callToolMayError is like callTool but hands errors back to the test.
// It returns nil on transport-level errors (tool not registered, etc.).
func callToolMayError(t *testing.T, ms *MCPServer, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()

	ct, st := mcp.NewInMemoryTransports()
	if _, err := ms.server.Connect(ctx, st, nil); err != nil {
		t.Fatalf("server.Connect: %v", err)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatalf("client.Connect: %v", err)
	}

	result, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil
	}
	return result
}

// parseToolResult extracts the JSON text from a CallToolResult into v.
func parseToolResult(t *testing.T, result *mcp.CallToolResult, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(resultText(t, result)), v); err != nil {
		t.Fatalf("unmarshal result: %v\nraw: %s", err, resultText(t, result))
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("empty result content")
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

// expectToolError asserts the call failed and the message mentions want.
func expectToolError(t *testing.T, result *mcp.CallToolResult, want string) {
	t.Helper()
	if result == nil {
		t.Fatal("expected a result carrying an error")
	}
	if !result.IsError {
		t.Fatalf("expected IsError=true, got: %s", resultText(t, result))
	}
	if text := resultText(t, result); !strings.Contains(text, want) {
		t.Fatalf("error = %q, want it to mention %q", text, want)
	}
}

func waitForMessages(t *testing.T, ms *MCPServer, n int) receiveOutput {
	t.Helper()
	var got receiveOutput
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var out receiveOutput
		parseToolResult(t, callTool(t, ms, "receive", nil), &out)
		got.Messages = append(got.Messages, out.Messages...)
		got.Count = len(got.Messages)
		if got.Count >= n {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d messages, have %d", n, got.Count)
	return got
}

func TestMCP_CreateTeamSendReceive(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	url := newTestHub(t)

	alice := newTestMCPServer(t, url)
	result := callTool(t, alice, "create_team", map[string]any{"agent_name": "alice"})

	var created createTeamOutput
	parseToolResult(t, result, &created)
	if created.TeamID == "" || !strings.HasPrefix(created.APIKey, "ct_") {
		t.Fatalf("create_team = %+v, want a team id and a ct_ key", created)
	}
	if created.Transport != "hub" {
		t.Errorf("transport = %q, want hub", created.Transport)
	}

	bob := newTestMCPServer(t, url)
	result = callTool(t, bob, "join_team", map[string]any{
		"api_key":    created.APIKey,
		"agent_name": "bob",
	})
	var joined joinTeamOutput
	parseToolResult(t, result, &joined)
	if joined.TeamID != created.TeamID {
		t.Errorf("joined team = %q, want %q", joined.TeamID, created.TeamID)
	}
	if joined.Agents != 2 {
		t.Errorf("agents after join = %d, want 2", joined.Agents)
	}

	result = callTool(t, alice, "send", map[string]any{
		"to": "bob", "type": "question", "content": "ready to deploy?",
	})
	var sent sendOutput
	parseToolResult(t, result, &sent)
	if !sent.OK || sent.DeliveredTo != 1 || sent.MessageID == "" {
		t.Fatalf("send = %+v, want ok with one recipient", sent)
	}

	received := waitForMessages(t, bob, 1)
	msg := received.Messages[0]
	if msg.From != "alice" || msg.Type != "question" || msg.Content != "ready to deploy?" {
		t.Errorf("message = %+v, want alice's question", msg)
	}
	if msg.ID != sent.MessageID {
		t.Errorf("message id = %q, want %q from the send result", msg.ID, sent.MessageID)
	}
}

func TestMCP_WhoamiAndListAgents(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	url := newTestHub(t)

	alice := newTestMCPServer(t, url)
	var created createTeamOutput
	parseToolResult(t, callTool(t, alice, "create_team", map[string]any{"agent_name": "alice"}), &created)

	var who whoamiOutput
	parseToolResult(t, callTool(t, alice, "whoami", nil), &who)
	if who.AgentName != "alice" || who.TeamID != created.TeamID || who.Transport != "hub" {
		t.Errorf("whoami = %+v, want alice on the new hub team", who)
	}

	bob := newTestMCPServer(t, url)
	callTool(t, bob, "join_team", map[string]any{"api_key": created.APIKey, "agent_name": "bob"})

	var roster listAgentsOutput
	parseToolResult(t, callTool(t, alice, "list_agents", nil), &roster)
	if len(roster.Agents) != 2 {
		t.Fatalf("got %d agents, want 2", len(roster.Agents))
	}
	if roster.Agents[0].Name != "alice" || roster.Agents[1].Name != "bob" {
		t.Errorf("roster = %+v, want alice then bob", roster.Agents)
	}
}

func TestMCP_ReceiveEmpty(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	url := newTestHub(t)

	alice := newTestMCPServer(t, url)
	callTool(t, alice, "create_team", map[string]any{"agent_name": "alice"})

	var out receiveOutput
	parseToolResult(t, callTool(t, alice, "receive", nil), &out)
	if out.Count != 0 || len(out.Messages) != 0 {
		t.Errorf("receive on a quiet team = %+v, want nothing", out)
	}
}

func TestMCP_ToolsRequireTeam(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	ms := newTestMCPServer(t, newTestHub(t))

	for _, name := range []string{"whoami", "list_agents", "receive"} {
		expectToolError(t, callToolMayError(t, ms, name, nil), "not in a team")
	}
	result := callToolMayError(t, ms, "send", map[string]any{
		"to": "bob", "type": "question", "content": "hi",
	})
	expectToolError(t, result, "not in a team")
}

func TestMCP_SendValidatesInput(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	ms := newTestMCPServer(t, newTestHub(t))
	callTool(t, ms, "create_team", map[string]any{"agent_name": "alice"})

	result := callToolMayError(t, ms, "send", map[string]any{"type": "question", "content": "hi"})
	expectToolError(t, result, "to is required")

	result = callToolMayError(t, ms, "send", map[string]any{"to": "bob", "content": "hi"})
	expectToolError(t, result, "type is required")

	result = callToolMayError(t, ms, "send", map[string]any{
		"to": "bob", "type": "smoke-signal", "content": "hi",
	})
	expectToolError(t, result, "validation_error")
}

func TestMCP_CreateTeamRequiresAgentName(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	ms := newTestMCPServer(t, newTestHub(t))
	expectToolError(t, callToolMayError(t, ms, "create_team", nil), "agent_name is required")
}

func TestMCP_JoinTeamValidatesInput(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	ms := newTestMCPServer(t, newTestHub(t))

	result := callToolMayError(t, ms, "join_team", map[string]any{"agent_name": "bob"})
	expectToolError(t, result, "api_key is required")

	result = callToolMayError(t, ms, "join_team", map[string]any{"api_key": "ct_x"})
	expectToolError(t, result, "agent_name is required")
}

func TestMCP_JoinTeamRejectsBadKey(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	ms := newTestMCPServer(t, newTestHub(t))

	result := callToolMayError(t, ms, "join_team", map[string]any{
		"api_key": "ct_wrong", "agent_name": "mallory",
	})
	expectToolError(t, result, "unauthorized")

	// The failed join must not leave credentials behind.
	creds, err := config.LoadCredentials()
	if err != nil {
		t.Fatalf("LoadCredentials() error = %v", err)
	}
	if creds != nil {
		t.Errorf("credentials = %v, want none after a failed join", creds)
	}
}

func TestMCP_CreateTeamTwiceGuarded(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	ms := newTestMCPServer(t, newTestHub(t))

	callTool(t, ms, "create_team", map[string]any{"agent_name": "alice"})
	result := callToolMayError(t, ms, "create_team", map[string]any{"agent_name": "alice"})
	expectToolError(t, result, "already in team")

	result = callToolMayError(t, ms, "join_team", map[string]any{
		"api_key": "ct_x", "agent_name": "alice",
	})
	expectToolError(t, result, "already in team")
}

func TestMCP_Reset(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	ms := newTestMCPServer(t, newTestHub(t))
	callTool(t, ms, "create_team", map[string]any{"agent_name": "alice"})

	var out resetOutput
	parseToolResult(t, callTool(t, ms, "reset", nil), &out)
	if !out.OK {
		t.Fatal("reset should report ok")
	}

	creds, err := config.LoadCredentials()
	if err != nil {
		t.Fatalf("LoadCredentials() error = %v", err)
	}
	if creds != nil {
		t.Errorf("credentials = %v, want none after reset", creds)
	}
	expectToolError(t, callToolMayError(t, ms, "whoami", nil), "not in a team")

	// Resetting again is a no-op.
	parseToolResult(t, callTool(t, ms, "reset", nil), &out)
	if !out.OK {
		t.Fatal("second reset should still report ok")
	}
}

func TestMCP_RestoresFromSavedCredentials(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	url := newTestHub(t)

	first := newTestMCPServer(t, url)
	var created createTeamOutput
	parseToolResult(t, callTool(t, first, "create_team", map[string]any{"agent_name": "alice"}), &created)
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// A fresh process picks the team back up from ~/.crosstalk.
	second := newTestMCPServer(t, url)
	var who whoamiOutput
	parseToolResult(t, callTool(t, second, "whoami", nil), &who)
	if who.AgentName != "alice" || who.TeamID != created.TeamID {
		t.Errorf("whoami after restart = %+v, want alice on %s", who, created.TeamID)
	}
}

func TestMCP_CreateTeamRelayConnectFailure(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	ms := newTestMCPServer(t, newTestHub(t))

	// Nothing listens on this port; team creation must fail cleanly and
	// leave no credentials behind.
	result := callToolMayError(t, ms, "create_team", map[string]any{
		"agent_name": "alice",
		"transport":  "relay",
		"endpoint":   "ws://127.0.0.1:1",
	})
	if result == nil || !result.IsError {
		t.Fatal("create_team against a dead relay should fail")
	}

	creds, err := config.LoadCredentials()
	if err != nil {
		t.Fatalf("LoadCredentials() error = %v", err)
	}
	if creds != nil {
		t.Errorf("credentials = %v, want none after a failed create", creds)
	}
}

func TestMCP_ToolFilter_AllowList(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg := config.Default()
	ms := NewMCPServer(cfg)
	ms.SetToolFilters([]string{"whoami"}, nil)
	t.Cleanup(func() { ms.Close() })

	if result := callToolMayError(t, ms, "whoami", nil); result == nil {
		t.Error("whoami should be registered")
	}
	if result := callToolMayError(t, ms, "send", map[string]any{"to": "x"}); result != nil && !result.IsError {
		t.Error("send should not be registered when only whoami is allowed")
	}
}

func TestMCP_ToolFilter_DenyList(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg := config.Default()
	ms := NewMCPServer(cfg)
	ms.SetToolFilters(nil, []string{"reset"})
	t.Cleanup(func() { ms.Close() })

	if result := callToolMayError(t, ms, "whoami", nil); result == nil {
		t.Error("whoami should be registered")
	}
	if result := callToolMayError(t, ms, "reset", nil); result != nil && !result.IsError {
		t.Error("reset should be denied")
	}
}
