// Package hub implements the centralized message hub: a delivery engine
// that fans sends out to per-agent buffers and live streams, and the HTTP
// server agents talk to.
package hub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crosstalkhq/crosstalk/internal/crosstalk"
	"github.com/crosstalkhq/crosstalk/internal/toollog"
)

var (
	// ErrTeamNotFound means the team vanished from the store between
	// authentication and the operation.
	ErrTeamNotFound = errors.New("team not found")

	// ErrTeamFull means the team already holds its configured maximum of
	// agents and refuses new ones.
	ErrTeamFull = errors.New("team is at capacity")
)

// Engine turns authenticated send requests into buffer writes and live
// pushes. It owns no transport details; the HTTP server and tests drive it
// directly.
type Engine struct {
	store     crosstalk.Store
	live      *LiveRegistry
	maxBuffer int
	maxAgents int
}

// NewEngine creates a delivery engine over the given store. Non-positive
// limits fall back to the package defaults.
func NewEngine(store crosstalk.Store, maxBuffer, maxAgents int) *Engine {
	if maxBuffer <= 0 {
		maxBuffer = crosstalk.DefaultMaxBuffer
	}
	if maxAgents <= 0 {
		maxAgents = crosstalk.DefaultMaxTeamAgents
	}
	return &Engine{
		store:     store,
		live:      NewLiveRegistry(),
		maxBuffer: maxBuffer,
		maxAgents: maxAgents,
	}
}

// Live returns the live-stream registry owned by this engine.
func (e *Engine) Live() *LiveRegistry {
	return e.live
}

// CreateTeam mints a team with a fresh credential. The raw key exists only
// in the return value; the store keeps its hash.
func (e *Engine) CreateTeam(ctx context.Context) (*crosstalk.Team, string, error) {
	key, err := crosstalk.NewAPIKey()
	if err != nil {
		return nil, "", err
	}
	team := crosstalk.Team{
		ID:         crosstalk.NewTeamID(),
		APIKeyHash: crosstalk.HashAPIKey(key),
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.store.CreateTeam(ctx, team); err != nil {
		return nil, "", fmt.Errorf("create team: %w", err)
	}
	teamsCreatedTotal.Inc()
	toollog.Log.Info("Team created", "team_id", team.ID)
	return &team, key, nil
}

// Authenticate resolves a presented api key to its team. An unknown key
// returns nil without error.
func (e *Engine) Authenticate(ctx context.Context, apiKey string) (*crosstalk.Team, error) {
	if apiKey == "" {
		return nil, nil
	}
	return e.store.FindTeamByKeyHash(ctx, crosstalk.HashAPIKey(apiKey))
}

// Join registers an agent under a fresh session, preserving any backlog an
// earlier session buffered, and returns that backlog drained from the
// store. New agents are refused with ErrTeamFull once the team is at its
// maximum size; rejoining agents always get back in.
func (e *Engine) Join(ctx context.Context, teamID, name string) (*crosstalk.Agent, []crosstalk.Message, error) {
	existing, err := e.store.GetAgent(ctx, teamID, name)
	if err != nil {
		return nil, nil, fmt.Errorf("look up agent: %w", err)
	}
	if existing == nil {
		agents, err := e.store.ListAgents(ctx, teamID)
		if err != nil {
			return nil, nil, fmt.Errorf("count agents: %w", err)
		}
		if len(agents) >= e.maxAgents {
			return nil, nil, ErrTeamFull
		}
	}

	agent := crosstalk.Agent{
		Name:        name,
		TeamID:      teamID,
		SessionID:   crosstalk.NewSessionID(),
		ConnectedAt: time.Now().UTC(),
	}
	if existing != nil {
		// Read-before-write: saveAgent replaces the whole record, so the
		// backlog has to be carried over explicitly.
		agent.Buffer = existing.Buffer
	}
	if err := e.store.SaveAgent(ctx, agent); err != nil {
		return nil, nil, fmt.Errorf("save agent: %w", err)
	}

	backlog, err := e.store.FlushMessages(ctx, teamID, name)
	if err != nil {
		return nil, nil, fmt.Errorf("flush backlog: %w", err)
	}
	return &agent, backlog, nil
}

// Leave removes the agent record once its stream closes, but only while it
// still belongs to the given session. A reconnect that already replaced the
// record makes Leave a no-op, so a stale handler cannot evict its successor.
func (e *Engine) Leave(ctx context.Context, teamID, name, sessionID string) error {
	current, err := e.store.GetAgent(ctx, teamID, name)
	if err != nil {
		return fmt.Errorf("look up agent: %w", err)
	}
	if current == nil || current.SessionID != sessionID {
		return nil
	}
	return e.store.RemoveAgent(ctx, teamID, name)
}

// SendResult reports one accepted send.
type SendResult struct {
	Message     crosstalk.Message
	DeliveredTo int
}

// Send constructs the message record once and delivers it to each
// recipient: first into the recipient's store buffer, then down its live
// stream if one is registered on this process. Broadcast reaches every
// agent in the team except the sender. An unknown direct recipient is not
// an error; the message just reaches nobody.
func (e *Engine) Send(ctx context.Context, teamID, from, to string, typ crosstalk.MessageType, content string) (*SendResult, error) {
	team, err := e.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, fmt.Errorf("fetch team: %w", err)
	}
	if team == nil {
		return nil, ErrTeamNotFound
	}

	var recipients []string
	if to == crosstalk.Broadcast {
		agents, err := e.store.ListAgents(ctx, teamID)
		if err != nil {
			return nil, fmt.Errorf("list recipients: %w", err)
		}
		for _, a := range agents {
			if a.Name != from {
				recipients = append(recipients, a.Name)
			}
		}
	} else {
		target, err := e.store.GetAgent(ctx, teamID, to)
		if err != nil {
			return nil, fmt.Errorf("look up recipient: %w", err)
		}
		if target != nil {
			recipients = append(recipients, to)
		}
	}

	msg := crosstalk.NewMessage(from, to, typ, content)
	for _, name := range recipients {
		if err := e.store.PushMessage(ctx, teamID, name, msg, e.maxBuffer); err != nil {
			return nil, fmt.Errorf("buffer message for %s: %w", name, err)
		}
		e.live.Publish(teamID, name, msg)
	}

	messagesDeliveredTotal.WithLabelValues(string(typ)).Add(float64(len(recipients)))
	toollog.Log.Debug("Message delivered",
		"team_id", teamID, "from", from, "to", to, "recipients", len(recipients))
	return &SendResult{Message: msg, DeliveredTo: len(recipients)}, nil
}

// Stats summarizes hub state across all teams.
type Stats struct {
	Teams    int `json:"teams"`
	Agents   int `json:"agents"`
	Buffered int `json:"buffered"`
}

// Stats counts teams, agents, and buffered messages across the store.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	teams, err := e.store.ListTeams(ctx)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	st := &Stats{Teams: len(teams)}
	for _, team := range teams {
		agents, err := e.store.ListAgents(ctx, team.ID)
		if err != nil {
			return nil, fmt.Errorf("list agents: %w", err)
		}
		st.Agents += len(agents)
		for _, a := range agents {
			st.Buffered += len(a.Buffer)
		}
	}
	return st, nil
}
