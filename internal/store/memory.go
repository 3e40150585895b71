// Package store provides the interchangeable persistence backends for
// teams, agents, and message buffers: a volatile in-memory map, a
// single-file JSON snapshot, and a shared Redis keyspace.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/crosstalkhq/crosstalk/internal/crosstalk"
)

// Memory is the volatile adapter. All state lives in process memory and
// disappears on exit. It is the default backend for a single-process hub
// and the workhorse for tests.
type Memory struct {
	mu     sync.RWMutex
	teams  map[string]crosstalk.Team  // team ID → team
	byHash map[string]string          // credential hash → team ID
	agents map[string]crosstalk.Agent // "teamID:name" → agent, buffer inline
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		teams:  make(map[string]crosstalk.Team),
		byHash: make(map[string]string),
		agents: make(map[string]crosstalk.Agent),
	}
}

func agentKey(teamID, name string) string {
	return teamID + ":" + name
}

func (s *Memory) CreateTeam(ctx context.Context, team crosstalk.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.teams[team.ID] = team
	s.byHash[team.APIKeyHash] = team.ID
	return nil
}

func (s *Memory) GetTeam(ctx context.Context, id string) (*crosstalk.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	team, ok := s.teams[id]
	if !ok {
		return nil, nil
	}
	return &team, nil
}

func (s *Memory) FindTeamByKeyHash(ctx context.Context, hash string) (*crosstalk.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byHash[hash]
	if !ok {
		return nil, nil
	}
	team, ok := s.teams[id]
	if !ok {
		return nil, nil
	}
	return &team, nil
}

func (s *Memory) ListTeams(ctx context.Context) ([]crosstalk.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	teams := make([]crosstalk.Team, 0, len(s.teams))
	for _, t := range s.teams {
		teams = append(teams, t)
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i].ID < teams[j].ID })
	return teams, nil
}

func (s *Memory) SaveAgent(ctx context.Context, agent crosstalk.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent.Buffer = cloneMessages(agent.Buffer)
	s.agents[agentKey(agent.TeamID, agent.Name)] = agent
	return nil
}

func (s *Memory) GetAgent(ctx context.Context, teamID, name string) (*crosstalk.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agent, ok := s.agents[agentKey(teamID, name)]
	if !ok {
		return nil, nil
	}
	agent.Buffer = cloneMessages(agent.Buffer)
	return &agent, nil
}

func (s *Memory) ListAgents(ctx context.Context, teamID string) ([]crosstalk.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var agents []crosstalk.Agent
	for _, a := range s.agents {
		if a.TeamID != teamID {
			continue
		}
		a.Buffer = cloneMessages(a.Buffer)
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Name < agents[j].Name })
	return agents, nil
}

func (s *Memory) RemoveAgent(ctx context.Context, teamID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.agents, agentKey(teamID, name))
	return nil
}

func (s *Memory) PushMessage(ctx context.Context, teamID, name string, msg crosstalk.Message, maxBuffer int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := agentKey(teamID, name)
	agent, ok := s.agents[key]
	if !ok {
		return nil
	}
	agent.Buffer = trimBuffer(append(agent.Buffer, msg), maxBuffer)
	s.agents[key] = agent
	return nil
}

func (s *Memory) FlushMessages(ctx context.Context, teamID, name string) ([]crosstalk.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := agentKey(teamID, name)
	agent, ok := s.agents[key]
	if !ok {
		return nil, nil
	}
	msgs := agent.Buffer
	agent.Buffer = nil
	s.agents[key] = agent
	return msgs, nil
}

func (s *Memory) Close() error {
	return nil
}

func cloneMessages(msgs []crosstalk.Message) []crosstalk.Message {
	if msgs == nil {
		return nil
	}
	return append([]crosstalk.Message(nil), msgs...)
}

// trimBuffer drops the oldest messages so at most maxBuffer remain.
// A non-positive cap leaves the buffer unbounded.
func trimBuffer(msgs []crosstalk.Message, maxBuffer int) []crosstalk.Message {
	if maxBuffer > 0 && len(msgs) > maxBuffer {
		return append([]crosstalk.Message(nil), msgs[len(msgs)-maxBuffer:]...)
	}
	return msgs
}
