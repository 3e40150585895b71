package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/crosstalkhq/crosstalk/internal/crosstalk"
)

// snapshotDoc is the on-disk layout of the snapshot file. Agents are stored
// without their buffers; buffered messages live in the messages map under
// the same "teamID:name" key.
type snapshotDoc struct {
	Teams    map[string]crosstalk.Team      `json:"teams"`
	Agents   map[string]crosstalk.Agent     `json:"agents"`
	Messages map[string][]crosstalk.Message `json:"messages"`
}

func newSnapshotDoc() *snapshotDoc {
	return &snapshotDoc{
		Teams:    make(map[string]crosstalk.Team),
		Agents:   make(map[string]crosstalk.Agent),
		Messages: make(map[string][]crosstalk.Message),
	}
}

// Snapshot persists all state in a single JSON file. Every mutation loads
// the file, applies the change, and writes the result to a temp file that
// is renamed over the original, so readers never observe a torn write.
// Every read reloads the file, so multiple processes sharing the path see
// each other's writes. Concurrent writers from different processes can
// still interleave on the load-modify-store cycle; last write wins.
type Snapshot struct {
	mu   sync.RWMutex
	path string
}

// NewSnapshot creates a snapshot store backed by the given file path. The
// parent directory is created if needed; the file itself appears on the
// first write.
func NewSnapshot(path string) (*Snapshot, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &Snapshot{path: path}, nil
}

// Path returns the snapshot file path.
func (s *Snapshot) Path() string {
	return s.path
}

func (s *Snapshot) load() (*snapshotDoc, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return newSnapshotDoc(), nil
	} else if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	doc := newSnapshotDoc()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", s.path, err)
	}
	return doc, nil
}

func (s *Snapshot) save(doc *snapshotDoc) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// mutate runs one load-modify-store cycle under the write lock.
func (s *Snapshot) mutate(fn func(doc *snapshotDoc)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	fn(doc)
	return s.save(doc)
}

func (s *Snapshot) CreateTeam(ctx context.Context, team crosstalk.Team) error {
	return s.mutate(func(doc *snapshotDoc) {
		doc.Teams[team.ID] = team
	})
}

func (s *Snapshot) GetTeam(ctx context.Context, id string) (*crosstalk.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	team, ok := doc.Teams[id]
	if !ok {
		return nil, nil
	}
	return &team, nil
}

func (s *Snapshot) FindTeamByKeyHash(ctx context.Context, hash string) (*crosstalk.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, team := range doc.Teams {
		if team.APIKeyHash == hash {
			t := team
			return &t, nil
		}
	}
	return nil, nil
}

func (s *Snapshot) ListTeams(ctx context.Context) ([]crosstalk.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	teams := make([]crosstalk.Team, 0, len(doc.Teams))
	for _, t := range doc.Teams {
		teams = append(teams, t)
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i].ID < teams[j].ID })
	return teams, nil
}

func (s *Snapshot) SaveAgent(ctx context.Context, agent crosstalk.Agent) error {
	return s.mutate(func(doc *snapshotDoc) {
		key := agentKey(agent.TeamID, agent.Name)
		buffer := agent.Buffer
		agent.Buffer = nil
		doc.Agents[key] = agent
		if len(buffer) > 0 {
			doc.Messages[key] = buffer
		} else {
			delete(doc.Messages, key)
		}
	})
}

func (s *Snapshot) GetAgent(ctx context.Context, teamID, name string) (*crosstalk.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	key := agentKey(teamID, name)
	agent, ok := doc.Agents[key]
	if !ok {
		return nil, nil
	}
	agent.Buffer = doc.Messages[key]
	return &agent, nil
}

func (s *Snapshot) ListAgents(ctx context.Context, teamID string) ([]crosstalk.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	var agents []crosstalk.Agent
	for key, a := range doc.Agents {
		if a.TeamID != teamID {
			continue
		}
		a.Buffer = doc.Messages[key]
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Name < agents[j].Name })
	return agents, nil
}

func (s *Snapshot) RemoveAgent(ctx context.Context, teamID, name string) error {
	return s.mutate(func(doc *snapshotDoc) {
		key := agentKey(teamID, name)
		delete(doc.Agents, key)
		delete(doc.Messages, key)
	})
}

func (s *Snapshot) PushMessage(ctx context.Context, teamID, name string, msg crosstalk.Message, maxBuffer int) error {
	return s.mutate(func(doc *snapshotDoc) {
		key := agentKey(teamID, name)
		if _, ok := doc.Agents[key]; !ok {
			return
		}
		doc.Messages[key] = trimBuffer(append(doc.Messages[key], msg), maxBuffer)
	})
}

func (s *Snapshot) FlushMessages(ctx context.Context, teamID, name string) ([]crosstalk.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	key := agentKey(teamID, name)
	msgs := doc.Messages[key]
	if len(msgs) == 0 {
		return nil, nil
	}
	delete(doc.Messages, key)
	if err := s.save(doc); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *Snapshot) Close() error {
	return nil
}
