package crosstalk

import "context"

// Store persists teams, agents, and their buffered messages. Implementations
// must be safe for concurrent use. Lookups that miss return (nil, nil); a
// non-nil error always means the backend itself failed.
type Store interface {
	// CreateTeam persists a new team record.
	CreateTeam(ctx context.Context, team Team) error

	// GetTeam returns the team with the given ID, or nil if absent.
	GetTeam(ctx context.Context, id string) (*Team, error)

	// FindTeamByKeyHash resolves a credential hash to its team, or nil.
	FindTeamByKeyHash(ctx context.Context, hash string) (*Team, error)

	// ListTeams returns every team.
	ListTeams(ctx context.Context) ([]Team, error)

	// SaveAgent upserts the whole agent record, buffer included. A caller
	// that means to preserve an existing buffer must read it back first.
	SaveAgent(ctx context.Context, agent Agent) error

	// GetAgent returns one agent with its buffer, or nil if absent.
	GetAgent(ctx context.Context, teamID, name string) (*Agent, error)

	// ListAgents returns the agents of one team, buffers included.
	// Agents of other teams never appear in the result.
	ListAgents(ctx context.Context, teamID string) ([]Agent, error)

	// RemoveAgent deletes an agent and its buffer. Removing an absent
	// agent is not an error.
	RemoveAgent(ctx context.Context, teamID, name string) error

	// PushMessage appends msg to the named agent's buffer, evicting the
	// oldest entries so at most maxBuffer remain. Pushing to an absent
	// agent is a silent no-op.
	PushMessage(ctx context.Context, teamID, name string, msg Message, maxBuffer int) error

	// FlushMessages atomically returns and clears an agent's buffer. A
	// second flush without new deliveries returns an empty result. An
	// absent agent flushes to nothing.
	FlushMessages(ctx context.Context, teamID, name string) ([]Message, error)

	// Close releases backend resources.
	Close() error
}
