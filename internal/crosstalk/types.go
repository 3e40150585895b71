// Package crosstalk defines the record model shared by every transport and
// store backend: teams of coding agents and the short structured messages
// relayed between them.
package crosstalk

import (
	"time"

	"github.com/google/uuid"
)

// MessageType classifies a message so receiving agents can route it without
// parsing the content.
type MessageType string

const (
	TypeAPISpec    MessageType = "api_spec"
	TypeFileChange MessageType = "file_change"
	TypeDecision   MessageType = "decision"
	TypeTodo       MessageType = "todo"
	TypeQuestion   MessageType = "question"
)

// Broadcast is the reserved recipient name addressing every agent in the
// team except the sender. No agent may register under it.
const Broadcast = "broadcast"

// ValidMessageType reports whether t is one of the known message types.
func ValidMessageType(t MessageType) bool {
	switch t {
	case TypeAPISpec, TypeFileChange, TypeDecision, TypeTodo, TypeQuestion:
		return true
	}
	return false
}

// MessageTypes returns every valid message type, for validation messages
// and tool schemas.
func MessageTypes() []MessageType {
	return []MessageType{TypeAPISpec, TypeFileChange, TypeDecision, TypeTodo, TypeQuestion}
}

const (
	// DefaultMaxBuffer bounds each agent's pending-message buffer. A full
	// buffer evicts its oldest message first.
	DefaultMaxBuffer = 100

	// DefaultMaxTeamAgents bounds how many agents a hub admits into one team.
	DefaultMaxTeamAgents = 20
)

// Team is a named group of agents sharing one credential. Only the
// credential's hash is ever stored; the key itself exists only in the
// create-team response and in each member's local config.
type Team struct {
	ID         string    `json:"id"`
	APIKeyHash string    `json:"apiKeyHash"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Agent is one member of a team. Buffer holds messages delivered while the
// agent had no live stream, oldest first.
type Agent struct {
	Name        string    `json:"name"`
	TeamID      string    `json:"teamId"`
	SessionID   string    `json:"sessionId"`
	ConnectedAt time.Time `json:"connectedAt"`
	Buffer      []Message `json:"buffer,omitempty"`
}

// Message is one relayed payload. Messages are immutable once created;
// stores and transports move them around but never rewrite them.
type Message struct {
	ID        string      `json:"id"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"createdAt"`
}

// NewMessage stamps a message with a fresh ID and creation time.
func NewMessage(from, to string, typ MessageType, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Type:      typ,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// NewSessionID returns a fresh identifier for one connection of an agent.
func NewSessionID() string {
	return uuid.NewString()
}

// NewTeamID returns a fresh team identifier.
func NewTeamID() string {
	return uuid.NewString()
}
