// Package transport abstracts how an agent reaches its team: through the
// central hub or over the public relay. Both transports implement the
// same operations with the same semantics, so the tool layer never
// branches on which one is active.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/crosstalkhq/crosstalk/internal/crosstalk"
)

// Transport kind names, used as the "transport" key in exported config.
const (
	KindHub   = "hub"
	KindRelay = "relay"
)

// ErrNotConfigured is returned by operations that need credentials before
// Configure or CreateTeam provided them.
var ErrNotConfigured = errors.New("transport is not configured")

// Identity describes who this agent is on its current transport. It never
// carries credential material.
type Identity struct {
	Transport string `json:"transport"`
	AgentName string `json:"agentName,omitempty"`
	TeamID    string `json:"teamId,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	PublicKey string `json:"publicKey,omitempty"` // relay only
}

// Credentials is what CreateTeam hands back. APIKey is the value a
// teammate passes to join: the hub api key, or the relay team tag.
type Credentials struct {
	TeamID string `json:"teamId"`
	APIKey string `json:"apiKey"`
}

// AgentInfo is one team member as the active transport sees it.
type AgentInfo struct {
	Name            string    `json:"name"`
	ConnectedAt     time.Time `json:"connectedAt,omitzero"`
	PendingMessages int       `json:"pendingMessages,omitempty"`
	LastSeen        time.Time `json:"lastSeen,omitzero"` // relay only
}

// SendResult reports a completed send.
type SendResult struct {
	OK          bool   `json:"ok"`
	MessageID   string `json:"messageId"`
	DeliveredTo int    `json:"deliveredTo"`
}

// Transport moves messages for one agent on one team.
type Transport interface {
	// IsConfigured reports whether the transport holds usable credentials.
	IsConfigured() bool
	// Configure applies a config map. Field-name aliases from either
	// transport's vocabulary are accepted; see the FromMap adapters.
	Configure(conf map[string]string) error
	// Identity describes the agent once configured.
	Identity() Identity
	// CreateTeam provisions a new team and configures this transport as
	// its first member.
	CreateTeam(ctx context.Context, agentName string) (*Credentials, error)
	// Connect starts live delivery into the local buffer.
	Connect(ctx context.Context) error
	// Send delivers one message to a named agent or the broadcast.
	Send(ctx context.Context, to, msgType, content string) (*SendResult, error)
	// ListAgents returns the team as the transport currently sees it.
	ListAgents(ctx context.Context) ([]AgentInfo, error)
	// FlushMessages atomically drains the local delivery buffer.
	FlushMessages(ctx context.Context) ([]crosstalk.Message, error)
	// ExportConfig emits the transport's native config keys, including
	// the "transport" kind, for credential persistence.
	ExportConfig() map[string]string
	// Close releases the connection. Closing twice is a no-op.
	Close() error
}
