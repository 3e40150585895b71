package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/crosstalkhq/crosstalk/internal/crosstalk"
	"github.com/crosstalkhq/crosstalk/internal/relay"
)

// RelayTransport reaches the team over a public relay. Teams exist only as
// a shared tag, so CreateTeam needs no network round trip; the tag itself
// is the credential a teammate joins with.
type RelayTransport struct {
	mu     sync.Mutex
	conf   RelayConfig
	ident  relay.Identity
	client *relay.Client
}

// NewRelayTransport returns an unconfigured relay transport.
func NewRelayTransport() *RelayTransport {
	return &RelayTransport{}
}

// Configure overlays non-empty fields from conf onto the current config.
// A provided secret key is parsed immediately so a bad one fails here
// rather than at connect time.
func (t *RelayTransport) Configure(conf map[string]string) error {
	in := RelayConfigFromMap(conf)

	t.mu.Lock()
	defer t.mu.Unlock()
	if in.Endpoint != "" {
		t.conf.Endpoint = trimEndpoint(in.Endpoint)
	}
	if in.TeamTag != "" {
		t.conf.TeamTag = in.TeamTag
	}
	if in.AgentName != "" {
		t.conf.AgentName = in.AgentName
	}
	if in.SecretKey != "" && in.SecretKey != t.conf.SecretKey {
		ident, err := relay.IdentityFromSecretKey(in.SecretKey)
		if err != nil {
			return fmt.Errorf("secret key: %w", err)
		}
		t.conf.SecretKey = in.SecretKey
		t.ident = ident
	}
	return nil
}

// IsConfigured reports whether the transport can join its team. The
// signing key is not required up front; one is generated on first use.
func (t *RelayTransport) IsConfigured() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conf.Endpoint != "" && t.conf.TeamTag != "" && t.conf.AgentName != ""
}

// Identity describes the agent. The secret key never appears here.
func (t *RelayTransport) Identity() Identity {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := Identity{
		Transport: KindRelay,
		AgentName: t.conf.AgentName,
		TeamID:    t.conf.TeamTag,
		Endpoint:  t.conf.Endpoint,
	}
	if t.ident.Valid() {
		id.PublicKey = t.ident.PublicKey()
	}
	return id
}

// ExportConfig emits the relay transport's native config keys, including
// the secret key so a restored process keeps the same signing identity.
func (t *RelayTransport) ExportConfig() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := map[string]string{"transport": KindRelay}
	setNonEmpty(out, "endpoint", t.conf.Endpoint)
	setNonEmpty(out, "teamTag", t.conf.TeamTag)
	setNonEmpty(out, "agentName", t.conf.AgentName)
	setNonEmpty(out, "secretKey", t.conf.SecretKey)
	return out
}

// CreateTeam mints a fresh team tag and adopts it. The tag is returned as
// the api key so join flows look the same on both transports.
func (t *RelayTransport) CreateTeam(ctx context.Context, agentName string) (*Credentials, error) {
	if agentName == "" {
		return nil, fmt.Errorf("agent name is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureIdentityLocked(); err != nil {
		return nil, err
	}
	tag := relay.NewTeamTag()
	t.conf.TeamTag = tag
	t.conf.AgentName = agentName
	return &Credentials{TeamID: tag, APIKey: tag}, nil
}

// Connect dials the relay, subscribes to the team tag, and announces
// presence. Connecting while connected is a no-op.
func (t *RelayTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connectLocked(ctx)
}

// Send publishes one message. The relay gives no recipient feedback, so
// the result counts recipients against the local presence view.
func (t *RelayTransport) Send(ctx context.Context, to, msgType, content string) (*SendResult, error) {
	if to == "" {
		return nil, fmt.Errorf("to is required")
	}
	if !crosstalk.ValidMessageType(crosstalk.MessageType(msgType)) {
		return nil, fmt.Errorf("unknown message type %q (valid: %v)", msgType, crosstalk.MessageTypes())
	}

	client, err := t.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}
	res, err := client.Send(ctx, to, msgType, content)
	if err != nil {
		return nil, err
	}
	return &SendResult{
		OK:          true,
		MessageID:   res.Message.ID,
		DeliveredTo: res.DeliveredTo,
	}, nil
}

// ListAgents returns teammates seen alive within the presence window.
func (t *RelayTransport) ListAgents(ctx context.Context) ([]AgentInfo, error) {
	client, err := t.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	peers := client.ListAgents()
	agents := make([]AgentInfo, 0, len(peers))
	for _, p := range peers {
		agents = append(agents, AgentInfo{Name: p.Name, LastSeen: p.LastSeen})
	}
	return agents, nil
}

// FlushMessages drains the client's local buffer. A transport that never
// connected has nothing buffered.
func (t *RelayTransport) FlushMessages(ctx context.Context) ([]crosstalk.Message, error) {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil {
		return nil, nil
	}
	return client.FlushMessages(), nil
}

// Close disconnects from the relay. The configuration survives, so a
// later Connect starts a fresh session. Closing twice is a no-op.
func (t *RelayTransport) Close() error {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Close()
}

// ensureConnected connects on demand so operations work on a transport
// restored from persisted credentials.
func (t *RelayTransport) ensureConnected(ctx context.Context) (*relay.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		if err := t.connectLocked(ctx); err != nil {
			return nil, err
		}
	}
	return t.client, nil
}

func (t *RelayTransport) connectLocked(ctx context.Context) error {
	if t.client != nil {
		return nil
	}
	if t.conf.Endpoint == "" || t.conf.TeamTag == "" || t.conf.AgentName == "" {
		return ErrNotConfigured
	}
	if err := t.ensureIdentityLocked(); err != nil {
		return err
	}

	client := relay.NewClient(relay.Options{
		URL:       t.conf.Endpoint,
		TeamTag:   t.conf.TeamTag,
		AgentName: t.conf.AgentName,
		Identity:  t.ident,
	})
	if err := client.Connect(ctx); err != nil {
		client.Close()
		return err
	}
	t.client = client
	return nil
}

// ensureIdentityLocked generates a signing key on first use and records
// its seed so ExportConfig can persist it.
func (t *RelayTransport) ensureIdentityLocked() error {
	if t.ident.Valid() {
		return nil
	}
	ident, err := relay.GenerateIdentity()
	if err != nil {
		return fmt.Errorf("generate identity: %w", err)
	}
	t.ident = ident
	t.conf.SecretKey = ident.SecretKey()
	return nil
}
