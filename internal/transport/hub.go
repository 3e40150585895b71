package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/crosstalkhq/crosstalk/internal/crosstalk"
	"github.com/crosstalkhq/crosstalk/internal/toollog"
)

// DefaultHubEndpoint matches the hub daemon's default listen address.
const DefaultHubEndpoint = "http://localhost:8790"

const (
	requestTimeout     = 30 * time.Second
	connectTimeout     = 10 * time.Second
	baseReconnectDelay = time.Second
	maxReconnectDelay  = 30 * time.Second
)

// HubTransport talks to a crosstalk hub over HTTP. Sends and listings are
// plain requests; received messages arrive on a server-sent event stream
// that a background goroutine drains into a bounded local buffer.
type HubTransport struct {
	client *http.Client // request/response calls
	stream *http.Client // long-lived event stream, no overall timeout

	mu        sync.Mutex
	conf      HubConfig
	buffer    []crosstalk.Message
	maxBuffer int
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewHubTransport returns an unconfigured hub transport.
func NewHubTransport() *HubTransport {
	return &HubTransport{
		client: &http.Client{Timeout: requestTimeout},
		stream: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: connectTimeout,
			},
		},
		maxBuffer: crosstalk.DefaultMaxBuffer,
	}
}

// Configure overlays non-empty fields from conf onto the current config.
func (t *HubTransport) Configure(conf map[string]string) error {
	in := HubConfigFromMap(conf)

	t.mu.Lock()
	defer t.mu.Unlock()
	if in.Endpoint != "" {
		t.conf.Endpoint = trimEndpoint(in.Endpoint)
	}
	if in.APIKey != "" {
		t.conf.APIKey = in.APIKey
	}
	if in.AgentName != "" {
		t.conf.AgentName = in.AgentName
	}
	if in.TeamID != "" {
		t.conf.TeamID = in.TeamID
	}
	return nil
}

// IsConfigured reports whether the transport can authenticate a request.
func (t *HubTransport) IsConfigured() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conf.APIKey != "" && t.conf.AgentName != ""
}

// Identity describes the agent. The api key never appears here.
func (t *HubTransport) Identity() Identity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Identity{
		Transport: KindHub,
		AgentName: t.conf.AgentName,
		TeamID:    t.conf.TeamID,
		Endpoint:  t.endpointLocked(),
	}
}

// ExportConfig emits the hub transport's native config keys.
func (t *HubTransport) ExportConfig() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := map[string]string{"transport": KindHub}
	setNonEmpty(out, "endpoint", t.conf.Endpoint)
	setNonEmpty(out, "apiKey", t.conf.APIKey)
	setNonEmpty(out, "agentName", t.conf.AgentName)
	setNonEmpty(out, "teamId", t.conf.TeamID)
	return out
}

// CreateTeam mints a new team on the hub and adopts its credentials.
func (t *HubTransport) CreateTeam(ctx context.Context, agentName string) (*Credentials, error) {
	if agentName == "" {
		return nil, fmt.Errorf("agent name is required")
	}

	var created struct {
		TeamID string `json:"teamId"`
		APIKey string `json:"apiKey"`
	}
	if err := t.doJSON(ctx, http.MethodPost, "/teams/create", nil, &created); err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.conf.APIKey = created.APIKey
	t.conf.TeamID = created.TeamID
	t.conf.AgentName = agentName
	t.mu.Unlock()

	return &Credentials{TeamID: created.TeamID, APIKey: created.APIKey}, nil
}

// Connect opens the event stream and starts draining it into the local
// buffer. The hub registers the agent when the stream opens and flushes
// any backlog down it. Connecting while connected is a no-op.
func (t *HubTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.cancel != nil {
		t.mu.Unlock()
		return nil
	}
	if t.conf.APIKey == "" || t.conf.AgentName == "" {
		t.mu.Unlock()
		return ErrNotConfigured
	}
	t.mu.Unlock()

	// The stream request must outlive Connect's ctx; the response header
	// timeout on the stream client bounds the handshake instead.
	runCtx, cancel := context.WithCancel(context.Background())
	resp, err := t.openStream(runCtx)
	if err != nil {
		cancel()
		return err
	}

	done := make(chan struct{})
	t.mu.Lock()
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	go t.streamLoop(runCtx, resp, done)
	return nil
}

// Send posts one message to the hub, which validates and delivers it.
func (t *HubTransport) Send(ctx context.Context, to, msgType, content string) (*SendResult, error) {
	if !t.IsConfigured() {
		return nil, ErrNotConfigured
	}

	req := struct {
		To      string `json:"to"`
		Type    string `json:"type"`
		Content string `json:"content"`
	}{To: to, Type: msgType, Content: content}

	var res SendResult
	if err := t.doJSON(ctx, http.MethodPost, "/agent/send", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListAgents returns the team roster as the hub records it.
func (t *HubTransport) ListAgents(ctx context.Context) ([]AgentInfo, error) {
	if !t.IsConfigured() {
		return nil, ErrNotConfigured
	}

	var rows []struct {
		Name            string    `json:"name"`
		ConnectedAt     time.Time `json:"connectedAt"`
		PendingMessages int       `json:"pendingMessages"`
	}
	if err := t.doJSON(ctx, http.MethodGet, "/agent/list", nil, &rows); err != nil {
		return nil, err
	}

	agents := make([]AgentInfo, 0, len(rows))
	for _, row := range rows {
		agents = append(agents, AgentInfo{
			Name:            row.Name,
			ConnectedAt:     row.ConnectedAt,
			PendingMessages: row.PendingMessages,
		})
	}
	return agents, nil
}

// FlushMessages drains everything the stream has buffered locally.
func (t *HubTransport) FlushMessages(ctx context.Context) ([]crosstalk.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.buffer) == 0 {
		return nil, nil
	}
	out := t.buffer
	t.buffer = nil
	return out, nil
}

// Close stops the event stream. The hub drops the agent registration when
// the stream goes away. Closing twice is a no-op.
func (t *HubTransport) Close() error {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (t *HubTransport) endpointLocked() string {
	if t.conf.Endpoint != "" {
		return t.conf.Endpoint
	}
	return DefaultHubEndpoint
}

// authedRequest builds a request with the credential headers set. Keys ride
// in headers rather than the URL so they stay out of request logs.
func (t *HubTransport) authedRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	t.mu.Lock()
	endpoint := t.endpointLocked()
	key, name := t.conf.APIKey, t.conf.AgentName
	t.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, method, endpoint+path, body)
	if err != nil {
		return nil, err
	}
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	if name != "" {
		req.Header.Set("X-Agent-Name", name)
	}
	return req, nil
}

// doJSON performs one request/response call against the hub.
func (t *HubTransport) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := t.authedRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("hub request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return hubError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// hubError turns a non-200 response into an error, preferring the hub's
// structured error body when it parses.
func hubError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	var er struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &er) == nil && er.Error != "" {
		if er.Message != "" {
			return fmt.Errorf("hub returned %d: %s: %s", resp.StatusCode, er.Error, er.Message)
		}
		return fmt.Errorf("hub returned %d: %s", resp.StatusCode, er.Error)
	}
	return fmt.Errorf("hub returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// openStream performs the stream handshake and returns the open response.
func (t *HubTransport) openStream(ctx context.Context) (*http.Response, error) {
	req, err := t.authedRequest(ctx, http.MethodGet, "/agent/stream", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := t.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := hubError(resp)
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// streamLoop reads the event stream and reconnects with backoff until the
// transport closes.
func (t *HubTransport) streamLoop(ctx context.Context, resp *http.Response, done chan struct{}) {
	defer close(done)

	fails := 0
	for {
		if resp == nil {
			select {
			case <-time.After(reconnectDelay(fails)):
			case <-ctx.Done():
				return
			}
			next, err := t.openStream(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				fails++
				toollog.Log.Warn("Hub stream reconnect failed", "error", err, "failures", fails)
				continue
			}
			resp = next
			fails = 0
			toollog.Log.Info("Hub stream reconnected")
		}

		err := t.readStream(resp.Body)
		resp.Body.Close()
		resp = nil
		if ctx.Err() != nil {
			return
		}
		toollog.Log.Warn("Hub stream disconnected", "error", err)
	}
}

// readStream consumes one stream connection, appending each message to the
// local buffer. Returns when the connection ends.
func (t *HubTransport) readStream(body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue // keepalive comments and blank separators
		}
		var msg crosstalk.Message
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg); err != nil {
			toollog.Log.Debug("Failed to parse stream event", "error", err)
			continue
		}

		t.mu.Lock()
		t.buffer = append(t.buffer, msg)
		if len(t.buffer) > t.maxBuffer {
			t.buffer = t.buffer[len(t.buffer)-t.maxBuffer:]
		}
		t.mu.Unlock()
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

// reconnectDelay backs off exponentially from the base delay, capped.
func reconnectDelay(fails int) time.Duration {
	d := baseReconnectDelay << min(fails, 5)
	if d > maxReconnectDelay {
		d = maxReconnectDelay
	}
	return d
}
