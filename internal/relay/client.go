package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/crosstalkhq/crosstalk/internal/crosstalk"
	"github.com/crosstalkhq/crosstalk/internal/toollog"
)

// Default timing knobs. The presence window must exceed the heartbeat
// interval so a newly-connecting peer always sees at least one presence
// event from every still-active peer.
const (
	DefaultHeartbeat      = 60 * time.Second
	DefaultPresenceWindow = 90 * time.Second
	DefaultAckTimeout     = 5 * time.Second
	DefaultDialWait       = 10 * time.Second

	baseReconnectDelay = 1 * time.Second
	maxReconnectDelay  = 30 * time.Second

	// eoseWait bounds how long Connect waits for the stored-event replay.
	// Relays that never send EOSE just cost this delay once.
	eoseWait = 3 * time.Second

	// seenCap bounds the duplicate-suppression window. Reconnects replay
	// stored events, so recently handled ids must be remembered.
	seenCap = 512
)

var (
	// ErrPublishRejected wraps a relay's explicit rejection of an event.
	ErrPublishRejected = errors.New("relay rejected event")
	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("relay client is closed")
)

// Options configures a Client. Zero timing fields fall back to the
// defaults; tests shrink them.
type Options struct {
	URL       string
	TeamTag   string
	AgentName string
	Identity  Identity

	MaxBuffer      int
	Heartbeat      time.Duration
	PresenceWindow time.Duration
	AckTimeout     time.Duration
	DialWait       time.Duration
}

// Peer is a team member known from presence events.
type Peer struct {
	Name     string
	PubKey   string
	LastSeen time.Time
}

// SendResult reports a published message. DeliveredTo counts the
// recipients resolved against the local presence view; the relay itself
// gives no delivery feedback.
type SendResult struct {
	Message     crosstalk.Message
	DeliveredTo int
}

type peerState struct {
	pubKey   string
	lastSeen time.Time
}

type okFrame struct {
	accepted bool
	reason   string
}

// Client is a relay protocol client for one agent on one team. It keeps a
// single websocket to the relay, reconnecting with exponential backoff,
// and buffers accepted incoming messages locally until drained.
type Client struct {
	opts  Options
	subID string

	mu        sync.Mutex
	conn      *websocket.Conn
	ready     chan struct{} // closed while a connection is up
	synced    chan struct{} // closed on EOSE for the current subscription
	pending   map[string]chan okFrame
	peers     map[string]peerState
	buffer    []crosstalk.Message
	seen      map[string]struct{}
	seenOrder []string
	started   bool
	closed    bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient creates a client. Connect must be called before Send.
func NewClient(opts Options) *Client {
	if opts.MaxBuffer <= 0 {
		opts.MaxBuffer = crosstalk.DefaultMaxBuffer
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if opts.PresenceWindow <= 0 {
		opts.PresenceWindow = DefaultPresenceWindow
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	if opts.DialWait <= 0 {
		opts.DialWait = DefaultDialWait
	}
	return &Client{
		opts:    opts,
		subID:   uuid.NewString(),
		ready:   make(chan struct{}),
		pending: make(map[string]chan okFrame),
		peers:   make(map[string]peerState),
		seen:    make(map[string]struct{}),
	}
}

// Connect dials the relay, subscribes to the team's events, announces
// presence, and starts the background read and heartbeat loops. It waits
// briefly for the stored-event replay so an immediate ListAgents sees
// peers that announced before we subscribed. Calling Connect twice is a
// no-op; connection drops after a successful Connect are retried
// internally and never surface as errors.
func (c *Client) Connect(ctx context.Context) error {
	if c.opts.URL == "" || c.opts.TeamTag == "" || c.opts.AgentName == "" {
		return errors.New("relay url, team tag and agent name are required")
	}
	if !c.opts.Identity.Valid() {
		return errors.New("relay identity is required")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	dialCtx, cancelDial := context.WithTimeout(ctx, c.opts.DialWait)
	conn, err := c.dial(dialCtx)
	cancelDial()
	if err != nil {
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()
	c.setConn(conn)

	go c.run(runCtx, conn)

	c.waitSynced(ctx)
	return nil
}

// Connected reports whether the relay connection is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send publishes a signed message event to the team. If the connection is
// mid-handshake the call waits up to the dial-wait for it to open. An
// explicit relay rejection returns an ErrPublishRejected-wrapped error; a
// relay that never acknowledges counts as having accepted.
func (c *Client) Send(ctx context.Context, to, msgType, content string) (*SendResult, error) {
	conn, err := c.waitReady(ctx)
	if err != nil {
		return nil, err
	}

	ev, err := NewEvent(c.opts.Identity, KindMessage, MessageTags(c.opts.TeamTag, c.opts.AgentName, to, msgType), content)
	if err != nil {
		return nil, err
	}
	if err := c.publish(ctx, conn, ev); err != nil {
		return nil, err
	}

	msg := crosstalk.Message{
		ID:        ev.ID,
		From:      c.opts.AgentName,
		To:        to,
		Type:      crosstalk.MessageType(msgType),
		Content:   content,
		CreatedAt: time.Unix(ev.CreatedAt, 0).UTC(),
	}

	// A direct send to yourself lands in your own buffer. Appending it
	// here, instead of waiting for the relay to echo it back, makes that
	// hold even for relays that skip the publisher; the seen set drops
	// the echo if one arrives.
	if to == c.opts.AgentName {
		c.mu.Lock()
		if c.markSeen(ev.ID) {
			c.appendLocked(msg)
		}
		c.mu.Unlock()
	}

	return &SendResult{Message: msg, DeliveredTo: c.resolveRecipients(to)}, nil
}

// ListAgents returns the team members seen within the presence window,
// sorted by name. The view is local; no relay round-trip happens, so it
// is only as fresh as each peer's last heartbeat.
func (c *Client) ListAgents() []Peer {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-c.opts.PresenceWindow)
	peers := make([]Peer, 0, len(c.peers))
	for name, p := range c.peers {
		if p.lastSeen.After(cutoff) {
			peers = append(peers, Peer{Name: name, PubKey: p.pubKey, LastSeen: p.lastSeen})
		}
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].Name < peers[j].Name })
	return peers
}

// FlushMessages drains the local delivery buffer. The drain is atomic; a
// second call returns nothing until new messages arrive.
func (c *Client) FlushMessages() []crosstalk.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := c.buffer
	c.buffer = nil
	bufferedMessages.Set(0)
	return msgs
}

// Close cancels the subscription on the relay, stops the heartbeat, and
// releases the connection. Closing twice is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

// dial opens a connection, subscribes, and announces presence.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, c.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	if err := c.subscribe(ctx, conn); err != nil {
		conn.CloseNow()
		return nil, err
	}
	if err := c.announce(ctx, conn); err != nil {
		conn.CloseNow()
		return nil, err
	}
	return conn, nil
}

// subscribe requests the team's message and presence events. The lookback
// covers the presence window so every active peer's latest heartbeat is
// replayed.
func (c *Client) subscribe(ctx context.Context, conn *websocket.Conn) error {
	filter := Filter{
		Kinds: []int{KindMessage, KindPresence},
		Tags:  []string{c.opts.TeamTag},
		Since: time.Now().Add(-c.opts.PresenceWindow).Unix(),
	}

	c.mu.Lock()
	c.synced = make(chan struct{})
	c.mu.Unlock()

	if err := writeFrame(ctx, conn, []any{"REQ", c.subID, filter}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

// announce publishes one presence event and refreshes our own peers entry
// so ListAgents always includes self.
func (c *Client) announce(ctx context.Context, conn *websocket.Conn) error {
	ev, err := NewEvent(c.opts.Identity, KindPresence, PresenceTags(c.opts.TeamTag, c.opts.AgentName), "")
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := writeFrame(writeCtx, conn, []any{"EVENT", ev}); err != nil {
		return fmt.Errorf("publish presence: %w", err)
	}
	publishesTotal.WithLabelValues(kindLabel(KindPresence)).Inc()

	c.mu.Lock()
	c.peers[c.opts.AgentName] = peerState{pubKey: ev.PubKey, lastSeen: time.Now()}
	c.mu.Unlock()
	return nil
}

// run keeps the connection alive until the client is closed, redialing
// with exponential backoff after drops.
func (c *Client) run(ctx context.Context, conn *websocket.Conn) {
	defer close(c.done)

	fails := 0
	for {
		if conn == nil {
			select {
			case <-time.After(reconnectDelay(fails)):
			case <-ctx.Done():
				return
			}

			dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialWait)
			next, err := c.dial(dialCtx)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				fails++
				toollog.Log.Warn("Relay reconnect failed", "error", err, "failures", fails)
				continue
			}
			conn = next
			fails = 0
			reconnectsTotal.Inc()
			c.setConn(conn)
		}

		err := c.serve(ctx, conn)
		c.clearConn()
		conn = nil

		if ctx.Err() != nil {
			return
		}
		toollog.Log.Warn("Relay connection lost", "error", err)
	}
}

// serve runs the read and heartbeat loops for one connection. On orderly
// shutdown the heartbeat stops first, then the subscription is cancelled
// on the relay, and only then is the socket released.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	hbCtx, stopHeartbeat := context.WithCancel(context.Background())
	hbDone := make(chan struct{})
	go c.heartbeatLoop(hbCtx, conn, hbDone)

	readErr := make(chan error, 1)
	go func() { readErr <- c.readLoop(conn) }()

	select {
	case err := <-readErr:
		stopHeartbeat()
		<-hbDone
		conn.CloseNow()
		return err
	case <-ctx.Done():
		stopHeartbeat()
		<-hbDone
		c.sendUnsubscribe(conn)
		conn.Close(websocket.StatusNormalClosure, "client closing")
		<-readErr
		return ctx.Err()
	}
}

func (c *Client) sendUnsubscribe(conn *websocket.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := writeFrame(ctx, conn, []any{"CLOSE", c.subID}); err != nil {
		toollog.Log.Debug("Relay unsubscribe failed", "error", err)
	}
}

// heartbeatLoop re-announces presence on the heartbeat interval.
func (c *Client) heartbeatLoop(ctx context.Context, conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.opts.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.announce(ctx, conn); err != nil {
				// The read loop notices the broken connection too;
				// stop heartbeating until the redial.
				toollog.Log.Debug("Presence heartbeat failed", "error", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// readLoop reads frames until the connection fails or is closed.
func (c *Client) readLoop(conn *websocket.Conn) error {
	ctx := context.Background()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		c.handleFrame(data)
	}
}

// handleFrame parses one inbound frame. Malformed frames are discarded
// without tearing down the connection.
func (c *Client) handleFrame(data []byte) {
	var frame []json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil || len(frame) < 2 {
		framesDiscardedTotal.Inc()
		toollog.Log.Debug("Discarding malformed relay frame", "error", err)
		return
	}
	var label string
	if err := json.Unmarshal(frame[0], &label); err != nil {
		framesDiscardedTotal.Inc()
		return
	}

	switch label {
	case "EVENT":
		// ["EVENT", subId, event]
		if len(frame) < 3 {
			framesDiscardedTotal.Inc()
			return
		}
		var ev Event
		if err := json.Unmarshal(frame[2], &ev); err != nil {
			framesDiscardedTotal.Inc()
			toollog.Log.Debug("Discarding unparseable relay event", "error", err)
			return
		}
		c.handleEvent(ev)
	case "OK":
		// ["OK", eventId, accepted, reason]
		var id string
		var accepted bool
		var reason string
		if err := json.Unmarshal(frame[1], &id); err != nil {
			framesDiscardedTotal.Inc()
			return
		}
		if len(frame) > 2 {
			json.Unmarshal(frame[2], &accepted)
		}
		if len(frame) > 3 {
			json.Unmarshal(frame[3], &reason)
		}
		c.handleOK(id, accepted, reason)
	case "EOSE":
		c.handleEOSE()
	default:
		// NOTICE and anything unknown: ignore.
	}
}

func (c *Client) handleEvent(ev Event) {
	if ev.Tag("t") != c.opts.TeamTag {
		return
	}
	if err := ev.Verify(); err != nil {
		framesDiscardedTotal.Inc()
		toollog.Log.Debug("Discarding event with bad signature", "id", ev.ID, "error", err)
		return
	}
	eventsReceivedTotal.WithLabelValues(kindLabel(ev.Kind)).Inc()

	switch ev.Kind {
	case KindPresence:
		name := ev.Tag("agent")
		if name == "" {
			return
		}
		seen := time.Unix(ev.CreatedAt, 0)
		c.mu.Lock()
		// Replays can arrive out of order; keep the freshest sighting.
		if prev, ok := c.peers[name]; !ok || seen.After(prev.lastSeen) {
			c.peers[name] = peerState{pubKey: ev.PubKey, lastSeen: seen}
		}
		c.mu.Unlock()

	case KindMessage:
		from := ev.Tag("agent-from")
		to := ev.Tag("agent-to")
		if to != c.opts.AgentName && to != crosstalk.Broadcast {
			return
		}
		// Our own broadcasts echo back through the subscription; a
		// broadcast never lands in the sender's buffer.
		if to == crosstalk.Broadcast && from == c.opts.AgentName {
			return
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.markSeen(ev.ID) {
			return
		}
		c.appendLocked(crosstalk.Message{
			ID:        ev.ID,
			From:      from,
			To:        to,
			Type:      crosstalk.MessageType(ev.Tag("msg-type")),
			Content:   ev.Content,
			CreatedAt: time.Unix(ev.CreatedAt, 0).UTC(),
		})
	}
}

// appendLocked adds a message to the delivery buffer, dropping the oldest
// beyond the cap. Caller holds c.mu.
func (c *Client) appendLocked(msg crosstalk.Message) {
	c.buffer = append(c.buffer, msg)
	if len(c.buffer) > c.opts.MaxBuffer {
		c.buffer = c.buffer[len(c.buffer)-c.opts.MaxBuffer:]
	}
	bufferedMessages.Set(float64(len(c.buffer)))
}

// markSeen records an event id, evicting the oldest once the window is
// full. Returns false for ids already handled. Caller holds c.mu.
func (c *Client) markSeen(id string) bool {
	if _, ok := c.seen[id]; ok {
		return false
	}
	c.seen[id] = struct{}{}
	c.seenOrder = append(c.seenOrder, id)
	if len(c.seenOrder) > seenCap {
		delete(c.seen, c.seenOrder[0])
		c.seenOrder = c.seenOrder[1:]
	}
	return true
}

func (c *Client) handleOK(id string, accepted bool, reason string) {
	c.mu.Lock()
	ch := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()

	if ch != nil {
		ch <- okFrame{accepted: accepted, reason: reason}
	}
}

func (c *Client) handleEOSE() {
	c.mu.Lock()
	if c.synced != nil {
		close(c.synced)
		c.synced = nil
	}
	c.mu.Unlock()
}

// publish writes an event and waits for the relay's acknowledgement. No
// acknowledgement within the ack timeout counts as accepted; only an
// explicit rejection fails.
func (c *Client) publish(ctx context.Context, conn *websocket.Conn, ev Event) error {
	ch := make(chan okFrame, 1)
	c.mu.Lock()
	c.pending[ev.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, ev.ID)
		c.mu.Unlock()
	}()

	if err := writeFrame(ctx, conn, []any{"EVENT", ev}); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	publishesTotal.WithLabelValues(kindLabel(ev.Kind)).Inc()

	timer := time.NewTimer(c.opts.AckTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		if !res.accepted {
			publishRejectedTotal.Inc()
			if res.reason == "" {
				res.reason = "no reason given"
			}
			return fmt.Errorf("%w: %s", ErrPublishRejected, res.reason)
		}
		return nil
	case <-timer.C:
		// Many relays never acknowledge; treat silence as acceptance.
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolveRecipients counts recipients against the local presence view.
func (c *Client) resolveRecipients(to string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-c.opts.PresenceWindow)
	if to == crosstalk.Broadcast {
		n := 0
		for name, p := range c.peers {
			if name != c.opts.AgentName && p.lastSeen.After(cutoff) {
				n++
			}
		}
		return n
	}
	if p, ok := c.peers[to]; ok && p.lastSeen.After(cutoff) {
		return 1
	}
	return 0
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	if c.ready != nil {
		close(c.ready)
		c.ready = nil
	}
	c.mu.Unlock()
}

func (c *Client) clearConn() {
	c.mu.Lock()
	c.conn = nil
	if c.ready == nil {
		c.ready = make(chan struct{})
	}
	c.mu.Unlock()
}

// waitReady returns the open connection, waiting up to the dial-wait for
// an in-flight handshake or redial to finish.
func (c *Client) waitReady(ctx context.Context) (*websocket.Conn, error) {
	timer := time.NewTimer(c.opts.DialWait)
	defer timer.Stop()
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClosed
		}
		if !c.started {
			c.mu.Unlock()
			return nil, errors.New("relay client is not connected")
		}
		conn, ready := c.conn, c.ready
		c.mu.Unlock()

		if conn != nil {
			return conn, nil
		}
		select {
		case <-ready:
		case <-timer.C:
			return nil, fmt.Errorf("relay connection not open after %s", c.opts.DialWait)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// waitSynced blocks until the current subscription's replay finishes, the
// eose wait elapses, or ctx is done.
func (c *Client) waitSynced(ctx context.Context) {
	c.mu.Lock()
	synced := c.synced
	c.mu.Unlock()
	if synced == nil {
		return
	}

	timer := time.NewTimer(eoseWait)
	defer timer.Stop()
	select {
	case <-synced:
	case <-timer.C:
	case <-ctx.Done():
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, frame []any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func reconnectDelay(fails int) time.Duration {
	delay := baseReconnectDelay << uint(min(fails, 5))
	if delay > maxReconnectDelay {
		delay = maxReconnectDelay
	}
	return delay
}
