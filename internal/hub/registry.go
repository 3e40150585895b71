package hub

import (
	"sync"

	"github.com/crosstalkhq/crosstalk/internal/crosstalk"
	"github.com/crosstalkhq/crosstalk/internal/toollog"
)

// liveChanSize bounds how far a live stream may lag before pushes to it are
// dropped. Dropped pushes are not lost: the message is already in the
// agent's store buffer.
const liveChanSize = 64

// LiveRegistry tracks the live delivery channel of every agent currently
// streaming from this process. It is deliberately separate from the store:
// channels are process-local, never persisted, and a hub restart simply
// begins with an empty registry.
type LiveRegistry struct {
	mu   sync.RWMutex
	subs map[string]chan crosstalk.Message
}

// NewLiveRegistry creates an empty registry.
func NewLiveRegistry() *LiveRegistry {
	return &LiveRegistry{subs: make(map[string]chan crosstalk.Message)}
}

func liveKey(teamID, name string) string {
	return teamID + ":" + name
}

// Subscribe registers the live channel for one agent and returns it with an
// unsubscribe function. An agent has at most one live channel: subscribing
// again closes the previous one, so a reconnecting agent takes over the
// stream and the stale handler unwinds.
func (r *LiveRegistry) Subscribe(teamID, name string) (<-chan crosstalk.Message, func()) {
	ch := make(chan crosstalk.Message, liveChanSize)
	key := liveKey(teamID, name)

	r.mu.Lock()
	if old, ok := r.subs[key]; ok {
		close(old)
	}
	r.subs[key] = ch
	r.mu.Unlock()

	unsub := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.subs[key] == ch {
			delete(r.subs, key)
			close(ch)
		}
	}
	return ch, unsub
}

// Publish hands a message to the agent's live channel, if one is registered
// here. The send never blocks: a full channel drops the push and the
// subscriber catches up from its store buffer on reconnect.
func (r *LiveRegistry) Publish(teamID, name string, msg crosstalk.Message) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.subs[liveKey(teamID, name)]
	if !ok {
		return false
	}
	select {
	case ch <- msg:
		return true
	default:
		toollog.Log.Warn("Dropping live push for slow stream", "team_id", teamID, "agent", name)
		livePushDropsTotal.Inc()
		return false
	}
}

// Connected reports whether the agent has a live stream on this process.
func (r *LiveRegistry) Connected(teamID, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.subs[liveKey(teamID, name)]
	return ok
}

// Count returns the number of live streams.
func (r *LiveRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
