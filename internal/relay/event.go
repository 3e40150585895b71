// Package relay implements the client side of the signed-event relay
// protocol: team messaging over a public relay with no server of our own.
// A team is a shared tag; agents sign every event with a local ed25519
// identity and filter incoming events down to their own team and name.
package relay

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

// Event kinds used on the relay. Both are custom, unreserved kinds, so
// conforming relays store and forward them as opaque events. Some public
// relays refuse to retain unknown kinds; that is an accepted availability
// risk of the relay transport.
const (
	KindMessage  = 9901
	KindPresence = 9902
)

// Event is a signed relay event. Field names follow the relay wire format.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Filter narrows a relay subscription to matching events.
type Filter struct {
	Kinds []int    `json:"kinds,omitempty"`
	Tags  []string `json:"#t,omitempty"`
	Since int64    `json:"since,omitempty"`
}

// NewEvent builds and signs an event of the given kind.
func NewEvent(id Identity, kind int, tags [][]string, content string) (Event, error) {
	ev := Event{
		PubKey:    id.PublicKey(),
		CreatedAt: time.Now().Unix(),
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
	ev.ID = ev.ComputeID()
	sig, err := id.Sign(ev.ID)
	if err != nil {
		return Event{}, err
	}
	ev.Sig = sig
	return ev, nil
}

// MessageTags builds the tag set for a message event.
func MessageTags(teamTag, from, to, msgType string) [][]string {
	return [][]string{
		{"t", teamTag},
		{"agent-from", from},
		{"agent-to", to},
		{"msg-type", msgType},
	}
}

// PresenceTags builds the tag set for a presence event.
func PresenceTags(teamTag, agent string) [][]string {
	return [][]string{
		{"t", teamTag},
		{"agent", agent},
	}
}

// ComputeID returns the canonical event id: the sha256 of the JSON array
// [0, pubkey, created_at, kind, tags, content], hex encoded.
func (e *Event) ComputeID() string {
	payload, _ := json.Marshal([]any{0, e.PubKey, e.CreatedAt, e.Kind, e.Tags, e.Content})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Verify checks that the event id matches its content and that the
// signature is valid for the event's public key.
func (e *Event) Verify() error {
	if e.ComputeID() != e.ID {
		return errors.New("event id does not match content")
	}
	pub, err := hex.DecodeString(e.PubKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return errors.New("invalid pubkey")
	}
	raw, err := hex.DecodeString(e.ID)
	if err != nil {
		return errors.New("invalid event id")
	}
	sig, err := hex.DecodeString(e.Sig)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return errors.New("invalid signature encoding")
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), raw, sig) {
		return errors.New("signature verification failed")
	}
	return nil
}

// Tag returns the first value of the named tag, or "" when absent.
func (e *Event) Tag(name string) string {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}
