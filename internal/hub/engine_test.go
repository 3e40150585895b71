package hub

import (
	"context"
	"errors"
	"testing"

	"github.com/crosstalkhq/crosstalk/internal/crosstalk"
	"github.com/crosstalkhq/crosstalk/internal/store"
)

func newTestEngine(t *testing.T, maxBuffer, maxAgents int) *Engine {
	t.Helper()
	return NewEngine(store.NewMemory(), maxBuffer, maxAgents)
}

func mustCreateTeam(t *testing.T, e *Engine) (*crosstalk.Team, string) {
	t.Helper()
	team, key, err := e.CreateTeam(context.Background())
	if err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	return team, key
}

func mustJoin(t *testing.T, e *Engine, teamID, name string) *crosstalk.Agent {
	t.Helper()
	agent, _, err := e.Join(context.Background(), teamID, name)
	if err != nil {
		t.Fatalf("Join(%s): %v", name, err)
	}
	return agent
}

func TestAuthenticate(t *testing.T) {
	e := newTestEngine(t, 0, 0)
	team, key := mustCreateTeam(t, e)

	got, err := e.Authenticate(context.Background(), key)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got == nil || got.ID != team.ID {
		t.Fatalf("Authenticate = %+v, want team %s", got, team.ID)
	}

	wrong, err := e.Authenticate(context.Background(), "ct_wrong")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if wrong != nil {
		t.Fatalf("Authenticate accepted a bogus key: %+v", wrong)
	}
}

func TestSendDirect(t *testing.T) {
	e := newTestEngine(t, 0, 0)
	team, _ := mustCreateTeam(t, e)
	mustJoin(t, e, team.ID, "alice")
	mustJoin(t, e, team.ID, "bob")

	res, err := e.Send(context.Background(), team.ID, "alice", "bob", crosstalk.TypeDecision, "use sqlite")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.DeliveredTo != 1 {
		t.Fatalf("DeliveredTo = %d, want 1", res.DeliveredTo)
	}
	if res.Message.From != "alice" || res.Message.To != "bob" {
		t.Fatalf("message addressing wrong: %+v", res.Message)
	}

	bob, _ := e.store.GetAgent(context.Background(), team.ID, "bob")
	if len(bob.Buffer) != 1 || bob.Buffer[0].Content != "use sqlite" {
		t.Fatalf("bob's buffer = %+v, want the sent message", bob.Buffer)
	}
	alice, _ := e.store.GetAgent(context.Background(), team.ID, "alice")
	if len(alice.Buffer) != 0 {
		t.Fatalf("sender's buffer = %+v, want empty", alice.Buffer)
	}
}

func TestSendToUnknownAgentDeliversToNobody(t *testing.T) {
	e := newTestEngine(t, 0, 0)
	team, _ := mustCreateTeam(t, e)
	mustJoin(t, e, team.ID, "alice")

	res, err := e.Send(context.Background(), team.ID, "alice", "ghost", crosstalk.TypeQuestion, "anyone?")
	if err != nil {
		t.Fatalf("Send to unknown agent: %v", err)
	}
	if res.DeliveredTo != 0 {
		t.Fatalf("DeliveredTo = %d, want 0", res.DeliveredTo)
	}
	if res.Message.ID == "" {
		t.Fatal("send still mints a message record")
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	e := newTestEngine(t, 0, 0)
	team, _ := mustCreateTeam(t, e)
	for _, name := range []string{"alice", "bob", "carol"} {
		mustJoin(t, e, team.ID, name)
	}

	res, err := e.Send(context.Background(), team.ID, "alice", crosstalk.Broadcast, crosstalk.TypeAPISpec, "v2 endpoints")
	if err != nil {
		t.Fatalf("Send broadcast: %v", err)
	}
	if res.DeliveredTo != 2 {
		t.Fatalf("DeliveredTo = %d, want 2 (everyone but the sender)", res.DeliveredTo)
	}

	for _, name := range []string{"bob", "carol"} {
		msgs, err := e.store.FlushMessages(context.Background(), team.ID, name)
		if err != nil {
			t.Fatalf("FlushMessages(%s): %v", name, err)
		}
		if len(msgs) != 1 || msgs[0].ID != res.Message.ID {
			t.Fatalf("%s received %+v, want the broadcast", name, msgs)
		}
	}
	aliceMsgs, _ := e.store.FlushMessages(context.Background(), team.ID, "alice")
	if len(aliceMsgs) != 0 {
		t.Fatalf("broadcast reached its sender: %+v", aliceMsgs)
	}
}

func TestSendToSelf(t *testing.T) {
	e := newTestEngine(t, 0, 0)
	team, _ := mustCreateTeam(t, e)
	mustJoin(t, e, team.ID, "alice")

	res, err := e.Send(context.Background(), team.ID, "alice", "alice", crosstalk.TypeTodo, "note to self")
	if err != nil {
		t.Fatalf("Send to self: %v", err)
	}
	if res.DeliveredTo != 1 {
		t.Fatalf("DeliveredTo = %d, want 1", res.DeliveredTo)
	}
	msgs, _ := e.store.FlushMessages(context.Background(), team.ID, "alice")
	if len(msgs) != 1 || msgs[0].Content != "note to self" {
		t.Fatalf("self-send lost: %+v", msgs)
	}
}

func TestSendUnknownTeam(t *testing.T) {
	e := newTestEngine(t, 0, 0)
	_, err := e.Send(context.Background(), "no-such-team", "alice", "bob", crosstalk.TypeTodo, "x")
	if !errors.Is(err, ErrTeamNotFound) {
		t.Fatalf("Send to unknown team: err = %v, want ErrTeamNotFound", err)
	}
}

func TestSendPushesToLiveStream(t *testing.T) {
	e := newTestEngine(t, 0, 0)
	team, _ := mustCreateTeam(t, e)
	mustJoin(t, e, team.ID, "bob")

	ch, unsub := e.Live().Subscribe(team.ID, "bob")
	defer unsub()

	res, err := e.Send(context.Background(), team.ID, "alice", "bob", crosstalk.TypeFileChange, "touched main.go")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-ch:
		if got.ID != res.Message.ID {
			t.Fatalf("live push delivered %q, want %q", got.ID, res.Message.ID)
		}
	default:
		t.Fatal("no live push for subscribed agent")
	}
}

func TestJoinPreservesBacklogAcrossReconnect(t *testing.T) {
	e := newTestEngine(t, 0, 0)
	team, _ := mustCreateTeam(t, e)
	mustJoin(t, e, team.ID, "alice")

	if _, err := e.Send(context.Background(), team.ID, "bob", "alice", crosstalk.TypeDecision, "offline delivery"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// Rejoin returns the backlog and clears it.
	_, backlog, err := e.Join(context.Background(), team.ID, "alice")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if len(backlog) != 1 || backlog[0].Content != "offline delivery" {
		t.Fatalf("backlog = %+v, want the buffered message", backlog)
	}

	_, backlog, err = e.Join(context.Background(), team.ID, "alice")
	if err != nil {
		t.Fatalf("third join: %v", err)
	}
	if len(backlog) != 0 {
		t.Fatalf("backlog delivered twice: %+v", backlog)
	}
}

func TestJoinRefusesFullTeam(t *testing.T) {
	e := newTestEngine(t, 0, 2)
	team, _ := mustCreateTeam(t, e)
	mustJoin(t, e, team.ID, "alice")
	mustJoin(t, e, team.ID, "bob")

	if _, _, err := e.Join(context.Background(), team.ID, "carol"); !errors.Is(err, ErrTeamFull) {
		t.Fatalf("third agent: err = %v, want ErrTeamFull", err)
	}

	// A member reconnecting is not a new admission.
	if _, _, err := e.Join(context.Background(), team.ID, "alice"); err != nil {
		t.Fatalf("rejoin while full: %v", err)
	}
}

func TestLeaveIsSessionGuarded(t *testing.T) {
	e := newTestEngine(t, 0, 0)
	team, _ := mustCreateTeam(t, e)

	first := mustJoin(t, e, team.ID, "alice")
	second := mustJoin(t, e, team.ID, "alice")

	// The stale session's leave must not evict the live one.
	if err := e.Leave(context.Background(), team.ID, "alice", first.SessionID); err != nil {
		t.Fatalf("Leave(stale): %v", err)
	}
	got, _ := e.store.GetAgent(context.Background(), team.ID, "alice")
	if got == nil || got.SessionID != second.SessionID {
		t.Fatalf("stale leave removed the live record: %+v", got)
	}

	if err := e.Leave(context.Background(), team.ID, "alice", second.SessionID); err != nil {
		t.Fatalf("Leave(current): %v", err)
	}
	got, _ = e.store.GetAgent(context.Background(), team.ID, "alice")
	if got != nil {
		t.Fatalf("agent still present after leave: %+v", got)
	}
}

func TestBufferCapAppliesOnSend(t *testing.T) {
	e := newTestEngine(t, 3, 0)
	team, _ := mustCreateTeam(t, e)
	mustJoin(t, e, team.ID, "alice")

	contents := []string{"one", "two", "three", "four", "five"}
	for _, c := range contents {
		if _, err := e.Send(context.Background(), team.ID, "bob", "alice", crosstalk.TypeTodo, c); err != nil {
			t.Fatalf("Send(%s): %v", c, err)
		}
	}

	msgs, err := e.store.FlushMessages(context.Background(), team.ID, "alice")
	if err != nil {
		t.Fatalf("FlushMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d buffered messages, want 3", len(msgs))
	}
	for i, want := range []string{"three", "four", "five"} {
		if msgs[i].Content != want {
			t.Fatalf("msgs[%d].Content = %q, want %q", i, msgs[i].Content, want)
		}
	}
}
