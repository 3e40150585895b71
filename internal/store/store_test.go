package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/crosstalkhq/crosstalk/internal/crosstalk"
)

// forEachStore runs fn against every backend as a subtest. The Redis
// backend only runs when CROSSTALK_TEST_REDIS points at a server; keys are
// namespaced with a throwaway prefix per subtest.
func forEachStore(t *testing.T, fn func(t *testing.T, s crosstalk.Store)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemory())
	})

	t.Run("snapshot", func(t *testing.T) {
		s, err := NewSnapshot(filepath.Join(t.TempDir(), "state.json"))
		if err != nil {
			t.Fatalf("NewSnapshot: %v", err)
		}
		fn(t, s)
	})

	t.Run("redis", func(t *testing.T) {
		addr := os.Getenv("CROSSTALK_TEST_REDIS")
		if addr == "" {
			t.Skip("CROSSTALK_TEST_REDIS not set")
		}
		s := NewRedis(addr, "crosstalktest:"+uuid.NewString())
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

func newTestTeam(t *testing.T) (crosstalk.Team, string) {
	t.Helper()
	key, err := crosstalk.NewAPIKey()
	if err != nil {
		t.Fatalf("NewAPIKey: %v", err)
	}
	return crosstalk.Team{
		ID:         crosstalk.NewTeamID(),
		APIKeyHash: crosstalk.HashAPIKey(key),
		CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}, key
}

func mustSaveAgent(t *testing.T, s crosstalk.Store, teamID, name string) crosstalk.Agent {
	t.Helper()
	agent := crosstalk.Agent{
		Name:        name,
		TeamID:      teamID,
		SessionID:   crosstalk.NewSessionID(),
		ConnectedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := s.SaveAgent(context.Background(), agent); err != nil {
		t.Fatalf("SaveAgent(%s): %v", name, err)
	}
	return agent
}

func TestTeamRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, s crosstalk.Store) {
		ctx := context.Background()
		team, key := newTestTeam(t)

		if err := s.CreateTeam(ctx, team); err != nil {
			t.Fatalf("CreateTeam: %v", err)
		}

		got, err := s.GetTeam(ctx, team.ID)
		if err != nil {
			t.Fatalf("GetTeam: %v", err)
		}
		if got == nil {
			t.Fatal("GetTeam returned nil for existing team")
		}
		if got.ID != team.ID || got.APIKeyHash != team.APIKeyHash {
			t.Fatalf("got team %+v, want %+v", got, team)
		}

		byHash, err := s.FindTeamByKeyHash(ctx, crosstalk.HashAPIKey(key))
		if err != nil {
			t.Fatalf("FindTeamByKeyHash: %v", err)
		}
		if byHash == nil || byHash.ID != team.ID {
			t.Fatalf("FindTeamByKeyHash = %+v, want team %s", byHash, team.ID)
		}
	})
}

func TestTeamLookupMiss(t *testing.T) {
	forEachStore(t, func(t *testing.T, s crosstalk.Store) {
		ctx := context.Background()

		got, err := s.GetTeam(ctx, "no-such-team")
		if err != nil {
			t.Fatalf("GetTeam: %v", err)
		}
		if got != nil {
			t.Fatalf("GetTeam on unknown ID = %+v, want nil", got)
		}

		byHash, err := s.FindTeamByKeyHash(ctx, crosstalk.HashAPIKey("wrong"))
		if err != nil {
			t.Fatalf("FindTeamByKeyHash: %v", err)
		}
		if byHash != nil {
			t.Fatalf("FindTeamByKeyHash on unknown hash = %+v, want nil", byHash)
		}
	})
}

func TestListTeams(t *testing.T) {
	forEachStore(t, func(t *testing.T, s crosstalk.Store) {
		ctx := context.Background()
		team1, _ := newTestTeam(t)
		team2, _ := newTestTeam(t)
		for _, team := range []crosstalk.Team{team1, team2} {
			if err := s.CreateTeam(ctx, team); err != nil {
				t.Fatalf("CreateTeam: %v", err)
			}
		}

		teams, err := s.ListTeams(ctx)
		if err != nil {
			t.Fatalf("ListTeams: %v", err)
		}
		found := map[string]bool{}
		for _, team := range teams {
			found[team.ID] = true
		}
		if !found[team1.ID] || !found[team2.ID] {
			t.Fatalf("ListTeams missing created teams: %v", found)
		}
	})
}

func TestAgentUpsertReplacesBuffer(t *testing.T) {
	forEachStore(t, func(t *testing.T, s crosstalk.Store) {
		ctx := context.Background()
		team, _ := newTestTeam(t)
		if err := s.CreateTeam(ctx, team); err != nil {
			t.Fatalf("CreateTeam: %v", err)
		}

		agent := mustSaveAgent(t, s, team.ID, "alice")
		if err := s.PushMessage(ctx, team.ID, "alice", crosstalk.NewMessage("bob", "alice", crosstalk.TypeTodo, "old"), 10); err != nil {
			t.Fatalf("PushMessage: %v", err)
		}

		// Upsert with an empty buffer replaces the whole record.
		fresh := agent
		fresh.SessionID = crosstalk.NewSessionID()
		fresh.Buffer = nil
		if err := s.SaveAgent(ctx, fresh); err != nil {
			t.Fatalf("SaveAgent: %v", err)
		}

		got, err := s.GetAgent(ctx, team.ID, "alice")
		if err != nil {
			t.Fatalf("GetAgent: %v", err)
		}
		if got == nil {
			t.Fatal("GetAgent returned nil after upsert")
		}
		if got.SessionID != fresh.SessionID {
			t.Fatalf("got session %q, want %q", got.SessionID, fresh.SessionID)
		}
		if len(got.Buffer) != 0 {
			t.Fatalf("upsert kept %d buffered messages, want 0", len(got.Buffer))
		}
	})
}

func TestAgentBufferSurvivesSaveRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, s crosstalk.Store) {
		ctx := context.Background()
		team, _ := newTestTeam(t)
		if err := s.CreateTeam(ctx, team); err != nil {
			t.Fatalf("CreateTeam: %v", err)
		}

		agent := crosstalk.Agent{
			Name:        "alice",
			TeamID:      team.ID,
			SessionID:   crosstalk.NewSessionID(),
			ConnectedAt: time.Now().UTC(),
			Buffer: []crosstalk.Message{
				crosstalk.NewMessage("bob", "alice", crosstalk.TypeDecision, "first"),
				crosstalk.NewMessage("bob", "alice", crosstalk.TypeQuestion, "second"),
			},
		}
		if err := s.SaveAgent(ctx, agent); err != nil {
			t.Fatalf("SaveAgent: %v", err)
		}

		got, err := s.GetAgent(ctx, team.ID, "alice")
		if err != nil {
			t.Fatalf("GetAgent: %v", err)
		}
		if got == nil {
			t.Fatal("GetAgent returned nil")
		}
		if len(got.Buffer) != 2 {
			t.Fatalf("got %d buffered messages, want 2", len(got.Buffer))
		}
		if got.Buffer[0].Content != "first" || got.Buffer[1].Content != "second" {
			t.Fatalf("buffer order lost: %q, %q", got.Buffer[0].Content, got.Buffer[1].Content)
		}
		if got.Buffer[0].Type != crosstalk.TypeDecision {
			t.Fatalf("got type %q, want %q", got.Buffer[0].Type, crosstalk.TypeDecision)
		}
	})
}

func TestListAgentsIsolatedByTeam(t *testing.T) {
	forEachStore(t, func(t *testing.T, s crosstalk.Store) {
		ctx := context.Background()
		team1, _ := newTestTeam(t)
		team2, _ := newTestTeam(t)
		for _, team := range []crosstalk.Team{team1, team2} {
			if err := s.CreateTeam(ctx, team); err != nil {
				t.Fatalf("CreateTeam: %v", err)
			}
		}
		mustSaveAgent(t, s, team1.ID, "alice")
		mustSaveAgent(t, s, team1.ID, "bob")
		mustSaveAgent(t, s, team2.ID, "carol")

		agents, err := s.ListAgents(ctx, team1.ID)
		if err != nil {
			t.Fatalf("ListAgents: %v", err)
		}
		if len(agents) != 2 {
			t.Fatalf("got %d agents, want 2", len(agents))
		}
		for _, a := range agents {
			if a.TeamID != team1.ID {
				t.Fatalf("agent %q leaked from team %q", a.Name, a.TeamID)
			}
			if a.Name == "carol" {
				t.Fatal("agent from another team leaked into listing")
			}
		}
	})
}

func TestRemoveAgentIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s crosstalk.Store) {
		ctx := context.Background()
		team, _ := newTestTeam(t)
		if err := s.CreateTeam(ctx, team); err != nil {
			t.Fatalf("CreateTeam: %v", err)
		}
		mustSaveAgent(t, s, team.ID, "alice")

		if err := s.RemoveAgent(ctx, team.ID, "alice"); err != nil {
			t.Fatalf("RemoveAgent: %v", err)
		}
		got, err := s.GetAgent(ctx, team.ID, "alice")
		if err != nil {
			t.Fatalf("GetAgent: %v", err)
		}
		if got != nil {
			t.Fatalf("agent still present after remove: %+v", got)
		}

		// Second remove is not an error.
		if err := s.RemoveAgent(ctx, team.ID, "alice"); err != nil {
			t.Fatalf("second RemoveAgent: %v", err)
		}
	})
}

func TestPushToAbsentAgentIsNoOp(t *testing.T) {
	forEachStore(t, func(t *testing.T, s crosstalk.Store) {
		ctx := context.Background()
		team, _ := newTestTeam(t)
		if err := s.CreateTeam(ctx, team); err != nil {
			t.Fatalf("CreateTeam: %v", err)
		}

		msg := crosstalk.NewMessage("bob", "ghost", crosstalk.TypeTodo, "hello?")
		if err := s.PushMessage(ctx, team.ID, "ghost", msg, 10); err != nil {
			t.Fatalf("PushMessage to absent agent: %v", err)
		}
		got, err := s.GetAgent(ctx, team.ID, "ghost")
		if err != nil {
			t.Fatalf("GetAgent: %v", err)
		}
		if got != nil {
			t.Fatalf("push created an agent record: %+v", got)
		}
	})
}

func TestBufferCapKeepsNewest(t *testing.T) {
	forEachStore(t, func(t *testing.T, s crosstalk.Store) {
		ctx := context.Background()
		team, _ := newTestTeam(t)
		if err := s.CreateTeam(ctx, team); err != nil {
			t.Fatalf("CreateTeam: %v", err)
		}
		mustSaveAgent(t, s, team.ID, "alice")

		for i := 1; i <= 5; i++ {
			msg := crosstalk.NewMessage("bob", "alice", crosstalk.TypeTodo, fmt.Sprintf("msg-%d", i))
			if err := s.PushMessage(ctx, team.ID, "alice", msg, 3); err != nil {
				t.Fatalf("PushMessage %d: %v", i, err)
			}
		}

		msgs, err := s.FlushMessages(ctx, team.ID, "alice")
		if err != nil {
			t.Fatalf("FlushMessages: %v", err)
		}
		if len(msgs) != 3 {
			t.Fatalf("got %d messages, want 3", len(msgs))
		}
		for i, want := range []string{"msg-3", "msg-4", "msg-5"} {
			if msgs[i].Content != want {
				t.Fatalf("msgs[%d].Content = %q, want %q", i, msgs[i].Content, want)
			}
		}
	})
}

func TestFlushIsAtomicAndIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s crosstalk.Store) {
		ctx := context.Background()
		team, _ := newTestTeam(t)
		if err := s.CreateTeam(ctx, team); err != nil {
			t.Fatalf("CreateTeam: %v", err)
		}
		mustSaveAgent(t, s, team.ID, "alice")

		for _, content := range []string{"one", "two"} {
			msg := crosstalk.NewMessage("bob", "alice", crosstalk.TypeFileChange, content)
			if err := s.PushMessage(ctx, team.ID, "alice", msg, 10); err != nil {
				t.Fatalf("PushMessage: %v", err)
			}
		}

		first, err := s.FlushMessages(ctx, team.ID, "alice")
		if err != nil {
			t.Fatalf("FlushMessages: %v", err)
		}
		if len(first) != 2 || first[0].Content != "one" || first[1].Content != "two" {
			t.Fatalf("first flush = %+v, want one,two in order", first)
		}

		second, err := s.FlushMessages(ctx, team.ID, "alice")
		if err != nil {
			t.Fatalf("second FlushMessages: %v", err)
		}
		if len(second) != 0 {
			t.Fatalf("second flush returned %d messages, want 0", len(second))
		}
	})
}
