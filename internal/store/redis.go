package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/crosstalkhq/crosstalk/internal/crosstalk"
)

// DefaultRedisPrefix namespaces every key so several deployments can share
// one Redis instance.
const DefaultRedisPrefix = "crosstalk"

// Redis is the shared key-value adapter. Teams are JSON strings with a
// credential-hash index key written alongside, agents live in one hash per
// team, and each buffer is a native list so the bounded append is a single
// pipelined RPUSH+LTRIM round trip.
//
// Keyspace (under the prefix):
//
//	team:<id>            team record JSON
//	teams                set of team IDs
//	keyhash:<hash>       credential hash → team ID
//	agents:<teamID>      hash of agent name → agent record JSON (no buffer)
//	buf:<teamID>:<name>  list of message JSON, oldest first
type Redis struct {
	rdb    *redis.Client
	prefix string
}

// NewRedis creates a Redis-backed store for the given address. The
// connection is established lazily on first use.
func NewRedis(addr, prefix string) *Redis {
	return WrapRedis(redis.NewClient(&redis.Options{Addr: addr}), prefix)
}

// WrapRedis builds a store around an existing client. The caller keeps
// ownership of client configuration; Close closes the client.
func WrapRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{rdb: client, prefix: prefix}
}

// Ping verifies the connection, for fail-fast startup checks.
func (s *Redis) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Redis) key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

func (s *Redis) CreateTeam(ctx context.Context, team crosstalk.Team) error {
	data, err := json.Marshal(team)
	if err != nil {
		return fmt.Errorf("encode team: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.key("team", team.ID), data, 0)
	pipe.Set(ctx, s.key("keyhash", team.APIKeyHash), team.ID, 0)
	pipe.SAdd(ctx, s.key("teams"), team.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create team: %w", err)
	}
	return nil
}

func (s *Redis) GetTeam(ctx context.Context, id string) (*crosstalk.Team, error) {
	data, err := s.rdb.Get(ctx, s.key("team", id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get team: %w", err)
	}

	var team crosstalk.Team
	if err := json.Unmarshal([]byte(data), &team); err != nil {
		return nil, fmt.Errorf("decode team %s: %w", id, err)
	}
	return &team, nil
}

func (s *Redis) FindTeamByKeyHash(ctx context.Context, hash string) (*crosstalk.Team, error) {
	id, err := s.rdb.Get(ctx, s.key("keyhash", hash)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("resolve key hash: %w", err)
	}
	return s.GetTeam(ctx, id)
}

func (s *Redis) ListTeams(ctx context.Context) ([]crosstalk.Team, error) {
	ids, err := s.rdb.SMembers(ctx, s.key("teams")).Result()
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key("team", id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}

	teams := make([]crosstalk.Team, 0, len(values))
	for _, v := range values {
		data, ok := v.(string)
		if !ok {
			continue
		}
		var team crosstalk.Team
		if err := json.Unmarshal([]byte(data), &team); err != nil {
			continue
		}
		teams = append(teams, team)
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i].ID < teams[j].ID })
	return teams, nil
}

func (s *Redis) SaveAgent(ctx context.Context, agent crosstalk.Agent) error {
	buffer := agent.Buffer
	agent.Buffer = nil
	meta, err := json.Marshal(agent)
	if err != nil {
		return fmt.Errorf("encode agent: %w", err)
	}

	bufKey := s.key("buf", agent.TeamID, agent.Name)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.key("agents", agent.TeamID), agent.Name, meta)
	pipe.Del(ctx, bufKey)
	for _, msg := range buffer {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		pipe.RPush(ctx, bufKey, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	return nil
}

func (s *Redis) GetAgent(ctx context.Context, teamID, name string) (*crosstalk.Agent, error) {
	pipe := s.rdb.Pipeline()
	metaCmd := pipe.HGet(ctx, s.key("agents", teamID), name)
	bufCmd := pipe.LRange(ctx, s.key("buf", teamID, name), 0, -1)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get agent: %w", err)
	}

	meta, err := metaCmd.Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}

	agent, err := decodeAgent(meta, bufCmd.Val())
	if err != nil {
		return nil, err
	}
	return agent, nil
}

func (s *Redis) ListAgents(ctx context.Context, teamID string) ([]crosstalk.Agent, error) {
	metas, err := s.rdb.HGetAll(ctx, s.key("agents", teamID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	if len(metas) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(metas))
	for name := range metas {
		names = append(names, name)
	}
	sort.Strings(names)

	pipe := s.rdb.Pipeline()
	bufCmds := make([]*redis.StringSliceCmd, len(names))
	for i, name := range names {
		bufCmds[i] = pipe.LRange(ctx, s.key("buf", teamID, name), 0, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("list agents: %w", err)
	}

	agents := make([]crosstalk.Agent, 0, len(names))
	for i, name := range names {
		agent, err := decodeAgent(metas[name], bufCmds[i].Val())
		if err != nil {
			return nil, err
		}
		agents = append(agents, *agent)
	}
	return agents, nil
}

func (s *Redis) RemoveAgent(ctx context.Context, teamID, name string) error {
	pipe := s.rdb.TxPipeline()
	pipe.HDel(ctx, s.key("agents", teamID), name)
	pipe.Del(ctx, s.key("buf", teamID, name))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove agent: %w", err)
	}
	return nil
}

func (s *Redis) PushMessage(ctx context.Context, teamID, name string, msg crosstalk.Message, maxBuffer int) error {
	exists, err := s.rdb.HExists(ctx, s.key("agents", teamID), name).Result()
	if err != nil {
		return fmt.Errorf("push message: %w", err)
	}
	if !exists {
		return nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	bufKey := s.key("buf", teamID, name)
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, bufKey, data)
	if maxBuffer > 0 {
		pipe.LTrim(ctx, bufKey, int64(-maxBuffer), -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push message: %w", err)
	}
	return nil
}

func (s *Redis) FlushMessages(ctx context.Context, teamID, name string) ([]crosstalk.Message, error) {
	bufKey := s.key("buf", teamID, name)
	pipe := s.rdb.TxPipeline()
	listCmd := pipe.LRange(ctx, bufKey, 0, -1)
	pipe.Del(ctx, bufKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("flush messages: %w", err)
	}

	items := listCmd.Val()
	if len(items) == 0 {
		return nil, nil
	}
	msgs := make([]crosstalk.Message, 0, len(items))
	for _, item := range items {
		var msg crosstalk.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("decode buffered message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (s *Redis) Close() error {
	return s.rdb.Close()
}

func decodeAgent(meta string, buffer []string) (*crosstalk.Agent, error) {
	var agent crosstalk.Agent
	if err := json.Unmarshal([]byte(meta), &agent); err != nil {
		return nil, fmt.Errorf("decode agent: %w", err)
	}
	for _, item := range buffer {
		var msg crosstalk.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("decode buffered message: %w", err)
		}
		agent.Buffer = append(agent.Buffer, msg)
	}
	return &agent, nil
}
