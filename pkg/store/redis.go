package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/Mindburn-Labs/transmuter/pkg/contracts"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix keeps every key in one hash slot so batch scripts also
// run on Redis Cluster.
const DefaultRedisPrefix = "{transmuter}"

// redisApplyScript checks and writes a batch atomically.
// KEYS[1..n]    = record hash keys
// KEYS[n+1..2n] = kind index set keys
// ARGV[1]       = n
// ARGV per op (stride 7, from 2): expected revision, "put"|"del", member,
// body, transmuter, mutation, taker
var redisApplyScript = redis.NewScript(`
local n = tonumber(ARGV[1])

for i = 1, n do
    local base = 2 + (i - 1) * 7
    local expected = tonumber(ARGV[base])
    local current = tonumber(redis.call("HGET", KEYS[i], "revision") or "0")
    if current ~= expected then
        return {0, i}
    end
    if ARGV[base + 1] == "del" and current == 0 then
        return {0, i}
    end
end

for i = 1, n do
    local base = 2 + (i - 1) * 7
    local expected = tonumber(ARGV[base])
    local member = ARGV[base + 2]
    if ARGV[base + 1] == "del" then
        redis.call("DEL", KEYS[i])
        redis.call("SREM", KEYS[n + i], member)
    else
        redis.call("HSET", KEYS[i],
            "revision", expected + 1,
            "body", ARGV[base + 3],
            "transmuter", ARGV[base + 4],
            "mutation", ARGV[base + 5],
            "taker", ARGV[base + 6])
        redis.call("SADD", KEYS[n + i], member)
    end
end

return {1, 0}
`)

// RedisBackend implements Backend using Redis hashes, one per record, plus
// one index set per kind.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend creates a backend on addr.
func NewRedisBackend(addr, password string, db int) *RedisBackend {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisBackend{client: rdb, prefix: DefaultRedisPrefix}
}

// Init pings the server and verifies the stored schema version.
func (s *RedisBackend) Init(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	key := s.prefix + ":meta:schema_version"
	if err := s.client.SetNX(ctx, key, SchemaVersion, 0).Err(); err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}
	stored, err := s.client.Get(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	return checkSchema(stored)
}

func (s *RedisBackend) recordKey(kind Kind, key contracts.Address) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, kind, key)
}

func (s *RedisBackend) indexKey(kind Kind) string {
	return fmt.Sprintf("%s:%s:index", s.prefix, kind)
}

func (s *RedisBackend) Load(ctx context.Context, kind Kind, key contracts.Address) (Record, error) {
	fields, err := s.client.HGetAll(ctx, s.recordKey(kind, key)).Result()
	if err != nil {
		return Record{}, fmt.Errorf("load %s: %w", kind, err)
	}
	if len(fields) == 0 {
		return Record{}, ErrNotFound
	}
	return recordFromHash(kind, key, fields)
}

func (s *RedisBackend) Scan(ctx context.Context, kind Kind, f Filter) ([]Record, error) {
	members, err := s.client.SMembers(ctx, s.indexKey(kind)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(members)

	cmds := make([]*redis.MapStringStringCmd, len(members))
	_, err = s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, m := range members {
			cmds[i] = p.HGetAll(ctx, s.recordKey(kind, contracts.Address(m)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var out []Record
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		rec, err := recordFromHash(kind, contracts.Address(members[i]), fields)
		if err != nil {
			return nil, err
		}
		if f.Matches(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *RedisBackend) Apply(ctx context.Context, ops []Op) error {
	keys := make([]string, 0, 2*len(ops))
	for _, op := range ops {
		keys = append(keys, s.recordKey(op.Record.Kind, op.Record.Key))
	}
	args := []any{len(ops)}
	for _, op := range ops {
		keys = append(keys, s.indexKey(op.Record.Kind))
		action := "put"
		if op.Delete {
			action = "del"
		}
		r := op.Record
		args = append(args, r.Revision, action, string(r.Key), string(r.Body),
			string(r.Transmuter), string(r.Mutation), string(r.Taker))
	}

	res, err := redisApplyScript.Run(ctx, s.client, keys, args...).Result()
	if err != nil {
		return fmt.Errorf("redis apply: %w", err)
	}
	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return errors.New("invalid response from lua script")
	}
	if applied, _ := results[0].(int64); applied != 1 {
		return ErrConflict
	}
	return nil
}

func (s *RedisBackend) Close() error {
	return s.client.Close()
}

func recordFromHash(kind Kind, key contracts.Address, fields map[string]string) (Record, error) {
	rev, err := strconv.ParseUint(fields["revision"], 10, 64)
	if err != nil {
		return Record{}, contracts.Errorf(contracts.CodeSerializationIssue, "%s %s revision: %v", kind, key.Short(), err)
	}
	return Record{
		Kind:       kind,
		Key:        key,
		Transmuter: contracts.Address(fields["transmuter"]),
		Mutation:   contracts.Address(fields["mutation"]),
		Taker:      contracts.Address(fields["taker"]),
		Revision:   rev,
		Body:       []byte(fields["body"]),
	}, nil
}
