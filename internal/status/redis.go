package status

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"transcoder/internal/services"
)

// Each key is a hash holding "status" and "updated_at" (unix milliseconds).

// claimScript sets the status of KEYS[1] only when it has none and returns
// {claimed, status}.
var claimScript = redis.NewScript(`
if redis.call("HSETNX", KEYS[1], "status", ARGV[1]) == 1 then
  redis.call("HSET", KEYS[1], "updated_at", ARGV[2])
  return {1, ARGV[1]}
end
return {0, redis.call("HGET", KEYS[1], "status")}
`)

// replaceScript swaps the status of KEYS[1] from ARGV[1] to ARGV[2] only when
// it still holds ARGV[1].
var replaceScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "status") == ARGV[1] then
  redis.call("HSET", KEYS[1], "status", ARGV[2], "updated_at", ARGV[3])
  return 1
end
return 0
`)

// reclaimScript fails KEYS[1] when its status is ARGV[4] or ARGV[5] and it
// was last written at or before ARGV[1].
var reclaimScript = redis.NewScript(`
local st = redis.call("HGET", KEYS[1], "status")
if st ~= ARGV[4] and st ~= ARGV[5] then
  return 0
end
local at = tonumber(redis.call("HGET", KEYS[1], "updated_at") or "0") or 0
if at > tonumber(ARGV[1]) then
  return 0
end
redis.call("HSET", KEYS[1], "status", ARGV[3], "updated_at", ARGV[2])
return 1
`)

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr      string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
}

// Redis stores one hash per key so several daemons can share one dedup
// namespace.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// OpenRedis connects to Redis and verifies the connection with PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{addr},
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return NewRedis(client, cfg.KeyPrefix), nil
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(key string) string {
	return r.prefix + key
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func (r *Redis) Get(ctx context.Context, key string) (Status, error) {
	raw, err := r.client.HGet(ctx, r.key(key), "status").Result()
	if errors.Is(err, redis.Nil) {
		return "", services.Wrap(services.ErrNotFound, "status", "get", key, nil)
	}
	if err != nil {
		return "", services.Wrap(services.ErrStore, "status", "get", key, err)
	}
	status, err := ParseStatus(raw)
	if err != nil {
		return "", services.Wrap(services.ErrStore, "status", "get", key, err)
	}
	return status, nil
}

func (r *Redis) Set(ctx context.Context, key string, status Status) error {
	if err := r.client.HSet(ctx, r.key(key), "status", string(status), "updated_at", millis(time.Now())).Err(); err != nil {
		return services.Wrap(services.ErrStore, "status", "set", key, err)
	}
	return nil
}

func (r *Redis) Claim(ctx context.Context, key string, status Status) (Status, bool, error) {
	res, err := claimScript.Run(ctx, r.client, []string{r.key(key)}, string(status), millis(time.Now())).Slice()
	if err != nil {
		return "", false, services.Wrap(services.ErrStore, "status", "claim", key, err)
	}
	if len(res) != 2 {
		return "", false, services.Wrap(services.ErrStore, "status", "claim", key,
			fmt.Errorf("unexpected claim reply %v", res))
	}
	raw, _ := res[1].(string)
	existing, err := ParseStatus(raw)
	if err != nil {
		return "", false, services.Wrap(services.ErrStore, "status", "claim", key, err)
	}
	claimed, _ := res[0].(int64)
	return existing, claimed == 1, nil
}

func (r *Redis) Replace(ctx context.Context, key string, from, to Status) (bool, error) {
	n, err := replaceScript.Run(ctx, r.client, []string{r.key(key)}, string(from), string(to), millis(time.Now())).Int()
	if err != nil {
		return false, services.Wrap(services.ErrStore, "status", "replace", key, err)
	}
	return n == 1, nil
}

func (r *Redis) Reclaim(ctx context.Context, cutoff time.Time) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, escapeGlob(r.prefix)+"*", 200).Iterator()
	for iter.Next(ctx) {
		full := iter.Val()
		n, err := reclaimScript.Run(ctx, r.client, []string{full},
			millis(cutoff), millis(time.Now()), string(Failed), string(Queued), string(InProgress)).Int()
		if err != nil {
			return keys, services.Wrap(services.ErrStore, "status", "reclaim", full, err)
		}
		if n == 1 {
			keys = append(keys, strings.TrimPrefix(full, r.prefix))
		}
	}
	if err := iter.Err(); err != nil {
		return keys, services.Wrap(services.ErrStore, "status", "reclaim", "", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
