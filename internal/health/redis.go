package health

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"aigateway/internal/core"
)

// DefaultKeyPrefix prefixes every health hash key.
const DefaultKeyPrefix = "aigateway:health:"

// pairTTL expires hashes of pairs that stopped receiving traffic.
const pairTTL = 7 * 24 * time.Hour

// failureScript increments the streak and stamps the failure time.
// KEYS[1] = pair hash key
// ARGV[1] = now (unix milliseconds)
// ARGV[2] = ttl (milliseconds)
var failureScript = goredis.NewScript(`
local n = redis.call("HINCRBY", KEYS[1], "failures", 1)
redis.call("HSET", KEYS[1], "last_failure_ms", ARGV[1])
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return n
`)

// successScript resets a non-empty streak and starts a new epoch.
// KEYS[1] = pair hash key
var successScript = goredis.NewScript(`
local n = tonumber(redis.call("HGET", KEYS[1], "failures") or "0")
if n > 0 then
    redis.call("HSET", KEYS[1], "failures", "0")
    redis.call("HINCRBY", KEYS[1], "epoch", 1)
end
return n
`)

// claimScript marks the current epoch as alerted.
// KEYS[1] = pair hash key
// Returns 1 when the caller won the claim, 0 otherwise.
var claimScript = goredis.NewScript(`
local epoch = redis.call("HGET", KEYS[1], "epoch") or "0"
if redis.call("HGET", KEYS[1], "alerted") == epoch then
    return 0
end
redis.call("HSET", KEYS[1], "alerted", epoch)
return 1
`)

// releaseScript clears the claim when it belongs to the current epoch.
// KEYS[1] = pair hash key
var releaseScript = goredis.NewScript(`
local epoch = redis.call("HGET", KEYS[1], "epoch") or "0"
if redis.call("HGET", KEYS[1], "alerted") == epoch then
    redis.call("HDEL", KEYS[1], "alerted")
end
return 1
`)

// RedisTracker shares streaks between gateway instances. When Redis is unreachable it
// degrades to a process-local tracker so request handling keeps working.
type RedisTracker struct {
	client    goredis.Cmdable
	keyPrefix string
	fallback  *MemoryTracker
	now       func() time.Time
}

// NewRedisTracker wraps a connected client.
func NewRedisTracker(client goredis.Cmdable, keyPrefix string) *RedisTracker {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisTracker{
		client:    client,
		keyPrefix: keyPrefix,
		fallback:  NewMemoryTracker(),
		now:       time.Now,
	}
}

// Connect parses url, pings the server and returns the client.
func Connect(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("redis connected", "addr", opts.Addr)
	return client, nil
}

func (t *RedisTracker) key(p core.ProviderID, f core.Feature) string {
	return t.keyPrefix + string(p) + ":" + string(f)
}

func (t *RedisTracker) degrade(op string, p core.ProviderID, f core.Feature, err error) {
	slog.Warn("redis health tracker unavailable, using local state",
		"op", op,
		"provider", p,
		"feature", f,
		"error", err,
	)
}

func (t *RedisTracker) RecordSuccess(ctx context.Context, p core.ProviderID, f core.Feature) {
	t.fallback.RecordSuccess(ctx, p, f)
	if err := successScript.Run(ctx, t.client, []string{t.key(p, f)}).Err(); err != nil {
		t.degrade("record_success", p, f, err)
	}
}

func (t *RedisTracker) RecordFailure(ctx context.Context, p core.ProviderID, f core.Feature) int {
	local := t.fallback.RecordFailure(ctx, p, f)
	n, err := failureScript.Run(ctx, t.client,
		[]string{t.key(p, f)},
		t.now().UnixMilli(), pairTTL.Milliseconds(),
	).Int64()
	if err != nil {
		t.degrade("record_failure", p, f, err)
		return local
	}
	return int(n)
}

func (t *RedisTracker) State(ctx context.Context, p core.ProviderID, f core.Feature) State {
	vals, err := t.client.HMGet(ctx, t.key(p, f), "failures", "last_failure_ms").Result()
	if err != nil {
		t.degrade("state", p, f, err)
		return t.fallback.State(ctx, p, f)
	}

	st := State{Provider: p, Feature: f}
	if s, ok := vals[0].(string); ok {
		n, _ := strconv.Atoi(s)
		st.ConsecutiveFailures = n
	}
	if s, ok := vals[1].(string); ok {
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
			at := time.UnixMilli(ms).UTC()
			st.LastFailureAt = &at
		}
	}
	return st
}

// ClaimAlert falls back to the local debounce when Redis cannot answer, so an outage of
// Redis may produce one alert per instance but never none.
func (t *RedisTracker) ClaimAlert(ctx context.Context, p core.ProviderID, f core.Feature) bool {
	n, err := claimScript.Run(ctx, t.client, []string{t.key(p, f)}).Int64()
	if err != nil {
		t.degrade("claim_alert", p, f, err)
		return t.fallback.ClaimAlert(ctx, p, f)
	}
	return n == 1
}

func (t *RedisTracker) ReleaseAlert(ctx context.Context, p core.ProviderID, f core.Feature) {
	t.fallback.ReleaseAlert(ctx, p, f)
	if err := releaseScript.Run(ctx, t.client, []string{t.key(p, f)}).Err(); err != nil {
		t.degrade("release_alert", p, f, err)
	}
}

func (t *RedisTracker) Reset(ctx context.Context) {
	t.fallback.Reset(ctx)
	keys := make([]string, 0, len(core.Providers())*len(core.Features()))
	for _, p := range core.Providers() {
		for _, f := range core.Features() {
			keys = append(keys, t.key(p, f))
		}
	}
	if err := t.client.Del(ctx, keys...).Err(); err != nil {
		slog.Warn("failed to reset redis health state", "error", err)
	}
}
