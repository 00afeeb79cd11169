package ratelimit

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var (
	ErrNotConfigured = errors.New("rate_limiter_not_configured")
	ErrEmptyKey      = errors.New("rate_limiter_empty_key")
	ErrInvalidBucket = errors.New("rate_limiter_invalid_bucket")
	ErrInvalidReply  = errors.New("rate_limiter_invalid_reply")
)

// KEYS[1] bucket hash
// ARGV rate (tokens/s), burst, cost, ttl (ms)
// Returns {allowed, tokens_left, now_ms}. Redis TIME is the only clock so
// every API replica refills the same bucket consistently.
const takeTokensScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local t = redis.call("TIME")
local now = (t[1] * 1000) + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local last = tonumber(state[2]) or now

local elapsed = math.max(0, now - last)
tokens = math.min(burst, tokens + (elapsed / 1000) * rate)

local allowed = 0
if tokens >= cost then
  allowed = 1
  tokens = tokens - cost
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, tostring(tokens), now}
`

// Bucket is the refill rate and capacity of one throttled key.
type Bucket struct {
	Rate  float64
	Burst int
}

func (b Bucket) validate() error {
	if b.Rate <= 0 || b.Burst <= 0 {
		return ErrInvalidBucket
	}
	return nil
}

// ttl keeps an idle bucket around for twice the time it needs to refill.
func (b Bucket) ttl() time.Duration {
	seconds := math.Ceil(float64(b.Burst) / b.Rate * 2)
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}

type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// TokenBucket is a Redis-backed token bucket shared by every API replica.
type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(takeTokensScript),
	}
}

// Take removes cost tokens from the bucket stored at key. A denied take
// leaves the bucket untouched apart from its refill.
func (t *TokenBucket) Take(ctx context.Context, key string, bucket Bucket, cost int) (*RateLimitResult, error) {
	if t == nil || t.client == nil {
		return nil, ErrNotConfigured
	}
	if key == "" {
		return nil, ErrEmptyKey
	}
	if err := bucket.validate(); err != nil {
		return nil, err
	}
	if cost < 1 {
		cost = 1
	}

	reply, err := t.script.Run(ctx, t.client, []string{key},
		bucket.Rate,
		bucket.Burst,
		cost,
		bucket.ttl().Milliseconds(),
	).Slice()
	if err != nil {
		return nil, err
	}
	allowed, tokens, nowMs, err := decodeTakeReply(reply)
	if err != nil {
		return nil, err
	}

	var retryAfter time.Duration
	if !allowed {
		missing := float64(cost) - tokens
		retryAfter = time.Duration(missing / bucket.Rate * float64(time.Second))
	}

	return &RateLimitResult{
		Allowed:    allowed,
		Limit:      bucket.Burst,
		Remaining:  int(math.Floor(tokens)),
		ResetTime:  time.UnixMilli(nowMs).Add(retryAfter),
		RetryAfter: retryAfter,
	}, nil
}

// The token count comes back as a string; Lua numbers would be truncated
// to integers by the reply conversion.
func decodeTakeReply(reply []interface{}) (bool, float64, int64, error) {
	if len(reply) != 3 {
		return false, 0, 0, ErrInvalidReply
	}
	allowed, ok := reply[0].(int64)
	if !ok {
		return false, 0, 0, ErrInvalidReply
	}
	var tokens float64
	switch v := reply[1].(type) {
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return false, 0, 0, ErrInvalidReply
		}
		tokens = f
	case int64:
		tokens = float64(v)
	default:
		return false, 0, 0, ErrInvalidReply
	}
	nowMs, ok := reply[2].(int64)
	if !ok {
		return false, 0, 0, ErrInvalidReply
	}
	return allowed == 1, tokens, nowMs, nil
}
