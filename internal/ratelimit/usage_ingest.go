package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/billingguard/internal/config"
	"go.uber.org/fx"
)

const keyUsageIngestWorkspace = "billingguard:usage:ingest:%s"

// UsageIngestLimiter throttles usage writes per workspace. A nil limiter
// allows everything.
type UsageIngestLimiter struct {
	tokens *TokenBucket
	bucket Bucket
}

type Params struct {
	fx.In

	Config config.Config
	Client *redis.Client `optional:"true"`
}

func NewUsageIngestLimiter(p Params) (*UsageIngestLimiter, error) {
	cfg := p.Config.RateLimit
	if !cfg.Enabled {
		return nil, nil
	}
	if p.Client == nil {
		return nil, errors.New("usage ingest rate limit requires REDIS_ADDR")
	}
	bucket := Bucket{Rate: cfg.UsageIngestRate, Burst: cfg.UsageIngestBurst}
	if err := bucket.validate(); err != nil {
		return nil, fmt.Errorf("usage ingest rate limit: %w", err)
	}
	return &UsageIngestLimiter{
		tokens: NewTokenBucket(p.Client),
		bucket: bucket,
	}, nil
}

func (l *UsageIngestLimiter) Enabled() bool {
	return l != nil && l.tokens != nil
}

func (l *UsageIngestLimiter) AllowWorkspace(ctx context.Context, workspaceID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return nil, ErrEmptyKey
	}
	return l.tokens.Take(ctx, fmt.Sprintf(keyUsageIngestWorkspace, workspaceID), l.bucket, 1)
}
