package server

import (
	"bytes"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/billingguard/internal/observability/logger"
	"github.com/smallbiznis/billingguard/internal/ratelimit"
	"go.uber.org/zap"
)

const rateLimitReasonWorkspaceRate = "workspace-rate"

type usageIngestRateLimitKey struct {
	WorkspaceID  string `json:"workspace_id"`
	ResourceType string `json:"resource_type"`
}

// UsageIngestRateLimit applies the per-workspace token bucket before a usage
// write reaches the billing guards. Bodies without a workspace pass through
// and fail validation in the handler.
func (s *Server) UsageIngestRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.usageLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key, err := readUsageIngestKey(c)
		if err != nil {
			logger.FromContext(ctx).Warn("usage ingest rate limit read body failed", zap.Error(err))
			AbortWithError(c, invalidRequestError())
			return
		}
		if key.WorkspaceID == "" {
			c.Next()
			return
		}

		result, err := s.usageLimiter.AllowWorkspace(ctx, key.WorkspaceID)
		if err != nil {
			logger.FromContext(ctx).Warn("usage ingest workspace rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		setRateLimitHeaders(c, result)
		if !result.Allowed {
			denyUsageIngestRateLimit(c, key, result)
			return
		}

		c.Next()
	}
}

func denyUsageIngestRateLimit(c *gin.Context, key usageIngestRateLimitKey, result *ratelimit.RateLimitResult) {
	logger.FromContext(c.Request.Context()).Warn("usage ingest rate limit exceeded",
		zap.String("reason", rateLimitReasonWorkspaceRate),
		zap.String("workspace_id", key.WorkspaceID),
		zap.String("resource_type", key.ResourceType),
	)

	retryAfter := int(result.RetryAfter.Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.Header("X-Rate-Limited-Reason", rateLimitReasonWorkspaceRate)
	AbortWithError(c, ErrRateLimited)
}

func setRateLimitHeaders(c *gin.Context, result *ratelimit.RateLimitResult) {
	if result == nil || result.Limit == 0 {
		return
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
}

func readUsageIngestKey(c *gin.Context) (usageIngestRateLimitKey, error) {
	var payload usageIngestRateLimitKey
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return payload, err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return payload, nil
	}

	if err := json.Unmarshal(body, &payload); err != nil {
		return usageIngestRateLimitKey{}, nil
	}
	payload.WorkspaceID = strings.TrimSpace(payload.WorkspaceID)
	payload.ResourceType = strings.ToUpper(strings.TrimSpace(payload.ResourceType))
	return payload, nil
}
