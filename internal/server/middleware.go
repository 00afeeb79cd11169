package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/billingguard/internal/observability/context"
)

const (
	HeaderOrg       = "X-Org-ID"
	HeaderActorType = "X-Actor-Type"
	HeaderActorID   = "X-Actor-ID"

	defaultActorType = "system"
)

// RequestContext copies the caller's org and actor headers into the request
// context so service logs carry them.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if orgID := strings.TrimSpace(c.GetHeader(HeaderOrg)); orgID != "" {
			ctx = obscontext.WithOrgID(ctx, orgID)
		}
		if actorID := strings.TrimSpace(c.GetHeader(HeaderActorID)); actorID != "" {
			actorType := strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderActorType)))
			if actorType == "" {
				actorType = defaultActorType
			}
			ctx = obscontext.WithActor(ctx, actorType, actorID)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
