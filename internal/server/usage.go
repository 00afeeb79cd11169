package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/billingguard/internal/billingaccount/domain"
	usagedomain "github.com/smallbiznis/billingguard/internal/usage/domain"
)

func (s *Server) RecordUsage(c *gin.Context) {
	var req usagedomain.RecordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.WorkspaceID = strings.TrimSpace(req.WorkspaceID)
	req.ResourceType = usagedomain.ResourceType(strings.ToUpper(strings.TrimSpace(string(req.ResourceType))))

	event, err := s.usageSvc.Record(c.Request.Context(), req)
	if err != nil {
		if be, ok := accountdomain.AsBillingError(err); ok && be.AccountID != "" {
			c.Set("billing_account_id", be.AccountID)
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": event})
}

func (s *Server) CanWriteUsage(c *gin.Context) {
	var lookup accountdomain.Lookup
	if err := c.ShouldBindJSON(&lookup); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if lookup.IsEmpty() {
		AbortWithError(c, newValidationError("lookup", "required", "one of user_id, organization_id or workspace_id is required"))
		return
	}

	decision, err := s.usageSvc.AssertCanWriteUsage(c.Request.Context(), lookup)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if decision.Account != nil {
		c.Set("billing_account_id", decision.Account.ID)
	}

	c.JSON(http.StatusOK, gin.H{"data": decision})
}

func (s *Server) ListUsageEvents(c *gin.Context) {
	workspaceID := strings.TrimSpace(c.Query("workspace_id"))
	entityID := strings.TrimSpace(c.Query("billing_entity_id"))
	if workspaceID == "" && entityID == "" {
		AbortWithError(c, newValidationError("workspace_id", "required", "workspace_id or billing_entity_id is required"))
		return
	}

	from, err := parseOptionalTime(c.Query("from"), false)
	if err != nil {
		AbortWithError(c, newValidationError("from", "invalid_time", "invalid from"))
		return
	}
	to, err := parseOptionalTime(c.Query("to"), true)
	if err != nil {
		AbortWithError(c, newValidationError("to", "invalid_time", "invalid to"))
		return
	}
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	req := usagedomain.ListEventsRequest{
		WorkspaceID:     workspaceID,
		BillingEntityID: entityID,
		ResourceType:    usagedomain.ResourceType(strings.ToUpper(strings.TrimSpace(c.Query("resource_type")))),
		Limit:           limit,
	}
	if from != nil {
		req.From = *from
	}
	if to != nil {
		req.To = *to
	}

	events, err := s.usageSvc.ListEvents(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": events})
}

func (s *Server) GetUsageAggregation(c *gin.Context) {
	agg, err := s.usageSvc.GetAggregation(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": agg})
}
