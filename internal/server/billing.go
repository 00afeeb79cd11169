package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/billingguard/internal/billingaccount/domain"
)

type transitionStatusRequest struct {
	Status string `json:"status"`
}

func bindLookup(c *gin.Context) (accountdomain.Lookup, error) {
	var lookup accountdomain.Lookup
	if err := c.ShouldBindQuery(&lookup); err != nil {
		return lookup, invalidRequestError()
	}
	lookup.UserID = strings.TrimSpace(lookup.UserID)
	lookup.OrganizationID = strings.TrimSpace(lookup.OrganizationID)
	lookup.WorkspaceID = strings.TrimSpace(lookup.WorkspaceID)
	if lookup.IsEmpty() {
		return lookup, newValidationError("lookup", "required", "one of user_id, organization_id or workspace_id is required")
	}
	return lookup, nil
}

func (s *Server) ResolveBillingAccount(c *gin.Context) {
	lookup, err := bindLookup(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	res := s.billingSvc.ResolveDetailed(c.Request.Context(), lookup)
	switch res.Outcome {
	case accountdomain.OutcomeFound:
		c.Set("billing_account_id", res.Account.ID)
		c.JSON(http.StatusOK, gin.H{"data": res.Account})
	case accountdomain.OutcomeUnavailable:
		AbortWithError(c, ErrServiceUnavailable)
	default:
		AbortWithError(c, &accountdomain.BillingError{Code: accountdomain.CodeBillingNotFound})
	}
}

func (s *Server) EnsureBillingAccount(c *gin.Context) {
	var req accountdomain.EnsureAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	account, err := s.billingSvc.EnsureAccount(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("billing_account_id", account.ID)
	c.JSON(http.StatusOK, gin.H{"data": account})
}

func (s *Server) GetBillingAccount(c *gin.Context) {
	account, err := s.billingSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}

func (s *Server) GetWarningState(c *gin.Context) {
	lookup, err := bindLookup(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": s.billingSvc.GetWarningState(c.Request.Context(), lookup)})
}

func (s *Server) TransitionBillingStatus(c *gin.Context) {
	var req transitionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	to := accountdomain.Status(strings.ToUpper(strings.TrimSpace(req.Status)))
	if !to.Valid() {
		AbortWithError(c, newValidationError("status", "invalid_billing_status", "status must be ACTIVE, DUE or SUSPENDED"))
		return
	}

	account, err := s.billingSvc.TransitionStatus(c.Request.Context(), c.Param("id"), to)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("billing_account_id", account.ID)
	c.JSON(http.StatusOK, gin.H{"data": account})
}
