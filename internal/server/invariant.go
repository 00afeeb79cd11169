package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) AuditBillingAccounts(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	report, err := s.invariantSvc.AuditAccounts(c.Request.Context(), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (s *Server) AuditBillingAccount(c *gin.Context) {
	report, err := s.invariantSvc.AuditAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("billing_account_id", c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (s *Server) AuditOrganization(c *gin.Context) {
	report, err := s.orgSvc.AuditOrganization(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (s *Server) ReconcileAggregation(c *gin.Context) {
	result, err := s.invariantSvc.ReconcileAggregation(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
