package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	alertdomain "github.com/smallbiznis/billingguard/internal/alert/domain"
)

type evaluateAlertsRequest struct {
	AlertID string `json:"alert_id"`
}

func (s *Server) ListAlerts(c *gin.Context) {
	enabled, err := parseOptionalBool(c.Query("enabled"))
	if err != nil {
		AbortWithError(c, newValidationError("enabled", "invalid_enabled", "invalid enabled"))
		return
	}

	alerts, err := s.alertSvc.List(c.Request.Context(), c.Query("workspace_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if enabled != nil {
		alerts = lo.Filter(alerts, func(a *alertdomain.UsageAlert, _ int) bool {
			return a.IsEnabled == *enabled
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": alerts})
}

func (s *Server) CreateAlert(c *gin.Context) {
	var req alertdomain.CreateAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	alert, err := s.alertSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": alert})
}

// EvaluateAlerts runs every enabled alert, or only the one named in the body.
func (s *Server) EvaluateAlerts(c *gin.Context) {
	var req evaluateAlertsRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	if id := strings.TrimSpace(req.AlertID); id != "" {
		s.evaluateOne(c, id)
		return
	}

	summary, err := s.alertSvc.EvaluateAllAlerts(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

func (s *Server) EvaluateAlert(c *gin.Context) {
	s.evaluateOne(c, c.Param("id"))
}

func (s *Server) evaluateOne(c *gin.Context, alertID string) {
	result, err := s.alertSvc.EvaluateAlert(c.Request.Context(), alertID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
