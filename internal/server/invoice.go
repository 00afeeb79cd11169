package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	invoicedomain "github.com/smallbiznis/billingguard/internal/invoice/domain"
)

func (s *Server) ListAccountInvoices(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	status := invoicedomain.InvoiceStatus(strings.ToUpper(strings.TrimSpace(c.Query("status"))))
	items, err := s.invoiceSvc.ListByAccount(c.Request.Context(), invoicedomain.ListInvoiceRequest{
		BillingAccountID: c.Param("id"),
		Status:           status,
		Limit:            limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) GetInvoice(c *gin.Context) {
	item, err := s.invoiceSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) IssueInvoice(c *gin.Context) {
	item, err := s.invoiceSvc.Issue(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

// PayInvoice is refused while the invoice's usage snapshot is still mutable.
func (s *Server) PayInvoice(c *gin.Context) {
	item, err := s.invoiceSvc.MarkPaid(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("billing_account_id", item.BillingAccountID)
	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) VoidInvoice(c *gin.Context) {
	item, err := s.invoiceSvc.Void(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}
