package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type cycleLockResponse struct {
	BillingAccountID  string     `json:"billing_account_id"`
	Locked            bool       `json:"locked"`
	LockedAt          *time.Time `json:"locked_at,omitempty"`
	BillingCycleStart time.Time  `json:"billing_cycle_start"`
	BillingCycleEnd   time.Time  `json:"billing_cycle_end"`
}

func (s *Server) GetCycleLock(c *gin.Context) {
	account, err := s.billingSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": cycleLockResponse{
		BillingAccountID:  account.ID,
		Locked:            account.IsBillingCycleLocked,
		LockedAt:          account.BillingCycleLockedAt,
		BillingCycleStart: account.BillingCycleStart,
		BillingCycleEnd:   account.BillingCycleEnd,
	}})
}

// LockCycle answers 200 for the winning attempt and 409 with the winner's
// timestamp when the cycle was already locked.
func (s *Server) LockCycle(c *gin.Context) {
	id := c.Param("id")
	c.Set("billing_account_id", id)

	result, err := s.cycleSvc.Lock(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if result.AlreadyLocked {
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"data": result})
}

func (s *Server) UnlockCycle(c *gin.Context) {
	id := c.Param("id")
	c.Set("billing_account_id", id)

	if err := s.cycleSvc.Unlock(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"billing_account_id": id, "locked": false}})
}

func (s *Server) AdvanceCycle(c *gin.Context) {
	id := c.Param("id")
	c.Set("billing_account_id", id)

	account, err := s.cycleSvc.AdvanceCycle(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}
