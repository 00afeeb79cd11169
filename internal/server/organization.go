package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type changeMemberRoleRequest struct {
	Role string `json:"role"`
}

func (s *Server) ListOrganizationMembers(c *gin.Context) {
	members, err := s.orgSvc.ListMembers(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": members})
}

func (s *Server) ChangeOrganizationMemberRole(c *gin.Context) {
	var req changeMemberRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	member, err := s.orgSvc.ChangeRole(c.Request.Context(), c.Param("id"), c.Param("memberId"), req.Role)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": member})
}

// RemoveOrganizationMember refuses to remove the last owner.
func (s *Server) RemoveOrganizationMember(c *gin.Context) {
	if err := s.orgSvc.RemoveMember(c.Request.Context(), c.Param("id"), c.Param("memberId")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
