package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"expertgate/internal/models"
)

func (s *Server) SubmitSharingApproval(c *gin.Context) {
	var req models.SharingApprovalRequest
	if !bindJSON(c, &req) {
		return
	}

	a, err := s.approvals.Submit(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (s *Server) ListSharingApprovals(c *gin.Context) {
	approvals, err := s.approvals.List(c.Request.Context(), actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"approvals": approvals})
}

func (s *Server) GetSharingApproval(c *gin.Context) {
	a, err := s.approvals.Get(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) ReviewSharingApproval(c *gin.Context) {
	var req models.ReviewRequest
	if !bindJSON(c, &req) {
		return
	}

	a, err := s.approvals.Review(c.Request.Context(), actorFrom(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) CheckApproval(c *gin.Context) {
	d, err := s.gate.Check(c.Request.Context(), c.Param("agentId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) ShareAgent(c *gin.Context) {
	var req models.ShareRequest
	if !bindJSON(c, &req) {
		return
	}

	share, err := s.sharing.Share(c.Request.Context(), actorFrom(c), c.Param("agentId"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, share)
}

func (s *Server) ListShares(c *gin.Context) {
	shares, err := s.sharing.ListShares(c.Request.Context(), actorFrom(c), c.Param("agentId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shares": shares})
}

// GetAccess reports the caller's effective access level on an agent
func (s *Server) GetAccess(c *gin.Context) {
	actor := actorFrom(c)
	agentID := c.Param("agentId")

	level, err := s.sharing.AccessFor(c.Request.Context(), actor.ID, agentID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agentId": agentID, "userId": actor.ID, "accessLevel": level})
}

func (s *Server) RevokeShare(c *gin.Context) {
	if err := s.sharing.Revoke(c.Request.Context(), actorFrom(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Share revoked"})
}
