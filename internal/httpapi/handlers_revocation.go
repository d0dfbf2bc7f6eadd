package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type revokeAgentRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// RevokeAgent handles POST /v1/agents/:agent_id/revoke.
func (d *Deps) RevokeAgent(c *gin.Context) {
	var req revokeAgentRequest
	if !bindJSON(c, &req) {
		return
	}
	auth := authState(c)

	result, err := d.Revocation.RevokeAgent(c.Request.Context(), c.Param("agent_id"), auth.Owner, req.Reason)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type bulkRevokeRequest struct {
	AgentIDs []string `json:"agent_ids" binding:"required"`
	Reason   string   `json:"reason" binding:"required"`
}

// BulkRevokeAgents handles POST /v1/admin/agents/bulk-revoke.
func (d *Deps) BulkRevokeAgents(c *gin.Context) {
	var req bulkRevokeRequest
	if !bindJSON(c, &req) {
		return
	}
	auth := authState(c)

	results := d.Revocation.BulkRevoke(c.Request.Context(), req.AgentIDs, auth.Owner, req.Reason)

	out := make([]gin.H, 0, len(results))
	for _, r := range results {
		entry := gin.H{"agent_id": r.AgentID}
		if r.Err != nil {
			entry["error"] = r.Err.Error()
		} else {
			entry["result"] = r.Result
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"results": out})
}
