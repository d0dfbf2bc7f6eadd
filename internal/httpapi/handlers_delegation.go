package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agenthub/aicp/internal/apierrors"
	"github.com/agenthub/aicp/internal/delegation"
)

type executeDelegationRequest struct {
	RequesterAgentID string   `json:"requester_agent_id" binding:"required"`
	DelegateAgentID  string   `json:"delegate_agent_id" binding:"required"`
	EstimatedCost    float64  `json:"estimated_cost" binding:"required"`
	MaxBudget        float64  `json:"max_budget" binding:"required"`
	SimulatedActual  *float64 `json:"simulated_actual"`
	AutoReauthorize  bool     `json:"auto_reauthorize"`
	DelegationToken  string   `json:"delegation_token"`
}

// ExecuteDelegation handles POST /v1/delegations.
func (d *Deps) ExecuteDelegation(c *gin.Context) {
	var req executeDelegationRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := d.Delegation.Execute(c.Request.Context(), delegation.Request{
		RequesterAgentID: req.RequesterAgentID,
		DelegateAgentID:  req.DelegateAgentID,
		EstimatedCost:    req.EstimatedCost,
		MaxBudget:        req.MaxBudget,
		SimulatedActual:  req.SimulatedActual,
		AutoReauthorize:  req.AutoReauthorize,
		DelegationToken:  req.DelegationToken,
	})
	if err != nil {
		var breakerErr *delegation.BreakerOpenError
		if errors.As(err, &breakerErr) {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"detail": gin.H{"code": apierrors.BreakerOpen, "message": breakerErr.Error()},
				"metrics": breakerErr.Metrics,
			})
			return
		}
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListRecentDelegations handles GET /v1/delegations/recent.
func (d *Deps) ListRecentDelegations(c *gin.Context) {
	records, err := d.DelegationRecords.Recent(c.Request.Context(), 50)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"delegations": records})
}
