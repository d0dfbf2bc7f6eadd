package httpapi

import (
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agenthub/aicp/internal/apierrors"
	"github.com/google/uuid"
)

type setQuotaRequest struct {
	Resource      string `json:"resource" binding:"required"`
	MaxValue      int    `json:"max_value" binding:"required"`
	PeriodSeconds int    `json:"period_seconds" binding:"required"`
}

// SetQuota handles PUT /v1/quotas/:agent_id.
func (d *Deps) SetQuota(c *gin.Context) {
	var req setQuotaRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := d.Quota.SetQuota(c.Request.Context(), c.Param("agent_id"), req.Resource, req.MaxValue, req.PeriodSeconds); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type checkQuotaRequest struct {
	Resource string `json:"resource" binding:"required"`
	Amount   int    `json:"amount" binding:"required"`
}

// CheckQuota handles POST /v1/quotas/:agent_id/check.
func (d *Deps) CheckQuota(c *gin.Context) {
	var req checkQuotaRequest
	if !bindJSON(c, &req) {
		return
	}
	allowed, err := d.Quota.Check(c.Request.Context(), c.Param("agent_id"), req.Resource, req.Amount)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"allowed": allowed})
}

type addIPRuleRequest struct {
	Action string `json:"action" binding:"required"`
	CIDR   string `json:"cidr" binding:"required"`
}

// AddIPRule handles POST /v1/quotas/:agent_id/ip-rules.
func (d *Deps) AddIPRule(c *gin.Context) {
	var req addIPRuleRequest
	if !bindJSON(c, &req) {
		return
	}
	ruleID := "ipr-" + uuid.NewString()
	if err := d.Quota.AddIPRule(c.Request.Context(), ruleID, c.Param("agent_id"), req.Action, req.CIDR); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"rule_id": ruleID})
}

// CheckIP handles GET /v1/quotas/:agent_id/ip-check?ip=....
func (d *Deps) CheckIP(c *gin.Context) {
	ip := net.ParseIP(c.Query("ip"))
	if ip == nil {
		respondErr(c, apierrors.New(apierrors.InvalidArgument, "ip query parameter required and must be a valid IP"))
		return
	}
	allowed, err := d.Quota.CheckIP(c.Request.Context(), c.Param("agent_id"), ip)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"allowed": allowed})
}

type issueNarrowedTokenRequest struct {
	ParentScopes     []string `json:"parent_scopes" binding:"required"`
	RequestedScopes  []string `json:"requested_scopes" binding:"required"`
	TTLSeconds       int      `json:"ttl_seconds" binding:"required"`
}

// IssueNarrowedToken handles POST /v1/quotas/:agent_id/narrowed-tokens.
func (d *Deps) IssueNarrowedToken(c *gin.Context) {
	var req issueNarrowedTokenRequest
	if !bindJSON(c, &req) {
		return
	}
	tokenID, err := d.Quota.IssueNarrowedToken(c.Request.Context(), c.Param("agent_id"),
		req.ParentScopes, req.RequestedScopes, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token_id": tokenID})
}

// ValidateNarrowedToken handles GET /v1/narrowed-tokens/:token_id.
func (d *Deps) ValidateNarrowedToken(c *gin.Context) {
	result, err := d.Quota.ValidateNarrowedToken(c.Request.Context(), c.Param("token_id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// IssueJITCredential handles POST /v1/sandboxes/:sandbox_id/jit-credentials.
func (d *Deps) IssueJITCredential(c *gin.Context) {
	auth := authState(c)
	credentialID, err := d.Quota.IssueJITCredential(c.Request.Context(), c.Param("sandbox_id"), auth.Owner)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"credential_id": credentialID})
}

// RevokeSandboxCredentials handles POST /v1/sandboxes/:sandbox_id/revoke.
func (d *Deps) RevokeSandboxCredentials(c *gin.Context) {
	count, err := d.Quota.RevokeJITCredentialsForSandbox(c.Request.Context(), c.Param("sandbox_id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked_count": count})
}
