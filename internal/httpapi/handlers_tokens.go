package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agenthub/aicp/internal/delegationtoken"
)

type issueDelegationTokenRequest struct {
	IssuerAgentID   string   `json:"issuer_agent_id" binding:"required"`
	SubjectAgentID  string   `json:"subject_agent_id" binding:"required"`
	Scopes          []string `json:"scopes" binding:"required"`
	TTLSeconds      int      `json:"ttl_seconds" binding:"required"`
	ParentTokenID   *string  `json:"parent_token_id"`
}

// IssueDelegationToken handles POST /v1/delegation-tokens.
func (d *Deps) IssueDelegationToken(c *gin.Context) {
	var req issueDelegationTokenRequest
	if !bindJSON(c, &req) {
		return
	}

	issued, err := d.Tokens.Issue(c.Request.Context(), delegationtoken.IssueRequest{
		IssuerAgentID:   req.IssuerAgentID,
		SubjectAgentID:  req.SubjectAgentID,
		RequestedScopes: req.Scopes,
		RequestedTTL:    time.Duration(req.TTLSeconds) * time.Second,
		ParentTokenID:   req.ParentTokenID,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"token_id": issued.Token.TokenID,
		"wire":     issued.Wire,
		"scopes":   issued.Token.DelegatedScopes,
		"expires_at": issued.Token.ExpiresAt,
		"chain_depth": issued.Token.ChainDepth,
	})
}

type verifyDelegationTokenRequest struct {
	Wire string `json:"wire" binding:"required"`
}

// VerifyDelegationToken handles POST /v1/delegation-tokens/verify.
func (d *Deps) VerifyDelegationToken(c *gin.Context) {
	var req verifyDelegationTokenRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := d.Tokens.Verify(c.Request.Context(), req.Wire)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RevokeDelegationToken handles POST /v1/delegation-tokens/:token_id/revoke.
func (d *Deps) RevokeDelegationToken(c *gin.Context) {
	count, err := d.Tokens.Revoke(c.Request.Context(), c.Param("token_id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked_count": count})
}
