package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agenthub/aicp/internal/apierrors"
	"github.com/agenthub/aicp/internal/identity"
)

type registerIdentityRequest struct {
	AgentID               string  `json:"agent_id" binding:"required"`
	CredentialType        string  `json:"credential_type" binding:"required"`
	HumanPrincipalID      *string `json:"human_principal_id"`
	ConfigurationChecksum *string `json:"configuration_checksum"`
	PublicKeyPEM          *string `json:"public_key_pem"`
}

// RegisterIdentity handles POST /v1/identities.
func (d *Deps) RegisterIdentity(c *gin.Context) {
	var req registerIdentityRequest
	if !bindJSON(c, &req) {
		return
	}
	auth := authState(c)

	id, err := d.Identity.RegisterIdentity(c.Request.Context(), identity.AgentIdentity{
		AgentID:               req.AgentID,
		Owner:                 auth.Owner,
		CredentialType:        identity.CredentialType(req.CredentialType),
		HumanPrincipalID:      req.HumanPrincipalID,
		ConfigurationChecksum: req.ConfigurationChecksum,
		PublicKeyPEM:          req.PublicKeyPEM,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, id)
}

// GetIdentity handles GET /v1/identities/:agent_id.
func (d *Deps) GetIdentity(c *gin.Context) {
	id, err := d.Identity.GetIdentity(c.Request.Context(), c.Param("agent_id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, id)
}

type updateIdentityStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateIdentityStatus handles PATCH /v1/identities/:agent_id/status.
func (d *Deps) UpdateIdentityStatus(c *gin.Context) {
	var req updateIdentityStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := d.Identity.UpdateStatus(c.Request.Context(), c.Param("agent_id"), identity.IdentityStatus(req.Status)); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type issueCredentialRequest struct {
	Scopes    []string `json:"scopes" binding:"required"`
	TTLSeconds int     `json:"ttl_seconds"`
}

type issueCredentialResponse struct {
	Credential *identity.AgentCredential `json:"credential"`
	Secret     string                    `json:"secret"`
}

// IssueCredential handles POST /v1/identities/:agent_id/credentials.
func (d *Deps) IssueCredential(c *gin.Context) {
	var req issueCredentialRequest
	if !bindJSON(c, &req) {
		return
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second

	result, err := d.Credential.Issue(c.Request.Context(), c.Param("agent_id"), req.Scopes, ttl)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, issueCredentialResponse{Credential: result.Credential, Secret: result.Secret})
}

type rotateCredentialRequest struct {
	Scopes     []string `json:"scopes" binding:"required"`
	TTLSeconds int      `json:"ttl_seconds"`
}

// RotateCredential handles POST /v1/credentials/:credential_id/rotate.
func (d *Deps) RotateCredential(c *gin.Context) {
	var req rotateCredentialRequest
	if !bindJSON(c, &req) {
		return
	}
	agentID := c.Query("agent_id")
	if agentID == "" {
		respondErr(c, apierrors.New(apierrors.InvalidArgument, "agent_id query parameter required"))
		return
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second

	result, err := d.Credential.Rotate(c.Request.Context(), agentID, c.Param("credential_id"), req.Scopes, ttl)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, issueCredentialResponse{Credential: result.Credential, Secret: result.Secret})
}

type revokeCredentialRequest struct {
	Reason string `json:"reason"`
}

// RevokeCredential handles POST /v1/credentials/:credential_id/revoke.
func (d *Deps) RevokeCredential(c *gin.Context) {
	var req revokeCredentialRequest
	_ = c.ShouldBindJSON(&req)
	if err := d.Credential.Revoke(c.Request.Context(), c.Param("credential_id"), req.Reason); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
