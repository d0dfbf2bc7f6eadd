package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type registerDomainRequest struct {
	Domain string `json:"domain" binding:"required"`
}

// RegisterTrustedDomain handles POST /v1/admin/domains.
func (d *Deps) RegisterTrustedDomain(c *gin.Context) {
	var req registerDomainRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := d.Identity.RegisterTrustedDomain(c.Request.Context(), req.Domain); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RevokeTrustedDomain handles POST /v1/admin/domains/:domain/revoke.
func (d *Deps) RevokeTrustedDomain(c *gin.Context) {
	if err := d.Identity.RevokeTrustedDomain(c.Request.Context(), c.Param("domain")); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type issueAttestationRequest struct {
	Domain     string `json:"domain" binding:"required"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// IssueAttestation handles POST /v1/identities/:agent_id/attestations.
func (d *Deps) IssueAttestation(c *gin.Context) {
	var req issueAttestationRequest
	if !bindJSON(c, &req) {
		return
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second

	att, err := d.Attestations.Issue(c.Request.Context(), c.Param("agent_id"), req.Domain, ttl)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, att)
}

// VerifyAttestation handles GET /v1/attestations/:attestation_id/verify.
func (d *Deps) VerifyAttestation(c *gin.Context) {
	result, err := d.Attestations.Verify(c.Request.Context(), c.Param("attestation_id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
