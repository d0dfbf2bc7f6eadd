package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agenthub/aicp/internal/lease"
)

type createLeaseRequest struct {
	Requester  string `json:"requester" binding:"required"`
	Capability string `json:"capability" binding:"required"`
	TTLSeconds int    `json:"ttl_seconds" binding:"required"`
}

// CreateLease handles POST /v1/leases.
func (d *Deps) CreateLease(c *gin.Context) {
	var req createLeaseRequest
	if !bindJSON(c, &req) {
		return
	}
	auth := authState(c)

	l, err := d.Lease.CreateLease(c.Request.Context(), auth.Owner, req.Requester, req.Capability,
		time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, l)
}

type promoteLeaseRequest struct {
	PolicyApproved        bool   `json:"policy_approved"`
	ApprovalTicket        string `json:"approval_ticket"`
	CompatibilityVerified bool   `json:"compatibility_verified"`
	AttestationHash       string `json:"attestation_hash" binding:"required"`
	Signature             string `json:"signature" binding:"required"`
}

// PromoteLease handles POST /v1/leases/:lease_id/promote.
func (d *Deps) PromoteLease(c *gin.Context) {
	var req promoteLeaseRequest
	if !bindJSON(c, &req) {
		return
	}
	auth := authState(c)

	install, err := d.Lease.PromoteLease(c.Request.Context(), lease.PromoteRequest{
		LeaseID:               c.Param("lease_id"),
		CallerOwner:           auth.Owner,
		PolicyApproved:        req.PolicyApproved,
		ApprovalTicket:        req.ApprovalTicket,
		CompatibilityVerified: req.CompatibilityVerified,
		AttestationHash:       req.AttestationHash,
		Signature:             req.Signature,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, install)
}

type rollbackInstallRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// RollbackInstall handles POST /v1/installs/:install_id/rollback.
func (d *Deps) RollbackInstall(c *gin.Context) {
	var req rollbackInstallRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := d.Lease.RollbackInstall(c.Request.Context(), c.Param("install_id"), req.Reason); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
