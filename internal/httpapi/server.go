package httpapi

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agenthub/aicp/internal/apierrors"
)

// NewRouter assembles the full middleware chain and registers every route.
func NewRouter(d *Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(Tracing())
	r.Use(RequestID())
	r.Use(Logger(d.Logger))
	r.Use(corsMiddleware(d))
	r.Use(d.RateLimit())
	r.Use(d.AuthResolution())
	r.Use(d.TenantCheck())
	r.Use(d.Idempotency())
	r.Use(d.Timeout())

	r.GET("/healthz", d.Health)
	r.GET("/v1/status", d.Status)
	metricsHandler := gin.WrapH(promhttp.HandlerFor(d.Metrics.Registerer, promhttp.HandlerOpts{}))
	r.GET("/metrics", func(c *gin.Context) {
		state, _ := d.Breaker.Evaluate()
		d.Metrics.RecordBreakerState(state)
		metricsHandler(c)
	})

	v1 := r.Group("/v1")
	{
		v1.POST("/identities", d.RegisterIdentity)
		v1.GET("/identities/:agent_id", d.GetIdentity)
		v1.PATCH("/identities/:agent_id/status", d.UpdateIdentityStatus)
		v1.POST("/identities/:agent_id/credentials", d.IssueCredential)
		v1.POST("/identities/:agent_id/attestations", d.IssueAttestation)
		v1.GET("/attestations/:attestation_id/verify", d.VerifyAttestation)

		v1.POST("/credentials/:credential_id/rotate", d.RotateCredential)
		v1.POST("/credentials/:credential_id/revoke", d.RevokeCredential)

		v1.POST("/delegation-tokens", d.IssueDelegationToken)
		v1.POST("/delegation-tokens/verify", d.VerifyDelegationToken)
		v1.POST("/delegation-tokens/:token_id/revoke", d.RevokeDelegationToken)

		v1.POST("/agents/:agent_id/revoke", d.RevokeAgent)

		v1.POST("/delegations", d.ExecuteDelegation)
		v1.GET("/delegations/recent", d.ListRecentDelegations)

		v1.POST("/leases", d.CreateLease)
		v1.POST("/leases/:lease_id/promote", d.PromoteLease)
		v1.POST("/installs/:install_id/rollback", d.RollbackInstall)

		v1.PUT("/quotas/:agent_id", d.SetQuota)
		v1.POST("/quotas/:agent_id/check", d.CheckQuota)
		v1.POST("/quotas/:agent_id/ip-rules", d.AddIPRule)
		v1.GET("/quotas/:agent_id/ip-check", d.CheckIP)
		v1.POST("/quotas/:agent_id/narrowed-tokens", d.IssueNarrowedToken)
		v1.GET("/narrowed-tokens/:token_id", d.ValidateNarrowedToken)

		v1.POST("/sandboxes/:sandbox_id/jit-credentials", d.IssueJITCredential)
		v1.POST("/sandboxes/:sandbox_id/revoke", d.RevokeSandboxCredentials)

		admin := v1.Group("/admin")
		{
			admin.POST("/agents/bulk-revoke", d.BulkRevokeAgents)
			admin.POST("/domains", d.RegisterTrustedDomain)
			admin.POST("/domains/:domain/revoke", d.RevokeTrustedDomain)
		}
		v1.GET("/diagnostics", d.Diagnostics)
	}

	r.NoRoute(func(c *gin.Context) {
		status, envelope := apierrors.ToEnvelope(apierrors.New(apierrors.NotFound, "route not found"))
		c.JSON(status, envelope)
	})

	return r
}

func corsMiddleware(d *Deps) gin.HandlerFunc {
	origins := d.Config.GetString("cors.origins")
	cfg := cors.DefaultConfig()
	if origins == "" || origins == "*" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = strings.Split(origins, ",")
	}
	cfg.AllowHeaders = append(cfg.AllowHeaders, "X-API-Key", "X-Delegation-Token", "X-Tenant-ID", "Idempotency-Key", "X-Request-ID")
	cfg.AllowCredentials = !cfg.AllowAllOrigins
	return cors.New(cfg)
}
