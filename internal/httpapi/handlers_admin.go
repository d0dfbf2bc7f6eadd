package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agenthub/aicp/internal/diagnostics"
)

// Diagnostics handles GET /v1/diagnostics, the admin-only startup
// readiness probe re-run on demand against the live process environment.
func (d *Deps) Diagnostics(c *gin.Context) {
	report := diagnostics.Evaluate(diagnostics.FromProcess(), d.dataPaths())
	status := http.StatusOK
	if !report.StartupReady {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

func (d *Deps) dataPaths() []string {
	return []string{
		d.Config.GetString("identity.db_path"),
		d.Config.GetString("delegation.db_path"),
		d.Config.GetString("idempotency.db_path"),
		d.Config.GetString("lease.db_path"),
		d.Config.GetString("quota.db_path"),
	}
}

// Health handles GET /healthz.
func (d *Deps) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status handles GET /v1/status — the circuit breaker's current posture,
// public so downstream callers can back off without authenticating.
func (d *Deps) Status(c *gin.Context) {
	state, metrics := d.Breaker.Evaluate()
	c.JSON(http.StatusOK, gin.H{"breaker_state": state, "metrics": metrics})
}
