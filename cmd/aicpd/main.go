// Command aicpd runs the Agent Identity & Authorization Control Plane API.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agenthub/aicp/internal/breaker"
	"github.com/agenthub/aicp/internal/budget"
	"github.com/agenthub/aicp/internal/config"
	"github.com/agenthub/aicp/internal/credential"
	"github.com/agenthub/aicp/internal/delegation"
	"github.com/agenthub/aicp/internal/delegationtoken"
	"github.com/agenthub/aicp/internal/diagnostics"
	"github.com/agenthub/aicp/internal/httpapi"
	"github.com/agenthub/aicp/internal/idempotency"
	"github.com/agenthub/aicp/internal/identity"
	"github.com/agenthub/aicp/internal/lease"
	"github.com/agenthub/aicp/internal/logging"
	"github.com/agenthub/aicp/internal/metrics"
	"github.com/agenthub/aicp/internal/quota"
	"github.com/agenthub/aicp/internal/revocation"
	"github.com/agenthub/aicp/internal/secrets"
	"github.com/agenthub/aicp/internal/tracing"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg)

	if config.EnforcementMode(cfg) == config.ModeEnforce {
		dataPaths := []string{
			cfg.GetString("identity.db_path"),
			cfg.GetString("delegation.db_path"),
			cfg.GetString("idempotency.db_path"),
			cfg.GetString("lease.db_path"),
			cfg.GetString("quota.db_path"),
		}
		report := diagnostics.Evaluate(diagnostics.FromProcess(), dataPaths)
		if !report.StartupReady {
			logger.WithField("checks", report.Checks).Fatal("startup readiness check failed in enforce mode, refusing to serve")
		}
	}

	secretProvider, err := secrets.FromConfig(cfg)
	if err != nil {
		logger.Fatalf("failed to resolve secret provider: %v", err)
	}

	identityStore, err := identity.Open(cfg.GetString("identity.db_path"))
	if err != nil {
		logger.Fatalf("failed to open identity store: %v", err)
	}
	ledger, err := budget.OpenLedger(cfg.GetString("delegation.db_path")+".ledger", cfg.GetFloat64("budget.seed_balance"))
	if err != nil {
		logger.Fatalf("failed to open budget ledger: %v", err)
	}
	delegationRecords, err := delegation.OpenRecordStore(cfg.GetString("delegation.db_path"))
	if err != nil {
		logger.Fatalf("failed to open delegation record store: %v", err)
	}
	leaseStore, err := lease.Open(cfg.GetString("lease.db_path"))
	if err != nil {
		logger.Fatalf("failed to open lease store: %v", err)
	}
	quotaStore, err := quota.Open(cfg.GetString("quota.db_path"))
	if err != nil {
		logger.Fatalf("failed to open quota store: %v", err)
	}
	idempotencyStore, err := idempotency.Open(cfg.GetString("idempotency.db_path"))
	if err != nil {
		logger.Fatalf("failed to open idempotency store: %v", err)
	}

	credentialSvc := credential.NewService(identityStore, secretProvider)
	tokenSvc := delegationtoken.NewService(identityStore, secretProvider)
	attestationSvc := identity.NewAttestationService(identityStore, secretProvider)
	revocationOrch := revocation.NewOrchestrator(identityStore, leaseStore, logger)
	dashboard := breaker.NewDashboard(
		cfg.GetInt("breaker.window_size"),
		cfg.GetInt("breaker.min_samples"),
		cfg.GetDuration("breaker.slo"),
		cfg.GetFloat64("breaker.target_slo"),
	)

	metricsRegistry := metrics.New()
	delegationOrch := delegation.NewOrchestrator(identityStore, ledger, dashboard, delegationRecords,
		delegation.WithTokenService(tokenSvc),
		delegation.WithMetrics(metricsRegistry),
	)

	tracerShutdown, err := tracing.Setup("aicp", os.Stderr)
	if err != nil {
		logger.Fatalf("failed to set up tracing: %v", err)
	}
	defer tracerShutdown(context.Background())

	deps, err := httpapi.NewDeps(cfg, logger)
	if err != nil {
		logger.Fatalf("failed to build dependencies: %v", err)
	}
	deps.Secrets = secretProvider
	deps.Identity = identityStore
	deps.Attestations = attestationSvc
	deps.Credential = credentialSvc
	deps.Tokens = tokenSvc
	deps.Revocation = revocationOrch
	deps.Budget = ledger
	deps.Breaker = dashboard
	deps.Delegation = delegationOrch
	deps.DelegationRecords = delegationRecords
	deps.Lease = leaseStore
	deps.Quota = quotaStore
	deps.Idempotent = idempotencyStore
	deps.Metrics = metricsRegistry

	if cfg.GetString("server.mode") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpapi.NewRouter(deps)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.GetInt("server.port")),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("failed to start server: %v", err)
		}
	}()
	logger.Infof("aicpd listening on port %d", cfg.GetInt("server.port"))

	quitCh := make(chan os.Signal, 1)
	signal.Notify(quitCh, syscall.SIGINT, syscall.SIGTERM)
	<-quitCh

	logger.Info("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Fatalf("server forced to shutdown: %v", err)
	}

	for _, closer := range []interface {
		Close() error
	}{identityStore, ledger, delegationRecords, leaseStore, quotaStore, idempotencyStore} {
		if err := closer.Close(); err != nil {
			logger.WithError(err).Warn("error closing store")
		}
	}

	logger.Info("server exited")
}
