package httpapi

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/agenthub/aicp/internal/breaker"
	"github.com/agenthub/aicp/internal/budget"
	"github.com/agenthub/aicp/internal/config"
	"github.com/agenthub/aicp/internal/credential"
	"github.com/agenthub/aicp/internal/delegation"
	"github.com/agenthub/aicp/internal/delegationtoken"
	"github.com/agenthub/aicp/internal/idempotency"
	"github.com/agenthub/aicp/internal/identity"
	"github.com/agenthub/aicp/internal/lease"
	"github.com/agenthub/aicp/internal/metrics"
	"github.com/agenthub/aicp/internal/quota"
	"github.com/agenthub/aicp/internal/revocation"
	"github.com/agenthub/aicp/internal/secrets"
)

// Deps bundles every collaborator the router and middleware chain needs.
type Deps struct {
	Config     *viper.Viper
	Logger     *logrus.Logger
	Secrets    secrets.Provider
	Identity   *identity.Store
	Attestations *identity.AttestationService
	Credential *credential.Service
	Tokens     *delegationtoken.Service
	Revocation *revocation.Orchestrator
	Budget     *budget.Ledger
	Breaker    *breaker.Dashboard
	Delegation *delegation.Orchestrator
	DelegationRecords *delegation.RecordStore
	Lease      *lease.Store
	Quota      *quota.Store
	Idempotent *idempotency.Store
	Metrics    *metrics.Registry

	ownerAPIKeys         map[string]string
	ownerTenants         map[string][]string
	federationDomainTokens map[string]string
	mode                 config.Mode
	rateLimit            *tokenBucket
	idempotencyOptOut    map[string]bool
}

// NewDeps resolves configuration-derived lookups once at startup.
func NewDeps(cfg *viper.Viper, log *logrus.Logger) (*Deps, error) {
	apiKeys, err := config.OwnerAPIKeys(cfg)
	if err != nil {
		return nil, err
	}
	ownerTenants, err := config.OwnerTenants(cfg)
	if err != nil {
		return nil, err
	}
	federationTokens, err := config.FederationDomainTokens(cfg)
	if err != nil {
		return nil, err
	}

	return &Deps{
		Config:                 cfg,
		Logger:                 log,
		ownerAPIKeys:           apiKeys,
		ownerTenants:           ownerTenants,
		federationDomainTokens: federationTokens,
		mode:                   config.EnforcementMode(cfg),
		rateLimit:              newTokenBucket(cfg.GetInt("rate_limit.default")),
		idempotencyOptOut:      map[string]bool{},
	}, nil
}
